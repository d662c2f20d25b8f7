package vault

import (
	"time"

	"github.com/calder-hwy/poolhouse/internal/domain"
)

// State is the durable bookkeeping of one vault, excluding per-account
// share rows.
type State struct {
	Bucket          string
	TotalShares     int64
	IdleBalance     int64
	FeeRateBps      int64
	FeeRecipient    string
	LastHarvest     time.Time
	HarvestInterval time.Duration
}

// HarvestRecord is one row of harvest history. Breakdown maps strategy id
// to the amount that strategy contributed.
type HarvestRecord struct {
	Bucket      string
	HarvestedAt time.Time
	Gross       int64
	Fee         int64
	Reinvested  int64
	Breakdown   map[string]int64
}

// Snapshot is the read-only view of a vault returned by the API.
type Snapshot struct {
	Bucket      string              `json:"bucket"`
	TotalShares int64               `json:"total_shares"`
	TotalAssets int64               `json:"total_assets"`
	IdleBalance int64               `json:"idle_balance"`
	SharePrice  float64             `json:"share_price"`
	FeeRateBps  int64               `json:"fee_rate_bps"`
	LastHarvest time.Time           `json:"last_harvest"`
	NextHarvest time.Time           `json:"next_harvest"`
	Allocations []domain.Allocation `json:"allocations"`
}

// Mutation is the set of durable changes one vault operation produced.
// The repository applies it in a single transaction.
type Mutation struct {
	State       State
	Shares      map[string]int64    // touched accounts, absolute values
	Allocations []domain.Allocation // nil means unchanged
	Harvest     *HarvestRecord      // optional history row
}
