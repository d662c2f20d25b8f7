package router

import "time"

// State is the durable per-bucket bookkeeping of the batch queue,
// excluding per-participant pending rows.
type State struct {
	Bucket                     string
	TotalPendingDeposit        int64
	TotalPendingWithdrawShares int64
	LastBatch                  time.Time
	BatchInterval              time.Duration
	MinimumDeposit             int64
}

// PendingKind distinguishes the two request queues
type PendingKind string

const (
	KindDeposit  PendingKind = "deposit"
	KindWithdraw PendingKind = "withdraw"
)

// PendingRow is one participant's pending entry as persisted. Amount 0
// deletes the row.
type PendingRow struct {
	Participant string
	Kind        PendingKind
	Amount      int64
	Position    int
}

// Mutation is the set of durable changes one queue operation produced,
// applied in a single transaction. ClearKind deletes every pending row of
// that kind before Pending rows are applied.
type Mutation struct {
	State     State
	Pending   []PendingRow
	ClearKind *PendingKind
}

// FlushResult reports how one flush settled.
type FlushResult struct {
	FlushID      string           `json:"flush_id"`
	Kind         PendingKind      `json:"kind"`
	Participants int              `json:"participants"`
	TotalIn      int64            `json:"total_in"`
	TotalOut     int64            `json:"total_out"`
	Dust         int64            `json:"dust"`
	Apportioned  map[string]int64 `json:"apportioned"`
}

// Status is the participant-facing view of a bucket's queue.
type Status struct {
	Bucket                     string    `json:"bucket"`
	TotalPendingDeposit        int64     `json:"total_pending_deposit"`
	TotalPendingWithdrawShares int64     `json:"total_pending_withdraw_shares"`
	BatchReady                 bool      `json:"batch_ready"`
	NextBatchTime              time.Time `json:"next_batch_time"`
	MinimumDeposit             int64     `json:"minimum_deposit"`
}
