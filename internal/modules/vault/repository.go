package vault

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/calder-hwy/poolhouse/internal/domain"
)

// Repository handles vault database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new vault repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "vault").Logger(),
	}
}

// Apply persists a mutation in a single transaction
func (r *Repository) Apply(m Mutation) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin vault mutation: %w", err)
	}
	defer tx.Rollback()

	if err := r.saveState(tx, m.State); err != nil {
		return err
	}

	for account, shares := range m.Shares {
		if err := r.upsertShares(tx, m.State.Bucket, account, shares); err != nil {
			return err
		}
	}

	if m.Allocations != nil {
		if err := r.replaceAllocations(tx, m.State.Bucket, m.Allocations); err != nil {
			return err
		}
	}

	if m.Harvest != nil {
		if err := r.insertHarvest(tx, *m.Harvest); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit vault mutation: %w", err)
	}
	return nil
}

func (r *Repository) saveState(tx *sql.Tx, s State) error {
	_, err := tx.Exec(`
		INSERT INTO vault_state
			(bucket, total_shares, idle_balance, fee_rate_bps, fee_recipient, last_harvest, harvest_interval_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket) DO UPDATE SET
			total_shares = excluded.total_shares,
			idle_balance = excluded.idle_balance,
			fee_rate_bps = excluded.fee_rate_bps,
			fee_recipient = excluded.fee_recipient,
			last_harvest = excluded.last_harvest,
			harvest_interval_seconds = excluded.harvest_interval_seconds
	`, s.Bucket, s.TotalShares, s.IdleBalance, s.FeeRateBps, s.FeeRecipient,
		s.LastHarvest.Unix(), int64(s.HarvestInterval.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to save vault state: %w", err)
	}
	return nil
}

func (r *Repository) upsertShares(tx *sql.Tx, bucket, account string, shares int64) error {
	if shares == 0 {
		_, err := tx.Exec("DELETE FROM vault_shares WHERE bucket = ? AND account = ?", bucket, account)
		if err != nil {
			return fmt.Errorf("failed to delete empty share row: %w", err)
		}
		return nil
	}

	_, err := tx.Exec(`
		INSERT INTO vault_shares (bucket, account, shares)
		VALUES (?, ?, ?)
		ON CONFLICT(bucket, account) DO UPDATE SET shares = excluded.shares
	`, bucket, account, shares)
	if err != nil {
		return fmt.Errorf("failed to upsert shares: %w", err)
	}
	return nil
}

func (r *Repository) replaceAllocations(tx *sql.Tx, bucket string, allocs []domain.Allocation) error {
	if _, err := tx.Exec("DELETE FROM vault_allocations WHERE bucket = ?", bucket); err != nil {
		return fmt.Errorf("failed to clear allocations: %w", err)
	}

	for i, a := range allocs {
		_, err := tx.Exec(`
			INSERT INTO vault_allocations (bucket, strategy_id, weight_bps, position)
			VALUES (?, ?, ?, ?)
		`, bucket, a.StrategyID, a.WeightBps, i)
		if err != nil {
			return fmt.Errorf("failed to insert allocation: %w", err)
		}
	}
	return nil
}

// LoadAllocations returns the persisted weights for a bucket in
// declaration order, or nil if none are stored.
func (r *Repository) LoadAllocations(bucket string) ([]domain.Allocation, error) {
	rows, err := r.db.Query(`
		SELECT strategy_id, weight_bps FROM vault_allocations
		WHERE bucket = ? ORDER BY position ASC
	`, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocs []domain.Allocation
	for rows.Next() {
		var a domain.Allocation
		if err := rows.Scan(&a.StrategyID, &a.WeightBps); err != nil {
			return nil, fmt.Errorf("failed to scan allocation row: %w", err)
		}
		allocs = append(allocs, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocation rows: %w", err)
	}
	return allocs, nil
}

func (r *Repository) insertHarvest(tx *sql.Tx, h HarvestRecord) error {
	breakdown, err := msgpack.Marshal(h.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to encode harvest breakdown: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO vault_harvests (bucket, harvested_at, gross, fee, reinvested, breakdown)
		VALUES (?, ?, ?, ?, ?, ?)
	`, h.Bucket, h.HarvestedAt.Unix(), h.Gross, h.Fee, h.Reinvested, breakdown)
	if err != nil {
		return fmt.Errorf("failed to insert harvest record: %w", err)
	}
	return nil
}

// LoadState returns the persisted state for a bucket, or nil if the
// bucket has never been saved.
func (r *Repository) LoadState(bucket string) (*State, error) {
	var s State
	var lastHarvest, intervalSeconds int64

	err := r.db.QueryRow(`
		SELECT bucket, total_shares, idle_balance, fee_rate_bps, fee_recipient, last_harvest, harvest_interval_seconds
		FROM vault_state WHERE bucket = ?
	`, bucket).Scan(&s.Bucket, &s.TotalShares, &s.IdleBalance, &s.FeeRateBps,
		&s.FeeRecipient, &lastHarvest, &intervalSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load vault state: %w", err)
	}

	s.LastHarvest = time.Unix(lastHarvest, 0).UTC()
	s.HarvestInterval = time.Duration(intervalSeconds) * time.Second
	return &s, nil
}

// LoadShares returns all share balances for a bucket
func (r *Repository) LoadShares(bucket string) (map[string]int64, error) {
	rows, err := r.db.Query("SELECT account, shares FROM vault_shares WHERE bucket = ?", bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer rows.Close()

	shares := make(map[string]int64)
	for rows.Next() {
		var account string
		var balance int64
		if err := rows.Scan(&account, &balance); err != nil {
			return nil, fmt.Errorf("failed to scan share row: %w", err)
		}
		shares[account] = balance
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating share rows: %w", err)
	}
	return shares, nil
}

// RecentHarvests returns up to limit harvest records, newest first
func (r *Repository) RecentHarvests(bucket string, limit int) ([]HarvestRecord, error) {
	rows, err := r.db.Query(`
		SELECT bucket, harvested_at, gross, fee, reinvested, breakdown
		FROM vault_harvests
		WHERE bucket = ?
		ORDER BY harvested_at DESC
		LIMIT ?
	`, bucket, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query harvests: %w", err)
	}
	defer rows.Close()

	var records []HarvestRecord
	for rows.Next() {
		var h HarvestRecord
		var harvestedAt int64
		var breakdown []byte

		if err := rows.Scan(&h.Bucket, &harvestedAt, &h.Gross, &h.Fee, &h.Reinvested, &breakdown); err != nil {
			return nil, fmt.Errorf("failed to scan harvest row: %w", err)
		}
		h.HarvestedAt = time.Unix(harvestedAt, 0).UTC()

		if len(breakdown) > 0 {
			if err := msgpack.Unmarshal(breakdown, &h.Breakdown); err != nil {
				return nil, fmt.Errorf("failed to decode harvest breakdown: %w", err)
			}
		}
		records = append(records, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating harvest rows: %w", err)
	}
	return records, nil
}
