package router

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles batch queue database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new router repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "router").Logger(),
	}
}

// Apply persists a mutation in a single transaction
func (r *Repository) Apply(m Mutation) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin router mutation: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO router_state
			(bucket, total_pending_deposit, total_pending_withdraw_shares, last_batch, batch_interval_seconds, minimum_deposit)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket) DO UPDATE SET
			total_pending_deposit = excluded.total_pending_deposit,
			total_pending_withdraw_shares = excluded.total_pending_withdraw_shares,
			last_batch = excluded.last_batch,
			batch_interval_seconds = excluded.batch_interval_seconds,
			minimum_deposit = excluded.minimum_deposit
	`, m.State.Bucket, m.State.TotalPendingDeposit, m.State.TotalPendingWithdrawShares,
		m.State.LastBatch.Unix(), int64(m.State.BatchInterval.Seconds()), m.State.MinimumDeposit)
	if err != nil {
		return fmt.Errorf("failed to save router state: %w", err)
	}

	if m.ClearKind != nil {
		_, err = tx.Exec(`
			DELETE FROM router_pending WHERE bucket = ? AND kind = ?
		`, m.State.Bucket, *m.ClearKind)
		if err != nil {
			return fmt.Errorf("failed to clear pending rows: %w", err)
		}
	}

	for _, row := range m.Pending {
		if row.Amount == 0 {
			_, err = tx.Exec(`
				DELETE FROM router_pending WHERE bucket = ? AND participant = ? AND kind = ?
			`, m.State.Bucket, row.Participant, row.Kind)
			if err != nil {
				return fmt.Errorf("failed to delete pending row: %w", err)
			}
			continue
		}

		_, err = tx.Exec(`
			INSERT INTO router_pending (bucket, participant, kind, amount, position)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(bucket, participant, kind) DO UPDATE SET amount = excluded.amount
		`, m.State.Bucket, row.Participant, row.Kind, row.Amount, row.Position)
		if err != nil {
			return fmt.Errorf("failed to upsert pending row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit router mutation: %w", err)
	}
	return nil
}

// LoadState returns the persisted state for a bucket, or nil if the
// bucket has never been saved.
func (r *Repository) LoadState(bucket string) (*State, error) {
	var s State
	var lastBatch, intervalSeconds int64

	err := r.db.QueryRow(`
		SELECT bucket, total_pending_deposit, total_pending_withdraw_shares, last_batch, batch_interval_seconds, minimum_deposit
		FROM router_state WHERE bucket = ?
	`, bucket).Scan(&s.Bucket, &s.TotalPendingDeposit, &s.TotalPendingWithdrawShares,
		&lastBatch, &intervalSeconds, &s.MinimumDeposit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load router state: %w", err)
	}

	s.LastBatch = time.Unix(lastBatch, 0).UTC()
	s.BatchInterval = time.Duration(intervalSeconds) * time.Second
	return &s, nil
}

// LoadPending returns pending rows of one kind in roster order
func (r *Repository) LoadPending(bucket string, kind PendingKind) ([]PendingRow, error) {
	rows, err := r.db.Query(`
		SELECT participant, amount, position FROM router_pending
		WHERE bucket = ? AND kind = ?
		ORDER BY position ASC
	`, bucket, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending rows: %w", err)
	}
	defer rows.Close()

	var pending []PendingRow
	for rows.Next() {
		row := PendingRow{Kind: kind}
		if err := rows.Scan(&row.Participant, &row.Amount, &row.Position); err != nil {
			return nil, fmt.Errorf("failed to scan pending row: %w", err)
		}
		pending = append(pending, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending rows: %w", err)
	}
	return pending, nil
}
