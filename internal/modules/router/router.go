// Package router implements the batch queue: it accumulates participant
// deposit and withdrawal requests per bucket and flushes each aggregate
// into the vault as a single operation, apportioning the result back to
// the individual participants.
package router

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/calder-hwy/poolhouse/internal/domain"
	"github.com/calder-hwy/poolhouse/internal/events"
	"github.com/calder-hwy/poolhouse/internal/modules/ledger"
	"github.com/calder-hwy/poolhouse/internal/modules/vault"
)

// Queue aggregates requests for one bucket. A single execution lock
// covers every operation end to end; apportionment always works from a
// snapshot taken before any clearing begins.
type Queue struct {
	mu sync.Mutex

	state State

	pendingDeposit  map[string]int64
	pendingWithdraw map[string]int64
	depositRoster   []string
	withdrawRoster  []string

	custodyAccount string

	vault  *vault.Vault
	ledger *ledger.Ledger
	repo   *Repository
	bus    *events.Bus
	log    zerolog.Logger
	now    func() time.Time
}

// Config wires a queue's collaborators and initial policy
type Config struct {
	Bucket         string
	BatchInterval  time.Duration
	MinimumDeposit int64
	Vault          *vault.Vault
	Ledger         *ledger.Ledger
	Repository     *Repository
	Bus            *events.Bus
	Log            zerolog.Logger
}

// CustodyAccount returns the ledger/share account holding a bucket
// queue's custody.
func CustodyAccount(bucket string) string {
	return "queue:" + bucket
}

// New creates a queue, restoring any persisted state for the bucket
func New(cfg Config) (*Queue, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.BatchInterval <= 0 {
		return nil, fmt.Errorf("batch interval must be positive")
	}
	if cfg.MinimumDeposit <= 0 {
		return nil, fmt.Errorf("minimum deposit must be positive")
	}

	q := &Queue{
		state: State{
			Bucket:         cfg.Bucket,
			LastBatch:      time.Unix(0, 0).UTC(),
			BatchInterval:  cfg.BatchInterval,
			MinimumDeposit: cfg.MinimumDeposit,
		},
		pendingDeposit:  make(map[string]int64),
		pendingWithdraw: make(map[string]int64),
		custodyAccount:  CustodyAccount(cfg.Bucket),
		vault:           cfg.Vault,
		ledger:          cfg.Ledger,
		repo:            cfg.Repository,
		bus:             cfg.Bus,
		log:             cfg.Log.With().Str("component", "router").Str("bucket", cfg.Bucket).Logger(),
		now:             time.Now,
	}

	if err := q.restore(); err != nil {
		return nil, err
	}
	return q, nil
}

// SetClock overrides the time source (tests)
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *Queue) restore() error {
	persisted, err := q.repo.LoadState(q.state.Bucket)
	if err != nil {
		return err
	}
	if persisted == nil {
		return q.repo.Apply(Mutation{State: q.state})
	}

	deposits, err := q.repo.LoadPending(q.state.Bucket, KindDeposit)
	if err != nil {
		return err
	}
	withdrawals, err := q.repo.LoadPending(q.state.Bucket, KindWithdraw)
	if err != nil {
		return err
	}

	var depositSum, withdrawSum int64
	for _, row := range deposits {
		q.pendingDeposit[row.Participant] = row.Amount
		q.depositRoster = append(q.depositRoster, row.Participant)
		depositSum += row.Amount
	}
	for _, row := range withdrawals {
		q.pendingWithdraw[row.Participant] = row.Amount
		q.withdrawRoster = append(q.withdrawRoster, row.Participant)
		withdrawSum += row.Amount
	}

	if depositSum != persisted.TotalPendingDeposit {
		return fmt.Errorf("bucket %q: stored pending deposit total %d does not match row sum %d",
			q.state.Bucket, persisted.TotalPendingDeposit, depositSum)
	}
	if withdrawSum != persisted.TotalPendingWithdrawShares {
		return fmt.Errorf("bucket %q: stored pending withdraw total %d does not match row sum %d",
			q.state.Bucket, persisted.TotalPendingWithdrawShares, withdrawSum)
	}

	q.state = *persisted
	q.log.Info().
		Int("pending_deposits", len(deposits)).
		Int("pending_withdrawals", len(withdrawals)).
		Msg("Restored queue state")
	return nil
}

// EnqueueDeposit takes amount from the participant into queue custody and
// records it for the next deposit batch. Custody transfer and bookkeeping
// are all-or-nothing.
func (q *Queue) EnqueueDeposit(participant string, amount int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if amount < q.state.MinimumDeposit {
		return fmt.Errorf("deposit of %d below minimum %d: %w",
			amount, q.state.MinimumDeposit, domain.ErrInvalidAmount)
	}

	// The value is held, not merely promised.
	if err := q.ledger.Transfer(participant, q.custodyAccount, amount); err != nil {
		return err
	}

	prevPending, wasPresent := q.pendingDeposit[participant]
	q.pendingDeposit[participant] = prevPending + amount
	if !wasPresent {
		q.depositRoster = append(q.depositRoster, participant)
	}
	q.state.TotalPendingDeposit += amount

	if err := q.repo.Apply(Mutation{
		State: q.state,
		Pending: []PendingRow{{
			Participant: participant,
			Kind:        KindDeposit,
			Amount:      q.pendingDeposit[participant],
			Position:    q.rosterPosition(q.depositRoster, participant),
		}},
	}); err != nil {
		// Undo custody and bookkeeping so the call is all-or-nothing.
		q.state.TotalPendingDeposit -= amount
		if wasPresent {
			q.pendingDeposit[participant] = prevPending
		} else {
			delete(q.pendingDeposit, participant)
			q.depositRoster = q.depositRoster[:len(q.depositRoster)-1]
		}
		if refundErr := q.ledger.Transfer(q.custodyAccount, participant, amount); refundErr != nil {
			q.log.Error().Err(refundErr).
				Str("participant", participant).
				Int64("amount", amount).
				Msg("Failed to refund custody after enqueue failure")
		}
		return err
	}

	if q.bus != nil {
		q.bus.Publish(events.DepositQueued, q.state.Bucket, map[string]interface{}{
			"participant": participant,
			"amount":      amount,
		})
	}

	q.log.Debug().
		Str("participant", participant).
		Int64("amount", amount).
		Int64("total_pending", q.state.TotalPendingDeposit).
		Msg("Deposit queued")
	return nil
}

// EnqueueWithdraw takes shares from the participant into queue custody
// and records them for the next withdrawal batch.
func (q *Queue) EnqueueWithdraw(participant string, shares int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if shares <= 0 {
		return fmt.Errorf("withdraw of %d shares: %w", shares, domain.ErrInvalidAmount)
	}

	if err := q.vault.TransferShares(participant, q.custodyAccount, shares); err != nil {
		return err
	}

	prevPending, wasPresent := q.pendingWithdraw[participant]
	q.pendingWithdraw[participant] = prevPending + shares
	if !wasPresent {
		q.withdrawRoster = append(q.withdrawRoster, participant)
	}
	q.state.TotalPendingWithdrawShares += shares

	if err := q.repo.Apply(Mutation{
		State: q.state,
		Pending: []PendingRow{{
			Participant: participant,
			Kind:        KindWithdraw,
			Amount:      q.pendingWithdraw[participant],
			Position:    q.rosterPosition(q.withdrawRoster, participant),
		}},
	}); err != nil {
		q.state.TotalPendingWithdrawShares -= shares
		if wasPresent {
			q.pendingWithdraw[participant] = prevPending
		} else {
			delete(q.pendingWithdraw, participant)
			q.withdrawRoster = q.withdrawRoster[:len(q.withdrawRoster)-1]
		}
		if refundErr := q.vault.TransferShares(q.custodyAccount, participant, shares); refundErr != nil {
			q.log.Error().Err(refundErr).
				Str("participant", participant).
				Int64("shares", shares).
				Msg("Failed to refund share custody after enqueue failure")
		}
		return err
	}

	if q.bus != nil {
		q.bus.Publish(events.WithdrawQueued, q.state.Bucket, map[string]interface{}{
			"participant": participant,
			"shares":      shares,
		})
	}

	q.log.Debug().
		Str("participant", participant).
		Int64("shares", shares).
		Msg("Withdrawal queued")
	return nil
}

func (q *Queue) rosterPosition(roster []string, participant string) int {
	for i, p := range roster {
		if p == participant {
			return i
		}
	}
	return len(roster)
}

// IsBatchReady reports whether the batch interval has elapsed
func (q *Queue) IsBatchReady() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isReadyLocked(q.now())
}

func (q *Queue) isReadyLocked(now time.Time) bool {
	return !now.Before(q.state.LastBatch.Add(q.state.BatchInterval))
}

// NextBatchTime returns when the next flush is permitted
func (q *Queue) NextBatchTime() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.LastBatch.Add(q.state.BatchInterval)
}

// GetPendingDeposit returns the participant's queued deposit amount
func (q *Queue) GetPendingDeposit(participant string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingDeposit[participant]
}

// GetPendingWithdraw returns the participant's queued withdrawal shares
func (q *Queue) GetPendingWithdraw(participant string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingWithdraw[participant]
}

// GetStatus returns the participant-facing queue view
func (q *Queue) GetStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	return Status{
		Bucket:                     q.state.Bucket,
		TotalPendingDeposit:        q.state.TotalPendingDeposit,
		TotalPendingWithdrawShares: q.state.TotalPendingWithdrawShares,
		BatchReady:                 q.isReadyLocked(now),
		NextBatchTime:              q.state.LastBatch.Add(q.state.BatchInterval),
		MinimumDeposit:             q.state.MinimumDeposit,
	}
}

// FlushDeposits aggregates all pending deposits into one vault deposit
// and apportions the minted shares pro rata. Residual shares from
// flooring (at most rosterSize-1 units) remain owned by the queue: a
// bounded, documented dust leak, not a correctness bug.
func (q *Queue) FlushDeposits() (*FlushResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if !q.isReadyLocked(now) {
		return nil, fmt.Errorf("batch ready at %s: %w",
			q.state.LastBatch.Add(q.state.BatchInterval).Format(time.RFC3339), domain.ErrNotReady)
	}

	result, err := q.flushDepositsLocked(now)
	if err != nil {
		return nil, err
	}
	return result, q.repo.Apply(q.clearMutation(KindDeposit))
}

// FlushWithdraws aggregates all pending withdrawal shares into one vault
// redemption and apportions the returned value pro rata. Residual value
// from flooring stays with the queue, same policy as deposit flushes.
func (q *Queue) FlushWithdraws() (*FlushResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if !q.isReadyLocked(now) {
		return nil, fmt.Errorf("batch ready at %s: %w",
			q.state.LastBatch.Add(q.state.BatchInterval).Format(time.RFC3339), domain.ErrNotReady)
	}

	result, err := q.flushWithdrawsLocked(now)
	if err != nil {
		return nil, err
	}
	return result, q.repo.Apply(q.clearMutation(KindWithdraw))
}

// FlushBoth runs the deposit flush then the withdrawal flush in one
// invocation. Each half still requires its own non-empty aggregate; the
// call succeeds when at least one half settled.
func (q *Queue) FlushBoth() (*FlushResult, *FlushResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if !q.isReadyLocked(now) {
		return nil, nil, fmt.Errorf("batch ready at %s: %w",
			q.state.LastBatch.Add(q.state.BatchInterval).Format(time.RFC3339), domain.ErrNotReady)
	}

	deposits, depErr := q.flushDepositsLocked(now)
	if depErr != nil && !isNothingPending(depErr) {
		return nil, nil, depErr
	}
	if deposits != nil {
		if err := q.repo.Apply(q.clearMutation(KindDeposit)); err != nil {
			return deposits, nil, err
		}
	}

	withdrawals, wdErr := q.flushWithdrawsLocked(now)
	if wdErr != nil && !isNothingPending(wdErr) {
		return deposits, nil, wdErr
	}
	if withdrawals != nil {
		if err := q.repo.Apply(q.clearMutation(KindWithdraw)); err != nil {
			return deposits, withdrawals, err
		}
	}

	if deposits == nil && withdrawals == nil {
		return nil, nil, fmt.Errorf("no pending requests: %w", domain.ErrNothingPending)
	}
	return deposits, withdrawals, nil
}

func isNothingPending(err error) bool {
	return errors.Is(err, domain.ErrNothingPending)
}

// mulDiv returns floor(a*b/c), exact for the full int64 range
func mulDiv(a, b, c int64) int64 {
	n := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	return n.Div(n, big.NewInt(c)).Int64()
}

// flushDepositsLocked settles the deposit side. The roster and pending
// snapshot are taken before any mutation so apportionment never observes
// partially cleared state.
func (q *Queue) flushDepositsLocked(now time.Time) (*FlushResult, error) {
	total := q.state.TotalPendingDeposit
	if total == 0 {
		return nil, fmt.Errorf("no pending deposits: %w", domain.ErrNothingPending)
	}

	roster := make([]string, len(q.depositRoster))
	copy(roster, q.depositRoster)
	pending := make(map[string]int64, len(roster))
	for _, p := range roster {
		pending[p] = q.pendingDeposit[p]
	}

	// Custody leaves the queue and enters the pool.
	if err := q.ledger.Debit(q.custodyAccount, total); err != nil {
		return nil, err
	}

	minted, err := q.vault.Deposit(q.custodyAccount, total)
	if err != nil {
		if refundErr := q.ledger.Credit(q.custodyAccount, total); refundErr != nil {
			q.log.Error().Err(refundErr).Msg("Failed to restore custody after deposit failure")
		}
		return nil, err
	}

	apportioned := make(map[string]int64, len(roster))
	var distributed int64
	for _, p := range roster {
		shares := mulDiv(minted, pending[p], total)
		if shares == 0 {
			continue
		}
		if err := q.vault.TransferShares(q.custodyAccount, p, shares); err != nil {
			// Shares stay on the custody account; the participant's
			// claim is settled manually by the operator.
			q.log.Error().Err(err).
				Str("participant", p).
				Int64("shares", shares).
				Msg("Failed to settle minted shares")
			continue
		}
		apportioned[p] = shares
		distributed += shares
	}

	q.clearPendingLocked(KindDeposit)
	q.state.LastBatch = now

	result := &FlushResult{
		FlushID:      uuid.NewString(),
		Kind:         KindDeposit,
		Participants: len(roster),
		TotalIn:      total,
		TotalOut:     minted,
		Dust:         minted - distributed,
		Apportioned:  apportioned,
	}

	if q.bus != nil {
		q.bus.Publish(events.BatchFlushed, q.state.Bucket, events.BatchFlushedData{
			FlushID:      result.FlushID,
			Kind:         string(KindDeposit),
			Participants: result.Participants,
			TotalAmount:  total,
			TotalShares:  minted,
			Dust:         result.Dust,
		})
	}

	q.log.Info().
		Str("flush_id", result.FlushID).
		Int("participants", result.Participants).
		Int64("total", total).
		Int64("minted", minted).
		Int64("dust", result.Dust).
		Msg("Deposit batch flushed")
	return result, nil
}

func (q *Queue) flushWithdrawsLocked(now time.Time) (*FlushResult, error) {
	totalShares := q.state.TotalPendingWithdrawShares
	if totalShares == 0 {
		return nil, fmt.Errorf("no pending withdrawals: %w", domain.ErrNothingPending)
	}

	roster := make([]string, len(q.withdrawRoster))
	copy(roster, q.withdrawRoster)
	pending := make(map[string]int64, len(roster))
	for _, p := range roster {
		pending[p] = q.pendingWithdraw[p]
	}

	amount, err := q.vault.Redeem(q.custodyAccount, totalShares)
	if err != nil {
		return nil, err
	}

	apportioned := make(map[string]int64, len(roster))
	var distributed int64
	for _, p := range roster {
		value := mulDiv(amount, pending[p], totalShares)
		if value == 0 {
			continue
		}
		if err := q.ledger.Credit(p, value); err != nil {
			q.log.Error().Err(err).
				Str("participant", p).
				Int64("value", value).
				Msg("Failed to credit redeemed value")
			continue
		}
		apportioned[p] = value
		distributed += value
	}

	// Residual value retained by the queue.
	if dust := amount - distributed; dust > 0 {
		if err := q.ledger.Credit(q.custodyAccount, dust); err != nil {
			q.log.Error().Err(err).Int64("dust", dust).Msg("Failed to retain withdrawal dust")
		}
	}

	q.clearPendingLocked(KindWithdraw)
	q.state.LastBatch = now

	result := &FlushResult{
		FlushID:      uuid.NewString(),
		Kind:         KindWithdraw,
		Participants: len(roster),
		TotalIn:      totalShares,
		TotalOut:     amount,
		Dust:         amount - distributed,
		Apportioned:  apportioned,
	}

	if q.bus != nil {
		q.bus.Publish(events.BatchFlushed, q.state.Bucket, events.BatchFlushedData{
			FlushID:      result.FlushID,
			Kind:         string(KindWithdraw),
			Participants: result.Participants,
			TotalAmount:  amount,
			TotalShares:  totalShares,
			Dust:         result.Dust,
		})
	}

	q.log.Info().
		Str("flush_id", result.FlushID).
		Int("participants", result.Participants).
		Int64("shares", totalShares).
		Int64("amount", amount).
		Int64("dust", result.Dust).
		Msg("Withdrawal batch flushed")
	return result, nil
}

// clearPendingLocked zeroes one side's pending map, roster and total
func (q *Queue) clearPendingLocked(kind PendingKind) {
	if kind == KindDeposit {
		q.pendingDeposit = make(map[string]int64)
		q.depositRoster = nil
		q.state.TotalPendingDeposit = 0
		return
	}
	q.pendingWithdraw = make(map[string]int64)
	q.withdrawRoster = nil
	q.state.TotalPendingWithdrawShares = 0
}

// clearMutation builds the durable deletion of every settled pending row
func (q *Queue) clearMutation(kind PendingKind) Mutation {
	return Mutation{State: q.state, ClearKind: &kind}
}

// SetBatchInterval updates the flush gate
func (q *Queue) SetBatchInterval(interval time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if interval <= 0 {
		return fmt.Errorf("batch interval must be positive: %w", domain.ErrInvalidAmount)
	}

	prev := q.state.BatchInterval
	q.state.BatchInterval = interval
	if err := q.repo.Apply(Mutation{State: q.state}); err != nil {
		q.state.BatchInterval = prev
		return err
	}
	return nil
}

// SetMinimumDeposit updates the per-request floor
func (q *Queue) SetMinimumDeposit(minimum int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if minimum <= 0 {
		return fmt.Errorf("minimum deposit must be positive: %w", domain.ErrInvalidAmount)
	}

	prev := q.state.MinimumDeposit
	q.state.MinimumDeposit = minimum
	if err := q.repo.Apply(Mutation{State: q.state}); err != nil {
		q.state.MinimumDeposit = prev
		return err
	}
	return nil
}
