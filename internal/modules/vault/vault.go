// Package vault implements the pooled-fund share accounting engine: it
// mints and burns proportional shares against the pool's total value and
// keeps pooled capital split across yield strategies by target weights.
package vault

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/calder-hwy/poolhouse/internal/domain"
	"github.com/calder-hwy/poolhouse/internal/events"
	"github.com/calder-hwy/poolhouse/internal/modules/ledger"
	"github.com/calder-hwy/poolhouse/internal/modules/strategy"
)

// Vault owns share accounting and capital allocation for one bucket.
//
// Every mutating operation runs under a single execution lock for its full
// duration, including all strategy calls: no operation can observe another
// mid-mutation, and no operation can re-enter itself.
type Vault struct {
	mu sync.Mutex

	state       State
	shares      map[string]int64
	allocations []domain.Allocation

	registry *strategy.Registry
	ledger   *ledger.Ledger
	repo     *Repository
	bus      *events.Bus
	log      zerolog.Logger
	now      func() time.Time
}

// Config wires a vault's collaborators and initial policy. All fields are
// validated eagerly in New.
type Config struct {
	Bucket          string
	Allocations     []domain.Allocation
	FeeRateBps      int64
	FeeRecipient    string
	HarvestInterval time.Duration
	Registry        *strategy.Registry
	Ledger          *ledger.Ledger
	Repository      *Repository
	Bus             *events.Bus
	Log             zerolog.Logger
}

// MaxFeeRateBps is the policy ceiling for the performance fee (30%).
const MaxFeeRateBps int64 = 3000

// New creates a vault, restoring any persisted state for the bucket.
// Configured weights apply only on first start; after that the persisted
// weights are authoritative.
func New(cfg Config) (*Vault, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if !domain.ValidWeights(cfg.Allocations) {
		return nil, fmt.Errorf("configured weights for %q: %w", cfg.Bucket, domain.ErrInvalidAllocation)
	}
	for _, a := range cfg.Allocations {
		if _, err := cfg.Registry.Get(a.StrategyID); err != nil {
			return nil, fmt.Errorf("allocation references unknown strategy: %w", err)
		}
	}
	if cfg.FeeRateBps < 0 || cfg.FeeRateBps > MaxFeeRateBps {
		return nil, fmt.Errorf("fee rate %d outside [0, %d]", cfg.FeeRateBps, MaxFeeRateBps)
	}
	if cfg.HarvestInterval <= 0 {
		return nil, fmt.Errorf("harvest interval must be positive")
	}

	v := &Vault{
		state: State{
			Bucket:          cfg.Bucket,
			FeeRateBps:      cfg.FeeRateBps,
			FeeRecipient:    cfg.FeeRecipient,
			LastHarvest:     time.Unix(0, 0).UTC(),
			HarvestInterval: cfg.HarvestInterval,
		},
		shares:      make(map[string]int64),
		allocations: cfg.Allocations,
		registry:    cfg.Registry,
		ledger:      cfg.Ledger,
		repo:        cfg.Repository,
		bus:         cfg.Bus,
		log:         cfg.Log.With().Str("component", "vault").Str("bucket", cfg.Bucket).Logger(),
		now:         time.Now,
	}

	if err := v.restore(); err != nil {
		return nil, err
	}
	return v, nil
}

// SetClock overrides the time source (tests)
func (v *Vault) SetClock(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

// restore loads persisted state and cross-checks stored aggregates
// against per-row sums.
func (v *Vault) restore() error {
	persisted, err := v.repo.LoadState(v.state.Bucket)
	if err != nil {
		return err
	}
	if persisted == nil {
		// First start: persist the initial state and configured weights.
		return v.repo.Apply(Mutation{State: v.state, Allocations: v.allocations})
	}

	shares, err := v.repo.LoadShares(v.state.Bucket)
	if err != nil {
		return err
	}
	var sum int64
	for _, s := range shares {
		sum += s
	}
	if sum != persisted.TotalShares {
		return fmt.Errorf("bucket %q: stored total_shares %d does not match row sum %d",
			v.state.Bucket, persisted.TotalShares, sum)
	}

	allocs, err := v.repo.LoadAllocations(v.state.Bucket)
	if err != nil {
		return err
	}
	if allocs != nil {
		if !domain.ValidWeights(allocs) {
			return fmt.Errorf("bucket %q: persisted weights: %w", v.state.Bucket, domain.ErrInvalidAllocation)
		}
		for _, a := range allocs {
			if _, err := v.registry.Get(a.StrategyID); err != nil {
				return fmt.Errorf("persisted allocation references unknown strategy: %w", err)
			}
		}
		v.allocations = allocs
	}

	v.state = *persisted
	v.shares = shares
	v.log.Info().
		Int64("total_shares", v.state.TotalShares).
		Int64("idle_balance", v.state.IdleBalance).
		Int("holders", len(shares)).
		Msg("Restored vault state")
	return nil
}

// mulDiv returns floor(a*b/c), exact for the full int64 range
func mulDiv(a, b, c int64) int64 {
	n := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	return n.Div(n, big.NewInt(c)).Int64()
}

// totalAssetsLocked returns idle balance plus all strategy balances
func (v *Vault) totalAssetsLocked() (int64, error) {
	total := v.state.IdleBalance
	for _, a := range v.allocations {
		s, err := v.registry.Get(a.StrategyID)
		if err != nil {
			return 0, err
		}
		bal, err := s.BalanceOf()
		if err != nil {
			return 0, fmt.Errorf("%w: balanceOf %s: %v", domain.ErrBridgeFailure, a.StrategyID, err)
		}
		total += bal
	}
	return total, nil
}

// Deposit mints shares for account against amount of new value. The share
// count is computed from total assets before the transfer, so a depositor
// cannot capture value moved in the same call. Deployment of the new idle
// balance is best-effort: a strategy failure leaves funds idle to be swept
// on a later cycle, it never fails the deposit.
func (v *Vault) Deposit(account string, amount int64) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if amount <= 0 {
		return 0, fmt.Errorf("deposit of %d: %w", amount, domain.ErrInvalidAmount)
	}

	assetsBefore, err := v.totalAssetsLocked()
	if err != nil {
		return 0, err
	}

	var minted int64
	if v.state.TotalShares == 0 {
		minted = amount
	} else {
		if assetsBefore <= 0 {
			// Shares outstanding against no measurable assets; there is no
			// price to mint at.
			return 0, fmt.Errorf("%d shares outstanding against %d assets: %w",
				v.state.TotalShares, assetsBefore, domain.ErrBridgeFailure)
		}
		minted = mulDiv(amount, v.state.TotalShares, assetsBefore)
	}
	if minted <= 0 {
		// Amount too small to mint a single share; accepting it would
		// donate the value to existing holders.
		return 0, fmt.Errorf("deposit of %d mints no shares: %w", amount, domain.ErrInvalidAmount)
	}

	prevState := v.state
	prevShares := v.shares[account]

	v.state.IdleBalance += amount
	v.state.TotalShares += minted
	v.shares[account] = prevShares + minted

	if err := v.repo.Apply(Mutation{
		State:  v.state,
		Shares: map[string]int64{account: v.shares[account]},
	}); err != nil {
		v.state = prevState
		v.shares[account] = prevShares
		return 0, err
	}

	v.deployLocked()

	v.log.Info().
		Str("account", account).
		Int64("amount", amount).
		Int64("shares", minted).
		Msg("Deposit minted shares")

	return minted, nil
}

// Redeem burns shares from account and returns their value. If the idle
// balance cannot cover the payout, the shortfall is withdrawn from
// strategies proportionally to the target weights, preserving the
// allocation shape.
func (v *Vault) Redeem(account string, shares int64) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if shares <= 0 {
		return 0, fmt.Errorf("redeem of %d shares: %w", shares, domain.ErrInvalidAmount)
	}
	held := v.shares[account]
	if held < shares {
		return 0, fmt.Errorf("account %s holds %d shares, needs %d: %w",
			account, held, shares, domain.ErrInsufficientBalance)
	}

	assets, err := v.totalAssetsLocked()
	if err != nil {
		return 0, err
	}
	amount := mulDiv(shares, assets, v.state.TotalShares)

	prevState := v.state
	var withdrawn []transferRecord

	if v.state.IdleBalance < amount {
		shortfall := amount - v.state.IdleBalance
		var collected int64
		collected, withdrawn, err = v.collectLocked(shortfall)
		if err != nil {
			v.reverseWithdrawalsLocked(withdrawn)
			return 0, err
		}
		if collected < shortfall {
			v.reverseWithdrawalsLocked(withdrawn)
			return 0, fmt.Errorf("need %d, sourced %d: %w", shortfall, collected, domain.ErrInsufficientLiquidity)
		}
		v.state.IdleBalance += collected
	}

	v.state.IdleBalance -= amount
	v.state.TotalShares -= shares
	v.shares[account] = held - shares

	if err := v.repo.Apply(Mutation{
		State:  v.state,
		Shares: map[string]int64{account: v.shares[account]},
	}); err != nil {
		v.state = prevState
		v.shares[account] = held
		v.reverseWithdrawalsLocked(withdrawn)
		return 0, err
	}

	v.log.Info().
		Str("account", account).
		Int64("shares", shares).
		Int64("amount", amount).
		Msg("Redeem burned shares")

	return amount, nil
}

// transferRecord tracks one completed strategy withdrawal so a failed
// operation can reverse it.
type transferRecord struct {
	strategyID string
	amount     int64
}

// collectLocked withdraws shortfall from strategies proportionally to the
// current weights, with a second pass in allocation order to cover
// rounding residue and per-strategy caps.
func (v *Vault) collectLocked(shortfall int64) (int64, []transferRecord, error) {
	var collected int64
	var withdrawn []transferRecord

	for _, a := range v.allocations {
		want := mulDiv(shortfall, a.WeightBps, domain.BasisPointsDenominator)
		if want == 0 {
			continue
		}
		s, err := v.registry.Get(a.StrategyID)
		if err != nil {
			return collected, withdrawn, err
		}
		actual, err := s.Withdraw(want)
		if err != nil {
			return collected, withdrawn, fmt.Errorf("withdraw from %s: %w", a.StrategyID, err)
		}
		if actual > 0 {
			withdrawn = append(withdrawn, transferRecord{a.StrategyID, actual})
			collected += actual
		}
	}

	for _, a := range v.allocations {
		if collected >= shortfall {
			break
		}
		s, err := v.registry.Get(a.StrategyID)
		if err != nil {
			return collected, withdrawn, err
		}
		bal, err := s.BalanceOf()
		if err != nil {
			return collected, withdrawn, fmt.Errorf("%w: balanceOf %s: %v", domain.ErrBridgeFailure, a.StrategyID, err)
		}
		if bal == 0 {
			continue
		}
		want := shortfall - collected
		if want > bal {
			want = bal
		}
		actual, err := s.Withdraw(want)
		if err != nil {
			return collected, withdrawn, fmt.Errorf("withdraw from %s: %w", a.StrategyID, err)
		}
		if actual > 0 {
			withdrawn = append(withdrawn, transferRecord{a.StrategyID, actual})
			collected += actual
		}
	}

	return collected, withdrawn, nil
}

// reverseWithdrawalsLocked puts previously withdrawn value back so an
// aborted operation leaves strategy balances unchanged.
func (v *Vault) reverseWithdrawalsLocked(withdrawn []transferRecord) {
	for _, w := range withdrawn {
		s, err := v.registry.Get(w.strategyID)
		if err != nil {
			v.log.Error().Err(err).Str("strategy", w.strategyID).Msg("Cannot reverse withdrawal")
			continue
		}
		if err := s.Deposit(w.amount); err != nil {
			// Value stays idle; conservation holds but the allocation
			// shape is off until the next deploy.
			v.state.IdleBalance += w.amount
			v.log.Error().Err(err).
				Str("strategy", w.strategyID).
				Int64("amount", w.amount).
				Msg("Failed to reverse withdrawal, amount left idle")
		}
	}
}

// deployLocked pushes idle balance into strategies by target weights.
// Rounding dust stays idle and is swept on the next deploy. Failures are
// logged and skipped: deployment never fails the surrounding operation.
func (v *Vault) deployLocked() {
	idle := v.state.IdleBalance
	if idle <= 0 {
		return
	}

	deployed := false
	for _, a := range v.allocations {
		target := mulDiv(idle, a.WeightBps, domain.BasisPointsDenominator)
		if target == 0 {
			continue
		}
		s, err := v.registry.Get(a.StrategyID)
		if err != nil {
			v.log.Error().Err(err).Msg("Deploy skipped unknown strategy")
			continue
		}
		if err := s.Deposit(target); err != nil {
			v.log.Warn().Err(err).
				Str("strategy", a.StrategyID).
				Int64("amount", target).
				Msg("Deploy failed, funds remain idle")
			continue
		}
		v.state.IdleBalance -= target
		deployed = true
	}

	if deployed {
		if err := v.repo.Apply(Mutation{State: v.state}); err != nil {
			v.log.Error().Err(err).Msg("Failed to persist state after deploy")
		}
	}
}

// Compound harvests every strategy, takes the performance fee, and
// redeploys the remainder. Yield distribution happens through the share
// price: it rises for all holders without per-holder transactions.
func (v *Vault) Compound() (*HarvestRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	ready := v.state.LastHarvest.Add(v.state.HarvestInterval)
	if now.Before(ready) {
		return nil, fmt.Errorf("harvest ready at %s: %w", ready.Format(time.RFC3339), domain.ErrNotReady)
	}

	prevLastHarvest := v.state.LastHarvest
	record := v.harvestLocked(now)

	if err := v.repo.Apply(Mutation{State: v.state, Harvest: record}); err != nil {
		v.reverseHarvestLocked(record, prevLastHarvest)
		return nil, err
	}

	v.deployLocked()

	if v.bus != nil {
		v.bus.Publish(events.HarvestCompleted, v.state.Bucket, events.HarvestCompletedData{
			TotalEarned: record.Gross,
			Fee:         record.Fee,
			Reinvested:  record.Reinvested,
		})
	}

	return record, nil
}

// harvestLocked performs the harvest pass. Each strategy is independently
// fault-isolated: a strategy that fails to harvest contributes zero, like
// a strategy with no yield, and does not abort the others. The harvest
// timestamp advances unconditionally so a zero-yield harvest cannot be
// spammed.
func (v *Vault) harvestLocked(now time.Time) *HarvestRecord {
	breakdown := make(map[string]int64)
	var totalEarned int64

	for _, a := range v.allocations {
		s, err := v.registry.Get(a.StrategyID)
		if err != nil {
			v.log.Error().Err(err).Msg("Harvest skipped unknown strategy")
			continue
		}
		earned, err := s.Harvest()
		if err != nil {
			v.log.Warn().Err(err).
				Str("strategy", a.StrategyID).
				Msg("Strategy harvest failed, treating as zero yield")
			continue
		}
		if earned > 0 {
			v.state.IdleBalance += earned
			totalEarned += earned
			breakdown[a.StrategyID] = earned
		}
	}

	v.state.LastHarvest = now

	fee := mulDiv(totalEarned, v.state.FeeRateBps, domain.BasisPointsDenominator)
	if fee > 0 {
		if err := v.ledger.Credit(v.state.FeeRecipient, fee); err != nil {
			// Leave the fee in the pool rather than lose it.
			v.log.Error().Err(err).Int64("fee", fee).Msg("Fee transfer failed, fee stays pooled")
			fee = 0
		} else {
			v.state.IdleBalance -= fee
		}
	}

	record := &HarvestRecord{
		Bucket:      v.state.Bucket,
		HarvestedAt: now,
		Gross:       totalEarned,
		Fee:         fee,
		Reinvested:  totalEarned - fee,
		Breakdown:   breakdown,
	}

	v.log.Info().
		Int64("gross", totalEarned).
		Int64("fee", fee).
		Msg("Harvest completed")

	return record
}

// reverseHarvestLocked reclaims the fee and puts realized yield back into
// the strategies so an aborted operation leaves external balances
// unchanged. Idle bookkeeping mirrors each reversal so the books stay
// exact even if a reversal itself fails.
func (v *Vault) reverseHarvestLocked(record *HarvestRecord, prevLastHarvest time.Time) {
	if record.Fee > 0 {
		if err := v.ledger.Debit(v.state.FeeRecipient, record.Fee); err != nil {
			v.log.Error().Err(err).
				Int64("fee", record.Fee).
				Msg("Failed to reclaim fee, amount stays with recipient")
		} else {
			v.state.IdleBalance += record.Fee
		}
	}
	for id, earned := range record.Breakdown {
		s, err := v.registry.Get(id)
		if err != nil {
			v.log.Error().Err(err).Str("strategy", id).Msg("Cannot reverse harvest withdrawal")
			continue
		}
		if err := s.Deposit(earned); err != nil {
			// Value stays idle; conservation holds.
			v.log.Error().Err(err).
				Str("strategy", id).
				Int64("amount", earned).
				Msg("Failed to reverse harvest withdrawal, amount left idle")
			continue
		}
		v.state.IdleBalance -= earned
	}
	v.state.LastHarvest = prevLastHarvest
}

// Rebalance moves strategy balances to match newAllocs and makes the new
// weights current. Excess is collected into idle before any shortfall is
// funded, so the operation never needs capital beyond what it frees up. A
// harvest runs first when the cooldown has already elapsed; rebalancing
// is never blocked on the harvest timer.
func (v *Vault) Rebalance(newAllocs []domain.Allocation) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !domain.ValidWeights(newAllocs) {
		return fmt.Errorf("rebalance weights: %w", domain.ErrInvalidAllocation)
	}
	for _, a := range newAllocs {
		if _, err := v.registry.Get(a.StrategyID); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidAllocation, err)
		}
	}

	now := v.now()
	prevLastHarvest := v.state.LastHarvest
	var harvest *HarvestRecord
	if !now.Before(v.state.LastHarvest.Add(v.state.HarvestInterval)) {
		harvest = v.harvestLocked(now)
	}

	// Union of old and new strategy ids: strategies dropped from the
	// allocation get a zero target and are drained.
	ids := make([]string, 0, len(v.allocations)+len(newAllocs))
	seen := make(map[string]bool)
	for _, a := range v.allocations {
		ids = append(ids, a.StrategyID)
		seen[a.StrategyID] = true
	}
	for _, a := range newAllocs {
		if !seen[a.StrategyID] {
			ids = append(ids, a.StrategyID)
		}
	}

	balances := make(map[string]int64, len(ids))
	var totalInBridges int64
	for _, id := range ids {
		s, err := v.registry.Get(id)
		if err != nil {
			return err
		}
		bal, err := s.BalanceOf()
		if err != nil {
			return fmt.Errorf("%w: balanceOf %s: %v", domain.ErrBridgeFailure, id, err)
		}
		balances[id] = bal
		totalInBridges += bal
	}

	targets := make(map[string]int64, len(ids))
	for _, a := range newAllocs {
		targets[a.StrategyID] = mulDiv(totalInBridges, a.WeightBps, domain.BasisPointsDenominator)
	}

	var withdrawn []transferRecord
	var deposited []transferRecord
	var moved int64

	rollback := func() {
		// Pull back what was distributed, then return what was
		// collected. Idle bookkeeping mirrors each reversal so the
		// books stay exact even if a reversal itself fails.
		for _, d := range deposited {
			s, err := v.registry.Get(d.strategyID)
			if err != nil {
				continue
			}
			if actual, err := s.Withdraw(d.amount); err == nil {
				v.state.IdleBalance += actual
			}
		}
		for _, w := range withdrawn {
			s, err := v.registry.Get(w.strategyID)
			if err != nil {
				continue
			}
			if err := s.Deposit(w.amount); err != nil {
				// Stays idle; conservation holds.
				v.log.Error().Err(err).
					Str("strategy", w.strategyID).
					Msg("Failed to reverse rebalance withdrawal, amount left idle")
				continue
			}
			v.state.IdleBalance -= w.amount
		}
		if harvest != nil {
			v.reverseHarvestLocked(harvest, prevLastHarvest)
		}
	}

	// Collect phase: drain over-allocated strategies first.
	for _, id := range ids {
		excess := balances[id] - targets[id]
		if excess <= 0 {
			continue
		}
		s, err := v.registry.Get(id)
		if err != nil {
			rollback()
			return err
		}
		actual, err := s.Withdraw(excess)
		if err != nil {
			rollback()
			return fmt.Errorf("rebalance withdraw from %s: %w", id, err)
		}
		if actual > 0 {
			withdrawn = append(withdrawn, transferRecord{id, actual})
			v.state.IdleBalance += actual
			moved += actual
		}
	}

	// Distribute phase: fund under-allocated strategies from idle.
	for _, a := range newAllocs {
		need := targets[a.StrategyID] - balances[a.StrategyID]
		if need <= 0 {
			continue
		}
		if need > v.state.IdleBalance {
			need = v.state.IdleBalance
		}
		if need == 0 {
			continue
		}
		s, err := v.registry.Get(a.StrategyID)
		if err != nil {
			rollback()
			return err
		}
		if err := s.Deposit(need); err != nil {
			rollback()
			return fmt.Errorf("rebalance deposit into %s: %w", a.StrategyID, err)
		}
		deposited = append(deposited, transferRecord{a.StrategyID, need})
		v.state.IdleBalance -= need
	}

	prevAllocs := v.allocations
	v.allocations = newAllocs

	if err := v.repo.Apply(Mutation{State: v.state, Allocations: newAllocs, Harvest: harvest}); err != nil {
		v.allocations = prevAllocs
		rollback()
		return err
	}

	if v.bus != nil {
		v.bus.Publish(events.Rebalanced, v.state.Bucket, events.RebalancedData{Moved: moved})
	}

	v.log.Info().Int64("moved", moved).Msg("Rebalance completed")
	return nil
}

// EmergencyWithdraw pulls everything out of every strategy into the idle
// balance. Weights are left as configured; funds stay idle until an
// operator rebalances or new activity deploys them.
func (v *Vault) EmergencyWithdraw() (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var recovered int64
	for _, a := range v.allocations {
		s, err := v.registry.Get(a.StrategyID)
		if err != nil {
			return recovered, err
		}
		bal, err := s.BalanceOf()
		if err != nil {
			return recovered, fmt.Errorf("%w: balanceOf %s: %v", domain.ErrBridgeFailure, a.StrategyID, err)
		}
		if bal == 0 {
			continue
		}
		actual, err := s.Withdraw(bal)
		if actual > 0 {
			v.state.IdleBalance += actual
			recovered += actual
		}
		if err != nil {
			// Keep what was already recovered; report the failure.
			if persistErr := v.repo.Apply(Mutation{State: v.state}); persistErr != nil {
				v.log.Error().Err(persistErr).Msg("Failed to persist partial emergency withdrawal")
			}
			return recovered, fmt.Errorf("emergency withdraw from %s: %w", a.StrategyID, err)
		}
	}

	if err := v.repo.Apply(Mutation{State: v.state}); err != nil {
		return recovered, err
	}

	if v.bus != nil {
		v.bus.Publish(events.EmergencyWithdrawal, v.state.Bucket, map[string]int64{"recovered": recovered})
	}

	v.log.Warn().Int64("recovered", recovered).Msg("Emergency withdrawal completed")
	return recovered, nil
}

// SetFeeRate updates the performance fee, bounded by the policy ceiling
func (v *Vault) SetFeeRate(bps int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if bps < 0 || bps > MaxFeeRateBps {
		return fmt.Errorf("fee rate %d outside [0, %d]: %w", bps, MaxFeeRateBps, domain.ErrInvalidAmount)
	}

	prev := v.state.FeeRateBps
	v.state.FeeRateBps = bps
	if err := v.repo.Apply(Mutation{State: v.state}); err != nil {
		v.state.FeeRateBps = prev
		return err
	}
	return nil
}

// SetHarvestInterval updates the harvest cooldown
func (v *Vault) SetHarvestInterval(interval time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if interval <= 0 {
		return fmt.Errorf("harvest interval must be positive: %w", domain.ErrInvalidAmount)
	}

	prev := v.state.HarvestInterval
	v.state.HarvestInterval = interval
	if err := v.repo.Apply(Mutation{State: v.state}); err != nil {
		v.state.HarvestInterval = prev
		return err
	}
	return nil
}

// SetAllocations updates target weights without moving funds; the new
// shape takes effect on the next deploy or rebalance. A strategy holding
// a balance cannot be dropped this way - that requires Rebalance, which
// drains it.
func (v *Vault) SetAllocations(allocs []domain.Allocation) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !domain.ValidWeights(allocs) {
		return fmt.Errorf("weights: %w", domain.ErrInvalidAllocation)
	}
	kept := make(map[string]bool, len(allocs))
	for _, a := range allocs {
		if _, err := v.registry.Get(a.StrategyID); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidAllocation, err)
		}
		kept[a.StrategyID] = true
	}
	for _, a := range v.allocations {
		if kept[a.StrategyID] {
			continue
		}
		s, err := v.registry.Get(a.StrategyID)
		if err != nil {
			continue
		}
		bal, err := s.BalanceOf()
		if err != nil {
			return fmt.Errorf("%w: balanceOf %s: %v", domain.ErrBridgeFailure, a.StrategyID, err)
		}
		if bal > 0 {
			return fmt.Errorf("strategy %s still holds %d: %w", a.StrategyID, bal, domain.ErrInvalidAllocation)
		}
	}

	prev := v.allocations
	v.allocations = allocs
	if err := v.repo.Apply(Mutation{State: v.state, Allocations: allocs}); err != nil {
		v.allocations = prev
		return err
	}
	return nil
}

// TransferShares moves shares between accounts without minting or
// burning. The batch queue uses this to take withdrawal requests into
// custody and to settle minted shares back to participants.
func (v *Vault) TransferShares(from, to string, shares int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if shares <= 0 {
		return fmt.Errorf("share transfer of %d: %w", shares, domain.ErrInvalidAmount)
	}
	held := v.shares[from]
	if held < shares {
		return fmt.Errorf("account %s holds %d shares, needs %d: %w",
			from, held, shares, domain.ErrInsufficientBalance)
	}

	v.shares[from] = held - shares
	v.shares[to] += shares

	if err := v.repo.Apply(Mutation{
		State:  v.state,
		Shares: map[string]int64{from: v.shares[from], to: v.shares[to]},
	}); err != nil {
		v.shares[from] = held
		v.shares[to] -= shares
		return err
	}
	return nil
}

// BalanceOf returns the share balance of an account
func (v *Vault) BalanceOf(account string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shares[account]
}

// TotalShares returns the outstanding share count
func (v *Vault) TotalShares() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.TotalShares
}

// TotalAssets returns idle balance plus all strategy balances
func (v *Vault) TotalAssets() (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalAssetsLocked()
}

// Bucket returns the bucket name this vault serves
func (v *Vault) Bucket() string {
	return v.state.Bucket
}

// GetSnapshot returns the read-only API view of the vault
func (v *Vault) GetSnapshot() (*Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	assets, err := v.totalAssetsLocked()
	if err != nil {
		return nil, err
	}

	price := 1.0
	if v.state.TotalShares > 0 {
		price = float64(assets) / float64(v.state.TotalShares)
	}

	allocs := make([]domain.Allocation, len(v.allocations))
	copy(allocs, v.allocations)

	return &Snapshot{
		Bucket:      v.state.Bucket,
		TotalShares: v.state.TotalShares,
		TotalAssets: assets,
		IdleBalance: v.state.IdleBalance,
		SharePrice:  price,
		FeeRateBps:  v.state.FeeRateBps,
		LastHarvest: v.state.LastHarvest,
		NextHarvest: v.state.LastHarvest.Add(v.state.HarvestInterval),
		Allocations: allocs,
	}, nil
}
