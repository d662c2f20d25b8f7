package strategy

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/calder-hwy/poolhouse/internal/domain"
)

// YieldSource simulates an interest-bearing protocol. Each account's
// principal accrues linearly at the configured APY and compounds on every
// balance-affecting call.
//
// The principal ledger is the single source of truth; no separate receipt
// balance is kept.
type YieldSource struct {
	apyBps int64

	mu          sync.Mutex
	principal   map[string]int64
	lastAccrual map[string]time.Time

	now func() time.Time
}

// NewYieldSource creates a simulated yield source with the given APY
func NewYieldSource(apyBps int64) *YieldSource {
	return &YieldSource{
		apyBps:      apyBps,
		principal:   make(map[string]int64),
		lastAccrual: make(map[string]time.Time),
		now:         time.Now,
	}
}

// SetClock overrides the time source. Used by tests and simulations to
// advance accrual deterministically.
func (y *YieldSource) SetClock(now func() time.Time) {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.now = now
}

// Supply deposits principal for an account
func (y *YieldSource) Supply(account string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("supply of %d: %w", amount, domain.ErrInvalidAmount)
	}

	y.mu.Lock()
	defer y.mu.Unlock()

	y.accrueLocked(account)
	y.principal[account] += amount
	return nil
}

// Withdraw removes up to amount from an account, returning the actual
// amount transferred.
func (y *YieldSource) Withdraw(account string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("withdraw of %d: %w", amount, domain.ErrInvalidAmount)
	}

	y.mu.Lock()
	defer y.mu.Unlock()

	y.accrueLocked(account)

	available := y.principal[account]
	actual := amount
	if actual > available {
		actual = available
	}
	y.principal[account] = available - actual
	return actual, nil
}

// BalanceOf returns principal plus accrued yield for an account
func (y *YieldSource) BalanceOf(account string) int64 {
	y.mu.Lock()
	defer y.mu.Unlock()

	y.accrueLocked(account)
	return y.principal[account]
}

// accrueLocked folds elapsed yield into principal:
// elapsedYield = principal * apyBps * secondsElapsed / (10000 * secondsPerYear)
func (y *YieldSource) accrueLocked(account string) {
	now := y.now()
	last, ok := y.lastAccrual[account]
	if !ok {
		y.lastAccrual[account] = now
		return
	}

	elapsed := int64(now.Sub(last).Seconds())
	if elapsed <= 0 {
		return
	}

	// big.Int keeps the triple product exact for large principals.
	principal := y.principal[account]
	numerator := new(big.Int).Mul(big.NewInt(principal), big.NewInt(y.apyBps))
	numerator.Mul(numerator, big.NewInt(elapsed))
	denominator := big.NewInt(domain.BasisPointsDenominator * domain.SecondsPerYear)
	yield := numerator.Div(numerator, denominator).Int64()

	y.principal[account] = principal + yield
	y.lastAccrual[account] = now
}
