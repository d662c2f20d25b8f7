package strategy

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/calder-hwy/poolhouse/internal/domain"
)

// Simulated is a Strategy backed by a simulated YieldSource. It tracks the
// principal it has deployed so that Harvest can realize only the accrued
// yield.
type Simulated struct {
	id     string
	asset  string
	source *YieldSource

	mu       sync.Mutex
	deployed int64

	log zerolog.Logger
}

// NewSimulated creates a simulated strategy over the given yield source
func NewSimulated(id, asset string, source *YieldSource, log zerolog.Logger) *Simulated {
	return &Simulated{
		id:     id,
		asset:  asset,
		source: source,
		log:    log.With().Str("strategy", id).Logger(),
	}
}

// ID returns the strategy identifier
func (s *Simulated) ID() string {
	return s.id
}

// Asset returns the unit identifier of the underlying asset
func (s *Simulated) Asset() string {
	return s.asset
}

// Deposit supplies principal into the yield source
func (s *Simulated) Deposit(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit of %d: %w", amount, domain.ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.source.Supply(s.id, amount); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBridgeFailure, err)
	}
	s.deployed += amount
	return nil
}

// Withdraw removes up to amount from the yield source, returning the
// actual amount received.
func (s *Simulated) Withdraw(amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("withdraw of %d: %w", amount, domain.ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	actual, err := s.source.Withdraw(s.id, amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrBridgeFailure, err)
	}

	// A withdrawal consumes yield first, then principal.
	if actual > 0 {
		remaining := s.source.BalanceOf(s.id)
		if remaining < s.deployed {
			s.deployed = remaining
		}
	}
	return actual, nil
}

// Harvest realizes accrued yield: everything above deployed principal is
// withdrawn and returned.
func (s *Simulated) Harvest() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.source.BalanceOf(s.id)
	yield := balance - s.deployed
	if yield <= 0 {
		return 0, nil
	}

	actual, err := s.source.Withdraw(s.id, yield)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrBridgeFailure, err)
	}

	s.log.Debug().Int64("yield", actual).Msg("Harvested yield")
	return actual, nil
}

// BalanceOf returns principal plus unrealized yield
func (s *Simulated) BalanceOf() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.source.BalanceOf(s.id), nil
}
