package domain

// BasisPointsDenominator is the fixed-point denominator for all percentage
// fields. 10,000 basis points == 100.00%.
const BasisPointsDenominator int64 = 10_000

// SecondsPerYear is the accrual year used by the simulated yield sources.
const SecondsPerYear int64 = 365 * 24 * 60 * 60

// Allocation is one entry of a vault's target split: a strategy and the
// fraction of pooled capital it should hold, in basis points.
type Allocation struct {
	StrategyID string `json:"strategy_id"`
	WeightBps  int64  `json:"weight_bps"`
}

// ValidWeights reports whether the given allocations sum to exactly 100%
// with every weight in [0, 10000].
func ValidWeights(allocs []Allocation) bool {
	var sum int64
	for _, a := range allocs {
		if a.WeightBps < 0 || a.WeightBps > BasisPointsDenominator {
			return false
		}
		sum += a.WeightBps
	}
	return sum == BasisPointsDenominator
}
