package vault

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// YieldMetrics summarizes realized yield over recent harvest history.
type YieldMetrics struct {
	Bucket         string  `json:"bucket"`
	Harvests       int     `json:"harvests"`
	TotalGross     int64   `json:"total_gross"`
	TotalFees      int64   `json:"total_fees"`
	TotalNet       int64   `json:"total_net"`
	MeanNet        float64 `json:"mean_net"`
	StdDevNet      float64 `json:"stddev_net"`
	RealizedAPYPct float64 `json:"realized_apy_pct"`
}

// ComputeYieldMetrics derives yield statistics from harvest records.
// The APY estimate annualizes total net yield against the current asset
// base over the observed harvest window; with fewer than two harvests the
// window is undefined and the estimate is zero.
func ComputeYieldMetrics(bucket string, records []HarvestRecord, totalAssets int64) YieldMetrics {
	m := YieldMetrics{Bucket: bucket, Harvests: len(records)}
	if len(records) == 0 {
		return m
	}

	nets := make([]float64, 0, len(records))
	var first, last time.Time
	for i, r := range records {
		m.TotalGross += r.Gross
		m.TotalFees += r.Fee
		m.TotalNet += r.Reinvested
		nets = append(nets, float64(r.Reinvested))

		if i == 0 || r.HarvestedAt.Before(first) {
			first = r.HarvestedAt
		}
		if i == 0 || r.HarvestedAt.After(last) {
			last = r.HarvestedAt
		}
	}

	m.MeanNet = stat.Mean(nets, nil)
	if len(nets) > 1 {
		m.StdDevNet = stat.StdDev(nets, nil)
	}

	window := last.Sub(first)
	if window > 0 && totalAssets > 0 && len(records) > 1 {
		years := window.Hours() / (24 * 365)
		m.RealizedAPYPct = float64(m.TotalNet) / float64(totalAssets) / years * 100
	}

	return m
}
