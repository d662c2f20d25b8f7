package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeYieldMetrics(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()
	records := []HarvestRecord{
		{Bucket: "test", HarvestedAt: base, Gross: 100, Fee: 10, Reinvested: 90},
		{Bucket: "test", HarvestedAt: base.Add(24 * time.Hour), Gross: 200, Fee: 20, Reinvested: 180},
		{Bucket: "test", HarvestedAt: base.Add(48 * time.Hour), Gross: 150, Fee: 15, Reinvested: 135},
	}

	m := ComputeYieldMetrics("test", records, 100_000)

	assert.Equal(t, "test", m.Bucket)
	assert.Equal(t, 3, m.Harvests)
	assert.Equal(t, int64(450), m.TotalGross)
	assert.Equal(t, int64(45), m.TotalFees)
	assert.Equal(t, int64(405), m.TotalNet)
	assert.InDelta(t, 135.0, m.MeanNet, 1e-9)
	assert.Greater(t, m.StdDevNet, 0.0)

	// 405 net over 2 days on a 100k base, annualized.
	wantAPY := 405.0 / 100_000.0 / (2.0 / 365.0) * 100
	assert.InDelta(t, wantAPY, m.RealizedAPYPct, 1e-6)
}

func TestComputeYieldMetricsEmpty(t *testing.T) {
	m := ComputeYieldMetrics("test", nil, 100_000)
	assert.Equal(t, 0, m.Harvests)
	assert.Equal(t, 0.0, m.RealizedAPYPct)
}

func TestComputeYieldMetricsSingleHarvestHasNoAPY(t *testing.T) {
	records := []HarvestRecord{
		{Bucket: "test", HarvestedAt: time.Unix(1_700_000_000, 0), Gross: 100, Fee: 0, Reinvested: 100},
	}
	m := ComputeYieldMetrics("test", records, 100_000)
	assert.Equal(t, 1, m.Harvests)
	assert.Equal(t, 0.0, m.RealizedAPYPct)
	assert.Equal(t, 0.0, m.StdDevNet)
}
