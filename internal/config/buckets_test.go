package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBucketsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buckets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validBuckets = `
buckets:
  - name: conservative
    fee_rate_bps: 1000
    fee_recipient: treasury
    harvest_interval_seconds: 3600
    batch_interval_seconds: 60
    minimum_deposit: 100
    strategies:
      - id: lend
        asset: USD
        apy_bps: 500
        weight_bps: 7000
      - id: amm
        asset: USD
        apy_bps: 800
        weight_bps: 3000
`

func TestLoadBuckets(t *testing.T) {
	path := writeBucketsFile(t, validBuckets)

	buckets, err := LoadBuckets(path)
	require.NoError(t, err)
	require.Len(t, buckets, 1)

	b := buckets[0]
	assert.Equal(t, "conservative", b.Name)
	assert.Equal(t, int64(1000), b.FeeRateBps)
	assert.Len(t, b.Strategies, 2)

	allocs := b.Allocations()
	require.Len(t, allocs, 2)
	assert.Equal(t, "lend", allocs[0].StrategyID)
	assert.Equal(t, int64(7000), allocs[0].WeightBps)
}

func TestLoadBucketsMissingFile(t *testing.T) {
	_, err := LoadBuckets(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadBucketsValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "empty file",
			content: "buckets: []\n",
		},
		{
			name: "weights do not sum to 100 percent",
			content: `
buckets:
  - name: broken
    fee_rate_bps: 0
    fee_recipient: treasury
    harvest_interval_seconds: 3600
    batch_interval_seconds: 60
    minimum_deposit: 100
    strategies:
      - id: lend
        asset: USD
        apy_bps: 500
        weight_bps: 9999
`,
		},
		{
			name: "fee above ceiling",
			content: `
buckets:
  - name: broken
    fee_rate_bps: 3001
    fee_recipient: treasury
    harvest_interval_seconds: 3600
    batch_interval_seconds: 60
    minimum_deposit: 100
    strategies:
      - id: lend
        asset: USD
        apy_bps: 500
        weight_bps: 10000
`,
		},
		{
			name: "duplicate strategy id",
			content: `
buckets:
  - name: broken
    fee_rate_bps: 0
    fee_recipient: treasury
    harvest_interval_seconds: 3600
    batch_interval_seconds: 60
    minimum_deposit: 100
    strategies:
      - id: lend
        asset: USD
        apy_bps: 500
        weight_bps: 5000
      - id: lend
        asset: USD
        apy_bps: 500
        weight_bps: 5000
`,
		},
		{
			name: "missing fee recipient",
			content: `
buckets:
  - name: broken
    fee_rate_bps: 0
    harvest_interval_seconds: 3600
    batch_interval_seconds: 60
    minimum_deposit: 100
    strategies:
      - id: lend
        asset: USD
        apy_bps: 500
        weight_bps: 10000
`,
		},
		{
			name: "zero batch interval",
			content: `
buckets:
  - name: broken
    fee_rate_bps: 0
    fee_recipient: treasury
    harvest_interval_seconds: 3600
    batch_interval_seconds: 0
    minimum_deposit: 100
    strategies:
      - id: lend
        asset: USD
        apy_bps: 500
        weight_bps: 10000
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeBucketsFile(t, tt.content)
			_, err := LoadBuckets(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadBucketsDuplicateName(t *testing.T) {
	content := validBuckets + `
  - name: conservative
    fee_rate_bps: 0
    fee_recipient: treasury
    harvest_interval_seconds: 3600
    batch_interval_seconds: 60
    minimum_deposit: 100
    strategies:
      - id: other
        asset: USD
        apy_bps: 500
        weight_bps: 10000
`
	path := writeBucketsFile(t, content)
	_, err := LoadBuckets(path)
	assert.Error(t, err)
}
