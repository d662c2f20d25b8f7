package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/calder-hwy/poolhouse/internal/domain"
)

// StrategyConfig describes one simulated yield strategy attached to a bucket.
type StrategyConfig struct {
	ID        string `yaml:"id"`
	Asset     string `yaml:"asset"`
	APYBps    int64  `yaml:"apy_bps"`
	WeightBps int64  `yaml:"weight_bps"`
}

// BucketConfig describes one risk tier: an independent vault plus batch
// queue with its own strategy set and policy.
type BucketConfig struct {
	Name                   string           `yaml:"name"`
	FeeRateBps             int64            `yaml:"fee_rate_bps"`
	FeeRecipient           string           `yaml:"fee_recipient"`
	HarvestIntervalSeconds int64            `yaml:"harvest_interval_seconds"`
	BatchIntervalSeconds   int64            `yaml:"batch_interval_seconds"`
	MinimumDeposit         int64            `yaml:"minimum_deposit"`
	Strategies             []StrategyConfig `yaml:"strategies"`
}

// Allocations returns the bucket's strategy weights in declaration order.
func (b *BucketConfig) Allocations() []domain.Allocation {
	allocs := make([]domain.Allocation, 0, len(b.Strategies))
	for _, s := range b.Strategies {
		allocs = append(allocs, domain.Allocation{
			StrategyID: s.ID,
			WeightBps:  s.WeightBps,
		})
	}
	return allocs
}

// BucketsFile is the root of the bucket topology YAML document.
type BucketsFile struct {
	Buckets []BucketConfig `yaml:"buckets"`
}

// LoadBuckets reads and validates the bucket topology file. Validation is
// eager: a malformed file fails startup rather than surfacing later as a
// broken deploy.
func LoadBuckets(path string) ([]BucketConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read buckets file: %w", err)
	}

	var file BucketsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse buckets file: %w", err)
	}

	if len(file.Buckets) == 0 {
		return nil, fmt.Errorf("buckets file defines no buckets")
	}

	seen := make(map[string]bool)
	for i := range file.Buckets {
		if err := validateBucket(&file.Buckets[i]); err != nil {
			return nil, fmt.Errorf("bucket %q: %w", file.Buckets[i].Name, err)
		}
		if seen[file.Buckets[i].Name] {
			return nil, fmt.Errorf("duplicate bucket name %q", file.Buckets[i].Name)
		}
		seen[file.Buckets[i].Name] = true
	}

	return file.Buckets, nil
}

func validateBucket(b *BucketConfig) error {
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(b.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	if b.FeeRateBps < 0 || b.FeeRateBps > 3000 {
		return fmt.Errorf("fee_rate_bps must be in [0, 3000], got %d", b.FeeRateBps)
	}
	if b.FeeRecipient == "" {
		return fmt.Errorf("fee_recipient is required")
	}
	if b.HarvestIntervalSeconds <= 0 {
		return fmt.Errorf("harvest_interval_seconds must be greater than 0")
	}
	if b.BatchIntervalSeconds <= 0 {
		return fmt.Errorf("batch_interval_seconds must be greater than 0")
	}
	if b.MinimumDeposit <= 0 {
		return fmt.Errorf("minimum_deposit must be greater than 0")
	}

	seen := make(map[string]bool)
	for _, s := range b.Strategies {
		if s.ID == "" {
			return fmt.Errorf("strategy id is required")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate strategy id %q", s.ID)
		}
		seen[s.ID] = true
		if s.APYBps < 0 {
			return fmt.Errorf("strategy %q: apy_bps must not be negative", s.ID)
		}
	}

	if !domain.ValidWeights(b.Allocations()) {
		return fmt.Errorf("strategy weights must sum to 10000 basis points")
	}

	return nil
}
