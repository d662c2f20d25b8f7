package scheduler

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/calder-hwy/poolhouse/internal/domain"
	"github.com/calder-hwy/poolhouse/internal/modules/router"
	"github.com/calder-hwy/poolhouse/internal/modules/vault"
)

// HarvestJob compounds every vault whose cooldown has elapsed. The vault
// enforces the cooldown itself; a NotReady result here just means the
// cron tick fired early and is not an error.
type HarvestJob struct {
	vaults map[string]*vault.Vault
	log    zerolog.Logger
}

// NewHarvestJob creates a harvest job over the given vaults
func NewHarvestJob(vaults map[string]*vault.Vault, log zerolog.Logger) *HarvestJob {
	return &HarvestJob{
		vaults: vaults,
		log:    log.With().Str("job", "harvest").Logger(),
	}
}

// Name returns the job name
func (j *HarvestJob) Name() string { return "harvest" }

// Run compounds each vault in turn
func (j *HarvestJob) Run() error {
	var firstErr error
	for bucket, v := range j.vaults {
		record, err := v.Compound()
		if errors.Is(err, domain.ErrNotReady) {
			continue
		}
		if err != nil {
			j.log.Error().Err(err).Str("bucket", bucket).Msg("Compound failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		j.log.Info().
			Str("bucket", bucket).
			Int64("gross", record.Gross).
			Int64("reinvested", record.Reinvested).
			Msg("Compounded")
	}
	return firstErr
}

// FlushJob flushes every queue whose batch interval has elapsed.
type FlushJob struct {
	queues map[string]*router.Queue
	log    zerolog.Logger
}

// NewFlushJob creates a flush job over the given queues
func NewFlushJob(queues map[string]*router.Queue, log zerolog.Logger) *FlushJob {
	return &FlushJob{
		queues: queues,
		log:    log.With().Str("job", "flush").Logger(),
	}
}

// Name returns the job name
func (j *FlushJob) Name() string { return "flush" }

// Run flushes each ready, non-empty queue
func (j *FlushJob) Run() error {
	var firstErr error
	for bucket, q := range j.queues {
		deposits, withdrawals, err := q.FlushBoth()
		if errors.Is(err, domain.ErrNotReady) || errors.Is(err, domain.ErrNothingPending) {
			continue
		}
		if err != nil {
			j.log.Error().Err(err).Str("bucket", bucket).Msg("Flush failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		entry := j.log.Info().Str("bucket", bucket)
		if deposits != nil {
			entry = entry.Int64("deposits_settled", deposits.TotalIn)
		}
		if withdrawals != nil {
			entry = entry.Int64("withdraw_shares_settled", withdrawals.TotalIn)
		}
		entry.Msg("Flushed")
	}
	return firstErr
}
