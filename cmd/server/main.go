package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/calder-hwy/poolhouse/internal/config"
	"github.com/calder-hwy/poolhouse/internal/database"
	"github.com/calder-hwy/poolhouse/internal/events"
	"github.com/calder-hwy/poolhouse/internal/modules/ledger"
	"github.com/calder-hwy/poolhouse/internal/modules/router"
	"github.com/calder-hwy/poolhouse/internal/modules/strategy"
	"github.com/calder-hwy/poolhouse/internal/modules/vault"
	"github.com/calder-hwy/poolhouse/internal/scheduler"
	"github.com/calder-hwy/poolhouse/internal/server"
	"github.com/calder-hwy/poolhouse/internal/services"
	"github.com/calder-hwy/poolhouse/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Msg("Starting poolhouse engine")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Engine failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ledger.InitSchema, vault.InitSchema, router.InitSchema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	buckets, err := config.LoadBuckets(cfg.BucketsPath)
	if err != nil {
		return fmt.Errorf("failed to load bucket topology: %w", err)
	}

	bus := events.NewBus(log)
	ledg := ledger.New(db.Conn(), log)
	vaultRepo := vault.NewRepository(db.Conn(), log)
	queueRepo := router.NewRepository(db.Conn(), log)

	vaults := make(map[string]*vault.Vault)
	queues := make(map[string]*router.Queue)

	for _, b := range buckets {
		registry := strategy.NewRegistry()
		for _, sc := range b.Strategies {
			source := strategy.NewYieldSource(sc.APYBps)
			sim := strategy.NewSimulated(sc.ID, sc.Asset, source, log)
			if err := registry.Register(sim); err != nil {
				return fmt.Errorf("bucket %q: %w", b.Name, err)
			}
		}

		v, err := vault.New(vault.Config{
			Bucket:          b.Name,
			Allocations:     b.Allocations(),
			FeeRateBps:      b.FeeRateBps,
			FeeRecipient:    b.FeeRecipient,
			HarvestInterval: time.Duration(b.HarvestIntervalSeconds) * time.Second,
			Registry:        registry,
			Ledger:          ledg,
			Repository:      vaultRepo,
			Bus:             bus,
			Log:             log,
		})
		if err != nil {
			return fmt.Errorf("bucket %q: %w", b.Name, err)
		}

		q, err := router.New(router.Config{
			Bucket:         b.Name,
			BatchInterval:  time.Duration(b.BatchIntervalSeconds) * time.Second,
			MinimumDeposit: b.MinimumDeposit,
			Vault:          v,
			Ledger:         ledg,
			Repository:     queueRepo,
			Bus:            bus,
			Log:            log,
		})
		if err != nil {
			return fmt.Errorf("bucket %q: %w", b.Name, err)
		}

		vaults[b.Name] = v
		queues[b.Name] = q
		log.Info().
			Str("bucket", b.Name).
			Int("strategies", registry.Len()).
			Msg("Bucket initialized")
	}

	sched := scheduler.New(log)
	if err := sched.AddJob("@every 10s", scheduler.NewFlushJob(queues, log)); err != nil {
		return fmt.Errorf("failed to register flush job: %w", err)
	}
	if err := sched.AddJob("@every 30s", scheduler.NewHarvestJob(vaults, log)); err != nil {
		return fmt.Errorf("failed to register harvest job: %w", err)
	}

	if cfg.BackupBucket != "" {
		backup, err := services.NewBackupService(context.Background(), cfg.BackupBucket, cfg.BackupEndpoint, db.Path(), log)
		if err != nil {
			return fmt.Errorf("failed to create backup service: %w", err)
		}
		if err := sched.AddJob(cfg.BackupSchedule, backup); err != nil {
			return fmt.Errorf("failed to register backup job: %w", err)
		}
	}

	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Port:          cfg.Port,
		OperatorToken: cfg.OperatorToken,
		DevMode:       cfg.DevMode,
		Log:           log,
		Vaults:        vaults,
		Queues:        queues,
		Ledger:        ledg,
		VaultRepo:     vaultRepo,
		Bus:           bus,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	log.Info().Msg("Shutdown complete")
	return nil
}
