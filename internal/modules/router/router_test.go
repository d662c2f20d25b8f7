package router

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder-hwy/poolhouse/internal/database"
	"github.com/calder-hwy/poolhouse/internal/domain"
	"github.com/calder-hwy/poolhouse/internal/modules/ledger"
	"github.com/calder-hwy/poolhouse/internal/modules/strategy"
	"github.com/calder-hwy/poolhouse/internal/modules/vault"
)

type queueEnv struct {
	queue   *Queue
	vault   *vault.Vault
	ledger  *ledger.Ledger
	repo    *Repository
	custody string
	current time.Time
}

func (e *queueEnv) advance(d time.Duration) {
	e.current = e.current.Add(d)
}

func newQueueEnv(t *testing.T, apyBps int64) *queueEnv {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ledger.InitSchema, vault.InitSchema, InitSchema))

	env := &queueEnv{
		ledger:  ledger.New(db.Conn(), zerolog.Nop()),
		repo:    NewRepository(db.Conn(), zerolog.Nop()),
		custody: CustodyAccount("test"),
		current: time.Unix(1_700_000_000, 0).UTC(),
	}
	clock := func() time.Time { return env.current }

	source := strategy.NewYieldSource(apyBps)
	source.SetClock(clock)
	registry := strategy.NewRegistry()
	require.NoError(t, registry.Register(strategy.NewSimulated("lend", "USD", source, zerolog.Nop())))

	v, err := vault.New(vault.Config{
		Bucket:          "test",
		Allocations:     []domain.Allocation{{StrategyID: "lend", WeightBps: 10_000}},
		FeeRateBps:      0,
		FeeRecipient:    "treasury",
		HarvestInterval: time.Hour,
		Registry:        registry,
		Ledger:          env.ledger,
		Repository:      vault.NewRepository(db.Conn(), zerolog.Nop()),
		Log:             zerolog.Nop(),
	})
	require.NoError(t, err)
	v.SetClock(clock)
	env.vault = v

	q, err := New(Config{
		Bucket:         "test",
		BatchInterval:  time.Minute,
		MinimumDeposit: 100,
		Vault:          v,
		Ledger:         env.ledger,
		Repository:     env.repo,
		Log:            zerolog.Nop(),
	})
	require.NoError(t, err)
	q.SetClock(clock)
	env.queue = q

	return env
}

func TestEnqueueDepositBelowMinimum(t *testing.T) {
	env := newQueueEnv(t, 0)
	require.NoError(t, env.ledger.Credit("alice", 1000))

	err := env.queue.EnqueueDeposit("alice", 99)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	balance, err := env.ledger.BalanceOf("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
	assert.Equal(t, int64(0), env.queue.GetPendingDeposit("alice"))
}

func TestEnqueueDepositWithoutFunds(t *testing.T) {
	env := newQueueEnv(t, 0)

	err := env.queue.EnqueueDeposit("alice", 500)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int64(0), env.queue.GetPendingDeposit("alice"))
}

func TestEnqueueDepositTakesCustodyAndAccumulates(t *testing.T) {
	env := newQueueEnv(t, 0)
	require.NoError(t, env.ledger.Credit("alice", 1000))

	require.NoError(t, env.queue.EnqueueDeposit("alice", 500))
	require.NoError(t, env.queue.EnqueueDeposit("alice", 300))

	assert.Equal(t, int64(800), env.queue.GetPendingDeposit("alice"))

	aliceBalance, err := env.ledger.BalanceOf("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(200), aliceBalance)

	custodyBalance, err := env.ledger.BalanceOf(env.custody)
	require.NoError(t, err)
	assert.Equal(t, int64(800), custodyBalance)

	status := env.queue.GetStatus()
	assert.Equal(t, int64(800), status.TotalPendingDeposit)
}

func TestFlushDepositsApportionsShares(t *testing.T) {
	env := newQueueEnv(t, 0)
	require.NoError(t, env.ledger.Credit("alice", 600))
	require.NoError(t, env.ledger.Credit("bob", 400))
	require.NoError(t, env.queue.EnqueueDeposit("alice", 600))
	require.NoError(t, env.queue.EnqueueDeposit("bob", 400))

	result, err := env.queue.FlushDeposits()
	require.NoError(t, err)

	assert.Equal(t, KindDeposit, result.Kind)
	assert.Equal(t, 2, result.Participants)
	assert.Equal(t, int64(1000), result.TotalIn)
	assert.Equal(t, int64(1000), result.TotalOut)
	assert.Equal(t, int64(0), result.Dust)
	assert.NotEmpty(t, result.FlushID)

	assert.Equal(t, int64(600), env.vault.BalanceOf("alice"))
	assert.Equal(t, int64(400), env.vault.BalanceOf("bob"))
	assert.Equal(t, int64(0), env.vault.BalanceOf(env.custody))

	custodyBalance, err := env.ledger.BalanceOf(env.custody)
	require.NoError(t, err)
	assert.Equal(t, int64(0), custodyBalance)

	assert.Equal(t, int64(0), env.queue.GetPendingDeposit("alice"))
	assert.Equal(t, int64(0), env.queue.GetStatus().TotalPendingDeposit)
}

func TestFlushDepositsDustStaysInCustody(t *testing.T) {
	env := newQueueEnv(t, 10_000)

	// Seed the vault so the share price moves off 1 before the batch.
	_, err := env.vault.Deposit("seed", 1000)
	require.NoError(t, err)
	env.advance(2 * 365 * 24 * time.Hour) // price is now 3

	require.NoError(t, env.ledger.Credit("alice", 100))
	require.NoError(t, env.ledger.Credit("bob", 101))
	require.NoError(t, env.queue.EnqueueDeposit("alice", 100))
	require.NoError(t, env.queue.EnqueueDeposit("bob", 101))

	result, err := env.queue.FlushDeposits()
	require.NoError(t, err)

	// 201 at price 3 mints 67 shares; the floors hand out 33+33.
	assert.Equal(t, int64(67), result.TotalOut)
	assert.Equal(t, int64(33), result.Apportioned["alice"])
	assert.Equal(t, int64(33), result.Apportioned["bob"])
	assert.Equal(t, int64(1), result.Dust)
	assert.LessOrEqual(t, result.Dust, int64(result.Participants-1))

	assert.Equal(t, int64(1), env.vault.BalanceOf(env.custody))
}

func TestFlushGatedByBatchInterval(t *testing.T) {
	env := newQueueEnv(t, 0)
	require.NoError(t, env.ledger.Credit("alice", 1000))
	require.NoError(t, env.queue.EnqueueDeposit("alice", 500))

	_, err := env.queue.FlushDeposits()
	require.NoError(t, err)

	require.NoError(t, env.queue.EnqueueDeposit("alice", 500))
	_, err = env.queue.FlushDeposits()
	assert.ErrorIs(t, err, domain.ErrNotReady)

	env.advance(time.Minute)
	_, err = env.queue.FlushDeposits()
	require.NoError(t, err)
}

func TestFlushNothingPending(t *testing.T) {
	env := newQueueEnv(t, 0)

	_, err := env.queue.FlushDeposits()
	assert.ErrorIs(t, err, domain.ErrNothingPending)

	_, err = env.queue.FlushWithdraws()
	assert.ErrorIs(t, err, domain.ErrNothingPending)
}

func TestWithdrawRoundTrip(t *testing.T) {
	env := newQueueEnv(t, 0)
	require.NoError(t, env.ledger.Credit("alice", 1000))
	require.NoError(t, env.queue.EnqueueDeposit("alice", 1000))

	_, err := env.queue.FlushDeposits()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), env.vault.BalanceOf("alice"))

	require.NoError(t, env.queue.EnqueueWithdraw("alice", 1000))
	assert.Equal(t, int64(0), env.vault.BalanceOf("alice"))
	assert.Equal(t, int64(1000), env.vault.BalanceOf(env.custody))

	env.advance(time.Minute)
	result, err := env.queue.FlushWithdraws()
	require.NoError(t, err)
	assert.Equal(t, KindWithdraw, result.Kind)
	assert.Equal(t, int64(1000), result.TotalIn)
	assert.Equal(t, int64(1000), result.TotalOut)

	// With no yield and no fee the full principal comes back.
	balance, err := env.ledger.BalanceOf("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
	assert.Equal(t, int64(0), env.vault.TotalShares())
}

func TestEnqueueWithdrawWithoutShares(t *testing.T) {
	env := newQueueEnv(t, 0)

	err := env.queue.EnqueueWithdraw("alice", 100)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int64(0), env.queue.GetPendingWithdraw("alice"))
}

func TestFlushBothWithOnlyDeposits(t *testing.T) {
	env := newQueueEnv(t, 0)
	require.NoError(t, env.ledger.Credit("alice", 500))
	require.NoError(t, env.queue.EnqueueDeposit("alice", 500))

	deposits, withdrawals, err := env.queue.FlushBoth()
	require.NoError(t, err)
	assert.NotNil(t, deposits)
	assert.Nil(t, withdrawals)
	assert.Equal(t, int64(500), env.vault.BalanceOf("alice"))
}

func TestFlushBothEmpty(t *testing.T) {
	env := newQueueEnv(t, 0)

	_, _, err := env.queue.FlushBoth()
	assert.ErrorIs(t, err, domain.ErrNothingPending)
}

func TestRestoreQueueFromPersistence(t *testing.T) {
	env := newQueueEnv(t, 0)
	require.NoError(t, env.ledger.Credit("alice", 1000))
	require.NoError(t, env.ledger.Credit("bob", 500))
	require.NoError(t, env.queue.EnqueueDeposit("alice", 700))
	require.NoError(t, env.queue.EnqueueDeposit("bob", 300))

	restored, err := New(Config{
		Bucket:         "test",
		BatchInterval:  time.Minute,
		MinimumDeposit: 100,
		Vault:          env.vault,
		Ledger:         env.ledger,
		Repository:     env.repo,
		Log:            zerolog.Nop(),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(700), restored.GetPendingDeposit("alice"))
	assert.Equal(t, int64(300), restored.GetPendingDeposit("bob"))
	assert.Equal(t, int64(1000), restored.GetStatus().TotalPendingDeposit)
}
