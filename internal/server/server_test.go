package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/calder-hwy/poolhouse/internal/database"
	"github.com/calder-hwy/poolhouse/internal/domain"
	"github.com/calder-hwy/poolhouse/internal/events"
	"github.com/calder-hwy/poolhouse/internal/modules/ledger"
	"github.com/calder-hwy/poolhouse/internal/modules/router"
	"github.com/calder-hwy/poolhouse/internal/modules/strategy"
	"github.com/calder-hwy/poolhouse/internal/modules/vault"
)

const testToken = "test-operator-token"

type serverEnv struct {
	server *Server
	ledger *ledger.Ledger
	vault  *vault.Vault
}

func newTestServer(t *testing.T) *serverEnv {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ledger.InitSchema, vault.InitSchema, router.InitSchema))

	ledg := ledger.New(db.Conn(), zerolog.Nop())
	vaultRepo := vault.NewRepository(db.Conn(), zerolog.Nop())
	bus := events.NewBus(zerolog.Nop())

	source := strategy.NewYieldSource(0)
	registry := strategy.NewRegistry()
	require.NoError(t, registry.Register(strategy.NewSimulated("lend", "USD", source, zerolog.Nop())))

	v, err := vault.New(vault.Config{
		Bucket:          "conservative",
		Allocations:     []domain.Allocation{{StrategyID: "lend", WeightBps: 10_000}},
		FeeRateBps:      0,
		FeeRecipient:    "treasury",
		HarvestInterval: time.Hour,
		Registry:        registry,
		Ledger:          ledg,
		Repository:      vaultRepo,
		Bus:             bus,
		Log:             zerolog.Nop(),
	})
	require.NoError(t, err)

	q, err := router.New(router.Config{
		Bucket:         "conservative",
		BatchInterval:  time.Minute,
		MinimumDeposit: 100,
		Vault:          v,
		Ledger:         ledg,
		Repository:     router.NewRepository(db.Conn(), zerolog.Nop()),
		Bus:            bus,
		Log:            zerolog.Nop(),
	})
	require.NoError(t, err)

	s := New(Config{
		Port:          0,
		OperatorToken: testToken,
		DevMode:       true,
		Log:           zerolog.Nop(),
		Vaults:        map[string]*vault.Vault{"conservative": v},
		Queues:        map[string]*router.Queue{"conservative": q},
		Ledger:        ledg,
		VaultRepo:     vaultRepo,
		Bus:           bus,
	})

	return &serverEnv{server: s, ledger: ledg, vault: v}
}

func (e *serverEnv) do(method, path, body, token string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOperatorEndpointsRequireToken(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(http.MethodPost, "/api/vaults/conservative/compound", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/vaults/conservative/compound", "", "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/vaults/conservative/compound", "", testToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownBucketIs404(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(http.MethodGet, "/api/vaults/nope/", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnqueueDepositFlow(t *testing.T) {
	env := newTestServer(t)
	require.NoError(t, env.ledger.Credit("alice", 1000))

	rec := env.do(http.MethodPost, "/api/buckets/conservative/deposits",
		`{"participant":"alice","amount":500}`, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(500), resp["pending_deposit"])

	// Without funds the queue reports a conflict, not a server error.
	rec = env.do(http.MethodPost, "/api/buckets/conservative/deposits",
		`{"participant":"bob","amount":500}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Below minimum is a bad request.
	rec = env.do(http.MethodPost, "/api/buckets/conservative/deposits",
		`{"participant":"alice","amount":50}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVaultSnapshotEndpoint(t *testing.T) {
	env := newTestServer(t)
	_, err := env.vault.Deposit("alice", 1000)
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/vaults/conservative/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot vault.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, "conservative", snapshot.Bucket)
	assert.Equal(t, int64(1000), snapshot.TotalShares)
	assert.Equal(t, int64(1000), snapshot.TotalAssets)
}

func TestHolderValueAtScale(t *testing.T) {
	env := newTestServer(t)

	// Large enough that shares*assets overflows int64 if multiplied
	// directly.
	const amount = int64(3_000_000_000_000)
	_, err := env.vault.Deposit("whale", amount)
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/vaults/conservative/holders/whale", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(amount), resp["shares"])
	assert.Equal(t, float64(amount), resp["value"])
}

func TestEventsWebsocketStreams(t *testing.T) {
	env := newTestServer(t)

	srv := httptest.NewServer(env.server.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"/api/events/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The handler subscribes after the handshake; keep publishing until
	// the first event comes through.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			env.server.bus.Publish(events.HarvestCompleted, "conservative",
				events.HarvestCompletedData{TotalEarned: 42})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var event events.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, events.HarvestCompleted, event.Type)
	assert.Equal(t, "conservative", event.Bucket)
}

func TestFlushEndpoint(t *testing.T) {
	env := newTestServer(t)
	require.NoError(t, env.ledger.Credit("alice", 1000))

	rec := env.do(http.MethodPost, "/api/buckets/conservative/deposits",
		`{"participant":"alice","amount":1000}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(http.MethodPost, "/api/buckets/conservative/flush", `{"kind":"deposit"}`, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var result router.FlushResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, int64(1000), result.TotalIn)
	assert.Equal(t, int64(1000), result.TotalOut)
	assert.Equal(t, int64(1000), env.vault.BalanceOf("alice"))

	// An immediate second flush is gated by the batch interval.
	rec = env.do(http.MethodPost, "/api/buckets/conservative/flush", `{"kind":"deposit"}`, testToken)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
