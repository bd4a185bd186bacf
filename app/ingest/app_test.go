package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/canopy-network/geyserx/pkg/firehose"
	"github.com/canopy-network/geyserx/pkg/queue"
	"github.com/canopy-network/geyserx/pkg/queue/queuetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type replay struct {
	updates []*firehose.SubscribeUpdate
}

func (r *replay) Recv(context.Context) (*firehose.SubscribeUpdate, error) {
	if len(r.updates) == 0 {
		return nil, io.EOF
	}
	u := r.updates[0]
	r.updates = r.updates[1:]
	return u, nil
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("FIREHOSE_ENDPOINT", "wss://firehose.example/ws")
	t.Setenv("FIREHOSE_PROGRAMS", "ProgA, ProgB,")
	t.Setenv("FIREHOSE_COMMITMENT", "")
	t.Setenv("REDIS_STREAM_MAXLEN", "100000")

	cfg := ConfigFromEnv()
	assert.Equal(t, "wss://firehose.example/ws", cfg.Endpoint)
	assert.Equal(t, []string{"ProgA", "ProgB"}, cfg.Programs)
	assert.Equal(t, firehose.CommitmentConfirmed, cfg.Commitment)
	assert.EqualValues(t, 100000, cfg.StreamMaxLen)
	assert.Equal(t, queue.DefaultStream, cfg.Stream)

	req := cfg.Subscription()
	assert.Equal(t, []string{"ProgA", "ProgB"}, req.Accounts["defi_accounts"].Owner)
	assert.Equal(t, firehose.CommitmentConfirmed, req.Commitment)
}

func TestConfigDefaultsToDefiPrograms(t *testing.T) {
	t.Setenv("FIREHOSE_PROGRAMS", "")
	assert.Equal(t, firehose.DefaultPrograms(), ConfigFromEnv().Programs)
}

func TestIngestAppWiresDriver(t *testing.T) {
	ctx := context.Background()
	mem := queuetest.New()
	app := &App{
		Config: Config{Stream: "events", SlotKey: "current_slot", AppendMaxRetries: 1, OpsAddr: ":0"},
		Logger: zaptest.NewLogger(t),
	}
	stream := &replay{updates: []*firehose.SubscribeUpdate{
		{Slot: &firehose.SubscribeUpdateSlot{Slot: 42}},
		{Account: &firehose.SubscribeUpdateAccount{Slot: 42, Account: &firehose.SubscribeUpdateAccountInfo{
			Pubkey: make([]byte, 32), Owner: make([]byte, 32),
		}}},
	}}
	require.NoError(t, app.wire(stream, mem, mem))

	require.NoError(t, app.Driver.Run(ctx))
	assert.Equal(t, 1, mem.Len("events"))

	slot, found, err := app.Watermark.Get(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 42, slot)
}

func TestIngestOpsEndpoints(t *testing.T) {
	app := &App{Config: Config{OpsAddr: ":0"}, Logger: zaptest.NewLogger(t)}
	app.SetupServer()

	status := func(path string) int {
		rec := httptest.NewRecorder()
		app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, status("/healthz"))
	assert.Equal(t, http.StatusServiceUnavailable, status("/readyz"))
	app.ready.Store(true)
	assert.Equal(t, http.StatusOK, status("/readyz"))
}

func TestIngestReadinessFollowsRedisHealth(t *testing.T) {
	mem := queuetest.New()
	app := &App{
		Config: Config{Stream: "events", SlotKey: "current_slot", AppendMaxRetries: 1, OpsAddr: ":0"},
		Logger: zaptest.NewLogger(t),
	}
	require.NoError(t, app.wire(&replay{}, mem, mem))
	app.SetupServer()
	ctx := context.Background()

	assert.False(t, app.Ready(ctx))
	app.ready.Store(true)
	assert.True(t, app.Ready(ctx))

	mem.FailHealth(errors.New("connection refused"))
	assert.False(t, app.Ready(ctx))

	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
