package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/canopy-network/geyserx/pkg/db/dbtest"
	"github.com/canopy-network/geyserx/pkg/models"
	"github.com/canopy-network/geyserx/pkg/queue"
	"github.com/canopy-network/geyserx/pkg/queue/queuetest"
	"github.com/canopy-network/geyserx/pkg/retry"
	"github.com/canopy-network/geyserx/pkg/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testStream   = "events"
	testGroup    = "db_processor"
	testConsumer = "db_processor_consumer_1"
)

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

type persistHarness struct {
	mem      *queuetest.MemStream
	store    *dbtest.MemStore
	producer *queue.Producer
	driver   *PersistDriver
}

func newPersistHarness(t *testing.T, batchSize int) *persistHarness {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	mem := queuetest.New()
	producer, err := queue.NewProducer(mem, testStream, logger)
	require.NoError(t, err)

	consumer, err := queue.NewConsumer(mem, queue.ConsumerConfig{
		Stream:   testStream,
		Group:    testGroup,
		Consumer: testConsumer,
		Logger:   logger,
	})
	require.NoError(t, err)
	require.NoError(t, consumer.EnsureGroup(ctx))

	store := dbtest.New()
	w, err := writer.New(store, batchSize, logger)
	require.NoError(t, err)

	driver, err := NewPersistDriver(consumer, w, PersistConfig{
		ReadCount:   100,
		ReadBlock:   -1,
		Retry:       fastRetry(),
		ReadBackoff: fastRetry(),
		Logger:      logger,
	})
	require.NoError(t, err)

	return &persistHarness{mem: mem, store: store, producer: producer, driver: driver}
}

func (h *persistHarness) append(t *testing.T, events ...models.IndexEvent) []string {
	t.Helper()
	ids := make([]string, 0, len(events))
	for _, e := range events {
		id, err := h.producer.Append(context.Background(), e)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func accountAt(pubkey string, lamports uint64) models.IndexEvent {
	return models.AccountEvent(models.AccountSnapshot{
		Pubkey:   pubkey,
		Lamports: lamports,
		Owner:    "11111111111111111111111111111111",
		Data:     "AQID",
		Slot:     100,
	})
}

func txEvent(sig string) models.IndexEvent {
	return models.TransactionEvent(models.TxRecord{Signature: sig, Slot: 100, Success: true})
}

func TestPersistStepWritesThenAcknowledgesBatch(t *testing.T) {
	h := newPersistHarness(t, 10)
	h.append(t, accountAt("A", 1), accountAt("B", 2), accountAt("A", 3), txEvent("S"))

	n, err := h.driver.Step(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	rows := h.store.AccountRows()
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].Pubkey)
	assert.EqualValues(t, 3, rows[0].Lamports)
	assert.Empty(t, rows[0].Data)
	assert.Equal(t, "B", rows[1].Pubkey)
	require.Len(t, h.store.TransactionRows(), 1)

	assert.Empty(t, h.mem.Pending(testStream, testGroup))
	assert.Equal(t, PersistStats{Batches: 1, Entries: 4, Acked: 4}, h.driver.Stats())
}

func TestPersistStepDoesNotAcknowledgeWhenFlushFails(t *testing.T) {
	h := newPersistHarness(t, 10)
	ids := h.append(t, accountAt("A", 1), accountAt("B", 2), txEvent("S"))
	boom := errors.New("scylla unavailable")
	h.store.FailAccountsAfter(0, boom)

	n, err := h.driver.Step(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Zero(t, n)

	assert.Equal(t, ids, h.mem.Pending(testStream, testGroup))
	assert.Zero(t, h.store.TransactionUpserts())
	assert.Zero(t, h.driver.Stats().Acked)
}

func TestPersistStepLeavesUndecodableEntryPending(t *testing.T) {
	h := newPersistHarness(t, 10)
	poison, err := h.mem.XAdd(context.Background(), testStream, map[string]interface{}{queue.PayloadField: "not json"})
	require.NoError(t, err)
	h.append(t, accountAt("A", 1))

	n, err := h.driver.Step(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []string{poison}, h.mem.Pending(testStream, testGroup))
	assert.Len(t, h.store.AccountRows(), 1)
}

func TestPersistStepAcknowledgesObservedEvents(t *testing.T) {
	h := newPersistHarness(t, 10)
	h.append(t, models.SlotEvent(7), models.BlockEvent(json.RawMessage(`{"slot":7}`)), accountAt("A", 1))

	n, err := h.driver.Step(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.EqualValues(t, 2, h.driver.Stats().Observed)
	assert.Len(t, h.store.AccountRows(), 1)
	assert.Empty(t, h.store.TransactionRows())
}

func TestPersistStepEmptyQueue(t *testing.T) {
	h := newPersistHarness(t, 10)

	n, err := h.driver.Step(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, h.driver.Stats().Batches)
}

func TestPersistStepRecoversFromTransientFlushFailure(t *testing.T) {
	h := newPersistHarness(t, 10)
	h.append(t, accountAt("A", 1), accountAt("B", 1))
	h.store.FailAccountsNext(1, errors.New("timeout"))

	n, err := h.driver.Step(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Len(t, h.store.AccountRows(), 2)
	assert.Empty(t, h.mem.Pending(testStream, testGroup))
}

func TestPersistRestartRedeliversUnflushedBatch(t *testing.T) {
	h := newPersistHarness(t, 10)
	ids := h.append(t, accountAt("A", 1), accountAt("B", 1))
	h.store.FailAccountsAfter(1, errors.New("timeout"))

	_, err := h.driver.Step(context.Background())
	require.Error(t, err)
	assert.Equal(t, ids, h.mem.Pending(testStream, testGroup))

	h.store.FailAccountsAfter(0, nil)
	n, err := newRestartedDriver(t, h).Step(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Len(t, h.store.AccountRows(), 2)
	assert.Empty(t, h.mem.Pending(testStream, testGroup))
}

// newRestartedDriver simulates a process restart: a fresh consumer with the same identity
// and a fresh writer over the same stores.
func newRestartedDriver(t *testing.T, h *persistHarness) *PersistDriver {
	t.Helper()
	logger := zaptest.NewLogger(t)
	consumer, err := queue.NewConsumer(h.mem, queue.ConsumerConfig{
		Stream:   testStream,
		Group:    testGroup,
		Consumer: testConsumer,
		Logger:   logger,
	})
	require.NoError(t, err)
	w, err := writer.New(h.store, 10, logger)
	require.NoError(t, err)
	d, err := NewPersistDriver(consumer, w, PersistConfig{ReadCount: 100, ReadBlock: -1, Retry: fastRetry(), Logger: logger})
	require.NoError(t, err)
	return d
}

func TestPersistStepRetriesAcknowledge(t *testing.T) {
	h := newPersistHarness(t, 10)
	h.append(t, accountAt("A", 1))
	boom := errors.New("connection reset")
	h.mem.FailAcks(boom)

	_, err := h.driver.Step(context.Background())
	require.ErrorIs(t, err, boom)

	// Rows are committed but the entry is still pending; a restart re-upserts it.
	assert.Len(t, h.store.AccountRows(), 1)
	require.Len(t, h.mem.Pending(testStream, testGroup), 1)

	h.mem.FailAcks(nil)
	n, err := newRestartedDriver(t, h).Step(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.EqualValues(t, 2, h.store.AccountUpserts())
	assert.Len(t, h.store.AccountRows(), 1)
}

func TestPersistStepBacksOffOnReadErrors(t *testing.T) {
	h := newPersistHarness(t, 10)
	h.mem.FailReads(errors.New("i/o timeout"))

	n, err := h.driver.Step(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	h.mem.FailReads(nil)
	h.append(t, accountAt("A", 1))
	n, err = h.driver.Step(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPersistRunStopsOnCancel(t *testing.T) {
	h := newPersistHarness(t, 10)
	h.append(t, accountAt("A", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, h.driver.Run(ctx))
	assert.Len(t, h.store.AccountRows(), 1)
	assert.Empty(t, h.mem.Pending(testStream, testGroup))
}

func TestPersistRunReturnsFatalFlushError(t *testing.T) {
	h := newPersistHarness(t, 10)
	h.append(t, accountAt("A", 1))
	h.store.FailAccountsAfter(0, errors.New("keyspace missing"))

	err := h.driver.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyspace missing")
}

func TestNewPersistDriverDefaults(t *testing.T) {
	_, err := NewPersistDriver(nil, nil, PersistConfig{})
	require.Error(t, err)

	h := newPersistHarness(t, 10)
	d, err := NewPersistDriver(h.driver.queue, h.driver.writer, PersistConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultReadCount, d.config.ReadCount)
	assert.Equal(t, 5, d.config.Retry.MaxRetries)
}
