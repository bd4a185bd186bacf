package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/canopy-network/geyserx/pkg/models"
	"github.com/canopy-network/geyserx/pkg/queue/queuetest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testStream = "events"
	testGroup  = "persist"
)

func newConsumer(t *testing.T, client StreamClient, name string) *Consumer {
	t.Helper()
	c, err := NewConsumer(client, ConsumerConfig{
		Stream:   testStream,
		Group:    testGroup,
		Consumer: name,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return c
}

func newProducer(t *testing.T, client StreamClient) *Producer {
	t.Helper()
	p, err := NewProducer(client, testStream, zaptest.NewLogger(t))
	require.NoError(t, err)
	return p
}

func accountEvent(pubkey string) models.IndexEvent {
	return models.AccountEvent(models.AccountSnapshot{Pubkey: pubkey, Lamports: 1})
}

type failingGroupCreate struct {
	*queuetest.MemStream
	err error
}

func (f failingGroupCreate) XGroupCreateMkStream(context.Context, string, string, string) error {
	return f.err
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := queuetest.New()
	c := newConsumer(t, mem, "c1")

	require.NoError(t, c.EnsureGroup(ctx))
	require.NoError(t, c.EnsureGroup(ctx))
}

func TestEnsureGroupPropagatesOtherErrors(t *testing.T) {
	boom := errors.New("READONLY You can't write against a read only replica")
	c := newConsumer(t, failingGroupCreate{MemStream: queuetest.New(), err: boom}, "c1")

	err := c.EnsureGroup(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestAppendWritesSinglePayloadField(t *testing.T) {
	ctx := context.Background()
	mem := queuetest.New()
	p := newProducer(t, mem)

	id, err := p.Append(ctx, models.SlotEvent(5))
	require.NoError(t, err)
	require.Equal(t, "1-0", id)

	entries := mem.Entries(testStream)
	require.Len(t, entries, 1)
	require.Equal(t, map[string]interface{}{PayloadField: `{"Slot":5}`}, entries[0].Values)
}

func TestAppendRejectsEmptyEvent(t *testing.T) {
	mem := queuetest.New()
	_, err := newProducer(t, mem).Append(context.Background(), models.IndexEvent{})
	require.ErrorIs(t, err, models.ErrEmptyEvent)
	require.Zero(t, mem.Len(testStream))
}

func TestReadBatchTimeoutIsEmpty(t *testing.T) {
	ctx := context.Background()
	mem := queuetest.New()
	c := newConsumer(t, mem, "c1")
	require.NoError(t, c.EnsureGroup(ctx))

	entries, err := c.ReadBatch(ctx, 5, 10*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReadBatchReturnsEntriesInOrderAndAcks(t *testing.T) {
	ctx := context.Background()
	mem := queuetest.New()
	p := newProducer(t, mem)
	c := newConsumer(t, mem, "c1")
	require.NoError(t, c.EnsureGroup(ctx))

	for _, k := range []string{"A", "B", "C"} {
		_, err := p.Append(ctx, accountEvent(k))
		require.NoError(t, err)
	}

	entries, err := c.ReadBatch(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	acc, ok := entries[0].Event.Account()
	require.True(t, ok)
	require.Equal(t, "A", acc.Pubkey)

	n, err := c.Acknowledge(ctx, IDs(entries))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	entries, err = c.ReadBatch(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []string{entries[0].ID}, mem.Pending(testStream, testGroup))

	n, err = c.Acknowledge(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestUndecodableEntryStaysPendingAndIsRedelivered(t *testing.T) {
	ctx := context.Background()
	mem := queuetest.New()
	p := newProducer(t, mem)
	c := newConsumer(t, mem, "c1")
	require.NoError(t, c.EnsureGroup(ctx))

	poisonID, err := mem.XAdd(ctx, testStream, map[string]interface{}{PayloadField: `{"Entry":{}}`})
	require.NoError(t, err)
	goodID, err := p.Append(ctx, accountEvent("A"))
	require.NoError(t, err)

	entries, err := c.ReadBatch(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, goodID, entries[0].ID)

	_, err = c.Acknowledge(ctx, IDs(entries))
	require.NoError(t, err)
	require.Equal(t, []string{poisonID}, mem.Pending(testStream, testGroup))

	// A restarted consumer with the same identity sees the entry again.
	restarted := newConsumer(t, mem, "c1")
	entries, err = restarted.ReadBatch(ctx, 10, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, 2, mem.Deliveries(testStream, testGroup, poisonID))
	require.Equal(t, []string{poisonID}, mem.Pending(testStream, testGroup))
}

func TestRestartedConsumerDrainsPendingBeforeNewEntries(t *testing.T) {
	ctx := context.Background()
	mem := queuetest.New()
	p := newProducer(t, mem)
	first := newConsumer(t, mem, "c1")
	require.NoError(t, first.EnsureGroup(ctx))

	for _, k := range []string{"A", "B", "C"} {
		_, err := p.Append(ctx, accountEvent(k))
		require.NoError(t, err)
	}

	crashed, err := first.ReadBatch(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, crashed, 2)

	restarted := newConsumer(t, mem, "c1")

	entries, err := restarted.ReadBatch(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, []string{crashed[0].ID}, IDs(entries))

	entries, err = restarted.ReadBatch(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, []string{crashed[1].ID}, IDs(entries))

	// Pending list exhausted: switch to undelivered entries.
	entries, err = restarted.ReadBatch(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	acc, _ := entries[0].Event.Account()
	require.Equal(t, "C", acc.Pubkey)
}

func TestReadBatchPropagatesTransportErrors(t *testing.T) {
	ctx := context.Background()
	mem := queuetest.New()
	c := newConsumer(t, mem, "c1")
	require.NoError(t, c.EnsureGroup(ctx))

	boom := errors.New("connection refused")
	mem.FailReads(boom)
	_, err := c.ReadBatch(ctx, 5, 0)
	require.ErrorIs(t, err, boom)

	mem.FailAcks(boom)
	_, err = c.Acknowledge(ctx, []string{"1-0"})
	require.ErrorIs(t, err, boom)
}

func TestNewConsumerValidatesConfig(t *testing.T) {
	mem := queuetest.New()
	_, err := NewConsumer(nil, ConsumerConfig{Stream: "s", Group: "g", Consumer: "c"})
	require.Error(t, err)
	_, err = NewConsumer(mem, ConsumerConfig{Group: "g", Consumer: "c"})
	require.Error(t, err)
	_, err = NewConsumer(mem, ConsumerConfig{Stream: "s", Consumer: "c"})
	require.Error(t, err)
	_, err = NewConsumer(mem, ConsumerConfig{Stream: "s", Group: "g"})
	require.Error(t, err)
}
