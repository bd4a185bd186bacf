package queue

import (
	"context"
	"testing"
	"time"

	"github.com/canopy-network/geyserx/pkg/queue/queuetest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestReaperClaimsIdleEntriesFromDeadConsumer(t *testing.T) {
	ctx := context.Background()
	mem := queuetest.New()
	p := newProducer(t, mem)

	dead := newConsumer(t, mem, "c1")
	require.NoError(t, dead.EnsureGroup(ctx))
	for _, k := range []string{"A", "B"} {
		_, err := p.Append(ctx, accountEvent(k))
		require.NoError(t, err)
	}
	stranded, err := dead.ReadBatch(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, stranded, 2)

	survivor := newConsumer(t, mem, "c2")
	entries, err := survivor.ReadBatch(ctx, 10, 0)
	require.NoError(t, err)
	require.Empty(t, entries)

	reaper, err := NewReaper(mem, survivor, time.Minute, zaptest.NewLogger(t))
	require.NoError(t, err)

	// Not idle long enough yet.
	claimed, err := reaper.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, claimed)

	mem.Advance(2 * time.Minute)
	claimed, err = reaper.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, claimed)
	require.Equal(t, "c2", mem.Owner(testStream, testGroup, stranded[0].ID))

	entries, err = survivor.ReadBatch(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, IDs(stranded), IDs(entries))

	_, err = survivor.Acknowledge(ctx, IDs(entries))
	require.NoError(t, err)
	require.Empty(t, mem.Pending(testStream, testGroup))
}

func TestReaperReportsStuckEntryOnce(t *testing.T) {
	ctx := context.Background()
	mem := queuetest.New()
	p := newProducer(t, mem)
	c := newConsumer(t, mem, "c1")
	require.NoError(t, c.EnsureGroup(ctx))

	id, err := p.Append(ctx, accountEvent("A"))
	require.NoError(t, err)
	entries, err := c.ReadBatch(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	core, logs := observer.New(zap.InfoLevel)
	reaper, err := NewReaper(mem, c, time.Minute, zap.New(core))
	require.NoError(t, err)

	// The first claim hands the entry back through a rescan.
	mem.Advance(2 * time.Minute)
	claimed, err := reaper.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, claimed)
	entries, err = c.ReadBatch(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []string{id}, IDs(entries))
	entries, err = c.ReadBatch(ctx, 10, -1)
	require.NoError(t, err)
	require.Empty(t, entries)

	// Later claims of the same entry neither rescan nor repeat the warning.
	for i := 0; i < 3; i++ {
		mem.Advance(2 * time.Minute)
		claimed, err = reaper.Run(ctx)
		require.NoError(t, err)
		require.Zero(t, claimed)

		entries, err = c.ReadBatch(ctx, 10, -1)
		require.NoError(t, err)
		require.Empty(t, entries)
	}
	require.Equal(t, 1, logs.FilterMessage("Claimed idle pending entries").Len())
	stuck := logs.FilterMessage("Entry still pending after reclaim").All()
	require.Len(t, stuck, 1)
	require.Equal(t, id, stuck[0].ContextMap()["entry_id"])
	require.Equal(t, []string{id}, mem.Pending(testStream, testGroup))

	// Once acknowledged the id is forgotten.
	_, err = c.Acknowledge(ctx, []string{id})
	require.NoError(t, err)
	claimed, err = reaper.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, claimed)
	require.Zero(t, reaper.claimed.Size())
}

func TestIDLess(t *testing.T) {
	require.True(t, idLess("1-0", "2-0"))
	require.True(t, idLess("5-1", "5-2"))
	require.True(t, idLess("9-0", "10-0"))
	require.False(t, idLess("3-0", "3-0"))
	require.False(t, idLess("10-0", "9-5"))
}

func TestReaperWithEmptyPendingList(t *testing.T) {
	ctx := context.Background()
	mem := queuetest.New()
	c := newConsumer(t, mem, "c1")
	require.NoError(t, c.EnsureGroup(ctx))

	reaper, err := NewReaper(mem, c, 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	claimed, err := reaper.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, claimed)
}

func TestReaperReportsMissingGroup(t *testing.T) {
	mem := queuetest.New()
	reaper, err := NewReaper(mem, newConsumer(t, mem, "c1"), time.Minute, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = reaper.Run(context.Background())
	require.Error(t, err)
}

func TestSlotWatermark(t *testing.T) {
	ctx := context.Background()
	mem := queuetest.New()
	w, err := NewSlotWatermark(mem, "current_slot")
	require.NoError(t, err)

	_, found, err := w.Get(ctx)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, w.Set(ctx, 250_000_001))
	require.NoError(t, w.Set(ctx, 250_000_000))

	slot, found, err := w.Get(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(250_000_000), slot)

	raw, _, _ := mem.Get(ctx, "current_slot")
	require.Equal(t, "250000000", raw)

	require.NoError(t, mem.Set(ctx, "current_slot", "garbage"))
	_, _, err = w.Get(ctx)
	require.Error(t, err)
}
