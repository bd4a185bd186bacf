package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/canopy-network/geyserx/pkg/logging"
	"github.com/canopy-network/geyserx/pkg/metrics"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

const (
	claimStart          = "0-0"
	defaultClaimCount   = 100
	defaultClaimMinIdle = time.Minute
)

// Reaper reports the group's pending list and claims entries that have sat idle
// longer than MinIdle (typically left behind by a consumer that died) into its consumer.
type Reaper struct {
	client   StreamClient
	consumer *Consumer
	minIdle  time.Duration
	count    int64
	logger   *zap.Logger

	// claimed maps ids already handed to the consumer to whether they were reported
	// as stuck.
	claimed *xsync.Map[string, bool]
}

func NewReaper(client StreamClient, consumer *Consumer, minIdle time.Duration, logger *zap.Logger) (*Reaper, error) {
	if client == nil {
		return nil, errors.New("stream client is required")
	}
	if consumer == nil {
		return nil, errors.New("consumer is required")
	}
	if minIdle <= 0 {
		minIdle = defaultClaimMinIdle
	}
	cfg := consumer.Config()
	return &Reaper{
		client:   client,
		consumer: consumer,
		minIdle:  minIdle,
		count:    defaultClaimCount,
		claimed:  xsync.NewMap[string, bool](),
		logger: logging.OrNop(logger).With(
			zap.String("component", "reaper"),
			zap.String("stream", cfg.Stream),
			zap.String("group", cfg.Group),
			zap.String("consumer", cfg.Consumer)),
	}, nil
}

// Run performs one pass and returns the number of entries newly claimed. Claimed entries
// are delivered by the consumer's next ReadBatch. An entry that comes back idle after it
// was already claimed is reported once and does not trigger another rescan.
func (r *Reaper) Run(ctx context.Context) (int, error) {
	cfg := r.consumer.Config()

	summary, err := r.client.XPending(ctx, cfg.Stream, cfg.Group)
	if err != nil {
		return 0, fmt.Errorf("pending summary: %w", err)
	}
	metrics.PendingEntries.Set(float64(summary.Count))
	r.forgetBefore(summary.Lower)
	if summary.Count == 0 {
		return 0, nil
	}

	fields := []zap.Field{
		zap.Int64("pending", summary.Count),
		zap.String("lowest_id", summary.Lower),
		zap.String("highest_id", summary.Higher),
	}
	for name, n := range summary.Consumers {
		fields = append(fields, zap.Int64("consumer."+name, n))
	}
	r.logger.Info("Pending entries", fields...)

	claimed := 0
	start := claimStart
	for {
		msgs, next, err := r.client.XAutoClaim(ctx, cfg.Stream, cfg.Group, cfg.Consumer, r.minIdle, start, r.count)
		if err != nil {
			return claimed, fmt.Errorf("claim idle entries from %s: %w", start, err)
		}
		for _, msg := range msgs {
			reported, seen := r.claimed.LoadOrStore(msg.ID, false)
			if !seen {
				claimed++
				continue
			}
			if !reported {
				r.claimed.Store(msg.ID, true)
				r.logger.Warn("Entry still pending after reclaim", zap.String("entry_id", msg.ID))
			}
		}
		if next == "" || next == claimStart {
			break
		}
		start = next
	}

	if claimed > 0 {
		metrics.EntriesReclaimed.Add(float64(claimed))
		r.logger.Warn("Claimed idle pending entries",
			zap.Int("claimed", claimed),
			zap.Duration("min_idle", r.minIdle))
		r.consumer.RequestRescan()
	}
	return claimed, nil
}

// forgetBefore drops claimed ids below lowest, which have left the pending list.
// An empty lowest means nothing is pending.
func (r *Reaper) forgetBefore(lowest string) {
	r.claimed.Range(func(id string, _ bool) bool {
		if lowest == "" || idLess(id, lowest) {
			r.claimed.Delete(id)
		}
		return true
	})
}

// idLess orders "<ms>-<seq>" stream ids. Unparsable ids sort first.
func idLess(a, b string) bool {
	am, as := splitID(a)
	bm, bs := splitID(b)
	if am != bm {
		return am < bm
	}
	return as < bs
}

func splitID(id string) (uint64, uint64) {
	ms, seq, _ := strings.Cut(id, "-")
	m, _ := strconv.ParseUint(ms, 10, 64)
	n, _ := strconv.ParseUint(seq, 10, 64)
	return m, n
}
