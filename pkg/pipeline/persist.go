package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/geyserx/pkg/logging"
	"github.com/canopy-network/geyserx/pkg/models"
	"github.com/canopy-network/geyserx/pkg/queue"
	"github.com/canopy-network/geyserx/pkg/retry"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// EventQueue is the consumer side of the queue. queue.Consumer implements it.
type EventQueue interface {
	ReadBatch(ctx context.Context, maxCount int64, block time.Duration) ([]queue.Entry, error)
	Acknowledge(ctx context.Context, ids []string) (int64, error)
}

// BatchWriter buffers entities and flushes them to storage. writer.Writer implements it.
type BatchWriter interface {
	AddAccount(ctx context.Context, a models.AccountSnapshot) error
	AddTransaction(ctx context.Context, t models.TxRecord) error
	FlushAll(ctx context.Context) error
}

const (
	DefaultReadCount int64 = 5
	DefaultReadBlock       = 5 * time.Second
)

type PersistConfig struct {
	// ReadCount is the maximum number of entries per batch.
	ReadCount int64

	// ReadBlock is how long a read waits for new entries. 0 waits forever.
	ReadBlock time.Duration

	// Retry bounds the flush and acknowledge retries. When it is exhausted Run returns.
	Retry retry.Config

	// ReadBackoff spaces out reads after a transport error. Reads are retried forever.
	ReadBackoff retry.Config

	Logger *zap.Logger
}

// PersistStats counts what the driver has done since start.
type PersistStats struct {
	Batches  int64 `json:"batches"`
	Entries  int64 `json:"entries"`
	Acked    int64 `json:"acked"`
	Skipped  int64 `json:"skipped"`
	Observed int64 `json:"observed"`
}

// PersistDriver moves entries from the queue into storage:
// read a batch, buffer its entities, flush, and only then acknowledge.
type PersistDriver struct {
	queue  EventQueue
	writer BatchWriter
	config PersistConfig
	logger *zap.Logger

	readFailures int

	batches  *xsync.Counter
	entries  *xsync.Counter
	acked    *xsync.Counter
	skipped  *xsync.Counter
	observed *xsync.Counter
}

func NewPersistDriver(q EventQueue, w BatchWriter, config PersistConfig) (*PersistDriver, error) {
	if q == nil || w == nil {
		return nil, errors.New("queue and writer are required")
	}
	if config.ReadCount <= 0 {
		config.ReadCount = DefaultReadCount
	}
	if config.Retry.MaxRetries == 0 {
		config.Retry = retry.PersistConfig(5)
	}
	if config.ReadBackoff.InitialDelay == 0 {
		config.ReadBackoff = retry.Config{
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      30 * time.Second,
			Multiplier:    2.0,
			JitterEnabled: true,
		}
	}
	return &PersistDriver{
		queue:    q,
		writer:   w,
		config:   config,
		logger:   logging.OrNop(config.Logger).With(zap.String("component", "persist")),
		batches:  xsync.NewCounter(),
		entries:  xsync.NewCounter(),
		acked:    xsync.NewCounter(),
		skipped:  xsync.NewCounter(),
		observed: xsync.NewCounter(),
	}, nil
}

// Run loops until ctx is done, returning nil, or until a flush or acknowledge fails
// after retries, returning that error. Entries of an unfinished batch stay pending and
// are redelivered to this consumer on restart.
func (d *PersistDriver) Run(ctx context.Context) error {
	d.logger.Info("Persist driver started",
		zap.Int64("read_count", d.config.ReadCount),
		zap.Duration("read_block", d.config.ReadBlock))

	for ctx.Err() == nil {
		if _, err := d.Step(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
	}

	d.logger.Info("Persist driver stopped", zap.Any("stats", d.Stats()))
	return nil
}

// Step runs one read, process, flush, acknowledge iteration and returns the number of
// entries acknowledged. Read errors are logged and backed off, not returned.
func (d *PersistDriver) Step(ctx context.Context) (int64, error) {
	entries, err := d.queue.ReadBatch(ctx, d.config.ReadCount, d.config.ReadBlock)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil
		}
		d.readFailures++
		delay := retry.Backoff(d.config.ReadBackoff, d.readFailures)
		d.logger.Warn("Queue read failed",
			zap.Int("consecutive_failures", d.readFailures),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		return 0, nil
	}
	d.readFailures = 0
	if len(entries) == 0 {
		return 0, nil
	}

	d.batches.Inc()
	d.entries.Add(int64(len(entries)))

	ids := d.process(ctx, entries)

	if err := retry.WithBackoff(ctx, d.config.Retry, d.logger, "flush", func() error {
		return d.writer.FlushAll(ctx)
	}); err != nil {
		d.logger.Error("Flush failed, leaving batch unacknowledged",
			zap.Int("entries", len(entries)),
			zap.String("first_entry_id", entries[0].ID),
			zap.String("last_entry_id", entries[len(entries)-1].ID),
			zap.Error(err))
		return 0, fmt.Errorf("flush batch %s..%s: %w", entries[0].ID, entries[len(entries)-1].ID, err)
	}

	var n int64
	if err := retry.WithBackoff(ctx, d.config.Retry, d.logger, "acknowledge", func() error {
		var err error
		n, err = d.queue.Acknowledge(ctx, ids)
		return err
	}); err != nil {
		d.logger.Error("Acknowledge failed after flush",
			zap.Strings("entry_ids", ids),
			zap.Error(err))
		return 0, fmt.Errorf("acknowledge %d entries: %w", len(ids), err)
	}
	d.acked.Add(n)

	d.logger.Debug("Batch persisted",
		zap.Int("entries", len(entries)),
		zap.Int64("acknowledged", n))
	return n, nil
}

// process buffers the batch's entities in arrival order and returns the ids to
// acknowledge once they are flushed. An entity the writer rejects outright stays
// pending, like an entry that did not decode.
func (d *PersistDriver) process(ctx context.Context, entries []queue.Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		var err error
		switch e.Event.Kind() {
		case models.KindAccount:
			acc, _ := e.Event.Account()
			err = d.writer.AddAccount(ctx, acc)
		case models.KindTransaction:
			tx, _ := e.Event.Transaction()
			err = d.writer.AddTransaction(ctx, tx)
		default:
			d.observed.Inc()
			d.logger.Debug("Observed event", zap.String("entry_id", e.ID), zap.Stringer("kind", e.Event.Kind()))
		}

		if err != nil && retry.IsPermanent(err) {
			d.skipped.Inc()
			d.logger.Error("Entity rejected, leaving entry pending",
				zap.String("entry_id", e.ID),
				zap.Stringer("kind", e.Event.Kind()),
				zap.Error(err))
			continue
		}
		if err != nil {
			// The entity is buffered; the flush below retries it.
			d.logger.Warn("Threshold flush failed", zap.String("entry_id", e.ID), zap.Error(err))
		}
		ids = append(ids, e.ID)
	}
	return ids
}

func (d *PersistDriver) Stats() PersistStats {
	return PersistStats{
		Batches:  d.batches.Value(),
		Entries:  d.entries.Value(),
		Acked:    d.acked.Value(),
		Skipped:  d.skipped.Value(),
		Observed: d.observed.Value(),
	}
}
