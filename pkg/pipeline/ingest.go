// Package pipeline holds the two control loops: Ingest (firehose to stream) and
// Persist (stream to storage).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/canopy-network/geyserx/pkg/firehose"
	"github.com/canopy-network/geyserx/pkg/logging"
	"github.com/canopy-network/geyserx/pkg/metrics"
	"github.com/canopy-network/geyserx/pkg/models"
	"github.com/canopy-network/geyserx/pkg/normalizer"
	"github.com/canopy-network/geyserx/pkg/retry"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// UpdateStream yields raw firehose updates. firehose.Source implements it.
type UpdateStream interface {
	Recv(ctx context.Context) (*firehose.SubscribeUpdate, error)
}

// EventAppender is the producer side of the queue.
type EventAppender interface {
	Append(ctx context.Context, event models.IndexEvent) (string, error)
}

// Watermark stores the latest slot.
type Watermark interface {
	Set(ctx context.Context, slot uint64) error
}

type IngestConfig struct {
	// PublishSlots also appends slot updates to the stream. By default they only move
	// the watermark.
	PublishSlots bool

	// AppendRetry bounds retries of a failed append before Run gives up.
	AppendRetry retry.Config

	Logger *zap.Logger
}

// IngestDriver normalizes every firehose update and appends the result to the queue.
type IngestDriver struct {
	stream     UpdateStream
	normalizer *normalizer.Normalizer
	appender   EventAppender
	watermark  Watermark
	config     IngestConfig
	logger     *zap.Logger

	lastSlot uint64

	updates      *xsync.Counter
	appended     *xsync.Counter
	streamErrors *xsync.Counter
}

func NewIngestDriver(stream UpdateStream, n *normalizer.Normalizer, appender EventAppender, watermark Watermark, config IngestConfig) (*IngestDriver, error) {
	if stream == nil || appender == nil || watermark == nil {
		return nil, errors.New("stream, appender and watermark are required")
	}
	if n == nil {
		n = normalizer.New()
	}
	if config.AppendRetry.MaxRetries == 0 {
		config.AppendRetry = retry.PersistConfig(5)
	}
	return &IngestDriver{
		stream:       stream,
		normalizer:   n,
		appender:     appender,
		watermark:    watermark,
		config:       config,
		logger:       logging.OrNop(config.Logger).With(zap.String("component", "ingest")),
		updates:      xsync.NewCounter(),
		appended:     xsync.NewCounter(),
		streamErrors: xsync.NewCounter(),
	}, nil
}

// Run consumes the stream until ctx is done or the stream ends. Receive errors are logged
// and skipped. An append that still fails after AppendRetry is returned.
func (d *IngestDriver) Run(ctx context.Context) error {
	d.logger.Info("Ingest driver started", zap.Bool("publish_slots", d.config.PublishSlots))
	defer d.logger.Info("Ingest driver stopped",
		zap.Int64("updates", d.updates.Value()),
		zap.Int64("appended", d.appended.Value()),
		zap.Int64("stream_errors", d.streamErrors.Value()))

	for {
		update, err := d.stream.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			d.streamErrors.Inc()
			metrics.StreamErrors.Inc()
			d.logger.Warn("Firehose stream error", zap.Error(err))
			continue
		}

		if err := d.Handle(ctx, update); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Handle processes one update.
func (d *IngestDriver) Handle(ctx context.Context, update *firehose.SubscribeUpdate) error {
	d.updates.Inc()

	if update.Slot != nil {
		d.observeSlot(ctx, update.Slot.Slot)
		if !d.config.PublishSlots {
			return nil
		}
	}

	event, ok := d.normalizer.Normalize(update)
	if !ok {
		return nil
	}

	var id string
	err := retry.WithBackoff(ctx, d.config.AppendRetry, d.logger, "append", func() error {
		var err error
		id, err = d.appender.Append(ctx, event)
		return err
	})
	if err != nil {
		return fmt.Errorf("append %s event: %w", event.Kind(), err)
	}
	d.appended.Inc()

	if ce := d.logger.Check(zap.DebugLevel, "Event appended"); ce != nil {
		fields := []zap.Field{zap.String("entry_id", id), zap.Stringer("kind", event.Kind())}
		if acc, ok := event.Account(); ok {
			fields = append(fields, zap.String("pubkey", acc.Pubkey))
		}
		if tx, ok := event.Transaction(); ok {
			fields = append(fields, zap.String("signature", tx.Signature))
		}
		ce.Write(fields...)
	}
	return nil
}

// observeSlot moves the watermark and reports skipped slots. Neither failure nor a gap
// affects what is appended.
func (d *IngestDriver) observeSlot(ctx context.Context, slot uint64) {
	if d.lastSlot != 0 && slot > d.lastSlot+1 {
		metrics.SlotGaps.Inc()
		d.logger.Warn("Slot gap detected",
			zap.Uint64("previous", d.lastSlot),
			zap.Uint64("slot", slot),
			zap.Uint64("missing", slot-d.lastSlot-1))
	}
	if slot > d.lastSlot {
		d.lastSlot = slot
		metrics.CurrentSlot.Set(float64(slot))
	}

	if err := d.watermark.Set(ctx, slot); err != nil {
		d.logger.Warn("Failed to store slot watermark", zap.Uint64("slot", slot), zap.Error(err))
	}
}

// LastSlot returns the highest slot observed so far.
func (d *IngestDriver) LastSlot() uint64 { return d.lastSlot }
