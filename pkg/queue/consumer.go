package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/canopy-network/geyserx/pkg/logging"
	"github.com/canopy-network/geyserx/pkg/metrics"
	"github.com/canopy-network/geyserx/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// newEntries asks XREADGROUP for entries never delivered to the group.
	newEntries = ">"
	// pelStart re-reads this consumer's pending entries from the beginning.
	pelStart = "0"
	// noBlock makes go-redis omit BLOCK, so a pending-list read returns immediately.
	noBlock time.Duration = -1
)

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	// Stream is the Redis stream name to consume from (required).
	Stream string

	// Group is the consumer group name (required).
	Group string

	// Consumer is the consumer name within the group (required). Distinct names in the
	// same group split delivery between persist processes.
	Consumer string

	// Logger for logging. If nil, uses a no-op logger.
	Logger *zap.Logger
}

// Consumer reads a stream through a consumer group.
//
// A new Consumer first re-reads its own pending entries (delivered before a crash but
// never acknowledged) and switches to new entries once that list is exhausted.
// ReadBatch must not be called concurrently; RequestRescan may be.
type Consumer struct {
	client StreamClient
	config ConsumerConfig
	logger *zap.Logger

	recovering bool
	cursor     string
	rescan     atomic.Bool
}

func NewConsumer(client StreamClient, config ConsumerConfig) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("stream client is required")
	}
	if config.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if config.Group == "" {
		return nil, errors.New("consumer group is required")
	}
	if config.Consumer == "" {
		return nil, errors.New("consumer name is required")
	}

	return &Consumer{
		client: client,
		config: config,
		logger: logging.OrNop(config.Logger).With(
			zap.String("component", "consumer"),
			zap.String("stream", config.Stream),
			zap.String("group", config.Group),
			zap.String("consumer", config.Consumer)),
		recovering: true,
		cursor:     pelStart,
	}, nil
}

// Config returns the consumer's configuration.
func (c *Consumer) Config() ConsumerConfig { return c.config }

// EnsureGroup creates the stream and the group, starting at the beginning of history.
// An existing group is not an error.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.config.Stream, c.config.Group, pelStart)
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group %s on %s: %w", c.config.Group, c.config.Stream, err)
	}
	c.logger.Info("Consumer group ready", zap.Bool("existed", err != nil))
	return nil
}

// RequestRescan makes the next ReadBatch re-read this consumer's pending list from the
// start, e.g. after entries were claimed from another consumer.
func (c *Consumer) RequestRescan() {
	c.rescan.Store(true)
}

// ReadBatch returns up to maxCount entries. While pending entries remain it returns
// those without blocking; otherwise it waits up to block for new entries (0 waits
// forever, negative does not wait). A timeout returns an empty batch and a nil error.
//
// Entries whose payload does not decode are logged and left out of the batch. They are
// never acknowledged and stay in the pending list.
func (c *Consumer) ReadBatch(ctx context.Context, maxCount int64, block time.Duration) ([]Entry, error) {
	if c.rescan.Swap(false) {
		c.recovering = true
		c.cursor = pelStart
	}

	if c.recovering {
		msgs, err := c.client.XReadGroup(ctx, c.config.Group, c.config.Consumer, c.config.Stream, c.cursor, maxCount, noBlock)
		if err != nil {
			return nil, fmt.Errorf("read pending entries: %w", err)
		}
		if len(msgs) > 0 {
			c.cursor = msgs[len(msgs)-1].ID
			c.logger.Info("Redelivering pending entries",
				zap.Int("count", len(msgs)),
				zap.String("first_id", msgs[0].ID),
				zap.String("last_id", c.cursor))
			return c.decode(msgs), nil
		}
		c.recovering = false
		c.cursor = newEntries
		c.logger.Debug("Pending list drained, reading new entries")
	}

	msgs, err := c.client.XReadGroup(ctx, c.config.Group, c.config.Consumer, c.config.Stream, newEntries, maxCount, block)
	if err != nil {
		return nil, fmt.Errorf("read new entries: %w", err)
	}
	return c.decode(msgs), nil
}

// Acknowledge marks ids as processed for the group and returns how many Redis acknowledged.
func (c *Consumer) Acknowledge(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := c.client.XAck(ctx, c.config.Stream, c.config.Group, ids...)
	if err != nil {
		return 0, fmt.Errorf("ack %d entries: %w", len(ids), err)
	}
	metrics.EntriesAcked.Add(float64(n))
	if n != int64(len(ids)) {
		c.logger.Warn("Fewer entries acknowledged than requested",
			zap.Int("requested", len(ids)),
			zap.Int64("acknowledged", n))
	}
	return n, nil
}

func (c *Consumer) decode(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		metrics.EntriesRead.Inc()

		// A pending entry that was trimmed from the stream comes back without values.
		if msg.Values == nil {
			c.logger.Warn("Pending entry no longer in stream", zap.String("entry_id", msg.ID))
			metrics.EntriesDropped.Inc()
			continue
		}

		payload, ok := payloadBytes(msg.Values[PayloadField])
		if !ok {
			c.logger.Error("Entry has no payload field",
				zap.String("entry_id", msg.ID),
				zap.Int("fields", len(msg.Values)))
			metrics.EntriesDropped.Inc()
			continue
		}

		event, err := models.DecodeEvent(payload)
		if err != nil {
			c.logger.Error("Failed to decode entry, leaving it pending",
				zap.String("entry_id", msg.ID),
				zap.Int("payload_bytes", len(payload)),
				zap.Error(err))
			metrics.EntriesDropped.Inc()
			continue
		}
		entries = append(entries, Entry{ID: msg.ID, Event: event})
	}
	return entries
}

func payloadBytes(v interface{}) ([]byte, bool) {
	switch p := v.(type) {
	case string:
		return []byte(p), true
	case []byte:
		return p, true
	default:
		return nil, false
	}
}
