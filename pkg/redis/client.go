package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/geyserx/pkg/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps the Redis client for the event stream and the slot watermark.
type Client struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64 // Max entries per stream (0 = unlimited)
}

// NewClient connects to the Redis instance at url (redis://[:password@]host:port/db)
// and verifies the connection with PING.
func NewClient(ctx context.Context, logger *zap.Logger, url string, streamMaxLen int64) (*Client, error) {
	logger = logging.OrNop(logger)

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	// Connection pool
	opts.PoolSize = 10
	opts.MinIdleConns = 2

	// Timeouts. Blocking stream reads extend the read deadline by their BLOCK duration.
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int64("streamMaxLen", streamMaxLen))

	return NewFromClient(rdb, logger, streamMaxLen), nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(rdb *redis.Client, logger *zap.Logger, streamMaxLen int64) *Client {
	return &Client{
		client:       rdb,
		logger:       logging.OrNop(logger),
		streamMaxLen: streamMaxLen,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Set stores value under key without expiry.
func (c *Client) Set(ctx context.Context, key, value string) error {
	return c.client.Set(ctx, key, value, 0).Err()
}

// Get returns the value under key; found is false when the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (value string, found bool, err error) {
	value, err = c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// XAdd adds an entry to a stream and returns its id (e.g. "1234567890123-0").
// Uses approximate MAXLEN to cap stream size if configured.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}

	if c.streamMaxLen > 0 {
		args.MaxLen = c.streamMaxLen
		args.Approx = true
	}

	return c.client.XAdd(ctx, args).Result()
}

// XReadGroup reads up to count entries of one stream for a consumer group.
// Use ">" as id to read only new (undelivered) entries, or an explicit id to re-read
// this consumer's pending entries after it.
// block >= 0 waits up to that long (0 = forever); a negative block does not wait.
// A block timeout yields no entries and a nil error.
func (c *Client) XReadGroup(ctx context.Context, group, consumer, stream, id string, count int64, block time.Duration) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, id},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// XAck removes ids from the group's pending list and reports how many were removed.
func (c *Client) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	return c.client.XAck(ctx, stream, group, ids...).Result()
}

// XGroupCreateMkStream creates group (and the stream when missing) starting at start.
// A BUSYGROUP reply is returned unchanged.
func (c *Client) XGroupCreateMkStream(ctx context.Context, stream, group, start string) error {
	return c.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
}

// XPending returns the pending-entries summary for a group.
func (c *Client) XPending(ctx context.Context, stream, group string) (*redis.XPending, error) {
	return c.client.XPending(ctx, stream, group).Result()
}

// XAutoClaim transfers entries idle for at least minIdle to consumer, scanning from start.
// Returns the claimed entries and the cursor for the next call ("0-0" once the scan is complete).
func (c *Client) XAutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]redis.XMessage, string, error) {
	return c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
}

func (c *Client) XLen(ctx context.Context, stream string) (int64, error) {
	return c.client.XLen(ctx, stream).Result()
}
