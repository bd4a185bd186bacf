// Package queue carries IndexEvents between the ingest and persist processes over a
// Redis stream with one consumer group.
//
// Every entry has a single field, "payload", holding the JSON encoding of one event.
// Entries stay in the group's pending list from delivery until Acknowledge, which the
// persist driver calls only after the entries' rows are committed.
package queue

import (
	"context"
	"strings"
	"time"

	"github.com/canopy-network/geyserx/pkg/models"
	"github.com/redis/go-redis/v9"
)

// PayloadField is the only field of a stream entry.
const PayloadField = "payload"

// Names used when the environment does not override them.
const (
	DefaultStream   = "yellowstone_gRPC_streams"
	DefaultGroup    = "db_processor"
	DefaultConsumer = "db_processor_consumer_1"
	DefaultSlotKey  = "current_slot"
)

// StreamClient is the subset of Redis stream commands the queue needs.
// pkg/redis.Client implements it; queuetest.MemStream is the in-memory fake.
type StreamClient interface {
	XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error)
	XReadGroup(ctx context.Context, group, consumer, stream, id string, count int64, block time.Duration) ([]redis.XMessage, error)
	XAck(ctx context.Context, stream, group string, ids ...string) (int64, error)
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) error
	XPending(ctx context.Context, stream, group string) (*redis.XPending, error)
	XAutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]redis.XMessage, string, error)
}

// Broker is what the ops endpoints read from the stream server.
type Broker interface {
	Health(ctx context.Context) error
	XLen(ctx context.Context, stream string) (int64, error)
}

// KV is the key/value subset used for the slot watermark.
type KV interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
}

// Entry is one decoded stream entry.
type Entry struct {
	ID    string
	Event models.IndexEvent
}

// IDs returns the entry ids in order.
func IDs(entries []Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
