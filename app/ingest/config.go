package ingest

import (
	"github.com/canopy-network/geyserx/pkg/firehose"
	"github.com/canopy-network/geyserx/pkg/queue"
	"github.com/canopy-network/geyserx/pkg/utils"
)

// Config is the ingest process configuration, read from the environment.
type Config struct {
	Endpoint   string
	Token      string
	Commitment string
	Programs   []string

	RedisURL     string
	Stream       string
	StreamMaxLen int64
	SlotKey      string

	PublishSlots     bool
	AppendMaxRetries int
	OpsAddr          string
}

func ConfigFromEnv() Config {
	return Config{
		Endpoint:   utils.Env("FIREHOSE_ENDPOINT", ""),
		Token:      utils.Env("FIREHOSE_TOKEN", ""),
		Commitment: utils.Env("FIREHOSE_COMMITMENT", firehose.CommitmentConfirmed),
		Programs:   utils.EnvList("FIREHOSE_PROGRAMS", firehose.DefaultPrograms()),

		RedisURL:     utils.Env("REDIS_URL", "redis://localhost:6379/0"),
		Stream:       utils.Env("REDIS_STREAM", queue.DefaultStream),
		StreamMaxLen: utils.EnvInt64("REDIS_STREAM_MAXLEN", 0),
		SlotKey:      utils.Env("REDIS_SLOT_KEY", queue.DefaultSlotKey),

		PublishSlots:     utils.EnvBool("PUBLISH_SLOTS", false),
		AppendMaxRetries: utils.EnvInt("APPEND_MAX_RETRIES", 5),
		OpsAddr:          utils.Env("OPS_ADDR", ":3002"),
	}
}

// Subscription is the request sent on every firehose connection.
func (c Config) Subscription() firehose.SubscribeRequest {
	return firehose.DefiSubscription(c.Programs, c.Commitment)
}
