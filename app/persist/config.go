package persist

import (
	"time"

	"github.com/canopy-network/geyserx/pkg/pipeline"
	"github.com/canopy-network/geyserx/pkg/queue"
	"github.com/canopy-network/geyserx/pkg/utils"
	"github.com/canopy-network/geyserx/pkg/writer"
)

// Config is the persist process configuration, read from the environment.
type Config struct {
	RedisURL string
	Stream   string
	Group    string
	Consumer string
	SlotKey  string

	ReadCount       int64
	ReadBlock       time.Duration
	BatchSize       int
	FlushMaxRetries int

	ReclaimCron    string
	ReclaimMinIdle time.Duration

	OpsAddr string
}

func ConfigFromEnv() Config {
	return Config{
		RedisURL: utils.Env("REDIS_URL", "redis://localhost:6379/0"),
		Stream:   utils.Env("REDIS_STREAM", queue.DefaultStream),
		Group:    utils.Env("REDIS_GROUP", queue.DefaultGroup),
		Consumer: utils.Env("REDIS_CONSUMER", queue.DefaultConsumer),
		SlotKey:  utils.Env("REDIS_SLOT_KEY", queue.DefaultSlotKey),

		ReadCount:       utils.EnvInt64("READ_COUNT", pipeline.DefaultReadCount),
		ReadBlock:       utils.EnvDuration("READ_BLOCK", pipeline.DefaultReadBlock),
		BatchSize:       utils.EnvInt("BATCH_SIZE", writer.DefaultBatchSize),
		FlushMaxRetries: utils.EnvInt("FLUSH_MAX_RETRIES", 5),

		ReclaimCron:    utils.Env("RECLAIM_CRON", "*/30 * * * * *"),
		ReclaimMinIdle: utils.EnvDuration("RECLAIM_MIN_IDLE", time.Minute),

		OpsAddr: utils.Env("OPS_ADDR", ":3003"),
	}
}
