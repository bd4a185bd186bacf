package query

import (
	"context"

	"github.com/canopy-network/geyserx/app/query/types"
	"github.com/canopy-network/geyserx/pkg/db/backend"
	"github.com/canopy-network/geyserx/pkg/logging"
	"github.com/canopy-network/geyserx/pkg/queue"
	"github.com/canopy-network/geyserx/pkg/redis"
	"github.com/canopy-network/geyserx/pkg/utils"
	"go.uber.org/zap"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New("query")
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	store, err := backend.Open(ctx, logger, "query")
	if err != nil {
		logger.Fatal("Unable to open storage backend", zap.Error(err))
	}

	app := &types.App{
		Store:  store,
		Logger: logger,
	}

	// The slot watermark is optional for reads; without Redis /health omits it.
	if utils.EnvBool("REDIS_ENABLED", false) {
		client, err := redis.NewClient(ctx, logger, utils.Env("REDIS_URL", "redis://localhost:6379/0"), 0)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - slot watermark will not be reported", zap.Error(err))
		} else {
			watermark, err := queue.NewSlotWatermark(client, utils.Env("REDIS_SLOT_KEY", queue.DefaultSlotKey))
			if err != nil {
				logger.Fatal("Invalid slot watermark configuration", zap.Error(err))
			}
			app.Watermark = watermark
			app.RedisClose = client.Close
		}
	} else {
		logger.Info("Redis disabled - slot watermark will not be reported")
	}

	return app
}
