package persist

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/canopy-network/geyserx/pkg/db"
	"github.com/canopy-network/geyserx/pkg/db/backend"
	"github.com/canopy-network/geyserx/pkg/logging"
	"github.com/canopy-network/geyserx/pkg/pipeline"
	"github.com/canopy-network/geyserx/pkg/queue"
	"github.com/canopy-network/geyserx/pkg/redis"
	"github.com/canopy-network/geyserx/pkg/retry"
	"github.com/canopy-network/geyserx/pkg/writer"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// App drains the event stream into storage: read a batch, flush it, then acknowledge.
type App struct {
	Config Config

	Redis     *redis.Client
	Broker    queue.Broker
	Store     db.Backend
	Consumer  *queue.Consumer
	Writer    *writer.Writer
	Driver    *pipeline.PersistDriver
	Reaper    *queue.Reaper
	Watermark *queue.SlotWatermark

	// Cron runs the pending-entry reaper on Config.ReclaimCron.
	Cron *cron.Cron

	Logger *zap.Logger

	// Server exposes health, readiness, flush stats and metrics.
	Server *http.Server

	ready atomic.Bool
}

// Initialize connects to Redis and storage, provisions the schema and wires the driver.
// Any failure here is fatal.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New("persist")
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg := ConfigFromEnv()
	app := &App{Config: cfg, Logger: logger}

	app.Redis, err = redis.NewClient(ctx, logger, cfg.RedisURL, 0)
	if err != nil {
		logger.Fatal("Unable to connect to Redis", zap.Error(err))
	}

	app.Consumer, err = queue.NewConsumer(app.Redis, queue.ConsumerConfig{
		Stream:   cfg.Stream,
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Invalid consumer configuration", zap.Error(err))
	}
	if err := app.Consumer.EnsureGroup(ctx); err != nil {
		logger.Fatal("Unable to create consumer group", zap.Error(err))
	}

	app.Watermark, err = queue.NewSlotWatermark(app.Redis, cfg.SlotKey)
	if err != nil {
		logger.Fatal("Invalid slot watermark configuration", zap.Error(err))
	}

	app.Store, err = backend.Open(ctx, logger, "persist")
	if err != nil {
		logger.Fatal("Unable to open storage backend", zap.Error(err))
	}
	if err := db.Provision(ctx, app.Store, logger); err != nil {
		logger.Fatal("Unable to provision storage schema", zap.Error(err))
	}

	if err := app.wire(app.Redis); err != nil {
		logger.Fatal("Unable to build persist pipeline", zap.Error(err))
	}

	if err := app.SetupScheduler(ctx, newCronLogger(logger), cfg.ReclaimCron); err != nil {
		logger.Fatal("Unable to schedule pending reaper", zap.Error(err))
	}

	app.SetupServer()

	return app
}

// wire builds the writer, driver and reaper over Store, Consumer and the stream client.
func (a *App) wire(client queue.StreamClient) error {
	if b, ok := client.(queue.Broker); ok {
		a.Broker = b
	}

	var err error
	a.Writer, err = writer.New(a.Store, a.Config.BatchSize, a.Logger)
	if err != nil {
		return err
	}

	a.Driver, err = pipeline.NewPersistDriver(a.Consumer, a.Writer, pipeline.PersistConfig{
		ReadCount: a.Config.ReadCount,
		ReadBlock: a.Config.ReadBlock,
		Retry:     retry.PersistConfig(a.Config.FlushMaxRetries),
		Logger:    a.Logger,
	})
	if err != nil {
		return err
	}

	a.Reaper, err = queue.NewReaper(client, a.Consumer, a.Config.ReclaimMinIdle, a.Logger)
	return err
}

// Ready reports whether the driver is running and Redis answers.
func (a *App) Ready(ctx context.Context) bool {
	if !a.ready.Load() {
		return false
	}
	if a.Broker != nil {
		if err := a.Broker.Health(ctx); err != nil {
			a.Logger.Warn("Redis health check failed", zap.Error(err))
			return false
		}
	}
	return true
}

// Start runs the driver until ctx is done. A driver error is fatal once everything has
// been shut down; its unacknowledged entries are redelivered after the restart.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Ops server stopped", zap.Error(err))
		}
	}()

	a.Cron.Start()
	a.Logger.Info("Cron started", zap.String("cronSpec", a.Config.ReclaimCron))

	a.ready.Store(true)
	runErr := a.Driver.Run(ctx)
	a.ready.Store(false)

	a.shutdown()

	if runErr != nil {
		a.Logger.Fatal("Persist driver failed", zap.Error(runErr))
	}
	a.Logger.Info("さようなら!")
}

func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	_ = a.Server.Shutdown(shutdownCtx)

	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}
	if err := a.Redis.Close(); err != nil {
		a.Logger.Error("Failed to close redis connection", zap.Error(err))
	}
	time.Sleep(200 * time.Millisecond)
}
