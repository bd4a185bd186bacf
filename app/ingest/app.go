package ingest

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/canopy-network/geyserx/pkg/firehose"
	"github.com/canopy-network/geyserx/pkg/logging"
	"github.com/canopy-network/geyserx/pkg/normalizer"
	"github.com/canopy-network/geyserx/pkg/pipeline"
	"github.com/canopy-network/geyserx/pkg/queue"
	"github.com/canopy-network/geyserx/pkg/redis"
	"github.com/canopy-network/geyserx/pkg/retry"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// App streams firehose updates into the event stream.
type App struct {
	Config Config

	Redis     *redis.Client
	Broker    queue.Broker
	Source    *firehose.Source
	Producer  *queue.Producer
	Watermark *queue.SlotWatermark
	Driver    *pipeline.IngestDriver

	Logger *zap.Logger

	// Server exposes health, readiness and metrics.
	Server *http.Server

	ready atomic.Bool
}

// Initialize connects to Redis and prepares the firehose source. The firehose itself is
// dialed lazily by the first read. Any failure here is fatal.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New("ingest")
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg := ConfigFromEnv()
	app := &App{Config: cfg, Logger: logger}

	app.Redis, err = redis.NewClient(ctx, logger, cfg.RedisURL, cfg.StreamMaxLen)
	if err != nil {
		logger.Fatal("Unable to connect to Redis", zap.Error(err))
	}

	app.Source, err = firehose.NewSource(firehose.SourceConfig{
		Endpoint: cfg.Endpoint,
		Token:    cfg.Token,
		Request:  cfg.Subscription(),
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Invalid firehose configuration", zap.Error(err))
	}

	if err := app.wire(app.Source, app.Redis, app.Redis); err != nil {
		logger.Fatal("Unable to build ingest pipeline", zap.Error(err))
	}

	logger.Info("Ingest configured",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("commitment", cfg.Commitment),
		zap.Strings("programs", cfg.Programs),
		zap.String("stream", cfg.Stream))

	app.SetupServer()

	return app
}

// wire builds the producer, watermark and driver over the given stream and clients.
func (a *App) wire(stream pipeline.UpdateStream, client queue.StreamClient, kv queue.KV) error {
	if b, ok := client.(queue.Broker); ok {
		a.Broker = b
	}

	var err error
	a.Producer, err = queue.NewProducer(client, a.Config.Stream, a.Logger)
	if err != nil {
		return err
	}
	a.Watermark, err = queue.NewSlotWatermark(kv, a.Config.SlotKey)
	if err != nil {
		return err
	}
	a.Driver, err = pipeline.NewIngestDriver(stream, normalizer.New(), a.Producer, a.Watermark, pipeline.IngestConfig{
		PublishSlots: a.Config.PublishSlots,
		AppendRetry:  retry.PersistConfig(a.Config.AppendMaxRetries),
		Logger:       a.Logger,
	})
	return err
}

// SetupServer sets up the ops HTTP server.
func (a *App) SetupServer() {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if a.Ready(req.Context()) {
			w.WriteHeader(200)
		} else {
			w.WriteHeader(503)
		}
	})).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	a.Server = &http.Server{Addr: a.Config.OpsAddr, Handler: r}
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

// Start runs the driver until ctx is done. An append that keeps failing is fatal.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Ops server stopped", zap.Error(err))
		}
	}()

	a.ready.Store(true)
	runErr := a.Driver.Run(ctx)
	a.ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.Source.Close()
	_ = a.Server.Shutdown(shutdownCtx)
	if err := a.Redis.Close(); err != nil {
		a.Logger.Error("Failed to close redis connection", zap.Error(err))
	}

	if runErr != nil {
		a.Logger.Fatal("Ingest driver failed", zap.Error(runErr))
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
