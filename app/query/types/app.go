package types

import (
	"context"
	"net/http"
	"time"

	"github.com/canopy-network/geyserx/pkg/db"
	"go.uber.org/zap"
)

// SlotSource reports the ingest watermark. queue.SlotWatermark implements it.
type SlotSource interface {
	Get(ctx context.Context) (slot uint64, found bool, err error)
}

type App struct {
	Store db.Reader
	// Watermark is nil when Redis is disabled.
	Watermark SlotSource
	// RedisClose releases the watermark connection, if any.
	RedisClose func() error
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)

	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}
	if a.RedisClose != nil {
		if err := a.RedisClose(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
