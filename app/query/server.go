package query

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/canopy-network/geyserx/app/query/controller"
	"github.com/canopy-network/geyserx/app/query/types"
	"github.com/canopy-network/geyserx/pkg/utils"
)

// NewServer builds the HTTP server for app. It does not start listening.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3001")

	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(router)}
	app.Server.RegisterOnShutdown(ctler.Close)
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
