package persist

import (
	"encoding/json"
	"net/http"

	"github.com/canopy-network/geyserx/pkg/pipeline"
	"github.com/canopy-network/geyserx/pkg/writer"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type statsResponse struct {
	Stream       string                       `json:"stream"`
	Group        string                       `json:"group"`
	Consumer     string                       `json:"consumer"`
	BatchSize    int                          `json:"batch_size"`
	Driver       pipeline.PersistStats        `json:"driver"`
	Tables       map[string]writer.TableStats `json:"tables"`
	CurrentSlot  *uint64                      `json:"current_slot,omitempty"`
	StreamLength *int64                       `json:"stream_length,omitempty"`
}

// SetupServer sets up the ops HTTP server.
func (a *App) SetupServer() {
	a.Server = &http.Server{Addr: a.Config.OpsAddr, Handler: a.router()}
	a.Logger.Info("Ops server configured", zap.String("addr", a.Config.OpsAddr))
}

func (a *App) router() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if a.Ready(req.Context()) {
			w.WriteHeader(200)
		} else {
			w.WriteHeader(503)
		}
	})).Methods("GET")
	r.Handle("/stats", http.HandlerFunc(a.handleStats)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Stream:    a.Config.Stream,
		Group:     a.Config.Group,
		Consumer:  a.Config.Consumer,
		BatchSize: a.Writer.BatchSize(),
		Driver:    a.Driver.Stats(),
		Tables:    a.Writer.Stats(),
	}
	if a.Watermark != nil {
		if slot, found, err := a.Watermark.Get(r.Context()); err == nil && found {
			resp.CurrentSlot = &slot
		}
	}
	if a.Broker != nil {
		if n, err := a.Broker.XLen(r.Context(), a.Config.Stream); err == nil {
			resp.StreamLength = &n
		} else {
			a.Logger.Warn("Unable to read stream length", zap.String("stream", a.Config.Stream), zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
