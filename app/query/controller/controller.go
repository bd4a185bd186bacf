package controller

import (
	"encoding/json"
	"net/http"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/geyserx/app/query/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Controller struct {
	App *types.App

	// pool bounds the reads fanned out by a single request across all requests.
	pool pond.Pool
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App:  app,
		pool: pond.NewPool(16),
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/slots/{slot:[0-9]+}", c.HandleSlot).Methods(http.MethodGet)
	r.HandleFunc("/slots/{slot:[0-9]+}/accounts", c.HandleSlotAccounts).Methods(http.MethodGet)
	r.HandleFunc("/slots/{slot:[0-9]+}/transactions", c.HandleSlotTransactions).Methods(http.MethodGet)
	r.HandleFunc("/slots/{slot:[0-9]+}/transactions/failed", c.HandleSlotFailedTransactions).Methods(http.MethodGet)

	r.HandleFunc("/accounts/{pubkey}/history", c.HandleAccountHistory).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{pubkey}/transactions", c.HandleAccountTransactions).Methods(http.MethodGet)

	r.HandleFunc("/transactions", c.HandleTransactionsByLog).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{signature}", c.HandleTransaction).Methods(http.MethodGet)

	return r, nil
}

// Close stops the fan-out pool.
func (c *Controller) Close() {
	c.pool.StopAndWait()
}

// listResponse wraps every list endpoint.
type listResponse[T any] struct {
	Data  []T `json:"data"`
	Count int `json:"count"`
	Limit int `json:"limit,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
