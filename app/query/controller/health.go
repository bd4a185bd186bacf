package controller

import (
	"net/http"

	"go.uber.org/zap"
)

type healthResponse struct {
	Status      string  `json:"status"`
	Error       string  `json:"error,omitempty"`
	CurrentSlot *uint64 `json:"current_slot,omitempty"`
}

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := c.App.Store.Ping(ctx); err != nil {
		c.App.Logger.Warn("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, healthResponse{Status: "errored", Error: "database connection error"})
		return
	}

	resp := healthResponse{Status: "ok"}
	if c.App.Watermark != nil {
		// The watermark is informational; a Redis hiccup does not fail the check.
		if slot, found, err := c.App.Watermark.Get(ctx); err != nil {
			c.App.Logger.Debug("Slot watermark unavailable", zap.Error(err))
		} else if found {
			resp.CurrentSlot = &slot
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
