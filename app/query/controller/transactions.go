package controller

import (
	"errors"
	"net/http"

	"github.com/canopy-network/geyserx/pkg/db"
	"github.com/canopy-network/geyserx/pkg/models"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandleTransaction returns one transaction by signature, or 404.
func (c *Controller) HandleTransaction(w http.ResponseWriter, r *http.Request) {
	signature := mux.Vars(r)["signature"]

	tx, err := c.App.Store.TransactionBySignature(r.Context(), signature)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		c.App.Logger.Error("Transaction lookup failed", zap.String("signature", signature), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// HandleTransactionsByLog returns transactions whose log messages contain ?log=.
// This scans the transactions table.
func (c *Controller) HandleTransactionsByLog(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("log")
	if pattern == "" {
		writeError(w, http.StatusBadRequest, errMissingPattern.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := c.App.Store.TransactionsWithLogPattern(r.Context(), pattern, limit)
	if err != nil {
		c.App.Logger.Error("Log pattern search failed", zap.String("pattern", pattern), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, listResponse[models.TxRecord]{Data: rows, Count: len(rows), Limit: limit})
}
