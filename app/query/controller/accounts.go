package controller

import (
	"net/http"

	"github.com/canopy-network/geyserx/pkg/models"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandleAccountHistory returns stored snapshots of one account, newest first.
// The accounts table keeps one row per pubkey, so this is at most one entry.
// Query parameters:
//   - limit: max number of results (default 50, max 100)
func (c *Controller) HandleAccountHistory(w http.ResponseWriter, r *http.Request) {
	pubkey := mux.Vars(r)["pubkey"]
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := c.App.Store.AccountHistory(r.Context(), pubkey, limit)
	if err != nil {
		c.App.Logger.Error("Account history failed", zap.String("pubkey", pubkey), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, listResponse[models.AccountSnapshot]{Data: rows, Count: len(rows), Limit: limit})
}

// HandleAccountTransactions returns transactions that list pubkey among their account keys.
// This scans the transactions table.
func (c *Controller) HandleAccountTransactions(w http.ResponseWriter, r *http.Request) {
	pubkey := mux.Vars(r)["pubkey"]
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := c.App.Store.TransactionsByAccount(r.Context(), pubkey, limit)
	if err != nil {
		c.App.Logger.Error("Transactions by account failed", zap.String("pubkey", pubkey), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, listResponse[models.TxRecord]{Data: rows, Count: len(rows), Limit: limit})
}
