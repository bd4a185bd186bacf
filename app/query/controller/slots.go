package controller

import (
	"net/http"

	"github.com/canopy-network/geyserx/pkg/models"
	"go.uber.org/zap"
)

type slotResponse struct {
	Slot         uint64                   `json:"slot"`
	Accounts     []models.AccountSnapshot `json:"accounts"`
	Transactions []models.TxRecord        `json:"transactions"`
}

// HandleSlot returns the accounts and transactions stored for one slot. Both reads use
// the secondary slot index (or a filtered scan) and run concurrently.
func (c *Controller) HandleSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := parseSlot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := slotResponse{Slot: slot}
	group := c.pool.NewGroupContext(r.Context())
	group.SubmitErr(func() error {
		var err error
		resp.Accounts, err = c.App.Store.AccountsBySlot(group.Context(), slot)
		return err
	})
	group.SubmitErr(func() error {
		var err error
		resp.Transactions, err = c.App.Store.TransactionsBySlot(group.Context(), slot)
		return err
	})
	if err := group.Wait(); err != nil {
		c.App.Logger.Error("Slot query failed", zap.Uint64("slot", slot), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (c *Controller) HandleSlotAccounts(w http.ResponseWriter, r *http.Request) {
	slot, err := parseSlot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := c.App.Store.AccountsBySlot(r.Context(), slot)
	if err != nil {
		c.App.Logger.Error("Accounts by slot failed", zap.Uint64("slot", slot), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, listResponse[models.AccountSnapshot]{Data: rows, Count: len(rows)})
}

func (c *Controller) HandleSlotTransactions(w http.ResponseWriter, r *http.Request) {
	slot, err := parseSlot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := c.App.Store.TransactionsBySlot(r.Context(), slot)
	if err != nil {
		c.App.Logger.Error("Transactions by slot failed", zap.Uint64("slot", slot), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, listResponse[models.TxRecord]{Data: rows, Count: len(rows)})
}

func (c *Controller) HandleSlotFailedTransactions(w http.ResponseWriter, r *http.Request) {
	slot, err := parseSlot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := c.App.Store.FailedTransactionsBySlot(r.Context(), slot)
	if err != nil {
		c.App.Logger.Error("Failed transactions by slot failed", zap.Uint64("slot", slot), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, listResponse[models.TxRecord]{Data: rows, Count: len(rows)})
}
