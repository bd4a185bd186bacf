package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/canopy-network/geyserx/app/query/types"
	"github.com/canopy-network/geyserx/pkg/db"
	"github.com/canopy-network/geyserx/pkg/db/dbtest"
	"github.com/canopy-network/geyserx/pkg/models"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// limitRecorder remembers the limit the controller passed down.
type limitRecorder struct {
	*dbtest.MemStore
	lastLimit int
}

func (l *limitRecorder) TransactionsByAccount(ctx context.Context, account string, limit int) ([]models.TxRecord, error) {
	l.lastLimit = limit
	return l.MemStore.TransactionsByAccount(ctx, account, limit)
}

type failingStore struct {
	*dbtest.MemStore
}

func (failingStore) Ping(context.Context) error { return errors.New("no hosts available") }

func (failingStore) AccountsBySlot(context.Context, uint64) ([]models.AccountSnapshot, error) {
	return nil, errors.New("timeout")
}

type fixedSlot struct{ slot uint64 }

func (f fixedSlot) Get(context.Context) (uint64, bool, error) { return f.slot, true, nil }

func seed(t *testing.T, store *dbtest.MemStore) {
	t.Helper()
	ctx := context.Background()
	ts := time.UnixMilli(1_700_000_000_000).UTC()

	require.NoError(t, store.UpsertAccount(ctx, db.AccountToRow(models.AccountSnapshot{
		Pubkey: "A", Lamports: 10, Owner: "O", Slot: 5, Timestamp: ts,
	})))
	require.NoError(t, store.UpsertAccount(ctx, db.AccountToRow(models.AccountSnapshot{
		Pubkey: "B", Lamports: 20, Owner: "O", Slot: 6, Timestamp: ts,
	})))

	for _, tx := range []models.TxRecord{
		{Signature: "s1", Slot: 5, Index: 0, Success: true, AccountKeys: []string{"A", "P"}, LogMessages: []string{"Program log: Instruction: Swap"}, Timestamp: ts},
		{Signature: "s2", Slot: 5, Index: 1, Success: false, AccountKeys: []string{"B"}, LogMessages: []string{"Program log: Instruction: Transfer"}, Timestamp: ts},
		{Signature: "s3", Slot: 6, Index: 0, Success: true, AccountKeys: []string{"A"}, Timestamp: ts},
	} {
		row, err := db.TransactionToRow(tx)
		require.NoError(t, err)
		require.NoError(t, store.UpsertTransaction(ctx, row))
	}
}

func setupTestRouter(t *testing.T, store db.Reader, watermark types.SlotSource) *mux.Router {
	t.Helper()
	c := NewController(&types.App{Store: store, Watermark: watermark, Logger: zaptest.NewLogger(t)})
	t.Cleanup(c.Close)
	r, err := c.NewRouter()
	require.NoError(t, err)
	return r
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	store := dbtest.New()

	rec := get(t, setupTestRouter(t, store, fixedSlot{slot: 321}), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.CurrentSlot)
	assert.EqualValues(t, 321, *resp.CurrentSlot)

	rec = get(t, setupTestRouter(t, store, nil), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[healthResponse](t, rec).CurrentSlot)

	rec = get(t, setupTestRouter(t, failingStore{store}, nil), "/health")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSlotReturnsAccountsAndTransactions(t *testing.T) {
	store := dbtest.New()
	seed(t, store)

	rec := get(t, setupTestRouter(t, store, nil), "/slots/5")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[slotResponse](t, rec)
	assert.EqualValues(t, 5, resp.Slot)
	require.Len(t, resp.Accounts, 1)
	assert.Equal(t, "A", resp.Accounts[0].Pubkey)
	require.Len(t, resp.Transactions, 2)
	assert.Equal(t, "s1", resp.Transactions[0].Signature)
	assert.Equal(t, "s2", resp.Transactions[1].Signature)
}

func TestSlotQueryFailure(t *testing.T) {
	rec := get(t, setupTestRouter(t, failingStore{dbtest.New()}, nil), "/slots/5")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSlotRouteRejectsNonNumericSlot(t *testing.T) {
	rec := get(t, setupTestRouter(t, dbtest.New(), nil), "/slots/abc")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSlotFailedTransactions(t *testing.T) {
	store := dbtest.New()
	seed(t, store)

	rec := get(t, setupTestRouter(t, store, nil), "/slots/5/transactions/failed")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[listResponse[models.TxRecord]](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "s2", resp.Data[0].Signature)
	assert.False(t, resp.Data[0].Success)
}

func TestTransactionBySignature(t *testing.T) {
	store := dbtest.New()
	seed(t, store)
	r := setupTestRouter(t, store, nil)

	rec := get(t, r, "/transactions/s3")
	require.Equal(t, http.StatusOK, rec.Code)
	tx := decode[models.TxRecord](t, rec)
	assert.Equal(t, "s3", tx.Signature)
	assert.Nil(t, tx.Fee)

	rec = get(t, r, "/transactions/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountTransactionsLimit(t *testing.T) {
	store := &limitRecorder{MemStore: dbtest.New()}
	seed(t, store.MemStore)
	r := setupTestRouter(t, store, nil)

	rec := get(t, r, "/accounts/A/transactions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultLimit, store.lastLimit)
	resp := decode[listResponse[models.TxRecord]](t, rec)
	assert.Equal(t, 2, resp.Count)

	rec = get(t, r, "/accounts/A/transactions?limit=1000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxLimit, store.lastLimit)

	rec = get(t, r, "/accounts/A/transactions?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[listResponse[models.TxRecord]](t, rec).Count)

	rec = get(t, r, "/accounts/A/transactions?limit=-2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccountHistory(t *testing.T) {
	store := dbtest.New()
	seed(t, store)

	rec := get(t, setupTestRouter(t, store, nil), "/accounts/B/history")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[listResponse[models.AccountSnapshot]](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.EqualValues(t, 20, resp.Data[0].Lamports)
	assert.Equal(t, defaultLimit, resp.Limit)
}

func TestTransactionsByLogPattern(t *testing.T) {
	store := dbtest.New()
	seed(t, store)
	r := setupTestRouter(t, store, nil)

	rec := get(t, r, "/transactions?log=Swap")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[listResponse[models.TxRecord]](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "s1", resp.Data[0].Signature)

	rec = get(t, r, "/transactions")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	handler := WithCORS(setupTestRouter(t, dbtest.New(), nil))
	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
