package db

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/canopy-network/geyserx/pkg/models"
)

// Table and column layout shared by every backend.
const (
	DefaultKeyspace          = "solana_indexer"
	DefaultAccountsTable     = "accounts"
	DefaultTransactionsTable = "transactions"
)

// AccountRow is one row of the accounts table. Unsigned chain values are stored as
// signed 64-bit integers (CQL bigint / ClickHouse Int64).
type AccountRow struct {
	Pubkey       string `ch:"pubkey"`
	Lamports     int64  `ch:"lamports"`
	Owner        string `ch:"owner"`
	Executable   bool   `ch:"executable"`
	RentEpoch    int64  `ch:"rent_epoch"`
	Data         string `ch:"data"`
	WriteVersion int64  `ch:"write_version"`
	Slot         int64  `ch:"slot"`
	TxnSignature string `ch:"txn_signature"` // empty when absent
	TimestampMs  int64  `ch:"timestamp_ms"`
}

// TransactionRow is one row of the transactions table. The *JSON columns hold
// JSON arrays of the corresponding TxRecord fields.
type TransactionRow struct {
	Signature            string `ch:"signature"`
	Slot                 int64  `ch:"slot"`
	IsVote               bool   `ch:"is_vote"`
	TxIndex              int64  `ch:"tx_index"`
	Success              bool   `ch:"success"`
	Fee                  int64  `ch:"fee"`                    // 0 when absent
	ComputeUnitsConsumed int64  `ch:"compute_units_consumed"` // 0 when absent
	InstructionsJSON     string `ch:"instructions_json"`
	AccountKeysJSON      string `ch:"account_keys_json"`
	LogMessagesJSON      string `ch:"log_messages_json"`
	PreBalancesJSON      string `ch:"pre_balances_json"`
	PostBalancesJSON     string `ch:"post_balances_json"`
	TimestampMs          int64  `ch:"timestamp_ms"`
}

// AccountToRow converts a snapshot for storage. The data column is always written empty;
// account data does not round-trip through storage.
func AccountToRow(a models.AccountSnapshot) AccountRow {
	row := AccountRow{
		Pubkey:       a.Pubkey,
		Lamports:     int64(a.Lamports),
		Owner:        a.Owner,
		Executable:   a.Executable,
		RentEpoch:    int64(a.RentEpoch),
		WriteVersion: int64(a.WriteVersion),
		Slot:         int64(a.Slot),
		TimestampMs:  a.Timestamp.UnixMilli(),
	}
	if a.TxnSignature != nil {
		row.TxnSignature = *a.TxnSignature
	}
	return row
}

// RowToAccount converts a stored row back. An empty txn_signature reads back as absent.
func RowToAccount(r AccountRow) models.AccountSnapshot {
	a := models.AccountSnapshot{
		Pubkey:       r.Pubkey,
		Lamports:     uint64(r.Lamports),
		Owner:        r.Owner,
		Executable:   r.Executable,
		RentEpoch:    uint64(r.RentEpoch),
		Data:         r.Data,
		WriteVersion: uint64(r.WriteVersion),
		Slot:         uint64(r.Slot),
		Timestamp:    time.UnixMilli(r.TimestampMs).UTC(),
	}
	if r.TxnSignature != "" {
		a.TxnSignature = models.StringPtr(r.TxnSignature)
	}
	return a
}

func TransactionToRow(t models.TxRecord) (TransactionRow, error) {
	row := TransactionRow{
		Signature:   t.Signature,
		Slot:        int64(t.Slot),
		IsVote:      t.IsVote,
		TxIndex:     int64(t.Index),
		Success:     t.Success,
		TimestampMs: t.Timestamp.UnixMilli(),
	}
	if t.Fee != nil {
		row.Fee = int64(*t.Fee)
	}
	if t.ComputeUnitsConsumed != nil {
		row.ComputeUnitsConsumed = int64(*t.ComputeUnitsConsumed)
	}

	var err error
	if row.InstructionsJSON, err = jsonArray(t.Instructions); err != nil {
		return TransactionRow{}, fmt.Errorf("encode instructions of %s: %w", t.Signature, err)
	}
	if row.AccountKeysJSON, err = jsonArray(t.AccountKeys); err != nil {
		return TransactionRow{}, fmt.Errorf("encode account keys of %s: %w", t.Signature, err)
	}
	if row.LogMessagesJSON, err = jsonArray(t.LogMessages); err != nil {
		return TransactionRow{}, fmt.Errorf("encode log messages of %s: %w", t.Signature, err)
	}
	if row.PreBalancesJSON, err = jsonArray(t.PreBalances); err != nil {
		return TransactionRow{}, fmt.Errorf("encode pre balances of %s: %w", t.Signature, err)
	}
	if row.PostBalancesJSON, err = jsonArray(t.PostBalances); err != nil {
		return TransactionRow{}, fmt.Errorf("encode post balances of %s: %w", t.Signature, err)
	}
	return row, nil
}

// RowToTransaction converts a stored row back. A fee or compute-unit count of 0 reads back as absent.
func RowToTransaction(r TransactionRow) (models.TxRecord, error) {
	t := models.TxRecord{
		Signature: r.Signature,
		Slot:      uint64(r.Slot),
		IsVote:    r.IsVote,
		Index:     uint64(r.TxIndex),
		Success:   r.Success,
		Timestamp: time.UnixMilli(r.TimestampMs).UTC(),
	}
	if r.Fee != 0 {
		t.Fee = models.Uint64Ptr(uint64(r.Fee))
	}
	if r.ComputeUnitsConsumed != 0 {
		t.ComputeUnitsConsumed = models.Uint64Ptr(uint64(r.ComputeUnitsConsumed))
	}

	if err := decodeArray(r.InstructionsJSON, &t.Instructions); err != nil {
		return models.TxRecord{}, fmt.Errorf("decode instructions of %s: %w", r.Signature, err)
	}
	if err := decodeArray(r.AccountKeysJSON, &t.AccountKeys); err != nil {
		return models.TxRecord{}, fmt.Errorf("decode account keys of %s: %w", r.Signature, err)
	}
	if err := decodeArray(r.LogMessagesJSON, &t.LogMessages); err != nil {
		return models.TxRecord{}, fmt.Errorf("decode log messages of %s: %w", r.Signature, err)
	}
	if err := decodeArray(r.PreBalancesJSON, &t.PreBalances); err != nil {
		return models.TxRecord{}, fmt.Errorf("decode pre balances of %s: %w", r.Signature, err)
	}
	if err := decodeArray(r.PostBalancesJSON, &t.PostBalances); err != nil {
		return models.TxRecord{}, fmt.Errorf("decode post balances of %s: %w", r.Signature, err)
	}
	return t, nil
}

// RowsToTransactions converts a result set, failing on the first undecodable row.
func RowsToTransactions(rows []TransactionRow) ([]models.TxRecord, error) {
	out := make([]models.TxRecord, 0, len(rows))
	for _, r := range rows {
		t, err := RowToTransaction(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func RowsToAccounts(rows []AccountRow) []models.AccountSnapshot {
	out := make([]models.AccountSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, RowToAccount(r))
	}
	return out
}

// jsonArray encodes a slice, writing nil as [] rather than null.
func jsonArray[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// decodeArray leaves dst as an empty non-nil slice for empty or null columns.
func decodeArray[T any](raw string, dst *[]T) error {
	*dst = []T{}
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
