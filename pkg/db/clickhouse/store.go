package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/canopy-network/geyserx/pkg/db"
	"github.com/canopy-network/geyserx/pkg/models"
)

// Store implements db.Backend on ClickHouse. Both tables are ReplacingMergeTree ordered
// by the natural key, so an upsert is an insert and reads use FINAL to see only the
// surviving version of each key.
type Store struct {
	client       *Client
	accounts     string
	transactions string
}

var _ db.Backend = (*Store)(nil)

func NewStore(client *Client, accountsTable, transactionsTable string) *Store {
	return &Store{
		client:       client,
		accounts:     fmt.Sprintf("%s.%s", client.Database, accountsTable),
		transactions: fmt.Sprintf("%s.%s", client.Database, transactionsTable),
	}
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *Store) CreateKeyspace(ctx context.Context) error {
	return s.client.CreateDatabase(ctx)
}

func accountsTableSQL(table, onCluster, engine string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s %s (
			pubkey String,
			lamports Int64,
			owner LowCardinality(String),
			executable Bool,
			rent_epoch Int64,
			data String,
			write_version Int64,
			slot Int64,
			txn_signature String,
			timestamp_ms Int64,
			INDEX idx_slot slot TYPE minmax GRANULARITY 4
		) ENGINE = %s
		ORDER BY pubkey`, table, onCluster, engine)
}

func transactionsTableSQL(table, onCluster, engine string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s %s (
			signature String,
			slot Int64,
			is_vote Bool,
			tx_index Int64,
			success Bool,
			fee Int64,
			compute_units_consumed Int64,
			instructions_json String CODEC(ZSTD(3)),
			account_keys_json String CODEC(ZSTD(3)),
			log_messages_json String CODEC(ZSTD(3)),
			pre_balances_json String,
			post_balances_json String,
			timestamp_ms Int64,
			INDEX idx_slot slot TYPE minmax GRANULARITY 4
		) ENGINE = %s
		ORDER BY signature`, table, onCluster, engine)
}

func (s *Store) CreateAccountsTable(ctx context.Context) error {
	query := accountsTableSQL(s.accounts, s.client.OnCluster(), s.client.Engine(ReplacingMergeTree, "write_version"))
	if err := s.client.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.accounts, err)
	}
	return nil
}

func (s *Store) CreateTransactionsTable(ctx context.Context) error {
	query := transactionsTableSQL(s.transactions, s.client.OnCluster(), s.client.Engine(ReplacingMergeTree, "timestamp_ms"))
	if err := s.client.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.transactions, err)
	}
	return nil
}

const (
	accountColumns     = "pubkey, lamports, owner, executable, rent_epoch, data, write_version, slot, txn_signature, timestamp_ms"
	transactionColumns = "signature, slot, is_vote, tx_index, success, fee, compute_units_consumed, " +
		"instructions_json, account_keys_json, log_messages_json, pre_balances_json, post_balances_json, timestamp_ms"
)

func insertSQL(table, columns string) string {
	n := strings.Count(columns, ",") + 1
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, columns, strings.TrimSuffix(strings.Repeat("?, ", n), ", "))
}

func (s *Store) UpsertAccount(ctx context.Context, row db.AccountRow) error {
	return s.client.Exec(WithAsyncInsert(ctx), insertSQL(s.accounts, accountColumns),
		row.Pubkey,
		row.Lamports,
		row.Owner,
		row.Executable,
		row.RentEpoch,
		row.Data,
		row.WriteVersion,
		row.Slot,
		row.TxnSignature,
		row.TimestampMs,
	)
}

func (s *Store) UpsertTransaction(ctx context.Context, row db.TransactionRow) error {
	return s.client.Exec(WithAsyncInsert(ctx), insertSQL(s.transactions, transactionColumns),
		row.Signature,
		row.Slot,
		row.IsVote,
		row.TxIndex,
		row.Success,
		row.Fee,
		row.ComputeUnitsConsumed,
		row.InstructionsJSON,
		row.AccountKeysJSON,
		row.LogMessagesJSON,
		row.PreBalancesJSON,
		row.PostBalancesJSON,
		row.TimestampMs,
	)
}

func (s *Store) selectAccounts(ctx context.Context, where string, args ...interface{}) ([]db.AccountRow, error) {
	var rows []db.AccountRow
	query := fmt.Sprintf("SELECT %s FROM %s FINAL %s", accountColumns, s.accounts, where)
	if err := s.client.SelectFinal(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query %s: %w", s.accounts, err)
	}
	return rows, nil
}

func (s *Store) selectTransactions(ctx context.Context, where string, args ...interface{}) ([]db.TransactionRow, error) {
	var rows []db.TransactionRow
	query := fmt.Sprintf("SELECT %s FROM %s FINAL %s", transactionColumns, s.transactions, where)
	if err := s.client.SelectFinal(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query %s: %w", s.transactions, err)
	}
	return rows, nil
}

func (s *Store) AccountsBySlot(ctx context.Context, slot uint64) ([]models.AccountSnapshot, error) {
	rows, err := s.selectAccounts(ctx, "WHERE slot = ?", int64(slot))
	if err != nil {
		return nil, err
	}
	return db.RowsToAccounts(rows), nil
}

func (s *Store) AccountHistory(ctx context.Context, pubkey string, limit int) ([]models.AccountSnapshot, error) {
	rows, err := s.selectAccounts(ctx, "WHERE pubkey = ? ORDER BY write_version DESC LIMIT ?", pubkey, db.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	return db.RowsToAccounts(rows), nil
}

func (s *Store) TransactionsBySlot(ctx context.Context, slot uint64) ([]models.TxRecord, error) {
	rows, err := s.selectTransactions(ctx, "WHERE slot = ? ORDER BY tx_index", int64(slot))
	if err != nil {
		return nil, err
	}
	return db.RowsToTransactions(rows)
}

func (s *Store) TransactionBySignature(ctx context.Context, signature string) (models.TxRecord, error) {
	rows, err := s.selectTransactions(ctx, "WHERE signature = ? LIMIT 1", signature)
	if err != nil {
		return models.TxRecord{}, err
	}
	if len(rows) == 0 {
		return models.TxRecord{}, db.ErrNotFound
	}
	return db.RowToTransaction(rows[0])
}

// TransactionsByAccount scans account_keys_json server side. Still a full scan.
func (s *Store) TransactionsByAccount(ctx context.Context, account string, limit int) ([]models.TxRecord, error) {
	rows, err := s.selectTransactions(ctx, "WHERE position(account_keys_json, ?) > 0 LIMIT ?", `"`+account+`"`, db.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	return db.RowsToTransactions(rows)
}

// TransactionsWithLogPattern scans log_messages_json server side. Still a full scan.
func (s *Store) TransactionsWithLogPattern(ctx context.Context, pattern string, limit int) ([]models.TxRecord, error) {
	rows, err := s.selectTransactions(ctx, "WHERE position(log_messages_json, ?) > 0 LIMIT ?", pattern, db.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	return db.RowsToTransactions(rows)
}

func (s *Store) FailedTransactionsBySlot(ctx context.Context, slot uint64) ([]models.TxRecord, error) {
	rows, err := s.selectTransactions(ctx, "WHERE slot = ? AND success = false ORDER BY tx_index", int64(slot))
	if err != nil {
		return nil, err
	}
	return db.RowsToTransactions(rows)
}
