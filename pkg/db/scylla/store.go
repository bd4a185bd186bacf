package scylla

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/canopy-network/geyserx/pkg/db"
	"github.com/canopy-network/geyserx/pkg/logging"
	"github.com/canopy-network/geyserx/pkg/models"
	"github.com/canopy-network/geyserx/pkg/retry"
	"github.com/canopy-network/geyserx/pkg/utils"
	"github.com/gocql/gocql"
	"go.uber.org/zap"
)

// Config selects the cluster and the fully qualified table names.
type Config struct {
	Hosts             []string
	Keyspace          string
	AccountsTable     string
	TransactionsTable string
	ReplicationFactor int
	Consistency       gocql.Consistency
	Timeout           time.Duration
}

// ConfigFromEnv reads SCYLLA_NODES, SCYLLA_KEYSPACE, SCYLLA_REPLICATION_FACTOR,
// ACCOUNTS_TABLE and TRANSACTIONS_TABLE.
func ConfigFromEnv() Config {
	return Config{
		Hosts:             utils.EnvList("SCYLLA_NODES", []string{"127.0.0.1:9042"}),
		Keyspace:          utils.Env("SCYLLA_KEYSPACE", db.DefaultKeyspace),
		AccountsTable:     utils.Env("ACCOUNTS_TABLE", db.DefaultAccountsTable),
		TransactionsTable: utils.Env("TRANSACTIONS_TABLE", db.DefaultTransactionsTable),
		ReplicationFactor: utils.EnvInt("SCYLLA_REPLICATION_FACTOR", 1),
		Consistency:       gocql.One,
		Timeout:           utils.EnvDuration("SCYLLA_TIMEOUT", 10*time.Second),
	}
}

// Store is the wide-column sink. Every statement uses keyspace-qualified table names,
// so the session is not bound to a keyspace and can create it.
type Store struct {
	session *gocql.Session
	cfg     Config
	logger  *zap.Logger

	accounts     string
	transactions string
}

var _ db.Backend = (*Store)(nil)

// New connects to the cluster, retrying with backoff until ctx is done.
func New(ctx context.Context, logger *zap.Logger, cfg Config) (*Store, error) {
	logger = logging.OrNop(logger)
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("at least one scylla node is required")
	}
	if cfg.ReplicationFactor < 1 {
		cfg.ReplicationFactor = 1
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = cfg.Consistency
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
		cluster.ConnectTimeout = cfg.Timeout
	}

	var session *gocql.Session
	err := retry.WithBackoff(ctx, retry.DefaultConfig(), logger, "scylla_connection", func() error {
		s, err := cluster.CreateSession()
		if err != nil {
			return fmt.Errorf("failed to connect to scylla %v: %w", cfg.Hosts, err)
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Connected to Scylla",
		zap.Strings("hosts", cfg.Hosts),
		zap.String("keyspace", cfg.Keyspace),
		zap.Stringer("consistency", cfg.Consistency))

	return &Store{
		session:      session,
		cfg:          cfg,
		logger:       logger,
		accounts:     qualify(cfg.Keyspace, cfg.AccountsTable),
		transactions: qualify(cfg.Keyspace, cfg.TransactionsTable),
	}, nil
}

func qualify(keyspace, table string) string {
	return keyspace + "." + table
}

func (s *Store) Close() error {
	s.session.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	var version string
	return s.session.Query(`SELECT release_version FROM system.local`).WithContext(ctx).Scan(&version)
}

// =============================================================================
// Schema
// =============================================================================

func keyspaceCQL(keyspace string, rf int) string {
	return fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		keyspace, rf)
}

func accountsTableCQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			pubkey text PRIMARY KEY,
			lamports bigint,
			owner text,
			executable boolean,
			rent_epoch bigint,
			data text,
			write_version bigint,
			slot bigint,
			txn_signature text,
			timestamp_ms bigint
		)`, table)
}

func transactionsTableCQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			signature text PRIMARY KEY,
			slot bigint,
			is_vote boolean,
			tx_index bigint,
			success boolean,
			fee bigint,
			compute_units_consumed bigint,
			instructions_json text,
			account_keys_json text,
			log_messages_json text,
			pre_balances_json text,
			post_balances_json text,
			timestamp_ms bigint
		)`, table)
}

func slotIndexCQL(table string) string {
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ON %s (slot)`, table)
}

func (s *Store) exec(ctx context.Context, stmt string, args ...interface{}) error {
	return s.session.Query(stmt, args...).WithContext(ctx).Exec()
}

func (s *Store) CreateKeyspace(ctx context.Context) error {
	s.logger.Info("Creating keyspace", zap.String("keyspace", s.cfg.Keyspace))
	return s.exec(ctx, keyspaceCQL(s.cfg.Keyspace, s.cfg.ReplicationFactor))
}

func (s *Store) CreateAccountsTable(ctx context.Context) error {
	if err := s.exec(ctx, accountsTableCQL(s.accounts)); err != nil {
		return fmt.Errorf("create %s: %w", s.accounts, err)
	}
	return nil
}

func (s *Store) CreateTransactionsTable(ctx context.Context) error {
	if err := s.exec(ctx, transactionsTableCQL(s.transactions)); err != nil {
		return fmt.Errorf("create %s: %w", s.transactions, err)
	}
	if err := s.exec(ctx, slotIndexCQL(s.transactions)); err != nil {
		return fmt.Errorf("create slot index on %s: %w", s.transactions, err)
	}
	return nil
}

// =============================================================================
// Writes
// =============================================================================

const (
	accountColumns     = "pubkey, lamports, owner, executable, rent_epoch, data, write_version, slot, txn_signature, timestamp_ms"
	transactionColumns = "signature, slot, is_vote, tx_index, success, fee, compute_units_consumed, " +
		"instructions_json, account_keys_json, log_messages_json, pre_balances_json, post_balances_json, timestamp_ms"
)

func placeholders(columns string) string {
	n := strings.Count(columns, ",") + 1
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// UpsertAccount relies on CQL INSERT being an upsert on the primary key.
func (s *Store) UpsertAccount(ctx context.Context, row db.AccountRow) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, s.accounts, accountColumns, placeholders(accountColumns))
	return s.exec(ctx, stmt,
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
	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, s.transactions, transactionColumns, placeholders(transactionColumns))
	return s.exec(ctx, stmt,
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

// =============================================================================
// Reads
// =============================================================================

func (s *Store) selectAccounts(ctx context.Context, where string, args ...interface{}) ([]db.AccountRow, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM %s %s`, accountColumns, s.accounts, where)
	scanner := s.session.Query(stmt, args...).WithContext(ctx).Iter().Scanner()

	var rows []db.AccountRow
	for scanner.Next() {
		var r db.AccountRow
		if err := scanner.Scan(
			&r.Pubkey,
			&r.Lamports,
			&r.Owner,
			&r.Executable,
			&r.RentEpoch,
			&r.Data,
			&r.WriteVersion,
			&r.Slot,
			&r.TxnSignature,
			&r.TimestampMs,
		); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.accounts, err)
		}
		rows = append(rows, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", s.accounts, err)
	}
	return rows, nil
}

func (s *Store) selectTransactions(ctx context.Context, where string, args ...interface{}) ([]db.TransactionRow, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM %s %s`, transactionColumns, s.transactions, where)
	scanner := s.session.Query(stmt, args...).WithContext(ctx).Iter().Scanner()

	var rows []db.TransactionRow
	for scanner.Next() {
		var r db.TransactionRow
		if err := scanner.Scan(
			&r.Signature,
			&r.Slot,
			&r.IsVote,
			&r.TxIndex,
			&r.Success,
			&r.Fee,
			&r.ComputeUnitsConsumed,
			&r.InstructionsJSON,
			&r.AccountKeysJSON,
			&r.LogMessagesJSON,
			&r.PreBalancesJSON,
			&r.PostBalancesJSON,
			&r.TimestampMs,
		); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.transactions, err)
		}
		rows = append(rows, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", s.transactions, err)
	}
	return rows, nil
}

func (s *Store) AccountsBySlot(ctx context.Context, slot uint64) ([]models.AccountSnapshot, error) {
	rows, err := s.selectAccounts(ctx, `WHERE slot = ? ALLOW FILTERING`, int64(slot))
	if err != nil {
		return nil, err
	}
	return db.RowsToAccounts(rows), nil
}

// AccountHistory returns the stored snapshot of pubkey. The table keeps one row per
// account, so the history holds at most one entry.
func (s *Store) AccountHistory(ctx context.Context, pubkey string, limit int) ([]models.AccountSnapshot, error) {
	rows, err := s.selectAccounts(ctx, `WHERE pubkey = ? LIMIT ?`, pubkey, db.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	return db.RowsToAccounts(rows), nil
}

func (s *Store) TransactionsBySlot(ctx context.Context, slot uint64) ([]models.TxRecord, error) {
	rows, err := s.selectTransactions(ctx, `WHERE slot = ?`, int64(slot))
	if err != nil {
		return nil, err
	}
	return db.RowsToTransactions(rows)
}

func (s *Store) TransactionBySignature(ctx context.Context, signature string) (models.TxRecord, error) {
	rows, err := s.selectTransactions(ctx, `WHERE signature = ?`, signature)
	if err != nil {
		return models.TxRecord{}, err
	}
	if len(rows) == 0 {
		return models.TxRecord{}, db.ErrNotFound
	}
	return db.RowToTransaction(rows[0])
}

func (s *Store) TransactionsByAccount(ctx context.Context, account string, limit int) ([]models.TxRecord, error) {
	rows, err := s.selectTransactions(ctx, ``)
	if err != nil {
		return nil, err
	}
	return db.RowsToTransactions(db.FilterByAccount(rows, account, limit))
}

func (s *Store) TransactionsWithLogPattern(ctx context.Context, pattern string, limit int) ([]models.TxRecord, error) {
	rows, err := s.selectTransactions(ctx, ``)
	if err != nil {
		return nil, err
	}
	return db.RowsToTransactions(db.FilterByLogPattern(rows, pattern, limit))
}

func (s *Store) FailedTransactionsBySlot(ctx context.Context, slot uint64) ([]models.TxRecord, error) {
	rows, err := s.selectTransactions(ctx, `WHERE slot = ? AND success = false ALLOW FILTERING`, int64(slot))
	if err != nil {
		return nil, err
	}
	return db.RowsToTransactions(rows)
}
