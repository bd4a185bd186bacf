// Package dbtest provides an in-memory db.Backend for tests.
package dbtest

import (
	"context"
	"sort"
	"sync"

	"github.com/canopy-network/geyserx/pkg/db"
	"github.com/canopy-network/geyserx/pkg/models"
	"github.com/puzpuzpuz/xsync/v4"
)

// MemStore keeps rows keyed by their natural key, like the real tables.
type MemStore struct {
	accounts     *xsync.Map[string, db.AccountRow]
	transactions *xsync.Map[string, db.TransactionRow]

	accountUpserts     *xsync.Counter
	transactionUpserts *xsync.Counter

	mu         sync.Mutex
	ddl        []string
	accountErr failure
	txErr      failure
	ddlErr     error
}

type failure struct {
	after int // successful calls allowed before err is returned
	times int // failing calls before recovering, 0 = forever
	calls int
	err   error
}

func (f *failure) next() error {
	if f.err == nil {
		return nil
	}
	f.calls++
	if f.calls <= f.after {
		return nil
	}
	if f.times > 0 && f.calls > f.after+f.times {
		return nil
	}
	return f.err
}

var _ db.Backend = (*MemStore)(nil)

func New() *MemStore {
	return &MemStore{
		accounts:           xsync.NewMap[string, db.AccountRow](),
		transactions:       xsync.NewMap[string, db.TransactionRow](),
		accountUpserts:     xsync.NewCounter(),
		transactionUpserts: xsync.NewCounter(),
	}
}

// FailAccountsAfter makes UpsertAccount return err after n more successful calls.
// A nil err clears the failure.
func (m *MemStore) FailAccountsAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountErr = failure{after: n, err: err}
}

// FailAccountsNext makes the next times calls to UpsertAccount return err.
func (m *MemStore) FailAccountsNext(times int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountErr = failure{times: times, err: err}
}

// FailTransactionsAfter makes UpsertTransaction return err after n more successful calls.
func (m *MemStore) FailTransactionsAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txErr = failure{after: n, err: err}
}

// FailDDL makes every Create* call return err.
func (m *MemStore) FailDDL(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ddlErr = err
}

// DDL returns the schema operations issued so far.
func (m *MemStore) DDL() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ddl...)
}

func (m *MemStore) recordDDL(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ddlErr != nil {
		return m.ddlErr
	}
	m.ddl = append(m.ddl, op)
	return nil
}

func (m *MemStore) CreateKeyspace(context.Context) error { return m.recordDDL("keyspace") }

func (m *MemStore) CreateAccountsTable(context.Context) error { return m.recordDDL("accounts") }

func (m *MemStore) CreateTransactionsTable(context.Context) error {
	return m.recordDDL("transactions")
}

func (m *MemStore) UpsertAccount(ctx context.Context, row db.AccountRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	err := m.accountErr.next()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.accounts.Store(row.Pubkey, row)
	m.accountUpserts.Inc()
	return nil
}

func (m *MemStore) UpsertTransaction(ctx context.Context, row db.TransactionRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	err := m.txErr.next()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.transactions.Store(row.Signature, row)
	m.transactionUpserts.Inc()
	return nil
}

// AccountRows returns every account row ordered by pubkey.
func (m *MemStore) AccountRows() []db.AccountRow {
	var rows []db.AccountRow
	m.accounts.Range(func(_ string, r db.AccountRow) bool {
		rows = append(rows, r)
		return true
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].Pubkey < rows[j].Pubkey })
	return rows
}

// TransactionRows returns every transaction row ordered by slot, then index.
func (m *MemStore) TransactionRows() []db.TransactionRow {
	var rows []db.TransactionRow
	m.transactions.Range(func(_ string, r db.TransactionRow) bool {
		rows = append(rows, r)
		return true
	})
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Slot != rows[j].Slot {
			return rows[i].Slot < rows[j].Slot
		}
		if rows[i].TxIndex != rows[j].TxIndex {
			return rows[i].TxIndex < rows[j].TxIndex
		}
		return rows[i].Signature < rows[j].Signature
	})
	return rows
}

// Account returns the row stored for pubkey.
func (m *MemStore) Account(pubkey string) (db.AccountRow, bool) {
	return m.accounts.Load(pubkey)
}

// AccountUpserts counts successful UpsertAccount calls, including overwrites.
func (m *MemStore) AccountUpserts() int64 { return m.accountUpserts.Value() }

// TransactionUpserts counts successful UpsertTransaction calls, including overwrites.
func (m *MemStore) TransactionUpserts() int64 { return m.transactionUpserts.Value() }

func (m *MemStore) AccountsBySlot(_ context.Context, slot uint64) ([]models.AccountSnapshot, error) {
	var rows []db.AccountRow
	for _, r := range m.AccountRows() {
		if r.Slot == int64(slot) {
			rows = append(rows, r)
		}
	}
	return db.RowsToAccounts(rows), nil
}

func (m *MemStore) AccountHistory(_ context.Context, pubkey string, limit int) ([]models.AccountSnapshot, error) {
	r, ok := m.accounts.Load(pubkey)
	if !ok || db.ClampLimit(limit) < 1 {
		return []models.AccountSnapshot{}, nil
	}
	return []models.AccountSnapshot{db.RowToAccount(r)}, nil
}

func (m *MemStore) TransactionsBySlot(_ context.Context, slot uint64) ([]models.TxRecord, error) {
	return db.RowsToTransactions(m.filterTransactions(func(r db.TransactionRow) bool {
		return r.Slot == int64(slot)
	}))
}

func (m *MemStore) TransactionBySignature(_ context.Context, signature string) (models.TxRecord, error) {
	r, ok := m.transactions.Load(signature)
	if !ok {
		return models.TxRecord{}, db.ErrNotFound
	}
	return db.RowToTransaction(r)
}

func (m *MemStore) TransactionsByAccount(_ context.Context, account string, limit int) ([]models.TxRecord, error) {
	return db.RowsToTransactions(db.FilterByAccount(m.TransactionRows(), account, db.ClampLimit(limit)))
}

func (m *MemStore) TransactionsWithLogPattern(_ context.Context, pattern string, limit int) ([]models.TxRecord, error) {
	return db.RowsToTransactions(db.FilterByLogPattern(m.TransactionRows(), pattern, db.ClampLimit(limit)))
}

func (m *MemStore) FailedTransactionsBySlot(_ context.Context, slot uint64) ([]models.TxRecord, error) {
	return db.RowsToTransactions(m.filterTransactions(func(r db.TransactionRow) bool {
		return r.Slot == int64(slot) && !r.Success
	}))
}

func (m *MemStore) Ping(context.Context) error { return nil }

func (m *MemStore) Close() error { return nil }

func (m *MemStore) filterTransactions(keep func(db.TransactionRow) bool) []db.TransactionRow {
	var rows []db.TransactionRow
	for _, r := range m.TransactionRows() {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	return rows
}
