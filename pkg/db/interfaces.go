package db

import (
	"context"
	"errors"

	"github.com/canopy-network/geyserx/pkg/models"
)

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("not found")

// Store is the write side of the storage sink used by the batching writer.
// Upserts are keyed by the natural key (accounts: pubkey, transactions: signature) and are
// idempotent: writing the same row twice leaves the table as writing it once.
type Store interface {
	CreateKeyspace(ctx context.Context) error
	CreateAccountsTable(ctx context.Context) error
	CreateTransactionsTable(ctx context.Context) error
	UpsertAccount(ctx context.Context, row AccountRow) error
	UpsertTransaction(ctx context.Context, row TransactionRow) error
	Close() error
}

// Reader exposes the ad-hoc read operations behind the query API.
//
// TransactionsByAccount and TransactionsWithLogPattern scan the whole transactions table
// and filter in memory. They are O(n) stop-gaps until a secondary index exists.
type Reader interface {
	AccountsBySlot(ctx context.Context, slot uint64) ([]models.AccountSnapshot, error)
	AccountHistory(ctx context.Context, pubkey string, limit int) ([]models.AccountSnapshot, error)
	TransactionsBySlot(ctx context.Context, slot uint64) ([]models.TxRecord, error)
	TransactionBySignature(ctx context.Context, signature string) (models.TxRecord, error)
	TransactionsByAccount(ctx context.Context, account string, limit int) ([]models.TxRecord, error)
	TransactionsWithLogPattern(ctx context.Context, pattern string, limit int) ([]models.TxRecord, error)
	FailedTransactionsBySlot(ctx context.Context, slot uint64) ([]models.TxRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// Backend is a storage engine implementing both sides.
type Backend interface {
	Store
	Reader
}
