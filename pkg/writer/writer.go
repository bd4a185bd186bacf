// Package writer buffers entities per table and upserts them in batches.
package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/geyserx/pkg/db"
	"github.com/canopy-network/geyserx/pkg/logging"
	"github.com/canopy-network/geyserx/pkg/metrics"
	"github.com/canopy-network/geyserx/pkg/models"
	"github.com/canopy-network/geyserx/pkg/retry"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

const (
	AccountsTable     = "accounts"
	TransactionsTable = "transactions"

	DefaultBatchSize = 1000
)

// Sink is the write side of db.Store.
type Sink interface {
	UpsertAccount(ctx context.Context, row db.AccountRow) error
	UpsertTransaction(ctx context.Context, row db.TransactionRow) error
}

// TableStats is the flush history of one table.
type TableStats struct {
	Rows              int64     `json:"rows"`
	Flushes           int64     `json:"flushes"`
	Failures          int64     `json:"failures"`
	LastFlushRows     int       `json:"last_flush_rows"`
	LastFlushDuration string    `json:"last_flush_duration"`
	LastRowsPerSecond float64   `json:"last_rows_per_second"`
	LastFlushAt       time.Time `json:"last_flush_at"`
	LastError         string    `json:"last_error,omitempty"`
}

// Writer holds one batch per entity type. It is not safe for concurrent use except for
// Stats, which may be read from any goroutine.
type Writer struct {
	sink      Sink
	batchSize int
	logger    *zap.Logger
	now       func() time.Time

	accounts     []db.AccountRow
	transactions []db.TransactionRow

	stats *xsync.Map[string, TableStats]
}

func New(sink Sink, batchSize int, logger *zap.Logger) (*Writer, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{
		sink:         sink,
		batchSize:    batchSize,
		logger:       logging.OrNop(logger).With(zap.String("component", "writer")),
		now:          time.Now,
		accounts:     make([]db.AccountRow, 0, batchSize),
		transactions: make([]db.TransactionRow, 0, batchSize),
		stats:        xsync.NewMap[string, TableStats](),
	}, nil
}

func (w *Writer) BatchSize() int { return w.batchSize }

// AddAccount buffers a snapshot, dropping its data, and flushes the accounts batch once it
// holds batchSize rows. The snapshot stays buffered if that flush fails.
func (w *Writer) AddAccount(ctx context.Context, a models.AccountSnapshot) error {
	w.accounts = append(w.accounts, db.AccountToRow(a))
	if len(w.accounts) >= w.batchSize {
		return w.FlushAccounts(ctx)
	}
	return nil
}

// AddTransaction buffers a record and flushes the transactions batch once it holds
// batchSize rows. A record that cannot be encoded is rejected with a permanent error.
func (w *Writer) AddTransaction(ctx context.Context, t models.TxRecord) error {
	row, err := db.TransactionToRow(t)
	if err != nil {
		return retry.Permanent(err)
	}
	w.transactions = append(w.transactions, row)
	if len(w.transactions) >= w.batchSize {
		return w.FlushTransactions(ctx)
	}
	return nil
}

// FlushAccounts upserts every buffered account. Rows written before a failure stay
// written and the batch is kept whole, so a retry re-upserts them.
func (w *Writer) FlushAccounts(ctx context.Context) error {
	if len(w.accounts) == 0 {
		return nil
	}
	start := w.now()
	for _, row := range w.accounts {
		if err := w.sink.UpsertAccount(ctx, row); err != nil {
			w.recordFailure(AccountsTable, err)
			w.logger.Error("Account upsert failed",
				zap.String("pubkey", row.Pubkey),
				zap.Int("batch", len(w.accounts)),
				zap.Error(err))
			return fmt.Errorf("upsert account %s: %w", row.Pubkey, err)
		}
	}
	w.recordFlush(AccountsTable, len(w.accounts), w.now().Sub(start))
	w.accounts = w.accounts[:0]
	return nil
}

// FlushTransactions is FlushAccounts for the transactions batch.
func (w *Writer) FlushTransactions(ctx context.Context) error {
	if len(w.transactions) == 0 {
		return nil
	}
	start := w.now()
	for _, row := range w.transactions {
		if err := w.sink.UpsertTransaction(ctx, row); err != nil {
			w.recordFailure(TransactionsTable, err)
			w.logger.Error("Transaction upsert failed",
				zap.String("signature", row.Signature),
				zap.Int("batch", len(w.transactions)),
				zap.Error(err))
			return fmt.Errorf("upsert transaction %s: %w", row.Signature, err)
		}
	}
	w.recordFlush(TransactionsTable, len(w.transactions), w.now().Sub(start))
	w.transactions = w.transactions[:0]
	return nil
}

// FlushAll flushes accounts, then transactions. Transactions are not attempted when the
// accounts flush fails.
func (w *Writer) FlushAll(ctx context.Context) error {
	if err := w.FlushAccounts(ctx); err != nil {
		return err
	}
	return w.FlushTransactions(ctx)
}

// Pending returns the number of buffered accounts and transactions.
func (w *Writer) Pending() (accounts, transactions int) {
	return len(w.accounts), len(w.transactions)
}

// Stats returns a copy of the per-table flush history.
func (w *Writer) Stats() map[string]TableStats {
	out := make(map[string]TableStats, 2)
	w.stats.Range(func(table string, s TableStats) bool {
		out[table] = s
		return true
	})
	return out
}

func (w *Writer) recordFlush(table string, rows int, elapsed time.Duration) {
	rate := float64(rows)
	if elapsed > 0 {
		rate = float64(rows) / elapsed.Seconds()
	}

	s, _ := w.stats.Load(table)
	s.Rows += int64(rows)
	s.Flushes++
	s.LastFlushRows = rows
	s.LastFlushDuration = elapsed.String()
	s.LastRowsPerSecond = rate
	s.LastFlushAt = w.now().UTC()
	s.LastError = ""
	w.stats.Store(table, s)

	metrics.RowsFlushed.WithLabelValues(table).Add(float64(rows))
	metrics.FlushDuration.WithLabelValues(table).Observe(elapsed.Seconds())

	w.logger.Info("Inserted batch",
		zap.String("table", table),
		zap.Int("rows", rows),
		zap.Duration("elapsed", elapsed),
		zap.Float64("rows_per_sec", rate))
}

func (w *Writer) recordFailure(table string, err error) {
	s, _ := w.stats.Load(table)
	s.Failures++
	s.LastError = err.Error()
	w.stats.Store(table, s)

	metrics.FlushFailures.WithLabelValues(table).Inc()
}
