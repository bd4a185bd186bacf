package db

import (
	"context"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/geyserx/pkg/logging"
	"go.uber.org/zap"
)

// Provision issues the idempotent DDL: the keyspace first, then both tables in parallel.
func Provision(ctx context.Context, store Store, logger *zap.Logger) error {
	logger = logging.OrNop(logger)

	if err := store.CreateKeyspace(ctx); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}

	pool := pond.NewPool(2)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	group.SubmitErr(func() error {
		if err := store.CreateAccountsTable(group.Context()); err != nil {
			return fmt.Errorf("create accounts table: %w", err)
		}
		return nil
	})
	group.SubmitErr(func() error {
		if err := store.CreateTransactionsTable(group.Context()); err != nil {
			return fmt.Errorf("create transactions table: %w", err)
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("Storage schema ready")
	return nil
}
