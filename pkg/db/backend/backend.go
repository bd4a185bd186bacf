// Package backend opens the storage engine selected by STORE_BACKEND.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/canopy-network/geyserx/pkg/db"
	"github.com/canopy-network/geyserx/pkg/db/clickhouse"
	"github.com/canopy-network/geyserx/pkg/db/scylla"
	"github.com/canopy-network/geyserx/pkg/utils"
	"go.uber.org/zap"
)

const (
	Scylla     = "scylla"
	ClickHouse = "clickhouse"
)

// Open connects to the configured backend. component selects the ClickHouse pool size
// ("persist" or "query") and is ignored by Scylla.
func Open(ctx context.Context, logger *zap.Logger, component string) (db.Backend, error) {
	kind := strings.ToLower(utils.Env("STORE_BACKEND", Scylla))
	logger.Info("Opening storage backend", zap.String("backend", kind), zap.String("component", component))

	switch kind {
	case Scylla:
		store, err := scylla.New(ctx, logger, scylla.ConfigFromEnv())
		if err != nil {
			return nil, err
		}
		return store, nil
	case ClickHouse:
		client, err := clickhouse.New(ctx, logger, clickhouse.ConfigFromEnv(component))
		if err != nil {
			return nil, err
		}
		return clickhouse.NewStore(client,
			utils.Env("ACCOUNTS_TABLE", db.DefaultAccountsTable),
			utils.Env("TRANSACTIONS_TABLE", db.DefaultTransactionsTable)), nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q (want %s or %s)", kind, Scylla, ClickHouse)
	}
}
