package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/canopy-network/geyserx/pkg/db"
	"github.com/canopy-network/geyserx/pkg/logging"
	"github.com/canopy-network/geyserx/pkg/retry"
	"github.com/canopy-network/geyserx/pkg/utils"
	"go.uber.org/zap"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	MergeTree          = "MergeTree"
	ReplacingMergeTree = "ReplacingMergeTree"
)

// Pool sizes the driver's connection pool.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// componentPools holds fixed pool sizes for the known processes.
var componentPools = map[string]Pool{
	"persist": {MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute},
	"query":   {MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute},
}

var strategies = map[string]clickhouse.ConnOpenStrategy{
	"in_order":    clickhouse.ConnOpenInOrder,
	"round_robin": clickhouse.ConnOpenRoundRobin,
	"roundrobin":  clickhouse.ConnOpenRoundRobin,
	"random":      clickhouse.ConnOpenRandom,
}

// Config describes one ClickHouse deployment.
type Config struct {
	// DSN lists one or more replicas: clickhouse://user:pass@h1:9000,h2:9000/db
	DSN      string
	Database string
	// Cluster adds ON CLUSTER to DDL and switches to Replicated engines.
	Cluster  string
	Strategy string
	Pool     Pool
}

// ConfigFromEnv reads CLICKHOUSE_* settings. component picks a fixed pool for the
// persist and query processes; anything else sizes the pool from the environment.
func ConfigFromEnv(component string) Config {
	return Config{
		DSN:      utils.Env("CLICKHOUSE_ADDR", "clickhouse://localhost:9000?sslmode=disable"),
		Database: SanitizeName(utils.Env("CLICKHOUSE_DB", db.DefaultKeyspace)),
		Cluster:  utils.Env("CLICKHOUSE_CLUSTER", ""),
		Strategy: utils.Env("CLICKHOUSE_CONN_STRATEGY", "in_order"),
		Pool:     PoolFor(component),
	}
}

// PoolFor returns the pool for component. MaxIdleConns never exceeds MaxOpenConns.
func PoolFor(component string) Pool {
	p, ok := componentPools[component]
	if !ok {
		p = Pool{
			MaxOpenConns:    utils.EnvInt("CLICKHOUSE_MAX_OPEN_CONNS", 75),
			MaxIdleConns:    utils.EnvInt("CLICKHOUSE_MAX_IDLE_CONNS", 75),
			ConnMaxLifetime: utils.EnvDuration("CLICKHOUSE_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	if p.MaxIdleConns > p.MaxOpenConns {
		p.MaxIdleConns = p.MaxOpenConns
	}
	return p
}

// openStrategy maps a strategy name to the driver's replica selection. Unknown
// names fall back to in_order.
func openStrategy(name string) clickhouse.ConnOpenStrategy {
	if s, ok := strategies[strings.ToLower(strings.TrimSpace(name))]; ok {
		return s
	}
	return clickhouse.ConnOpenInOrder
}

type Client struct {
	Logger   *zap.Logger
	Db       driver.Conn
	Database string
	Cluster  string
}

// New opens the pool and pings it, retrying with backoff. The session stays on the
// "default" database so the target database can be created later; statements always
// qualify table names.
func New(ctx context.Context, logger *zap.Logger, cfg Config) (*Client, error) {
	logger = logging.OrNop(logger)
	if cfg.Database == "" {
		return nil, errors.New("clickhouse database name is required")
	}

	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	d := parseDSN(cfg.DSN)
	options := &clickhouse.Options{
		Addr:             d.replicas,
		ConnOpenStrategy: openStrategy(cfg.Strategy),
		Auth: clickhouse.Auth{
			Database: "default",
			Username: d.username,
			Password: d.password,
		},
		DialTimeout:     30 * time.Second,
		MaxOpenConns:    cfg.Pool.MaxOpenConns,
		MaxIdleConns:    cfg.Pool.MaxIdleConns,
		ConnMaxLifetime: cfg.Pool.ConnMaxLifetime,
		Compression:     &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		options.Debugf = logger.Named("clickhouse.driver").Sugar().Debugf
	}

	client := &Client{Logger: logger, Database: cfg.Database, Cluster: cfg.Cluster}
	err := retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "clickhouse_connection", func() error {
		conn, err := clickhouse.Open(options)
		if err != nil {
			return fmt.Errorf("open clickhouse %v: %w", d.replicas, err)
		}
		if err := conn.Ping(connCtx); err != nil {
			_ = conn.Close()
			return fmt.Errorf("ping clickhouse %v: %w", d.replicas, err)
		}
		client.Db = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Connected to ClickHouse",
		zap.String("database", cfg.Database),
		zap.String("cluster", cfg.Cluster),
		zap.Strings("replicas", d.replicas),
		zap.String("strategy", cfg.Strategy),
		zap.Int("max_open_conns", cfg.Pool.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Pool.MaxIdleConns))
	return client, nil
}

type dsn struct {
	replicas []string
	username string
	password string
}

// parseDSN splits a clickhouse:// or tcp:// DSN into its replicas and credentials.
// The user defaults to "default" and the replica list to localhost:9000.
func parseDSN(raw string) dsn {
	rest := strings.TrimPrefix(strings.TrimPrefix(raw, "clickhouse://"), "tcp://")
	out := dsn{username: "default"}

	if userinfo, hosts, ok := strings.Cut(rest, "@"); ok {
		out.username, out.password, _ = strings.Cut(userinfo, ":")
		rest = hosts
	}
	if i := strings.IndexAny(rest, "/?"); i != -1 {
		rest = rest[:i]
	}
	for _, h := range strings.Split(rest, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out.replicas = append(out.replicas, h)
		}
	}
	if len(out.replicas) == 0 {
		out.replicas = []string{"localhost:9000"}
	}
	return out
}

// WithAsyncInsert makes the next insert buffer server side; the call returns once
// the buffer is flushed.
func WithAsyncInsert(ctx context.Context) context.Context {
	return clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"async_insert":          1,
		"wait_for_async_insert": 1,
	}))
}

// Engine returns engine, or its Replicated variant on a cluster. Replicated engines
// omit ZooKeeper paths so ClickHouse generates them.
func (c *Client) Engine(engine, versionCol string) string {
	if c.Cluster != "" {
		engine = "Replicated" + engine
	}
	if versionCol == "" {
		return engine
	}
	return engine + "(" + versionCol + ")"
}

// OnCluster returns the ON CLUSTER clause, or "" on a single node.
func (c *Client) OnCluster() string {
	if c.Cluster == "" {
		return ""
	}
	return "ON CLUSTER " + c.Cluster
}

// SanitizeName lowercases id and replaces '-' and '.' so it is a valid identifier.
func SanitizeName(id string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(strings.ToLower(id))
}

func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.Db.Exec(ctx, query, args...)
}

// SelectFinal runs a Select that reads through FINAL.
func (c *Client) SelectFinal(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if !strings.Contains(query, " FINAL") {
		return fmt.Errorf("query must read FINAL: %s", query)
	}
	return c.Db.Select(ctx, dest, query, args...)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Db.Ping(ctx)
}

func (c *Client) Close() error {
	return c.Db.Close()
}

// CreateDatabase creates the target database when missing.
func (c *Client) CreateDatabase(ctx context.Context) error {
	query := strings.TrimSpace(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s %s", c.Database, c.OnCluster()))
	c.Logger.Info("Creating database", zap.String("database", c.Database))
	return c.Exec(ctx, query)
}
