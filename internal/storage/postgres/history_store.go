// Package postgres records scrape history in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/marketplace-search-scraper/internal/scraper"
)

const defaultTable = "scrape_history"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for history rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// HistoryStore implements scraper.HistoryStore.
type HistoryStore struct {
	pool  execCloser
	table string
}

// NewHistoryStore connects a pool from cfg.
func NewHistoryStore(ctx context.Context, cfg Config) (*HistoryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &HistoryStore{pool: pool, table: table}, nil
}

// NewHistoryStoreWithPool wraps an existing pool (primarily for testing).
func NewHistoryStoreWithPool(pool execCloser, table string) (*HistoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &HistoryStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *HistoryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the history table when it does not exist yet.
func (s *HistoryStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            TEXT PRIMARY KEY,
	keyword       TEXT NOT NULL,
	url           TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	product_count INTEGER NOT NULL,
	content_hash  TEXT NOT NULL DEFAULT '',
	snapshot_uri  TEXT NOT NULL DEFAULT '',
	duration_ms   BIGINT NOT NULL,
	used_headless BOOLEAN NOT NULL DEFAULT FALSE,
	fetched_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_keyword_fetched_at_idx ON %[1]s (keyword, fetched_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	return nil
}

// StoreScrape inserts one history row.
func (s *HistoryStore) StoreScrape(ctx context.Context, record scraper.ScrapeRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("history store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	keyword,
	url,
	status_code,
	product_count,
	content_hash,
	snapshot_uri,
	duration_ms,
	used_headless,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		record.ID,
		record.Keyword,
		record.URL,
		record.StatusCode,
		record.ProductCount,
		record.ContentHash,
		record.SnapshotURI,
		record.Duration.Milliseconds(),
		record.UsedHeadless,
		record.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert scrape history: %w", err)
	}
	return nil
}
