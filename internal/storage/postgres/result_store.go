// Package postgres persists crawl results, errors and daily per-domain
// totals in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Tables          Tables
	// WriteTimeout bounds each fire-and-forget write.
	WriteTimeout time.Duration
}

// Tables names the three tables the store writes.
type Tables struct {
	Results string
	Errors  string
	Stats   string
}

func (t Tables) withDefaults() (Tables, error) {
	if t.Results == "" {
		t.Results = "crawl_results"
	}
	if t.Errors == "" {
		t.Errors = "crawl_errors"
	}
	if t.Stats == "" {
		t.Stats = "crawl_stats"
	}
	for _, name := range []string{t.Results, t.Errors, t.Stats} {
		if !validTableName.MatchString(name) {
			return Tables{}, fmt.Errorf("invalid table name %q", name)
		}
	}
	return t, nil
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// ResultStore implements crawler.ResultSink on Postgres.
type ResultStore struct {
	pool         pool
	tables       Tables
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewResultStore connects to Postgres using cfg.
func NewResultStore(ctx context.Context, cfg Config, logger *zap.Logger) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := NewResultStoreWithPool(p, cfg.Tables, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	if cfg.WriteTimeout > 0 {
		store.writeTimeout = cfg.WriteTimeout
	}
	return store, nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResultStoreWithPool(p pool, tables Tables, logger *zap.Logger) (*ResultStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	tables, err := tables.withDefaults()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{
		pool:         p,
		tables:       tables,
		writeTimeout: 5 * time.Second,
		logger:       logger.Named("postgres"),
	}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// EnsureSchema creates the tables when they are missing.
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	url TEXT NOT NULL UNIQUE,
	domain TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	keywords TEXT NOT NULL DEFAULT '',
	text_sample TEXT NOT NULL DEFAULT '',
	fields JSONB,
	links_count INTEGER NOT NULL DEFAULT 0,
	depth INTEGER NOT NULL DEFAULT 0,
	response_size INTEGER NOT NULL DEFAULT 0,
	response_time_ms BIGINT NOT NULL DEFAULT 0,
	status_code INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	crawled_at TIMESTAMPTZ NOT NULL
)`, s.tables.Results),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_domain_idx ON %[1]s (domain)`, s.tables.Results),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	url TEXT NOT NULL,
	domain TEXT NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	occurred_at TIMESTAMPTZ NOT NULL
)`, s.tables.Errors),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	day DATE NOT NULL,
	domain TEXT NOT NULL,
	pages BIGINT NOT NULL DEFAULT 0,
	errors BIGINT NOT NULL DEFAULT 0,
	bytes BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (day, domain)
)`, s.tables.Stats),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// StoreResult implements crawler.ResultSink. Failures are logged.
func (s *ResultStore) StoreResult(ctx context.Context, record crawler.ResultRecord) {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := s.insertResult(ctx, record); err != nil {
		s.logger.Warn("store result failed", zap.String("url", record.URL), zap.Error(err))
		return
	}
	if err := s.bumpStats(ctx, record.CrawledAt, record.Domain, 1, 0, int64(record.ResponseSize)); err != nil {
		s.logger.Warn("update crawl stats failed", zap.String("domain", record.Domain), zap.Error(err))
	}
}

// StoreError implements crawler.ResultSink. Failures are logged.
func (s *ResultStore) StoreError(ctx context.Context, record crawler.ErrorRecord) {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, url, domain, kind, message, status_code, retry_count, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, s.tables.Errors)
	_, err := s.pool.Exec(ctx, query,
		record.RunID,
		record.URL,
		record.Domain,
		string(record.Kind),
		record.Message,
		record.StatusCode,
		record.RetryCount,
		record.OccurredAt,
	)
	if err != nil {
		s.logger.Warn("store error record failed", zap.String("url", record.URL), zap.Error(err))
		return
	}
	if err := s.bumpStats(ctx, record.OccurredAt, record.Domain, 0, 1, 0); err != nil {
		s.logger.Warn("update crawl stats failed", zap.String("domain", record.Domain), zap.Error(err))
	}
}

func (s *ResultStore) insertResult(ctx context.Context, record crawler.ResultRecord) error {
	fields, err := json.Marshal(record.Extraction.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	url,
	domain,
	path,
	title,
	description,
	keywords,
	text_sample,
	fields,
	links_count,
	depth,
	response_size,
	response_time_ms,
	status_code,
	content_type,
	crawled_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (url) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	keywords = EXCLUDED.keywords,
	text_sample = EXCLUDED.text_sample,
	fields = EXCLUDED.fields,
	links_count = EXCLUDED.links_count,
	depth = EXCLUDED.depth,
	response_size = EXCLUDED.response_size,
	response_time_ms = EXCLUDED.response_time_ms,
	status_code = EXCLUDED.status_code,
	content_type = EXCLUDED.content_type,
	crawled_at = EXCLUDED.crawled_at`, s.tables.Results)

	args := []any{
		record.RunID,
		record.URL,
		record.Domain,
		record.Path,
		record.Extraction.Title,
		record.Extraction.Description,
		record.Extraction.Keywords,
		record.Extraction.TextSample,
		fields,
		record.LinksCount,
		record.Depth,
		record.ResponseSize,
		record.ResponseTimeMs,
		record.StatusCode,
		record.ContentType,
		record.CrawledAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

func (s *ResultStore) bumpStats(ctx context.Context, at time.Time, domain string, pages, errs, bytes int64) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (day, domain, pages, errors, bytes)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (day, domain) DO UPDATE SET
	pages = %[1]s.pages + EXCLUDED.pages,
	errors = %[1]s.errors + EXCLUDED.errors,
	bytes = %[1]s.bytes + EXCLUDED.bytes`, s.tables.Stats)
	day := at.UTC().Truncate(24 * time.Hour)
	if _, err := s.pool.Exec(ctx, query, day, domain, pages, errs, bytes); err != nil {
		return fmt.Errorf("upsert stats: %w", err)
	}
	return nil
}

// ExportRows implements storage.RowSource.
func (s *ResultStore) ExportRows(ctx context.Context, limit int) ([]storage.ExportRow, error) {
	query := fmt.Sprintf(`
SELECT url, domain, title, description, depth, links_count, response_size, response_time_ms, status_code, crawled_at
FROM %s
ORDER BY crawled_at`, s.tables.Results)
	var args []any
	if limit > 0 {
		query += "\nLIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query export rows: %w", err)
	}
	defer rows.Close()

	var out []storage.ExportRow
	for rows.Next() {
		var row storage.ExportRow
		if err := rows.Scan(
			&row.URL,
			&row.Domain,
			&row.Title,
			&row.Description,
			&row.Depth,
			&row.LinksCount,
			&row.ResponseSize,
			&row.ResponseTimeMs,
			&row.StatusCode,
			&row.CrawledAt,
		); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export rows: %w", err)
	}
	return out, nil
}
