// Package postgres provides Postgres-backed persistence for conversion audit records.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "conversions"

// Config controls the Postgres connection pool used for conversion rows.
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

// ConversionStore writes conversion rows into Postgres.
type ConversionStore struct {
	pool  execCloser
	table string
}

// NewConversionStore creates a Postgres-backed ConversionStore using the provided config.
func NewConversionStore(ctx context.Context, cfg Config) (*ConversionStore, error) {
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
	return &ConversionStore{pool: pool, table: table}, nil
}

// NewConversionStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewConversionStoreWithPool(pool execCloser, table string) (*ConversionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ConversionStore{pool: pool, table: name}, nil
}

// Close releases the underlying pool resources.
func (s *ConversionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreConversion inserts one conversion row.
func (s *ConversionStore) StoreConversion(ctx context.Context, record converter.ConversionRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("conversion store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	source,
	blob_id,
	status,
	error_kind,
	error_text,
	content_sha256,
	input_bytes,
	markdown_bytes,
	pages,
	archive_uri,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, s.table)

	args := []any{
		record.ID,
		string(record.Source),
		record.BlobID,
		string(record.Status),
		string(record.ErrorKind),
		record.ErrorText,
		record.ContentHash,
		record.InputBytes,
		record.MarkdownBytes,
		record.Pages,
		record.ArchiveURI,
		record.StartedAt,
		record.FinishedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert conversion: %w", err)
	}
	return nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}
