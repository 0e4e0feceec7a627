// Package history keeps an append-only log of transfer outcomes in
// PostgreSQL. It is optional: the server only wires it in when
// HISTORY_DATABASE_URL is set.
package history

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/chxfer/internal/core"
)

// DefaultLimit is the page size of Recent when none is given.
const DefaultLimit = 50

const schemaSQL = `
CREATE TABLE IF NOT EXISTS transfer_history (
	id             UUID PRIMARY KEY,
	direction      TEXT        NOT NULL,
	host           TEXT        NOT NULL,
	database_name  TEXT        NOT NULL,
	table_name     TEXT        NOT NULL,
	file_name      TEXT,
	success        BOOLEAN     NOT NULL,
	rows_count     BIGINT      NOT NULL DEFAULT 0,
	committed_rows BIGINT      NOT NULL DEFAULT 0,
	bytes          BIGINT      NOT NULL DEFAULT 0,
	error_message  TEXT,
	error_code     TEXT,
	ip_address     INET,
	user_agent     TEXT,
	started_at     TIMESTAMPTZ NOT NULL,
	duration_ms    BIGINT      NOT NULL
);
CREATE INDEX IF NOT EXISTS transfer_history_started_at_idx ON transfer_history (started_at DESC);`

const insertSQL = `INSERT INTO transfer_history (
	id, direction, host, database_name, table_name, file_name, success,
	rows_count, committed_rows, bytes, error_message, error_code,
	ip_address, user_agent, started_at, duration_ms
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

const recentSQL = `SELECT id, direction, host, database_name, table_name,
	COALESCE(file_name, ''), success, rows_count, committed_rows, bytes,
	COALESCE(error_message, ''), COALESCE(error_code, ''), ip_address,
	COALESCE(user_agent, ''), started_at, duration_ms
FROM transfer_history ORDER BY started_at DESC LIMIT $1`

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store records transfers. It implements core.TransferRecorder.
type Store struct {
	db DB
}

var _ core.TransferRecorder = (*Store)(nil)

// New wraps an existing connection pool.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects to url, verifies the connection and returns the pool
// alongside the store so the caller can close it on shutdown.
func Open(ctx context.Context, url string, maxConns int) (*Store, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse history database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect history database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping history database: %w", err)
	}
	return New(pool), pool, nil
}

// EnsureSchema creates the history table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create transfer_history: %w", err)
	}
	return nil
}

// RecordTransfer appends one outcome.
func (s *Store) RecordTransfer(ctx context.Context, rec core.TransferRecord) error {
	_, err := s.db.Exec(ctx, insertSQL,
		rec.ID,
		string(rec.Direction),
		rec.Host,
		rec.Database,
		rec.Table,
		nullText(rec.FileName),
		rec.Success,
		rec.Rows,
		rec.CommittedRows,
		rec.Bytes,
		nullText(rec.ErrorMessage),
		nullText(rec.ErrorCode),
		parseIP(rec.ClientIP),
		nullText(rec.UserAgent),
		rec.StartedAt,
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert transfer %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns the newest records first.
func (s *Store) Recent(ctx context.Context, limit int) ([]core.TransferRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.Query(ctx, recentSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query transfer_history: %w", err)
	}
	defer rows.Close()

	out := make([]core.TransferRecord, 0)
	for rows.Next() {
		var (
			rec        core.TransferRecord
			direction  string
			ip         *netip.Addr
			durationMS int64
		)
		if err := rows.Scan(
			&rec.ID, &direction, &rec.Host, &rec.Database, &rec.Table,
			&rec.FileName, &rec.Success, &rec.Rows, &rec.CommittedRows, &rec.Bytes,
			&rec.ErrorMessage, &rec.ErrorCode, &ip,
			&rec.UserAgent, &rec.StartedAt, &durationMS,
		); err != nil {
			return nil, fmt.Errorf("scan transfer_history: %w", err)
		}
		rec.Direction = core.Direction(direction)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if ip != nil {
			rec.ClientIP = ip.String()
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// parseIP strips a port if present. Unparsable addresses are stored as NULL.
func parseIP(s string) *netip.Addr {
	if s == "" {
		return nil
	}
	host := s
	if h, _, err := net.SplitHostPort(s); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	return &addr
}
