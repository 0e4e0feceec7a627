package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"reflect"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Querier is the subset of a live connection that borrowers may use.
type Querier interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Exec(ctx context.Context, query string, args ...any) error
}

// Conn is a live store connection. Only its owner may Close it.
type Conn interface {
	Querier
	Close() error
}

// Rows is a forward-only result cursor. Values returns the current row with
// NULLs as nil and every other value dereferenced to its Go type.
type Rows interface {
	Columns() []string
	// ColumnTypes returns the store type of each column, e.g. "Date" or
	// "Array(String)".
	ColumnTypes() []string
	Next() bool
	Values() ([]any, error)
	Err() error
	Close() error
}

// DefaultDialTimeout bounds the connect + ping performed by a Dialer.
const DefaultDialTimeout = 10 * time.Second

// Dialer opens a Conn for a config.
type Dialer func(ctx context.Context, cfg ConnectionConfig) (Conn, error)

// NewDialer returns a Dialer backed by clickhouse-go. The returned
// connection has already answered a ping, so a non-nil error means the
// destination could not be reached or rejected the credentials.
func NewDialer(dialTimeout time.Duration) Dialer {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return func(ctx context.Context, cfg ConnectionConfig) (Conn, error) {
		return dial(ctx, cfg, dialTimeout)
	}
}

func dial(ctx context.Context, cfg ConnectionConfig, dialTimeout time.Duration) (Conn, error) {
	opts := &ch.Options{
		Addr: []string{cfg.Addr()},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.authSecret(),
		},
		DialTimeout: dialTimeout,
		Protocol:    ch.HTTP,
	}
	switch cfg.EffectiveProtocol() {
	case ProtocolNative:
		opts.Protocol = ch.Native
	case ProtocolHTTPS:
		opts.TLS = &tls.Config{ServerName: cfg.Host}
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Addr(), err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Addr(), err)
	}

	return &driverConn{conn: conn}, nil
}

// driverConn adapts driver.Conn to Conn.
type driverConn struct {
	conn driver.Conn
}

func (c *driverConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *driverConn) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	types := rows.ColumnTypes()
	scanTypes := make([]reflect.Type, len(types))
	names := make([]string, len(types))
	for i, ct := range types {
		scanTypes[i] = ct.ScanType()
		names[i] = ct.DatabaseTypeName()
	}
	return &driverRows{rows: rows, scanTypes: scanTypes, typeNames: names}, nil
}

func (c *driverConn) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

func (c *driverConn) Close() error {
	return c.conn.Close()
}

// driverRows scans each row into freshly allocated values of the driver's
// reported scan types, so any column type can be read without knowing the
// schema ahead of time.
type driverRows struct {
	rows      driver.Rows
	scanTypes []reflect.Type
	typeNames []string
}

func (r *driverRows) Columns() []string     { return r.rows.Columns() }
func (r *driverRows) ColumnTypes() []string { return r.typeNames }
func (r *driverRows) Next() bool            { return r.rows.Next() }
func (r *driverRows) Err() error            { return r.rows.Err() }
func (r *driverRows) Close() error          { return r.rows.Close() }

func (r *driverRows) Values() ([]any, error) {
	dest := make([]any, len(r.scanTypes))
	for i, t := range r.scanTypes {
		dest[i] = reflect.New(t).Interface()
	}
	if err := r.rows.Scan(dest...); err != nil {
		return nil, err
	}
	out := make([]any, len(dest))
	for i, d := range dest {
		out[i] = indirect(reflect.ValueOf(d).Elem())
	}
	return out, nil
}

// indirect unwraps pointers; a nil pointer (Nullable NULL) becomes nil.
func indirect(v reflect.Value) any {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}
