package core

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/chxfer/internal/clickhouse"
	"github.com/JonMunkholm/chxfer/internal/clickhouse/chtest"
)

// manualClock is advanced by hand so TTL behavior does not depend on wall
// time.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConn() clickhouse.ConnectionConfig {
	return clickhouse.ConnectionConfig{
		Host:     "ch.local",
		Port:     8123,
		Database: "default",
		Username: "default",
		Password: "secret",
	}
}

func connPtr(c clickhouse.ConnectionConfig) *clickhouse.ConnectionConfig { return &c }

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func newTestPool(store *chtest.Store, clock *manualClock) *Pool {
	return NewPool(store.Dialer(), PoolOptions{
		Expiration:    30 * time.Minute,
		SweepInterval: time.Hour,
		Logger:        discardLogger(),
		Now:           clock.Now,
	})
}

func newTestService(t testing.TB, store *chtest.Store, opts Options) *Service {
	t.Helper()
	clock := newManualClock()
	pool := newTestPool(store, clock)
	streams := NewStreamRegistry(RegistryOptions{Logger: discardLogger(), Now: clock.Now})
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	svc := NewService(pool, streams, opts)
	t.Cleanup(func() { _ = svc.Close(t.Context()) })
	return svc
}

func importConfig(content string, table string) TransferConfig {
	return TransferConfig{
		Source: Source{Type: EndpointFlatFile, FileContent: strPtr(content)},
		Target: Target{Type: EndpointClickHouse, Connection: connPtr(testConn()), Table: table},
	}
}

func exportConfig(table string, columns ...string) TransferConfig {
	return TransferConfig{
		Source: Source{Type: EndpointClickHouse, Connection: connPtr(testConn()), Table: table, Columns: columns},
		Target: Target{Type: EndpointFlatFile},
	}
}
