package core

// pool.go keeps one live store client per destination.
//
// Clients are keyed by ConnectionConfig.Fingerprint (host, port, database,
// username and effective secret). Protocol is not part of the key, so two
// configs that differ only in protocol share whichever client was dialed
// first.
//
// A background sweep closes clients idle for longer than the expiration
// window. It starts when the first client is added and stops itself once
// the pool is empty. Tests call Sweep directly with an injected clock.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/chxfer/internal/clickhouse"
)

const (
	DefaultPoolExpiration    = 30 * time.Minute
	DefaultPoolSweepInterval = 5 * time.Minute

	closeConcurrency = 8
)

// PoolOptions configures a Pool. Zero values take the defaults.
type PoolOptions struct {
	Expiration    time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// Pool owns every live client. Borrowers get a *PooledClient and must not
// close it.
type Pool struct {
	dial     clickhouse.Dialer
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger

	dials singleflight.Group

	mu        sync.Mutex
	clients   map[string]*PooledClient
	closed    bool
	stopSweep chan struct{} // non-nil while the sweep loop runs
}

// NewPool creates an empty pool that opens clients with dial.
func NewPool(dial clickhouse.Dialer, opts PoolOptions) *Pool {
	if opts.Expiration <= 0 {
		opts.Expiration = DefaultPoolExpiration
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultPoolSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pool{
		dial:     dial,
		ttl:      opts.Expiration,
		interval: opts.SweepInterval,
		now:      opts.Now,
		log:      opts.Logger.With("component", "pool"),
		clients:  make(map[string]*PooledClient),
	}
}

// PooledClient is a borrowed reference to a pooled connection. Every call
// refreshes its last-used time.
type PooledClient struct {
	conn        clickhouse.Conn
	destination string
	createdAt   time.Time
	lastUsed    atomic.Int64 // unix nanos
	now         func() time.Time
}

func newPooledClient(conn clickhouse.Conn, destination string, now func() time.Time) *PooledClient {
	c := &PooledClient{
		conn:        conn,
		destination: destination,
		createdAt:   now(),
		now:         now,
	}
	c.lastUsed.Store(c.createdAt.UnixNano())
	return c
}

func (c *PooledClient) touch() {
	c.lastUsed.Store(c.now().UnixNano())
}

func (c *PooledClient) Ping(ctx context.Context) error {
	c.touch()
	return c.conn.Ping(ctx)
}

func (c *PooledClient) Query(ctx context.Context, query string, args ...any) (clickhouse.Rows, error) {
	c.touch()
	return c.conn.Query(ctx, query, args...)
}

func (c *PooledClient) Exec(ctx context.Context, query string, args ...any) error {
	c.touch()
	return c.conn.Exec(ctx, query, args...)
}

// Destination is the masked address, safe to log.
func (c *PooledClient) Destination() string { return c.destination }

func (c *PooledClient) CreatedAt() time.Time { return c.createdAt }

func (c *PooledClient) LastUsedAt() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

// Acquire returns the client for cfg's fingerprint, dialing one on a miss.
// Concurrent misses for the same fingerprint share a single dial. A failed
// dial returns a *ConnectivityError and leaves nothing in the pool.
//
// The shared dial is detached from every caller's cancellation and bounded
// only by the dialer's own timeout. A caller whose ctx ends first gets
// ctx.Err() while the dial carries on for the others.
func (p *Pool) Acquire(ctx context.Context, cfg clickhouse.ConnectionConfig) (*PooledClient, error) {
	key := cfg.Fingerprint()

	if c, err := p.lookup(key); c != nil || err != nil {
		return c, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dialCtx := context.WithoutCancel(ctx)
	ch := p.dials.DoChan(key, func() (any, error) {
		if c, err := p.lookup(key); c != nil || err != nil {
			return c, err
		}

		conn, err := p.dial(dialCtx, cfg)
		if err != nil {
			return nil, &ConnectivityError{Destination: cfg.String(), Err: err}
		}
		c := newPooledClient(conn, cfg.String(), p.now)

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = conn.Close()
			return nil, ErrPoolClosed
		}
		p.clients[key] = c
		p.startSweepLocked()
		p.mu.Unlock()

		p.log.Debug("client created", "destination", c.destination)
		return c, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*PooledClient), nil
	}
}

func (p *Pool) lookup(key string) (*PooledClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	c, ok := p.clients[key]
	if !ok {
		return nil, nil
	}
	c.touch()
	return c, nil
}

// Evict closes and removes the client for cfg, if there is one.
func (p *Pool) Evict(cfg clickhouse.ConnectionConfig) error {
	key := cfg.Fingerprint()

	p.mu.Lock()
	c, ok := p.clients[key]
	if ok {
		delete(p.clients, key)
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close %s: %w", c.destination, err)
	}
	p.log.Info("client evicted", "destination", c.destination)
	return nil
}

// Sweep closes every client idle for longer than the expiration window and
// returns how many were removed. A failed close is logged and skipped.
func (p *Pool) Sweep() int {
	now := p.now()

	var expired []*PooledClient
	p.mu.Lock()
	for key, c := range p.clients {
		if now.Sub(c.LastUsedAt()) > p.ttl {
			expired = append(expired, c)
			delete(p.clients, key)
		}
	}
	p.mu.Unlock()

	for _, c := range expired {
		if err := c.conn.Close(); err != nil {
			p.log.Warn("failed to close idle client", "destination", c.destination, "error", err)
			continue
		}
		p.log.Info("closed idle client",
			"destination", c.destination,
			"idle", now.Sub(c.LastUsedAt()).Round(time.Second).String(),
		)
	}
	return len(expired)
}

// startSweepLocked starts the sweep loop if it is not running. p.mu must be
// held.
func (p *Pool) startSweepLocked() {
	if p.stopSweep != nil {
		return
	}
	stop := make(chan struct{})
	p.stopSweep = stop
	go p.sweepLoop(stop)
}

func (p *Pool) sweepLoop(stop chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := p.Sweep(); n > 0 {
				p.log.Debug("sweep finished", "evicted", n)
			}
			if p.stopIfIdle(stop) {
				p.log.Debug("sweep stopped, pool is empty")
				return
			}
		}
	}
}

func (p *Pool) stopIfIdle(stop chan struct{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.clients) > 0 || p.stopSweep != stop {
		return false
	}
	p.stopSweep = nil
	return true
}

// Running reports whether the sweep loop is active.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopSweep != nil
}

// Len returns the number of pooled clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// CloseAll closes every client regardless of age and stops the sweep.
// Later calls are no-ops. If ctx ends first, CloseAll returns ctx.Err()
// while the remaining closes finish in the background.
func (p *Pool) CloseAll(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.stopSweep != nil {
		close(p.stopSweep)
		p.stopSweep = nil
	}
	clients := make([]*PooledClient, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	clear(p.clients)
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		var (
			mu   sync.Mutex
			errs []error
		)
		var g errgroup.Group
		g.SetLimit(closeConcurrency)
		for _, c := range clients {
			g.Go(func() error {
				if err := c.conn.Close(); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("close %s: %w", c.destination, err))
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		p.log.Info("pool closed", "clients", len(clients))
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
