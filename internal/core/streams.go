package core

// streams.go holds uploaded payloads behind opaque handles until an import
// consumes them or they expire.
//
// Store never reads the payload. Expired entries are dropped lazily by Get
// and opportunistically by Store, so no timer is needed.

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultStreamTTL = 30 * time.Minute

// RegistryOptions configures a StreamRegistry. Zero values take the defaults.
type RegistryOptions struct {
	TTL    time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

// StreamEntry is one held payload. The payload can be opened once; the
// entry itself stays visible until it expires or is removed.
type StreamEntry struct {
	Handle      string
	ContentType string
	FileName    string
	ExpiresAt   time.Time

	mu       sync.Mutex
	src      io.Reader
	consumed bool
}

// Open hands out the payload. A second call returns ErrStreamConsumed.
func (e *StreamEntry) Open() (io.Reader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.consumed {
		return nil, ErrStreamConsumed
	}
	e.consumed = true
	return e.src, nil
}

func (e *StreamEntry) release() {
	if c, ok := e.src.(io.Closer); ok {
		_ = c.Close()
	}
}

// StreamRegistry maps handles to entries. Safe for concurrent use.
type StreamRegistry struct {
	ttl time.Duration
	now func() time.Time
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]*StreamEntry
}

// NewStreamRegistry returns an empty registry; entries live for opts.TTL.
func NewStreamRegistry(opts RegistryOptions) *StreamRegistry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultStreamTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &StreamRegistry{
		ttl:     opts.TTL,
		now:     opts.Now,
		log:     opts.Logger.With("component", "streams"),
		entries: make(map[string]*StreamEntry),
	}
}

// Store records src under a fresh handle and returns the handle.
func (r *StreamRegistry) Store(src io.Reader, contentType, fileName string) string {
	now := r.now()
	entry := &StreamEntry{
		Handle:      uuid.NewString(),
		ContentType: contentType,
		FileName:    fileName,
		ExpiresAt:   now.Add(r.ttl),
		src:         src,
	}

	r.mu.Lock()
	expired := r.removeExpiredLocked(now)
	r.entries[entry.Handle] = entry
	r.mu.Unlock()

	r.releaseAll(expired)
	r.log.Debug("stream stored", "handle", entry.Handle, "file_name", fileName, "content_type", contentType)
	return entry.Handle
}

// Get returns the live entry for handle. An expired entry is deleted and
// reported as ErrStreamNotFound.
func (r *StreamRegistry) Get(handle string) (*StreamEntry, error) {
	r.mu.Lock()
	entry, ok := r.entries[handle]
	if ok && !r.now().Before(entry.ExpiresAt) {
		delete(r.entries, handle)
		r.mu.Unlock()
		entry.release()
		r.log.Debug("stream expired", "handle", handle)
		return nil, ErrStreamNotFound
	}
	r.mu.Unlock()

	if !ok {
		return nil, ErrStreamNotFound
	}
	return entry, nil
}

// Remove deletes handle and reports whether it was present.
func (r *StreamRegistry) Remove(handle string) bool {
	r.mu.Lock()
	entry, ok := r.entries[handle]
	delete(r.entries, handle)
	r.mu.Unlock()

	if ok {
		entry.release()
	}
	return ok
}

// Sweep deletes every expired entry and returns how many were removed.
func (r *StreamRegistry) Sweep() int {
	r.mu.Lock()
	expired := r.removeExpiredLocked(r.now())
	r.mu.Unlock()

	r.releaseAll(expired)
	return len(expired)
}

// Len counts entries, including expired ones not yet swept.
func (r *StreamRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear drops every entry.
func (r *StreamRegistry) Clear() {
	r.mu.Lock()
	all := make([]*StreamEntry, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e)
	}
	clear(r.entries)
	r.mu.Unlock()

	r.releaseAll(all)
}

func (r *StreamRegistry) removeExpiredLocked(now time.Time) []*StreamEntry {
	var expired []*StreamEntry
	for handle, e := range r.entries {
		if !now.Before(e.ExpiresAt) {
			expired = append(expired, e)
			delete(r.entries, handle)
		}
	}
	return expired
}

func (r *StreamRegistry) releaseAll(entries []*StreamEntry) {
	for _, e := range entries {
		e.release()
	}
	if len(entries) > 0 {
		r.log.Info("expired streams removed", "count", len(entries))
	}
}
