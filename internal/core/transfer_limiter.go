package core

// transfer_limiter.go bounds how many transfers run at once. Each running
// transfer holds one pooled client and one chunk of rows in memory, so the
// slot count is also the memory bound. When every slot is taken a caller
// waits up to maxWait before failing with ErrTooManyTransfers.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyTransfers is returned when no slot frees up within the wait
// window. Clients should retry after a short delay.
var ErrTooManyTransfers = errors.New("too many concurrent transfers, please try again later")

const (
	DefaultMaxConcurrentTransfers = 5
	DefaultMaxWaitTime            = 30 * time.Second
)

// TransferLimiter is a counting semaphore.
type TransferLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewTransferLimiter allows at most maxConcurrent simultaneous transfers.
func NewTransferLimiter(maxConcurrent int, maxWait time.Duration) *TransferLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentTransfers
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &TransferLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire takes a slot, waiting at most maxWait. The caller must Release
// it when the transfer completes.
func (l *TransferLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-timer.C:
		return ErrTooManyTransfers
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Must be called exactly once per successful
// Acquire.
func (l *TransferLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

func (l *TransferLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

func (l *TransferLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// WaitForDrain blocks until no transfer is running or ctx ends.
func (l *TransferLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TransferLimiterStatus is a snapshot for the health endpoint.
type TransferLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

func (l *TransferLimiter) Status() TransferLimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return TransferLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
