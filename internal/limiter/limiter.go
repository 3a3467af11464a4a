// Package limiter bounds the number of compiles running at once.
// Callers beyond MaxConcurrent wait in a bounded queue; callers beyond the
// queue are rejected immediately so a burst cannot pin unbounded goroutines.
package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrLimitExceeded  = errors.New("concurrency limit exceeded")
	ErrAcquireTimeout = errors.New("acquire timeout")
	ErrLimiterClosed  = errors.New("limiter is closed")
)

// Config holds limiter configuration.
type Config struct {
	// MaxConcurrent is the maximum number of concurrent operations.
	// 0 means unlimited.
	MaxConcurrent int

	// AcquireTimeout is the maximum time to wait for a permit.
	// 0 means no timeout (wait until the context ends).
	AcquireTimeout time.Duration

	// QueueSize is the maximum number of waiting operations.
	// 0 means unlimited queue.
	QueueSize int
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		AcquireTimeout: 30 * time.Second,
		QueueSize:      64,
	}
}

// Limiter enforces a concurrency limit.
type Limiter struct {
	mu      sync.Mutex
	config  Config
	permits chan struct{}
	done    chan struct{}
	waiting int32
	active  int32
	closed  bool

	totalAcquired int64
	totalReleased int64
	totalRejected int64
	totalTimeouts int64
}

// New creates a limiter.
func New(config Config) *Limiter {
	l := &Limiter{
		config: config,
		done:   make(chan struct{}),
	}

	if config.MaxConcurrent > 0 {
		l.permits = make(chan struct{}, config.MaxConcurrent)
		for i := 0; i < config.MaxConcurrent; i++ {
			l.permits <- struct{}{}
		}
	}

	return l
}

// Acquire blocks until a permit is available, the context ends, the acquire
// timeout elapses or the limiter is closed.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLimiterClosed
	}

	if l.config.MaxConcurrent <= 0 {
		l.mu.Unlock()
		atomic.AddInt32(&l.active, 1)
		atomic.AddInt64(&l.totalAcquired, 1)
		return nil
	}

	if l.config.QueueSize > 0 && int(atomic.LoadInt32(&l.waiting)) >= l.config.QueueSize {
		l.mu.Unlock()
		atomic.AddInt64(&l.totalRejected, 1)
		return ErrLimitExceeded
	}

	atomic.AddInt32(&l.waiting, 1)
	l.mu.Unlock()

	defer atomic.AddInt32(&l.waiting, -1)

	var timeoutCh <-chan time.Time
	if l.config.AcquireTimeout > 0 {
		timer := time.NewTimer(l.config.AcquireTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-l.permits:
		atomic.AddInt32(&l.active, 1)
		atomic.AddInt64(&l.totalAcquired, 1)
		return nil
	case <-l.done:
		return ErrLimiterClosed
	case <-ctx.Done():
		atomic.AddInt64(&l.totalTimeouts, 1)
		return ctx.Err()
	case <-timeoutCh:
		atomic.AddInt64(&l.totalTimeouts, 1)
		return ErrAcquireTimeout
	}
}

// Release returns a permit.
func (l *Limiter) Release() {
	atomic.AddInt32(&l.active, -1)
	atomic.AddInt64(&l.totalReleased, 1)

	if l.permits == nil {
		return
	}
	select {
	case l.permits <- struct{}{}:
	default:
		// unbalanced release
	}
}

// Close rejects all future acquires and wakes every waiter.
// Permits held by running operations may still be released.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
}

// Stats is a point-in-time snapshot of the limiter.
type Stats struct {
	MaxConcurrent int   `json:"max_concurrent"`
	QueueSize     int   `json:"queue_size"`
	Active        int   `json:"active"`
	Waiting       int   `json:"waiting"`
	TotalAcquired int64 `json:"total_acquired"`
	TotalReleased int64 `json:"total_released"`
	TotalRejected int64 `json:"total_rejected"`
	TotalTimeouts int64 `json:"total_timeouts"`
}

// Stats returns current statistics.
func (l *Limiter) Stats() Stats {
	return Stats{
		MaxConcurrent: l.config.MaxConcurrent,
		QueueSize:     l.config.QueueSize,
		Active:        int(atomic.LoadInt32(&l.active)),
		Waiting:       int(atomic.LoadInt32(&l.waiting)),
		TotalAcquired: atomic.LoadInt64(&l.totalAcquired),
		TotalReleased: atomic.LoadInt64(&l.totalReleased),
		TotalRejected: atomic.LoadInt64(&l.totalRejected),
		TotalTimeouts: atomic.LoadInt64(&l.totalTimeouts),
	}
}
