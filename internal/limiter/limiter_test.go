package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	l := New(DefaultConfig())
	if l == nil {
		t.Fatal("New returned nil")
	}
	stats := l.Stats()
	if stats.Active != 0 {
		t.Errorf("Active = %d, want 0", stats.Active)
	}
	if stats.MaxConcurrent != DefaultConfig().MaxConcurrent {
		t.Errorf("MaxConcurrent = %d, want %d", stats.MaxConcurrent, DefaultConfig().MaxConcurrent)
	}
}

func TestLimiter_MaxConcurrent(t *testing.T) {
	l := New(Config{MaxConcurrent: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	if got := l.Stats().Active; got != 3 {
		t.Errorf("Active = %d, want 3", got)
	}

	ctx2, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire should time out, got: %v", err)
	}

	l.Release()
	if err := l.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire after release failed: %v", err)
	}
}

func TestLimiter_QueueSize(t *testing.T) {
	l := New(Config{MaxConcurrent: 1, QueueSize: 2})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()
			if err := l.Acquire(ctx); err == nil {
				l.Release()
			}
		}()
	}

	deadline := time.Now().Add(time.Second)
	for l.Stats().Waiting < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := l.Stats().Waiting; got != 2 {
		t.Fatalf("Waiting = %d, want 2", got)
	}

	if err := l.Acquire(context.Background()); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("expected ErrLimitExceeded, got: %v", err)
	}
	if got := l.Stats().TotalRejected; got != 1 {
		t.Errorf("TotalRejected = %d, want 1", got)
	}

	l.Release()
	wg.Wait()
}

func TestLimiter_AcquireTimeout(t *testing.T) {
	l := New(Config{MaxConcurrent: 1, AcquireTimeout: 50 * time.Millisecond})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := l.Acquire(context.Background()); !errors.Is(err, ErrAcquireTimeout) {
		t.Errorf("expected ErrAcquireTimeout, got: %v", err)
	}
	if stats := l.Stats(); stats.TotalTimeouts != 1 {
		t.Errorf("TotalTimeouts = %d, want 1", stats.TotalTimeouts)
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	l := New(Config{MaxConcurrent: 0})
	for i := 0; i < 100; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	if got := l.Stats().Active; got != 100 {
		t.Errorf("Active = %d, want 100", got)
	}
}

func TestLimiter_CloseWakesWaiters(t *testing.T) {
	l := New(Config{MaxConcurrent: 1})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- l.Acquire(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for l.Stats().Waiting < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	l.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrLimiterClosed) {
			t.Errorf("expected ErrLimiterClosed, got: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Close")
	}

	if err := l.Acquire(context.Background()); !errors.Is(err, ErrLimiterClosed) {
		t.Errorf("expected ErrLimiterClosed after close, got: %v", err)
	}

	// the running holder can still give its permit back
	l.Release()
	l.Close()
}

func TestLimiter_Concurrent(t *testing.T) {
	l := New(Config{MaxConcurrent: 10})

	var wg sync.WaitGroup
	var completed, peak, current int64

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := l.Acquire(ctx); err != nil {
				return
			}
			defer l.Release()

			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&current, -1)
			atomic.AddInt64(&completed, 1)
		}()
	}
	wg.Wait()

	if completed != 100 {
		t.Errorf("completed = %d, want 100", completed)
	}
	if peak > 10 {
		t.Errorf("peak concurrency = %d, want <= 10", peak)
	}
	stats := l.Stats()
	if stats.Active != 0 {
		t.Errorf("Active = %d, want 0", stats.Active)
	}
	if stats.TotalAcquired != 100 || stats.TotalReleased != 100 {
		t.Errorf("acquired/released = %d/%d, want 100/100", stats.TotalAcquired, stats.TotalReleased)
	}
}
