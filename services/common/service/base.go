package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/R3E-Network/compile_service/internal/logging"
)

const healthCheckTimeout = 5 * time.Second

// Health states reported on /health.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// BaseConfig contains shared configuration for all services.
type BaseConfig struct {
	ID      string
	Name    string
	Version string
	Logger  *logging.Logger
	// ScratchRoot is probed for writability and free space on every health check.
	ScratchRoot string
	// MinFreeDiskBytes marks the service degraded when free space drops below it.
	MinFreeDiskBytes uint64
}

// BaseService provides the router, lifecycle and health tracking shared by
// every service:
// - Safe stop channel management (sync.Once prevents double-close panic)
// - Optional hydration hook run on startup
// - Background worker management
// - Statistics provider for /info endpoint
type BaseService struct {
	id      string
	name    string
	version string
	router  *mux.Router
	logger  *logging.Logger

	// Lifecycle management
	stopCh   chan struct{}
	stopOnce sync.Once

	// Extensibility hooks
	hydrate func(context.Context) error
	statsFn func() any

	// Worker management
	workers []func(context.Context)

	// Health tracking
	scratchRoot     string
	minFreeDisk     uint64
	diskUsage       func(ctx context.Context, path string) (*disk.UsageStat, error)
	healthMu        sync.RWMutex
	scratchWritable bool
	diskFree        uint64
	diskErr         string
	lastHealthCheck time.Time
	startTime       time.Time
}

// NewBase constructs a BaseService from shared config.
func NewBase(cfg BaseConfig) *BaseService {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &BaseService{
		id:              cfg.ID,
		name:            cfg.Name,
		version:         cfg.Version,
		router:          mux.NewRouter(),
		logger:          logger,
		stopCh:          make(chan struct{}),
		scratchRoot:     cfg.ScratchRoot,
		minFreeDisk:     cfg.MinFreeDiskBytes,
		diskUsage:       disk.UsageWithContext,
		scratchWritable: true,
	}
}

// ID returns the service identifier.
func (b *BaseService) ID() string { return b.id }

// Name returns the human readable service name.
func (b *BaseService) Name() string { return b.name }

// Version returns the service version.
func (b *BaseService) Version() string { return b.version }

// Router returns the service router.
func (b *BaseService) Router() *mux.Router { return b.router }

// Logger returns the service logger.
func (b *BaseService) Logger() *logging.Logger { return b.logger }

// WithHydrate sets an optional hydrate hook executed during Start, before
// background workers are launched.
func (b *BaseService) WithHydrate(fn func(context.Context) error) *BaseService {
	b.hydrate = fn
	return b
}

// WithStats sets the provider rendered as the statistics section of /info.
// It is called on every request and may return any JSON-encodable value.
func (b *BaseService) WithStats(fn func() any) *BaseService {
	b.statsFn = fn
	return b
}

// AddWorker registers a background worker started after hydrate completes.
// Workers should return when the context is done or StopChan() is closed.
func (b *BaseService) AddWorker(fn func(context.Context)) *BaseService {
	b.workers = append(b.workers, fn)
	return b
}

// AddTickerWorker registers a periodic background worker.
// The worker function is called at the specified interval until Stop() is called.
func (b *BaseService) AddTickerWorker(interval time.Duration, fn func(context.Context) error) *BaseService {
	worker := func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					b.logger.WithContext(ctx).WithError(err).Warn("worker error")
				}
			}
		}
	}
	b.workers = append(b.workers, worker)
	return b
}

// StopChan exposes the stop channel for worker goroutines.
func (b *BaseService) StopChan() <-chan struct{} {
	return b.stopCh
}

// Start runs hydrate once, then spins workers.
func (b *BaseService) Start(ctx context.Context) error {
	b.healthMu.Lock()
	if b.startTime.IsZero() {
		b.startTime = time.Now()
	}
	b.healthMu.Unlock()

	if b.hydrate != nil {
		if err := b.hydrate(ctx); err != nil {
			return fmt.Errorf("hydrate: %w", err)
		}
	}

	for _, w := range b.workers {
		worker := w
		go worker(ctx)
	}

	b.logger.WithFields(map[string]interface{}{
		"version": b.version,
		"workers": len(b.workers),
	}).Info("service started")
	return nil
}

// Stop signals workers. It is idempotent.
func (b *BaseService) Stop() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.logger.WithContext(context.Background()).Info("service stopped")
	})
	return nil
}

// WorkerCount returns the number of registered workers.
func (b *BaseService) WorkerCount() int {
	return len(b.workers)
}

// CheckHealth refreshes the cached health state by probing the scratch root.
func (b *BaseService) CheckHealth() {
	if b.scratchRoot == "" {
		b.healthMu.Lock()
		b.lastHealthCheck = time.Now()
		b.healthMu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	writable := probeWritable(b.scratchRoot)

	var free uint64
	diskErr := ""
	usage, err := b.diskUsage(ctx, b.scratchRoot)
	if err != nil {
		diskErr = err.Error()
	} else {
		free = usage.Free
	}

	b.healthMu.Lock()
	b.scratchWritable = writable
	b.diskFree = free
	b.diskErr = diskErr
	b.lastHealthCheck = time.Now()
	b.healthMu.Unlock()
}

// probeWritable creates and removes a file in dir.
func probeWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	return os.Remove(name) == nil
}

// HealthStatus returns the aggregated health status string.
func (b *BaseService) HealthStatus() string {
	b.CheckHealth()
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	return b.healthStatusLocked()
}

// HealthDetails returns a map describing the most recent health state.
func (b *BaseService) HealthDetails() map[string]any {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()

	details := map[string]any{
		"scratch_writable": b.scratchWritable,
	}
	if b.scratchRoot != "" {
		details["disk_free_bytes"] = b.diskFree
		details["min_free_disk_bytes"] = b.minFreeDisk
		if b.diskErr != "" {
			details["disk_error"] = b.diskErr
		}
	}

	if !b.lastHealthCheck.IsZero() {
		details["last_check"] = b.lastHealthCheck.Format(time.RFC3339)
	} else {
		details["last_check"] = ""
	}

	details["uptime"] = b.uptimeLocked().String()

	return details
}

// Uptime returns the time since Start, or zero before the first Start.
func (b *BaseService) Uptime() time.Duration {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	return b.uptimeLocked()
}

func (b *BaseService) uptimeLocked() time.Duration {
	if b.startTime.IsZero() {
		return 0
	}
	return time.Since(b.startTime)
}

func (b *BaseService) healthStatusLocked() string {
	if !b.scratchWritable {
		return StatusUnhealthy
	}
	if b.scratchRoot != "" && (b.diskErr != "" || b.diskFree < b.minFreeDisk) {
		return StatusDegraded
	}
	return StatusHealthy
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ Service = (*BaseService)(nil)
var _ HealthChecker = (*BaseService)(nil)
