package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/compile_service/internal/logging"
)

// JanitorConfig configures a Janitor.
type JanitorConfig struct {
	// Schedule is a cron spec or descriptor such as "@every 10m".
	Schedule string
	// MaxAge is the age past which a handle directory is considered abandoned.
	// It must exceed the longest possible compile.
	MaxAge time.Duration
	// OnSweep, when set, is called with the number of directories removed.
	OnSweep func(removed int)
}

// Janitor periodically removes handle directories left behind by a process
// that died before releasing them. Live handles are never touched because
// they are younger than MaxAge.
type Janitor struct {
	scratch *Scratch
	cfg     JanitorConfig
	logger  *logging.Logger
	cron    *cron.Cron

	mu          sync.Mutex
	lastSweep   time.Time
	lastRemoved int
}

// NewJanitor validates the schedule and returns a stopped janitor.
func NewJanitor(scratch *Scratch, cfg JanitorConfig, logger *logging.Logger) (*Janitor, error) {
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("janitor max age must be positive")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	j := &Janitor{
		scratch: scratch,
		cfg:     cfg,
		logger:  logger,
		cron:    cron.New(),
	}
	if _, err := j.cron.AddFunc(cfg.Schedule, j.run); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.Schedule, err)
	}
	return j, nil
}

// Start runs the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) run() {
	removed, err := j.Sweep(time.Now())
	if err != nil {
		j.logger.WithContext(context.Background()).WithError(err).Warn("scratch sweep failed")
		return
	}
	if removed > 0 {
		j.logger.WithFields(map[string]interface{}{"removed": removed}).Info("removed stale scratch directories")
	}
}

// Sweep removes handle directories last modified before now-MaxAge.
func (j *Janitor) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(j.scratch.Root())
	if err != nil {
		return 0, fmt.Errorf("read scratch root: %w", err)
	}

	cutoff := now.Add(-j.cfg.MaxAge)
	removed := 0
	var firstErr error
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), DirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// already gone
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(j.scratch.Root(), entry.Name())); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}

	j.mu.Lock()
	j.lastSweep = now
	j.lastRemoved = removed
	j.mu.Unlock()

	if j.cfg.OnSweep != nil {
		j.cfg.OnSweep(removed)
	}
	return removed, firstErr
}

// LastSweep reports when the last sweep ran and how much it removed.
func (j *Janitor) LastSweep() (time.Time, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSweep, j.lastRemoved
}
