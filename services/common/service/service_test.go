package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBase(t *testing.T, minFree uint64) *BaseService {
	t.Helper()
	return NewBase(BaseConfig{
		ID:               "compiler",
		Name:             "Compile Service",
		Version:          "test",
		ScratchRoot:      t.TempDir(),
		MinFreeDiskBytes: minFree,
	})
}

func stubDisk(b *BaseService, free uint64, err error) {
	b.diskUsage = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		if err != nil {
			return nil, err
		}
		return &disk.UsageStat{Path: path, Free: free}, nil
	}
}

func TestHealthStatus(t *testing.T) {
	b := newTestBase(t, 1<<20)

	stubDisk(b, 2<<20, nil)
	assert.Equal(t, StatusHealthy, b.HealthStatus())

	stubDisk(b, 1<<10, nil)
	assert.Equal(t, StatusDegraded, b.HealthStatus())

	stubDisk(b, 0, errors.New("statfs failed"))
	assert.Equal(t, StatusDegraded, b.HealthStatus())
	assert.Equal(t, "statfs failed", b.HealthDetails()["disk_error"])
}

func TestHealthStatusUnwritableScratch(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	b := newTestBase(t, 0)
	stubDisk(b, 1<<30, nil)

	require.NoError(t, os.Chmod(b.scratchRoot, 0o500))
	t.Cleanup(func() { os.Chmod(b.scratchRoot, 0o700) })

	assert.Equal(t, StatusUnhealthy, b.HealthStatus())
	assert.Equal(t, false, b.HealthDetails()["scratch_writable"])
}

func TestHealthProbeLeavesNothingBehind(t *testing.T) {
	b := newTestBase(t, 0)
	stubDisk(b, 1<<30, nil)
	require.Equal(t, StatusHealthy, b.HealthStatus())

	entries, err := os.ReadDir(b.scratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStandardRoutes(t *testing.T) {
	b := newTestBase(t, 0)
	stubDisk(b, 1<<30, nil)
	type counters struct {
		Compiles int `json:"compiles"`
	}
	b.WithStats(func() any { return counters{Compiles: 3} })
	b.RegisterStandardRoutes()

	rec := httptest.NewRecorder()
	b.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Equal(t, "Compile Service", health.Service)
	assert.Equal(t, "test", health.Version)
	assert.NotEmpty(t, health.Timestamp)

	rec = httptest.NewRecorder()
	b.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info struct {
		ID         string   `json:"id"`
		Service    string   `json:"service"`
		Uptime     string   `json:"uptime"`
		Statistics counters `json:"statistics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "compiler", info.ID)
	assert.Equal(t, "Compile Service", info.Service)
	assert.Equal(t, "0s", info.Uptime, "not started yet")
	assert.Equal(t, 3, info.Statistics.Compiles)
}

func TestLifecycle(t *testing.T) {
	b := NewBase(BaseConfig{ID: "svc", Name: "svc"})

	hydrated := false
	b.WithHydrate(func(context.Context) error {
		hydrated = true
		return nil
	})

	var ticks atomic.Int32
	b.AddTickerWorker(5*time.Millisecond, func(context.Context) error {
		ticks.Add(1)
		return errors.New("logged and ignored")
	})

	stopped := make(chan struct{})
	b.AddWorker(func(ctx context.Context) {
		<-b.StopChan()
		close(stopped)
	})
	assert.Equal(t, 2, b.WorkerCount())

	require.NoError(t, b.Start(context.Background()))
	assert.True(t, hydrated)

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop(), "stop is idempotent")

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not observe stop")
	}
}

func TestStartHydrateError(t *testing.T) {
	b := NewBase(BaseConfig{ID: "svc"})
	b.WithHydrate(func(context.Context) error { return errors.New("boom") })

	err := b.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hydrate")
}

func TestHealthWithoutScratchRoot(t *testing.T) {
	b := NewBase(BaseConfig{ID: "svc"})
	assert.Equal(t, StatusHealthy, b.HealthStatus())
	_, ok := b.HealthDetails()["disk_free_bytes"]
	assert.False(t, ok)
}

func TestServiceMetrics(t *testing.T) {
	m := NewServiceMetrics("compiler")
	m.RecordSuccess(50 * time.Millisecond)
	m.RecordSuccess(2 * time.Second)
	m.RecordFailure(200*time.Millisecond, "COMPILATION_FAILED")
	m.RecordFailure(2*time.Minute, "COMPILE_TIMEOUT")

	snap := m.Export()
	assert.Equal(t, "compiler", snap.Service)
	assert.Equal(t, int64(4), snap.Total)
	assert.Equal(t, int64(2), snap.Success)
	assert.Equal(t, int64(2), snap.Failed)
	assert.InDelta(t, 50.0, snap.SuccessRate, 0.001)
	assert.Equal(t, int64(1), snap.Latency["lt_100ms"])
	assert.Equal(t, int64(1), snap.Latency["lt_1s"])
	assert.Equal(t, int64(1), snap.Latency["lt_10s"])
	assert.Equal(t, int64(1), snap.Latency["gt_1m"])
	assert.Equal(t, map[string]int64{"COMPILATION_FAILED": 1, "COMPILE_TIMEOUT": 1}, snap.Errors)
}

func TestProbeWritable(t *testing.T) {
	assert.True(t, probeWritable(t.TempDir()))
	assert.False(t, probeWritable(filepath.Join(t.TempDir(), "missing")))
}
