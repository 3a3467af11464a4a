package artifact

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/compile_service/internal/compiler/compilertest"
)

func newScratch(t *testing.T) *Scratch {
	t.Helper()
	s, err := NewScratch(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)
	return s
}

func TestAcquireIsUniqueAndReleased(t *testing.T) {
	s := newScratch(t)

	a, err := s.Acquire("model")
	require.NoError(t, err)
	b, err := s.Acquire("model")
	require.NoError(t, err)

	assert.NotEqual(t, a.Dir(), b.Dir())
	assert.NotEqual(t, a.OutputPath(), b.OutputPath())
	assert.Equal(t, "model.wasm", filepath.Base(a.OutputPath()))
	assert.Equal(t, filepath.Join(a.Dir(), "model.model"), a.InputPath())
	assert.Equal(t, 2, s.Pending())

	require.NoError(t, os.WriteFile(a.OutputPath(), []byte("x"), 0o600))
	require.NoError(t, a.Release())
	require.NoError(t, a.Release(), "release is idempotent")
	assert.Equal(t, 1, s.Pending())

	_, err = os.Stat(a.Dir())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, b.Release())
	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, s.Pending())
}

func TestScrub(t *testing.T) {
	s := newScratch(t)
	h, err := s.Acquire("m")
	require.NoError(t, err)
	defer h.Release()

	msg := "error in " + filepath.Join(h.Dir(), "m.model") + ":3: bad token (cwd " + h.Dir() + ")"
	scrubbed := h.Scrub(msg)
	assert.Equal(t, "error in m.model:3: bad token (cwd .)", scrubbed)
	assert.NotContains(t, scrubbed, s.Root())
}

func TestOpenChecksArtifact(t *testing.T) {
	ctx := context.Background()
	v := NewValidator(ctx)
	defer v.Close(ctx)
	opts := OpenOptions{Validator: v, ValidateMaxBytes: 1 << 20}

	tests := []struct {
		name    string
		content []byte
		write   bool
		wantErr error
	}{
		{"missing", nil, false, ErrMissing},
		{"empty", []byte{}, true, ErrEmpty},
		{"short", []byte{0x00, 0x61}, true, ErrInvalid},
		{"not wasm", []byte("#!/bin/sh\necho hi\n"), true, ErrInvalid},
		{"header only garbage", append(append([]byte{}, wasmHeader...), 0xff, 0xff, 0xff), true, ErrInvalid},
	}

	s := newScratch(t)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, err := s.Acquire("m")
			require.NoError(t, err)
			defer h.Release()

			if tc.write {
				require.NoError(t, os.WriteFile(h.OutputPath(), tc.content, 0o600))
			}
			_, err = Open(ctx, h, opts)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestOpenValidModule(t *testing.T) {
	ctx := context.Background()
	v := NewValidator(ctx)
	defer v.Close(ctx)

	s := newScratch(t)
	h, err := s.Acquire("logistic")
	require.NoError(t, err)

	module := compilertest.Module("logistic", "r { 1 }")
	require.NoError(t, os.WriteFile(h.OutputPath(), module, 0o600))

	a, err := Open(ctx, h, OpenOptions{Validator: v})
	require.NoError(t, err)
	assert.Equal(t, int64(len(module)), a.Size)
	assert.Equal(t, []string{"version"}, a.Exports)

	var buf bytes.Buffer
	_, err = a.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, module, buf.Bytes())

	require.NoError(t, a.Close())
	_, err = os.Stat(h.Dir())
	assert.True(t, os.IsNotExist(err), "closing the artifact releases the handle")
	assert.Equal(t, 0, s.Pending())
}

func TestOpenSkipsFullValidationAboveLimit(t *testing.T) {
	ctx := context.Background()
	v := NewValidator(ctx)
	defer v.Close(ctx)

	s := newScratch(t)
	h, err := s.Acquire("big")
	require.NoError(t, err)
	defer h.Release()

	// valid header, undecodable body: only the header check applies
	content := append(append([]byte{}, wasmHeader...), bytes.Repeat([]byte{0xff}, 64)...)
	require.NoError(t, os.WriteFile(h.OutputPath(), content, 0o600))

	a, err := Open(ctx, h, OpenOptions{Validator: v, ValidateMaxBytes: 16})
	require.NoError(t, err)
	assert.Nil(t, a.Exports)
	require.NoError(t, a.Close())
}

func TestJanitorSweep(t *testing.T) {
	s := newScratch(t)

	stale, err := s.Acquire("old")
	require.NoError(t, err)
	fresh, err := s.Acquire("new")
	require.NoError(t, err)
	defer fresh.Release()

	unrelated := filepath.Join(s.Root(), "keep-me")
	require.NoError(t, os.Mkdir(unrelated, 0o700))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale.Dir(), old, old))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	var reported int
	j, err := NewJanitor(s, JanitorConfig{
		Schedule: "@every 1h",
		MaxAge:   time.Hour,
		OnSweep:  func(n int) { reported = n },
	}, nil)
	require.NoError(t, err)

	now := time.Now()
	removed, err := j.Sweep(now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, reported)

	_, err = os.Stat(stale.Dir())
	assert.True(t, os.IsNotExist(err))
	assert.DirExists(t, fresh.Dir())
	assert.DirExists(t, unrelated)

	at, n := j.LastSweep()
	assert.Equal(t, now, at)
	assert.Equal(t, 1, n)
}

func TestJanitorRejectsBadConfig(t *testing.T) {
	s := newScratch(t)

	_, err := NewJanitor(s, JanitorConfig{Schedule: "every now and then", MaxAge: time.Hour}, nil)
	assert.Error(t, err)

	_, err = NewJanitor(s, JanitorConfig{Schedule: "@every 1m"}, nil)
	assert.Error(t, err)

	j, err := NewJanitor(s, JanitorConfig{Schedule: "@every 1m", MaxAge: time.Hour}, nil)
	require.NoError(t, err)
	j.Start()
	j.Stop()
}
