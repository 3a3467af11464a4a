// Package artifact manages request-scoped compiler output.
//
// Every compile gets its own directory under the scratch root, so concurrent
// compiles never share a path. The directory is removed when the handle is
// released.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/R3E-Network/compile_service/internal/compiler"
)

// DirPrefix prefixes every handle directory.
const DirPrefix = "compile-"

// WasmExt is the artifact file extension.
const WasmExt = ".wasm"

// Scratch hands out unique per-request directories beneath Root.
type Scratch struct {
	root    string
	pending atomic.Int64
}

// NewScratch creates root if needed and returns a Scratch rooted there.
func NewScratch(root string) (*Scratch, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scratch root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	return &Scratch{root: abs}, nil
}

// Root returns the absolute scratch root.
func (s *Scratch) Root() string {
	return s.root
}

// Pending returns the number of acquired, unreleased handles.
func (s *Scratch) Pending() int {
	return int(s.pending.Load())
}

// Acquire creates a fresh directory for one compile of the named model.
func (s *Scratch) Acquire(name string) (*Handle, error) {
	dir := filepath.Join(s.root, DirPrefix+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	s.pending.Add(1)
	return &Handle{scratch: s, dir: dir, name: name}, nil
}

// Handle owns one scratch directory.
type Handle struct {
	scratch *Scratch
	dir     string
	name    string
	once    sync.Once
	err     error
}

// Dir returns the handle directory.
func (h *Handle) Dir() string {
	return h.dir
}

// Name returns the model name the handle was acquired for.
func (h *Handle) Name() string {
	return h.name
}

// OutputPath is where the compiler must write the artifact.
func (h *Handle) OutputPath() string {
	return filepath.Join(h.dir, h.name+WasmExt)
}

// InputPath is where the model source is written for the compiler.
func (h *Handle) InputPath() string {
	return compiler.InputPath(h.OutputPath())
}

// Scrub removes the handle directory from msg so diagnostics never reveal
// server paths.
func (h *Handle) Scrub(msg string) string {
	msg = strings.ReplaceAll(msg, h.dir+string(filepath.Separator), "")
	return strings.ReplaceAll(msg, h.dir, ".")
}

// Release deletes the directory. It is safe to call more than once.
func (h *Handle) Release() error {
	h.once.Do(func() {
		h.err = os.RemoveAll(h.dir)
		h.scratch.pending.Add(-1)
	})
	return h.err
}
