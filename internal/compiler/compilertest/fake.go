// Package compilertest provides an in-process compiler for tests. It emits
// small but well-formed WebAssembly modules so the service can be exercised
// without the real toolchain.
package compilertest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/compile_service/internal/compiler"
)

// ModelSection is the custom section name carrying the model identity.
const ModelSection = "model"

// Fake is a compiler.Compiler that accepts any source with balanced braces.
type Fake struct {
	// Delay is slept before writing the artifact.
	Delay time.Duration
	// Block, when non-nil, holds every compile until it is closed.
	Block <-chan struct{}
	// IgnoreContext keeps waiting on Block/Delay after cancellation, like a
	// compiler that cannot be interrupted.
	IgnoreContext bool
	// Started receives the model name when a compile begins. Sends never block.
	Started chan string
	// Err, when set, is returned instead of compiling.
	Err error

	mu      sync.Mutex
	calls   int
	outputs []string
}

var _ compiler.Compiler = (*Fake)(nil)

// Compile implements compiler.Compiler.
func (f *Fake) Compile(ctx context.Context, text, outputPath, name string, opts compiler.Options, compileNow bool) error {
	f.mu.Lock()
	f.calls++
	f.outputs = append(f.outputs, outputPath)
	f.mu.Unlock()

	if f.Started != nil {
		select {
		case f.Started <- name:
		default:
		}
	}

	if err := f.wait(ctx); err != nil {
		return err
	}
	if f.Err != nil {
		return f.Err
	}
	if !opts.ProduceWasm {
		return compiler.Errorf("only wasm output is supported")
	}
	if err := Check(text); err != nil {
		return err
	}
	if !compileNow {
		return nil
	}
	return os.WriteFile(outputPath, Module(name, text), 0o600)
}

func (f *Fake) wait(ctx context.Context) error {
	done := ctx.Done()
	if f.IgnoreContext {
		done = nil
	}

	if f.Block != nil {
		select {
		case <-f.Block:
		case <-done:
			return ctx.Err()
		}
	}
	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-done:
			return ctx.Err()
		}
	}
	return nil
}

// Calls returns how many times Compile was invoked.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Outputs returns every output path Compile was given.
func (f *Fake) Outputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.outputs...)
}

// Check is the fake's entire grammar: non-blank text with balanced braces.
func Check(text string) error {
	if strings.TrimSpace(text) == "" {
		return compiler.Errorf("empty model")
	}
	depth := 0
	for i, line := range strings.Split(text, "\n") {
		for _, r := range line {
			switch r {
			case '{':
				depth++
			case '}':
				depth--
				if depth < 0 {
					return compiler.Errorf("line %d: unexpected '}'", i+1)
				}
			}
		}
	}
	if depth != 0 {
		return compiler.Errorf("unexpected end of input: %d unclosed '{'", depth)
	}
	return nil
}

// Module builds the artifact Fake writes for (name, text): a module exporting
// a "version" function plus a custom section holding the name and a digest of
// the source.
func Module(name, text string) []byte {
	sum := sha256.Sum256([]byte(text))
	payload := append([]byte(name+"\x00"), hex.EncodeToString(sum[:])...)

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	// type: () -> i32
	out = appendSection(out, 1, []byte{0x01, 0x60, 0x00, 0x01, 0x7f})
	// function 0 uses type 0
	out = appendSection(out, 3, []byte{0x01, 0x00})
	// export "version" = func 0
	export := []byte{0x01}
	export = appendName(export, "version")
	export = append(export, 0x00, 0x00)
	out = appendSection(out, 7, export)
	// body: i32.const 1; end
	out = appendSection(out, 10, []byte{0x01, 0x04, 0x00, 0x41, 0x01, 0x0b})

	custom := appendName(nil, ModelSection)
	custom = append(custom, payload...)
	return appendSection(out, 0, custom)
}

// ModelName extracts the name embedded by Module, or "" if absent.
func ModelName(module []byte) string {
	marker := appendName(nil, ModelSection)
	idx := strings.Index(string(module), string(marker))
	if idx < 0 {
		return ""
	}
	rest := module[idx+len(marker):]
	end := strings.IndexByte(string(rest), 0)
	if end < 0 {
		return ""
	}
	return string(rest[:end])
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = appendULEB128(out, uint32(len(content)))
	return append(out, content...)
}

func appendName(out []byte, name string) []byte {
	out = appendULEB128(out, uint32(len(name)))
	return append(out, name...)
}

func appendULEB128(out []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}
