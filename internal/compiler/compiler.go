// Package compiler defines the call shape of the external model compiler and
// provides a subprocess-backed implementation.
package compiler

import (
	"context"
	"fmt"
)

// Options selects the compiler output mode.
type Options struct {
	// ProduceWasm emits a WebAssembly module.
	ProduceWasm bool
	// Standalone links a self-contained binary.
	Standalone bool
	// BitcodeOnly stops after emitting bitcode.
	BitcodeOnly bool
}

// WasmOptions is the configuration the compile service always uses.
func WasmOptions() Options {
	return Options{ProduceWasm: true, Standalone: false, BitcodeOnly: false}
}

// Compiler translates model source text into an artifact written to outputPath.
// When compileNow is false the compiler may defer code generation.
type Compiler interface {
	Compile(ctx context.Context, text, outputPath, name string, opts Options, compileNow bool) error
}

// Func adapts an ordinary function to the Compiler interface.
type Func func(ctx context.Context, text, outputPath, name string, opts Options, compileNow bool) error

// Compile calls f.
func (f Func) Compile(ctx context.Context, text, outputPath, name string, opts Options, compileNow bool) error {
	return f(ctx, text, outputPath, name, opts, compileNow)
}

// Error is a rejection reported by the compiler itself, as opposed to a
// failure to run it.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf builds a compiler rejection.
func Errorf(format string, args ...interface{}) error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}
