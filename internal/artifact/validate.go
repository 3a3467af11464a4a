package artifact

import (
	"context"
	"sort"

	"github.com/tetratelabs/wazero"
)

// Validator decodes and validates WebAssembly modules without instantiating them.
// It is safe for concurrent use.
type Validator struct {
	runtime wazero.Runtime
}

// NewValidator creates a validator backed by the wazero interpreter, which
// avoids native code generation for modules that are only inspected.
func NewValidator(ctx context.Context) *Validator {
	cfg := wazero.NewRuntimeConfigInterpreter().WithCloseOnContextDone(true)
	return &Validator{runtime: wazero.NewRuntimeWithConfig(ctx, cfg)}
}

// Validate compiles data and returns the sorted names of its exported functions.
func (v *Validator) Validate(ctx context.Context, data []byte) ([]string, error) {
	compiled, err := v.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, err
	}
	defer compiled.Close(ctx)

	exports := make([]string, 0, len(compiled.ExportedFunctions()))
	for name := range compiled.ExportedFunctions() {
		exports = append(exports, name)
	}
	sort.Strings(exports)
	return exports, nil
}

// Close releases the runtime.
func (v *Validator) Close(ctx context.Context) error {
	return v.runtime.Close(ctx)
}
