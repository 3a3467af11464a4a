package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// Argument placeholders substituted by Command.
const (
	PlaceholderInput  = "{input}"
	PlaceholderOutput = "{output}"
	PlaceholderName   = "{name}"
)

// InputExt is the extension of the source file written beside the output.
const InputExt = ".model"

const maxMessageBytes = 8 << 10

// ErrCompilerUnavailable means the compiler executable could not be started.
var ErrCompilerUnavailable = errors.New("compiler unavailable")

// Command runs an external compiler executable once per compile.
type Command struct {
	// Path is the executable, resolved through PATH when not absolute.
	Path string
	// Args is the argument template.
	Args []string
	// Env is appended to the current environment.
	Env []string

	WasmFlag        string
	StandaloneFlag  string
	BitcodeOnlyFlag string
	// DeferFlag is passed when compileNow is false.
	DeferFlag string

	// WaitDelay bounds how long to wait for output pipes after the process is killed.
	WaitDelay time.Duration
}

// NewCommand returns a Command with the default diffsl flag names.
func NewCommand(path string, args []string) *Command {
	return &Command{
		Path:            path,
		Args:            args,
		WasmFlag:        "--wasm",
		StandaloneFlag:  "--standalone",
		BitcodeOnlyFlag: "--bitcode-only",
		DeferFlag:       "--no-compile",
		WaitDelay:       5 * time.Second,
	}
}

// InputPath returns the source file location used for outputPath.
func InputPath(outputPath string) string {
	return strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + InputExt
}

// Compile writes text beside outputPath and runs the executable. A non-zero
// exit yields *Error with the compiler's diagnostics.
func (c *Command) Compile(ctx context.Context, text, outputPath, name string, opts Options, compileNow bool) error {
	inputPath := InputPath(outputPath)
	if err := os.WriteFile(inputPath, []byte(text), 0o600); err != nil {
		return fmt.Errorf("write compiler input: %w", err)
	}
	defer os.Remove(inputPath)

	cmd := exec.CommandContext(ctx, c.Path, c.args(inputPath, outputPath, name, opts, compileNow)...)
	cmd.Dir = filepath.Dir(outputPath)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.WaitDelay = c.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("compiler interrupted: %w", ctxErr)
	}
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %v", ErrCompilerUnavailable, err)
	}

	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = strings.TrimSpace(stdout.String())
	}
	if msg == "" {
		msg = fmt.Sprintf("compiler exited with status %d", exitErr.ExitCode())
	}
	return &Error{Message: truncate(msg, maxMessageBytes)}
}

func (c *Command) args(inputPath, outputPath, name string, opts Options, compileNow bool) []string {
	replacer := strings.NewReplacer(
		PlaceholderInput, inputPath,
		PlaceholderOutput, outputPath,
		PlaceholderName, name,
	)

	args := make([]string, 0, len(c.Args)+4)
	for _, a := range c.Args {
		args = append(args, replacer.Replace(a))
	}
	if opts.ProduceWasm && c.WasmFlag != "" {
		args = append(args, c.WasmFlag)
	}
	if opts.Standalone && c.StandaloneFlag != "" {
		args = append(args, c.StandaloneFlag)
	}
	if opts.BitcodeOnly && c.BitcodeOnlyFlag != "" {
		args = append(args, c.BitcodeOnlyFlag)
	}
	if !compileNow && c.DeferFlag != "" {
		args = append(args, c.DeferFlag)
	}
	return args
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
