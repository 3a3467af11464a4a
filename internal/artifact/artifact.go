package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// Artifact errors
var (
	ErrMissing = errors.New("compiler reported success but produced no artifact")
	ErrEmpty   = errors.New("compiler produced an empty artifact")
	ErrInvalid = errors.New("artifact is not a WebAssembly module")
)

// wasmHeader is the magic number followed by binary format version 1.
var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Artifact is an opened, checked compiler output positioned at offset 0.
// Closing it also releases the owning handle.
type Artifact struct {
	file    *os.File
	handle  *Handle
	Size    int64
	Exports []string
}

// OpenOptions controls artifact checks.
type OpenOptions struct {
	// Validator, when set, fully decodes artifacts no larger than ValidateMaxBytes.
	Validator        *Validator
	ValidateMaxBytes int64
}

// Open opens the handle's output and verifies it before any byte is served.
// On error the file is closed; the handle stays owned by the caller.
func Open(ctx context.Context, h *Handle, opts OpenOptions) (*Artifact, error) {
	f, err := os.Open(h.OutputPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMissing
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}

	a, err := check(ctx, f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	a.handle = h
	return a, nil
}

func check(ctx context.Context, f *os.File, opts OpenOptions) (*Artifact, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrMissing
	}
	if info.Size() == 0 {
		return nil, ErrEmpty
	}

	header := make([]byte, len(wasmHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrInvalid
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if !bytes.Equal(header, wasmHeader) {
		return nil, ErrInvalid
	}

	a := &Artifact{file: f, Size: info.Size()}

	if opts.Validator != nil && (opts.ValidateMaxBytes <= 0 || info.Size() <= opts.ValidateMaxBytes) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind artifact: %w", err)
		}
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read artifact: %w", err)
		}
		exports, err := opts.Validator.Validate(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		a.Exports = exports
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind artifact: %w", err)
	}
	return a, nil
}

// Read implements io.Reader over the artifact bytes.
func (a *Artifact) Read(p []byte) (int, error) {
	return a.file.Read(p)
}

// WriteTo streams the artifact into w.
func (a *Artifact) WriteTo(w io.Writer) (int64, error) {
	return io.Copy(w, a.file)
}

// Close closes the file and releases the handle.
func (a *Artifact) Close() error {
	closeErr := a.file.Close()
	var releaseErr error
	if a.handle != nil {
		releaseErr = a.handle.Release()
	}
	return errors.Join(closeErr, releaseErr)
}
