package darray

import (
	"errors"
	"fmt"

	"github.com/marmos91/darrayio/pkg/bufpool"
)

// Standard engine errors. Contract violations are returned before any state
// is touched; backend and pool failures are wrapped in *Error.
var (
	// ErrBadVarID indicates the variable is not defined in the file.
	ErrBadVarID = errors.New("bad variable id")

	// ErrBadDecomposition indicates the decomposition is not registered or
	// does not match the variable's shape.
	ErrBadDecomposition = errors.New("bad decomposition")

	// ErrArrayTooSmall indicates the caller passed fewer elements than the
	// decomposition holds on this task.
	ErrArrayTooSmall = errors.New("array smaller than local decomposition size")

	// ErrTypeMismatch indicates the variable and decomposition element types
	// differ.
	ErrTypeMismatch = errors.New("variable type does not match decomposition")

	// ErrFrameNotSet indicates a record variable was accessed before its
	// frame was set.
	ErrFrameNotSet = errors.New("record frame not set")

	// ErrFileClosed indicates the file was already closed.
	ErrFileClosed = errors.New("file closed")

	// ErrReadOnly indicates a write to a file opened read-only.
	ErrReadOnly = errors.New("file is read-only")

	// ErrPoolExhausted indicates the buffer pool could not satisfy an
	// allocation. It is not retried.
	ErrPoolExhausted = errors.New("buffer pool exhausted")

	// ErrRequestCountMismatch indicates I/O tasks hold different numbers of
	// outstanding non-blocking requests, so no common block partition exists.
	ErrRequestCountMismatch = errors.New("outstanding request counts differ across I/O tasks")

	// ErrBackend wraps any failure reported by the storage backend.
	ErrBackend = errors.New("backend failure")
)

// Error carries the file, variable and decomposition context of a failed
// engine operation. errors.Is matches the wrapped sentinel:
//
//	err := newError("flush", "out.nc", 3, 7, ErrBackend)
//	errors.Is(err, ErrBackend) // true
type Error struct {
	// Op is the failing operation: "write", "read", "flush", "wait" or "sync".
	Op string

	// File is the dataset name.
	File string

	// VarID is the variable involved, or -1 when the failure spans a batch.
	VarID int

	// IOID is the decomposition involved, or -1.
	IOID int

	// Bytes is the data size involved, when known.
	Bytes int64

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("darray %s: %s (file=%s, var=%d, ioid=%d, bytes=%d)",
		e.Op, e.Err, e.File, e.VarID, e.IOID, e.Bytes)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, file string, varid, ioid int, err error) *Error {
	return &Error{Op: op, File: file, VarID: varid, IOID: ioid, Err: err}
}

func (e *Error) withBytes(n int64) *Error {
	e.Bytes = n
	return e
}

// backendErr tags err as a backend failure.
func backendErr(err error) error {
	if err == nil || errors.Is(err, ErrBackend) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBackend, err)
}

// allocErr maps allocator exhaustion onto ErrPoolExhausted.
func allocErr(err error) error {
	if errors.Is(err, bufpool.ErrExhausted) {
		return fmt.Errorf("%w: %w", ErrPoolExhausted, err)
	}
	return err
}
