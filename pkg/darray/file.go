package darray

import (
	"context"
	"fmt"

	"github.com/marmos91/darrayio/internal/logger"
	"github.com/marmos91/darrayio/pkg/decomp"
	"github.com/marmos91/darrayio/pkg/ncio"
)

// VarSource describes the variables of a file. *ncio.Dataset satisfies it.
type VarSource interface {
	Name() string
	Var(varid int) (ncio.VarInfo, error)
}

// varState is the per-variable write/read state of one open file.
type varState struct {
	info ncio.VarInfo

	fill    []byte
	useFill bool

	// frame is the current record; -1 until set.
	frame int

	// Non-blocking backends only. requests and requestSizes are parallel.
	pendingBytes int64
	requests     []ncio.Request
	requestSizes []int64
	fillBufs     [][]byte
}

// ioBuffer is the I/O-layout buffer of one decomposition. Its presence in
// File.ioBufs marks the decomposition as busy, even when data is nil because
// this task holds no elements.
type ioBuffer struct {
	data []byte
}

// File is one rank's handle on an open dataset. A File is used by a single
// goroutine; every method that moves data is collective over the ranks
// named in its documentation.
type File struct {
	ios      *IOSystem
	name     string
	vars     VarSource
	mode     ncio.IOType
	writable bool

	h   ncio.Access       // nil on compute-only tasks
	vec ncio.VectorAccess // set when mode is NonBlocking

	state    map[int]*varState
	wmbs     map[wmbKey]*wmb
	wmbOrder []wmbKey
	ioBufs   map[int]*ioBuffer
	closed   bool
}

// OpenFile opens ds on this rank. I/O tasks open a backend handle in the
// given mode; compute-only tasks only track buffering state.
func OpenFile(ios *IOSystem, ds *ncio.Dataset, mode ncio.IOType, writable bool) (*File, error) {
	var h ncio.Access
	if ios.IsIOTask() {
		h = ds.Open(mode, ios.IORank())
	}
	return NewFile(ios, ds, mode, h, writable)
}

// NewFile wraps an already open backend handle. h must be non-nil exactly
// on I/O tasks, and must support VectorAccess when mode is NonBlocking.
func NewFile(ios *IOSystem, vars VarSource, mode ncio.IOType, h ncio.Access, writable bool) (*File, error) {
	if ios.IsIOTask() != (h != nil) {
		return nil, fmt.Errorf("darray: backend handle required exactly on I/O tasks (io rank %d)", ios.IORank())
	}
	f := &File{
		ios:      ios,
		name:     vars.Name(),
		vars:     vars,
		mode:     mode,
		writable: writable,
		h:        h,
		state:    make(map[int]*varState),
		wmbs:     make(map[wmbKey]*wmb),
		ioBufs:   make(map[int]*ioBuffer),
	}
	if h != nil {
		if h.Mode() != mode {
			return nil, fmt.Errorf("darray: handle mode %v, file mode %v", h.Mode(), mode)
		}
		if mode == ncio.NonBlocking {
			vec, ok := h.(ncio.VectorAccess)
			if !ok {
				return nil, fmt.Errorf("darray: non-blocking mode needs a vector-capable handle")
			}
			f.vec = vec
		}
	}
	logger.Debug("file opened",
		logger.File(f.name),
		logger.Rank(ios.Rank()),
		logger.IOTask(ios.IORank()),
		logger.KeyIOType, mode.String())
	return f, nil
}

// Name returns the dataset name.
func (f *File) Name() string { return f.name }

// Mode returns the backend access mode.
func (f *File) Mode() ncio.IOType { return f.mode }

// IOSystem returns the system the file was opened on.
func (f *File) IOSystem() *IOSystem { return f.ios }

// variable returns the state of varid, creating it on first use. The fill
// value is resolved once from the backend description.
func (f *File) variable(varid int) (*varState, error) {
	if vs, ok := f.state[varid]; ok {
		return vs, nil
	}
	info, err := f.vars.Var(varid)
	if err != nil {
		return nil, fmt.Errorf("%w: %d: %w", ErrBadVarID, varid, err)
	}
	vs := &varState{
		info:    info,
		fill:    info.Fill,
		useFill: !info.NoFill,
		frame:   -1,
	}
	f.state[varid] = vs
	return vs, nil
}

// SetFrame sets the record written or read by the next access to a record
// variable.
func (f *File) SetFrame(varid, frame int) error {
	if f.closed {
		return newError("frame", f.name, varid, -1, ErrFileClosed)
	}
	if frame < 0 {
		return newError("frame", f.name, varid, -1, fmt.Errorf("negative frame %d", frame))
	}
	vs, err := f.variable(varid)
	if err != nil {
		return newError("frame", f.name, varid, -1, err)
	}
	vs.frame = frame
	return nil
}

// AdvanceFrame moves varid to its next record. An unset frame advances to 0.
func (f *File) AdvanceFrame(varid int) error {
	if f.closed {
		return newError("frame", f.name, varid, -1, ErrFileClosed)
	}
	vs, err := f.variable(varid)
	if err != nil {
		return newError("frame", f.name, varid, -1, err)
	}
	vs.frame++
	return nil
}

// Frame returns the current record of varid, or -1 if unset.
func (f *File) Frame(varid int) (int, error) {
	vs, err := f.variable(varid)
	if err != nil {
		return -1, newError("frame", f.name, varid, -1, err)
	}
	return vs.frame, nil
}

// checkAccess validates a write or read before any state changes. Frames
// are checked by the caller.
func (f *File) checkAccess(op string, varid, ioid, arrayLen int, data []byte, write bool) (*varState, *decomp.Decomposition, error) {
	fail := func(err error) (*varState, *decomp.Decomposition, error) {
		return nil, nil, newError(op, f.name, varid, ioid, err)
	}
	if f.closed {
		return fail(ErrFileClosed)
	}
	if write && !f.writable {
		return fail(ErrReadOnly)
	}
	vs, err := f.variable(varid)
	if err != nil {
		return fail(err)
	}
	d, err := f.ios.Decomposition(ioid)
	if err != nil {
		return fail(err)
	}
	if vs.info.Type != d.Type {
		return fail(fmt.Errorf("%w: variable %v, decomposition %v", ErrTypeMismatch, vs.info.Type, d.Type))
	}
	if err := matchShape(vs.info, d); err != nil {
		return fail(err)
	}
	if arrayLen < d.NDof {
		return fail(fmt.Errorf("%w: %d elements, need %d", ErrArrayTooSmall, arrayLen, d.NDof))
	}
	if need := d.NDof * d.ElemSize(); len(data) < need {
		return fail(fmt.Errorf("%w: %d bytes, need %d", ErrArrayTooSmall, len(data), need))
	}
	return vs, d, nil
}

// matchShape checks that the decomposition covers the variable's fixed
// dimensions, allowing leading unit dimensions.
func matchShape(info ncio.VarInfo, d *decomp.Decomposition) error {
	fixed := info.Shape
	if info.Record {
		if len(fixed) < 2 {
			return fmt.Errorf("%w: record variable %q has no fixed dimensions", ErrBadDecomposition, info.Name)
		}
		fixed = fixed[1:]
	}
	extra := len(d.Dims) - len(fixed)
	if extra < 0 {
		return fmt.Errorf("%w: %d dims for variable %q with %d", ErrBadDecomposition, len(d.Dims), info.Name, len(fixed))
	}
	for i, n := range d.Dims {
		if i < extra && n != 1 {
			return fmt.Errorf("%w: leading dim %d has length %d", ErrBadDecomposition, i, n)
		}
		if i >= extra && n != fixed[i-extra] {
			return fmt.Errorf("%w: dims %v do not match variable %q shape %v", ErrBadDecomposition, d.Dims, info.Name, fixed)
		}
	}
	return nil
}

func (f *File) checkFrame(op string, vs *varState, ioid, frame int) error {
	if vs.info.Record && frame < 0 {
		return newError(op, f.name, vs.info.ID, ioid, ErrFrameNotSet)
	}
	return nil
}

// FileStats is a snapshot of a file's buffering state on this rank.
type FileStats struct {
	// Buffers is the number of write-multi-buffers holding data.
	Buffers int
	// CachedArrays is the number of arrays held in those buffers.
	CachedArrays int
	// CachedBytes is their total size.
	CachedBytes int64
	// PendingRequests counts outstanding non-blocking requests, null
	// requests included.
	PendingRequests int
	// PendingBytes is the byte size of those requests.
	PendingBytes int64
	// BusyIOBuffers counts decompositions whose I/O buffer awaits a drain.
	BusyIOBuffers int
}

// Stats returns a snapshot of the buffering state.
func (f *File) Stats() FileStats {
	var s FileStats
	for _, w := range f.wmbs {
		if w.numArrays == 0 {
			continue
		}
		s.Buffers++
		s.CachedArrays += w.numArrays
		s.CachedBytes += int64(len(w.data))
	}
	for _, vs := range f.state {
		s.PendingRequests += len(vs.requests)
		s.PendingBytes += vs.pendingBytes
	}
	s.BusyIOBuffers = len(f.ioBufs)
	return s
}

// logAttrs returns the attributes shared by the file's log lines.
func (f *File) logAttrs(args ...any) []any {
	return append([]any{logger.File(f.name), logger.Rank(f.ios.Rank())}, args...)
}

func (f *File) withLogContext(ctx context.Context) context.Context {
	lc := logger.FromContext(ctx)
	if lc == nil {
		lc = logger.NewLogContext(f.ios.Rank())
	} else {
		lc = lc.Clone()
	}
	lc = lc.WithIOTask(f.ios.IORank()).WithFile(f.name)
	return logger.WithContext(ctx, lc)
}
