package darray

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/darrayio/internal/logger"
	"github.com/marmos91/darrayio/pkg/comm"
	"github.com/marmos91/darrayio/pkg/decomp"
	"github.com/marmos91/darrayio/pkg/ncio"
)

// multiWrite is one batch handed to rearrange-and-dispatch. data holds
// len(varIDs) arrays of NDof elements back to back.
type multiWrite struct {
	d      *decomp.Decomposition
	varIDs []int
	frames []int
	fills  [][]byte
	data   []byte
}

func (mw multiWrite) frame(nv int) int {
	if mw.frames == nil {
		return 0
	}
	return mw.frames[nv]
}

// fillValue picks the hole value for vs: the caller's, else the variable's,
// else the default for the element type.
func fillValue(vs *varState, d *decomp.Decomposition, fill []byte) []byte {
	fv := fill
	if fv == nil {
		if vs.useFill {
			fv = vs.fill
		} else {
			fv = ncio.DefaultFill(d.Type)
		}
	}
	return append([]byte(nil), fv...)
}

// stripe repeats fills[v] across elements [v*llen, (v+1)*llen) of buf.
func stripe(buf []byte, fills [][]byte, llen, size int) {
	for v, fv := range fills {
		base := v * llen * size
		for i := 0; i < llen; i++ {
			copy(buf[base+i*size:base+(i+1)*size], fv)
		}
	}
}

// WriteDarrayMulti writes several arrays sharing decomposition ioid in one
// rearrangement, bypassing the write-multi-buffer. data holds len(varids)
// arrays of arrayLen elements. frames overrides the current frame of each
// record variable and fills the hole value of each variable; both may be
// nil. With toDisk the backend is synced afterwards.
//
// Collective over the compute communicator.
func (f *File) WriteDarrayMulti(ctx context.Context, varids []int, ioid, arrayLen int, data []byte, frames []int, fills [][]byte, toDisk bool) error {
	if len(varids) == 0 {
		return newError("write", f.name, -1, ioid, fmt.Errorf("%w: no variables", ErrBadVarID))
	}
	if frames != nil && len(frames) != len(varids) {
		return newError("write", f.name, -1, ioid, fmt.Errorf("%d frames for %d variables", len(frames), len(varids)))
	}
	if fills != nil && len(fills) != len(varids) {
		return newError("write", f.name, -1, ioid, fmt.Errorf("%d fill values for %d variables", len(fills), len(varids)))
	}
	d, err := f.ios.Decomposition(ioid)
	if err != nil {
		return newError("write", f.name, -1, ioid, err)
	}
	size := d.ElemSize()
	if arrayLen < d.NDof {
		return newError("write", f.name, -1, ioid, fmt.Errorf("%w: %d elements, need %d", ErrArrayTooSmall, arrayLen, d.NDof))
	}
	if need := len(varids) * arrayLen * size; len(data) < need {
		return newError("write", f.name, -1, ioid, fmt.Errorf("%w: %d bytes, need %d", ErrArrayTooSmall, len(data), need))
	}

	mw := multiWrite{d: d, varIDs: append([]int(nil), varids...)}
	var record bool
	for v, varid := range varids {
		off := v * arrayLen * size
		vs, _, err := f.checkAccess("write", varid, ioid, arrayLen, data[off:], true)
		if err != nil {
			return err
		}
		frame := vs.frame
		if frames != nil {
			frame = frames[v]
		}
		if err := f.checkFrame("write", vs, ioid, frame); err != nil {
			return err
		}
		if v == 0 {
			record = vs.info.Record
		} else if vs.info.Record != record {
			return newError("write", f.name, varid, ioid, fmt.Errorf("%w: record and non-record variables in one batch", ErrBadVarID))
		}
		if record {
			mw.frames = append(mw.frames, frame)
		}
		if d.NeedsFill {
			var fv []byte
			if fills != nil {
				fv = fills[v]
			}
			if fv != nil && len(fv) != size {
				return newError("write", f.name, varid, ioid, fmt.Errorf("%w: fill value has %d bytes, want %d", ErrTypeMismatch, len(fv), size))
			}
			mw.fills = append(mw.fills, fillValue(vs, d, fv))
		}
	}

	// Anything already buffered for these arrays must land first.
	if w, ok := f.wmbs[wmbKey{ioid: ioid, record: record}]; ok && w.numArrays > 0 {
		if err := f.flush(ctx, w, VerdictIOFlush); err != nil {
			return err
		}
	}

	stride := d.NDof * size
	if arrayLen == d.NDof {
		mw.data = data[:len(varids)*stride]
	} else {
		packed, err := f.ios.alloc.Alloc(len(varids) * stride)
		if err != nil {
			return newError("write", f.name, -1, ioid, allocErr(err))
		}
		defer f.ios.alloc.Release(packed)
		for v := range varids {
			copy(packed[v*stride:(v+1)*stride], data[v*arrayLen*size:])
		}
		mw.data = packed
	}
	_, err = f.writeDarrayMulti(ctx, mw, toDisk)
	return err
}

// writeDarrayMulti rearranges a batch to the I/O tasks and dispatches it to
// the backend. Collective over the compute communicator.
//
// started reports whether the rearrange began. Until then the caller's data
// is untouched and every rank returns the same error.
func (f *File) writeDarrayMulti(ctx context.Context, mw multiWrite, toDisk bool) (started bool, err error) {
	d := mw.d
	nvars := len(mw.varIDs)
	size := d.ElemSize()
	io := f.ios.IsIOTask()

	var iobuf, fillbuf []byte
	prepErr := f.prepareIOBuffers(ctx, mw, &iobuf, &fillbuf)
	if err := f.agreePrepared(ctx, d.ID, prepErr); err != nil {
		f.ios.alloc.Release(iobuf)
		f.ios.alloc.Release(fillbuf)
		return false, err
	}
	if io && d.Kind == decomp.Box && d.NeedsFill {
		stripe(iobuf, mw.fills, d.LLen, size)
	}

	if err := d.Rearranger.Comp2IO(ctx, d, mw.data, iobuf, nvars); err != nil {
		f.ios.alloc.Release(iobuf)
		f.ios.alloc.Release(fillbuf)
		return true, newError("flush", f.name, -1, d.ID, fmt.Errorf("rearrange: %w", err))
	}
	if !io {
		return true, nil
	}

	err = f.writeRegions(ctx, mw, PassData, d.RegionIter(), d.MaxRegions, d.LLen, iobuf)

	if fillbuf != nil {
		if err == nil {
			stripe(fillbuf, mw.fills, d.HoleGridSize, size)
			err = f.writeRegions(ctx, mw, PassFill, d.FillRegionIter(), d.MaxFillRegions, d.HoleGridSize, fillbuf)
		} else {
			f.ios.alloc.Release(fillbuf)
			fillbuf = nil
		}
	}

	if f.mode == ncio.NonBlocking {
		// Staging memory stays with the file until its requests complete.
		f.ioBufs[d.ID] = &ioBuffer{data: iobuf}
		if fillbuf != nil {
			vs := f.state[mw.varIDs[0]]
			vs.fillBufs = append(vs.fillBufs, fillbuf)
		}
		if err != nil {
			return true, err
		}
		if err := f.FlushOutputBuffer(ctx, toDisk, 0); err != nil {
			return true, err
		}
	} else {
		f.ios.alloc.Release(iobuf)
		f.ios.alloc.Release(fillbuf)
		if err != nil {
			return true, err
		}
	}
	if toDisk {
		return true, f.syncBackend(ctx)
	}
	return true, nil
}

// prepareIOBuffers drains a busy staging buffer for mw's decomposition and
// allocates the staging and hole-fill buffers an I/O task needs. Nothing is
// allocated on compute-only tasks.
func (f *File) prepareIOBuffers(ctx context.Context, mw multiWrite, iobuf, fillbuf *[]byte) error {
	d := mw.d
	if _, busy := f.ioBufs[d.ID]; busy {
		logger.Debug("io buffer busy, draining outstanding requests", f.logAttrs(logger.IOID(d.ID))...)
		if err := f.FlushOutputBuffer(ctx, true, 0); err != nil {
			return err
		}
	}
	if !f.ios.IsIOTask() {
		return nil
	}

	nvars := len(mw.varIDs)
	size := d.ElemSize()
	n := size * d.MaxIOBufLen * nvars
	buf, err := f.ios.alloc.Alloc(n)
	if err != nil {
		return newError("flush", f.name, -1, d.ID, allocErr(err)).withBytes(int64(n))
	}
	*iobuf = buf

	if d.Kind == decomp.Subset && d.NeedsFill {
		n = size * d.HoleGridSize * nvars
		buf, err = f.ios.alloc.Alloc(n)
		if err != nil {
			return newError("flush", f.name, -1, d.ID, allocErr(err)).withBytes(int64(n))
		}
		*fillbuf = buf
	}
	return nil
}

// Failure kinds exchanged by agreePrepared. Larger values win.
const (
	prepOK int64 = iota
	prepBackend
	prepExhausted
)

// agreePrepared shares the outcome of prepareIOBuffers across the compute
// communicator so that either every rank enters the rearrange or none does.
// A rank that failed returns its own error; the others report the failure
// kind seen elsewhere.
func (f *File) agreePrepared(ctx context.Context, ioid int, local error) error {
	kind := prepOK
	switch {
	case errors.Is(local, ErrPoolExhausted):
		kind = prepExhausted
	case local != nil:
		kind = prepBackend
	}
	agreed, err := comm.AllreduceMaxInt64(ctx, f.ios.comp, kind)
	if err != nil {
		return newError("flush", f.name, -1, ioid, err)
	}
	if local != nil {
		return local
	}
	switch agreed {
	case prepExhausted:
		return newError("flush", f.name, -1, ioid, fmt.Errorf("%w: staging buffer allocation failed on another task", ErrPoolExhausted))
	case prepBackend:
		return newError("flush", f.name, -1, ioid, fmt.Errorf("%w: draining staged requests failed on another task", ErrBackend))
	}
	return nil
}

// writeRegions dispatches one pass over a region list to the file's write
// path. llen is the per-variable stride of buf in elements.
func (f *File) writeRegions(ctx context.Context, mw multiWrite, pass string, it decomp.RegionIter, maxRegions, llen int, buf []byte) error {
	switch f.mode {
	case ncio.Serial:
		return f.writeSerial(ctx, mw, pass, it, maxRegions, llen, buf)
	case ncio.NonBlocking:
		return f.writeVector(ctx, mw, pass, it, maxRegions, llen, buf)
	default:
		return f.writeParallel(ctx, mw, pass, it, maxRegions, llen, buf)
	}
}

// syncBackend makes written data durable. In serial mode only I/O task 0
// holds data.
func (f *File) syncBackend(ctx context.Context) error {
	if f.h == nil || (f.mode == ncio.Serial && f.ios.IORank() != 0) {
		return nil
	}
	if err := f.h.Sync(ctx); err != nil {
		return newError("sync", f.name, -1, -1, backendErr(err))
	}
	return nil
}

// batchInfo returns the variable description shared by a batch.
func (f *File) batchInfo(mw multiWrite) ncio.VarInfo {
	return f.state[mw.varIDs[0]].info
}
