package darray

import (
	"context"
	"fmt"

	"github.com/marmos91/darrayio/internal/telemetry"
	"github.com/marmos91/darrayio/pkg/decomp"
	"github.com/marmos91/darrayio/pkg/ncio"
)

// ReadDarray reads varid at its current frame into data, laid out by
// decomposition ioid. Buffered writes to the same decomposition are
// flushed first and outstanding non-blocking writes drained.
//
// Collective over the compute communicator.
func (f *File) ReadDarray(ctx context.Context, varid, ioid, arrayLen int, data []byte) error {
	vs, d, err := f.checkAccess("read", varid, ioid, arrayLen, data, false)
	if err != nil {
		return err
	}
	if err := f.checkFrame("read", vs, ioid, vs.frame); err != nil {
		return err
	}

	ctx, span := telemetry.StartIOSpan(ctx, telemetry.SpanRead, f.name,
		telemetry.VarID(varid), telemetry.IOID(ioid))
	defer span.End()

	if w, ok := f.wmbs[wmbKey{ioid: ioid, record: vs.info.Record}]; ok && w.numArrays > 0 {
		if err := f.flush(ctx, w, VerdictIOFlush); err != nil {
			return err
		}
	}
	if err := f.FlushOutputBuffer(ctx, true, 0); err != nil {
		return err
	}

	size := d.ElemSize()
	var iobuf []byte
	var readErr error
	if f.ios.IsIOTask() {
		iobuf, err = f.ios.alloc.Alloc(d.LLen * size)
		if err != nil {
			return newError("read", f.name, varid, ioid, allocErr(err)).withBytes(int64(d.LLen * size))
		}
		defer f.ios.alloc.Release(iobuf)
		// A failed read still takes part in the rearrangement below.
		readErr = f.readRegions(ctx, vs, d, iobuf)
	}

	if err := d.Rearranger.IO2Comp(ctx, d, iobuf, data[:d.NDof*size]); err != nil {
		return newError("read", f.name, varid, ioid, fmt.Errorf("rearrange: %w", err))
	}
	if readErr != nil {
		telemetry.RecordError(ctx, readErr)
	}
	return readErr
}

func (f *File) readRegions(ctx context.Context, vs *varState, d *decomp.Decomposition, buf []byte) error {
	switch f.mode {
	case ncio.Serial:
		return f.readSerial(ctx, vs, d, buf)
	case ncio.NonBlocking:
		return f.readVector(ctx, vs, d, buf)
	default:
		return f.readParallel(ctx, vs, d, buf)
	}
}
