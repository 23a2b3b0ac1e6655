package darray

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/marmos91/darrayio/internal/logger"
	"github.com/marmos91/darrayio/internal/telemetry"
	"github.com/marmos91/darrayio/pkg/comm"
	"github.com/marmos91/darrayio/pkg/ncio"
)

// FlushOutputBuffer drains the non-blocking backend when forced, or when
// the staged bytes plus addSize reach the buffer size limit on any I/O task.
// Draining waits on every outstanding request in agreed blocks and then
// releases all staging memory, even if a wait failed.
//
// A no-op for other backends and on compute-only tasks. Otherwise
// collective over the I/O communicator.
func (f *File) FlushOutputBuffer(ctx context.Context, force bool, addSize int64) error {
	if f.mode != ncio.NonBlocking || !f.ios.IsIOTask() {
		return nil
	}
	if f.closed {
		return newError("flush", f.name, -1, -1, ErrFileClosed)
	}

	usage := f.vec.BufferUsage()
	if !force {
		total, err := comm.AllreduceMaxInt64(ctx, f.ios.io, usage+addSize)
		if err != nil {
			return newError("flush", f.name, -1, -1, err)
		}
		force = total >= f.ios.limits.BufferSizeLimit
	}
	if !force {
		return nil
	}

	ctx, span := telemetry.StartIOSpan(ctx, telemetry.SpanOutputFlush, f.name,
		telemetry.Bytes(usage))
	defer span.End()

	err := f.waitRequests(ctx)
	f.releaseStaging()
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(f.withLogContext(ctx), "draining outstanding requests failed", logger.Err(err))
		return err
	}
	return nil
}

// waitRequests waits on every outstanding request, block by block, and
// stops at the first failing block.
func (f *File) waitRequests(ctx context.Context) error {
	reqs, sizes := f.flattenRequests()
	blocks, err := f.requestBlocks(ctx, sizes)
	if err != nil {
		return newError("wait", f.name, -1, -1, err)
	}
	if blocks.Len() == 0 {
		return nil
	}

	ctx, span := telemetry.StartIOSpan(ctx, telemetry.SpanWaitBlocks, f.name,
		attribute.Int(telemetry.AttrRequests, len(reqs)),
		attribute.Int(telemetry.AttrBlocks, blocks.Len()))
	defer span.End()

	for i := range blocks.Starts {
		blk := reqs[blocks.Starts[i] : blocks.Ends[i]+1]
		err := f.vec.WaitAll(ctx, blk)
		f.ios.metrics.ObserveWait(len(blk), err)
		if err != nil {
			var n int64
			for _, s := range sizes[blocks.Starts[i] : blocks.Ends[i]+1] {
				n += s
			}
			return newError("wait", f.name, -1, -1, backendErr(err)).withBytes(n)
		}
	}
	logger.Debug("outstanding requests drained", f.logAttrs(
		logger.KeyRequests, len(reqs),
		logger.KeyBlocks, blocks.Len())...)
	return nil
}

// releaseStaging frees every I/O buffer, request list and fill buffer of
// the file and resets the pending byte counters.
func (f *File) releaseStaging() {
	for id, b := range f.ioBufs {
		f.ios.alloc.Release(b.data)
		delete(f.ioBufs, id)
	}
	for _, vs := range f.state {
		for _, fb := range vs.fillBufs {
			f.ios.alloc.Release(fb)
		}
		vs.fillBufs = nil
		vs.requests = nil
		vs.requestSizes = nil
		vs.pendingBytes = 0
	}
}
