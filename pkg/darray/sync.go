package darray

import (
	"context"

	"github.com/marmos91/darrayio/internal/logger"
	"github.com/marmos91/darrayio/internal/telemetry"
)

// Sync writes out every write-multi-buffer in creation order, drains
// outstanding non-blocking requests and syncs the backend. All buffers are
// dropped afterwards.
//
// Collective over the compute communicator.
func (f *File) Sync(ctx context.Context) error {
	if f.closed {
		return newError("sync", f.name, -1, -1, ErrFileClosed)
	}
	return f.sync(ctx)
}

func (f *File) sync(ctx context.Context) error {
	ctx, span := telemetry.StartIOSpan(ctx, telemetry.SpanSync, f.name)
	defer span.End()

	cached := f.Stats()
	for _, key := range f.wmbOrder {
		if err := f.flush(ctx, f.wmbs[key], VerdictDiskFlush); err != nil {
			telemetry.RecordError(ctx, err)
			return err
		}
	}
	if err := f.FlushOutputBuffer(ctx, true, 0); err != nil {
		return err
	}
	if err := f.syncBackend(ctx); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}

	for key, w := range f.wmbs {
		f.reset(w)
		delete(f.wmbs, key)
	}
	f.wmbOrder = nil
	f.ios.metrics.SetCachedArrays(0)

	if f.ios.Rank() == 0 {
		logger.InfoCtx(f.withLogContext(ctx), "file synced",
			logger.KeyArrays, cached.CachedArrays,
			logger.Bytes(cached.CachedBytes))
	}
	return nil
}

// Close syncs the file and closes the backend handle. Later calls fail with
// ErrFileClosed.
//
// Collective over the compute communicator.
func (f *File) Close(ctx context.Context) error {
	if f.closed {
		return newError("close", f.name, -1, -1, ErrFileClosed)
	}
	err := f.sync(ctx)
	if f.h != nil {
		if cerr := f.h.Close(ctx); cerr != nil && err == nil {
			err = newError("close", f.name, -1, -1, backendErr(cerr))
		}
	}
	for key, w := range f.wmbs {
		f.reset(w)
		delete(f.wmbs, key)
	}
	f.wmbOrder = nil
	f.releaseStaging()
	f.closed = true
	return err
}
