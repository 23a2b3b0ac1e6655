package darray

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marmos91/darrayio/pkg/bufpool"
	"github.com/marmos91/darrayio/pkg/decomp"
	"github.com/marmos91/darrayio/pkg/ncio"
)

var errWaitFailed = errors.New("wait failed")

// failingWait is a non-blocking handle whose waits always fail.
type failingWait struct {
	*ncio.Handle
}

func (failingWait) WaitAll(context.Context, []ncio.Request) error {
	return errWaitFailed
}

// ============================================================================
// FlushOutputBuffer
// ============================================================================

func TestFlushOutputBufferThreshold(t *testing.T) {
	td := newTestDataset(t)
	j := newJob(t, 3, []int{0, 2}, decomp.Box, 0)

	l := DefaultLimits()
	l.BufferSizeLimit = 1 << 30

	j.run(t, []Option{WithLimits(l)}, func(ctx context.Context, r *rank) error {
		f, err := OpenFile(r.ios, td.ds, ncio.NonBlocking, true)
		if err != nil {
			return err
		}
		data := append(int32s(r.values(td.a, 0)), int32s(r.values(td.b, 0))...)
		if err := f.WriteDarrayMulti(ctx, []int{td.a, td.b}, 1, r.d.NDof, data, nil, nil, false); err != nil {
			return err
		}

		st := f.Stats()
		if r.ios.IsIOTask() {
			// One vector request per variable, kept under the limit.
			assert.Equal(t, 2, st.PendingRequests)
			assert.Equal(t, 1, st.BusyIOBuffers)
			assert.Equal(t, int64(2*r.d.LLen*4), st.PendingBytes)
			assert.Equal(t, 2, f.h.(*ncio.Handle).Pending())
		} else {
			assert.Zero(t, st.PendingRequests)
		}

		// A busy buffer is drained before the next batch reuses it.
		if err := f.WriteDarrayMulti(ctx, []int{td.a, td.b}, 1, r.d.NDof, data, nil, nil, false); err != nil {
			return err
		}
		if r.ios.IsIOTask() {
			assert.Equal(t, 2, f.Stats().PendingRequests)
		}

		// Below the limit nothing happens.
		if err := f.FlushOutputBuffer(ctx, false, 0); err != nil {
			return err
		}
		if r.ios.IsIOTask() {
			assert.Equal(t, 2, f.Stats().PendingRequests)
		}

		// The caller's pending bytes push usage over the limit.
		if err := f.FlushOutputBuffer(ctx, false, l.BufferSizeLimit); err != nil {
			return err
		}
		st = f.Stats()
		assert.Zero(t, st.PendingRequests)
		assert.Zero(t, st.PendingBytes)
		assert.Zero(t, st.BusyIOBuffers)
		if r.ios.IsIOTask() {
			assert.Zero(t, f.h.(*ncio.Handle).Pending())
			assert.Zero(t, f.h.(*ncio.Handle).BufferUsage())
		}
		assert.Zero(t, r.ios.Allocator().Stats().Allocated)
		return f.Close(ctx)
	})

	assert.Equal(t, expected(j.maps, td.a, 0, 0), readVar(t, td.ds, td.a, 0))
	assert.Equal(t, expected(j.maps, td.b, 0, 0), readVar(t, td.ds, td.b, 0))
}

func TestFlushOutputBufferDrainsOnLimit(t *testing.T) {
	td := newTestDataset(t)
	j := newJob(t, 2, []int{0, 1}, decomp.Subset, 0)

	l := DefaultLimits()
	l.BufferSizeLimit = 1

	j.run(t, []Option{WithLimits(l)}, func(ctx context.Context, r *rank) error {
		f, err := OpenFile(r.ios, td.ds, ncio.NonBlocking, true)
		if err != nil {
			return err
		}
		if err := f.WriteDarrayMulti(ctx, []int{td.a}, 1, r.d.NDof, int32s(r.values(td.a, 0)), nil, nil, false); err != nil {
			return err
		}
		assert.Zero(t, f.Stats().PendingRequests)
		return f.Close(ctx)
	})

	assert.Equal(t, expected(j.maps, td.a, 0, 0), readVar(t, td.ds, td.a, 0))
}

func TestReadDrainsPendingWrites(t *testing.T) {
	td := newTestDataset(t)
	j := newJob(t, 4, []int{1, 2}, decomp.Subset, 4)

	j.run(t, nil, func(ctx context.Context, r *rank) error {
		f, err := OpenFile(r.ios, td.ds, ncio.NonBlocking, true)
		if err != nil {
			return err
		}
		if err := f.WriteDarrayMulti(ctx, []int{td.a}, 1, r.d.NDof, int32s(r.values(td.a, 0)), nil, [][]byte{holeFill}, false); err != nil {
			return err
		}
		buf := make([]byte, r.d.NDof*4)
		if err := f.ReadDarray(ctx, td.a, 1, r.d.NDof, buf); err != nil {
			return err
		}
		assert.Equal(t, r.values(td.a, 0), toInt32s(buf))
		assert.Zero(t, f.Stats().PendingRequests)
		return f.Close(ctx)
	})

	assert.Equal(t, expected(j.maps, td.a, 0, holeValue), readVar(t, td.ds, td.a, 0))
}

func TestFlushOutputBufferWaitError(t *testing.T) {
	td := newTestDataset(t)
	j := newJob(t, 2, []int{0, 1}, decomp.Box, 3)

	l := DefaultLimits()
	l.BufferSizeLimit = 1 << 30

	j.run(t, []Option{WithLimits(l)}, func(ctx context.Context, r *rank) error {
		h := failingWait{td.ds.Open(ncio.NonBlocking, r.ios.IORank())}
		f, err := NewFile(r.ios, td.ds, ncio.NonBlocking, h, true)
		if err != nil {
			return err
		}
		data := append(int32s(r.values(td.a, 0)), int32s(r.values(td.b, 0))...)
		if err := f.WriteDarrayMulti(ctx, []int{td.a, td.b}, 1, r.d.NDof, data, nil, [][]byte{holeFill, holeFill}, false); err != nil {
			return err
		}
		pending := f.Stats()
		assert.Equal(t, 2, pending.PendingRequests)

		err = f.FlushOutputBuffer(ctx, true, 0)
		assert.ErrorIs(t, err, ErrBackend)
		assert.ErrorIs(t, err, errWaitFailed)
		var derr *Error
		if assert.ErrorAs(t, err, &derr) {
			assert.Equal(t, "wait", derr.Op)
			assert.Equal(t, pending.PendingBytes, derr.Bytes)
		}

		// Staging memory is released even though the wait failed.
		st := f.Stats()
		assert.Zero(t, st.PendingRequests)
		assert.Zero(t, st.BusyIOBuffers)
		assert.Zero(t, r.ios.Allocator().Stats().Allocated)
		return f.Close(ctx)
	})
}

func TestFlushOutputBufferNoop(t *testing.T) {
	td := newTestDataset(t)
	j := newJob(t, 2, []int{0}, decomp.Box, 0)

	j.run(t, []Option{WithAllocator(bufpool.NewArena(1 << 16))}, func(ctx context.Context, r *rank) error {
		f, err := OpenFile(r.ios, td.ds, ncio.Parallel, true)
		if err != nil {
			return err
		}
		// Blocking backends and compute-only tasks never take part.
		assert.NoError(t, f.FlushOutputBuffer(ctx, true, 0))
		return f.Close(ctx)
	})
}
