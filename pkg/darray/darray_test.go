package darray

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/darrayio/pkg/bufpool"
	"github.com/marmos91/darrayio/pkg/comm"
	"github.com/marmos91/darrayio/pkg/decomp"
	"github.com/marmos91/darrayio/pkg/ncio"
)

const holeValue int32 = -7

var holeFill = int32s([]int32{holeValue})

// ============================================================================
// Round trip
// ============================================================================

func TestWriteReadRoundTrip(t *testing.T) {
	kinds := []decomp.Kind{decomp.Box, decomp.Subset}
	modes := []ncio.IOType{ncio.Parallel, ncio.NonBlocking, ncio.Serial}

	for _, kind := range kinds {
		for _, mode := range modes {
			for _, skip := range []int{0, 4} {
				t.Run(fmt.Sprintf("%v/%v/skip=%d", kind, mode, skip), func(t *testing.T) {
					td := newTestDataset(t)
					j := newJob(t, 4, []int{1, 3}, kind, skip)

					var mu sync.Mutex
					calls := make(map[int]int)

					j.run(t, nil, func(ctx context.Context, r *rank) error {
						f, err := OpenFile(r.ios, td.ds, mode, true)
						if err != nil {
							return err
						}
						for frame := 0; frame < 2; frame++ {
							for _, v := range []int{td.t, td.u} {
								if err := f.SetFrame(v, frame); err != nil {
									return err
								}
								if err := f.WriteDarray(ctx, v, 1, r.d.NDof, int32s(r.values(v, frame)), holeFill); err != nil {
									return err
								}
							}
						}
						if err := f.WriteDarray(ctx, td.a, 1, r.d.NDof, int32s(r.values(td.a, 0)), holeFill); err != nil {
							return err
						}
						if err := f.WriteDarray(ctx, td.b, 1, r.d.NDof, int32s(r.values(td.b, 0)), nil); err != nil {
							return err
						}
						assert.Equal(t, 6, f.Stats().CachedArrays)
						assert.Equal(t, 2, f.Stats().Buffers)

						if err := f.Sync(ctx); err != nil {
							return err
						}
						st := f.Stats()
						assert.Zero(t, st.CachedArrays)
						assert.Zero(t, st.PendingRequests)
						assert.Zero(t, st.BusyIOBuffers)

						if h, ok := f.h.(*ncio.Handle); ok {
							mu.Lock()
							calls[r.ios.IORank()] = h.Calls()
							mu.Unlock()
						}

						buf := make([]byte, r.d.NDof*4)
						check := func(varid, frame int) error {
							if err := f.SetFrame(varid, frame); err != nil {
								return err
							}
							if err := f.ReadDarray(ctx, varid, 1, r.d.NDof, buf); err != nil {
								return err
							}
							assert.Equal(t, r.values(varid, frame), toInt32s(buf), "rank %d var %d frame %d", r.c.Rank(), varid, frame)
							return nil
						}
						for _, v := range []int{td.a, td.b} {
							if err := check(v, 0); err != nil {
								return err
							}
						}
						for frame := 0; frame < 2; frame++ {
							for _, v := range []int{td.t, td.u} {
								if err := check(v, frame); err != nil {
									return err
								}
							}
						}
						return f.Close(ctx)
					})

					assert.Equal(t, expected(j.maps, td.a, 0, holeValue), readVar(t, td.ds, td.a, 0))
					assert.Equal(t, expected(j.maps, td.b, 0, ncio.FillInt), readVar(t, td.ds, td.b, 0))
					for frame := 0; frame < 2; frame++ {
						assert.Equal(t, expected(j.maps, td.t, frame, holeValue), readVar(t, td.ds, td.t, frame))
						assert.Equal(t, expected(j.maps, td.u, frame, holeValue), readVar(t, td.ds, td.u, frame))
					}
					assert.Equal(t, 2, td.ds.NumRecs())

					if mode == ncio.Parallel {
						require.Len(t, calls, 2)
						assert.Equal(t, calls[0], calls[1], "collective call counts differ")
					}
				})
			}
		}
	}
}

// ============================================================================
// Serial ordering
// ============================================================================

// delayComm slows down every send of one task.
type delayComm struct {
	comm.Comm
	delay time.Duration
}

func (c delayComm) Send(ctx context.Context, dst, tag int, data []byte) error {
	time.Sleep(c.delay)
	return c.Comm.Send(ctx, dst, tag, data)
}

func TestSerialOutputIndependentOfArrival(t *testing.T) {
	for _, kind := range []decomp.Kind{decomp.Box, decomp.Subset} {
		t.Run(kind.String(), func(t *testing.T) {
			td := newTestDataset(t)
			j := newJob(t, 4, []int{0, 1, 2, 3}, kind, 3)
			// Later I/O tasks answer first.
			j.wrapIO = func(worldRank int, c comm.Comm) comm.Comm {
				return delayComm{Comm: c, delay: time.Duration(4-worldRank) * 3 * time.Millisecond}
			}

			j.run(t, nil, func(ctx context.Context, r *rank) error {
				f, err := OpenFile(r.ios, td.ds, ncio.Serial, true)
				if err != nil {
					return err
				}
				ids := []int{td.a, td.b}
				data := append(int32s(r.values(td.a, 0)), int32s(r.values(td.b, 0))...)
				if err := f.WriteDarrayMulti(ctx, ids, 1, r.d.NDof, data, nil, [][]byte{holeFill, holeFill}, true); err != nil {
					return err
				}
				return f.Close(ctx)
			})

			assert.Equal(t, expected(j.maps, td.a, 0, holeValue), readVar(t, td.ds, td.a, 0))
			assert.Equal(t, expected(j.maps, td.b, 0, holeValue), readVar(t, td.ds, td.b, 0))
		})
	}
}

// ============================================================================
// Flush triggers
// ============================================================================

func TestWriteDarrayAutoFlush(t *testing.T) {
	td := newTestDataset(t)
	j := newJob(t, 4, []int{0, 2}, decomp.Box, 0)

	l := DefaultLimits()
	// Each rank holds 6 int32 elements: two arrays reach the limit.
	l.ComputeBufferLimit = 48
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	j.run(t, []Option{WithLimits(l), WithMetrics(m)}, func(ctx context.Context, r *rank) error {
		f, err := OpenFile(r.ios, td.ds, ncio.Parallel, true)
		if err != nil {
			return err
		}
		assert.Equal(t, 6, r.d.NDof)
		if err := f.WriteDarray(ctx, td.a, 1, r.d.NDof, int32s(r.values(td.a, 0)), nil); err != nil {
			return err
		}
		if err := f.WriteDarray(ctx, td.b, 1, r.d.NDof, int32s(r.values(td.b, 0)), nil); err != nil {
			return err
		}
		assert.Equal(t, 2, f.Stats().CachedArrays)

		// The third array finds the pool at the limit and flushes the first two.
		if err := f.WriteDarray(ctx, td.a, 1, r.d.NDof, int32s(r.values(td.a, 1)), nil); err != nil {
			return err
		}
		st := f.Stats()
		assert.Equal(t, 1, st.CachedArrays)
		assert.Equal(t, int64(24), st.CachedBytes)
		return nil
	})

	assert.Equal(t, expected(j.maps, td.a, 0, 0), readVar(t, td.ds, td.a, 0))
	assert.Equal(t, expected(j.maps, td.b, 0, 0), readVar(t, td.ds, td.b, 0))
	assert.Equal(t, float64(4), counterValue(t, reg, "darrayio_darray_flush_total", LabelVerdict, "disk"))
}

func TestWriteDarrayRegionCapFlush(t *testing.T) {
	td := newTestDataset(t)
	j := newJob(t, 2, []int{0}, decomp.Box, 0)

	l := DefaultLimits()
	l.MaxCachedIORegions = 1

	j.run(t, []Option{WithLimits(l)}, func(ctx context.Context, r *rank) error {
		f, err := OpenFile(r.ios, td.ds, ncio.Parallel, true)
		if err != nil {
			return err
		}
		for _, v := range []int{td.a, td.b} {
			if err := f.WriteDarray(ctx, v, 1, r.d.NDof, int32s(r.values(v, 0)), nil); err != nil {
				return err
			}
			// Two cached arrays would exceed the region cap.
			assert.Equal(t, 1, f.Stats().CachedArrays)
		}
		return f.Close(ctx)
	})

	assert.Equal(t, expected(j.maps, td.a, 0, 0), readVar(t, td.ds, td.a, 0))
	assert.Equal(t, expected(j.maps, td.b, 0, 0), readVar(t, td.ds, td.b, 0))
}

func TestWriteDarrayExcessElementsIgnored(t *testing.T) {
	td := newTestDataset(t)
	j := newJob(t, 2, []int{1}, decomp.Subset, 0)

	j.run(t, nil, func(ctx context.Context, r *rank) error {
		f, err := OpenFile(r.ios, td.ds, ncio.Parallel, true)
		if err != nil {
			return err
		}
		vals := append(r.values(td.a, 0), 999, 999, 999)
		if err := f.WriteDarray(ctx, td.a, 1, len(vals), int32s(vals), nil); err != nil {
			return err
		}
		assert.Equal(t, int64(r.d.NDof*4), f.Stats().CachedBytes)
		return f.Close(ctx)
	})

	assert.Equal(t, expected(j.maps, td.a, 0, 0), readVar(t, td.ds, td.a, 0))
}

func TestWriteDarrayBufferGrowth(t *testing.T) {
	allocators := map[string]func() bufpool.Allocator{
		"heap":  func() bufpool.Allocator { return bufpool.NewHeap() },
		"arena": func() bufpool.Allocator { return bufpool.NewArena(1 << 20) },
	}

	for name, newAlloc := range allocators {
		t.Run(name, func(t *testing.T) {
			td := newTestDataset(t)
			j := newJob(t, 2, []int{0}, decomp.Box, 0)

			err := j.world.Run(context.Background(), func(ctx context.Context, c comm.Comm) error {
				var io comm.Comm
				if ic, ok := j.ioGroup.Comm(c.Rank()); ok {
					io = ic
				}
				ios, err := NewIOSystem(c, io, WithAllocator(newAlloc()))
				if err != nil {
					return err
				}
				d := j.plan.Decomposition(c)
				if err := ios.AddDecomposition(d); err != nil {
					return err
				}
				r := &rank{c: c, ios: ios, d: d, local: j.maps[c.Rank()]}
				f, err := OpenFile(ios, td.ds, ncio.Parallel, true)
				if err != nil {
					return err
				}

				n := 0
				for frame := 0; frame < 2; frame++ {
					for _, v := range []int{td.t, td.u} {
						if err := f.SetFrame(v, frame); err != nil {
							return err
						}
						if err := f.WriteDarray(ctx, v, 1, d.NDof, int32s(r.values(v, frame)), nil); err != nil {
							return err
						}
						n++
						st := f.Stats()
						assert.Equal(t, n, st.CachedArrays)
						assert.Equal(t, int64(n*d.NDof*4), st.CachedBytes)
						w := f.wmbs[wmbKey{ioid: 1, record: true}]
						if assert.NotNil(t, w) {
							assert.Len(t, w.data, n*d.NDof*4)
							assert.Equal(t, int32s(r.values(v, frame)), w.data[(n-1)*d.NDof*4:])
						}
					}
				}
				return f.Close(ctx)
			})
			require.NoError(t, err)

			for frame := 0; frame < 2; frame++ {
				for _, v := range []int{td.t, td.u} {
					assert.Equal(t, expected(j.maps, v, frame, 0), readVar(t, td.ds, v, frame))
				}
			}
		})
	}
}

// ============================================================================
// WriteDarrayMulti
// ============================================================================

func TestWriteDarrayMulti(t *testing.T) {
	t.Run("compacts padded arrays", func(t *testing.T) {
		td := newTestDataset(t)
		j := newJob(t, 3, []int{0}, decomp.Box, 0)

		j.run(t, nil, func(ctx context.Context, r *rank) error {
			f, err := OpenFile(r.ios, td.ds, ncio.Parallel, true)
			if err != nil {
				return err
			}
			arrayLen := r.d.NDof + 2
			var data []int32
			for _, v := range []int{td.a, td.b} {
				data = append(data, r.values(v, 0)...)
				data = append(data, 999, 999)
			}
			if err := f.WriteDarrayMulti(ctx, []int{td.a, td.b}, 1, arrayLen, int32s(data), nil, nil, false); err != nil {
				return err
			}
			assert.Zero(t, f.Stats().CachedArrays)
			return f.Close(ctx)
		})

		assert.Equal(t, expected(j.maps, td.a, 0, 0), readVar(t, td.ds, td.a, 0))
		assert.Equal(t, expected(j.maps, td.b, 0, 0), readVar(t, td.ds, td.b, 0))
	})

	t.Run("frames override without moving the variable", func(t *testing.T) {
		td := newTestDataset(t)
		j := newJob(t, 2, []int{0, 1}, decomp.Subset, 0)

		j.run(t, nil, func(ctx context.Context, r *rank) error {
			f, err := OpenFile(r.ios, td.ds, ncio.NonBlocking, true)
			if err != nil {
				return err
			}
			if err := f.SetFrame(td.t, 0); err != nil {
				return err
			}
			data := append(int32s(r.values(td.t, 2)), int32s(r.values(td.u, 1))...)
			if err := f.WriteDarrayMulti(ctx, []int{td.t, td.u}, 1, r.d.NDof, data, []int{2, 1}, nil, true); err != nil {
				return err
			}
			frame, err := f.Frame(td.t)
			if err != nil {
				return err
			}
			assert.Equal(t, 0, frame)
			frame, err = f.Frame(td.u)
			if err != nil {
				return err
			}
			assert.Equal(t, -1, frame)
			return f.Close(ctx)
		})

		assert.Equal(t, expected(j.maps, td.t, 2, 0), readVar(t, td.ds, td.t, 2))
		assert.Equal(t, expected(j.maps, td.u, 1, 0), readVar(t, td.ds, td.u, 1))
	})

	t.Run("flushes buffered arrays first", func(t *testing.T) {
		td := newTestDataset(t)
		j := newJob(t, 2, []int{0}, decomp.Box, 0)

		j.run(t, nil, func(ctx context.Context, r *rank) error {
			f, err := OpenFile(r.ios, td.ds, ncio.Parallel, true)
			if err != nil {
				return err
			}
			if err := f.WriteDarray(ctx, td.a, 1, r.d.NDof, int32s(r.values(td.a, 5)), nil); err != nil {
				return err
			}
			// The later write of the same variable must win.
			if err := f.WriteDarrayMulti(ctx, []int{td.a}, 1, r.d.NDof, int32s(r.values(td.a, 0)), nil, nil, false); err != nil {
				return err
			}
			assert.Zero(t, f.Stats().CachedArrays)
			return f.Close(ctx)
		})

		assert.Equal(t, expected(j.maps, td.a, 0, 0), readVar(t, td.ds, td.a, 0))
	})

	t.Run("rejects bad batches", func(t *testing.T) {
		td := newTestDataset(t)
		j := newJob(t, 1, []int{0}, decomp.Box, 0)

		j.run(t, nil, func(ctx context.Context, r *rank) error {
			f, err := OpenFile(r.ios, td.ds, ncio.Parallel, true)
			if err != nil {
				return err
			}
			one := int32s(r.values(td.a, 0))
			two := append(append([]byte(nil), one...), one...)

			err = f.WriteDarrayMulti(ctx, nil, 1, r.d.NDof, one, nil, nil, false)
			assert.ErrorIs(t, err, ErrBadVarID)

			assert.NoError(t, f.SetFrame(td.t, 0))
			err = f.WriteDarrayMulti(ctx, []int{td.a, td.t}, 1, r.d.NDof, two, nil, nil, false)
			assert.ErrorIs(t, err, ErrBadVarID)

			err = f.WriteDarrayMulti(ctx, []int{td.a, td.b}, 1, r.d.NDof, one, nil, nil, false)
			assert.ErrorIs(t, err, ErrArrayTooSmall)

			err = f.WriteDarrayMulti(ctx, []int{td.a, td.b}, 1, r.d.NDof, two, []int{0}, nil, false)
			assert.Error(t, err)

			err = f.WriteDarrayMulti(ctx, []int{td.u}, 1, r.d.NDof, one, nil, nil, false)
			assert.ErrorIs(t, err, ErrFrameNotSet)
			return f.Close(ctx)
		})
	})
}

// ============================================================================
// Contract errors
// ============================================================================

func TestContractErrors(t *testing.T) {
	td := newTestDataset(t)
	j := newJob(t, 1, []int{0}, decomp.Box, 0)

	j.run(t, nil, func(ctx context.Context, r *rank) error {
		f, err := OpenFile(r.ios, td.ds, ncio.Parallel, true)
		if err != nil {
			return err
		}
		data := int32s(r.values(td.a, 0))

		t.Run("array too small", func(t *testing.T) {
			err := f.WriteDarray(ctx, td.a, 1, r.d.NDof-1, data, nil)
			assert.ErrorIs(t, err, ErrArrayTooSmall)
			err = f.WriteDarray(ctx, td.a, 1, r.d.NDof, data[:8], nil)
			assert.ErrorIs(t, err, ErrArrayTooSmall)
			assert.Zero(t, f.Stats().CachedArrays)
		})

		t.Run("unknown variable", func(t *testing.T) {
			err := f.WriteDarray(ctx, 99, 1, r.d.NDof, data, nil)
			assert.ErrorIs(t, err, ErrBadVarID)

			var derr *Error
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, "write", derr.Op)
			assert.Equal(t, 99, derr.VarID)
			assert.Equal(t, "test.nc", derr.File)
		})

		t.Run("unknown decomposition", func(t *testing.T) {
			err := f.WriteDarray(ctx, td.a, 42, r.d.NDof, data, nil)
			assert.ErrorIs(t, err, ErrBadDecomposition)
			err = f.ReadDarray(ctx, td.a, 42, r.d.NDof, data)
			assert.ErrorIs(t, err, ErrBadDecomposition)
		})

		t.Run("type mismatch", func(t *testing.T) {
			err := f.WriteDarray(ctx, td.dbl, 1, r.d.NDof, data, nil)
			assert.ErrorIs(t, err, ErrTypeMismatch)
			err = f.WriteDarray(ctx, td.a, 1, r.d.NDof, data, []byte{1, 2})
			assert.ErrorIs(t, err, ErrTypeMismatch)
		})

		t.Run("frame not set", func(t *testing.T) {
			err := f.WriteDarray(ctx, td.t, 1, r.d.NDof, data, nil)
			assert.ErrorIs(t, err, ErrFrameNotSet)
			err = f.ReadDarray(ctx, td.u, 1, r.d.NDof, data)
			assert.ErrorIs(t, err, ErrFrameNotSet)
			assert.Error(t, f.SetFrame(td.t, -1))
		})

		t.Run("advance frame from unset", func(t *testing.T) {
			require.NoError(t, f.AdvanceFrame(td.u))
			frame, err := f.Frame(td.u)
			require.NoError(t, err)
			assert.Equal(t, 0, frame)
		})

		t.Run("closed file", func(t *testing.T) {
			require.NoError(t, f.Close(ctx))
			assert.ErrorIs(t, f.WriteDarray(ctx, td.a, 1, r.d.NDof, data, nil), ErrFileClosed)
			assert.ErrorIs(t, f.ReadDarray(ctx, td.a, 1, r.d.NDof, data), ErrFileClosed)
			assert.ErrorIs(t, f.Sync(ctx), ErrFileClosed)
			assert.ErrorIs(t, f.FlushBuffers(ctx, false), ErrFileClosed)
			assert.ErrorIs(t, f.Close(ctx), ErrFileClosed)
		})

		ro, err := OpenFile(r.ios, td.ds, ncio.Parallel, false)
		if err != nil {
			return err
		}
		assert.ErrorIs(t, ro.WriteDarray(ctx, td.a, 1, r.d.NDof, data, nil), ErrReadOnly)
		return ro.Close(ctx)
	})
}

func TestDecompositionShapeMismatch(t *testing.T) {
	td := newTestDataset(t)
	// A 4 x 6 decomposition does not fit a 1-D view of the same size.
	j := newJob(t, 1, []int{0}, decomp.Box, 0)
	ds := td.ds
	n, err := ds.DefDim("n", gridElems)
	require.NoError(t, err)
	flat, err := ds.DefVar("flat", ncio.Int, []int{n})
	require.NoError(t, err)

	j.run(t, nil, func(ctx context.Context, r *rank) error {
		f, err := OpenFile(r.ios, ds, ncio.Parallel, true)
		if err != nil {
			return err
		}
		err = f.WriteDarray(ctx, flat, 1, r.d.NDof, int32s(r.values(flat, 0)), nil)
		assert.ErrorIs(t, err, ErrBadDecomposition)
		return f.Close(ctx)
	})
}

func TestPoolExhausted(t *testing.T) {
	td := newTestDataset(t)
	j := newJob(t, 2, []int{0}, decomp.Box, 0)

	var mu sync.Mutex
	var errs []error
	err := j.world.Run(context.Background(), func(ctx context.Context, c comm.Comm) error {
		var io comm.Comm
		if ic, ok := j.ioGroup.Comm(c.Rank()); ok {
			io = ic
		}
		ios, err := NewIOSystem(c, io, WithAllocator(bufpool.NewArena(16)))
		if err != nil {
			return err
		}
		d := j.plan.Decomposition(c)
		if err := ios.AddDecomposition(d); err != nil {
			return err
		}
		f, err := OpenFile(ios, td.ds, ncio.Parallel, true)
		if err != nil {
			return err
		}
		vals := make([]int32, d.NDof)
		werr := f.WriteDarray(ctx, td.a, 1, d.NDof, int32s(vals), nil)
		mu.Lock()
		errs = append(errs, werr)
		mu.Unlock()
		assert.Zero(t, f.Stats().CachedArrays)
		return f.Close(ctx)
	})
	require.NoError(t, err)
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrPoolExhausted)
	}
}

func TestFlushStagingExhaustedKeepsBuffer(t *testing.T) {
	td := newTestDataset(t)
	j := newJob(t, 2, []int{0}, decomp.Box, 0)

	var mu sync.Mutex
	flushErrs := make(map[int]error)
	closeErrs := make(map[int]error)
	err := j.world.Run(context.Background(), func(ctx context.Context, c comm.Comm) error {
		var io comm.Comm
		if ic, ok := j.ioGroup.Comm(c.Rank()); ok {
			io = ic
		}
		// Room for the buffered array but not for the I/O task's staging
		// buffer.
		arena := bufpool.NewArena(100)
		ios, err := NewIOSystem(c, io, WithAllocator(arena))
		if err != nil {
			return err
		}
		d := j.plan.Decomposition(c)
		if err := ios.AddDecomposition(d); err != nil {
			return err
		}
		f, err := OpenFile(ios, td.ds, ncio.Parallel, true)
		if err != nil {
			return err
		}
		vals := make([]int32, d.NDof)
		if err := f.WriteDarray(ctx, td.a, 1, d.NDof, int32s(vals), nil); err != nil {
			return err
		}

		ferr := f.FlushBuffers(ctx, false)
		st := f.Stats()
		assert.Equal(t, 1, st.CachedArrays)
		assert.Equal(t, int64(d.NDof*4), st.CachedBytes)

		cerr := f.Close(ctx)
		assert.Zero(t, arena.Stats().Allocated)

		mu.Lock()
		flushErrs[c.Rank()] = ferr
		closeErrs[c.Rank()] = cerr
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.Len(t, flushErrs, 2)
	for rank, err := range flushErrs {
		assert.ErrorIs(t, err, ErrPoolExhausted, "rank %d flush", rank)
	}
	require.Len(t, closeErrs, 2)
	for rank, err := range closeErrs {
		assert.ErrorIs(t, err, ErrPoolExhausted, "rank %d close", rank)
	}
}

// ============================================================================
// Metrics
// ============================================================================

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFlush(VerdictIOFlush, time.Millisecond)
		m.ObserveRegions(PassData, 3)
		m.ObserveWrite("parallel", 10)
		m.ObserveRead("parallel", 10)
		m.ObserveWait(4, nil)
		m.SetCachedArrays(2)
		m.SetPoolAllocated(100)
	})

	unregistered := NewMetrics(nil)
	assert.NotPanics(t, func() { unregistered.ObserveFlush(VerdictDiskFlush, time.Second) })
}
