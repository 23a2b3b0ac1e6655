package ncio

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/darrayio/pkg/ncio/store/memory"
)

func int32s(vals ...int32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(v))
	}
	return b
}

func toInt32s(b []byte) []int32 {
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

// newGrid defines time(unlimited) x y(3) x x(4) with a record int variable
// "t" and a fixed double variable "topo".
func newGrid(t *testing.T, opts ...Option) (*Dataset, int, int) {
	t.Helper()
	ds := Create("grid.nc", memory.New(), opts...)
	tdim, err := ds.DefDim("time", Unlimited)
	require.NoError(t, err)
	ydim, err := ds.DefDim("y", 3)
	require.NoError(t, err)
	xdim, err := ds.DefDim("x", 4)
	require.NoError(t, err)

	rec, err := ds.DefVar("t", Int, []int{tdim, ydim, xdim})
	require.NoError(t, err)
	fixed, err := ds.DefVar("topo", Double, []int{ydim, xdim})
	require.NoError(t, err)
	return ds, rec, fixed
}

// ============================================================================
// Types
// ============================================================================

func TestTypes(t *testing.T) {
	assert.Equal(t, 1, Byte.Size())
	assert.Equal(t, 2, Short.Size())
	assert.Equal(t, 4, Float.Size())
	assert.Equal(t, 8, UInt64.Size())
	assert.False(t, Type(99).Valid())
	assert.Equal(t, "double", Double.String())

	typ, err := ParseType(" Double ")
	require.NoError(t, err)
	assert.Equal(t, Double, typ)
	_, err = ParseType("complex")
	assert.Error(t, err)

	assert.Equal(t, FillInt, int32(binary.LittleEndian.Uint32(DefaultFill(Int))))
	assert.Equal(t, FillDouble, math.Float64frombits(binary.LittleEndian.Uint64(DefaultFill(Double))))
	assert.Equal(t, []byte{0x81}, DefaultFill(Byte))
	assert.Nil(t, DefaultFill(Type(0)))

	mode, err := ParseIOType("vector")
	require.NoError(t, err)
	assert.Equal(t, NonBlocking, mode)
	assert.Equal(t, "serial", Serial.String())
}

// ============================================================================
// Schema
// ============================================================================

func TestSchema(t *testing.T) {
	ds, rec, fixed := newGrid(t)

	t.Run("VarInfo", func(t *testing.T) {
		info, err := ds.Var(rec)
		require.NoError(t, err)
		assert.True(t, info.Record)
		assert.Equal(t, 3, info.NDims())
		assert.Equal(t, []int{0, 3, 4}, info.Shape)
		assert.Equal(t, DefaultFill(Int), info.Fill)

		info, err = ds.Var(fixed)
		require.NoError(t, err)
		assert.False(t, info.Record)
		assert.Equal(t, Double, info.Type)
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := ds.DefDim("y", 2)
		assert.ErrorIs(t, err, ErrNameInUse)
		_, err = ds.DefDim("time2", Unlimited)
		assert.Error(t, err)
		_, err = ds.DefVar("bad", Type(0), nil)
		assert.ErrorIs(t, err, ErrBadType)
		_, err = ds.DefVar("bad", Int, []int{1, 0})
		assert.ErrorIs(t, err, ErrRecordDim)
		_, err = ds.DefVar("bad", Int, []int{7})
		assert.ErrorIs(t, err, ErrBadDimID)
		_, err = ds.Var(42)
		assert.ErrorIs(t, err, ErrBadVarID)
	})

	t.Run("Lookup", func(t *testing.T) {
		id, err := ds.VarID("topo")
		require.NoError(t, err)
		assert.Equal(t, fixed, id)
		_, err = ds.VarID("nope")
		assert.ErrorIs(t, err, ErrBadVarID)
	})

	t.Run("Fill", func(t *testing.T) {
		require.NoError(t, ds.SetFill(rec, false, int32s(-1)))
		info, _ := ds.Var(rec)
		assert.Equal(t, int32s(-1), info.Fill)
		assert.Error(t, ds.SetFill(rec, false, []byte{1}))
		require.NoError(t, ds.SetFill(rec, true, nil))
		info, _ = ds.Var(rec)
		assert.True(t, info.NoFill)
		assert.Equal(t, DefaultFill(Int), info.Fill)
	})
}

// ============================================================================
// Hyperslab access
// ============================================================================

func TestHyperslab(t *testing.T) {
	ctx := context.Background()

	t.Run("PartialWriteReadsFillElsewhere", func(t *testing.T) {
		// Small blocks force hyperslabs to straddle block boundaries.
		ds, rec, _ := newGrid(t, WithBlockElems(5))
		h := ds.Open(Parallel, 0)

		// Write y=1..2, x=1..2 of record 2.
		require.NoError(t, h.PutVara(ctx, rec, []int{2, 1, 1}, []int{1, 2, 2}, int32s(1, 2, 3, 4)))
		assert.Equal(t, 3, ds.NumRecs())

		got := make([]byte, 4*12)
		require.NoError(t, h.GetVara(ctx, rec, []int{2, 0, 0}, []int{1, 3, 4}, got))
		f := FillInt
		assert.Equal(t, []int32{
			f, f, f, f,
			f, 1, 2, f,
			f, 3, 4, f,
		}, toInt32s(got))

		// Untouched record reads as fill.
		require.NoError(t, h.GetVara(ctx, rec, []int{0, 0, 0}, []int{1, 1, 2}, got[:8]))
		assert.Equal(t, []int32{f, f}, toInt32s(got[:8]))
		assert.Equal(t, 3, h.Calls())
	})

	t.Run("ZeroCountIsNoop", func(t *testing.T) {
		ds, rec, _ := newGrid(t)
		h := ds.Open(Parallel, 1)
		require.NoError(t, h.PutVara(ctx, rec, []int{0, 0, 0}, []int{0, 0, 0}, nil))
		assert.Equal(t, 0, ds.NumRecs())
		assert.Equal(t, 1, h.Calls())
		assert.Zero(t, ds.Stats().Puts)
	})

	t.Run("Errors", func(t *testing.T) {
		ds, rec, fixed := newGrid(t)
		h := ds.Open(Parallel, 0)
		assert.ErrorIs(t, h.PutVara(ctx, rec, []int{0, 0}, []int{1, 1}, int32s(1)), ErrShape)
		assert.ErrorIs(t, h.PutVara(ctx, fixed, []int{2, 0}, []int{2, 1}, make([]byte, 16)), ErrEdge)
		assert.ErrorIs(t, h.PutVara(ctx, fixed, []int{0, 0}, []int{1, 2}, make([]byte, 8)), ErrShortBuffer)
		assert.ErrorIs(t, h.GetVara(ctx, rec, []int{0, 0, 0}, []int{1, 1, 1}, make([]byte, 4)), ErrEdge, "no records yet")
	})

	t.Run("NoFillReadsZero", func(t *testing.T) {
		ds, _, fixed := newGrid(t)
		require.NoError(t, ds.SetFill(fixed, true, nil))
		h := ds.Open(Parallel, 0)
		got := make([]byte, 8)
		require.NoError(t, h.GetVara(ctx, fixed, []int{0, 0}, []int{1, 1}, got))
		assert.Equal(t, make([]byte, 8), got)
	})
}

// ============================================================================
// Access modes
// ============================================================================

func TestSerialMode(t *testing.T) {
	ds, _, fixed := newGrid(t)
	ctx := context.Background()

	root := ds.Open(Serial, 0)
	other := ds.Open(Serial, 1)
	require.NoError(t, root.PutVara(ctx, fixed, []int{0, 0}, []int{1, 1}, make([]byte, 8)))
	assert.ErrorIs(t, other.PutVara(ctx, fixed, []int{0, 0}, []int{1, 1}, make([]byte, 8)), ErrNotRoot)

	_, err := root.IPutVarn(ctx, fixed, nil, nil, nil)
	assert.ErrorIs(t, err, ErrModeMismatch)
}

func TestNonBlocking(t *testing.T) {
	ctx := context.Background()
	ds, rec, _ := newGrid(t)
	h := ds.Open(NonBlocking, 0)

	starts := [][]int{{0, 0, 0}, {0, 2, 2}}
	counts := [][]int{{1, 1, 4}, {1, 1, 2}}
	data := int32s(1, 2, 3, 4, 5, 6)

	req, err := h.IPutVarn(ctx, rec, starts, counts, data)
	require.NoError(t, err)
	assert.NotEqual(t, RequestNull, req)
	assert.Equal(t, int64(24), h.BufferUsage())
	data[0] = 99 // staged copy is unaffected

	empty, err := h.IPutVarn(ctx, rec, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, RequestNull, empty)

	_, err = h.IPutVarn(ctx, rec, starts, counts, data[:8])
	assert.ErrorIs(t, err, ErrShortBuffer)

	require.NoError(t, h.WaitAll(ctx, []Request{req, empty}))
	assert.Zero(t, h.BufferUsage())
	assert.Zero(t, h.Pending())

	got := make([]byte, 24)
	rreq, err := h.IGetVarn(ctx, rec, starts, counts, got)
	require.NoError(t, err)
	require.NoError(t, h.WaitAll(ctx, []Request{rreq}))
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, toInt32s(got))

	assert.ErrorIs(t, h.WaitAll(ctx, []Request{rreq}), ErrBadRequest)
}

func TestCloseCompletesPending(t *testing.T) {
	ctx := context.Background()
	ds, _, fixed := newGrid(t)
	h := ds.Open(NonBlocking, 0)

	_, err := h.IPutVarn(ctx, fixed, [][]int{{1, 0}}, [][]int{{1, 4}}, make([]byte, 32))
	require.NoError(t, err)
	require.NoError(t, h.Close(ctx))
	assert.Equal(t, int64(1), ds.Stats().Puts)

	assert.ErrorIs(t, h.PutVara(ctx, fixed, []int{0, 0}, []int{1, 1}, make([]byte, 8)), ErrClosed)
	assert.ErrorIs(t, h.Sync(ctx), ErrClosed)
	assert.NoError(t, h.Close(ctx))
}
