package darray

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/darrayio/pkg/comm"
	"github.com/marmos91/darrayio/pkg/decomp"
	"github.com/marmos91/darrayio/pkg/ncio"
	"github.com/marmos91/darrayio/pkg/ncio/store/memory"
	"github.com/marmos91/darrayio/pkg/rearrange"
)

// Grid used by the engine tests: 4 x 6 int32 elements, plus an unlimited
// record dimension.
var gridDims = []int{4, 6}

const gridElems = 24

func int32s(vals []int32) []byte {
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

// testDataset defines two fixed variables ("a", "b") and two record
// variables ("t", "u") over the grid, all int32, plus a double "dbl".
type testDataset struct {
	ds              *ncio.Dataset
	a, b, t, u, dbl int
}

func newTestDataset(t *testing.T) *testDataset {
	t.Helper()
	ds := ncio.Create("test.nc", memory.New(), ncio.WithBlockElems(5))
	rec, err := ds.DefDim("time", ncio.Unlimited)
	require.NoError(t, err)
	y, err := ds.DefDim("y", gridDims[0])
	require.NoError(t, err)
	x, err := ds.DefDim("x", gridDims[1])
	require.NoError(t, err)

	td := &testDataset{ds: ds}
	td.a, err = ds.DefVar("a", ncio.Int, []int{y, x})
	require.NoError(t, err)
	td.b, err = ds.DefVar("b", ncio.Int, []int{y, x})
	require.NoError(t, err)
	td.t, err = ds.DefVar("t", ncio.Int, []int{rec, y, x})
	require.NoError(t, err)
	td.u, err = ds.DefVar("u", ncio.Int, []int{rec, y, x})
	require.NoError(t, err)
	td.dbl, err = ds.DefVar("dbl", ncio.Double, []int{y, x})
	require.NoError(t, err)
	return td
}

// job is an in-process SPMD job with a fixed I/O task layout.
type job struct {
	world   *comm.World
	ioGroup *comm.Group
	ioTasks []int
	maps    [][]int64
	plan    *rearrange.Plan

	// wrapIO, when set, wraps the I/O communicator of each I/O task.
	wrapIO func(worldRank int, c comm.Comm) comm.Comm
}

func newJob(t *testing.T, ntasks int, ioTasks []int, kind decomp.Kind, skip int) *job {
	t.Helper()
	w := comm.NewWorld(ntasks)
	maps := rearrange.CompMapBlocks(gridDims, ntasks, 3, skip)
	plan, err := rearrange.NewPlan(rearrange.Spec{
		IOID:     1,
		Type:     ncio.Int,
		Dims:     gridDims,
		Kind:     kind,
		CompMaps: maps,
		IOTasks:  ioTasks,
	})
	require.NoError(t, err)
	return &job{world: w, ioGroup: w.NewGroup(ioTasks), ioTasks: ioTasks, maps: maps, plan: plan}
}

// rank is what one goroutine of a job sees.
type rank struct {
	c   comm.Comm
	ios *IOSystem
	d   *decomp.Decomposition
	// local holds the 1-based global offsets of this rank's elements.
	local []int64
}

func (j *job) run(t *testing.T, opts []Option, fn func(ctx context.Context, r *rank) error) {
	t.Helper()
	err := j.world.Run(context.Background(), func(ctx context.Context, c comm.Comm) error {
		var io comm.Comm
		if ic, ok := j.ioGroup.Comm(c.Rank()); ok {
			io = ic
			if j.wrapIO != nil {
				io = j.wrapIO(c.Rank(), ic)
			}
		}
		ios, err := NewIOSystem(c, io, opts...)
		if err != nil {
			return err
		}
		d := j.plan.Decomposition(c)
		if err := ios.AddDecomposition(d); err != nil {
			return err
		}
		return fn(ctx, &rank{c: c, ios: ios, d: d, local: j.maps[c.Rank()]})
	})
	require.NoError(t, err)
}

// values returns the local array of a rank for a variable: the global
// offset scaled and shifted so every variable and frame differs.
func (r *rank) values(varid, frame int) []int32 {
	out := make([]int32, r.d.NDof)
	for i, g := range r.local {
		if g == 0 {
			continue
		}
		out[i] = int32(g)*100 + int32(varid)*10 + int32(frame)
	}
	return out
}

// expected returns the full grid of varid at frame as written by
// rank.values, with hole in every element no rank owns.
func expected(maps [][]int64, varid, frame int, hole int32) []int32 {
	own := owned(maps)
	out := make([]int32, gridElems)
	for i := range out {
		if own[i] {
			out[i] = int32(i+1)*100 + int32(varid)*10 + int32(frame)
		} else {
			out[i] = hole
		}
	}
	return out
}

// readVar reads a whole variable (one frame for record variables) straight
// from the dataset.
func readVar(t *testing.T, ds *ncio.Dataset, varid, frame int) []int32 {
	t.Helper()
	info, err := ds.Var(varid)
	require.NoError(t, err)
	h := ds.Open(ncio.Parallel, 0)
	start := []int{0, 0}
	count := append([]int(nil), gridDims...)
	if info.Record {
		start = []int{frame, 0, 0}
		count = append([]int{1}, count...)
	}
	buf := make([]byte, gridElems*4)
	require.NoError(t, h.GetVara(context.Background(), varid, start, count, buf))
	return toInt32s(buf)
}

// owned returns the set of 0-based global offsets covered by maps.
func owned(maps [][]int64) map[int]bool {
	out := make(map[int]bool)
	for _, m := range maps {
		for _, g := range m {
			if g > 0 {
				out[int(g-1)] = true
			}
		}
	}
	return out
}
