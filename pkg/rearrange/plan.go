// Package rearrange builds BOX and SUBSET decompositions from per-task
// compute maps and moves data between compute and I/O layout over a
// comm.Comm.
//
// A Plan is computed once from the compute maps of every task (the in-process
// world makes them all visible), then each rank binds its own
// decomp.Decomposition to its communicator.
package rearrange

import (
	"fmt"
	"sort"

	"github.com/marmos91/darrayio/pkg/comm"
	"github.com/marmos91/darrayio/pkg/decomp"
	"github.com/marmos91/darrayio/pkg/ncio"
)

// Spec is the input to NewPlan.
type Spec struct {
	IOID int
	Type ncio.Type
	Dims []int
	Kind decomp.Kind
	// CompMaps holds, per compute rank, the 1-based global offset of each
	// local element. Zero marks a local element that maps nowhere.
	CompMaps [][]int64
	// IOTasks lists the compute ranks acting as I/O tasks; the I/O rank of
	// IOTasks[k] is k.
	IOTasks []int
}

// Plan is the routing and region layout of one decomposition.
type Plan struct {
	spec   Spec
	global int

	llen        []int
	regions     [][]decomp.Region
	fillRegions [][]decomp.Region

	maxIOBufLen    int
	maxRegions     int
	maxFillRegions int
	holeGrid       int
	needsFill      bool

	// send[r][k] lists the local indices rank r sends to I/O task k;
	// recv[k][r] lists the matching I/O-local offsets, in the same order.
	send [][][]int
	recv [][][]int
}

// NewPlan validates spec and computes the layout.
func NewPlan(spec Spec) (*Plan, error) {
	if !spec.Type.Valid() {
		return nil, fmt.Errorf("rearrange: invalid type %v", spec.Type)
	}
	if len(spec.Dims) == 0 {
		return nil, fmt.Errorf("rearrange: decomposition %d has no dimensions", spec.IOID)
	}
	ntasks, nio := len(spec.CompMaps), len(spec.IOTasks)
	if ntasks == 0 || nio == 0 || nio > ntasks {
		return nil, fmt.Errorf("rearrange: %d I/O tasks for %d compute tasks", nio, ntasks)
	}
	for _, r := range spec.IOTasks {
		if r < 0 || r >= ntasks {
			return nil, fmt.Errorf("rearrange: I/O task %d outside %d compute tasks", r, ntasks)
		}
	}

	global := 1
	for _, d := range spec.Dims {
		if d <= 0 {
			return nil, fmt.Errorf("rearrange: non-positive dimension %d", d)
		}
		global *= d
	}

	p := &Plan{
		spec:        spec,
		global:      global,
		llen:        make([]int, nio),
		regions:     make([][]decomp.Region, nio),
		fillRegions: make([][]decomp.Region, nio),
		send:        make([][][]int, ntasks),
		recv:        make([][][]int, nio),
	}
	for r := range p.send {
		p.send[r] = make([][]int, nio)
	}
	for k := range p.recv {
		p.recv[k] = make([][]int, ntasks)
	}

	owner := make(map[int]int, global)
	for r, cm := range spec.CompMaps {
		for _, m := range cm {
			if m == 0 {
				continue
			}
			if m < 0 || m > int64(global) {
				return nil, fmt.Errorf("rearrange: rank %d maps offset %d outside [1,%d]", r, m, global)
			}
			g := int(m - 1)
			if prev, dup := owner[g]; dup {
				return nil, fmt.Errorf("rearrange: offset %d mapped by ranks %d and %d", m, prev, r)
			}
			owner[g] = r
		}
	}
	p.needsFill = len(owner) < global

	var local func(r, g int) (k, off int)
	switch spec.Kind {
	case decomp.Box:
		local = p.layoutBox()
	case decomp.Subset:
		local = p.layoutSubset(owner)
	default:
		return nil, fmt.Errorf("rearrange: unknown kind %v", spec.Kind)
	}

	for r, cm := range spec.CompMaps {
		for i, m := range cm {
			if m == 0 {
				continue
			}
			k, off := local(r, int(m-1))
			p.send[r][k] = append(p.send[r][k], i)
			p.recv[k][r] = append(p.recv[k][r], off)
		}
	}

	for k := range p.llen {
		p.maxIOBufLen = max(p.maxIOBufLen, p.llen[k])
		p.maxRegions = max(p.maxRegions, len(p.regions[k]))
		p.maxFillRegions = max(p.maxFillRegions, len(p.fillRegions[k]))
	}
	return p, nil
}

func (p *Plan) boxBounds(k int) (lo, hi int) {
	nio := len(p.spec.IOTasks)
	return k * p.global / nio, (k + 1) * p.global / nio
}

// layoutBox splits the global array into contiguous blocks.
func (p *Plan) layoutBox() func(r, g int) (int, int) {
	for k := range p.llen {
		lo, hi := p.boxBounds(k)
		p.llen[k] = hi - lo
		p.regions[k] = runs(span(lo, hi), p.spec.Dims)
	}
	nio := len(p.spec.IOTasks)
	return func(_, g int) (int, int) {
		k := sort.Search(nio, func(k int) bool {
			_, hi := p.boxBounds(k)
			return hi > g
		})
		lo, _ := p.boxBounds(k)
		return k, g - lo
	}
}

// layoutSubset assigns each compute rank to one I/O task, which owns exactly
// the offsets its ranks contribute. Holes are shared out evenly.
func (p *Plan) layoutSubset(owner map[int]int) func(r, g int) (int, int) {
	ntasks, nio := len(p.spec.CompMaps), len(p.spec.IOTasks)
	ioOf := func(r int) int { return r * nio / ntasks }

	owned := make([][]int, nio)
	var holes []int
	for g := 0; g < p.global; g++ {
		r, ok := owner[g]
		if !ok {
			holes = append(holes, g)
			continue
		}
		k := ioOf(r)
		owned[k] = append(owned[k], g)
	}

	index := make(map[int]int, len(owner))
	for k, offs := range owned {
		p.llen[k] = len(offs)
		p.regions[k] = runs(offs, p.spec.Dims)
		for i, g := range offs {
			index[g] = i
		}
	}

	for k := 0; k < nio; k++ {
		share := holes[k*len(holes)/nio : (k+1)*len(holes)/nio]
		p.fillRegions[k] = runs(share, p.spec.Dims)
		p.holeGrid = max(p.holeGrid, len(share))
	}

	return func(r, g int) (int, int) {
		return ioOf(r), index[g]
	}
}

func span(lo, hi int) []int {
	s := make([]int, hi-lo)
	for i := range s {
		s[i] = lo + i
	}
	return s
}

// runs turns a sorted list of global offsets into row-segment regions. The
// LOffset of each region is the position of its first offset in the list.
func runs(offs []int, dims []int) []decomp.Region {
	var out []decomp.Region
	row := dims[len(dims)-1]
	for i := 0; i < len(offs); {
		j := i + 1
		for j < len(offs) && offs[j] == offs[j-1]+1 && offs[j]%row != 0 {
			j++
		}
		start := unravel(offs[i], dims)
		count := make([]int, len(dims))
		for d := range count {
			count[d] = 1
		}
		count[len(dims)-1] = j - i
		out = append(out, decomp.Region{Start: start, Count: count, LOffset: i})
		i = j
	}
	return out
}

func unravel(g int, dims []int) []int {
	idx := make([]int, len(dims))
	for d := len(dims) - 1; d >= 0; d-- {
		idx[d] = g % dims[d]
		g /= dims[d]
	}
	return idx
}

// Decomposition returns the view of rank c.Rank(), bound to c for data
// movement. c must be the compute communicator the plan was built for.
func (p *Plan) Decomposition(c comm.Comm) *decomp.Decomposition {
	r := c.Rank()
	ioRank := -1
	for k, t := range p.spec.IOTasks {
		if t == r {
			ioRank = k
		}
	}

	ndof := len(p.spec.CompMaps[r])
	d := &decomp.Decomposition{
		ID:             p.spec.IOID,
		Type:           p.spec.Type,
		Dims:           append([]int(nil), p.spec.Dims...),
		Kind:           p.spec.Kind,
		NDof:           ndof,
		MaxIOBufLen:    p.maxIOBufLen,
		NeedsFill:      p.needsFill,
		MaxRegions:     p.maxRegions,
		MaxFillRegions: p.maxFillRegions,
		HoleGridSize:   p.holeGrid,
		Rearranger:     &Mover{plan: p, c: c, ioRank: ioRank},
	}
	if ioRank >= 0 {
		d.LLen = p.llen[ioRank]
		d.Regions = p.regions[ioRank]
		d.FillRegions = p.fillRegions[ioRank]
	}
	return d
}

// CompMapBlocks returns compute maps that deal the global array out to
// ntasks ranks in round-robin chunks of chunk elements, leaving every
// skip-th chunk unassigned (skip 0 assigns everything). It produces
// irregular layouts for tests and simulations.
func CompMapBlocks(dims []int, ntasks, chunk, skip int) [][]int64 {
	global := 1
	for _, d := range dims {
		global *= d
	}
	maps := make([][]int64, ntasks)
	for c, g := 0, 0; g < global; c, g = c+1, g+chunk {
		if skip > 0 && c%skip == skip-1 {
			continue
		}
		r := c % ntasks
		for i := g; i < min(g+chunk, global); i++ {
			maps[r] = append(maps[r], int64(i+1))
		}
	}
	return maps
}
