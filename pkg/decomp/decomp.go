// Package decomp describes how a distributed array is split between compute
// tasks and I/O tasks: the per-task element counts, the regions of the file
// each I/O task owns, and the Rearranger that moves data between the two
// layouts.
package decomp

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/darrayio/pkg/ncio"
)

// Kind selects the rearrangement strategy.
type Kind int

const (
	// Box gives each I/O task a contiguous block of the global array.
	// Elements of the block no compute task contributes are holes and keep
	// the fill value the block was pre-filled with.
	Box Kind = iota
	// Subset gives each I/O task exactly the elements its compute tasks
	// contribute. Holes are written in a separate fill pass.
	Subset
)

func (k Kind) String() string {
	switch k {
	case Box:
		return "box"
	case Subset:
		return "subset"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses "box" or "subset".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "box":
		return Box, nil
	case "subset":
		return Subset, nil
	}
	return 0, fmt.Errorf("unknown rearranger %q", s)
}

// Region is a hyperslab of the decomposition's global array together with
// the element offset of its first element in the I/O task's local buffer.
type Region struct {
	Start   []int
	Count   []int
	LOffset int
}

// Elems returns the number of elements in r.
func (r Region) Elems() int {
	n := 1
	for _, c := range r.Count {
		n *= c
	}
	return n
}

// RegionIter walks a region list once. It cannot be restarted.
type RegionIter interface {
	Next() (Region, bool)
}

type sliceIter struct {
	regions []Region
	pos     int
}

func (it *sliceIter) Next() (Region, bool) {
	if it.pos >= len(it.regions) {
		return Region{}, false
	}
	r := it.regions[it.pos]
	it.pos++
	return r, true
}

// Iter returns a RegionIter over regions.
func Iter(regions []Region) RegionIter {
	return &sliceIter{regions: regions}
}

// Rearranger moves array data between compute layout and I/O layout. Both
// methods are collective over the compute tasks of the decomposition.
type Rearranger interface {
	// Comp2IO moves nvars arrays of NDof elements each, stored back to back
	// in src, into dst, where variable v occupies elements
	// [v*LLen, (v+1)*LLen). dst is nil on tasks that are not I/O tasks.
	Comp2IO(ctx context.Context, d *Decomposition, src, dst []byte, nvars int) error
	// IO2Comp moves one array from I/O layout (LLen elements in src) to
	// compute layout (NDof elements in dst).
	IO2Comp(ctx context.Context, d *Decomposition, src, dst []byte) error
}

// Decomposition is one task's view of a decomposition.
type Decomposition struct {
	ID   int
	Type ncio.Type
	// Dims are the global array dimensions, excluding any record dimension.
	Dims []int
	Kind Kind

	// NDof is the number of elements this task holds in compute layout.
	NDof int
	// LLen is the number of elements this task holds in I/O layout; zero on
	// tasks that are not I/O tasks.
	LLen int
	// MaxIOBufLen is the largest LLen over all I/O tasks.
	MaxIOBufLen int

	// NeedsFill is set when some global element is not covered by any task.
	NeedsFill bool
	// MaxRegions is the largest region count over all I/O tasks.
	MaxRegions     int
	MaxFillRegions int
	// HoleGridSize is the largest hole element count over all I/O tasks.
	HoleGridSize int

	Regions     []Region
	FillRegions []Region

	Rearranger Rearranger
}

// ElemSize returns the element size in bytes.
func (d *Decomposition) ElemSize() int { return d.Type.Size() }

// RegionIter returns an iterator over the data regions.
func (d *Decomposition) RegionIter() RegionIter { return Iter(d.Regions) }

// FillRegionIter returns an iterator over the hole regions.
func (d *Decomposition) FillRegionIter() RegionIter { return Iter(d.FillRegions) }

// Validate checks the internal consistency of d.
func (d *Decomposition) Validate() error {
	switch {
	case !d.Type.Valid():
		return fmt.Errorf("decomposition %d: invalid element type %v", d.ID, d.Type)
	case len(d.Dims) == 0:
		return fmt.Errorf("decomposition %d: no dimensions", d.ID)
	case d.NDof < 0 || d.LLen < 0:
		return fmt.Errorf("decomposition %d: negative length", d.ID)
	case d.LLen > d.MaxIOBufLen:
		return fmt.Errorf("decomposition %d: llen %d exceeds max io buffer %d", d.ID, d.LLen, d.MaxIOBufLen)
	case d.Rearranger == nil:
		return fmt.Errorf("decomposition %d: no rearranger", d.ID)
	}
	for _, r := range d.Regions {
		if len(r.Start) != len(d.Dims) || len(r.Count) != len(d.Dims) {
			return fmt.Errorf("decomposition %d: region rank %d, want %d", d.ID, len(r.Start), len(d.Dims))
		}
		if r.LOffset+r.Elems() > d.LLen {
			return fmt.Errorf("decomposition %d: region at %d overruns llen %d", d.ID, r.LOffset, d.LLen)
		}
	}
	return nil
}
