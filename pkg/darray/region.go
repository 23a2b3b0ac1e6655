package darray

import (
	"fmt"

	"github.com/marmos91/darrayio/pkg/decomp"
)

// extraDims returns how many leading decomposition dimensions have no file
// counterpart. They must all have length 1.
func extraDims(dims []int, fndims int, record bool) int {
	extra := len(dims) - fndims
	if record {
		extra = len(dims) - (fndims - 1)
	}
	if extra < 0 {
		panic(fmt.Sprintf("darray: decomposition has %d dims, file variable has %d (record=%t)", len(dims), fndims, record))
	}
	for i := 0; i < extra; i++ {
		if dims[i] != 1 {
			panic(fmt.Sprintf("darray: extra decomposition dim %d has length %d, want 1", i, dims[i]))
		}
	}
	return extra
}

// findStartCount returns the file hyperslab covered by one region. For a
// record variable start[0] is left at zero for the caller to set to the
// variable's frame. A nil region yields all zeros, a zero-sized transfer
// that keeps collective calls in step.
func findStartCount(dims []int, fndims int, record bool, r *decomp.Region) (start, count []int) {
	start = make([]int, fndims)
	count = make([]int, fndims)
	if r == nil {
		return start, count
	}

	rec := record && fndims > 1
	extra := extraDims(dims, fndims, rec)
	if rec {
		n := 1
		for i := 1; i < fndims; i++ {
			start[i] = r.Start[i-1+extra]
			count[i] = r.Count[i-1+extra]
			n *= count[i]
		}
		if n > 0 {
			count[0] = 1
		}
		return start, count
	}
	for i := 0; i < fndims; i++ {
		start[i] = r.Start[i+extra]
		count[i] = r.Count[i+extra]
	}
	return start, count
}

// findAllStartCount applies findStartCount to at most n regions of it and
// returns the results flattened region-major, fndims entries per region,
// together with the number of regions consumed.
func findAllStartCount(dims []int, fndims int, record bool, it decomp.RegionIter, n int) (starts, counts []int, nregions int) {
	starts = make([]int, 0, fndims*n)
	counts = make([]int, 0, fndims*n)
	for nregions < n {
		r, ok := it.Next()
		if !ok {
			break
		}
		s, c := findStartCount(dims, fndims, record, &r)
		starts = append(starts, s...)
		counts = append(counts, c...)
		nregions++
	}
	return starts, counts, nregions
}

func elems(count []int) int {
	n := 1
	for _, c := range count {
		n *= c
	}
	return n
}
