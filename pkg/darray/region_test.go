package darray

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/darrayio/pkg/decomp"
)

// ============================================================================
// findStartCount
// ============================================================================

func TestFindStartCount(t *testing.T) {
	t.Run("record variable with leading unit dim", func(t *testing.T) {
		r := &decomp.Region{Start: []int{0, 2, 5}, Count: []int{1, 1, 4}}
		start, count := findStartCount([]int{1, 6, 8}, 3, true, r)
		assert.Equal(t, []int{0, 2, 5}, start)
		assert.Equal(t, []int{1, 1, 4}, count)
	})

	t.Run("record variable leaves frame to the caller", func(t *testing.T) {
		r := &decomp.Region{Start: []int{3, 1}, Count: []int{2, 5}}
		start, count := findStartCount([]int{4, 6}, 3, true, r)
		assert.Equal(t, []int{0, 3, 1}, start)
		assert.Equal(t, []int{1, 2, 5}, count)
	})

	t.Run("empty region on record variable has zero record count", func(t *testing.T) {
		r := &decomp.Region{Start: []int{0, 0}, Count: []int{0, 5}}
		_, count := findStartCount([]int{4, 6}, 3, true, r)
		assert.Equal(t, []int{0, 0, 5}, count)
	})

	t.Run("non-record variable copies the region", func(t *testing.T) {
		r := &decomp.Region{Start: []int{1, 2}, Count: []int{3, 4}}
		start, count := findStartCount([]int{4, 6}, 2, false, r)
		assert.Equal(t, []int{1, 2}, start)
		assert.Equal(t, []int{3, 4}, count)
	})

	t.Run("one dimensional record variable is treated as fixed", func(t *testing.T) {
		r := &decomp.Region{Start: []int{4}, Count: []int{2}}
		start, count := findStartCount([]int{10}, 1, true, r)
		assert.Equal(t, []int{4}, start)
		assert.Equal(t, []int{2}, count)
	})

	t.Run("nil region is all zeros", func(t *testing.T) {
		start, count := findStartCount([]int{4, 6}, 3, true, nil)
		assert.Equal(t, []int{0, 0, 0}, start)
		assert.Equal(t, []int{0, 0, 0}, count)
		assert.Zero(t, elems(count))
	})

	t.Run("non-unit extra dim panics", func(t *testing.T) {
		r := &decomp.Region{Start: []int{0, 0, 0}, Count: []int{2, 1, 1}}
		assert.Panics(t, func() { findStartCount([]int{2, 6, 8}, 2, false, r) })
	})

	t.Run("file variable with more dims than decomposition panics", func(t *testing.T) {
		r := &decomp.Region{Start: []int{0}, Count: []int{1}}
		assert.Panics(t, func() { findStartCount([]int{6}, 3, false, r) })
	})
}

// ============================================================================
// findAllStartCount
// ============================================================================

func TestFindAllStartCount(t *testing.T) {
	regions := []decomp.Region{
		{Start: []int{0, 0}, Count: []int{1, 6}},
		{Start: []int{1, 2}, Count: []int{1, 3}},
		{Start: []int{3, 0}, Count: []int{1, 1}},
	}

	t.Run("flattens region-major", func(t *testing.T) {
		starts, counts, n := findAllStartCount([]int{4, 6}, 3, true, decomp.Iter(regions), 10)
		require.Equal(t, 3, n)
		assert.Equal(t, []int{0, 0, 0, 0, 1, 2, 0, 3, 0}, starts)
		assert.Equal(t, []int{1, 1, 6, 1, 1, 3, 1, 1, 1}, counts)
	})

	t.Run("stops after n regions", func(t *testing.T) {
		it := decomp.Iter(regions)
		starts, _, n := findAllStartCount([]int{4, 6}, 2, false, it, 2)
		require.Equal(t, 2, n)
		assert.Equal(t, []int{0, 0, 1, 2}, starts)

		rest, ok := it.Next()
		require.True(t, ok)
		assert.Equal(t, []int{3, 0}, rest.Start)
	})

	t.Run("empty iterator", func(t *testing.T) {
		starts, counts, n := findAllStartCount([]int{4, 6}, 2, false, decomp.Iter(nil), 4)
		assert.Zero(t, n)
		assert.Empty(t, starts)
		assert.Empty(t, counts)
	})
}
