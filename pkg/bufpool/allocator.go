package bufpool

import (
	"errors"
	"math"
)

// ErrExhausted is returned when an allocator cannot satisfy a request.
var ErrExhausted = errors.New("bufpool: out of memory")

// Stats is a point-in-time view of an allocator.
type Stats struct {
	// Allocated is the number of bytes currently handed out.
	Allocated int64
	// Free is the number of bytes still available. Unbounded allocators
	// report math.MaxInt64.
	Free int64
	// LargestFree is the largest single allocation that would succeed now.
	LargestFree int64
	// Allocs and Releases count calls since creation.
	Allocs   int64
	Releases int64
}

// Allocator hands out byte buffers and tracks how much is outstanding.
// Buffers must be returned with Release using the slice returned by Alloc or
// Realloc (any reslice sharing the first byte is accepted).
type Allocator interface {
	Alloc(n int) ([]byte, error)
	Realloc(buf []byte, n int) ([]byte, error)
	Release(buf []byte)
	Stats() Stats
}

const unbounded = math.MaxInt64

// alignment of every extent handed out by an Arena.
const alignment = 8

func alignUp(n int64) int64 {
	return (n + alignment - 1) &^ (alignment - 1)
}
