package bufpool

import (
	"fmt"
	"sync"
	"unsafe"
)

// Heap allocates from the Go heap without a capacity bound. It only keeps
// the bookkeeping needed for Stats, so Allocated still drives the
// compute-side buffer limit while LargestFree never forces a flush.
type Heap struct {
	mu    sync.Mutex
	sizes map[*byte]int64
	stats Stats
}

// NewHeap returns an unbounded allocator.
func NewHeap() *Heap {
	return &Heap{sizes: make(map[*byte]int64)}
}

// Alloc returns a zeroed buffer of length n.
func (h *Heap) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("bufpool: negative allocation %d", n)
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)

	h.mu.Lock()
	h.sizes[unsafe.SliceData(buf)] = int64(n)
	h.stats.Allocated += int64(n)
	h.stats.Allocs++
	h.mu.Unlock()
	return buf, nil
}

// Realloc resizes buf, preserving its prefix.
func (h *Heap) Realloc(buf []byte, n int) ([]byte, error) {
	if buf == nil {
		return h.Alloc(n)
	}
	if n <= cap(buf) && n > 0 {
		h.mu.Lock()
		key := unsafe.SliceData(buf)
		old, ok := h.sizes[key]
		if ok {
			h.sizes[key] = int64(n)
			h.stats.Allocated += int64(n) - old
		}
		h.mu.Unlock()
		if ok {
			return buf[:n], nil
		}
	}
	moved, err := h.Alloc(n)
	if err != nil {
		return nil, err
	}
	copy(moved, buf)
	h.Release(buf)
	return moved, nil
}

// Release forgets buf. Unknown buffers are ignored.
func (h *Heap) Release(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	key := unsafe.SliceData(buf)
	if n, ok := h.sizes[key]; ok {
		delete(h.sizes, key)
		h.stats.Allocated -= n
		h.stats.Releases++
	}
}

// Stats returns current statistics; Free and LargestFree are unbounded.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	s.Free = unbounded
	s.LargestFree = unbounded
	return s
}
