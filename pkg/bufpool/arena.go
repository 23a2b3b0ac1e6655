package bufpool

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"
)

type extent struct {
	off, size int64
}

// Arena is a bounded first-fit allocator. It manages a virtual address
// space of fixed capacity: every buffer occupies an extent of that space, and
// freed extents are coalesced with their neighbours. The backing memory of
// each buffer is ordinary Go memory, so an Arena never pins its full
// capacity; it only reproduces the fragmentation behaviour of a fixed pool.
type Arena struct {
	mu       sync.Mutex
	capacity int64
	free     []extent // sorted by offset, never adjacent
	used     map[*byte]extent
	stats    Stats
}

// NewArena returns an Arena of the given capacity in bytes.
func NewArena(capacity int64) *Arena {
	if capacity < 0 {
		capacity = 0
	}
	a := &Arena{
		capacity: capacity,
		used:     make(map[*byte]extent),
	}
	if capacity > 0 {
		a.free = []extent{{0, capacity}}
	}
	return a
}

// Capacity returns the size of the managed address space.
func (a *Arena) Capacity() int64 { return a.capacity }

// Alloc returns a zeroed buffer of length n. A zero-length request returns
// nil without consuming space.
func (a *Arena) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("bufpool: negative allocation %d", n)
	}
	if n == 0 {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ext, ok := a.take(alignUp(int64(n)))
	if !ok {
		return nil, fmt.Errorf("%w: requested %d bytes, largest free %d", ErrExhausted, n, a.largestFree())
	}
	buf := make([]byte, n, ext.size)
	a.used[unsafe.SliceData(buf)] = ext
	a.stats.Allocated += ext.size
	a.stats.Allocs++
	return buf, nil
}

// Realloc resizes buf to n bytes, preserving the common prefix. The
// extent grows in place when the following extent is free; otherwise the
// data moves. On failure buf is left untouched and still owned by the caller.
func (a *Arena) Realloc(buf []byte, n int) ([]byte, error) {
	if buf == nil {
		return a.Alloc(n)
	}
	if n == 0 {
		a.Release(buf)
		return nil, nil
	}

	a.mu.Lock()
	key := unsafe.SliceData(buf)
	ext, ok := a.used[key]
	if !ok {
		a.mu.Unlock()
		panic("bufpool: Realloc of buffer not owned by this arena")
	}
	need := alignUp(int64(n))
	if need <= ext.size {
		a.mu.Unlock()
		return buf[:n], nil
	}
	if a.growInPlace(ext, need) {
		moved := make([]byte, n, need)
		copy(moved, buf)
		delete(a.used, key)
		a.used[unsafe.SliceData(moved)] = extent{ext.off, need}
		a.stats.Allocated += need - ext.size
		a.mu.Unlock()
		return moved, nil
	}
	a.mu.Unlock()

	moved, err := a.Alloc(n)
	if err != nil {
		return nil, err
	}
	copy(moved, buf)
	a.Release(buf)
	return moved, nil
}

// Release returns buf to the arena. Releasing nil is a no-op.
func (a *Arena) Release(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := unsafe.SliceData(buf)
	ext, ok := a.used[key]
	if !ok {
		panic("bufpool: Release of buffer not owned by this arena")
	}
	delete(a.used, key)
	a.stats.Allocated -= ext.size
	a.stats.Releases++
	a.insertFree(ext)
}

// Stats returns current allocator statistics.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.Free = a.capacity - s.Allocated
	s.LargestFree = a.largestFree()
	return s
}

func (a *Arena) take(size int64) (extent, bool) {
	for i, f := range a.free {
		if f.size < size {
			continue
		}
		ext := extent{f.off, size}
		if f.size == size {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = extent{f.off + size, f.size - size}
		}
		return ext, true
	}
	return extent{}, false
}

func (a *Arena) growInPlace(ext extent, need int64) bool {
	end := ext.off + ext.size
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].off >= end })
	if i == len(a.free) || a.free[i].off != end || ext.size+a.free[i].size < need {
		return false
	}
	extra := need - ext.size
	if a.free[i].size == extra {
		a.free = append(a.free[:i], a.free[i+1:]...)
	} else {
		a.free[i] = extent{a.free[i].off + extra, a.free[i].size - extra}
	}
	return true
}

func (a *Arena) insertFree(ext extent) {
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].off > ext.off })
	a.free = append(a.free, extent{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = ext

	if i+1 < len(a.free) && a.free[i].off+a.free[i].size == a.free[i+1].off {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].off+a.free[i-1].size == a.free[i].off {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

func (a *Arena) largestFree() int64 {
	var largest int64
	for _, f := range a.free {
		largest = max(largest, f.size)
	}
	return largest
}
