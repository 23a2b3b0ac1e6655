// Package bufpool provides the memory used to stage distributed-array data.
//
// Two kinds of memory are handed out:
//
//   - Allocator implementations (Arena, Heap) back the long-lived aggregation
//     and I/O buffers. They report allocation statistics, including the
//     largest contiguous free extent, which drives flush decisions.
//   - Scratch is a tiered sync.Pool for short-lived message buffers on the
//     serial I/O path.
//
// # Usage
//
//	a := bufpool.NewArena(128 << 20)
//	buf, err := a.Alloc(n)
//	if err != nil { ... }
//	defer a.Release(buf)
//
//	msg := bufpool.Get(size)
//	defer bufpool.Put(msg)
package bufpool
