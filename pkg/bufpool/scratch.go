package bufpool

import "sync"

// Scratch tier sizes. Serial-path messages are either headers (a few
// integers), region start/count lists, or slabs of variable data.
const (
	SmallSize  = 1 << 10
	MediumSize = 64 << 10
	LargeSize  = 4 << 20
)

// Scratch is a three-tier sync.Pool of message buffers. Requests above the
// large tier are allocated directly and dropped on Put.
type Scratch struct {
	tiers [3]sync.Pool
	sizes [3]int
}

// NewScratch returns a Scratch pool with the given tier sizes. Zero values
// select the package defaults.
func NewScratch(small, medium, large int) *Scratch {
	s := &Scratch{sizes: [3]int{small, medium, large}}
	for i, def := range [3]int{SmallSize, MediumSize, LargeSize} {
		if s.sizes[i] <= 0 {
			s.sizes[i] = def
		}
		size := s.sizes[i]
		s.tiers[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	return s
}

// Get returns a buffer of length size. Its contents are undefined.
func (s *Scratch) Get(size int) []byte {
	for i, tierSize := range s.sizes {
		if size <= tierSize {
			b := *s.tiers[i].Get().(*[]byte)
			return b[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to its tier. Buffers not obtained from Get are dropped.
func (s *Scratch) Put(buf []byte) {
	for i, tierSize := range s.sizes {
		if cap(buf) == tierSize {
			full := buf[:tierSize]
			s.tiers[i].Put(&full)
			return
		}
	}
}

var global = NewScratch(0, 0, 0)

// Get returns a scratch buffer from the package pool.
func Get(size int) []byte { return global.Get(size) }

// Put returns a scratch buffer to the package pool.
func Put(buf []byte) { global.Put(buf) }
