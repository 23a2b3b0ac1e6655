package darray

import (
	"fmt"
	"math"

	"github.com/marmos91/darrayio/pkg/bufpool"
	"github.com/marmos91/darrayio/pkg/comm"
	"github.com/marmos91/darrayio/pkg/decomp"
)

// Limits are the buffering thresholds of an IOSystem.
type Limits struct {
	// ComputeBufferLimit is the allocated-bytes level at which a buffered
	// write forces a flush all the way to storage. The test is inclusive.
	ComputeBufferLimit int64

	// BufferSizeLimit is the staged byte level of a non-blocking backend at
	// which outstanding requests are drained.
	BufferSizeLimit int64

	// MaxCachedIORegions caps the regions a single I/O task may have cached
	// across one write-multi-buffer.
	MaxCachedIORegions int

	// ReqBlockSizeLimit caps the byte size, summed over I/O tasks, of one
	// block of requests waited on together.
	ReqBlockSizeLimit int64

	// IOFlushMargin scales the contiguous free space a buffered write
	// requires before it forces a flush to the I/O tasks.
	IOFlushMargin float64

	// RequestGrowth is the chunk by which per-variable request lists grow.
	RequestGrowth int
}

// Default limits.
const (
	DefaultComputeBufferLimit = 10 << 20
	DefaultBufferSizeLimit    = 10 << 20
	DefaultMaxCachedIORegions = 65536
	DefaultReqBlockSizeLimit  = math.MaxInt32
	DefaultIOFlushMargin      = 1.1
	DefaultRequestGrowth      = 16
)

// DefaultLimits returns the default limits.
func DefaultLimits() Limits {
	return Limits{
		ComputeBufferLimit: DefaultComputeBufferLimit,
		BufferSizeLimit:    DefaultBufferSizeLimit,
		MaxCachedIORegions: DefaultMaxCachedIORegions,
		ReqBlockSizeLimit:  DefaultReqBlockSizeLimit,
		IOFlushMargin:      DefaultIOFlushMargin,
		RequestGrowth:      DefaultRequestGrowth,
	}
}

// Validate reports the first non-positive limit.
func (l Limits) Validate() error {
	switch {
	case l.ComputeBufferLimit <= 0:
		return fmt.Errorf("compute buffer limit must be positive, got %d", l.ComputeBufferLimit)
	case l.BufferSizeLimit <= 0:
		return fmt.Errorf("buffer size limit must be positive, got %d", l.BufferSizeLimit)
	case l.MaxCachedIORegions <= 0:
		return fmt.Errorf("max cached io regions must be positive, got %d", l.MaxCachedIORegions)
	case l.ReqBlockSizeLimit <= 0:
		return fmt.Errorf("request block size limit must be positive, got %d", l.ReqBlockSizeLimit)
	case l.IOFlushMargin <= 0:
		return fmt.Errorf("io flush margin must be positive, got %g", l.IOFlushMargin)
	case l.RequestGrowth <= 0:
		return fmt.Errorf("request growth must be positive, got %d", l.RequestGrowth)
	}
	return nil
}

// IOSystem is one rank's view of the job: its compute communicator, its
// I/O communicator when the rank is an I/O task, the buffer pool that backs
// every staging buffer, and the registered decompositions.
type IOSystem struct {
	comp   comm.Comm
	io     comm.Comm
	ioRank int

	alloc   bufpool.Allocator
	metrics *Metrics
	limits  Limits
	async   bool

	decomps map[int]*decomp.Decomposition
}

// Option configures an IOSystem.
type Option func(*IOSystem)

// WithAllocator sets the buffer pool. The default is an unbounded heap.
func WithAllocator(a bufpool.Allocator) Option {
	return func(s *IOSystem) { s.alloc = a }
}

// WithLimits replaces the default limits.
func WithLimits(l Limits) Option {
	return func(s *IOSystem) { s.limits = l }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *IOSystem) { s.metrics = m }
}

// WithAsync marks the system as running behind an asynchronous I/O
// service. The engine only records it.
func WithAsync(async bool) Option {
	return func(s *IOSystem) { s.async = async }
}

// NewIOSystem returns the IOSystem of one rank. io is the I/O communicator
// when this rank is an I/O task and nil otherwise.
func NewIOSystem(comp, io comm.Comm, opts ...Option) (*IOSystem, error) {
	if comp == nil {
		return nil, fmt.Errorf("darray: nil compute communicator")
	}
	s := &IOSystem{
		comp:    comp,
		io:      io,
		ioRank:  -1,
		limits:  DefaultLimits(),
		decomps: make(map[int]*decomp.Decomposition),
	}
	if io != nil {
		s.ioRank = io.Rank()
	}
	for _, o := range opts {
		o(s)
	}
	if s.alloc == nil {
		s.alloc = bufpool.NewHeap()
	}
	if err := s.limits.Validate(); err != nil {
		return nil, fmt.Errorf("darray: %w", err)
	}
	return s, nil
}

// Rank returns the compute rank.
func (s *IOSystem) Rank() int { return s.comp.Rank() }

// IORank returns the I/O rank, or -1 on compute-only tasks.
func (s *IOSystem) IORank() int { return s.ioRank }

// IsIOTask reports whether this rank performs backend calls.
func (s *IOSystem) IsIOTask() bool { return s.ioRank >= 0 }

// NumIOTasks returns the size of the I/O communicator, or 0 on
// compute-only tasks.
func (s *IOSystem) NumIOTasks() int {
	if s.io == nil {
		return 0
	}
	return s.io.Size()
}

// Async reports whether the system runs behind an asynchronous service.
func (s *IOSystem) Async() bool { return s.async }

// Allocator returns the buffer pool.
func (s *IOSystem) Allocator() bufpool.Allocator { return s.alloc }

// Limits returns the current limits.
func (s *IOSystem) Limits() Limits { return s.limits }

// SetLimits replaces the limits after validating them.
func (s *IOSystem) SetLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("darray: %w", err)
	}
	s.limits = l
	return nil
}

// ResetLimits restores the default limits.
func (s *IOSystem) ResetLimits() { s.limits = DefaultLimits() }

// SetBufferSizeLimit sets the non-blocking drain threshold and returns the
// previous one. A non-positive n leaves the limit unchanged.
func (s *IOSystem) SetBufferSizeLimit(n int64) int64 {
	prev := s.limits.BufferSizeLimit
	if n > 0 {
		s.limits.BufferSizeLimit = n
	}
	return prev
}

// AddDecomposition registers d under d.ID.
func (s *IOSystem) AddDecomposition(d *decomp.Decomposition) error {
	if d == nil {
		return fmt.Errorf("darray: %w: nil", ErrBadDecomposition)
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("darray: %w: %w", ErrBadDecomposition, err)
	}
	if _, dup := s.decomps[d.ID]; dup {
		return fmt.Errorf("darray: %w: id %d already registered", ErrBadDecomposition, d.ID)
	}
	s.decomps[d.ID] = d
	return nil
}

// Decomposition returns the decomposition registered under ioid.
func (s *IOSystem) Decomposition(ioid int) (*decomp.Decomposition, error) {
	d, ok := s.decomps[ioid]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrBadDecomposition, ioid)
	}
	return d, nil
}

// FreeDecomposition unregisters ioid.
func (s *IOSystem) FreeDecomposition(ioid int) error {
	if _, ok := s.decomps[ioid]; !ok {
		return fmt.Errorf("%w: id %d", ErrBadDecomposition, ioid)
	}
	delete(s.decomps, ioid)
	return nil
}
