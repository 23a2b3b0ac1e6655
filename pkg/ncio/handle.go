package ncio

import (
	"context"
	"fmt"
	"sync"
)

// Request identifies a queued non-blocking operation.
type Request int

// RequestNull is returned for a non-blocking call that moved no data.
// Waiting on it is a no-op.
const RequestNull Request = -1

// Access is the per-task view of an open dataset.
type Access interface {
	Mode() IOType
	Var(varid int) (VarInfo, error)
	PutVara(ctx context.Context, varid int, start, count []int, data []byte) error
	GetVara(ctx context.Context, varid int, start, count []int, dst []byte) error
	Sync(ctx context.Context) error
	Close(ctx context.Context) error
}

// VectorAccess adds non-blocking multi-region requests. Data handed to
// IPutVarn is copied into an attached buffer, so the caller may reuse it
// immediately; BufferUsage reports how much of that buffer is in use.
type VectorAccess interface {
	Access
	IPutVarn(ctx context.Context, varid int, starts, counts [][]int, data []byte) (Request, error)
	IGetVarn(ctx context.Context, varid int, starts, counts [][]int, dst []byte) (Request, error)
	WaitAll(ctx context.Context, reqs []Request) error
	BufferUsage() int64
}

type pending struct {
	varid  int
	starts [][]int
	counts [][]int
	data   []byte // staged copy for puts, caller memory for gets
	write  bool
}

// Handle is one I/O task's open view of a Dataset.
type Handle struct {
	ds     *Dataset
	mode   IOType
	ioRank int

	mu       sync.Mutex
	closed   bool
	calls    int
	next     Request
	queue    map[Request]*pending
	bufUsage int64
}

// Open returns a handle for the I/O task ioRank.
func (d *Dataset) Open(mode IOType, ioRank int) *Handle {
	return &Handle{ds: d, mode: mode, ioRank: ioRank, queue: make(map[Request]*pending)}
}

// Dataset returns the dataset behind h.
func (h *Handle) Dataset() *Dataset { return h.ds }

// Mode returns the access mode.
func (h *Handle) Mode() IOType { return h.mode }

// Calls returns the number of blocking data calls made through h.
// Collective access requires every I/O task to make the same number.
func (h *Handle) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// Var describes a variable.
func (h *Handle) Var(varid int) (VarInfo, error) {
	return h.ds.Var(varid)
}

func (h *Handle) enter(blocking bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.mode == Serial && h.ioRank != 0 {
		return fmt.Errorf("%w (task %d)", ErrNotRoot, h.ioRank)
	}
	if blocking {
		h.calls++
	}
	return nil
}

// PutVara writes one hyperslab. Zero-sized calls are accepted and only
// counted.
func (h *Handle) PutVara(ctx context.Context, varid int, start, count []int, data []byte) error {
	if err := h.enter(true); err != nil {
		return err
	}
	return h.ds.put(ctx, varid, start, count, data)
}

// GetVara reads one hyperslab into dst.
func (h *Handle) GetVara(ctx context.Context, varid int, start, count []int, dst []byte) error {
	if err := h.enter(true); err != nil {
		return err
	}
	return h.ds.get(ctx, varid, start, count, dst)
}

func (h *Handle) slabBytes(varid int, starts, counts [][]int, write bool) (int, error) {
	if len(starts) != len(counts) {
		return 0, fmt.Errorf("%w: %d starts, %d counts", ErrShape, len(starts), len(counts))
	}
	h.ds.mu.Lock()
	defer h.ds.mu.Unlock()
	v, err := h.ds.variable(varid)
	if err != nil {
		return 0, err
	}
	total := 0
	for i := range starts {
		n, err := h.ds.check(v, starts[i], counts[i], write)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total * v.typ.Size(), nil
}

func (h *Handle) enqueue(p *pending) Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.next
	h.next++
	h.queue[r] = p
	if p.write {
		h.bufUsage += int64(len(p.data))
	}
	return r
}

// IPutVarn queues a write of several hyperslabs of one variable, taking
// their data consecutively from data.
func (h *Handle) IPutVarn(ctx context.Context, varid int, starts, counts [][]int, data []byte) (Request, error) {
	if h.mode != NonBlocking {
		return RequestNull, ErrModeMismatch
	}
	if err := h.enter(false); err != nil {
		return RequestNull, err
	}
	n, err := h.slabBytes(varid, starts, counts, true)
	if err != nil {
		return RequestNull, err
	}
	if n == 0 {
		return RequestNull, nil
	}
	if len(data) < n {
		return RequestNull, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, len(data))
	}
	return h.enqueue(&pending{
		varid:  varid,
		starts: starts,
		counts: counts,
		data:   append([]byte(nil), data[:n]...),
		write:  true,
	}), nil
}

// IGetVarn queues a read of several hyperslabs into dst. dst must stay
// valid until the request is waited on.
func (h *Handle) IGetVarn(ctx context.Context, varid int, starts, counts [][]int, dst []byte) (Request, error) {
	if h.mode != NonBlocking {
		return RequestNull, ErrModeMismatch
	}
	if err := h.enter(false); err != nil {
		return RequestNull, err
	}
	n, err := h.slabBytes(varid, starts, counts, false)
	if err != nil {
		return RequestNull, err
	}
	if n == 0 {
		return RequestNull, nil
	}
	if len(dst) < n {
		return RequestNull, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, len(dst))
	}
	return h.enqueue(&pending{varid: varid, starts: starts, counts: counts, data: dst[:n]}), nil
}

// WaitAll completes reqs in order. Every request is attempted; the first
// error is returned.
func (h *Handle) WaitAll(ctx context.Context, reqs []Request) error {
	var errs []error
	for _, r := range reqs {
		if r == RequestNull {
			continue
		}
		h.mu.Lock()
		p, ok := h.queue[r]
		delete(h.queue, r)
		if ok && p.write {
			h.bufUsage -= int64(len(p.data))
		}
		h.mu.Unlock()
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %d", ErrBadRequest, r))
			continue
		}
		if err := h.complete(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (h *Handle) complete(ctx context.Context, p *pending) error {
	off := 0
	for i := range p.starts {
		n := 1
		for _, c := range p.counts[i] {
			n *= c
		}
		if n == 0 {
			continue
		}
		v, err := h.ds.Var(p.varid)
		if err != nil {
			return err
		}
		nb := n * v.Type.Size()
		if p.write {
			err = h.ds.put(ctx, p.varid, p.starts[i], p.counts[i], p.data[off:off+nb])
		} else {
			err = h.ds.get(ctx, p.varid, p.starts[i], p.counts[i], p.data[off:off+nb])
		}
		if err != nil {
			return err
		}
		off += nb
	}
	return nil
}

// BufferUsage returns the bytes staged by queued writes.
func (h *Handle) BufferUsage() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bufUsage
}

// Pending returns the number of queued requests.
func (h *Handle) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Sync flushes the dataset's store. Queued requests are not completed.
func (h *Handle) Sync(ctx context.Context) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return h.ds.Sync(ctx)
}

// Close completes any queued requests and closes the handle.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	reqs := make([]Request, 0, len(h.queue))
	for r := Request(0); r < h.next; r++ {
		if _, ok := h.queue[r]; ok {
			reqs = append(reqs, r)
		}
	}
	h.mu.Unlock()

	err := h.WaitAll(ctx, reqs)

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

var (
	_ Access       = (*Handle)(nil)
	_ VectorAccess = (*Handle)(nil)
)
