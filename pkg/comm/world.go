package comm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Tags reserved for collectives.
const (
	tagReduce = -1 - iota
	tagReduceResult
	tagBcast
	tagGather
)

type boxKey struct {
	ctx, src, dst, tag int
}

// mailbox is an unbounded FIFO with a single consumer.
type mailbox struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) put(b []byte) {
	m.mu.Lock()
	m.items = append(m.items, b)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) take(ctx context.Context) ([]byte, error) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			b := m.items[0]
			m.items[0] = nil
			m.items = m.items[1:]
			m.mu.Unlock()
			return b, nil
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// World is an in-process job of Size ranks.
type World struct {
	size int

	mu      sync.Mutex
	boxes   map[boxKey]*mailbox
	nextCtx int
}

// NewWorld returns a world of n ranks.
func NewWorld(n int) *World {
	if n < 1 {
		panic(fmt.Sprintf("comm: world size %d", n))
	}
	return &World{size: n, boxes: make(map[boxKey]*mailbox), nextCtx: 1}
}

// Size returns the number of ranks.
func (w *World) Size() int { return w.size }

// Comm returns the world communicator as seen by rank.
func (w *World) Comm(rank int) Comm {
	members := make([]int, w.size)
	for i := range members {
		members[i] = i
	}
	return &groupComm{w: w, ctx: 0, members: members, rank: rank}
}

// Group is a subset of world ranks with its own message space. Local rank
// order follows the order of members.
type Group struct {
	w       *World
	ctx     int
	members []int
	local   map[int]int
}

// NewGroup creates a group. It must be called once, before ranks start
// using it, and members must be distinct world ranks.
func (w *World) NewGroup(members []int) *Group {
	w.mu.Lock()
	ctx := w.nextCtx
	w.nextCtx++
	w.mu.Unlock()

	g := &Group{w: w, ctx: ctx, members: append([]int(nil), members...), local: make(map[int]int, len(members))}
	for i, m := range members {
		if m < 0 || m >= w.size {
			panic(fmt.Sprintf("comm: group member %d outside world of %d", m, w.size))
		}
		if _, dup := g.local[m]; dup {
			panic(fmt.Sprintf("comm: duplicate group member %d", m))
		}
		g.local[m] = i
	}
	return g
}

// Size returns the number of members.
func (g *Group) Size() int { return len(g.members) }

// Members returns the world ranks of the group in local-rank order.
func (g *Group) Members() []int { return append([]int(nil), g.members...) }

// Comm returns the group communicator for worldRank. ok is false when
// worldRank is not a member.
func (g *Group) Comm(worldRank int) (Comm, bool) {
	r, ok := g.local[worldRank]
	if !ok {
		return nil, false
	}
	return &groupComm{w: g.w, ctx: g.ctx, members: g.members, rank: r}, true
}

func (w *World) box(k boxKey) *mailbox {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.boxes[k]
	if !ok {
		m = newMailbox()
		w.boxes[k] = m
	}
	return m
}

// Run starts one goroutine per world rank and waits for all of them. The
// first error cancels the context passed to the others.
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, c Comm) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < w.size; r++ {
		c := w.Comm(r)
		g.Go(func() error {
			if err := fn(gctx, c); err != nil {
				return fmt.Errorf("rank %d: %w", c.Rank(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

type groupComm struct {
	w       *World
	ctx     int
	members []int
	rank    int
}

func (c *groupComm) Rank() int { return c.rank }
func (c *groupComm) Size() int { return len(c.members) }

func (c *groupComm) key(src, dst, tag int) boxKey {
	return boxKey{ctx: c.ctx, src: c.members[src], dst: c.members[dst], tag: tag}
}

func (c *groupComm) checkPeer(r int) error {
	if r < 0 || r >= len(c.members) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrBadRank, r, len(c.members))
	}
	return nil
}

func (c *groupComm) Send(ctx context.Context, dst, tag int, data []byte) error {
	if tag < 0 {
		return fmt.Errorf("%w: %d", ErrBadTag, tag)
	}
	return c.send(ctx, dst, tag, data)
}

func (c *groupComm) Recv(ctx context.Context, src, tag int) ([]byte, error) {
	if tag < 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadTag, tag)
	}
	return c.recv(ctx, src, tag)
}

func (c *groupComm) send(ctx context.Context, dst, tag int, data []byte) error {
	if err := c.checkPeer(dst); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := append([]byte(nil), data...)
	c.w.box(c.key(c.rank, dst, tag)).put(msg)
	return nil
}

func (c *groupComm) recv(ctx context.Context, src, tag int) ([]byte, error) {
	if err := c.checkPeer(src); err != nil {
		return nil, err
	}
	return c.w.box(c.key(src, c.rank, tag)).take(ctx)
}

func (c *groupComm) sendInts(ctx context.Context, dst, tag int, vals []int64) error {
	b, err := encodeInts(vals)
	if err != nil {
		return err
	}
	return c.send(ctx, dst, tag, b)
}

func (c *groupComm) recvInts(ctx context.Context, src, tag int) ([]int64, error) {
	b, err := c.recv(ctx, src, tag)
	if err != nil {
		return nil, err
	}
	return decodeInts(b)
}

func (c *groupComm) Barrier(ctx context.Context) error {
	_, err := c.AllreduceMax(ctx, nil)
	return err
}

func (c *groupComm) AllreduceMax(ctx context.Context, vals []int64) ([]int64, error) {
	if c.rank != 0 {
		if err := c.sendInts(ctx, 0, tagReduce, vals); err != nil {
			return nil, err
		}
		return c.recvInts(ctx, 0, tagReduceResult)
	}

	acc := append([]int64(nil), vals...)
	for r := 1; r < len(c.members); r++ {
		in, err := c.recvInts(ctx, r, tagReduce)
		if err != nil {
			return nil, err
		}
		if len(in) != len(acc) {
			panic(fmt.Sprintf("comm: allreduce length mismatch: rank %d sent %d values, root has %d", r, len(in), len(acc)))
		}
		for i, v := range in {
			acc[i] = max(acc[i], v)
		}
	}
	for r := 1; r < len(c.members); r++ {
		if err := c.sendInts(ctx, r, tagReduceResult, acc); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func (c *groupComm) Bcast(ctx context.Context, root int, vals []int64) ([]int64, error) {
	if err := c.checkPeer(root); err != nil {
		return nil, err
	}
	if c.rank != root {
		return c.recvInts(ctx, root, tagBcast)
	}
	for r := range c.members {
		if r == root {
			continue
		}
		if err := c.sendInts(ctx, r, tagBcast, vals); err != nil {
			return nil, err
		}
	}
	return append([]int64(nil), vals...), nil
}

func (c *groupComm) Gather(ctx context.Context, root int, vals []int64) ([][]int64, error) {
	if err := c.checkPeer(root); err != nil {
		return nil, err
	}
	if c.rank != root {
		return nil, c.sendInts(ctx, root, tagGather, vals)
	}
	out := make([][]int64, len(c.members))
	out[root] = append([]int64(nil), vals...)
	for r := range c.members {
		if r == root {
			continue
		}
		in, err := c.recvInts(ctx, r, tagGather)
		if err != nil {
			return nil, err
		}
		out[r] = in
	}
	return out, nil
}
