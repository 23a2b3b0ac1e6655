package rearrange

import (
	"context"
	"fmt"

	"github.com/marmos91/darrayio/pkg/bufpool"
	"github.com/marmos91/darrayio/pkg/comm"
	"github.com/marmos91/darrayio/pkg/decomp"
)

// TagBase is the first message tag used by rearrangement traffic. Each
// decomposition uses TagBase+2*ioid and TagBase+2*ioid+1.
const TagBase = 1 << 20

// Mover is the decomp.Rearranger of one rank.
type Mover struct {
	plan   *Plan
	c      comm.Comm
	ioRank int
}

var _ decomp.Rearranger = (*Mover)(nil)

func (m *Mover) tags() (comp2io, io2comp int) {
	base := TagBase + 2*m.plan.spec.IOID
	return base, base + 1
}

// Comp2IO sends this rank's elements to their I/O tasks, then, on I/O
// tasks, receives every contribution into dst.
func (m *Mover) Comp2IO(ctx context.Context, d *decomp.Decomposition, src, dst []byte, nvars int) error {
	size := d.ElemSize()
	tag, _ := m.tags()
	r := m.c.Rank()

	if need := nvars * d.NDof * size; len(src) < need {
		return fmt.Errorf("rearrange: comp2io source has %d bytes, need %d", len(src), need)
	}
	for k, idx := range m.plan.send[r] {
		if len(idx) == 0 {
			continue
		}
		msg := bufpool.Get(nvars * len(idx) * size)
		for v := 0; v < nvars; v++ {
			base := v * d.NDof
			for j, i := range idx {
				copy(msg[(v*len(idx)+j)*size:], src[(base+i)*size:(base+i+1)*size])
			}
		}
		err := m.c.Send(ctx, m.plan.spec.IOTasks[k], tag, msg)
		bufpool.Put(msg)
		if err != nil {
			return fmt.Errorf("rearrange: send to I/O task %d: %w", k, err)
		}
	}

	if m.ioRank < 0 {
		return nil
	}
	if need := nvars * d.LLen * size; len(dst) < need {
		return fmt.Errorf("rearrange: comp2io destination has %d bytes, need %d", len(dst), need)
	}
	for s, offs := range m.plan.recv[m.ioRank] {
		if len(offs) == 0 {
			continue
		}
		msg, err := m.c.Recv(ctx, s, tag)
		if err != nil {
			return fmt.Errorf("rearrange: receive from rank %d: %w", s, err)
		}
		if len(msg) != nvars*len(offs)*size {
			return fmt.Errorf("rearrange: rank %d sent %d bytes, want %d", s, len(msg), nvars*len(offs)*size)
		}
		for v := 0; v < nvars; v++ {
			base := v * d.LLen
			for j, off := range offs {
				copy(dst[(base+off)*size:(base+off+1)*size], msg[(v*len(offs)+j)*size:])
			}
		}
	}
	return nil
}

// IO2Comp sends each rank its elements from an I/O task's buffer, then
// scatters what this rank receives into dst. Local elements that map nowhere
// are left untouched.
func (m *Mover) IO2Comp(ctx context.Context, d *decomp.Decomposition, src, dst []byte) error {
	size := d.ElemSize()
	_, tag := m.tags()
	r := m.c.Rank()

	if m.ioRank >= 0 {
		if len(src) < d.LLen*size {
			return fmt.Errorf("rearrange: io2comp source has %d bytes, need %d", len(src), d.LLen*size)
		}
		for s, offs := range m.plan.recv[m.ioRank] {
			if len(offs) == 0 {
				continue
			}
			msg := bufpool.Get(len(offs) * size)
			for j, off := range offs {
				copy(msg[j*size:], src[off*size:(off+1)*size])
			}
			err := m.c.Send(ctx, s, tag, msg)
			bufpool.Put(msg)
			if err != nil {
				return fmt.Errorf("rearrange: send to rank %d: %w", s, err)
			}
		}
	}

	if len(dst) < d.NDof*size {
		return fmt.Errorf("rearrange: io2comp destination has %d bytes, need %d", len(dst), d.NDof*size)
	}
	for k, idx := range m.plan.send[r] {
		if len(idx) == 0 {
			continue
		}
		msg, err := m.c.Recv(ctx, m.plan.spec.IOTasks[k], tag)
		if err != nil {
			return fmt.Errorf("rearrange: receive from I/O task %d: %w", k, err)
		}
		if len(msg) != len(idx)*size {
			return fmt.Errorf("rearrange: I/O task %d sent %d bytes, want %d", k, len(msg), len(idx)*size)
		}
		for j, i := range idx {
			copy(dst[i*size:(i+1)*size], msg[j*size:])
		}
	}
	return nil
}
