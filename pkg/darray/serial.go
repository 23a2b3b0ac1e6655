package darray

import (
	"context"
	"fmt"

	"github.com/marmos91/darrayio/pkg/bufpool"
	"github.com/marmos91/darrayio/pkg/comm"
	"github.com/marmos91/darrayio/pkg/decomp"
)

// Message tags of the serial path on the I/O communicator.
const (
	tagWriteGo = iota + 1
	tagWriteLen
	tagWriteNRegions
	tagWriteStarts
	tagWriteCounts
	tagWriteData

	tagReadGo
	tagReadLen
	tagReadNRegions
	tagReadStarts
	tagReadCounts
	tagReadData
)

func toInt64s(v []int) []int64 {
	out := make([]int64, len(v))
	for i, x := range v {
		out[i] = int64(x)
	}
	return out
}

func toInts(v []int64) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}

// slabPlan is the region metadata one I/O task contributes to the serial
// path: nregions hyperslabs of fndims entries each, flattened.
type slabPlan struct {
	llen     int
	nregions int
	starts   []int
	counts   []int
}

func (p slabPlan) region(j, fndims int) (start, count []int) {
	return p.starts[j*fndims : (j+1)*fndims], p.counts[j*fndims : (j+1)*fndims]
}

// sendPlan ships a task's llen and, when non-zero, its regions to task 0.
func sendPlan(ctx context.Context, io comm.Comm, p slabPlan, tagLen int) error {
	if err := comm.SendInts(ctx, io, 0, tagLen, []int64{int64(p.llen)}); err != nil {
		return err
	}
	if p.llen == 0 {
		return nil
	}
	if err := comm.SendInts(ctx, io, 0, tagLen+1, []int64{int64(p.nregions)}); err != nil {
		return err
	}
	if err := comm.SendInts(ctx, io, 0, tagLen+2, toInt64s(p.starts)); err != nil {
		return err
	}
	return comm.SendInts(ctx, io, 0, tagLen+3, toInt64s(p.counts))
}

// recvPlan receives what sendPlan sent from rank r.
func recvPlan(ctx context.Context, io comm.Comm, r, tagLen int) (slabPlan, error) {
	var p slabPlan
	n, err := comm.RecvInts(ctx, io, r, tagLen)
	if err != nil {
		return p, err
	}
	if len(n) != 1 {
		return p, fmt.Errorf("serial: malformed length message from task %d", r)
	}
	p.llen = int(n[0])
	if p.llen == 0 {
		return p, nil
	}
	nr, err := comm.RecvInts(ctx, io, r, tagLen+1)
	if err != nil {
		return p, err
	}
	if len(nr) != 1 {
		return p, fmt.Errorf("serial: malformed region count from task %d", r)
	}
	p.nregions = int(nr[0])
	st, err := comm.RecvInts(ctx, io, r, tagLen+2)
	if err != nil {
		return p, err
	}
	ct, err := comm.RecvInts(ctx, io, r, tagLen+3)
	if err != nil {
		return p, err
	}
	p.starts, p.counts = toInts(st), toInts(ct)
	return p, nil
}

// writeSerial funnels every I/O task's data through I/O task 0, which
// writes its own regions and then each other task's in ascending rank
// order. A task only sends after task 0 asks for its data, so the output
// does not depend on message arrival order.
func (f *File) writeSerial(ctx context.Context, mw multiWrite, pass string, it decomp.RegionIter, maxRegions, llen int, buf []byte) error {
	info := f.batchInfo(mw)
	fndims := info.NDims()
	size := mw.d.ElemSize()
	nvars := len(mw.varIDs)
	io := f.ios.io

	starts, counts, nregions := findAllStartCount(mw.d.Dims, fndims, info.Record, it, maxRegions)
	own := slabPlan{llen: llen, nregions: nregions, starts: starts, counts: counts}

	if io.Rank() != 0 {
		if _, err := comm.RecvInts(ctx, io, 0, tagWriteGo); err != nil {
			return newError("write", f.name, -1, mw.d.ID, fmt.Errorf("serial handshake: %w", err))
		}
		if err := sendPlan(ctx, io, own, tagWriteLen); err != nil {
			return newError("write", f.name, -1, mw.d.ID, fmt.Errorf("serial send: %w", err))
		}
		if llen > 0 {
			if err := io.Send(ctx, 0, tagWriteData, buf[:nvars*llen*size]); err != nil {
				return newError("write", f.name, -1, mw.d.ID, fmt.Errorf("serial send: %w", err))
			}
		}
		return nil
	}

	// Task 0 keeps the protocol going after a backend failure so that the
	// other tasks are not left waiting.
	firstErr := f.putSlabs(ctx, mw, fndims, own, buf)
	regions := nregions
	for r := 1; r < io.Size(); r++ {
		if err := comm.SendInts(ctx, io, r, tagWriteGo, []int64{0}); err != nil {
			return newError("write", f.name, -1, mw.d.ID, fmt.Errorf("serial handshake: %w", err))
		}
		p, err := recvPlan(ctx, io, r, tagWriteLen)
		if err != nil {
			return newError("write", f.name, -1, mw.d.ID, fmt.Errorf("serial receive: %w", err))
		}
		if p.llen == 0 {
			continue
		}
		data, err := io.Recv(ctx, r, tagWriteData)
		if err != nil {
			return newError("write", f.name, -1, mw.d.ID, fmt.Errorf("serial receive: %w", err))
		}
		if firstErr == nil {
			firstErr = f.putSlabs(ctx, mw, fndims, p, data)
		}
		regions += p.nregions
	}
	f.ios.metrics.ObserveRegions(pass, regions)
	return firstErr
}

// putSlabs writes the regions of one task. Each variable's data starts at
// nv*llen elements into data; regions follow each other within it.
func (f *File) putSlabs(ctx context.Context, mw multiWrite, fndims int, p slabPlan, data []byte) error {
	info := f.batchInfo(mw)
	size := mw.d.ElemSize()
	if len(data) < len(mw.varIDs)*p.llen*size {
		return newError("write", f.name, -1, mw.d.ID,
			fmt.Errorf("serial: %d bytes for %d variables of %d elements", len(data), len(mw.varIDs), p.llen))
	}
	var written int64
	off := 0
	for j := 0; j < p.nregions; j++ {
		start, count := p.region(j, fndims)
		ne := elems(count)
		if ne == 0 {
			continue
		}
		for nv, varid := range mw.varIDs {
			pos := (nv*p.llen + off) * size
			slab := data[pos : pos+ne*size]
			s := withFrame(start, info.Record, mw.frame(nv))
			if err := f.h.PutVara(ctx, varid, s, count, slab); err != nil {
				return newError("write", f.name, varid, mw.d.ID, backendErr(err)).withBytes(int64(len(slab)))
			}
			written += int64(len(slab))
		}
		off += ne
	}
	f.ios.metrics.ObserveWrite(f.mode.String(), written)
	return nil
}

// readSerial mirrors writeSerial: task 0 reads every task's regions in
// ascending rank order and ships each its data back.
func (f *File) readSerial(ctx context.Context, vs *varState, d *decomp.Decomposition, buf []byte) error {
	fndims := vs.info.NDims()
	size := d.ElemSize()
	io := f.ios.io

	starts, counts, nregions := findAllStartCount(d.Dims, fndims, vs.info.Record, d.RegionIter(), d.MaxRegions)
	own := slabPlan{llen: d.LLen, nregions: nregions, starts: starts, counts: counts}

	if io.Rank() != 0 {
		if _, err := comm.RecvInts(ctx, io, 0, tagReadGo); err != nil {
			return newError("read", f.name, vs.info.ID, d.ID, fmt.Errorf("serial handshake: %w", err))
		}
		if err := sendPlan(ctx, io, own, tagReadLen); err != nil {
			return newError("read", f.name, vs.info.ID, d.ID, fmt.Errorf("serial send: %w", err))
		}
		if own.llen == 0 {
			return nil
		}
		data, err := io.Recv(ctx, 0, tagReadData)
		if err != nil {
			return newError("read", f.name, vs.info.ID, d.ID, fmt.Errorf("serial receive: %w", err))
		}
		copy(buf, data)
		return nil
	}

	firstErr := f.getSlabs(ctx, vs, d, fndims, own, buf)
	for r := 1; r < io.Size(); r++ {
		if err := comm.SendInts(ctx, io, r, tagReadGo, []int64{0}); err != nil {
			return newError("read", f.name, vs.info.ID, d.ID, fmt.Errorf("serial handshake: %w", err))
		}
		p, err := recvPlan(ctx, io, r, tagReadLen)
		if err != nil {
			return newError("read", f.name, vs.info.ID, d.ID, fmt.Errorf("serial receive: %w", err))
		}
		if p.llen == 0 {
			continue
		}
		tmp := bufpool.Get(p.llen * size)
		clear(tmp)
		if firstErr == nil {
			firstErr = f.getSlabs(ctx, vs, d, fndims, p, tmp)
		}
		err = io.Send(ctx, r, tagReadData, tmp)
		bufpool.Put(tmp)
		if err != nil {
			return newError("read", f.name, vs.info.ID, d.ID, fmt.Errorf("serial send: %w", err))
		}
	}
	return firstErr
}

// getSlabs reads the regions of one task into dst, regions following each
// other.
func (f *File) getSlabs(ctx context.Context, vs *varState, d *decomp.Decomposition, fndims int, p slabPlan, dst []byte) error {
	size := d.ElemSize()
	var read int64
	off := 0
	for j := 0; j < p.nregions; j++ {
		start, count := p.region(j, fndims)
		ne := elems(count)
		if ne == 0 {
			continue
		}
		slab := dst[off*size : (off+ne)*size]
		s := withFrame(start, vs.info.Record, vs.frame)
		if err := f.h.GetVara(ctx, vs.info.ID, s, count, slab); err != nil {
			return newError("read", f.name, vs.info.ID, d.ID, backendErr(err)).withBytes(int64(len(slab)))
		}
		read += int64(len(slab))
		off += ne
	}
	f.ios.metrics.ObserveRead(f.mode.String(), read)
	return nil
}
