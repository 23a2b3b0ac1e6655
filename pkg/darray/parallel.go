package darray

import (
	"context"

	"github.com/marmos91/darrayio/pkg/bufpool"
	"github.com/marmos91/darrayio/pkg/decomp"
	"github.com/marmos91/darrayio/pkg/ncio"
)

// withFrame returns start with the record index set to frame.
func withFrame(start []int, record bool, frame int) []int {
	if !record {
		return start
	}
	s := append([]int(nil), start...)
	s[0] = frame
	return s
}

// writeParallel issues one collective PutVara per (region, variable).
// Every I/O task walks max(maxRegions, 1) regions, padding with empty ones,
// so all tasks make the same number of calls.
func (f *File) writeParallel(ctx context.Context, mw multiWrite, pass string, it decomp.RegionIter, maxRegions, llen int, buf []byte) error {
	info := f.batchInfo(mw)
	size := mw.d.ElemSize()
	var written int64
	regions := 0

	for i := 0; i < max(maxRegions, 1); i++ {
		var rp *decomp.Region
		if r, ok := it.Next(); ok {
			rp = &r
			regions++
		}
		start, count := findStartCount(mw.d.Dims, info.NDims(), info.Record, rp)
		ne := elems(count)
		for nv, varid := range mw.varIDs {
			var slab []byte
			if ne > 0 {
				off := (nv*llen + rp.LOffset) * size
				slab = buf[off : off+ne*size]
			}
			s := withFrame(start, info.Record, mw.frame(nv))
			if err := f.h.PutVara(ctx, varid, s, count, slab); err != nil {
				return newError("write", f.name, varid, mw.d.ID, backendErr(err)).withBytes(int64(len(slab)))
			}
			written += int64(len(slab))
		}
	}
	f.ios.metrics.ObserveRegions(pass, regions)
	f.ios.metrics.ObserveWrite(f.mode.String(), written)
	return nil
}

// readParallel reads one variable region by region into buf, which holds
// this task's LLen elements.
func (f *File) readParallel(ctx context.Context, vs *varState, d *decomp.Decomposition, buf []byte) error {
	size := d.ElemSize()
	it := d.RegionIter()
	var read int64

	for i := 0; i < max(d.MaxRegions, 1); i++ {
		var rp *decomp.Region
		if r, ok := it.Next(); ok {
			rp = &r
		}
		start, count := findStartCount(d.Dims, vs.info.NDims(), vs.info.Record, rp)
		ne := elems(count)
		var slab []byte
		if ne > 0 {
			off := rp.LOffset * size
			slab = buf[off : off+ne*size]
		}
		s := withFrame(start, vs.info.Record, vs.frame)
		if err := f.h.GetVara(ctx, vs.info.ID, s, count, slab); err != nil {
			return newError("read", f.name, vs.info.ID, d.ID, backendErr(err)).withBytes(int64(len(slab)))
		}
		read += int64(len(slab))
	}
	f.ios.metrics.ObserveRead(f.mode.String(), read)
	return nil
}

// vectorRegions collects the non-empty regions of a list, with each
// region's element offset in the task buffer.
func vectorRegions(d *decomp.Decomposition, info ncio.VarInfo, it decomp.RegionIter, maxRegions int) (starts, counts [][]int, offs []int, total int) {
	for i := 0; i < maxRegions; i++ {
		r, ok := it.Next()
		if !ok {
			break
		}
		s, c := findStartCount(d.Dims, info.NDims(), info.Record, &r)
		n := elems(c)
		if n == 0 {
			continue
		}
		starts = append(starts, s)
		counts = append(counts, c)
		offs = append(offs, r.LOffset)
		total += n
	}
	return starts, counts, offs, total
}

// contiguous reports whether regions at offs with the given counts follow
// each other without gaps.
func contiguous(offs []int, counts [][]int) bool {
	for i := 1; i < len(offs); i++ {
		if offs[i] != offs[i-1]+elems(counts[i-1]) {
			return false
		}
	}
	return true
}

// gather returns the regions of slot as one consecutive slab. When the
// regions are already consecutive the slab aliases slot and pooled is false.
func gather(slot []byte, offs []int, counts [][]int, total, size int) (slab []byte, pooled bool) {
	if len(offs) == 0 {
		return nil, false
	}
	if contiguous(offs, counts) {
		return slot[offs[0]*size : (offs[0]+total)*size], false
	}
	slab = bufpool.Get(total * size)
	pos := 0
	for i, off := range offs {
		n := elems(counts[i]) * size
		copy(slab[pos:pos+n], slot[off*size:])
		pos += n
	}
	return slab, true
}

// writeVector issues one non-blocking IPutVarn per variable covering every
// non-empty region, and records the request. Null requests are recorded
// too, so every I/O task holds the same number of requests.
func (f *File) writeVector(ctx context.Context, mw multiWrite, pass string, it decomp.RegionIter, maxRegions, llen int, buf []byte) error {
	info := f.batchInfo(mw)
	size := mw.d.ElemSize()
	starts, counts, offs, total := vectorRegions(mw.d, info, it, maxRegions)
	growth := f.ios.limits.RequestGrowth
	var written int64

	for nv, varid := range mw.varIDs {
		vstarts := starts
		if info.Record {
			vstarts = make([][]int, len(starts))
			for i, s := range starts {
				vstarts[i] = withFrame(s, true, mw.frame(nv))
			}
		}
		var slot []byte
		if total > 0 {
			slot = buf[nv*llen*size : (nv+1)*llen*size]
		}
		slab, pooled := gather(slot, offs, counts, total, size)
		req, err := f.vec.IPutVarn(ctx, varid, vstarts, counts, slab)
		if pooled {
			bufpool.Put(slab)
		}
		if err != nil {
			return newError("write", f.name, varid, mw.d.ID, backendErr(err)).withBytes(int64(total * size))
		}
		var n int64
		if req != ncio.RequestNull {
			n = int64(total * size)
		}
		f.state[varid].addRequest(req, n, growth)
		written += n
	}
	f.ios.metrics.ObserveRegions(pass, len(starts))
	f.ios.metrics.ObserveWrite(f.mode.String(), written)
	return nil
}

// readVector reads one variable with a single IGetVarn and waits for it.
func (f *File) readVector(ctx context.Context, vs *varState, d *decomp.Decomposition, buf []byte) error {
	size := d.ElemSize()
	starts, counts, offs, total := vectorRegions(d, vs.info, d.RegionIter(), d.MaxRegions)
	if vs.info.Record {
		for i := range starts {
			starts[i][0] = vs.frame
		}
	}

	var dst []byte
	direct := contiguous(offs, counts)
	if total > 0 {
		if direct {
			dst = buf[offs[0]*size : (offs[0]+total)*size]
		} else {
			dst = bufpool.Get(total * size)
			defer bufpool.Put(dst)
		}
	}
	req, err := f.vec.IGetVarn(ctx, vs.info.ID, starts, counts, dst)
	if err == nil {
		err = f.vec.WaitAll(ctx, []ncio.Request{req})
	}
	if err != nil {
		return newError("read", f.name, vs.info.ID, d.ID, backendErr(err)).withBytes(int64(total * size))
	}
	if !direct {
		pos := 0
		for i, off := range offs {
			n := elems(counts[i]) * size
			copy(buf[off*size:off*size+n], dst[pos:pos+n])
			pos += n
		}
	}
	f.ios.metrics.ObserveRead(f.mode.String(), int64(total*size))
	return nil
}

// addRequest records a request and its size, growing the lists by growth
// entries at a time.
func (vs *varState) addRequest(req ncio.Request, n int64, growth int) {
	if len(vs.requests) == cap(vs.requests) {
		reqs := make([]ncio.Request, len(vs.requests), cap(vs.requests)+growth)
		copy(reqs, vs.requests)
		vs.requests = reqs
		sizes := make([]int64, len(vs.requestSizes), cap(vs.requests))
		copy(sizes, vs.requestSizes)
		vs.requestSizes = sizes
	}
	vs.requests = append(vs.requests, req)
	vs.requestSizes = append(vs.requestSizes, n)
	vs.pendingBytes += n
}
