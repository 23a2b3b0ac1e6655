package darray

import (
	"context"
	"fmt"
	"sort"

	"github.com/marmos91/darrayio/internal/logger"
	"github.com/marmos91/darrayio/pkg/ncio"
)

// RequestBlocks partitions a flattened request list into consecutive
// blocks; block i covers requests Starts[i] through Ends[i] inclusive.
type RequestBlocks struct {
	Starts []int
	Ends   []int
}

// Len returns the number of blocks.
func (b RequestBlocks) Len() int { return len(b.Starts) }

func (b RequestBlocks) encode() []int64 {
	msg := make([]int64, 0, 1+2*len(b.Starts))
	msg = append(msg, int64(len(b.Starts)))
	msg = append(msg, toInt64s(b.Starts)...)
	return append(msg, toInt64s(b.Ends)...)
}

func decodeBlocks(msg []int64) (RequestBlocks, error) {
	if len(msg) == 0 || int64(len(msg)) != 1+2*msg[0] {
		return RequestBlocks{}, fmt.Errorf("malformed request block message of %d words", len(msg))
	}
	n := int(msg[0])
	return RequestBlocks{Starts: toInts(msg[1 : 1+n]), Ends: toInts(msg[1+n:])}, nil
}

// planBlocks partitions requests given the size of every request on every
// I/O task (sizes[rank][request]). The running size of a block, summed over
// tasks, never exceeds limit unless the block holds a single request whose
// own aggregate is over the limit; such requests are isolated and their
// indices returned in oversize.
//
// The bound is on the aggregate, not on each task's share: sizes
// [[200, 0], [0, 200]] with limit 300 give two blocks, although neither
// task alone would reach the limit.
func planBlocks(sizes [][]int64, limit int64) (b RequestBlocks, oversize []int) {
	if len(sizes) == 0 {
		return b, nil
	}
	n := len(sizes[0])
	running := make([]int64, len(sizes))
	start := 0
	closeAt := func(end int) {
		if end >= start {
			b.Starts = append(b.Starts, start)
			b.Ends = append(b.Ends, end)
		}
	}

	for i := 0; i < n; i++ {
		var agg, cur int64
		for r := range sizes {
			agg += sizes[r][i]
			cur += running[r]
		}
		if agg > limit {
			closeAt(i - 1)
			b.Starts = append(b.Starts, i)
			b.Ends = append(b.Ends, i)
			oversize = append(oversize, i)
			start = i + 1
			clear(running)
			continue
		}
		if cur+agg > limit {
			closeAt(i - 1)
			start = i
			clear(running)
		}
		for r := range sizes {
			running[r] += sizes[r][i]
		}
	}
	closeAt(n - 1)
	return b, oversize
}

// flattenRequests lists this task's outstanding requests by ascending
// variable id, then issue order.
func (f *File) flattenRequests() ([]ncio.Request, []int64) {
	ids := make([]int, 0, len(f.state))
	for id, vs := range f.state {
		if len(vs.requests) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	var reqs []ncio.Request
	var sizes []int64
	for _, id := range ids {
		vs := f.state[id]
		reqs = append(reqs, vs.requests...)
		sizes = append(sizes, vs.requestSizes...)
	}
	return reqs, sizes
}

// requestBlocks agrees on a block partition of the outstanding requests.
// Collective over the I/O communicator; every task gets the same blocks.
func (f *File) requestBlocks(ctx context.Context, sizes []int64) (RequestBlocks, error) {
	io := f.ios.io
	n := len(sizes)

	ext, err := io.AllreduceMax(ctx, []int64{int64(n), -int64(n)})
	if err != nil {
		return RequestBlocks{}, fmt.Errorf("reduce request counts: %w", err)
	}
	if ext[0] != -ext[1] {
		return RequestBlocks{}, fmt.Errorf("%w: between %d and %d", ErrRequestCountMismatch, -ext[1], ext[0])
	}
	switch n {
	case 0:
		return RequestBlocks{}, nil
	case 1:
		return RequestBlocks{Starts: []int{0}, Ends: []int{0}}, nil
	}

	all, err := io.Gather(ctx, 0, sizes)
	if err != nil {
		return RequestBlocks{}, fmt.Errorf("gather request sizes: %w", err)
	}
	var msg []int64
	if io.Rank() == 0 {
		limit := f.ios.limits.ReqBlockSizeLimit
		b, oversize := planBlocks(all, limit)
		for _, i := range oversize {
			var agg int64
			for r := range all {
				agg += all[r][i]
			}
			logger.Warn("request exceeds block size limit, waiting on it alone", f.logAttrs(
				logger.KeyBlock, i,
				logger.Bytes(agg),
				logger.KeyLimit, limit)...)
		}
		msg = b.encode()
	}
	msg, err = io.Bcast(ctx, 0, msg)
	if err != nil {
		return RequestBlocks{}, fmt.Errorf("broadcast request blocks: %w", err)
	}
	return decodeBlocks(msg)
}
