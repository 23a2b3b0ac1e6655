// Package comm is a minimal message-passing layer for SPMD jobs: ranks,
// tagged point-to-point messages and the handful of collectives the
// distributed-array engine needs. World runs every rank as a goroutine in
// one process.
package comm

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

var (
	// ErrBadRank is returned for a peer outside the communicator.
	ErrBadRank = errors.New("comm: rank out of range")
	// ErrBadTag is returned for negative user tags, which are reserved for
	// collectives.
	ErrBadTag = errors.New("comm: negative tag")
)

// Comm is a communicator: an ordered group of ranks that exchange messages.
//
// Messages between a (source, destination, tag) triple are delivered in the
// order they were sent. Send never blocks; Recv blocks until a matching
// message arrives or ctx is done. Every collective must be called by all
// ranks of the communicator in the same order.
type Comm interface {
	Rank() int
	Size() int

	Send(ctx context.Context, dst, tag int, data []byte) error
	Recv(ctx context.Context, src, tag int) ([]byte, error)

	Barrier(ctx context.Context) error
	// AllreduceMax returns the element-wise maximum of vals over all ranks.
	AllreduceMax(ctx context.Context, vals []int64) ([]int64, error)
	// Bcast returns root's vals on every rank.
	Bcast(ctx context.Context, root int, vals []int64) ([]int64, error)
	// Gather returns, on root, the vals of every rank indexed by rank; other
	// ranks get nil.
	Gather(ctx context.Context, root int, vals []int64) ([][]int64, error)
}

// SendInts sends vals to dst as one XDR-encoded message.
func SendInts(ctx context.Context, c Comm, dst, tag int, vals []int64) error {
	b, err := encodeInts(vals)
	if err != nil {
		return err
	}
	return c.Send(ctx, dst, tag, b)
}

// RecvInts receives one message sent with SendInts.
func RecvInts(ctx context.Context, c Comm, src, tag int) ([]int64, error) {
	b, err := c.Recv(ctx, src, tag)
	if err != nil {
		return nil, err
	}
	return decodeInts(b)
}

// AllreduceMaxInt64 reduces a single value.
func AllreduceMaxInt64(ctx context.Context, c Comm, v int64) (int64, error) {
	out, err := c.AllreduceMax(ctx, []int64{v})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

func encodeInts(vals []int64) ([]byte, error) {
	if vals == nil {
		vals = []int64{}
	}
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, vals); err != nil {
		return nil, fmt.Errorf("comm: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeInts(b []byte) ([]int64, error) {
	var vals []int64
	if _, err := xdr.Unmarshal(bytes.NewReader(b), &vals); err != nil {
		return nil, fmt.Errorf("comm: decode: %w", err)
	}
	return vals, nil
}
