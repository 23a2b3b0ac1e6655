// Package store defines the block storage a dataset persists variable data
// into. A block is an opaque, fixed-size slab of one variable record;
// datasets handle the read-modify-write of partial blocks.
package store

import (
	"context"
	"errors"
)

// ErrBlockNotFound is returned by ReadBlock for a key that was never written.
var ErrBlockNotFound = errors.New("store: block not found")

// BlockStore persists blocks by key. Implementations must be safe for
// concurrent use.
type BlockStore interface {
	WriteBlock(ctx context.Context, key string, data []byte) error
	ReadBlock(ctx context.Context, key string) ([]byte, error)
	Sync(ctx context.Context) error
	Close() error
}
