package config

import (
	"fmt"

	"github.com/marmos91/darrayio/pkg/bufpool"
	"github.com/marmos91/darrayio/pkg/darray"
	"github.com/marmos91/darrayio/pkg/ncio/store"
	"github.com/marmos91/darrayio/pkg/ncio/store/badger"
	"github.com/marmos91/darrayio/pkg/ncio/store/memory"
)

// Limits converts the buffer section into engine limits.
func (c BufferConfig) Limits() darray.Limits {
	return darray.Limits{
		ComputeBufferLimit: c.ComputeLimit.Int64(),
		BufferSizeLimit:    c.SizeLimit.Int64(),
		MaxCachedIORegions: c.MaxCachedRegions,
		ReqBlockSizeLimit:  c.RequestBlockLimit.Int64(),
		IOFlushMargin:      c.FlushMargin,
		RequestGrowth:      c.RequestGrowth,
	}
}

// CreateAllocator creates a buffer pool from configuration. Every rank
// needs its own.
func CreateAllocator(cfg PoolConfig) (bufpool.Allocator, error) {
	switch cfg.Kind {
	case "heap", "":
		return bufpool.NewHeap(), nil
	case "arena":
		if cfg.Size == 0 {
			return nil, fmt.Errorf("arena pool requires size to be set")
		}
		return bufpool.NewArena(cfg.Size.Int64()), nil
	default:
		return nil, fmt.Errorf("unknown pool kind: %q", cfg.Kind)
	}
}

// CreateBlockStore creates the block store datasets persist into.
func CreateBlockStore(cfg StorageConfig) (store.BlockStore, error) {
	switch cfg.Kind {
	case "memory", "":
		return memory.New(), nil
	case "badger":
		s, err := badger.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger block store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage kind: %q", cfg.Kind)
	}
}
