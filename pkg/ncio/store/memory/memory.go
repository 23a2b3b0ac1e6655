// Package memory is an in-process BlockStore.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/darrayio/pkg/ncio/store"
)

// Store keeps blocks in a map.
type Store struct {
	mu     sync.RWMutex
	blocks map[string][]byte
	syncs  int
}

// New returns an empty Store.
func New() *Store {
	return &Store{blocks: make(map[string][]byte)}
}

// WriteBlock stores a copy of data under key.
func (s *Store) WriteBlock(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[key] = append([]byte(nil), data...)
	return nil
}

// ReadBlock returns a copy of the block under key.
func (s *Store) ReadBlock(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[key]
	if !ok {
		return nil, store.ErrBlockNotFound
	}
	return append([]byte(nil), b...), nil
}

// Sync counts calls; memory needs no flushing.
func (s *Store) Sync(ctx context.Context) error {
	s.mu.Lock()
	s.syncs++
	s.mu.Unlock()
	return ctx.Err()
}

// Syncs returns the number of Sync calls.
func (s *Store) Syncs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncs
}

// Len returns the number of stored blocks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

// Close drops all blocks.
func (s *Store) Close() error {
	s.mu.Lock()
	s.blocks = make(map[string][]byte)
	s.mu.Unlock()
	return nil
}

var _ store.BlockStore = (*Store)(nil)
