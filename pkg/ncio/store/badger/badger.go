// Package badger is a BlockStore backed by BadgerDB.
//
// Keys are namespaced under "blk:" so a database can be shared with other
// data. An empty path opens an in-memory database.
package badger

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/darrayio/internal/logger"
	"github.com/marmos91/darrayio/pkg/ncio/store"
)

const prefixBlock = "blk:"

// Store is a BlockStore over a BadgerDB instance.
type Store struct {
	db   *badgerdb.DB
	path string
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	opts := badgerdb.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %q: %w", path, err)
	}
	logger.Debug("badger block store opened", logger.KeyStore, storeName(path))
	return &Store{db: db, path: path}, nil
}

func storeName(path string) string {
	if path == "" {
		return "memory"
	}
	return path
}

func keyBlock(key string) []byte {
	return []byte(prefixBlock + key)
}

// WriteBlock stores data under key in its own transaction.
func (s *Store) WriteBlock(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyBlock(key), append([]byte(nil), data...))
	})
	if err != nil {
		return fmt.Errorf("failed to write block %q: %w", key, err)
	}
	return nil
}

// ReadBlock returns the block under key.
func (s *Store) ReadBlock(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyBlock(key))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return store.ErrBlockNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, store.ErrBlockNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read block %q: %w", key, err)
	}
	return out, nil
}

// Sync flushes the value log to disk. It is a no-op in memory mode.
func (s *Store) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.path == "" {
		return nil
	}
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("failed to sync badger store: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.BlockStore = (*Store)(nil)
