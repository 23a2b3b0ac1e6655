package memory

import (
	"context"
	"testing"

	"github.com/marmos91/darrayio/pkg/ncio/store"
)

func TestStore_WriteAndRead(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer func() { _ = s.Close() }()

	data := []byte("hello")
	if err := s.WriteBlock(ctx, "ds/v0/r0/b0", data); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}
	data[0] = 'j'

	got, err := s.ReadBlock(ctx, "ds/v0/r0/b0")
	if err != nil {
		t.Fatalf("ReadBlock failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadBlock returned %q, want %q", got, "hello")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStore_NotFound(t *testing.T) {
	s := New()
	if _, err := s.ReadBlock(context.Background(), "missing"); err != store.ErrBlockNotFound {
		t.Errorf("ReadBlock error = %v, want %v", err, store.ErrBlockNotFound)
	}
}

func TestStore_SyncAndCancel(t *testing.T) {
	s := New()
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if s.Syncs() != 1 {
		t.Errorf("Syncs() = %d, want 1", s.Syncs())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.WriteBlock(ctx, "k", nil); err == nil {
		t.Error("WriteBlock on cancelled context succeeded")
	}
}
