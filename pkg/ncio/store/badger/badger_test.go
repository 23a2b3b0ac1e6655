package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/darrayio/pkg/ncio/store"
)

func TestStore_InMemory(t *testing.T) {
	ctx := context.Background()
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.WriteBlock(ctx, "a/v1/r0/b3", []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}
	got, err := s.ReadBlock(ctx, "a/v1/r0/b3")
	if err != nil {
		t.Fatalf("ReadBlock failed: %v", err)
	}
	if string(got) != string([]byte{1, 2, 3}) {
		t.Errorf("ReadBlock = %v, want [1 2 3]", got)
	}

	if _, err := s.ReadBlock(ctx, "a/v1/r0/b4"); !errors.Is(err, store.ErrBlockNotFound) {
		t.Errorf("ReadBlock missing error = %v, want ErrBlockNotFound", err)
	}
	if err := s.Sync(ctx); err != nil {
		t.Errorf("Sync failed: %v", err)
	}
}

func TestStore_OnDiskPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.WriteBlock(ctx, "k", []byte("payload")); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}
	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = s.Close() }()
	got, err := s.ReadBlock(ctx, "k")
	if err != nil {
		t.Fatalf("ReadBlock after reopen failed: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("ReadBlock = %q, want payload", got)
	}
}
