package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLocalStore_PutGetRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if err := s.Put(ctx, "a/b/c.txt", strings.NewReader("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}

	rc, err := s.Get(ctx, "a/b/c.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
}

func TestLocalStore_GetMissingReturnsErrNotFound(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, err = s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalStore_RejectsPathTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := s.Put(ctx, "../escape.txt", strings.NewReader("x")); err == nil {
		t.Fatal("expected an error for a traversal key")
	}
}

func TestLocalStore_ExistsAndDelete(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	ok, err := s.Exists(ctx, "k")
	if err != nil || ok {
		t.Fatalf("expected false before Put, got ok=%v err=%v", ok, err)
	}

	if err := s.Put(ctx, "k", strings.NewReader("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err = s.Exists(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected true after Put, got ok=%v err=%v", ok, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = s.Exists(ctx, "k")
	if err != nil || ok {
		t.Fatalf("expected false after Delete, got ok=%v err=%v", ok, err)
	}
}
