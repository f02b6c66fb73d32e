package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSystemPathConflict(t *testing.T) {
	ctx := context.Background()
	s := NewFileSystem(t.TempDir())

	if err := s.WriteBinary(ctx, "archives/2024/a.zip", []byte("a")); err != nil {
		t.Fatalf("WriteBinary: %v", err)
	}
	if err := s.WriteBinary(ctx, "archives/2024", []byte("b")); err != ErrPathConflict {
		t.Errorf("Got %v, expected ErrPathConflict", err)
	}
}

func TestFileSystemListMissingRoot(t *testing.T) {
	ctx := context.Background()
	s := NewFileSystem(filepath.Join(t.TempDir(), "does-not-exist"))

	keys, err := s.List(ctx, "")
	if err != nil {
		t.Errorf("Got %v, expected nil", err)
	}
	if len(keys) != 0 {
		t.Errorf("Got %v, expected no entries", keys)
	}
}

func TestFileSystemBackslashPaths(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := NewFileSystem(root)

	if err := s.WriteBinary(ctx, `a\b\c.txt`, []byte("c")); err != nil {
		t.Fatalf("WriteBinary: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a", "b", "c.txt")); err != nil {
		t.Errorf("Stat: %v", err)
	}
	b, err := s.ReadBinary(ctx, "a/b/c.txt")
	if err != nil || string(b) != "c" {
		t.Errorf("Got (%q, %v), expected (c, nil)", b, err)
	}
}

func TestFileSystemEnsureDir(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := NewFileSystem(root)

	if err := s.EnsureDir(ctx, "x/y/z"); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	k, err := s.Kind(ctx, "x/y/z")
	if err != nil || k != KindFolder {
		t.Errorf("Got (%v, %v), expected (folder, nil)", k, err)
	}
	// a second call is fine
	if err := s.EnsureDir(ctx, "x/y/z"); err != nil {
		t.Errorf("EnsureDir again: %v", err)
	}
}
