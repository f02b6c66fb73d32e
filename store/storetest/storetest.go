// Package storetest provides functions for facilitating the testing of
// anything implementing the store.Store interface.
package storetest

import (
	"bytes"
	"context"
	"testing"

	"github.com/packrat-backup/packrat/store"
)

// Conformance runs the generic accessor contract against an empty store:
// round trips, kind probes, parent creation, listing, TOC calls, and
// deletes. Backends without Stat support are fine; those assertions are
// skipped when Stat reports store.ErrNotSupported.
func Conformance(t *testing.T, s store.Store) {
	ctx := context.Background()

	if k, err := s.Kind(ctx, "nothing/here"); err != nil || k != store.KindMissing {
		t.Errorf("Got (%v, %v), expected (missing, nil)", k, err)
	}
	if _, err := s.ReadBinary(ctx, "nothing/here"); err != store.ErrNotFound {
		t.Errorf("Got %v, expected ErrNotFound", err)
	}

	// writes create parents
	content := []byte("little bits")
	if err := s.WriteBinary(ctx, "a/b/c.txt", content); err != nil {
		t.Fatalf("WriteBinary: %v", err)
	}
	b, err := s.ReadBinary(ctx, "a/b/c.txt")
	if err != nil || !bytes.Equal(b, content) {
		t.Errorf("Got (%q, %v), expected (%q, nil)", b, err, content)
	}
	if k, _ := s.Kind(ctx, "a/b/c.txt"); k != store.KindFile {
		t.Errorf("Got %v, expected file", k)
	}

	// stat, where the backend supports it
	info, err := s.Stat(ctx, "a/b/c.txt")
	switch err {
	case nil:
		if info.Size != int64(len(content)) {
			t.Errorf("Got size %d, expected %d", info.Size, len(content))
		}
		if info.Kind != store.KindFile {
			t.Errorf("Got %v, expected file", info.Kind)
		}
	case store.ErrNotSupported:
	default:
		t.Errorf("Stat: %v", err)
	}

	// overwrite
	content2 := []byte("newer bits")
	if err := s.WriteBinary(ctx, "a/b/c.txt", content2); err != nil {
		t.Fatalf("WriteBinary overwrite: %v", err)
	}
	b, _ = s.ReadBinary(ctx, "a/b/c.txt")
	if !bytes.Equal(b, content2) {
		t.Errorf("Got %q, expected %q", b, content2)
	}

	// TOC round trip
	if err := s.WriteTOC(ctx, "backup-info.json", []byte("{}")); err != nil {
		t.Fatalf("WriteTOC: %v", err)
	}
	b, err = s.ReadTOC(ctx, "backup-info.json")
	if err != nil || string(b) != "{}" {
		t.Errorf("Got (%q, %v), expected ({}, nil)", b, err)
	}

	// listing
	s.WriteBinary(ctx, "a/d.txt", []byte("x"))
	keys, err := s.List(ctx, "a/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	expected := []string{"a/b/c.txt", "a/d.txt"}
	if len(keys) != len(expected) {
		t.Fatalf("Got %v, expected %v", keys, expected)
	}
	for i := range keys {
		if keys[i] != expected[i] {
			t.Errorf("Got %v, expected %v", keys, expected)
			break
		}
	}

	// delete is idempotent
	if err := s.Delete(ctx, "a/d.txt"); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "a/d.txt"); err != nil {
		t.Errorf("Delete again: %v", err)
	}
	if _, err := s.ReadBinary(ctx, "a/d.txt"); err != store.ErrNotFound {
		t.Errorf("Got %v, expected ErrNotFound", err)
	}
}
