package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/packrat-backup/packrat/openssl"
)

func TestEncryptedRoundTrip(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	es := NewEncrypted(base, openssl.New("hunter2"))

	content := []byte("family photos, very important")
	if err := es.WriteBinary(ctx, "a.zip", content); err != nil {
		t.Fatalf("WriteBinary: %v", err)
	}

	// what was stored is not the plaintext
	raw, err := base.ReadBinary(ctx, "a.zip")
	if err != nil {
		t.Fatalf("ReadBinary: %v", err)
	}
	if bytes.Contains(raw, content) {
		t.Errorf("stored bytes contain the plaintext")
	}
	if !bytes.HasPrefix(raw, []byte("Salted__")) {
		t.Errorf("Got prefix %q, expected Salted__", raw[:8])
	}

	b, err := es.ReadBinary(ctx, "a.zip")
	if err != nil || !bytes.Equal(b, content) {
		t.Errorf("Got (%q, %v), expected the plaintext back", b, err)
	}
}

func TestEncryptedTOC(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	es := NewEncrypted(base, openssl.NewPBKDF2("hunter2"))

	if err := es.WriteTOC(ctx, "backup-info.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("WriteTOC: %v", err)
	}
	b, err := es.ReadTOC(ctx, "backup-info.json")
	if err != nil || string(b) != `{"a":1}` {
		t.Errorf("Got (%q, %v), expected the JSON back", b, err)
	}
}

func TestEncryptedNotFound(t *testing.T) {
	ctx := context.Background()
	es := NewEncrypted(NewMemory(), openssl.New("hunter2"))

	if _, err := es.ReadBinary(ctx, "missing"); err != ErrNotFound {
		t.Errorf("Got %v, expected ErrNotFound", err)
	}
}

func TestEncryptedGarbage(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	es := NewEncrypted(base, openssl.New("hunter2"))

	// a file written without encryption cannot be read back through the
	// decorator
	base.WriteBinary(ctx, "plain.txt", []byte("not encrypted"))
	if _, err := es.ReadBinary(ctx, "plain.txt"); err == nil {
		t.Errorf("Got nil, expected an error")
	}
}
