package store

import (
	"context"
	"strings"
	"time"
)

// NewWithPrefix wraps s in a store whose paths all live under prefix. It is
// how an accessor is bound to one subtree of a larger tree, for example a
// backup destination folder inside the vault itself, or a staging folder
// restores are unpacked into.
func NewWithPrefix(s Store, prefix string) Store {
	prefix = normalize(prefix)
	if prefix != "" {
		prefix += "/"
	}
	return prefixstore{s: s, p: prefix}
}

type prefixstore struct {
	s Store  // the store being wrapped
	p string // the prefix for our keys, "" or ending in a slash
}

func (ps prefixstore) Kind(ctx context.Context, p string) (Kind, error) {
	return ps.s.Kind(ctx, ps.p+normalize(p))
}

func (ps prefixstore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := ps.s.List(ctx, ps.p+prefix)
	result := keys[:0]
	for _, key := range keys {
		if strings.HasPrefix(key, ps.p) {
			result = append(result, key[len(ps.p):])
		}
	}
	return result, err
}

func (ps prefixstore) ReadBinary(ctx context.Context, p string) ([]byte, error) {
	return ps.s.ReadBinary(ctx, ps.p+normalize(p))
}

func (ps prefixstore) WriteBinary(ctx context.Context, p string, data []byte) error {
	return ps.s.WriteBinary(ctx, ps.p+normalize(p), data)
}

func (ps prefixstore) ReadTOC(ctx context.Context, p string) ([]byte, error) {
	return ps.s.ReadTOC(ctx, ps.p+normalize(p))
}

func (ps prefixstore) WriteTOC(ctx context.Context, p string, data []byte) error {
	return ps.s.WriteTOC(ctx, ps.p+normalize(p), data)
}

func (ps prefixstore) Stat(ctx context.Context, p string) (Info, error) {
	return ps.s.Stat(ctx, ps.p+normalize(p))
}

func (ps prefixstore) EnsureDir(ctx context.Context, p string) error {
	return ps.s.EnsureDir(ctx, ps.p+normalize(p))
}

func (ps prefixstore) Delete(ctx context.Context, p string) error {
	return ps.s.Delete(ctx, ps.p+normalize(p))
}

func (ps prefixstore) NormalizePath(p string) string {
	return ps.s.NormalizePath(p)
}

// SetFile forwards to the wrapped store when it can stamp times.
func (ps prefixstore) SetFile(p string, data []byte, mtime time.Time) error {
	if fs, ok := ps.s.(FileSetter); ok {
		return fs.SetFile(ps.p+normalize(p), data, mtime)
	}
	return ps.s.WriteBinary(context.Background(), ps.p+normalize(p), data)
}
