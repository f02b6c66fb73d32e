// Package store provides a uniform byte-level interface over the
// heterogeneous places a vault and its backups can live: the in-process
// hierarchical tree of the embedding application, an ordinary filesystem,
// and a flat remote object store.
//
// Paths are relative, slash separated, and case sensitive no matter the
// backend; each backend maps them onto its own addressing internally. A
// store instance is a stateless facade bound to one backend and base
// location, safe to reuse across calls.
//
// Cross-cutting concerns are layered on as decorators: NewWithPrefix binds
// a store to a subtree, and NewEncrypted adds transparent passphrase
// encryption. Backends stay orthogonal to both.
package store

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// Kind classifies what occupies a path.
type Kind int

const (
	KindMissing Kind = iota
	KindFile
	KindFolder
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	}
	return "missing"
}

var (
	// ErrNotFound means the path names nothing. It is not fatal; readers
	// treat it as "nothing to read".
	ErrNotFound = errors.New("path not found")

	// ErrNotSupported is returned by Stat on backends that keep no
	// per-object metadata, such as a flat object store.
	ErrNotSupported = errors.New("operation not supported by this backend")

	// ErrPathConflict means a write target collides with an existing entry
	// of an incompatible kind, such as a file write onto a folder. It is
	// never auto-resolved.
	ErrPathConflict = errors.New("path conflicts with an existing entry")
)

// Info describes a single stored file.
type Info struct {
	Size    int64
	ModTime time.Time
	Kind    Kind
}

// Store is the access contract every backend implements.
//
// ReadTOC and WriteTOC carry the version history document. They behave like
// ReadBinary and WriteBinary except that backends holding a local read
// cache must bypass it, so a document written by another process is never
// served stale.
type Store interface {
	// Kind reports what occupies path.
	Kind(ctx context.Context, path string) (Kind, error)

	// List returns the paths of all files under prefix, sorted. Folders
	// themselves are not listed.
	List(ctx context.Context, prefix string) ([]string, error)

	// ReadBinary returns the contents of the file at path, or ErrNotFound.
	ReadBinary(ctx context.Context, path string) ([]byte, error)

	// WriteBinary stores data at path, creating parent folders as needed.
	// Writing onto an existing folder fails with ErrPathConflict.
	WriteBinary(ctx context.Context, path string, data []byte) error

	ReadTOC(ctx context.Context, path string) ([]byte, error)
	WriteTOC(ctx context.Context, path string, data []byte) error

	// Stat returns metadata for the entry at path. Not every backend can;
	// those return ErrNotSupported.
	Stat(ctx context.Context, path string) (Info, error)

	// EnsureDir makes sure a folder exists at path. It is best effort and
	// a no-op on backends with no folder concept.
	EnsureDir(ctx context.Context, path string) error

	// Delete removes the file at path. Deleting a missing path is not an
	// error.
	Delete(ctx context.Context, path string) error

	// NormalizePath returns the canonical slash-separated form of path as
	// this backend addresses it.
	NormalizePath(path string) string
}

// FileSetter is implemented by backends able to stamp a file's modification
// time along with its contents. Restores use it so files come back with
// their original timestamps.
type FileSetter interface {
	SetFile(path string, data []byte, mtime time.Time) error
}

// SetFile writes data at path with the given modification time when s can,
// and falls back to a plain write when it can't.
func SetFile(ctx context.Context, s Store, p string, data []byte, mtime time.Time) error {
	if fs, ok := s.(FileSetter); ok {
		return fs.SetFile(p, data, mtime)
	}
	return s.WriteBinary(ctx, p, data)
}

// Exists reports whether path names a file or a folder in s.
func Exists(ctx context.Context, s Store, p string) (bool, error) {
	k, err := s.Kind(ctx, p)
	return k != KindMissing, err
}

// IsFile reports whether path names a file in s.
func IsFile(ctx context.Context, s Store, p string) (bool, error) {
	k, err := s.Kind(ctx, p)
	return k == KindFile, err
}

// IsFolder reports whether path names a folder in s.
func IsFolder(ctx context.Context, s Store, p string) (bool, error) {
	k, err := s.Kind(ctx, p)
	return k == KindFolder, err
}

// normalize cleans p into the canonical relative slash form shared by the
// tree-like backends: no leading or trailing slashes, no dot segments.
func normalize(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}
