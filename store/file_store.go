package store

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileSystem implements the store over an ordinary directory tree rooted at
// a base path. Relative slash paths are mapped onto the operating system's
// separator. There is no read cache, so the TOC calls behave exactly like
// the binary ones.
type FileSystem struct {
	root string
}

var _ Store = &FileSystem{}

// NewFileSystem creates a new FileSystem store based at the given root path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// resolve maps a store path to an absolute filesystem path.
func (s *FileSystem) resolve(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(normalize(p)))
}

func (s *FileSystem) Kind(ctx context.Context, p string) (Kind, error) {
	fi, err := os.Stat(s.resolve(p))
	switch {
	case os.IsNotExist(err):
		return KindMissing, nil
	case err != nil:
		return KindMissing, err
	case fi.IsDir():
		return KindFolder, nil
	}
	return KindFile, nil
}

func (s *FileSystem) List(ctx context.Context, prefix string) ([]string, error) {
	var result []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == s.root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			result = append(result, key)
		}
		return nil
	})
	sort.Strings(result)
	return result, err
}

func (s *FileSystem) ReadBinary(ctx context.Context, p string) ([]byte, error) {
	b, err := os.ReadFile(s.resolve(p))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *FileSystem) ReadTOC(ctx context.Context, p string) ([]byte, error) {
	return s.ReadBinary(ctx, p)
}

func (s *FileSystem) WriteBinary(ctx context.Context, p string, data []byte) error {
	fname := s.resolve(p)
	if fi, err := os.Stat(fname); err == nil && fi.IsDir() {
		return ErrPathConflict
	}
	if err := os.MkdirAll(filepath.Dir(fname), 0755); err != nil {
		return err
	}
	return os.WriteFile(fname, data, 0644)
}

func (s *FileSystem) WriteTOC(ctx context.Context, p string, data []byte) error {
	return s.WriteBinary(ctx, p, data)
}

// SetFile writes a file and stamps its modification time.
func (s *FileSystem) SetFile(p string, data []byte, mtime time.Time) error {
	if err := s.WriteBinary(context.Background(), p, data); err != nil {
		return err
	}
	return os.Chtimes(s.resolve(p), mtime, mtime)
}

func (s *FileSystem) Stat(ctx context.Context, p string) (Info, error) {
	fi, err := os.Stat(s.resolve(p))
	switch {
	case os.IsNotExist(err):
		return Info{}, ErrNotFound
	case err != nil:
		return Info{}, err
	case fi.IsDir():
		return Info{ModTime: fi.ModTime(), Kind: KindFolder}, nil
	}
	return Info{Size: fi.Size(), ModTime: fi.ModTime(), Kind: KindFile}, nil
}

func (s *FileSystem) EnsureDir(ctx context.Context, p string) error {
	err := os.MkdirAll(s.resolve(p), 0755)
	if err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func (s *FileSystem) Delete(ctx context.Context, p string) error {
	err := os.Remove(s.resolve(p))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileSystem) NormalizePath(p string) string {
	return normalize(p)
}
