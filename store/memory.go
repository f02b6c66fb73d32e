package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory implements the in-process hierarchical backend: a tree of folders
// and files held by the embedding application. Reads of ordinary files go
// through a read cache; ReadTOC bypasses it so the version history is never
// served stale.
//
// The default view hides dot-prefixed entries from List, the way the host
// application's virtual index does. Direct() returns a view over the same
// tree that includes them.
type Memory struct {
	tree          *memTree
	includeHidden bool
}

type memTree struct {
	m     sync.RWMutex
	root  *folder
	cache map[string][]byte // read cache, keyed by normalized path
}

type folder struct {
	folders map[string]*folder
	files   map[string]*memfile
}

type memfile struct {
	data  []byte
	mtime time.Time
}

var _ Store = &Memory{}

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{
		tree: &memTree{
			root:  newFolder(),
			cache: make(map[string][]byte),
		},
	}
}

// Direct returns a view over the same tree that bypasses the virtual index,
// so hidden (dot-prefixed) entries appear in listings.
func (ms *Memory) Direct() *Memory {
	return &Memory{tree: ms.tree, includeHidden: true}
}

func newFolder() *folder {
	return &folder{
		folders: make(map[string]*folder),
		files:   make(map[string]*memfile),
	}
}

// walk descends to the folder containing the last element of parts.
// Returns nil if any intermediate component is missing or is a file.
func (t *memTree) walk(parts []string) *folder {
	f := t.root
	for _, name := range parts[:len(parts)-1] {
		if _, isfile := f.files[name]; isfile {
			return nil
		}
		f = f.folders[name]
		if f == nil {
			return nil
		}
	}
	return f
}

func (ms *Memory) Kind(ctx context.Context, p string) (Kind, error) {
	p = normalize(p)
	if p == "" {
		return KindFolder, nil
	}
	t := ms.tree
	t.m.RLock()
	defer t.m.RUnlock()
	parts := strings.Split(p, "/")
	f := t.walk(parts)
	if f == nil {
		return KindMissing, nil
	}
	name := parts[len(parts)-1]
	if _, ok := f.files[name]; ok {
		return KindFile, nil
	}
	if _, ok := f.folders[name]; ok {
		return KindFolder, nil
	}
	return KindMissing, nil
}

func (ms *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	t := ms.tree
	t.m.RLock()
	defer t.m.RUnlock()
	var result []string
	var visit func(f *folder, dir string)
	visit = func(f *folder, dir string) {
		for name := range f.files {
			if !ms.includeHidden && strings.HasPrefix(name, ".") {
				continue
			}
			p := dir + name
			if strings.HasPrefix(p, prefix) {
				result = append(result, p)
			}
		}
		for name, sub := range f.folders {
			if !ms.includeHidden && strings.HasPrefix(name, ".") {
				continue
			}
			visit(sub, dir+name+"/")
		}
	}
	visit(t.root, "")
	sort.Strings(result)
	return result, nil
}

func (ms *Memory) ReadBinary(ctx context.Context, p string) ([]byte, error) {
	p = normalize(p)
	t := ms.tree
	t.m.Lock()
	defer t.m.Unlock()
	if b, ok := t.cache[p]; ok {
		return append([]byte(nil), b...), nil
	}
	b, err := t.read(p)
	if err != nil {
		return nil, err
	}
	t.cache[p] = append([]byte(nil), b...)
	return b, nil
}

// ReadTOC reads straight from the tree, never from the read cache.
func (ms *Memory) ReadTOC(ctx context.Context, p string) ([]byte, error) {
	t := ms.tree
	t.m.RLock()
	defer t.m.RUnlock()
	return t.read(normalize(p))
}

// read returns a copy of the file's bytes. Caller holds the lock.
func (t *memTree) read(p string) ([]byte, error) {
	if p == "" {
		return nil, ErrNotFound
	}
	parts := strings.Split(p, "/")
	f := t.walk(parts)
	if f == nil {
		return nil, ErrNotFound
	}
	mf, ok := f.files[parts[len(parts)-1]]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), mf.data...), nil
}

func (ms *Memory) WriteBinary(ctx context.Context, p string, data []byte) error {
	return ms.write(p, data, time.Now())
}

func (ms *Memory) WriteTOC(ctx context.Context, p string, data []byte) error {
	return ms.write(p, data, time.Now())
}

// SetFile stores a file with an explicit modification time. It is how the
// embedding application seeds and updates the tree it owns.
func (ms *Memory) SetFile(p string, data []byte, mtime time.Time) error {
	return ms.write(p, data, mtime)
}

func (ms *Memory) write(p string, data []byte, mtime time.Time) error {
	p = normalize(p)
	if p == "" {
		return ErrPathConflict
	}
	t := ms.tree
	t.m.Lock()
	defer t.m.Unlock()
	parts := strings.Split(p, "/")
	f, err := t.mkdirs(parts[:len(parts)-1])
	if err != nil {
		return err
	}
	name := parts[len(parts)-1]
	if _, ok := f.folders[name]; ok {
		return ErrPathConflict
	}
	f.files[name] = &memfile{
		data:  append([]byte(nil), data...),
		mtime: mtime,
	}
	delete(t.cache, p)
	return nil
}

// mkdirs descends along parts, creating folders as needed. Caller holds the
// lock.
func (t *memTree) mkdirs(parts []string) (*folder, error) {
	f := t.root
	for _, name := range parts {
		if _, isfile := f.files[name]; isfile {
			return nil, ErrPathConflict
		}
		sub := f.folders[name]
		if sub == nil {
			sub = newFolder()
			f.folders[name] = sub
		}
		f = sub
	}
	return f, nil
}

func (ms *Memory) Stat(ctx context.Context, p string) (Info, error) {
	p = normalize(p)
	t := ms.tree
	t.m.RLock()
	defer t.m.RUnlock()
	if p == "" {
		return Info{Kind: KindFolder}, nil
	}
	parts := strings.Split(p, "/")
	f := t.walk(parts)
	if f == nil {
		return Info{}, ErrNotFound
	}
	name := parts[len(parts)-1]
	if mf, ok := f.files[name]; ok {
		return Info{Size: int64(len(mf.data)), ModTime: mf.mtime, Kind: KindFile}, nil
	}
	if _, ok := f.folders[name]; ok {
		return Info{Kind: KindFolder}, nil
	}
	return Info{}, ErrNotFound
}

func (ms *Memory) EnsureDir(ctx context.Context, p string) error {
	p = normalize(p)
	if p == "" {
		return nil
	}
	t := ms.tree
	t.m.Lock()
	defer t.m.Unlock()
	_, err := t.mkdirs(strings.Split(p, "/"))
	return err
}

func (ms *Memory) Delete(ctx context.Context, p string) error {
	p = normalize(p)
	if p == "" {
		return nil
	}
	t := ms.tree
	t.m.Lock()
	defer t.m.Unlock()
	parts := strings.Split(p, "/")
	if f := t.walk(parts); f != nil {
		delete(f.files, parts[len(parts)-1])
	}
	delete(t.cache, p)
	return nil
}

func (ms *Memory) NormalizePath(p string) string {
	return normalize(p)
}
