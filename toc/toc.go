// Package toc keeps the table of contents for a backup destination: one
// record per source path, with the full history of every version ever
// saved and the archive each version lives in. The table is stored as
// backup-info.json at the destination root, and a copy is embedded in each
// archive as its final entry so a destination can be understood even if the
// loose copy is lost.
package toc

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/packrat-backup/packrat/store"
)

// FileName is the name the table of contents is saved under, both at the
// destination root and as the final entry inside each archive.
const FileName = "backup-info.json"

// A Version is one saved copy of a file, pointing at the archive holding
// its bytes. A missing version is a tombstone: it records that the file had
// disappeared from the source when the backup ran, and holds no bytes.
type Version struct {
	ZipName   string    `json:"zipName"`
	Modified  time.Time `json:"modified"`
	Processed int64     `json:"processed,omitempty"` // backup time, epoch ms
	Digest    string    `json:"digest,omitempty"`    // sha256, hex
	Missing   bool      `json:"missing,omitempty"`
}

// An Entry is the record for one source path. The top-level fields mirror
// the newest version so the common questions (has this file changed? is it
// deleted?) don't need a history scan.
type Entry struct {
	Filename  string    `json:"filename"`
	Digest    string    `json:"digest,omitempty"`
	Mtime     int64     `json:"mtime"` // source modification time, epoch ms
	Processed int64     `json:"processed,omitempty"`
	Missing   bool      `json:"missing,omitempty"`
	History   []Version `json:"history"`
}

// TOC is the table of contents, keyed by normalized source path.
type TOC struct {
	Entries map[string]*Entry
}

// New returns an empty table of contents.
func New() *TOC {
	return &TOC{Entries: make(map[string]*Entry)}
}

// Load reads the table of contents saved in s. A destination with no saved
// table yet loads as empty. Load always goes to the backend, never a cache,
// since a stale table would make the next backup resave unchanged files.
func Load(ctx context.Context, s store.Store, p string) (*TOC, error) {
	b, err := s.ReadTOC(ctx, p)
	if err == store.ErrNotFound {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes a serialized table of contents.
func Parse(b []byte) (*TOC, error) {
	t := New()
	if err := json.Unmarshal(b, &t.Entries); err != nil {
		return nil, errors.Wrap(err, "toc")
	}
	return t, nil
}

// Encode serializes the table the way Save stores it.
func (t *TOC) Encode() ([]byte, error) {
	b, err := json.MarshalIndent(t.Entries, "", "  ")
	return b, errors.Wrap(err, "toc")
}

// Save writes the table of contents into s.
func (t *TOC) Save(ctx context.Context, s store.Store, p string) error {
	b, err := t.Encode()
	if err != nil {
		return err
	}
	return s.WriteTOC(ctx, p, b)
}

// Snapshot returns a deep copy. Mutating the copy leaves the original
// untouched, history slices included.
func (t *TOC) Snapshot() *TOC {
	out := New()
	for p, e := range t.Entries {
		dup := *e
		dup.History = append([]Version(nil), e.History...)
		out.Entries[p] = &dup
	}
	return out
}

// Get returns the entry for a path, or nil if the path has never been seen.
func (t *TOC) Get(p string) *Entry {
	return t.Entries[p]
}

// Paths returns every path the table knows about, sorted.
func (t *TOC) Paths() []string {
	out := make([]string, 0, len(t.Entries))
	for p := range t.Entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RecordUpdate appends a new version for p saved into the archive zipName,
// and refreshes the entry's top-level fields to match it.
func (t *TOC) RecordUpdate(p, zipName string, mtime time.Time, digest string, processed time.Time) {
	e := t.Entries[p]
	if e == nil {
		e = &Entry{Filename: path.Base(p)}
		t.Entries[p] = e
	}
	e.Digest = digest
	e.Mtime = Milliseconds(mtime)
	e.Processed = Milliseconds(processed)
	e.Missing = false
	e.History = append(e.History, Version{
		ZipName:   zipName,
		Modified:  mtime.UTC(),
		Processed: Milliseconds(processed),
		Digest:    digest,
	})
}

// RecordMissing appends a tombstone for p, unless the newest version is
// already a tombstone. A run of consecutive backups over a deleted file
// leaves exactly one tombstone, not one per pass.
func (t *TOC) RecordMissing(p, zipName string, processed time.Time) {
	e := t.Entries[p]
	if e == nil || e.Missing {
		return
	}
	e.Digest = ""
	e.Processed = Milliseconds(processed)
	e.Missing = true
	e.History = append(e.History, Version{
		ZipName:   zipName,
		Modified:  processed.UTC(),
		Processed: Milliseconds(processed),
		Missing:   true,
	})
}

// Latest returns the newest version of p, or nil.
func (e *Entry) Latest() *Version {
	if e == nil || len(e.History) == 0 {
		return nil
	}
	return &e.History[len(e.History)-1]
}

// LatestBefore returns the newest version of p saved at or before the
// cutoff, or nil if no version that old exists.
func (e *Entry) LatestBefore(cutoff time.Time) *Version {
	if e == nil {
		return nil
	}
	for i := len(e.History) - 1; i >= 0; i-- {
		v := &e.History[i]
		if !v.Time().After(cutoff) {
			return v
		}
	}
	return nil
}

// Time returns when the version was saved: the backup time when recorded,
// otherwise the source modification time.
func (v *Version) Time() time.Time {
	if v.Processed != 0 {
		return FromMilliseconds(v.Processed)
	}
	return v.Modified
}

// Milliseconds converts a time to the epoch millisecond form the table
// stores.
func Milliseconds(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// FromMilliseconds is the inverse of Milliseconds.
func FromMilliseconds(ms int64) time.Time {
	return time.Unix(ms/1000, ms%1000*int64(time.Millisecond)).UTC()
}
