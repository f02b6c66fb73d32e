// Package vault implements the backup and restore orchestrators. A Vault
// binds a live source tree to a backup destination, both addressed through
// store.Store, and runs whole passes over them: Backup diffs the source
// against the recorded history and produces at most one archive per pass,
// restores resolve recorded versions back into files.
//
// One pass runs at a time. Concurrent passes against the same destination
// are unsafe; nothing here locks the destination. A pass that fails while
// writing split pieces leaves the pieces already written in place: the
// table of contents is only saved after every piece landed, so the orphans
// are never referenced and a rerun ignores them.
package vault

import (
	"strings"
	"time"

	"github.com/facebookgo/clock"

	"github.com/packrat-backup/packrat/store"
)

// Options configure the backup side of a Vault.
type Options struct {
	// Tombstone records the disappearance of tracked files from the
	// source, so restores can propagate deletions.
	Tombstone bool

	// OnlyNewer skips files whose modification time has not advanced past
	// the recorded one, without reading their bytes. Meaningless on
	// sources that cannot stat.
	OnlyNewer bool

	// MaxFiles caps how many files one archive admits. 0 = unlimited.
	// Files over the cap are deferred to a later pass.
	MaxFiles int

	// AutoContinue chains another pass immediately when MaxFiles deferred
	// work, until nothing is left.
	AutoContinue bool

	// SplitSize is the piece size archives are split into at the
	// destination, in bytes. 0 = never split.
	SplitSize int

	// Exclude lists source prefixes a backup never touches. The prefixes
	// of the backup destination and the restore staging area belong here
	// whenever they live inside the source tree itself.
	Exclude []string
}

// A Vault pairs a source tree with a backup destination.
type Vault struct {
	source store.Store
	dest   store.Store
	target store.Store // where restored files land; the source by default
	opts   Options
	clock  clock.Clock
	notify func(Event)

	// name of the newest archive produced, so a chained pass starting
	// within the same second still gets a distinct name
	lastName string
}

// New creates a Vault backing up source into dest.
func New(source, dest store.Store, opts Options) *Vault {
	for i, p := range opts.Exclude {
		opts.Exclude[i] = source.NormalizePath(p)
	}
	return &Vault{
		source: source,
		dest:   dest,
		target: source,
		opts:   opts,
		clock:  clock.New(),
	}
}

// SetClock substitutes the wall clock. Tests use it to pin archive names
// and processed stamps.
func (v *Vault) SetClock(c clock.Clock) {
	v.clock = c
}

// SetRestoreTarget redirects restored files into s instead of overwriting
// the live source, for staged restores.
func (v *Vault) SetRestoreTarget(s store.Store) {
	v.target = s
}

// OnProgress registers a callback receiving progress events as passes run.
// Events arrive on the pass's goroutine and are not throttled; a caller
// presenting them is expected to drop what it doesn't want.
func (v *Vault) OnProgress(f func(Event)) {
	v.notify = f
}

func (v *Vault) emit(e Event) {
	if v.notify != nil {
		v.notify(e)
	}
}

// NormalizeSourcePath returns p in the source backend's canonical form,
// which is the form the TOC keys paths by.
func (v *Vault) NormalizeSourcePath(p string) string {
	return v.source.NormalizePath(p)
}

// excluded reports whether the source path is off limits to backups.
func (v *Vault) excluded(p string) bool {
	for _, ex := range v.opts.Exclude {
		if p == ex || strings.HasPrefix(p, ex+"/") {
			return true
		}
	}
	return false
}

// now returns the current time in UTC.
func (v *Vault) now() time.Time {
	return v.clock.Now().UTC()
}
