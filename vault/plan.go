package vault

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/packrat-backup/packrat/bundle"
	"github.com/packrat-backup/packrat/store"
	"github.com/packrat-backup/packrat/toc"
	"github.com/packrat-backup/packrat/util"
)

// ErrNotConfirmed means the caller's confirmation gate rejected a plan.
var ErrNotConfirmed = errors.New("restore not confirmed")

// RestoreOptions tune how a bulk restore selects files.
type RestoreOptions struct {
	// OnlyNewer skips files whose live copy was modified after the
	// version being restored.
	OnlyNewer bool

	// DeleteMissing propagates tombstones: live files whose selected
	// version is a tombstone are deleted. Without it tombstoned records
	// are skipped.
	DeleteMissing bool
}

// A Target is one file a Plan will pull out of an archive.
type Target struct {
	Path    string
	Version *toc.Version
}

// A Plan is the resolved work for a bulk restore: targets grouped by the
// archive holding them, so each archive is scanned once no matter how many
// files it contributes, plus the live paths to delete. Plans must pass a
// confirmation gate before they run; overwriting many live files is not
// something to do by accident.
type Plan struct {
	Archives  map[string][]Target
	Deletions []string
}

// Files counts the files the plan restores.
func (pl *Plan) Files() int {
	n := 0
	for _, targets := range pl.Archives {
		n += len(targets)
	}
	return n
}

// Empty reports whether the plan has nothing to do.
func (pl *Plan) Empty() bool {
	return len(pl.Archives) == 0 && len(pl.Deletions) == 0
}

// ArchiveNames returns the archives the plan touches, sorted.
func (pl *Plan) ArchiveNames() []string {
	names := make([]string, 0, len(pl.Archives))
	for name := range pl.Archives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe renders the aggregate the confirmation gate shows: file counts
// per archive and the pending deletions.
func (pl *Plan) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d file(s) from %d archive(s)", pl.Files(), len(pl.Archives))
	if len(pl.Deletions) > 0 {
		fmt.Fprintf(&b, ", %d deletion(s)", len(pl.Deletions))
	}
	b.WriteString("\n")
	for _, name := range pl.ArchiveNames() {
		fmt.Fprintf(&b, "  %s: %d file(s)\n", name, len(pl.Archives[name]))
		for _, tgt := range pl.Archives[name] {
			fmt.Fprintf(&b, "    %s\n", tgt.Path)
		}
	}
	for _, p := range pl.Deletions {
		fmt.Fprintf(&b, "  delete %s\n", p)
	}
	return b.String()
}

// BuildPlan resolves selectors into a Plan. Each selector maps a path to
// the "as of" cutoff wanted for it; a selector ending in "*" matches every
// tracked path under the prefix, and "*" alone matches everything. For each
// matched path the newest version at or before the cutoff is chosen, then
// dropped again if the live file already has those bytes, or is newer and
// OnlyNewer is set, or the version is a tombstone and DeleteMissing is not.
func (v *Vault) BuildPlan(ctx context.Context, selectors map[string]time.Time, opts RestoreOptions) (*Plan, error) {
	tab, err := toc.Load(ctx, v.dest, toc.FileName)
	if err != nil {
		return nil, errors.Wrap(err, "restore: load toc")
	}
	pl := &Plan{Archives: make(map[string][]Target)}
	for _, p := range tab.Paths() {
		cutoff, ok := match(selectors, p)
		if !ok {
			continue
		}
		ver := tab.Get(p).LatestBefore(cutoff)
		if ver == nil {
			continue
		}
		if ver.Missing {
			if opts.DeleteMissing {
				if live, _ := store.IsFile(ctx, v.target, p); live {
					pl.Deletions = append(pl.Deletions, p)
				}
			}
			continue
		}
		keep, err := v.wanted(ctx, p, ver, opts)
		if err != nil {
			return nil, err
		}
		if keep {
			pl.Archives[ver.ZipName] = append(pl.Archives[ver.ZipName],
				Target{Path: p, Version: ver})
		}
	}
	return pl, nil
}

// wanted decides whether the live copy of p needs the version restored.
func (v *Vault) wanted(ctx context.Context, p string, ver *toc.Version, opts RestoreOptions) (bool, error) {
	live, err := v.target.ReadBinary(ctx, p)
	if err == store.ErrNotFound {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "restore: read %s", p)
	}
	if util.Digest(live) == ver.Digest {
		return false, nil
	}
	if opts.OnlyNewer {
		info, err := v.target.Stat(ctx, p)
		if err == nil && info.ModTime.After(ver.Modified) {
			return false, nil
		}
	}
	return true, nil
}

// match finds the selector covering path and returns its cutoff.
func match(selectors map[string]time.Time, p string) (time.Time, bool) {
	if cutoff, ok := selectors[p]; ok {
		return cutoff, true
	}
	for sel, cutoff := range selectors {
		if !strings.HasSuffix(sel, "*") {
			continue
		}
		if strings.HasPrefix(p, strings.TrimSuffix(sel, "*")) {
			return cutoff, true
		}
	}
	return time.Time{}, false
}

// ExecutePlan runs a plan after it clears the confirmation gate. A nil
// confirm skips the gate, for callers that have already shown the plan.
// A corrupt archive aborts extraction from that archive only; the rest of
// the plan still runs, and the summary counts what failed.
func (v *Vault) ExecutePlan(ctx context.Context, pl *Plan, confirm func(*Plan) bool) (*Summary, error) {
	sum := &Summary{}
	if pl.Empty() {
		return sum, nil
	}
	if confirm != nil && !confirm(pl) {
		return sum, ErrNotConfirmed
	}
	for _, name := range pl.ArchiveNames() {
		wanted := make(map[string]bool)
		for _, tgt := range pl.Archives[name] {
			wanted[tgt.Path] = true
		}
		var writeErr error
		r := bundle.NewReader(
			func(entry string) bool { return wanted[entry] },
			func(entry string, mtime time.Time, data []byte) error {
				if writeErr = store.SetFile(ctx, v.target, entry, data, mtime); writeErr != nil {
					return writeErr
				}
				delete(wanted, entry)
				sum.Saved++
				v.emit(Event{Phase: RestorePhase, Path: entry, Archive: name,
					Saved: sum.Saved, Errors: sum.Errors})
				if len(wanted) == 0 {
					return bundle.ErrStop
				}
				return nil
			})
		err := v.feedArchive(ctx, name, r)
		if writeErr != nil {
			// a failed write onto the live tree is fatal, corrupt input
			// is not
			return sum, writeErr
		}
		if err != nil {
			raven.CaptureError(err, map[string]string{"archive": name})
			log.Println("restore:", err)
			sum.Errors += len(wanted)
			continue
		}
		if len(wanted) > 0 {
			// the TOC promised files the archive doesn't hold
			log.Printf("restore: %s: %d expected file(s) not in archive", name, len(wanted))
			sum.Errors += len(wanted)
		}
	}
	for _, p := range pl.Deletions {
		if err := v.target.Delete(ctx, p); err != nil {
			return sum, errors.Wrapf(err, "restore: delete %s", p)
		}
		sum.Missing++
	}
	return sum, nil
}

// Restore is BuildPlan followed by ExecutePlan.
func (v *Vault) Restore(ctx context.Context, selectors map[string]time.Time, opts RestoreOptions, confirm func(*Plan) bool) (*Summary, error) {
	pl, err := v.BuildPlan(ctx, selectors, opts)
	if err != nil {
		return nil, err
	}
	return v.ExecutePlan(ctx, pl, confirm)
}
