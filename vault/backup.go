package vault

import (
	"context"
	"log"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/packrat-backup/packrat/bundle"
	"github.com/packrat-backup/packrat/store"
	"github.com/packrat-backup/packrat/toc"
	"github.com/packrat-backup/packrat/util"
)

// Summary totals what a Backup run did, across every chained pass.
type Summary struct {
	Archives []string // archives produced, in order
	Saved    int      // files written into archives
	Skipped  int      // files unchanged since their last version
	Missing  int      // tombstones recorded
	Errors   int      // files skipped because they could not be read
	Deferred int      // files still waiting when the run ended
}

// Backup runs passes over the source until the work is done. Each pass
// produces at most one archive. When MaxFiles defers files and AutoContinue
// is set, a fresh pass is chained immediately, skipping paths the earlier
// passes already handled.
func (v *Vault) Backup(ctx context.Context) (*Summary, error) {
	sum := &Summary{}
	processed := make(map[string]bool)
	for {
		deferred, err := v.pass(ctx, sum, processed)
		if err != nil {
			return sum, err
		}
		sum.Deferred = deferred
		if deferred == 0 || !v.opts.AutoContinue {
			break
		}
	}
	v.emit(Event{Phase: DonePhase, Saved: sum.Saved, Skipped: sum.Skipped,
		Missing: sum.Missing, Errors: sum.Errors})
	return sum, nil
}

// pass runs one backup pass: diff the live tree against the recorded
// history, archive what changed, split, and persist the updated history.
// It returns how many files were deferred by the MaxFiles cap.
//
// Per-file read and stat failures are counted and skipped; the pass goes
// on. Failures writing pieces or the TOC are pass-fatal, and pieces already
// written stay where they are, unreferenced.
func (v *Vault) pass(ctx context.Context, sum *Summary, processed map[string]bool) (int, error) {
	tab, err := toc.Load(ctx, v.dest, toc.FileName)
	if err != nil {
		return 0, errors.Wrap(err, "backup: load toc")
	}
	live, err := v.source.List(ctx, "")
	if err != nil {
		return 0, errors.Wrap(err, "backup: scan source")
	}
	name := v.archiveName()
	now := v.now()

	// tombstones for tracked files gone from the source
	liveset := make(map[string]bool, len(live))
	for _, p := range live {
		liveset[p] = true
	}
	var missing int
	if v.opts.Tombstone {
		for _, p := range tab.Paths() {
			if liveset[p] || v.excluded(p) || tab.Get(p).Missing {
				continue
			}
			tab.RecordMissing(p, name, now)
			missing++
			sum.Missing++
			v.emit(v.scanEvent(p, sum))
		}
	}

	w := bundle.NewWriter()
	var admitted, deferred int
	for _, p := range live {
		if processed[p] || v.excluded(p) {
			continue
		}
		if v.opts.MaxFiles > 0 && admitted >= v.opts.MaxFiles {
			deferred++
			continue
		}
		e := tab.Get(p)
		mtime := now
		info, err := v.source.Stat(ctx, p)
		switch err {
		case nil:
			mtime = info.ModTime
			if v.opts.OnlyNewer && e != nil && !e.Missing &&
				!mtime.After(toc.FromMilliseconds(e.Mtime)) {
				processed[p] = true
				sum.Skipped++
				continue
			}
		case store.ErrNotSupported:
			// flat backend, no metadata; diff on content alone
		default:
			log.Println("backup:", p, err)
			sum.Errors++
			processed[p] = true
			continue
		}
		b, err := v.source.ReadBinary(ctx, p)
		if err != nil {
			log.Println("backup:", p, err)
			sum.Errors++
			processed[p] = true
			continue
		}
		processed[p] = true
		digest := util.Digest(b)
		if e != nil && !e.Missing && e.Digest == digest {
			sum.Skipped++
			continue
		}
		w.Add(p, b, mtime)
		tab.RecordUpdate(p, name, mtime, digest, now)
		admitted++
		sum.Saved++
		v.emit(v.scanEvent(p, sum))
	}

	if admitted == 0 && missing == 0 {
		// nothing changed. No archive, no TOC write.
		w.Abort()
		<-w.Done()
		return deferred, nil
	}

	// the TOC snapshot rides along as the archive's final entry
	body, err := tab.Encode()
	if err != nil {
		w.Abort()
		<-w.Done()
		return 0, err
	}
	w.Add(toc.FileName, body, now)
	w.Finish()
	result := <-w.Done()
	if result.Err != nil {
		return 0, errors.Wrap(result.Err, "backup: build archive")
	}

	for i, piece := range util.Chunks(result.Data, v.opts.SplitSize) {
		pname := bundle.PieceName(name, i)
		v.emit(Event{Phase: SavePhase, Archive: pname, Saved: sum.Saved,
			Skipped: sum.Skipped, Missing: sum.Missing, Errors: sum.Errors})
		if err := v.dest.WriteBinary(ctx, pname, piece); err != nil {
			raven.CaptureError(err, map[string]string{"archive": pname})
			log.Println("backup:", pname, err)
			return 0, errors.Wrapf(err, "backup: write %s", pname)
		}
	}
	if err := tab.Save(ctx, v.dest, toc.FileName); err != nil {
		raven.CaptureError(err, nil)
		log.Println("backup:", err)
		return 0, errors.Wrap(err, "backup: save toc")
	}
	v.lastName = name
	sum.Archives = append(sum.Archives, name)
	return deferred, nil
}

func (v *Vault) scanEvent(p string, sum *Summary) Event {
	return Event{Phase: ScanPhase, Path: p, Saved: sum.Saved,
		Skipped: sum.Skipped, Missing: sum.Missing, Errors: sum.Errors}
}

// archiveName names the archive for a pass starting now. A chained pass
// landing in the same wall-clock second gets the next second's name, so
// names stay unique and ordered within a destination.
func (v *Vault) archiveName() string {
	t := v.now()
	name := bundle.ArchiveName(t)
	for name <= v.lastName {
		t = t.Add(time.Second)
		name = bundle.ArchiveName(t)
	}
	return name
}
