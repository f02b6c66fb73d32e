package vault

// The verify pass rereads every archive at the destination and recomputes
// entry digests against what the TOC promises. It exists because backup
// media rot quietly: the time to learn a 2019 archive is unreadable is
// before 2019 is the version someone needs.

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/packrat-backup/packrat/bundle"
	"github.com/packrat-backup/packrat/store"
	"github.com/packrat-backup/packrat/toc"
	"github.com/packrat-backup/packrat/util"
)

// A VerifyResult reports on one archive: how many entries were checked and
// every problem found. An archive with no problems passed.
type VerifyResult struct {
	Archive  string
	Entries  int
	Problems []string
}

// Verify checks every archive at the destination, throttled to about rate
// bytes per second of archive data so a full sweep does not monopolize the
// backend (rate <= 0 means no throttle). A corrupt archive is reported and
// the sweep moves on to the next one. The destination is never written.
func (v *Vault) Verify(ctx context.Context, rate float64) ([]VerifyResult, error) {
	tab, err := toc.Load(ctx, v.dest, toc.FileName)
	if err != nil {
		return nil, errors.Wrap(err, "verify: load toc")
	}
	keys, err := v.dest.List(ctx, "")
	if err != nil {
		return nil, errors.Wrap(err, "verify: list destination")
	}

	// what each archive should hold, from the recorded histories
	expected := make(map[string]map[string]string) // archive -> path -> digest
	for _, p := range tab.Paths() {
		for _, ver := range tab.Get(p).History {
			if ver.Missing {
				continue
			}
			m := expected[ver.ZipName]
			if m == nil {
				m = make(map[string]string)
				expected[ver.ZipName] = m
			}
			m[p] = ver.Digest
		}
	}

	var counter *util.RateCounter
	if rate > 0 {
		counter = util.NewRateCounter(rate)
		defer counter.Stop()
	}

	var results []VerifyResult
	for _, name := range keys {
		if !strings.HasSuffix(name, ".zip") {
			// pieces and the TOC document; pieces are read with their base
			continue
		}
		res := v.verifyArchive(ctx, name, expected[name], counter)
		delete(expected, name)
		results = append(results, res)
	}
	// archives the TOC references but the destination no longer holds
	for name, files := range expected {
		results = append(results, VerifyResult{
			Archive:  name,
			Problems: []string{fmt.Sprintf("archive missing, %d version(s) unrecoverable", len(files))},
		})
	}
	return results, nil
}

func (v *Vault) verifyArchive(ctx context.Context, name string, want map[string]string, counter *util.RateCounter) VerifyResult {
	res := VerifyResult{Archive: name}
	unseen := make(map[string]bool, len(want))
	for p := range want {
		unseen[p] = true
	}
	r := bundle.NewReader(nil, func(entry string, mtime time.Time, data []byte) error {
		res.Entries++
		v.emit(Event{Phase: VerifyPhase, Path: entry, Archive: name})
		if entry == toc.FileName {
			if _, err := toc.Parse(data); err != nil {
				res.Problems = append(res.Problems, "embedded TOC does not parse")
			}
			return nil
		}
		goal, ok := want[entry]
		if !ok {
			res.Problems = append(res.Problems,
				fmt.Sprintf("%s: not referenced by any recorded version", entry))
			return nil
		}
		delete(unseen, entry)
		if util.Digest(data) != goal {
			res.Problems = append(res.Problems, fmt.Sprintf("%s: digest mismatch", entry))
		}
		return nil
	})

	for n := 0; !r.Done(); n++ {
		piece, err := v.dest.ReadBinary(ctx, bundle.PieceName(name, n))
		if err == store.ErrNotFound {
			if n == 0 {
				res.Problems = append(res.Problems, "archive unreadable")
				return res
			}
			break
		}
		if err != nil {
			log.Println("verify:", name, err)
			res.Problems = append(res.Problems, "archive unreadable")
			return res
		}
		if counter != nil {
			if _, ok := <-counter.OK(); !ok {
				res.Problems = append(res.Problems, "verification stopped")
				return res
			}
			counter.Use(int64(len(piece)))
		}
		if err := r.Feed(piece); err != nil {
			res.Problems = append(res.Problems, "archive corrupt")
			return res
		}
	}
	if err := r.Close(); err != nil {
		res.Problems = append(res.Problems, "archive truncated")
	}
	for p := range unseen {
		res.Problems = append(res.Problems, fmt.Sprintf("%s: recorded version not in archive", p))
	}
	return res
}
