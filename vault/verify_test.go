package vault

import (
	"context"
	"testing"
	"time"

	"github.com/packrat-backup/packrat/store"
	"github.com/packrat-backup/packrat/toc"
)

func TestVerifyClean(t *testing.T) {
	ctx := context.Background()
	v, src, _, mock := testVault(Options{})

	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))
	src.SetFile("b.txt", []byte("beta"), t0.Add(-time.Hour))
	v.Backup(ctx)
	mock.Add(time.Hour)
	src.SetFile("a.txt", []byte("alpha v2"), t0.Add(30*time.Minute))
	v.Backup(ctx)

	results, err := v.Verify(ctx, 0)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Got %d results, expected 2", len(results))
	}
	for _, res := range results {
		if len(res.Problems) != 0 {
			t.Errorf("%s: %v", res.Archive, res.Problems)
		}
		if res.Entries == 0 {
			t.Errorf("%s: no entries checked", res.Archive)
		}
	}
}

func TestVerifyDigestMismatch(t *testing.T) {
	ctx := context.Background()
	v, src, dst, _ := testVault(Options{})
	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))
	v.Backup(ctx)

	// rewrite the recorded digest, as if the TOC were damaged
	tab, _ := toc.Load(ctx, dst, toc.FileName)
	e := tab.Get("a.txt")
	e.Digest = "0000"
	e.History[0].Digest = "0000"
	tab.Save(ctx, dst, toc.FileName)

	results, err := v.Verify(ctx, 0)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 1 || len(results[0].Problems) == 0 {
		t.Fatalf("Got %+v, expected a digest problem", results)
	}
}

func TestVerifyTruncatedArchive(t *testing.T) {
	ctx := context.Background()
	v, src, dst, _ := testVault(Options{})
	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))
	v.Backup(ctx)

	name := "2024-03-07-36000.zip"
	b, _ := dst.ReadBinary(ctx, name)
	dst.SetFile(name, b[:len(b)/2], t0)

	results, err := v.Verify(ctx, 0)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 1 || len(results[0].Problems) == 0 {
		t.Fatalf("Got %+v, expected problems", results)
	}
}

func TestVerifyMissingArchive(t *testing.T) {
	ctx := context.Background()
	v, src, dst, mock := testVault(Options{})
	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))
	v.Backup(ctx)
	mock.Add(time.Hour)
	src.SetFile("a.txt", []byte("alpha v2"), t0.Add(30*time.Minute))
	v.Backup(ctx)

	// the first archive disappears from the destination
	dst.Delete(ctx, "2024-03-07-36000.zip")

	results, err := v.Verify(ctx, 0)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	var flagged bool
	for _, res := range results {
		if res.Archive == "2024-03-07-36000.zip" && len(res.Problems) > 0 {
			flagged = true
		}
	}
	if !flagged {
		t.Errorf("missing archive not flagged: %+v", results)
	}
}

// A corrupt archive is reported without aborting the sweep of the others.
func TestVerifyIsolatesCorruption(t *testing.T) {
	ctx := context.Background()
	v, src, dst, mock := testVault(Options{})
	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))
	v.Backup(ctx)
	mock.Add(time.Hour)
	src.SetFile("b.txt", []byte("beta"), t0.Add(30*time.Minute))
	v.Backup(ctx)

	dst.SetFile("2024-03-07-36000.zip", []byte("rotten bytes"), t0)

	results, err := v.Verify(ctx, 0)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	good, bad := 0, 0
	for _, res := range results {
		if len(res.Problems) == 0 {
			good++
		} else {
			bad++
		}
	}
	if good != 1 || bad != 1 {
		t.Errorf("Got %d good %d bad, expected 1 and 1: %+v", good, bad, results)
	}

	// and the untouched archive still restores
	target := store.NewMemory()
	v.SetRestoreTarget(target)
	tab, _ := toc.Load(ctx, dst, toc.FileName)
	if err := v.RestoreFile(ctx, "b.txt", tab.Get("b.txt").Latest()); err != nil {
		t.Fatalf("RestoreFile: %v", err)
	}
}
