package vault

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/packrat-backup/packrat/openssl"
	"github.com/packrat-backup/packrat/store"
	"github.com/packrat-backup/packrat/toc"
)

var t0 = time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC) // = archive 2024-03-07-36000.zip

// newTestClock returns a mock clock pinned to t0.
func newTestClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Add(t0.Sub(mock.Now()))
	return mock
}

func testVault(opts Options) (*Vault, *store.Memory, *store.Memory, *clock.Mock) {
	src := store.NewMemory()
	dst := store.NewMemory()
	v := New(src, dst, opts)
	mock := newTestClock()
	v.SetClock(mock)
	return v, src, dst, mock
}

func TestBackupSavesArchiveAndTOC(t *testing.T) {
	ctx := context.Background()
	v, src, dst, _ := testVault(Options{})

	src.SetFile("docs/report.txt", []byte("quarterly numbers"), t0.Add(-time.Hour))
	src.SetFile("notes.md", []byte("remember the milk"), t0.Add(-2*time.Hour))

	sum, err := v.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if sum.Saved != 2 || sum.Errors != 0 {
		t.Errorf("Got %+v, expected 2 saved", sum)
	}
	if len(sum.Archives) != 1 || sum.Archives[0] != "2024-03-07-36000.zip" {
		t.Fatalf("Got %v, expected [2024-03-07-36000.zip]", sum.Archives)
	}

	keys, _ := dst.List(ctx, "")
	expected := []string{"2024-03-07-36000.zip", toc.FileName}
	if len(keys) != 2 || keys[0] != expected[0] || keys[1] != expected[1] {
		t.Errorf("Got %v, expected %v", keys, expected)
	}

	tab, err := toc.Load(ctx, dst, toc.FileName)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e := tab.Get("docs/report.txt")
	if e == nil || len(e.History) != 1 {
		t.Fatalf("Got %+v, expected one version", e)
	}
	if e.History[0].ZipName != "2024-03-07-36000.zip" {
		t.Errorf("Got %s, expected 2024-03-07-36000.zip", e.History[0].ZipName)
	}
	if e.Mtime != toc.Milliseconds(t0.Add(-time.Hour)) {
		t.Errorf("Got mtime %d, expected the source mtime", e.Mtime)
	}
}

// A pass over an unchanged source writes nothing at all.
func TestBackupIdempotent(t *testing.T) {
	ctx := context.Background()
	v, src, dst, mock := testVault(Options{})

	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))
	if _, err := v.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	before, _ := dst.List(ctx, "")
	tocBefore, _ := dst.ReadTOC(ctx, toc.FileName)

	mock.Add(time.Hour)
	sum, err := v.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if sum.Saved != 0 || sum.Skipped != 1 || len(sum.Archives) != 0 {
		t.Errorf("Got %+v, expected only a skip", sum)
	}
	after, _ := dst.List(ctx, "")
	if len(after) != len(before) {
		t.Errorf("Got %v, expected %v", after, before)
	}
	tocAfter, _ := dst.ReadTOC(ctx, toc.FileName)
	if !bytes.Equal(tocBefore, tocAfter) {
		t.Errorf("TOC rewritten by a no-op pass")
	}
}

func TestBackupOnlyChanged(t *testing.T) {
	ctx := context.Background()
	v, src, dst, mock := testVault(Options{})

	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))
	src.SetFile("b.txt", []byte("beta"), t0.Add(-time.Hour))
	if _, err := v.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	mock.Add(time.Hour)
	src.SetFile("a.txt", []byte("alpha v2"), t0.Add(30*time.Minute))
	sum, err := v.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if sum.Saved != 1 || sum.Skipped != 1 {
		t.Errorf("Got %+v, expected 1 saved 1 skipped", sum)
	}

	tab, _ := toc.Load(ctx, dst, toc.FileName)
	if n := len(tab.Get("a.txt").History); n != 2 {
		t.Errorf("Got %d versions of a.txt, expected 2", n)
	}
	if n := len(tab.Get("b.txt").History); n != 1 {
		t.Errorf("Got %d versions of b.txt, expected 1", n)
	}
}

func TestBackupOnlyNewer(t *testing.T) {
	ctx := context.Background()
	v, src, _, mock := testVault(Options{OnlyNewer: true})

	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))
	if _, err := v.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	// same bytes rewritten with the same mtime: skipped on the stat alone
	mock.Add(time.Hour)
	sum, err := v.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if sum.Skipped != 1 || sum.Saved != 0 {
		t.Errorf("Got %+v, expected a skip", sum)
	}

	// mtime advanced, content identical: read, digest match, still skipped
	src.SetFile("a.txt", []byte("alpha"), t0.Add(30*time.Minute))
	sum, _ = v.Backup(ctx)
	if sum.Saved != 0 {
		t.Errorf("Got %+v, expected no save for identical bytes", sum)
	}
}

func TestBackupTombstone(t *testing.T) {
	ctx := context.Background()
	v, src, dst, mock := testVault(Options{Tombstone: true})

	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))
	src.SetFile("b.txt", []byte("beta"), t0.Add(-time.Hour))
	if _, err := v.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	mock.Add(time.Hour)
	src.Delete(ctx, "b.txt")
	sum, err := v.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if sum.Missing != 1 {
		t.Errorf("Got %+v, expected 1 tombstone", sum)
	}
	// a tombstone is a change: the pass produced an archive
	if len(sum.Archives) != 1 {
		t.Errorf("Got %v, expected one archive", sum.Archives)
	}

	tab, _ := toc.Load(ctx, dst, toc.FileName)
	e := tab.Get("b.txt")
	if !e.Missing || e.Digest != "" || len(e.History) != 2 {
		t.Fatalf("Got %+v, expected a tombstoned entry", e)
	}

	// a third pass adds nothing: the tombstone is already recorded
	mock.Add(time.Hour)
	sum, _ = v.Backup(ctx)
	if sum.Missing != 0 || len(sum.Archives) != 0 {
		t.Errorf("Got %+v, expected a no-op pass", sum)
	}
	tab, _ = toc.Load(ctx, dst, toc.FileName)
	if n := len(tab.Get("b.txt").History); n != 2 {
		t.Errorf("Got %d versions, expected still 2", n)
	}
}

// Without the option, disappearance is not recorded.
func TestBackupNoTombstone(t *testing.T) {
	ctx := context.Background()
	v, src, dst, mock := testVault(Options{})

	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))
	v.Backup(ctx)
	mock.Add(time.Hour)
	src.Delete(ctx, "a.txt")
	sum, err := v.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if sum.Missing != 0 || len(sum.Archives) != 0 {
		t.Errorf("Got %+v, expected nothing recorded", sum)
	}
	tab, _ := toc.Load(ctx, dst, toc.FileName)
	if tab.Get("a.txt").Missing {
		t.Errorf("entry tombstoned with the option off")
	}
}

func TestBackupExclude(t *testing.T) {
	ctx := context.Background()
	v, src, dst, _ := testVault(Options{Exclude: []string{"backups"}})

	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))
	src.SetFile("backups/2024-01-01-00000.zip", []byte("old archive"), t0.Add(-time.Hour))
	sum, err := v.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if sum.Saved != 1 {
		t.Errorf("Got %+v, expected 1 saved", sum)
	}
	tab, _ := toc.Load(ctx, dst, toc.FileName)
	if tab.Get("backups/2024-01-01-00000.zip") != nil {
		t.Errorf("excluded path was tracked")
	}
}

// Two changed files, one-file archives, auto-continue: two chained passes,
// two distinctly named archives, both referenced in history.
func TestBackupMaxFilesChaining(t *testing.T) {
	ctx := context.Background()
	v, src, dst, _ := testVault(Options{MaxFiles: 1, AutoContinue: true})

	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))
	src.SetFile("b.txt", []byte("beta"), t0.Add(-time.Hour))
	sum, err := v.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if sum.Saved != 2 || sum.Deferred != 0 {
		t.Errorf("Got %+v, expected both saved", sum)
	}
	expected := []string{"2024-03-07-36000.zip", "2024-03-07-36001.zip"}
	if len(sum.Archives) != 2 || sum.Archives[0] != expected[0] || sum.Archives[1] != expected[1] {
		t.Fatalf("Got %v, expected %v", sum.Archives, expected)
	}

	tab, _ := toc.Load(ctx, dst, toc.FileName)
	if z := tab.Get("a.txt").Latest().ZipName; z != expected[0] {
		t.Errorf("Got %s, expected %s", z, expected[0])
	}
	if z := tab.Get("b.txt").Latest().ZipName; z != expected[1] {
		t.Errorf("Got %s, expected %s", z, expected[1])
	}
}

// Without auto-continue the remainder is reported, not processed.
func TestBackupMaxFilesDefer(t *testing.T) {
	ctx := context.Background()
	v, src, _, _ := testVault(Options{MaxFiles: 1})

	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))
	src.SetFile("b.txt", []byte("beta"), t0.Add(-time.Hour))
	sum, err := v.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if sum.Saved != 1 || sum.Deferred != 1 || len(sum.Archives) != 1 {
		t.Errorf("Got %+v, expected 1 saved 1 deferred", sum)
	}
}

func TestBackupEncryptedDestination(t *testing.T) {
	ctx := context.Background()
	src := store.NewMemory()
	raw := store.NewMemory()
	v := New(src, store.NewEncrypted(raw, openssl.New("hunter2")), Options{})
	v.SetClock(newTestClock())

	content := []byte("family photos")
	src.SetFile("a.jpg", content, t0.Add(-time.Hour))
	if _, err := v.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	// everything at rest is ciphertext
	for _, name := range []string{"2024-03-07-36000.zip", toc.FileName} {
		b, err := raw.ReadBinary(ctx, name)
		if err != nil {
			t.Fatalf("ReadBinary %s: %v", name, err)
		}
		if !bytes.HasPrefix(b, []byte("Salted__")) {
			t.Errorf("%s not encrypted at rest", name)
		}
	}

	// and restore still round-trips
	target := store.NewMemory()
	v.SetRestoreTarget(target)
	tab, err := toc.Load(ctx, v.dest, toc.FileName)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := v.RestoreFile(ctx, "a.jpg", tab.Get("a.jpg").Latest()); err != nil {
		t.Fatalf("RestoreFile: %v", err)
	}
	b, _ := target.ReadBinary(ctx, "a.jpg")
	if !bytes.Equal(b, content) {
		t.Errorf("Got %q, expected the original bytes", b)
	}
}

func TestBackupProgressEvents(t *testing.T) {
	ctx := context.Background()
	v, src, _, _ := testVault(Options{})
	src.SetFile("a.txt", []byte("alpha"), t0.Add(-time.Hour))

	seen := make(map[Phase]int)
	v.OnProgress(func(e Event) { seen[e.Phase]++ })
	if _, err := v.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	for _, phase := range []Phase{ScanPhase, SavePhase, DonePhase} {
		if seen[phase] == 0 {
			t.Errorf("no %v events seen", phase)
		}
	}
}
