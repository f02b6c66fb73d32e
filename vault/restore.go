package vault

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/packrat-backup/packrat/bundle"
	"github.com/packrat-backup/packrat/store"
	"github.com/packrat-backup/packrat/toc"
)

// RestoreFile restores one file from the given recorded version, writing it
// to the restore target. Reading stops as soon as the file has been seen,
// so later pieces of a split archive may never be fetched.
func (v *Vault) RestoreFile(ctx context.Context, p string, ver *toc.Version) error {
	if ver.Missing {
		return errors.Errorf("restore: %s has no bytes at that version, it was deleted", p)
	}
	p = v.source.NormalizePath(p)
	var writeErr error
	r := bundle.NewReader(
		func(name string) bool { return name == p },
		func(name string, mtime time.Time, data []byte) error {
			writeErr = store.SetFile(ctx, v.target, name, data, mtime)
			return bundle.ErrStop
		})
	if err := v.feedArchive(ctx, ver.ZipName, r); err != nil {
		return err
	}
	if !r.Done() {
		return errors.Errorf("restore: %s not found in %s", p, ver.ZipName)
	}
	return writeErr
}

// feedArchive streams the pieces of an archive through r, in order,
// stopping as soon as r reports itself done. Numbered pieces are probed
// sequentially until one is absent.
func (v *Vault) feedArchive(ctx context.Context, zipName string, r *bundle.Reader) error {
	for n := 0; !r.Done(); n++ {
		piece, err := v.dest.ReadBinary(ctx, bundle.PieceName(zipName, n))
		if err == store.ErrNotFound {
			if n == 0 {
				return errors.Wrapf(err, "restore: archive %s", zipName)
			}
			break
		}
		if err != nil {
			return errors.Wrapf(err, "restore: archive %s", zipName)
		}
		if err := r.Feed(piece); err != nil {
			return errors.Wrapf(err, "restore: archive %s", zipName)
		}
	}
	return errors.Wrapf(r.Close(), "restore: archive %s", zipName)
}
