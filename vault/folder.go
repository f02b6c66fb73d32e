package vault

// Folder-scoped restore is the bulk algorithm pre-filtered to one prefix,
// plus the listing a picker needs: which cutoffs are even worth offering.

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/packrat-backup/packrat/toc"
)

// FolderTimestamps returns the distinct version times recorded under a
// prefix, newest first. A picker offers these as the candidate "as of"
// cutoffs for a folder restore.
func (v *Vault) FolderTimestamps(ctx context.Context, prefix string) ([]time.Time, error) {
	tab, err := toc.Load(ctx, v.dest, toc.FileName)
	if err != nil {
		return nil, errors.Wrap(err, "restore: load toc")
	}
	prefix = v.source.NormalizePath(prefix)
	seen := make(map[int64]time.Time)
	for _, p := range tab.Paths() {
		if !underPrefix(p, prefix) {
			continue
		}
		for _, ver := range tab.Get(p).History {
			t := ver.Time()
			seen[t.UnixNano()] = t
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out, nil
}

// SubFolders returns the immediate child folders recorded under a prefix,
// sorted, for navigating the tracked tree the way the live one is browsed.
func (v *Vault) SubFolders(ctx context.Context, prefix string) ([]string, error) {
	tab, err := toc.Load(ctx, v.dest, toc.FileName)
	if err != nil {
		return nil, errors.Wrap(err, "restore: load toc")
	}
	prefix = v.source.NormalizePath(prefix)
	seen := make(map[string]bool)
	for _, p := range tab.Paths() {
		if !underPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(strings.TrimPrefix(p, prefix), "/")
		if i := strings.Index(rest, "/"); i >= 0 {
			seen[rest[:i]] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// RestoreFolder builds the plan putting everything under prefix back the
// way it was at the cutoff.
func (v *Vault) RestoreFolder(ctx context.Context, prefix string, cutoff time.Time, opts RestoreOptions) (*Plan, error) {
	prefix = v.source.NormalizePath(prefix)
	sel := "*"
	if prefix != "" {
		sel = prefix + "/*"
	}
	return v.BuildPlan(ctx, map[string]time.Time{sel: cutoff}, opts)
}

func underPrefix(p, prefix string) bool {
	return prefix == "" || strings.HasPrefix(p, prefix+"/")
}
