// Package bundle implements the archive format backups are saved in. A
// bundle is an ordinary zip file, so any archive written by this package can
// be opened and unpacked with stock tools. The writer records each entry's
// sizes and checksum in its local header, which is what lets the reader scan
// an archive as a byte stream without ever seeking.
//
// Large bundles are stored split into pieces. The split is a plain byte
// split: concatenating the pieces in order reproduces the original zip
// exactly, and the reader is fed the pieces one after another.
package bundle

import (
	"fmt"
	"time"
)

// ArchiveName returns the name a backup started at time t is saved under.
// The name encodes the date and the second of the day, so names from
// successive backups sort chronologically.
func ArchiveName(t time.Time) string {
	seconds := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return fmt.Sprintf("%s-%05d.zip", t.Format("2006-01-02"), seconds)
}

// PieceName returns the name of the n-th piece of the archive base. Piece 0
// is the archive itself, unsuffixed; later pieces carry a numeric suffix.
func PieceName(base string, n int) string {
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s.%03d", base, n)
}
