package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// ErrAborted is the result of a writer that was told to abandon its archive.
var ErrAborted = errors.New("archive aborted")

// Result is the outcome of a Writer. Exactly one Result is delivered on
// Done(): either the finished archive bytes or the first error hit while
// building it.
type Result struct {
	Data []byte
	Err  error
}

// A Writer builds a zip archive in the background while the caller keeps
// scanning for more files to add. Entries are compressed as they arrive.
// Call Add for each file, then Finish; the completed archive arrives on
// Done(). Abort abandons the archive; after an abort Add returns
// immediately, so a scan loop can bail out without draining anything.
//
// A Writer is not safe for use by multiple goroutines. Add must not be
// called after Finish.
type Writer struct {
	in    chan entry
	abort chan struct{}
	done  chan Result
	once  sync.Once
}

type entry struct {
	name  string
	data  []byte
	mtime time.Time
}

// NewWriter creates a Writer and starts its background builder.
func NewWriter() *Writer {
	w := &Writer{
		in:    make(chan entry),
		abort: make(chan struct{}),
		done:  make(chan Result, 1),
	}
	go w.run()
	return w
}

// Add appends one file to the archive.
func (w *Writer) Add(name string, data []byte, mtime time.Time) {
	select {
	case w.in <- entry{name: name, data: data, mtime: mtime}:
	case <-w.abort:
	}
}

// Finish tells the builder no more entries are coming. The archive, or the
// error that ruined it, is then delivered on Done().
func (w *Writer) Finish() {
	close(w.in)
}

// Abort abandons the archive. Safe to call more than once.
func (w *Writer) Abort() {
	w.once.Do(func() { close(w.abort) })
}

// Done returns the channel the single Result is delivered on.
func (w *Writer) Done() <-chan Result {
	return w.done
}

func (w *Writer) run() {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	var err error
	for {
		select {
		case e, ok := <-w.in:
			if !ok {
				if err == nil {
					err = zw.Close()
				}
				if err != nil {
					w.done <- Result{Err: err}
					return
				}
				w.done <- Result{Data: buf.Bytes()}
				return
			}
			if err != nil {
				// keep draining so Add never blocks
				continue
			}
			err = writeEntry(zw, e)
		case <-w.abort:
			w.done <- Result{Err: ErrAborted}
			return
		}
	}
}

// writeEntry compresses the entry up front so its exact sizes and checksum
// can be recorded in the local file header. That keeps data descriptors out
// of the archive, which the streaming reader depends on.
func writeEntry(zw *zip.Writer, e entry) error {
	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return errors.Wrap(err, "bundle")
	}
	if _, err = fw.Write(e.data); err != nil {
		return errors.Wrapf(err, "bundle: compress %s", e.name)
	}
	if err = fw.Close(); err != nil {
		return errors.Wrapf(err, "bundle: compress %s", e.name)
	}

	header := &zip.FileHeader{
		Name:               e.name,
		Method:             zip.Deflate,
		CRC32:              crc32.ChecksumIEEE(e.data),
		CompressedSize64:   uint64(compressed.Len()),
		UncompressedSize64: uint64(len(e.data)),
	}
	header.SetModTime(e.mtime)
	// CreateRaw won't add the unix timestamp extra itself, and the DOS
	// fields only hold two-second resolution
	var ts [9]byte
	binary.LittleEndian.PutUint16(ts[0:], unixTimeExtraID)
	binary.LittleEndian.PutUint16(ts[2:], 5)
	ts[4] = 1 // mtime present
	binary.LittleEndian.PutUint32(ts[5:], uint32(e.mtime.Unix()))
	header.Extra = ts[:]
	raw, err := zw.CreateRaw(header)
	if err != nil {
		return errors.Wrapf(err, "bundle: add %s", e.name)
	}
	_, err = raw.Write(compressed.Bytes())
	return errors.Wrapf(err, "bundle: add %s", e.name)
}
