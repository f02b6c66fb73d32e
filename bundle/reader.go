package bundle

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// ErrCorrupt means the byte stream is not an archive this package wrote, or
// it was damaged in storage.
var ErrCorrupt = errors.New("corrupt archive")

// ErrStop is returned by a Sink to stop the scan early. The Reader reports
// itself done and ignores any further input.
var ErrStop = errors.New("stop scanning")

// An Accept decides, from the entry name alone, whether an entry's contents
// are wanted. Rejected entries are skipped without being decompressed.
type Accept func(name string) bool

// A Sink receives each accepted entry. Returning ErrStop ends the scan;
// any other error aborts it.
type Sink func(name string, mtime time.Time, data []byte) error

// A Reader scans a zip archive fed to it as a sequence of byte chunks, in
// order but split at arbitrary boundaries. It never seeks, so an archive
// stored in pieces can be processed piece by piece, and the caller can stop
// fetching pieces as soon as Done reports true.
//
// Only archives whose local headers carry sizes and checksums can be
// scanned this way; entries written with trailing data descriptors are
// reported as corrupt.
type Reader struct {
	accept Accept
	sink   Sink

	buf   []byte
	state int
	done  bool
	err   error

	// current entry
	name      string
	mtime     time.Time
	method    uint16
	crc       uint32
	remaining int
	usize     int
	nameLen   int
	extraLen  int
	want      bool
	body      []byte
}

const (
	stateHeader = iota
	stateName
	stateBody
)

const (
	localFileSig    = 0x04034b50
	centralDirSig   = 0x02014b50
	endOfCentralSig = 0x06054b50 // first record of an empty archive
	unixTimeExtraID = 0x5455
)

// NewReader creates a Reader delivering entries accepted by accept to sink.
// A nil accept takes every entry.
func NewReader(accept Accept, sink Sink) *Reader {
	return &Reader{accept: accept, sink: sink}
}

// Done reports whether scanning is finished, either because the end of the
// entry list was reached or because the sink stopped it. Once done, further
// input is ignored.
func (r *Reader) Done() bool {
	return r.done
}

// Close checks that the archive was consumed cleanly. It returns the first
// scan error, or ErrCorrupt if the input ended in the middle of an entry.
func (r *Reader) Close() error {
	if r.err != nil {
		return r.err
	}
	if !r.done {
		return errors.Wrap(ErrCorrupt, "truncated archive")
	}
	return nil
}

// Feed gives the Reader the next chunk of the archive.
func (r *Reader) Feed(p []byte) error {
	if r.err != nil {
		return r.err
	}
	if r.done {
		return nil
	}
	r.buf = append(r.buf, p...)
	for {
		switch r.state {
		case stateHeader:
			if len(r.buf) < 4 {
				return nil
			}
			switch binary.LittleEndian.Uint32(r.buf) {
			case centralDirSig, endOfCentralSig:
				// entries are over. The central directory repeats
				// what the local headers already told us.
				r.done = true
				r.buf = nil
				return nil
			case localFileSig:
			default:
				return r.fail("bad header signature")
			}
			if len(r.buf) < 30 {
				return nil
			}
			h := r.buf[4:30]
			flags := binary.LittleEndian.Uint16(h[2:])
			if flags&0x0008 != 0 {
				return r.fail("entry uses a data descriptor")
			}
			r.method = binary.LittleEndian.Uint16(h[4:])
			dostime := binary.LittleEndian.Uint16(h[6:])
			dosdate := binary.LittleEndian.Uint16(h[8:])
			r.crc = binary.LittleEndian.Uint32(h[10:])
			csize := binary.LittleEndian.Uint32(h[14:])
			usize := binary.LittleEndian.Uint32(h[18:])
			if csize == 0xffffffff || usize == 0xffffffff {
				return r.fail("zip64 entry")
			}
			r.remaining = int(csize)
			r.usize = int(usize)
			r.nameLen = int(binary.LittleEndian.Uint16(h[22:]))
			r.extraLen = int(binary.LittleEndian.Uint16(h[24:]))
			r.mtime = msdosTime(dosdate, dostime)
			r.buf = r.buf[30:]
			r.state = stateName
		case stateName:
			n := r.nameLen + r.extraLen
			if len(r.buf) < n {
				return nil
			}
			r.name = string(r.buf[:r.nameLen])
			if t, ok := unixTimeExtra(r.buf[r.nameLen:n]); ok {
				r.mtime = t
			}
			r.buf = r.buf[n:]
			r.want = r.accept == nil || r.accept(r.name)
			r.body = nil
			r.state = stateBody
		case stateBody:
			take := r.remaining
			if take > len(r.buf) {
				take = len(r.buf)
			}
			if r.want {
				r.body = append(r.body, r.buf[:take]...)
			}
			r.buf = r.buf[take:]
			r.remaining -= take
			if r.remaining > 0 {
				return nil
			}
			if r.want {
				if err := r.deliver(); err != nil {
					return err
				}
				if r.done {
					return nil
				}
			}
			r.state = stateHeader
		}
	}
}

// deliver decompresses and checks the finished entry, then hands it to the
// sink.
func (r *Reader) deliver() error {
	var data []byte
	switch r.method {
	case 0: // stored
		data = r.body
	case 8: // deflated
		fr := flate.NewReader(bytes.NewReader(r.body))
		var err error
		data, err = io.ReadAll(fr)
		fr.Close()
		if err != nil {
			return r.fail("bad compressed data in " + r.name)
		}
	default:
		return r.fail("unknown compression method in " + r.name)
	}
	if len(data) != r.usize || crc32.ChecksumIEEE(data) != r.crc {
		return r.fail("checksum mismatch in " + r.name)
	}
	r.body = nil
	err := r.sink(r.name, r.mtime, data)
	if err == ErrStop {
		r.done = true
		r.buf = nil
		return nil
	}
	if err != nil {
		r.err = err
	}
	return err
}

func (r *Reader) fail(msg string) error {
	r.err = errors.Wrap(ErrCorrupt, msg)
	return r.err
}

// msdosTime converts the header's DOS date and time fields. Used only when
// an entry has no unix timestamp extra.
func msdosTime(d, t uint16) time.Time {
	return time.Date(
		int(d>>9)+1980, time.Month(d>>5&0xf), int(d&0x1f),
		int(t>>11), int(t>>5&0x3f), int(t&0x1f)*2, 0,
		time.UTC)
}

// unixTimeExtra digs the extended timestamp out of an entry's extra field.
func unixTimeExtra(extra []byte) (time.Time, bool) {
	for len(extra) >= 4 {
		tag := binary.LittleEndian.Uint16(extra)
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		if len(extra) < 4+size {
			break
		}
		field := extra[4 : 4+size]
		if tag == unixTimeExtraID && size >= 5 && field[0]&1 != 0 {
			sec := int64(int32(binary.LittleEndian.Uint32(field[1:])))
			return time.Unix(sec, 0).UTC(), true
		}
		extra = extra[4+size:]
	}
	return time.Time{}, false
}
