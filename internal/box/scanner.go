// Package box scans the top-level boxes of an MP4 file (ftyp, moov,
// mdat, and anything else sitting alongside them) without reading their
// payloads, mirroring mp4_split's leaf_atom walk over the whole file.
package box

import (
	"io"

	"github.com/teocci/go-mp4-splitter/internal/bitio"
	"github.com/teocci/go-mp4-splitter/mp4io"
)

// Entry describes one top-level box: its tag, its header length (8 or
// 16 bytes, depending on whether the 64-bit size form was used), and
// its position and total size (header included) within the file.
type Entry struct {
	Tag        mp4io.Tag
	Offset     int64
	Size       int64
	HeaderSize int
}

// BodyOffset returns the file offset of the box's payload, past its header.
func (e Entry) BodyOffset() int64 { return e.Offset + int64(e.HeaderSize) }

// BodySize returns the size of the box's payload, excluding its header.
func (e Entry) BodySize() int64 { return e.Size - int64(e.HeaderSize) }

// Scanner walks the top-level boxes of an io.ReadSeeker in order,
// reading only 8 or 16 header bytes per box before seeking past its
// body to the next one.
type Scanner struct {
	rs    io.ReadSeeker
	size  int64
	pos   int64
	entry Entry
	err   error
}

// NewScanner returns a Scanner over rs, which contains exactly size
// bytes.
func NewScanner(rs io.ReadSeeker, size int64) *Scanner {
	return &Scanner{rs: rs, size: size}
}

// Next advances to the next top-level box. It returns false at end of
// file or on error; call Err to distinguish the two.
func (s *Scanner) Next() bool {
	if s.err != nil || s.pos >= s.size {
		return false
	}

	var hdr [16]byte
	start := s.pos
	if _, err := io.ReadFull(s.rs, hdr[:8]); err != nil {
		if err != io.EOF {
			s.err = err
		}
		return false
	}

	return s.next(hdr, start)
}

func (s *Scanner) next(hdr [16]byte, start int64) bool {
	size := int64(bitio.U32BE(hdr[:4]))
	tag := mp4io.Tag(bitio.U32BE(hdr[4:8]))
	headerSize := 8

	if size == 1 {
		if _, err := io.ReadFull(s.rs, hdr[8:16]); err != nil {
			s.err = err
			return false
		}
		size = int64(bitio.U64BE(hdr[8:16]))
		headerSize = 16
	} else if size == 0 {
		size = s.size - start
	}

	if size < int64(headerSize) || start+size > s.size {
		s.err = mp4io.ErrTruncated
		return false
	}

	s.entry = Entry{Tag: tag, Offset: start, Size: size, HeaderSize: headerSize}

	next := start + size
	if _, err := s.rs.Seek(next, io.SeekStart); err != nil {
		s.err = err
		return false
	}
	s.pos = next
	return true
}

// Entry returns the box most recently found by Next.
func (s *Scanner) Entry() Entry { return s.entry }

// Err returns the first non-EOF error encountered.
func (s *Scanner) Err() error { return s.err }

// ReadBody reads the current entry's body into a freshly allocated
// slice, seeking back to the scanner's current position afterward so
// subsequent Next calls continue correctly.
func (s *Scanner) ReadBody() ([]byte, error) {
	saved := s.pos
	if _, err := s.rs.Seek(s.entry.BodyOffset(), io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, s.entry.BodySize())
	if _, err := io.ReadFull(s.rs, buf); err != nil {
		return nil, err
	}
	if _, err := s.rs.Seek(saved, io.SeekStart); err != nil {
		return nil, err
	}
	return buf, nil
}
