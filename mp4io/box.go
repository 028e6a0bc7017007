// Package mp4io is a typed model of the subset of ISO Base Media File
// Format (MP4/QuickTime) boxes that the splitter understands: moov and
// everything nested beneath it. It knows how to parse a box subtree
// from bytes, mutate the sample tables in place, and serialize the
// subtree back out, preserving any box it does not recognize.
package mp4io

import (
	"errors"
	"fmt"

	"github.com/teocci/go-mp4-splitter/internal/bitio"
)

// ErrShortBuffer is returned when a box's declared size exceeds the
// bytes actually available to read it.
var ErrShortBuffer = bitio.ErrShortBuffer

// ErrTruncated is returned by the box scanner when a top-level box
// extends past the end of the file.
var ErrTruncated = errors.New("mp4io: truncated box")

// ErrTooManyTracks is returned when a moov box declares more video or
// sound trak children than MaxTracks.
var ErrTooManyTracks = errors.New("mp4io: too many tracks")

// ErrNoTracks is returned when a moov box contains no video or sound
// track after unrecognized handler types are discarded.
var ErrNoTracks = errors.New("mp4io: moov has no video or sound tracks")

// MissingBoxError reports that a mandatory child box was absent from
// its parent container.
type MissingBoxError struct {
	Parent Tag
	Tag    Tag
}

func (e *MissingBoxError) Error() string {
	return fmt.Sprintf("mp4io: %s: missing mandatory box %s", e.Parent, e.Tag)
}

// Tag is a 4-byte big-endian box type, e.g. "moov" or "stts".
type Tag uint32

func (t Tag) String() string {
	var b [4]byte
	bitio.PutU32BE(b[:], uint32(t))
	for i := range b {
		if b[i] == 0 {
			b[i] = ' '
		}
	}
	return string(b[:])
}

// StringToTag packs the first four bytes of s into a Tag.
func StringToTag(s string) Tag {
	var b [4]byte
	copy(b[:], s)
	return Tag(bitio.U32BE(b[:]))
}

// Atom is satisfied by every box type this package models.
type Atom interface {
	Tag() Tag
	Len() int
	Marshal(b []byte) int
	Children() []Atom
}

// AtomPos records the position and size at which an atom was parsed.
// Zero value for atoms built in memory rather than parsed.
type AtomPos struct {
	Offset int
	Size   int
}

// Pos returns the offset and size recorded at parse time.
func (p AtomPos) Pos() (int, int) {
	return p.Offset, p.Size
}

func (p *AtomPos) setPos(offset, size int) {
	p.Offset, p.Size = offset, size
}

// RawBox is a box preserved verbatim: either one whose tag this package
// does not model (an "unknown" child, spec §3) or one deliberately kept
// opaque (stsd, spec §4.3 Non-goal). Data holds the full box including
// its 8-byte (or 16-byte, for the 64-bit size form) header.
type RawBox struct {
	Type Tag
	Data []byte
	AtomPos
}

func (r RawBox) Tag() Tag { return r.Type }

func (r RawBox) Len() int { return len(r.Data) }

func (r RawBox) Marshal(b []byte) int {
	return copy(b, r.Data)
}

func (r RawBox) Children() []Atom { return nil }

// readRawBox wraps the bytes of one full box (header + payload) already
// sliced out by the caller.
func readRawBox(tag Tag, full []byte, offset int) RawBox {
	r := RawBox{Type: tag, Data: full}
	r.setPos(offset, len(full))
	return r
}
