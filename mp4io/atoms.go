package mp4io

import (
	"github.com/teocci/go-mp4-splitter/internal/bitio"
)

var (
	TagFtyp = StringToTag("ftyp")
	TagMoov = StringToTag("moov")
	TagMvhd = StringToTag("mvhd")
	TagTrak = StringToTag("trak")
	TagTkhd = StringToTag("tkhd")
	TagMdia = StringToTag("mdia")
	TagMdhd = StringToTag("mdhd")
	TagHdlr = StringToTag("hdlr")
	TagMinf = StringToTag("minf")
	TagVmhd = StringToTag("vmhd")
	TagStbl = StringToTag("stbl")
	TagStsd = StringToTag("stsd")
	TagStts = StringToTag("stts")
	TagStss = StringToTag("stss")
	TagStsc = StringToTag("stsc")
	TagStsz = StringToTag("stsz")
	TagStco = StringToTag("stco")
	TagCo64 = StringToTag("co64")
	TagCtts = StringToTag("ctts")
	TagMdat = StringToTag("mdat")
	TagFree = StringToTag("free")
)

func boxHeaderLen(size int) int {
	if size > 0xffffffff {
		return 16
	}
	return 8
}

func putBoxHeader(b []byte, tag Tag, size int) int {
	if size > 0xffffffff {
		bitio.PutU32BE(b[0:4], 1)
		bitio.PutU32BE(b[4:8], uint32(tag))
		bitio.PutU64BE(b[8:16], uint64(size))
		return 16
	}
	bitio.PutU32BE(b[0:4], uint32(size))
	bitio.PutU32BE(b[4:8], uint32(tag))
	return 8
}

// readBoxHeader parses a box header at b[offset:] and returns the tag,
// the offset of the box body, the total box length (header+body), and
// the number of header bytes consumed. size==0 (extends to end of
// parent) is not meaningful once a box has been sliced out of its
// parent's buffer by the caller, so it is rejected here.
func readBoxHeader(b []byte, offset int) (tag Tag, bodyOffset, boxLen, hdrLen int, err error) {
	if err = bitio.NeedBytes(b[offset:], 8); err != nil {
		return
	}
	size := bitio.U32BE(b[offset:])
	tag = Tag(bitio.U32BE(b[offset+4:]))
	if size == 1 {
		if err = bitio.NeedBytes(b[offset:], 16); err != nil {
			return
		}
		boxLen = int(bitio.U64BE(b[offset+8:]))
		hdrLen = 16
	} else {
		boxLen = int(size)
		hdrLen = 8
	}
	bodyOffset = offset + hdrLen
	if boxLen < hdrLen {
		err = ErrShortBuffer
		return
	}
	if err = bitio.NeedBytes(b[offset:], boxLen); err != nil {
		return
	}
	return
}

// unknownCollector accumulates children this package does not model into
// a slice of RawBox, in the order they were encountered, exactly as
// the reference splitter's unknown_atom_ list preserves foreign boxes for replay
// on write (spec §3, unknown-box preservation).
type unknownCollector struct {
	boxes []RawBox
}

func (u *unknownCollector) add(tag Tag, b []byte, offset, boxLen int) {
	full := make([]byte, boxLen)
	copy(full, b[offset:offset+boxLen])
	u.boxes = append(u.boxes, readRawBox(tag, full, offset))
}

func marshalUnknown(unknown []RawBox, b []byte) int {
	n := 0
	for _, u := range unknown {
		n += u.Marshal(b[n:])
	}
	return n
}

func lenUnknown(unknown []RawBox) int {
	n := 0
	for _, u := range unknown {
		n += u.Len()
	}
	return n
}

func childrenUnknown(unknown []RawBox) []Atom {
	out := make([]Atom, 0, len(unknown))
	for _, u := range unknown {
		out = append(out, u)
	}
	return out
}

// -- mvhd --------------------------------------------------------------

// MovieHeader is the mvhd box: overall timescale and duration of the movie.
type MovieHeader struct {
	Version          uint8
	Flags            uint32
	CreationTime     uint64
	ModificationTime uint64
	TimeScale        uint32
	Duration         uint64
	Rate             int32
	Volume           int16
	Reserved1        uint16
	Reserved2        [2]uint32
	Matrix           [9]int32
	PreDefined       [6]int32
	NextTrackID      uint32
	AtomPos
}

func (a *MovieHeader) Tag() Tag          { return TagMvhd }
func (a *MovieHeader) Children() []Atom  { return nil }

func (a *MovieHeader) Len() int {
	if a.Version == 1 {
		return 4 + 28 + 16 + 36 + 24 + 4
	}
	return 4 + 16 + 16 + 36 + 24 + 4
}

func (a *MovieHeader) Marshal(b []byte) int {
	n := 0
	b[n] = a.Version
	n++
	bitio.PutU24BE(b[n:], a.Flags)
	n += 3
	if a.Version == 1 {
		bitio.PutU64BE(b[n:], a.CreationTime)
		n += 8
		bitio.PutU64BE(b[n:], a.ModificationTime)
		n += 8
		bitio.PutU32BE(b[n:], a.TimeScale)
		n += 4
		bitio.PutU64BE(b[n:], a.Duration)
		n += 8
	} else {
		bitio.PutU32BE(b[n:], uint32(a.CreationTime))
		n += 4
		bitio.PutU32BE(b[n:], uint32(a.ModificationTime))
		n += 4
		bitio.PutU32BE(b[n:], a.TimeScale)
		n += 4
		bitio.PutU32BE(b[n:], uint32(a.Duration))
		n += 4
	}
	bitio.PutI32BE(b[n:], a.Rate)
	n += 4
	bitio.PutI16BE(b[n:], a.Volume)
	n += 2
	bitio.PutU16BE(b[n:], a.Reserved1)
	n += 2
	for _, r := range a.Reserved2 {
		bitio.PutU32BE(b[n:], r)
		n += 4
	}
	for _, m := range a.Matrix {
		bitio.PutI32BE(b[n:], m)
		n += 4
	}
	for _, p := range a.PreDefined {
		bitio.PutI32BE(b[n:], p)
		n += 4
	}
	bitio.PutU32BE(b[n:], a.NextTrackID)
	n += 4
	return n
}

func unmarshalMvhd(b []byte, offset int) (*MovieHeader, error) {
	a := &MovieHeader{}
	if err := bitio.NeedBytes(b, 4); err != nil {
		return nil, err
	}
	a.Version = b[0]
	a.Flags = bitio.U24BE(b[1:])
	p := 4
	if a.Version == 1 {
		if err := bitio.NeedBytes(b, p+28); err != nil {
			return nil, err
		}
		a.CreationTime = bitio.U64BE(b[p:])
		a.ModificationTime = bitio.U64BE(b[p+8:])
		a.TimeScale = bitio.U32BE(b[p+16:])
		a.Duration = bitio.U64BE(b[p+20:])
		p += 28
	} else {
		if err := bitio.NeedBytes(b, p+16); err != nil {
			return nil, err
		}
		a.CreationTime = uint64(bitio.U32BE(b[p:]))
		a.ModificationTime = uint64(bitio.U32BE(b[p+4:]))
		a.TimeScale = bitio.U32BE(b[p+8:])
		a.Duration = uint64(bitio.U32BE(b[p+12:]))
		p += 16
	}
	if err := bitio.NeedBytes(b, p+80); err != nil {
		return nil, err
	}
	a.Rate = bitio.I32BE(b[p:])
	a.Volume = bitio.I16BE(b[p+4:])
	a.Reserved1 = bitio.U16BE(b[p+6:])
	a.Reserved2[0] = bitio.U32BE(b[p+8:])
	a.Reserved2[1] = bitio.U32BE(b[p+12:])
	p += 16
	for i := range a.Matrix {
		a.Matrix[i] = bitio.I32BE(b[p:])
		p += 4
	}
	for i := range a.PreDefined {
		a.PreDefined[i] = bitio.I32BE(b[p:])
		p += 4
	}
	a.NextTrackID = bitio.U32BE(b[p:])
	p += 4
	a.setPos(offset, p)
	return a, nil
}

// -- tkhd --------------------------------------------------------------

// TrackHeader is the tkhd box: per-track identity, duration, and geometry.
type TrackHeader struct {
	Version          uint8
	Flags            uint32
	CreationTime     uint64
	ModificationTime uint64
	TrackID          uint32
	Reserved         uint32
	Duration         uint64
	Reserved2        [2]uint32
	Layer            int16
	AlternateGroup   int16
	Volume           int16
	Reserved3        uint16
	Matrix           [9]int32
	Width            uint32
	Height           uint32
	AtomPos
}

func (a *TrackHeader) Tag() Tag         { return TagTkhd }
func (a *TrackHeader) Children() []Atom { return nil }

func (a *TrackHeader) Len() int {
	if a.Version == 1 {
		return 4 + 32 + 16 + 36 + 8
	}
	return 4 + 20 + 16 + 36 + 8
}

func (a *TrackHeader) Marshal(b []byte) int {
	n := 0
	b[n] = a.Version
	n++
	bitio.PutU24BE(b[n:], a.Flags)
	n += 3
	if a.Version == 1 {
		bitio.PutU64BE(b[n:], a.CreationTime)
		n += 8
		bitio.PutU64BE(b[n:], a.ModificationTime)
		n += 8
		bitio.PutU32BE(b[n:], a.TrackID)
		n += 4
		bitio.PutU32BE(b[n:], a.Reserved)
		n += 4
		bitio.PutU64BE(b[n:], a.Duration)
		n += 8
	} else {
		bitio.PutU32BE(b[n:], uint32(a.CreationTime))
		n += 4
		bitio.PutU32BE(b[n:], uint32(a.ModificationTime))
		n += 4
		bitio.PutU32BE(b[n:], a.TrackID)
		n += 4
		bitio.PutU32BE(b[n:], a.Reserved)
		n += 4
		bitio.PutU32BE(b[n:], uint32(a.Duration))
		n += 4
	}
	bitio.PutU32BE(b[n:], a.Reserved2[0])
	n += 4
	bitio.PutU32BE(b[n:], a.Reserved2[1])
	n += 4
	bitio.PutI16BE(b[n:], a.Layer)
	n += 2
	bitio.PutI16BE(b[n:], a.AlternateGroup)
	n += 2
	bitio.PutI16BE(b[n:], a.Volume)
	n += 2
	bitio.PutU16BE(b[n:], a.Reserved3)
	n += 2
	for _, m := range a.Matrix {
		bitio.PutI32BE(b[n:], m)
		n += 4
	}
	bitio.PutU32BE(b[n:], a.Width)
	n += 4
	bitio.PutU32BE(b[n:], a.Height)
	n += 4
	return n
}

func unmarshalTkhd(b []byte, offset int) (*TrackHeader, error) {
	a := &TrackHeader{}
	if err := bitio.NeedBytes(b, 4); err != nil {
		return nil, err
	}
	a.Version = b[0]
	a.Flags = bitio.U24BE(b[1:])
	p := 4
	if a.Version == 1 {
		if err := bitio.NeedBytes(b, p+32); err != nil {
			return nil, err
		}
		a.CreationTime = bitio.U64BE(b[p:])
		a.ModificationTime = bitio.U64BE(b[p+8:])
		a.TrackID = bitio.U32BE(b[p+16:])
		a.Reserved = bitio.U32BE(b[p+20:])
		a.Duration = bitio.U64BE(b[p+24:])
		p += 32
	} else {
		if err := bitio.NeedBytes(b, p+20); err != nil {
			return nil, err
		}
		a.CreationTime = uint64(bitio.U32BE(b[p:]))
		a.ModificationTime = uint64(bitio.U32BE(b[p+4:]))
		a.TrackID = bitio.U32BE(b[p+8:])
		a.Reserved = bitio.U32BE(b[p+12:])
		a.Duration = uint64(bitio.U32BE(b[p+16:]))
		p += 20
	}
	if err := bitio.NeedBytes(b, p+60); err != nil {
		return nil, err
	}
	a.Reserved2[0] = bitio.U32BE(b[p:])
	a.Reserved2[1] = bitio.U32BE(b[p+4:])
	a.Layer = bitio.I16BE(b[p+8:])
	a.AlternateGroup = bitio.I16BE(b[p+10:])
	a.Volume = bitio.I16BE(b[p+12:])
	a.Reserved3 = bitio.U16BE(b[p+14:])
	p += 16
	for i := range a.Matrix {
		a.Matrix[i] = bitio.I32BE(b[p:])
		p += 4
	}
	a.Width = bitio.U32BE(b[p:])
	a.Height = bitio.U32BE(b[p+4:])
	p += 8
	a.setPos(offset, p)
	return a, nil
}

// -- mdhd --------------------------------------------------------------

// MediaHeader is the mdhd box: the media timescale and duration used by
// every time-to-sample and composition-offset table in this track.
type MediaHeader struct {
	Version          uint8
	Flags            uint32
	CreationTime     uint64
	ModificationTime uint64
	TimeScale        uint32
	Duration         uint64
	Language         [3]byte // ISO-639-2/T packed 5-bit codes, unpacked to ASCII
	PreDefined       uint16
	AtomPos
}

func (a *MediaHeader) Tag() Tag         { return TagMdhd }
func (a *MediaHeader) Children() []Atom { return nil }

func (a *MediaHeader) Len() int {
	if a.Version == 1 {
		return 4 + 28 + 4
	}
	return 4 + 16 + 4
}

func (a *MediaHeader) Marshal(b []byte) int {
	n := 0
	b[n] = a.Version
	n++
	bitio.PutU24BE(b[n:], a.Flags)
	n += 3
	if a.Version == 1 {
		bitio.PutU64BE(b[n:], a.CreationTime)
		n += 8
		bitio.PutU64BE(b[n:], a.ModificationTime)
		n += 8
		bitio.PutU32BE(b[n:], a.TimeScale)
		n += 4
		bitio.PutU64BE(b[n:], a.Duration)
		n += 8
	} else {
		bitio.PutU32BE(b[n:], uint32(a.CreationTime))
		n += 4
		bitio.PutU32BE(b[n:], uint32(a.ModificationTime))
		n += 4
		bitio.PutU32BE(b[n:], a.TimeScale)
		n += 4
		bitio.PutU32BE(b[n:], uint32(a.Duration))
		n += 4
	}
	lang := (uint16(a.Language[0]-0x60) << 10) |
		(uint16(a.Language[1]-0x60) << 5) |
		uint16(a.Language[2]-0x60)
	bitio.PutU16BE(b[n:], lang)
	n += 2
	bitio.PutU16BE(b[n:], a.PreDefined)
	n += 2
	return n
}

func unmarshalMdhd(b []byte, offset int) (*MediaHeader, error) {
	a := &MediaHeader{}
	if err := bitio.NeedBytes(b, 4); err != nil {
		return nil, err
	}
	a.Version = b[0]
	a.Flags = bitio.U24BE(b[1:])
	p := 4
	if a.Version == 1 {
		if err := bitio.NeedBytes(b, p+28); err != nil {
			return nil, err
		}
		a.CreationTime = bitio.U64BE(b[p:])
		a.ModificationTime = bitio.U64BE(b[p+8:])
		a.TimeScale = bitio.U32BE(b[p+16:])
		a.Duration = bitio.U64BE(b[p+20:])
		p += 28
	} else {
		if err := bitio.NeedBytes(b, p+16); err != nil {
			return nil, err
		}
		a.CreationTime = uint64(bitio.U32BE(b[p:]))
		a.ModificationTime = uint64(bitio.U32BE(b[p+4:]))
		a.TimeScale = bitio.U32BE(b[p+8:])
		a.Duration = uint64(bitio.U32BE(b[p+12:]))
		p += 16
	}
	if err := bitio.NeedBytes(b, p+4); err != nil {
		return nil, err
	}
	lang := bitio.U16BE(b[p:])
	a.Language[0] = byte((lang>>10)&0x1f) + 0x60
	a.Language[1] = byte((lang>>5)&0x1f) + 0x60
	a.Language[2] = byte(lang&0x1f) + 0x60
	a.PreDefined = bitio.U16BE(b[p+2:])
	p += 4
	a.setPos(offset, p)
	return a, nil
}

// -- vmhd --------------------------------------------------------------

// VideoMediaInfo is the vmhd box, present only in video tracks.
type VideoMediaInfo struct {
	Version       uint8
	Flags         uint32
	GraphicsMode  uint16
	OpColor       [3]uint16
	AtomPos
}

func (a *VideoMediaInfo) Tag() Tag         { return TagVmhd }
func (a *VideoMediaInfo) Children() []Atom { return nil }
func (a *VideoMediaInfo) Len() int         { return 4 + 2 + 6 }

func (a *VideoMediaInfo) Marshal(b []byte) int {
	n := 0
	b[n] = a.Version
	n++
	bitio.PutU24BE(b[n:], a.Flags)
	n += 3
	bitio.PutU16BE(b[n:], a.GraphicsMode)
	n += 2
	for _, c := range a.OpColor {
		bitio.PutU16BE(b[n:], c)
		n += 2
	}
	return n
}

func unmarshalVmhd(b []byte, offset int) (*VideoMediaInfo, error) {
	if err := bitio.NeedBytes(b, 12); err != nil {
		return nil, err
	}
	a := &VideoMediaInfo{}
	a.Version = b[0]
	a.Flags = bitio.U24BE(b[1:])
	a.GraphicsMode = bitio.U16BE(b[4:])
	a.OpColor[0] = bitio.U16BE(b[6:])
	a.OpColor[1] = bitio.U16BE(b[8:])
	a.OpColor[2] = bitio.U16BE(b[10:])
	a.setPos(offset, 12)
	return a, nil
}

// -- hdlr --------------------------------------------------------------

// HandlerRefer is the hdlr box, identifying whether a track is video
// ("vide"), sound ("soun"), or something this splitter ignores.
type HandlerRefer struct {
	Version       uint8
	Flags         uint32
	PreDefined    uint32
	HandlerType   Tag
	Reserved      [3]uint32
	Name          string
	AtomPos
}

func (a *HandlerRefer) Tag() Tag         { return TagHdlr }
func (a *HandlerRefer) Children() []Atom { return nil }

func (a *HandlerRefer) Len() int {
	n := 4 + 4 + 4 + 12
	if a.Name != "" {
		if a.PreDefined == uint32(StringToTag("mhlr")) {
			n++
		}
		n += len(a.Name)
	}
	return n
}

func (a *HandlerRefer) Marshal(b []byte) int {
	n := 0
	b[n] = a.Version
	n++
	bitio.PutU24BE(b[n:], a.Flags)
	n += 3
	bitio.PutU32BE(b[n:], a.PreDefined)
	n += 4
	bitio.PutU32BE(b[n:], uint32(a.HandlerType))
	n += 4
	for _, r := range a.Reserved {
		bitio.PutU32BE(b[n:], r)
		n += 4
	}
	if a.Name != "" {
		if a.PreDefined == uint32(StringToTag("mhlr")) {
			b[n] = byte(len(a.Name))
			n++
		}
		n += copy(b[n:], a.Name)
	}
	return n
}

func unmarshalHdlr(b []byte, offset int) (*HandlerRefer, error) {
	if err := bitio.NeedBytes(b, 24); err != nil {
		return nil, err
	}
	a := &HandlerRefer{}
	a.Version = b[0]
	a.Flags = bitio.U24BE(b[1:])
	a.PreDefined = bitio.U32BE(b[4:])
	a.HandlerType = Tag(bitio.U32BE(b[8:]))
	a.Reserved[0] = bitio.U32BE(b[12:])
	a.Reserved[1] = bitio.U32BE(b[16:])
	a.Reserved[2] = bitio.U32BE(b[20:])
	p := 24
	if len(b) > p {
		rest := b[p:]
		if a.PreDefined == uint32(StringToTag("mhlr")) {
			length := int(rest[0])
			rest = rest[1:]
			if length > len(rest) {
				length = len(rest)
			}
			a.Name = string(rest[:length])
		} else {
			a.Name = string(rest)
		}
	}
	a.setPos(offset, len(b))
	return a, nil
}

// -- stts ----------------------------------------------------------------

// TimeToSampleEntry is one run of samples sharing the same duration.
type TimeToSampleEntry struct {
	SampleCount    uint32
	SampleDuration uint32
}

// TimeToSample is the stts box: run-length decoding-time deltas.
type TimeToSample struct {
	Version uint8
	Flags   uint32
	Entries []TimeToSampleEntry
	AtomPos
}

func (a *TimeToSample) Tag() Tag         { return TagStts }
func (a *TimeToSample) Children() []Atom { return nil }
func (a *TimeToSample) Len() int         { return 8 + 8*len(a.Entries) }

func (a *TimeToSample) Marshal(b []byte) int {
	n := 0
	b[n] = a.Version
	n++
	bitio.PutU24BE(b[n:], a.Flags)
	n += 3
	bitio.PutU32BE(b[n:], uint32(len(a.Entries)))
	n += 4
	for _, e := range a.Entries {
		bitio.PutU32BE(b[n:], e.SampleCount)
		n += 4
		bitio.PutU32BE(b[n:], e.SampleDuration)
		n += 4
	}
	return n
}

func unmarshalStts(b []byte, offset int) (*TimeToSample, error) {
	if err := bitio.NeedBytes(b, 8); err != nil {
		return nil, err
	}
	a := &TimeToSample{}
	a.Version = b[0]
	a.Flags = bitio.U24BE(b[1:])
	count := int(bitio.U32BE(b[4:]))
	if err := bitio.NeedBytes(b, 8+8*count); err != nil {
		return nil, err
	}
	p := 8
	a.Entries = make([]TimeToSampleEntry, count)
	for i := 0; i != count; i++ {
		a.Entries[i].SampleCount = bitio.U32BE(b[p:])
		a.Entries[i].SampleDuration = bitio.U32BE(b[p+4:])
		p += 8
	}
	a.setPos(offset, p)
	return a, nil
}

// -- stss ----------------------------------------------------------------

// SyncSample is the stss box: the list of random-access (keyframe)
// sample numbers, 1-based on the wire. Its absence means every sample
// in the track is a sync sample (typical for audio).
type SyncSample struct {
	Version       uint8
	Flags         uint32
	SampleNumbers []uint32
	AtomPos
}

func (a *SyncSample) Tag() Tag         { return TagStss }
func (a *SyncSample) Children() []Atom { return nil }
func (a *SyncSample) Len() int         { return 8 + 4*len(a.SampleNumbers) }

func (a *SyncSample) Marshal(b []byte) int {
	n := 0
	b[n] = a.Version
	n++
	bitio.PutU24BE(b[n:], a.Flags)
	n += 3
	bitio.PutU32BE(b[n:], uint32(len(a.SampleNumbers)))
	n += 4
	for _, s := range a.SampleNumbers {
		bitio.PutU32BE(b[n:], s)
		n += 4
	}
	return n
}

func unmarshalStss(b []byte, offset int) (*SyncSample, error) {
	if err := bitio.NeedBytes(b, 8); err != nil {
		return nil, err
	}
	a := &SyncSample{}
	a.Version = b[0]
	a.Flags = bitio.U24BE(b[1:])
	count := int(bitio.U32BE(b[4:]))
	if err := bitio.NeedBytes(b, 8+4*count); err != nil {
		return nil, err
	}
	p := 8
	a.SampleNumbers = make([]uint32, count)
	for i := 0; i != count; i++ {
		a.SampleNumbers[i] = bitio.U32BE(b[p:])
		p += 4
	}
	a.setPos(offset, p)
	return a, nil
}

// -- stsc ----------------------------------------------------------------

// SampleToChunkEntry describes a run of chunks starting at FirstChunk
// (1-based on the wire) that each hold SamplesPerChunk samples encoded
// with SampleDescID.
type SampleToChunkEntry struct {
	FirstChunk      uint32
	SamplesPerChunk uint32
	SampleDescID    uint32
}

// SampleToChunk is the stsc box.
type SampleToChunk struct {
	Version uint8
	Flags   uint32
	Entries []SampleToChunkEntry
	AtomPos
}

func (a *SampleToChunk) Tag() Tag         { return TagStsc }
func (a *SampleToChunk) Children() []Atom { return nil }
func (a *SampleToChunk) Len() int         { return 8 + 12*len(a.Entries) }

func (a *SampleToChunk) Marshal(b []byte) int {
	n := 0
	b[n] = a.Version
	n++
	bitio.PutU24BE(b[n:], a.Flags)
	n += 3
	bitio.PutU32BE(b[n:], uint32(len(a.Entries)))
	n += 4
	for _, e := range a.Entries {
		bitio.PutU32BE(b[n:], e.FirstChunk)
		n += 4
		bitio.PutU32BE(b[n:], e.SamplesPerChunk)
		n += 4
		bitio.PutU32BE(b[n:], e.SampleDescID)
		n += 4
	}
	return n
}

func unmarshalStsc(b []byte, offset int) (*SampleToChunk, error) {
	if err := bitio.NeedBytes(b, 8); err != nil {
		return nil, err
	}
	a := &SampleToChunk{}
	a.Version = b[0]
	a.Flags = bitio.U24BE(b[1:])
	count := int(bitio.U32BE(b[4:]))
	if err := bitio.NeedBytes(b, 8+12*count); err != nil {
		return nil, err
	}
	p := 8
	a.Entries = make([]SampleToChunkEntry, count)
	for i := 0; i != count; i++ {
		a.Entries[i].FirstChunk = bitio.U32BE(b[p:])
		a.Entries[i].SamplesPerChunk = bitio.U32BE(b[p+4:])
		a.Entries[i].SampleDescID = bitio.U32BE(b[p+8:])
		p += 12
	}
	a.setPos(offset, p)
	return a, nil
}

// -- stsz ----------------------------------------------------------------

// SampleSize is the stsz box. When SampleSize is non-zero every sample
// shares that size and EntrySizes is empty; otherwise EntrySizes holds
// one entry per sample.
type SampleSize struct {
	Version     uint8
	Flags       uint32
	SampleSize  uint32
	EntrySizes  []uint32
	AtomPos
}

func (a *SampleSize) Tag() Tag         { return TagStsz }
func (a *SampleSize) Children() []Atom { return nil }

func (a *SampleSize) Len() int {
	if a.SampleSize != 0 {
		return 12
	}
	return 12 + 4*len(a.EntrySizes)
}

func (a *SampleSize) Marshal(b []byte) int {
	n := 0
	b[n] = a.Version
	n++
	bitio.PutU24BE(b[n:], a.Flags)
	n += 3
	bitio.PutU32BE(b[n:], a.SampleSize)
	n += 4
	if a.SampleSize != 0 {
		bitio.PutU32BE(b[n:], uint32(len(a.EntrySizes)))
		n += 4
		return n
	}
	bitio.PutU32BE(b[n:], uint32(len(a.EntrySizes)))
	n += 4
	for _, s := range a.EntrySizes {
		bitio.PutU32BE(b[n:], s)
		n += 4
	}
	return n
}

func unmarshalStsz(b []byte, offset int) (*SampleSize, error) {
	if err := bitio.NeedBytes(b, 12); err != nil {
		return nil, err
	}
	a := &SampleSize{}
	a.Version = b[0]
	a.Flags = bitio.U24BE(b[1:])
	a.SampleSize = bitio.U32BE(b[4:])
	count := int(bitio.U32BE(b[8:]))
	p := 12
	if a.SampleSize == 0 {
		// A stsz that declares more entries than its body carries is
		// clamped to the entries actually present rather than failing,
		// so the tail chunk-offset rewrite still runs.
		avail := (len(b) - p) / 4
		if count > avail {
			count = avail
		}
		if err := bitio.NeedBytes(b, p+4*count); err != nil {
			return nil, err
		}
		a.EntrySizes = make([]uint32, count)
		for i := 0; i != count; i++ {
			a.EntrySizes[i] = bitio.U32BE(b[p:])
			p += 4
		}
	}
	a.setPos(offset, p)
	return a, nil
}

// -- stco / co64 -----------------------------------------------------------

// ChunkOffset is the stco or co64 box: absolute file offsets of each
// chunk's first sample. Offsets are always widened to 64 bits
// internally; Wide records which form was read so re-serialization can
// choose the same form unless growth forces an upgrade to co64.
type ChunkOffset struct {
	Version uint8
	Flags   uint32
	Offsets []uint64
	Wide    bool
	AtomPos
}

func (a *ChunkOffset) Tag() Tag {
	if a.Wide {
		return TagCo64
	}
	return TagStco
}

func (a *ChunkOffset) Children() []Atom { return nil }

func (a *ChunkOffset) Len() int {
	if a.Wide {
		return 8 + 8*len(a.Offsets)
	}
	return 8 + 4*len(a.Offsets)
}

func (a *ChunkOffset) Marshal(b []byte) int {
	n := 0
	b[n] = a.Version
	n++
	bitio.PutU24BE(b[n:], a.Flags)
	n += 3
	bitio.PutU32BE(b[n:], uint32(len(a.Offsets)))
	n += 4
	if a.Wide {
		for _, o := range a.Offsets {
			bitio.PutU64BE(b[n:], o)
			n += 8
		}
		return n
	}
	for _, o := range a.Offsets {
		bitio.PutU32BE(b[n:], uint32(o))
		n += 4
	}
	return n
}

func unmarshalStco(b []byte, offset int, wide bool) (*ChunkOffset, error) {
	if err := bitio.NeedBytes(b, 8); err != nil {
		return nil, err
	}
	a := &ChunkOffset{Wide: wide}
	a.Version = b[0]
	a.Flags = bitio.U24BE(b[1:])
	count := int(bitio.U32BE(b[4:]))
	p := 8
	stride := 4
	if wide {
		stride = 8
	}
	if err := bitio.NeedBytes(b, p+stride*count); err != nil {
		return nil, err
	}
	a.Offsets = make([]uint64, count)
	for i := 0; i != count; i++ {
		if wide {
			a.Offsets[i] = bitio.U64BE(b[p:])
		} else {
			a.Offsets[i] = uint64(bitio.U32BE(b[p:]))
		}
		p += stride
	}
	a.setPos(offset, p)
	return a, nil
}

// -- ctts ----------------------------------------------------------------

// CompositionOffsetEntry is one run of samples sharing a composition
// (presentation minus decode time) offset.
type CompositionOffsetEntry struct {
	SampleCount  uint32
	SampleOffset int32
}

// CompositionOffset is the ctts box, present only when decode order
// differs from presentation order (B-frames).
type CompositionOffset struct {
	Version uint8
	Flags   uint32
	Entries []CompositionOffsetEntry
	AtomPos
}

func (a *CompositionOffset) Tag() Tag         { return TagCtts }
func (a *CompositionOffset) Children() []Atom { return nil }
func (a *CompositionOffset) Len() int         { return 8 + 8*len(a.Entries) }

func (a *CompositionOffset) Marshal(b []byte) int {
	n := 0
	b[n] = a.Version
	n++
	bitio.PutU24BE(b[n:], a.Flags)
	n += 3
	bitio.PutU32BE(b[n:], uint32(len(a.Entries)))
	n += 4
	for _, e := range a.Entries {
		bitio.PutU32BE(b[n:], e.SampleCount)
		n += 4
		bitio.PutI32BE(b[n:], e.SampleOffset)
		n += 4
	}
	return n
}

func unmarshalCtts(b []byte, offset int) (*CompositionOffset, error) {
	if err := bitio.NeedBytes(b, 8); err != nil {
		return nil, err
	}
	a := &CompositionOffset{}
	a.Version = b[0]
	a.Flags = bitio.U24BE(b[1:])
	count := int(bitio.U32BE(b[4:]))
	if err := bitio.NeedBytes(b, 8+8*count); err != nil {
		return nil, err
	}
	p := 8
	a.Entries = make([]CompositionOffsetEntry, count)
	for i := 0; i != count; i++ {
		a.Entries[i].SampleCount = bitio.U32BE(b[p:])
		a.Entries[i].SampleOffset = bitio.I32BE(b[p+4:])
		p += 8
	}
	a.setPos(offset, p)
	return a, nil
}

// -- stbl ----------------------------------------------------------------

// SampleTable is the stbl box, the container for every table describing
// how samples map to time, size, sync points, and chunk offsets. Stsd
// is kept as an opaque RawBox: this package never rewrites sample
// descriptions (spec Non-goal), it only preserves whatever bytes were
// there.
type SampleTable struct {
	Stsd RawBox
	Stts *TimeToSample
	Stss *SyncSample // optional
	Stsc *SampleToChunk
	Stsz *SampleSize
	Stco *ChunkOffset
	Ctts *CompositionOffset // optional
	Unknown []RawBox
	AtomPos
}

func (a *SampleTable) Tag() Tag { return TagStbl }

func (a *SampleTable) Children() []Atom {
	c := childrenUnknown(a.Unknown)
	c = append(c, a.Stsd, a.Stts)
	if a.Stss != nil {
		c = append(c, a.Stss)
	}
	c = append(c, a.Stsc, a.Stsz, a.Stco)
	if a.Ctts != nil {
		c = append(c, a.Ctts)
	}
	return c
}

func (a *SampleTable) Len() int { return a.lenBoxed() }

// lenBoxed computes the total stbl body length by summing each child's
// full boxed length (header included). Stsd's Data already carries its
// header since it is a RawBox; every other child needs one added.
func (a *SampleTable) lenBoxed() int {
	n := lenUnknown(a.Unknown)
	n += a.Stsd.Len()
	n += boxHeaderLen(a.Stts.Len()) + a.Stts.Len()
	if a.Stss != nil {
		n += boxHeaderLen(a.Stss.Len()) + a.Stss.Len()
	}
	n += boxHeaderLen(a.Stsc.Len()) + a.Stsc.Len()
	n += boxHeaderLen(a.Stsz.Len()) + a.Stsz.Len()
	n += boxHeaderLen(a.Stco.Len()) + a.Stco.Len()
	if a.Ctts != nil {
		n += boxHeaderLen(a.Ctts.Len()) + a.Ctts.Len()
	}
	return n
}

func marshalBoxed(a Atom, b []byte) int {
	bodyLen := a.Len()
	total := boxHeaderLen(bodyLen) + bodyLen
	n := putBoxHeader(b, a.Tag(), total)
	n += a.Marshal(b[n:])
	return n
}

func (a *SampleTable) Marshal(b []byte) int {
	n := marshalUnknown(a.Unknown, b)
	n += copy(b[n:], a.Stsd.Data)
	n += marshalBoxed(a.Stts, b[n:])
	if a.Stss != nil {
		n += marshalBoxed(a.Stss, b[n:])
	}
	n += marshalBoxed(a.Stsc, b[n:])
	n += marshalBoxed(a.Stsz, b[n:])
	n += marshalBoxed(a.Stco, b[n:])
	if a.Ctts != nil {
		n += marshalBoxed(a.Ctts, b[n:])
	}
	return n
}

func unmarshalStbl(b []byte, offset int) (*SampleTable, error) {
	a := &SampleTable{}
	p := 0
	for p < len(b) {
		tag, bodyOff, boxLen, _, err := readBoxHeader(b, p)
		if err != nil {
			return nil, err
		}
		body := b[bodyOff : p+boxLen]
		switch tag {
		case TagStsd:
			full := make([]byte, boxLen)
			copy(full, b[p:p+boxLen])
			a.Stsd = readRawBox(tag, full, offset+p)
		case TagStts:
			v, err := unmarshalStts(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			a.Stts = v
		case TagStss:
			v, err := unmarshalStss(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			a.Stss = v
		case TagStsc:
			v, err := unmarshalStsc(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			a.Stsc = v
		case TagStsz:
			v, err := unmarshalStsz(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			a.Stsz = v
		case TagStco:
			v, err := unmarshalStco(body, offset+bodyOff, false)
			if err != nil {
				return nil, err
			}
			a.Stco = v
		case TagCo64:
			v, err := unmarshalStco(body, offset+bodyOff, true)
			if err != nil {
				return nil, err
			}
			a.Stco = v
		case TagCtts:
			v, err := unmarshalCtts(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			a.Ctts = v
		default:
			var uc unknownCollector
			uc.add(tag, b, p, boxLen)
			a.Unknown = append(a.Unknown, uc.boxes...)
		}
		p += boxLen
	}
	if a.Stts == nil {
		return nil, &MissingBoxError{Parent: TagStbl, Tag: TagStts}
	}
	if a.Stsc == nil {
		return nil, &MissingBoxError{Parent: TagStbl, Tag: TagStsc}
	}
	if a.Stsz == nil {
		return nil, &MissingBoxError{Parent: TagStbl, Tag: TagStsz}
	}
	if a.Stco == nil {
		return nil, &MissingBoxError{Parent: TagStbl, Tag: TagStco}
	}
	a.setPos(offset, p)
	return a, nil
}

// -- minf ----------------------------------------------------------------

// MediaInfo is the minf box. Vmhd is present for video tracks and nil
// for sound tracks; dinf (data reference) is treated as unknown since
// the splitter never needs to resolve sample data through it.
type MediaInfo struct {
	Vmhd    *VideoMediaInfo
	Stbl    *SampleTable
	Unknown []RawBox
	AtomPos
}

func (a *MediaInfo) Tag() Tag { return TagMinf }

func (a *MediaInfo) Children() []Atom {
	c := childrenUnknown(a.Unknown)
	if a.Vmhd != nil {
		c = append(c, a.Vmhd)
	}
	c = append(c, a.Stbl)
	return c
}

func (a *MediaInfo) Len() int {
	n := lenUnknown(a.Unknown)
	if a.Vmhd != nil {
		n += boxHeaderLen(a.Vmhd.Len()) + a.Vmhd.Len()
	}
	n += boxHeaderLen(a.Stbl.lenBoxed()) + a.Stbl.lenBoxed()
	return n
}

func (a *MediaInfo) Marshal(b []byte) int {
	n := marshalUnknown(a.Unknown, b)
	if a.Vmhd != nil {
		n += marshalBoxed(a.Vmhd, b[n:])
	}
	n += marshalBoxed(a.Stbl, b[n:])
	return n
}

func unmarshalMinf(b []byte, offset int) (*MediaInfo, error) {
	a := &MediaInfo{}
	p := 0
	for p < len(b) {
		tag, bodyOff, boxLen, _, err := readBoxHeader(b, p)
		if err != nil {
			return nil, err
		}
		body := b[bodyOff : p+boxLen]
		switch tag {
		case TagVmhd:
			v, err := unmarshalVmhd(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			a.Vmhd = v
		case TagStbl:
			v, err := unmarshalStbl(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			a.Stbl = v
		default:
			var uc unknownCollector
			uc.add(tag, b, p, boxLen)
			a.Unknown = append(a.Unknown, uc.boxes...)
		}
		p += boxLen
	}
	if a.Stbl == nil {
		return nil, &MissingBoxError{Parent: TagMinf, Tag: TagStbl}
	}
	a.setPos(offset, p)
	return a, nil
}

func (a *MediaInfo) lenBoxed() int { return a.Len() }

// -- mdia ------------------------------------------------------------------

// Media is the mdia box: the media header, handler type, and sample
// tables for one track.
type Media struct {
	Mdhd    *MediaHeader
	Hdlr    *HandlerRefer
	Minf    *MediaInfo
	Unknown []RawBox
	AtomPos
}

func (a *Media) Tag() Tag { return TagMdia }

func (a *Media) Children() []Atom {
	c := childrenUnknown(a.Unknown)
	return append(c, a.Mdhd, a.Hdlr, a.Minf)
}

func (a *Media) Len() int {
	n := lenUnknown(a.Unknown)
	n += boxHeaderLen(a.Mdhd.Len()) + a.Mdhd.Len()
	n += boxHeaderLen(a.Hdlr.Len()) + a.Hdlr.Len()
	n += boxHeaderLen(a.Minf.lenBoxed()) + a.Minf.lenBoxed()
	return n
}

func (a *Media) Marshal(b []byte) int {
	n := marshalUnknown(a.Unknown, b)
	n += marshalBoxed(a.Mdhd, b[n:])
	n += marshalBoxed(a.Hdlr, b[n:])
	n += marshalBoxed(a.Minf, b[n:])
	return n
}

func unmarshalMdia(b []byte, offset int) (*Media, error) {
	a := &Media{}
	p := 0
	for p < len(b) {
		tag, bodyOff, boxLen, _, err := readBoxHeader(b, p)
		if err != nil {
			return nil, err
		}
		body := b[bodyOff : p+boxLen]
		switch tag {
		case TagMdhd:
			v, err := unmarshalMdhd(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			a.Mdhd = v
		case TagHdlr:
			v, err := unmarshalHdlr(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			a.Hdlr = v
		case TagMinf:
			v, err := unmarshalMinf(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			a.Minf = v
		default:
			var uc unknownCollector
			uc.add(tag, b, p, boxLen)
			a.Unknown = append(a.Unknown, uc.boxes...)
		}
		p += boxLen
	}
	if a.Mdhd == nil {
		return nil, &MissingBoxError{Parent: TagMdia, Tag: TagMdhd}
	}
	if a.Hdlr == nil {
		return nil, &MissingBoxError{Parent: TagMdia, Tag: TagHdlr}
	}
	if a.Minf == nil {
		return nil, &MissingBoxError{Parent: TagMdia, Tag: TagMinf}
	}
	a.setPos(offset, p)
	return a, nil
}

func (a *Media) lenBoxed() int { return a.Len() }

// -- trak ------------------------------------------------------------------

// Track is the trak box: one media track (video or sound) plus the
// tables the splitter rewrites when it truncates the track to an
// interval.
type Track struct {
	Tkhd    *TrackHeader
	Mdia    *Media
	Unknown []RawBox
	AtomPos
}

func (a *Track) Tag() Tag { return TagTrak }

func (a *Track) Children() []Atom {
	c := childrenUnknown(a.Unknown)
	return append(c, a.Tkhd, a.Mdia)
}

func (a *Track) Len() int {
	n := lenUnknown(a.Unknown)
	n += boxHeaderLen(a.Tkhd.Len()) + a.Tkhd.Len()
	n += boxHeaderLen(a.Mdia.lenBoxed()) + a.Mdia.lenBoxed()
	return n
}

func (a *Track) Marshal(b []byte) int {
	n := marshalUnknown(a.Unknown, b)
	n += marshalBoxed(a.Tkhd, b[n:])
	n += marshalBoxed(a.Mdia, b[n:])
	return n
}

// IsVideo reports whether this track's handler type is "vide".
func (a *Track) IsVideo() bool { return a.Mdia.Hdlr.HandlerType == StringToTag("vide") }

// IsSound reports whether this track's handler type is "soun".
func (a *Track) IsSound() bool { return a.Mdia.Hdlr.HandlerType == StringToTag("soun") }

func unmarshalTrak(b []byte, offset int) (*Track, error) {
	a := &Track{}
	p := 0
	for p < len(b) {
		tag, bodyOff, boxLen, _, err := readBoxHeader(b, p)
		if err != nil {
			return nil, err
		}
		body := b[bodyOff : p+boxLen]
		switch tag {
		case TagTkhd:
			v, err := unmarshalTkhd(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			a.Tkhd = v
		case TagMdia:
			v, err := unmarshalMdia(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			a.Mdia = v
		default:
			var uc unknownCollector
			uc.add(tag, b, p, boxLen)
			a.Unknown = append(a.Unknown, uc.boxes...)
		}
		p += boxLen
	}
	if a.Tkhd == nil {
		return nil, &MissingBoxError{Parent: TagTrak, Tag: TagTkhd}
	}
	if a.Mdia == nil {
		return nil, &MissingBoxError{Parent: TagTrak, Tag: TagMdia}
	}
	a.setPos(offset, p)
	return a, nil
}

func (a *Track) lenBoxed() int { return a.Len() }

// -- moov ------------------------------------------------------------------

// Movie is the moov box: the movie header and every track. Tracks whose
// handler type is neither "vide" nor "soun" are dropped during parsing,
// matching the reference splitter's behaviour of ignoring hint and
// text tracks rather than failing on them.
type Movie struct {
	Mvhd    *MovieHeader
	Tracks  []*Track
	Unknown []RawBox
	AtomPos
}

func (a *Movie) Tag() Tag { return TagMoov }

func (a *Movie) Children() []Atom {
	c := childrenUnknown(a.Unknown)
	c = append(c, a.Mvhd)
	for _, t := range a.Tracks {
		c = append(c, t)
	}
	return c
}

func (a *Movie) Len() int {
	n := lenUnknown(a.Unknown)
	n += boxHeaderLen(a.Mvhd.Len()) + a.Mvhd.Len()
	for _, t := range a.Tracks {
		n += boxHeaderLen(t.lenBoxed()) + t.lenBoxed()
	}
	return n
}

func (a *Movie) Marshal(b []byte) int {
	n := marshalUnknown(a.Unknown, b)
	n += marshalBoxed(a.Mvhd, b[n:])
	for _, t := range a.Tracks {
		n += marshalBoxed(t, b[n:])
	}
	return n
}

// MaxTracks bounds the number of video or sound trak children
// UnmarshalMoov will accept (other tracks are dropped, not counted),
// mirroring the reference splitter's fixed MAX_TRACKS array (moov.cpp:60).
const MaxTracks = 8

// UnmarshalMoov parses the body of a moov box (everything after its
// 8-byte header) already sliced out of the file by the caller.
func UnmarshalMoov(b []byte, offset int) (*Movie, error) {
	a := &Movie{}
	p := 0
	for p < len(b) {
		tag, bodyOff, boxLen, _, err := readBoxHeader(b, p)
		if err != nil {
			return nil, err
		}
		body := b[bodyOff : p+boxLen]
		switch tag {
		case TagMvhd:
			v, err := unmarshalMvhd(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			a.Mvhd = v
		case TagTrak:
			t, err := unmarshalTrak(body, offset+bodyOff)
			if err != nil {
				return nil, err
			}
			if !t.IsVideo() && !t.IsSound() {
				break
			}
			if len(a.Tracks) == MaxTracks {
				return nil, ErrTooManyTracks
			}
			a.Tracks = append(a.Tracks, t)
		default:
			var uc unknownCollector
			uc.add(tag, b, p, boxLen)
			a.Unknown = append(a.Unknown, uc.boxes...)
		}
		p += boxLen
	}
	if a.Mvhd == nil {
		return nil, &MissingBoxError{Parent: TagMoov, Tag: TagMvhd}
	}
	if len(a.Tracks) == 0 {
		return nil, ErrNoTracks
	}
	a.setPos(offset, p)
	return a, nil
}

// MarshalMoov serializes a into a fresh buffer, including the moov box's
// own 8-byte header, matching moov_write's output layout.
func (a *Movie) MarshalMoov() []byte {
	bodyLen := a.Len()
	total := 8 + bodyLen
	b := make([]byte, total)
	n := putBoxHeader(b, TagMoov, total)
	n += a.Marshal(b[n:])
	_ = n
	return b
}
