// Package splitter implements the core pseudo-streaming split: given a
// whole progressive MP4 and a [start, end) time window, it rewrites the
// moov box's sample tables to describe only the samples in that window
// and reports the byte range of the mdat box a caller should stream
// verbatim from the original file — no sample bytes are copied or
// re-encoded.
package splitter

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/teocci/go-mp4-splitter/internal/box"
	"github.com/teocci/go-mp4-splitter/internal/cmov"
	"github.com/teocci/go-mp4-splitter/internal/mapper"
	"github.com/teocci/go-mp4-splitter/internal/tables"
	"github.com/teocci/go-mp4-splitter/mp4io"
)

// defaultMaxTracks mirrors the reference splitter's fixed MAX_TRACKS array.
const defaultMaxTracks = mp4io.MaxTracks

// freeMarker replaces the reference splitter's 42-byte "free" padding
// atom advertising the tool that produced the split file.
var freeMarker = []byte{
	0x0, 0x0, 0x0, 42, 'f', 'r', 'e', 'e',
	'v', 'i', 'd', 'e', 'o', ' ', 's', 'e',
	'r', 'v', 'e', 'd', ' ', 'b', 'y', ' ',
	'g', 'o', '-', 'm', 'p', '4', '-', 's',
	'p', 'l', 'i', 't', 't', 'e', 'r', ' ', ' ', ' ',
}

// Options configures a Split call.
type Options struct {
	// Logger receives structured progress and warning entries. When
	// nil, a disabled logrus entry is used and nothing is emitted.
	Logger *logrus.Entry
	// MaxTracks bounds how many video or sound tracks a moov may carry
	// before Split refuses to process it. Zero means defaultMaxTracks.
	// Values above mp4io.MaxTracks do not raise the limit: the moov
	// parser rejects more than mp4io.MaxTracks such tracks on its own.
	MaxTracks int
	// ClientIsFlash mirrors the reference splitter's flag suppressing
	// the compressed-moov (cmov) variant for players that can't parse it.
	ClientIsFlash bool
	// RequestID correlates one Split call across log lines. A random
	// uuid is generated when empty.
	RequestID string
}

// Result is the outcome of a successful Split: a ready-to-send file
// header (ftyp, free marker, rewritten moov, and the mdat box header)
// plus the byte range of the original file's mdat payload the caller
// should append verbatim.
type Result struct {
	Header     []byte
	MdatOffset uint64
	MdatSize   uint64
}

func (o Options) maxTracks() int {
	if o.MaxTracks > 0 {
		return o.MaxTracks
	}
	return defaultMaxTracks
}

func (o Options) logger() *logrus.Entry {
	if o.Logger != nil {
		return o.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func (o Options) requestID() string {
	if o.RequestID != "" {
		return o.RequestID
	}
	return uuid.NewString()
}

// Split rewrites the moov box of the MP4 read from r (which spans
// exactly size bytes) to describe only the samples falling in
// [start, end), snapped per-track to the nearest preceding sync sample.
// end == 0 means "to the end of the file". It never reads or copies
// sample bytes; Result.MdatOffset/MdatSize describe the range of r the
// caller must still deliver after Result.Header.
func Split(ctx context.Context, r io.ReaderAt, size int64, start, end time.Duration, opts Options) (Result, error) {
	log := opts.logger().WithField("request_id", opts.requestID())

	sr := io.NewSectionReader(r, 0, size)
	sc := box.NewScanner(sr, size)

	var ftypEntry, moovEntry, mdatEntry box.Entry
	var haveFtyp, haveMoov, haveMdat bool

	for sc.Next() {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		e := sc.Entry()
		switch e.Tag {
		case mp4io.TagFtyp:
			ftypEntry, haveFtyp = e, true
		case mp4io.TagMoov:
			moovEntry, haveMoov = e, true
		case mp4io.TagMdat:
			mdatEntry, haveMdat = e, true
		}
	}
	if err := sc.Err(); err != nil {
		return Result{}, err
	}
	if !haveMoov {
		return Result{}, ErrNoMoov
	}
	if !haveMdat {
		return Result{}, ErrNoMdat
	}

	moovBody, err := readEntryBody(r, moovEntry)
	if err != nil {
		return Result{}, fmt.Errorf("splitter: reading moov: %w", err)
	}

	movie, err := mp4io.UnmarshalMoov(moovBody, 0)
	if err != nil {
		return Result{}, fmt.Errorf("splitter: parsing moov: %w", err)
	}
	if len(movie.Tracks) > opts.maxTracks() {
		return Result{}, ErrTooManyTracks
	}
	log.WithField("tracks", len(movie.Tracks)).Info("parsed moov")

	var ftypBytes []byte
	if haveFtyp {
		ftypBytes, err = readEntryBody(r, box.Entry{Tag: ftypEntry.Tag, Offset: ftypEntry.Offset, Size: ftypEntry.Size, HeaderSize: 0})
		if err != nil {
			return Result{}, fmt.Errorf("splitter: reading ftyp: %w", err)
		}
	}

	indexes := make([]*tables.Index, len(movie.Tracks))
	for i, trak := range movie.Tracks {
		indexes[i] = tables.BuildIndex(trak)
	}

	moovTimeScale := movie.Mvhd.TimeScale
	startTicks := uint32(start.Seconds() * float64(moovTimeScale))
	endTicks := uint32(end.Seconds() * float64(moovTimeScale))
	if end > 0 && start >= end {
		return Result{}, ErrEmptyInterval
	}

	sampleStart := make([]int, len(movie.Tracks))
	sampleEnd := make([]int, len(movie.Tracks))

	for pass := 0; pass != 2; pass++ {
		for i, trak := range movie.Tracks {
			stbl := trak.Mdia.Minf.Stbl
			hasStss := stbl.Stss != nil
			if pass == 0 && !hasStss {
				continue
			}
			if pass == 1 && hasStss {
				continue
			}
			if trak.Mdia.Mdhd.Duration == 0 {
				continue
			}

			trakScale := trak.Mdia.Mdhd.TimeScale
			moovToTrak := float64(trakScale) / float64(moovTimeScale)
			trakToMoov := float64(moovTimeScale) / float64(trakScale)
			total := len(indexes[i].Samples)

			if startTicks == 0 {
				sampleStart[i] = 0
			} else {
				s := mapper.SampleAtTime(stbl.Stts, uint64(float64(startTicks)*moovToTrak))
				s = mapper.NearestKeyframe(stbl.Stss, s+1) - 1
				sampleStart[i] = int(s)
				startTicks = uint32(float64(mapper.TimeAtSample(stbl.Stts, s)) * trakToMoov)
			}

			if endTicks == 0 {
				sampleEnd[i] = total
			} else {
				e := mapper.SampleAtTime(stbl.Stts, uint64(float64(endTicks)*moovToTrak))
				if int(e) >= total {
					e = uint32(total)
				} else {
					e = mapper.NearestKeyframe(stbl.Stss, e+1) - 1
				}
				sampleEnd[i] = int(e)
				endTicks = uint32(float64(mapper.TimeAtSample(stbl.Stts, e)) * trakToMoov)
			}
		}
	}

	if endTicks != 0 && startTicks >= endTicks {
		return Result{}, ErrEmptyInterval
	}

	var skipFromStart uint64 = ^uint64(0)
	var endOffset uint64
	var moovDuration uint64

	for i, trak := range movie.Tracks {
		if trak.Mdia.Mdhd.Duration == 0 {
			continue
		}
		idx := indexes[i]
		s0, s1 := sampleStart[i], sampleEnd[i]

		if err := tables.RewriteTrack(trak, idx, s0, s1); err != nil {
			return Result{}, fmt.Errorf("splitter: rewriting track: %w", err)
		}

		skip := idx.Samples[s0].Pos - idx.Samples[0].Pos
		if skip < skipFromStart {
			skipFromStart = skip
		}
		if s1 != len(idx.Samples) {
			if endPos := idx.Samples[s1].Pos; endPos > endOffset {
				endOffset = endPos
			}
		}

		trakScale := trak.Mdia.Mdhd.TimeScale
		trakToMoov := float64(moovTimeScale) / float64(trakScale)
		trakDuration := mapper.Duration(trak.Mdia.Minf.Stbl.Stts)
		trak.Mdia.Mdhd.Duration = trakDuration
		trak.Tkhd.Duration = uint64(float64(trakDuration) * trakToMoov)
		if trak.Tkhd.Duration > moovDuration {
			moovDuration = trak.Tkhd.Duration
		}
	}
	if skipFromStart == ^uint64(0) {
		skipFromStart = 0
	}
	movie.Mvhd.Duration = moovDuration

	mdatDataStart := mdatEntry.BodyOffset() + int64(skipFromStart)
	mdatDataEnd := mdatEntry.Offset + mdatEntry.Size
	if endOffset != 0 {
		mdatDataEnd = int64(endOffset)
	}
	if mdatDataEnd <= mdatDataStart {
		return Result{}, ErrEmptyInterval
	}
	mdatDataSize := uint64(mdatDataEnd - mdatDataStart)

	header, err := buildHeader(ftypBytes, movie, mdatDataStart, mdatDataSize, opts.ClientIsFlash)
	if err != nil {
		return Result{}, err
	}

	log.WithFields(logrus.Fields{
		"mdat_offset": uint64(mdatDataStart),
		"mdat_size":   mdatDataSize,
		"header_size": len(header),
	}).Info("split complete")

	return Result{
		Header:     header,
		MdatOffset: uint64(mdatDataStart),
		MdatSize:   mdatDataSize,
	}, nil
}

// buildHeader lays out ftyp + free marker + moov + mdat-header, patching
// every track's chunk offsets to point at their new position in that
// output stream once mdat's payload (streamed separately, starting at
// mdatDataStart in the original file) is appended. Offset widths never
// change size once assigned, so patching commutes with a single marshal
// pass unless a track's stco must be promoted to co64 — the loop below
// retries with the promotion applied since that changes the moov box's
// own length. Every attempt re-shifts from the original, unshifted
// offsets (restored at the top of the loop) so a promotion triggered by
// one track never double-applies a previous attempt's delta to another.
// Unless clientIsFlash, the plain moov is then offered to cmov.Compress;
// a smaller compressed variant takes its place, otherwise the plain
// moov ships as built.
func buildHeader(ftypBytes []byte, movie *mp4io.Movie, mdatDataStart int64, mdatDataSize uint64, clientIsFlash bool) ([]byte, error) {
	originalOffsets := make([][]uint64, len(movie.Tracks))
	for i, trak := range movie.Tracks {
		stco := trak.Mdia.Minf.Stbl.Stco
		originalOffsets[i] = append([]uint64(nil), stco.Offsets...)
	}

	for attempt := 0; attempt != len(movie.Tracks)+2; attempt++ {
		for i, trak := range movie.Tracks {
			stco := trak.Mdia.Minf.Stbl.Stco
			stco.Offsets = append([]uint64(nil), originalOffsets[i]...)
		}

		moovBytes := movie.MarshalMoov()
		mdatHeaderLen := mdatHeaderSize(mdatDataSize)
		headerSoFar := int64(len(ftypBytes)) + int64(len(freeMarker)) + int64(len(moovBytes)) + int64(mdatHeaderLen)
		shiftDelta := headerSoFar - mdatDataStart

		overflowed := false
		for _, trak := range movie.Tracks {
			stco := trak.Mdia.Minf.Stbl.Stco
			if err := tables.ShiftChunkOffsets(stco, shiftDelta); err != nil {
				if err == tables.ErrOffsetOverflow {
					stco.Wide = true
					overflowed = true
					continue
				}
				return nil, err
			}
		}
		if overflowed {
			continue
		}

		// Re-marshal now that every stco carries its shifted offsets;
		// the first marshal above only established the pre-shift
		// length used to compute shiftDelta.
		moovBytes = movie.MarshalMoov()
		if !clientIsFlash {
			if compressed, ok := compressMoov(movie, moovBytes); ok {
				moovBytes = compressed
			}
		}
		out := make([]byte, 0, len(ftypBytes)+len(freeMarker)+len(moovBytes)+mdatHeaderLen)
		out = append(out, ftypBytes...)
		out = append(out, freeMarker...)
		out = append(out, moovBytes...)
		out = appendMdatHeader(out, mdatDataSize)
		return out, nil
	}
	return nil, fmt.Errorf("splitter: could not stabilize chunk offset widths")
}

// compressMoov offers moovBytes (a full, already offset-patched moov box)
// to cmov.Compress, patching every track's stco a second time to account
// for the compressed box's different length, both in movie and in the
// stco entries inside moovBytes. If compression does not pay off it
// restores the original offsets in movie and moovBytes and reports false.
func compressMoov(movie *mp4io.Movie, moovBytes []byte) ([]byte, bool) {
	snapshot := make([][]uint64, len(movie.Tracks))
	for i, trak := range movie.Tracks {
		snapshot[i] = append([]uint64(nil), trak.Mdia.Minf.Stbl.Stco.Offsets...)
	}

	shiftAll := func(delta int64) error {
		for _, trak := range movie.Tracks {
			if err := tables.ShiftChunkOffsets(trak.Mdia.Minf.Stbl.Stco, delta); err != nil {
				return err
			}
		}
		copy(moovBytes, movie.MarshalMoov())
		return nil
	}

	cmovBytes, err := cmov.Compress(moovBytes[8:], shiftAll)
	if err != nil {
		for i, trak := range movie.Tracks {
			trak.Mdia.Minf.Stbl.Stco.Offsets = snapshot[i]
		}
		copy(moovBytes, movie.MarshalMoov())
		return nil, false
	}
	return cmovBytes, true
}

func mdatHeaderSize(dataSize uint64) int {
	if dataSize+8 > 0xffffffff {
		return 16
	}
	return 8
}

func appendMdatHeader(b []byte, dataSize uint64) []byte {
	total := dataSize + uint64(mdatHeaderSize(dataSize))
	if mdatHeaderSize(dataSize) == 16 {
		b = append(b, 0, 0, 0, 1, 'm', 'd', 'a', 't')
		var sz [8]byte
		for i := 7; i >= 0; i-- {
			sz[i] = byte(total)
			total >>= 8
		}
		return append(b, sz[:]...)
	}
	b = append(b,
		byte(total>>24), byte(total>>16), byte(total>>8), byte(total),
		'm', 'd', 'a', 't')
	return b
}

func readEntryBody(r io.ReaderAt, e box.Entry) ([]byte, error) {
	buf := make([]byte, e.BodySize())
	if _, err := r.ReadAt(buf, e.BodyOffset()); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}
