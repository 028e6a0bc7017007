package splitter

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teocci/go-mp4-splitter/internal/box"
	"github.com/teocci/go-mp4-splitter/mp4io"
)

// fixture holds a synthetic single-video/single-audio progressive MP4
// laid out as ftyp + moov + mdat, along with the byte ranges its mdat
// occupies so tests can reason about what Split should keep.
type fixture struct {
	data          []byte
	mdatBodyStart int64
	mdatBodySize  int64
}

// buildFixture assembles a two-track file at a shared timescale of 4
// units/second: a video track with 4 samples across 2 chunks (100
// bytes/sample, keyframes at samples 1 and 3), and an audio track with
// 4 samples in a single chunk (50 bytes/sample). Samples are laid out
// contiguously in mdat: video chunk 0, video chunk 1, audio chunk 0.
func buildFixture(t *testing.T) fixture {
	t.Helper()

	stsd := mp4io.RawBox{Type: mp4io.TagStsd, Data: []byte{0, 0, 0, 8, 's', 't', 's', 'd'}}

	newVideoTrack := func(offsets []uint64) *mp4io.Track {
		stbl := &mp4io.SampleTable{
			Stsd: stsd,
			Stts: &mp4io.TimeToSample{Entries: []mp4io.TimeToSampleEntry{{SampleCount: 4, SampleDuration: 1}}},
			Stss: &mp4io.SyncSample{SampleNumbers: []uint32{1, 3}},
			Stsc: &mp4io.SampleToChunk{Entries: []mp4io.SampleToChunkEntry{{FirstChunk: 1, SamplesPerChunk: 2, SampleDescID: 1}}},
			Stsz: &mp4io.SampleSize{SampleSize: 100},
			Stco: &mp4io.ChunkOffset{Offsets: offsets},
		}
		return &mp4io.Track{
			Tkhd: &mp4io.TrackHeader{TrackID: 1, Duration: 4},
			Mdia: &mp4io.Media{
				Mdhd: &mp4io.MediaHeader{TimeScale: 4, Duration: 4, Language: [3]byte{'u', 'n', 'd'}},
				Hdlr: &mp4io.HandlerRefer{HandlerType: mp4io.StringToTag("vide")},
				Minf: &mp4io.MediaInfo{Vmhd: &mp4io.VideoMediaInfo{}, Stbl: stbl},
			},
		}
	}

	newAudioTrack := func(offsets []uint64) *mp4io.Track {
		stbl := &mp4io.SampleTable{
			Stsd: stsd,
			Stts: &mp4io.TimeToSample{Entries: []mp4io.TimeToSampleEntry{{SampleCount: 4, SampleDuration: 1}}},
			Stsc: &mp4io.SampleToChunk{Entries: []mp4io.SampleToChunkEntry{{FirstChunk: 1, SamplesPerChunk: 4, SampleDescID: 1}}},
			Stsz: &mp4io.SampleSize{SampleSize: 50},
			Stco: &mp4io.ChunkOffset{Offsets: offsets},
		}
		return &mp4io.Track{
			Tkhd: &mp4io.TrackHeader{TrackID: 2, Duration: 4},
			Mdia: &mp4io.Media{
				Mdhd: &mp4io.MediaHeader{TimeScale: 4, Duration: 4, Language: [3]byte{'u', 'n', 'd'}},
				Hdlr: &mp4io.HandlerRefer{HandlerType: mp4io.StringToTag("soun")},
				Minf: &mp4io.MediaInfo{Stbl: stbl},
			},
		}
	}

	movie := &mp4io.Movie{
		Mvhd:   &mp4io.MovieHeader{TimeScale: 4, Duration: 4, Rate: 0x00010000, NextTrackID: 3},
		Tracks: []*mp4io.Track{newVideoTrack([]uint64{0, 0}), newAudioTrack([]uint64{0})},
	}

	ftyp := boxBytes("ftyp", []byte("isom\x00\x00\x02\x00isomiso2avc1mp41"))
	moovLenPass := movie.MarshalMoov()

	mdatBodyStart := int64(len(ftyp)) + int64(len(moovLenPass)) + 8
	videoChunk0 := uint64(mdatBodyStart)
	videoChunk1 := videoChunk0 + 200
	audioChunk0 := videoChunk1 + 200

	movie.Tracks[0].Mdia.Minf.Stbl.Stco.Offsets = []uint64{videoChunk0, videoChunk1}
	movie.Tracks[1].Mdia.Minf.Stbl.Stco.Offsets = []uint64{audioChunk0}
	moovBytes := movie.MarshalMoov()
	require.Equal(t, len(moovLenPass), len(moovBytes), "offset values must not change moov length")

	mdatBody := make([]byte, 600) // 2 video chunks (400 bytes) + 1 audio chunk (200 bytes)
	for i := range mdatBody {
		mdatBody[i] = byte(i)
	}

	var data []byte
	data = append(data, ftyp...)
	data = append(data, moovBytes...)
	data = append(data, mdatHeader(len(mdatBody))...)
	data = append(data, mdatBody...)

	return fixture{data: data, mdatBodyStart: mdatBodyStart, mdatBodySize: int64(len(mdatBody))}
}

func boxBytes(tag string, body []byte) []byte {
	b := make([]byte, 8+len(body))
	size := uint32(len(b))
	b[0], b[1], b[2], b[3] = byte(size>>24), byte(size>>16), byte(size>>8), byte(size)
	copy(b[4:8], tag)
	copy(b[8:], body)
	return b
}

func mdatHeader(bodyLen int) []byte {
	size := uint32(8 + bodyLen)
	return []byte{byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size), 'm', 'd', 'a', 't'}
}

func TestSplitFullRangeKeepsEntireMdat(t *testing.T) {
	fx := buildFixture(t)
	r := bytes.NewReader(fx.data)

	result, err := Split(context.Background(), r, int64(len(fx.data)), 0, 0, Options{})
	require.NoError(t, err)

	assert.Equal(t, uint64(fx.mdatBodySize), result.MdatSize)
	assert.Equal(t, uint64(fx.mdatBodyStart), result.MdatOffset)
	assert.NotEmpty(t, result.Header)
}

func TestSplitPartialRangeShrinksMdatAndSamples(t *testing.T) {
	fx := buildFixture(t)
	r := bytes.NewReader(fx.data)

	result, err := Split(context.Background(), r, int64(len(fx.data)), 500*time.Millisecond, 0, Options{})
	require.NoError(t, err)

	assert.Less(t, result.MdatSize, uint64(fx.mdatBodySize))
	assert.Greater(t, result.MdatOffset, uint64(fx.mdatBodyStart))

	movie := parseHeaderMoov(t, result.Header)
	for _, trak := range movie.Tracks {
		var total uint32
		for _, e := range trak.Mdia.Minf.Stbl.Stts.Entries {
			total += e.SampleCount
		}
		assert.Less(t, total, uint32(4), "track %d should have been truncated", trak.Tkhd.TrackID)
	}
}

func TestSplitMissingMoovErrors(t *testing.T) {
	var data []byte
	data = append(data, boxBytes("ftyp", []byte("isom"))...)
	data = append(data, boxBytes("mdat", make([]byte, 16))...)

	_, err := Split(context.Background(), bytes.NewReader(data), int64(len(data)), 0, 0, Options{})
	assert.ErrorIs(t, err, ErrNoMoov)
}

func TestSplitMissingMdatErrors(t *testing.T) {
	fx := buildFixture(t)
	// Truncate away the mdat box entirely.
	data := fx.data[:fx.mdatBodyStart-8]

	_, err := Split(context.Background(), bytes.NewReader(data), int64(len(data)), 0, 0, Options{})
	assert.ErrorIs(t, err, ErrNoMdat)
}

func TestSplitEmptyIntervalErrors(t *testing.T) {
	fx := buildFixture(t)
	r := bytes.NewReader(fx.data)

	_, err := Split(context.Background(), r, int64(len(fx.data)), 2*time.Second, 1*time.Second, Options{})
	assert.ErrorIs(t, err, ErrEmptyInterval)
}

func parseHeaderMoov(t *testing.T, header []byte) *mp4io.Movie {
	t.Helper()
	sc := box.NewScanner(bytes.NewReader(header), int64(len(header)))
	for sc.Next() {
		if sc.Entry().Tag == mp4io.TagMoov {
			body, err := sc.ReadBody()
			require.NoError(t, err)
			movie, err := mp4io.UnmarshalMoov(body, 0)
			require.NoError(t, err)
			return movie
		}
	}
	require.NoError(t, sc.Err())
	t.Fatal("moov not found in header")
	return nil
}
