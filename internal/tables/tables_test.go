package tables

import (
	"testing"

	"github.com/teocci/go-mp4-splitter/mp4io"
)

// buildTrack constructs a synthetic video track with 3 chunks of 4
// samples each (12 samples total), a keyframe every 4th sample, and a
// constant 100-byte sample size, laid out contiguously starting at
// byte 1000.
func buildTrack(t *testing.T) *mp4io.Track {
	t.Helper()
	const samplesPerChunk = 4
	const chunks = 3
	const sampleSize = 100

	stco := &mp4io.ChunkOffset{}
	pos := uint64(1000)
	for i := 0; i != chunks; i++ {
		stco.Offsets = append(stco.Offsets, pos)
		pos += samplesPerChunk * sampleSize
	}

	stsc := &mp4io.SampleToChunk{Entries: []mp4io.SampleToChunkEntry{
		{FirstChunk: 1, SamplesPerChunk: samplesPerChunk, SampleDescID: 1},
	}}

	stsz := &mp4io.SampleSize{SampleSize: sampleSize}

	stts := &mp4io.TimeToSample{Entries: []mp4io.TimeToSampleEntry{
		{SampleCount: chunks * samplesPerChunk, SampleDuration: 1000},
	}}

	stss := &mp4io.SyncSample{SampleNumbers: []uint32{1, 5, 9}}

	stbl := &mp4io.SampleTable{
		Stsd: mp4io.RawBox{Type: mp4io.TagStsd, Data: []byte{0, 0, 0, 8, 's', 't', 's', 'd'}},
		Stts: stts,
		Stss: stss,
		Stsc: stsc,
		Stsz: stsz,
		Stco: stco,
	}

	mdhd := &mp4io.MediaHeader{TimeScale: 1000, Duration: 12000}
	hdlr := &mp4io.HandlerRefer{HandlerType: mp4io.StringToTag("vide")}
	minf := &mp4io.MediaInfo{Stbl: stbl}
	mdia := &mp4io.Media{Mdhd: mdhd, Hdlr: hdlr, Minf: minf}
	tkhd := &mp4io.TrackHeader{Duration: 12000}

	return &mp4io.Track{Tkhd: tkhd, Mdia: mdia}
}

func TestBuildIndexLaysOutSamplesContiguously(t *testing.T) {
	trak := buildTrack(t)
	idx := BuildIndex(trak)

	if len(idx.Samples) != 12 {
		t.Fatalf("expected 12 samples, got %d", len(idx.Samples))
	}
	if idx.Samples[0].Pos != 1000 {
		t.Fatalf("first sample pos: got %d, want 1000", idx.Samples[0].Pos)
	}
	if idx.Samples[4].Pos != 1400 {
		t.Fatalf("chunk 2 first sample pos: got %d, want 1400", idx.Samples[4].Pos)
	}
	if idx.Samples[11].PTS != 11000 {
		t.Fatalf("last sample pts: got %d, want 11000", idx.Samples[11].PTS)
	}
}

func TestRewriteTrackTruncatesToSampleWindow(t *testing.T) {
	trak := buildTrack(t)
	idx := BuildIndex(trak)

	if err := RewriteTrack(trak, idx, 4, 8); err != nil {
		t.Fatal(err)
	}

	stbl := trak.Mdia.Minf.Stbl
	if len(stbl.Stco.Offsets) != 1 {
		t.Fatalf("expected exactly the middle chunk to remain, got %d chunk offsets", len(stbl.Stco.Offsets))
	}
	if stbl.Stco.Offsets[0] != 1400 {
		t.Fatalf("retained chunk offset: got %d, want 1400 (unshifted, pre-output-layout)", stbl.Stco.Offsets[0])
	}
	if len(stbl.Stsc.Entries) != 1 || stbl.Stsc.Entries[0].SamplesPerChunk != 4 {
		t.Fatalf("unexpected stsc after rewrite: %+v", stbl.Stsc.Entries)
	}
	if len(stbl.Stss.SampleNumbers) != 1 || stbl.Stss.SampleNumbers[0] != 1 {
		t.Fatalf("expected sync sample 5 renumbered to 1, got %v", stbl.Stss.SampleNumbers)
	}

	var total uint32
	for _, e := range stbl.Stts.Entries {
		total += e.SampleCount
	}
	if total != 4 {
		t.Fatalf("stts sample count after truncation: got %d, want 4", total)
	}
}

func TestShiftChunkOffsetsDetectsOverflow(t *testing.T) {
	stco := &mp4io.ChunkOffset{Offsets: []uint64{0xfffffff0}}
	if err := ShiftChunkOffsets(stco, 0x20); err != ErrOffsetOverflow {
		t.Fatalf("expected ErrOffsetOverflow, got %v", err)
	}
}

func TestShiftChunkOffsetsAppliesDelta(t *testing.T) {
	stco := &mp4io.ChunkOffset{Offsets: []uint64{1000, 2000}}
	if err := ShiftChunkOffsets(stco, -500); err != nil {
		t.Fatal(err)
	}
	if stco.Offsets[0] != 500 || stco.Offsets[1] != 1500 {
		t.Fatalf("unexpected shifted offsets: %v", stco.Offsets)
	}
}
