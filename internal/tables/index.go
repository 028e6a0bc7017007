// Package tables builds and rewrites the per-chunk and per-sample index
// derived from a track's stbl children, and performs the in-place
// truncation of those children to a [start, end) sample range.
package tables

import "github.com/teocci/go-mp4-splitter/mp4io"

// Chunk describes one physical chunk of consecutive samples as recorded
// by stco/co64 and mapped onto stsc's run-length chunk-to-sample-count
// table.
type Chunk struct {
	Sample int    // index of the chunk's first sample (0-based)
	Size   int    // number of samples in the chunk
	ID     uint32 // sample description id, carried through unchanged
	Pos    uint64 // byte offset of the chunk's first sample
}

// Sample describes one sample's timing, size, and byte position.
type Sample struct {
	PTS  uint64 // decode time, in the track's own timescale
	Size uint32
	Pos  uint64
	CTO  int32 // composition time offset, zero when the track has no ctts
}

// Index is the derived, per-sample view of a track's sample tables,
// built once per track and consulted (never mutated) while computing
// the truncation boundaries; RewriteTrack uses it to regenerate the
// wire-format tables afterward.
type Index struct {
	Chunks  []Chunk
	Samples []Sample
}

// BuildIndex walks trak's stco, stsc, stsz, stts, and (if present) ctts
// tables and produces the flat per-chunk and per-sample index used to
// compute time-based truncation boundaries and byte offsets.
func BuildIndex(trak *mp4io.Track) *Index {
	stbl := trak.Mdia.Minf.Stbl
	stco := stbl.Stco
	stsc := stbl.Stsc
	stsz := stbl.Stsz
	stts := stbl.Stts
	ctts := stbl.Ctts

	idx := &Index{Chunks: make([]Chunk, len(stco.Offsets))}
	for i, off := range stco.Offsets {
		idx.Chunks[i].Pos = off
	}

	// Expand stsc's run-length "starting at chunk N, each chunk holds
	// S samples" table backwards over the chunk list, matching
	// trak_build_index's descending walk so the last matching stsc
	// entry wins for a given chunk.
	last := len(idx.Chunks)
	for i := len(stsc.Entries) - 1; i >= 0; i-- {
		e := stsc.Entries[i]
		start := int(e.FirstChunk) - 1 // wire is 1-based
		for j := start; j < last; j++ {
			idx.Chunks[j].ID = e.SampleDescID
			idx.Chunks[j].Size = int(e.SamplesPerChunk)
		}
		last = start
	}

	s := 0
	for j := range idx.Chunks {
		idx.Chunks[j].Sample = s
		s += idx.Chunks[j].Size
	}

	var sampleCount int
	if stsz.SampleSize == 0 {
		sampleCount = len(stsz.EntrySizes)
	} else {
		sampleCount = s
	}
	idx.Samples = make([]Sample, sampleCount)

	if stsz.SampleSize == 0 {
		for i := 0; i != sampleCount; i++ {
			idx.Samples[i].Size = stsz.EntrySizes[i]
		}
	} else {
		for i := 0; i != sampleCount; i++ {
			idx.Samples[i].Size = stsz.SampleSize
		}
	}

	pts := uint64(0)
	sIdx := 0
	for _, e := range stts.Entries {
		for i := uint32(0); i != e.SampleCount && sIdx < sampleCount; i++ {
			idx.Samples[sIdx].PTS = pts
			sIdx++
			pts += uint64(e.SampleDuration)
		}
	}

	if ctts != nil {
		sIdx = 0
		for _, e := range ctts.Entries {
			for i := uint32(0); i != e.SampleCount && sIdx < sampleCount; i++ {
				idx.Samples[sIdx].CTO = e.SampleOffset
				sIdx++
			}
		}
	}

	sIdx = 0
	for _, c := range idx.Chunks {
		pos := c.Pos
		for i := 0; i != c.Size && sIdx < sampleCount; i++ {
			idx.Samples[sIdx].Pos = pos
			pos += uint64(idx.Samples[sIdx].Size)
			sIdx++
		}
	}

	return idx
}
