package tables

import (
	"errors"

	"github.com/teocci/go-mp4-splitter/mp4io"
)

// ErrOffsetOverflow is returned by ShiftChunkOffsets when a shifted
// offset no longer fits a 32-bit stco chunk-offset table. The caller
// should re-run the write path with co64 forced; ShiftChunkOffsets never
// silently truncates an offset the way the reference splitter's 32-bit
// cast does (spec Open Question, resolved in SPEC_FULL.md).
var ErrOffsetOverflow = errors.New("tables: chunk offset exceeds 32-bit range")

// RewriteTrack truncates trak's sample tables in place to the sample
// range [start, end), given the Index built from the pre-truncation
// tables. It ports trak_update_index: stts and ctts are rebuilt as new
// run-length tables over the retained samples, stsc/stco are rebuilt
// over the retained chunks with the first chunk's offset patched to the
// first retained sample's original byte position, stss is renumbered
// relative to start, and stsz's per-sample table (if present) is
// resliced.
func RewriteTrack(trak *mp4io.Track, idx *Index, start, end int) error {
	stbl := trak.Mdia.Minf.Stbl

	rewriteStts(stbl.Stts, idx, start, end)
	if stbl.Ctts != nil {
		rewriteCtts(stbl.Ctts, idx, start, end)
	}

	chunkStart, chunkEnd := rewriteStscAndStco(stbl.Stsc, stbl.Stco, idx, start, end)
	_ = chunkEnd

	if stbl.Stss != nil {
		rewriteStss(stbl.Stss, start, end)
	}

	if stbl.Stsz.SampleSize == 0 {
		n := end - start
		sizes := make([]uint32, n)
		copy(sizes, stbl.Stsz.EntrySizes[start:end])
		stbl.Stsz.EntrySizes = sizes
	}

	_ = chunkStart
	return nil
}

func rewriteStts(stts *mp4io.TimeToSample, idx *Index, start, end int) {
	var endPTS uint64
	for _, e := range stts.Entries {
		endPTS += uint64(e.SampleDuration) * uint64(e.SampleCount)
	}

	var entries []mp4io.TimeToSampleEntry
	s := start
	for s != end {
		sampleCount := uint32(1)
		sampleDuration := samplePTS(idx, endPTS, s+1) - samplePTS(idx, endPTS, s)
		for s != end-1 {
			if samplePTS(idx, endPTS, s+2)-samplePTS(idx, endPTS, s+1) != sampleDuration {
				break
			}
			sampleCount++
			s++
		}
		entries = append(entries, mp4io.TimeToSampleEntry{
			SampleCount:    sampleCount,
			SampleDuration: uint32(sampleDuration),
		})
		s++
	}
	stts.Entries = entries
}

// samplePTS returns idx.Samples[i].PTS, or endPTS, the track's total
// duration (the end of the last sample), when i is exactly
// len(Samples), so the final run's duration in rewriteStts can be
// computed the same way as every interior run's.
func samplePTS(idx *Index, endPTS uint64, i int) uint64 {
	if i < len(idx.Samples) {
		return idx.Samples[i].PTS
	}
	return endPTS
}

func rewriteCtts(ctts *mp4io.CompositionOffset, idx *Index, start, end int) {
	var entries []mp4io.CompositionOffsetEntry
	s := start
	for s != end {
		sampleCount := uint32(1)
		sampleOffset := idx.Samples[s].CTO
		for s != end-1 {
			if idx.Samples[s+1].CTO != sampleOffset {
				break
			}
			sampleCount++
			s++
		}
		entries = append(entries, mp4io.CompositionOffsetEntry{
			SampleCount:  sampleCount,
			SampleOffset: sampleOffset,
		})
		s++
	}
	ctts.Entries = entries
}

func rewriteStscAndStco(stsc *mp4io.SampleToChunk, stco *mp4io.ChunkOffset, idx *Index, start, end int) (chunkStart, chunkEnd int) {
	i := 0
	for i != len(idx.Chunks) {
		c := idx.Chunks[i]
		if c.Sample+c.Size > start {
			break
		}
		i++
	}
	chunkStart = i

	var stscEntries []mp4io.SampleToChunkEntry
	if len(idx.Chunks) != 0 {
		samples := idx.Chunks[i].Sample + idx.Chunks[i].Size - start
		id := idx.Chunks[i].ID
		stscEntries = append(stscEntries, mp4io.SampleToChunkEntry{
			FirstChunk:      1,
			SamplesPerChunk: uint32(samples),
			SampleDescID:    id,
		})

		for i += 1; i != len(idx.Chunks); i++ {
			if idx.Chunks[i].Sample >= end {
				break
			}
			if idx.Chunks[i].Size != samples || idx.Chunks[i].ID != id {
				samples = idx.Chunks[i].Size
				id = idx.Chunks[i].ID
				stscEntries = append(stscEntries, mp4io.SampleToChunkEntry{
					FirstChunk:      uint32(i-chunkStart) + 1,
					SamplesPerChunk: uint32(samples),
					SampleDescID:    id,
				})
			}
		}
	}
	chunkEnd = i
	stsc.Entries = stscEntries

	offsets := make([]uint64, 0, chunkEnd-chunkStart)
	for j := chunkStart; j != chunkEnd; j++ {
		offsets = append(offsets, idx.Chunks[j].Pos)
	}
	if len(offsets) != 0 {
		offsets[0] = idx.Samples[start].Pos
	}
	stco.Offsets = offsets
	return chunkStart, chunkEnd
}

func rewriteStss(stss *mp4io.SyncSample, start, end int) {
	i := 0
	for i != len(stss.SampleNumbers) {
		if stss.SampleNumbers[i] >= uint32(start+1) {
			break
		}
		i++
	}
	var numbers []uint32
	for ; i != len(stss.SampleNumbers); i++ {
		sync := stss.SampleNumbers[i]
		if sync >= uint32(end+1) {
			break
		}
		numbers = append(numbers, sync-uint32(start))
	}
	stss.SampleNumbers = numbers
}

// ShiftChunkOffsets adds delta (which may be negative) to every entry
// in stco.Offsets. If stco.Wide is false and any shifted entry would
// not fit in 32 bits, it returns ErrOffsetOverflow and leaves every
// entry unchanged; widening to co64 is left to the caller.
func ShiftChunkOffsets(stco *mp4io.ChunkOffset, delta int64) error {
	for _, o := range stco.Offsets {
		shifted := int64(o) + delta
		if shifted < 0 {
			return errors.New("tables: chunk offset shift underflows")
		}
		if !stco.Wide && uint64(shifted) > 0xffffffff {
			return ErrOffsetOverflow
		}
	}
	for i, o := range stco.Offsets {
		stco.Offsets[i] = uint64(int64(o) + delta)
	}
	return nil
}
