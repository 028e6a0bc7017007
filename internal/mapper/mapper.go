// Package mapper converts between track time and sample number, and
// snaps a sample number to the nearest preceding sync sample. These are
// the primitives moov_seek composes into its two-pass start/end
// alignment (SPEC_FULL.md §4.5).
package mapper

import "github.com/teocci/go-mp4-splitter/mp4io"

// SampleAtTime returns the number of samples whose cumulative duration
// is strictly less than time, i.e. the 0-based index of the sample
// containing time. Ports stts_get_sample.
func SampleAtTime(stts *mp4io.TimeToSample, t uint64) uint32 {
	var ret uint32
	var timeCount uint64
	for _, e := range stts.Entries {
		span := uint64(e.SampleDuration) * uint64(e.SampleCount)
		if timeCount+span >= t {
			var count uint32
			if e.SampleDuration != 0 {
				count = uint32((t - timeCount) / uint64(e.SampleDuration))
			}
			ret += count
			return ret
		}
		timeCount += span
		ret += e.SampleCount
	}
	return ret
}

// TimeAtSample returns the cumulative duration, in the track's own
// timescale, of every sample before the given 0-based sample number.
// Ports stts_get_time.
func TimeAtSample(stts *mp4io.TimeToSample, sample uint32) uint64 {
	var ret uint64
	var sampleCount uint32
	for _, e := range stts.Entries {
		if sampleCount+e.SampleCount > sample {
			ret += uint64(sample-sampleCount) * uint64(e.SampleDuration)
			return ret
		}
		sampleCount += e.SampleCount
		ret += uint64(e.SampleCount) * uint64(e.SampleDuration)
	}
	return ret
}

// Duration returns the total duration of every sample in stts. Ports
// stts_get_duration.
func Duration(stts *mp4io.TimeToSample) uint64 {
	var d uint64
	for _, e := range stts.Entries {
		d += uint64(e.SampleDuration) * uint64(e.SampleCount)
	}
	return d
}

// SampleCount returns the total number of samples represented by stts.
// Ports stts_get_samples, used to sanity-check a rewritten table.
func SampleCount(stts *mp4io.TimeToSample) uint32 {
	var n uint32
	for _, e := range stts.Entries {
		n += e.SampleCount
	}
	return n
}

// NearestKeyframe returns the 1-based sync sample number nearest to but
// not after sample (also 1-based). When stss is nil every sample is an
// implicit sync sample, so sample itself is returned unchanged. Ports
// stbl_get_nearest_keyframe / stss_get_nearest_keyframe.
func NearestKeyframe(stss *mp4io.SyncSample, sample uint32) uint32 {
	if stss == nil {
		return sample
	}
	var tableSample uint32
	i := 0
	for ; i != len(stss.SampleNumbers); i++ {
		tableSample = stss.SampleNumbers[i]
		if tableSample >= sample {
			break
		}
	}
	if tableSample == sample {
		return tableSample
	}
	return stss.SampleNumbers[i-1]
}
