package mapper

import (
	"testing"

	"github.com/teocci/go-mp4-splitter/mp4io"
)

func stts(entries ...mp4io.TimeToSampleEntry) *mp4io.TimeToSample {
	return &mp4io.TimeToSample{Entries: entries}
}

func TestSampleAtTime(t *testing.T) {
	table := stts(
		mp4io.TimeToSampleEntry{SampleCount: 10, SampleDuration: 1000},
		mp4io.TimeToSampleEntry{SampleCount: 5, SampleDuration: 500},
	)

	if got := SampleAtTime(table, 0); got != 0 {
		t.Fatalf("time 0: got %d", got)
	}
	if got := SampleAtTime(table, 10000); got != 10 {
		t.Fatalf("boundary time: got %d, want 10", got)
	}
	if got := SampleAtTime(table, 10500); got != 11 {
		t.Fatalf("into second run: got %d, want 11", got)
	}
}

func TestTimeAtSample(t *testing.T) {
	table := stts(
		mp4io.TimeToSampleEntry{SampleCount: 10, SampleDuration: 1000},
		mp4io.TimeToSampleEntry{SampleCount: 5, SampleDuration: 500},
	)

	if got := TimeAtSample(table, 0); got != 0 {
		t.Fatalf("sample 0: got %d", got)
	}
	if got := TimeAtSample(table, 10); got != 10000 {
		t.Fatalf("first sample of second run: got %d, want 10000", got)
	}
	if got := TimeAtSample(table, 12); got != 11000 {
		t.Fatalf("third sample of second run: got %d, want 11000", got)
	}
}

func TestDurationAndSampleCount(t *testing.T) {
	table := stts(
		mp4io.TimeToSampleEntry{SampleCount: 10, SampleDuration: 1000},
		mp4io.TimeToSampleEntry{SampleCount: 5, SampleDuration: 500},
	)
	if got := Duration(table); got != 12500 {
		t.Fatalf("duration: got %d, want 12500", got)
	}
	if got := SampleCount(table); got != 15 {
		t.Fatalf("sample count: got %d, want 15", got)
	}
}

func TestNearestKeyframeNoStss(t *testing.T) {
	if got := NearestKeyframe(nil, 42); got != 42 {
		t.Fatalf("without stss expected identity, got %d", got)
	}
}

func TestNearestKeyframeSnapsBackward(t *testing.T) {
	stss := &mp4io.SyncSample{SampleNumbers: []uint32{1, 30, 60, 90}}

	if got := NearestKeyframe(stss, 45); got != 30 {
		t.Fatalf("expected snap to 30, got %d", got)
	}
	if got := NearestKeyframe(stss, 60); got != 60 {
		t.Fatalf("exact match should return itself, got %d", got)
	}
	if got := NearestKeyframe(stss, 1000); got != 90 {
		t.Fatalf("past the last keyframe should snap to it, got %d", got)
	}
}
