package mp4io

import "testing"

func buildBox(tag string, body []byte) []byte {
	b := make([]byte, 8+len(body))
	putBoxHeader(b, StringToTag(tag), len(b))
	copy(b[8:], body)
	return b
}

func TestMvhdRoundTrip(t *testing.T) {
	mvhd := &MovieHeader{
		Version:     0,
		TimeScale:   1000,
		Duration:    5000,
		Rate:        0x00010000,
		NextTrackID: 3,
	}
	buf := make([]byte, mvhd.Len())
	n := mvhd.Marshal(buf)
	if n != len(buf) {
		t.Fatalf("marshal wrote %d, expected %d", n, len(buf))
	}

	got, err := unmarshalMvhd(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.TimeScale != 1000 || got.Duration != 5000 || got.NextTrackID != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestMvhdVersion1RoundTrip(t *testing.T) {
	mvhd := &MovieHeader{
		Version:      1,
		CreationTime: 1 << 40,
		Duration:     1 << 40,
		TimeScale:    90000,
	}
	buf := make([]byte, mvhd.Len())
	mvhd.Marshal(buf)

	got, err := unmarshalMvhd(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.CreationTime != 1<<40 || got.Duration != 1<<40 {
		t.Fatalf("version 1 64-bit fields lost: %+v", got)
	}
}

func TestHdlrPascalStringOnlyForMhlr(t *testing.T) {
	h := &HandlerRefer{
		PreDefined:  uint32(StringToTag("mhlr")),
		HandlerType: StringToTag("vide"),
		Name:        "VideoHandler",
	}
	buf := make([]byte, h.Len())
	h.Marshal(buf)

	got, err := unmarshalHdlr(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "VideoHandler" {
		t.Fatalf("expected pascal-string name to round trip, got %q", got.Name)
	}

	h2 := &HandlerRefer{
		HandlerType: StringToTag("soun"),
		Name:        "SoundHandler",
	}
	buf2 := make([]byte, h2.Len())
	h2.Marshal(buf2)
	got2, err := unmarshalHdlr(buf2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got2.Name != "SoundHandler" {
		t.Fatalf("expected remainder-of-box name to round trip, got %q", got2.Name)
	}
}

func TestStszClampsTruncatedTable(t *testing.T) {
	// Declares 10 entries but the box only actually carries 3.
	body := make([]byte, 12+3*4)
	putU32(body[4:], 0)  // sample_size
	putU32(body[8:], 10) // entries (lies)
	putU32(body[12:], 100)
	putU32(body[16:], 200)
	putU32(body[20:], 300)

	got, err := unmarshalStsz(body, 0)
	if err != nil {
		t.Fatalf("expected clamp instead of error, got %v", err)
	}
	if len(got.EntrySizes) != 3 {
		t.Fatalf("expected clamp to 3 entries, got %d", len(got.EntrySizes))
	}
}

func TestChunkOffsetWideRoundTrip(t *testing.T) {
	co := &ChunkOffset{Wide: true, Offsets: []uint64{1 << 40, 1 << 41}}
	buf := make([]byte, co.Len())
	co.Marshal(buf)
	if co.Tag() != TagCo64 {
		t.Fatalf("expected co64 tag when Wide")
	}

	got, err := unmarshalStco(buf, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if got.Offsets[0] != 1<<40 || got.Offsets[1] != 1<<41 {
		t.Fatalf("64-bit offsets lost: %v", got.Offsets)
	}
}

func TestStblPreservesUnknownBoxes(t *testing.T) {
	stsd := buildBox("stsd", []byte{0, 0, 0, 0, 0, 0, 0, 1})
	stts := (&TimeToSample{Entries: []TimeToSampleEntry{{SampleCount: 1, SampleDuration: 1}}})
	sttsBoxed := boxed(stts)
	stsc := (&SampleToChunk{Entries: []SampleToChunkEntry{{FirstChunk: 1, SamplesPerChunk: 1, SampleDescID: 1}}})
	stscBoxed := boxed(stsc)
	stsz := &SampleSize{SampleSize: 100}
	stszBoxed := boxed(stsz)
	stco := &ChunkOffset{Offsets: []uint64{1000}}
	stcoBoxed := boxed(stco)

	weird := buildBox("wird", []byte{1, 2, 3, 4})

	var body []byte
	body = append(body, weird...)
	body = append(body, stsd...)
	body = append(body, sttsBoxed...)
	body = append(body, stscBoxed...)
	body = append(body, stszBoxed...)
	body = append(body, stcoBoxed...)

	stbl, err := unmarshalStbl(body, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stbl.Unknown) != 1 || stbl.Unknown[0].Type != StringToTag("wird") {
		t.Fatalf("expected the unknown box to be preserved, got %+v", stbl.Unknown)
	}

	out := make([]byte, stbl.Len())
	stbl.Marshal(out)
	if len(out) != len(body) {
		t.Fatalf("round trip length mismatch: got %d, want %d", len(out), len(body))
	}
}

func boxed(a Atom) []byte {
	bodyLen := a.Len()
	total := boxHeaderLen(bodyLen) + bodyLen
	b := make([]byte, total)
	n := putBoxHeader(b, a.Tag(), total)
	a.Marshal(b[n:])
	return b
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
