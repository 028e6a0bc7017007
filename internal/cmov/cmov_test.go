package cmov

import (
	"strings"
	"testing"
)

func TestCompressProducesWellFormedCmovBox(t *testing.T) {
	body := strings.Repeat("abcdefgh", 4096) // compresses well past extraSpace
	var deltas []int64

	out, err := Compress([]byte(body), func(delta int64) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(deltas) != 2 {
		t.Fatalf("expected two shiftOffsets calls (probe then final), got %d", len(deltas))
	}
	if deltas[0] >= 0 {
		t.Fatalf("first shift should be negative (offsets move earlier): %d", deltas[0])
	}
	if deltas[1] <= 0 {
		t.Fatalf("second shift should be positive (final layout grows back): %d", deltas[1])
	}

	if string(out[4:8]) != "moov" {
		t.Fatalf("expected moov tag, got %q", out[4:8])
	}
	if string(out[12:16]) != "cmov" {
		t.Fatalf("expected cmov tag, got %q", out[12:16])
	}
	if string(out[20:24]) != "dcom" {
		t.Fatalf("expected dcom tag, got %q", out[20:24])
	}
}

func TestCompressReturnsErrNoSavingsForIncompressibleData(t *testing.T) {
	body := make([]byte, 64)
	for i := range body {
		body[i] = byte(i * 131)
	}

	_, err := Compress(body, func(int64) error { return nil })
	if err != ErrNoSavings {
		t.Fatalf("expected ErrNoSavings for tiny/incompressible input, got %v", err)
	}
}
