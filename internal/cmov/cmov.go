// Package cmov implements the optional zlib-compressed moov variant
// (dcom/cmvd wrapped in a cmov box, padded with a trailing free box),
// ported from moov_seek's COMPRESS_MOOV_ATOM branch.
package cmov

import (
	"bytes"
	"compress/zlib"
	"errors"

	"github.com/teocci/go-mp4-splitter/internal/bitio"
	"github.com/teocci/go-mp4-splitter/mp4io"
)

// ErrNoSavings is returned when compressing would not shrink the moov
// atom by enough to justify replacing it with a cmov wrapper (matching
// the reference splitter's "2nd pass compress overflow" bailout).
var ErrNoSavings = errors.New("cmov: compression does not shrink the atom enough to use")

const (
	extraSpace  = 4096
	padMarker   = "CodeShop"
)

// Compress deflates moovBody (the moov box's payload, not including its
// own 8-byte header) and returns a full replacement moov box: an
// 8-byte header, a cmov box (dcom + cmvd), and a trailing free box.
// The free box absorbs any size difference between the two compression
// passes, so the replacement is always the first-pass compressed size
// plus 4144 bytes; with savings of 4097 to 4135 bytes that is larger
// than the original moov box.
// shiftOffsets is called twice, and the two deltas add up to the net
// byte delta between the original and padded replacement sizes, so the
// caller can re-patch every trak's stco chunk offsets inside moovBody
// before the second, final compression pass — mirroring the two-pass size probe the original performs
// because the padding amount depends on the compressed size, which is
// read only after compressing once.
func Compress(moovBody []byte, shiftOffsets func(delta int64) error) ([]byte, error) {
	sourceLen := len(moovBody)

	compressed, err := deflate(moovBody)
	if err != nil {
		return nil, err
	}

	bytesSaved := sourceLen - len(compressed)
	if bytesSaved <= extraSpace {
		return nil, ErrNoSavings
	}

	if err := shiftOffsets(int64(-bytesSaved)); err != nil {
		return nil, err
	}

	dcomSize := 8 + 4
	cmvdSize := 8 + 4 + len(compressed)
	cmovSize := 8 + dcomSize + cmvdSize
	freeSize := 8 + extraSpace

	extra := int64(dcomSize) + int64(cmvdSize-len(compressed)) + 8 /*cmov hdr*/ + int64(freeSize)
	if err := shiftOffsets(extra); err != nil {
		return nil, err
	}

	// Recompress: shiftOffsets rewrites the stco offsets inside the
	// uncompressed moovBody we are about to deflate, so the second pass
	// must run after the offsets are patched, exactly as moov_seek does.
	compressed2, err := deflate(moovBody)
	if err != nil {
		return nil, err
	}

	cmvdSize = 8 + 4 + len(compressed2)
	cmovSize = 8 + dcomSize + cmvdSize
	freeSize = extraSpace + 8 + (len(compressed) - len(compressed2))
	if freeSize < 8 {
		return nil, ErrNoSavings
	}
	moovSize := 8 + cmovSize + freeSize

	out := make([]byte, moovSize)
	n := 0
	bitio.PutU32BE(out[n:], uint32(moovSize))
	n += 4
	bitio.PutU32BE(out[n:], uint32(mp4io.TagMoov))
	n += 4

	bitio.PutU32BE(out[n:], uint32(cmovSize))
	n += 4
	bitio.PutU32BE(out[n:], uint32(mp4io.StringToTag("cmov")))
	n += 4

	bitio.PutU32BE(out[n:], uint32(dcomSize))
	n += 4
	bitio.PutU32BE(out[n:], uint32(mp4io.StringToTag("dcom")))
	n += 4
	bitio.PutU32BE(out[n:], uint32(mp4io.StringToTag("zlib")))
	n += 4

	bitio.PutU32BE(out[n:], uint32(cmvdSize))
	n += 4
	bitio.PutU32BE(out[n:], uint32(mp4io.StringToTag("cmvd")))
	n += 4
	bitio.PutU32BE(out[n:], uint32(sourceLen))
	n += 4
	n += copy(out[n:], compressed2)

	bitio.PutU32BE(out[n:], uint32(freeSize))
	n += 4
	bitio.PutU32BE(out[n:], uint32(mp4io.TagFree))
	n += 4
	for i := 0; n != len(out); i, n = i+1, n+1 {
		out[n] = padMarker[i%len(padMarker)]
	}

	return out, nil
}

func deflate(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
