package splitter

import "errors"

var (
	// ErrNoMoov is returned when the input has no moov box.
	ErrNoMoov = errors.New("splitter: no moov box found")
	// ErrNoMdat is returned when the input has no mdat box.
	ErrNoMdat = errors.New("splitter: no mdat box found")
	// ErrEmptyInterval is returned when the requested [start, end) time
	// window is empty (end is set and start is not before it), or when
	// it snaps to zero or negative length once every track's start and
	// end have been aligned to a keyframe.
	ErrEmptyInterval = errors.New("splitter: requested interval is empty after keyframe alignment")
	// ErrTooManyTracks is returned when the moov box has more video or
	// sound tracks than Options.MaxTracks allows. A moov with more than
	// mp4io.MaxTracks such tracks fails earlier, in the moov parser, and
	// Split returns mp4io.ErrTooManyTracks wrapped instead.
	ErrTooManyTracks = errors.New("splitter: too many tracks")
)
