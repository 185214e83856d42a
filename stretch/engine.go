package stretch

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter is returned when a stretch is requested with a
// non-positive interval or without a loaded buffer.
var ErrInvalidParameter = errors.New("stretch: invalid parameter")

// DestIndex maps a source frame index to its position in the stretched
// buffer. One free slot is left after every frame whose index is a multiple
// of interval; that slot receives the duplicate.
//
// Defined for sourceIndex >= 0 and interval >= 1.
func DestIndex(sourceIndex, interval int) int {
	dup := sourceIndex / interval
	if sourceIndex%interval != 0 {
		dup++
	}
	return 2*dup + sourceIndex - dup
}

// StretchedLen is the derived buffer length for n source frames.
func StretchedLen(n, interval int) int {
	return n + n/interval + 1
}

// Stretch slows original down by repeating every interval-th frame.
// Samples are copied verbatim: no interpolation and no filtering, so pitch
// drops together with tempo.
func Stretch(original *Buffer, interval int) (*Buffer, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval %d must be >= 1", ErrInvalidParameter, interval)
	}
	if !original.allocated() {
		return nil, fmt.Errorf("%w: no source buffer", ErrInvalidParameter)
	}

	n := original.Len()
	derived := NewBuffer(original.SampleRate, StretchedLen(n, interval))

	for src := 0; src < n; src++ {
		dst := DestIndex(src, interval)
		for ch := 0; ch < NumChannels; ch++ {
			derived.Data[ch][dst] = original.Data[ch][src]
		}
		if src%interval == 0 {
			for ch := 0; ch < NumChannels; ch++ {
				derived.Data[ch][dst+1] = original.Data[ch][src]
			}
		}
	}
	return derived, nil
}
