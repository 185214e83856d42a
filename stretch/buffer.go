package stretch

import (
	"sync/atomic"
	"time"
)

// NumChannels is the fixed channel count of every buffer handled by the engine.
const NumChannels = 2

// Buffer holds planar stereo PCM. It is never mutated after it has been
// published to a Store.
type Buffer struct {
	SampleRate int
	Data       [NumChannels][]float32
}

// NewBuffer allocates a zeroed buffer with the given number of frames.
func NewBuffer(sampleRate int, frames int) *Buffer {
	if frames < 0 {
		frames = 0
	}
	b := &Buffer{SampleRate: sampleRate}
	for ch := range b.Data {
		b.Data[ch] = make([]float32, frames)
	}
	return b
}

// NewBufferLR builds a buffer from separate left/right channels.
// The shorter channel is zero-padded to the length of the longer one.
func NewBufferLR(sampleRate int, left, right []float32) *Buffer {
	n := len(left)
	if len(right) > n {
		n = len(right)
	}
	b := NewBuffer(sampleRate, n)
	copy(b.Data[0], left)
	copy(b.Data[1], right)
	return b
}

// Len returns the number of frames.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Data[0])
}

// Seconds returns the buffer length in seconds.
func (b *Buffer) Seconds() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Len()) / float64(b.SampleRate)
}

// Duration returns the buffer length as a time.Duration.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return FramesToDuration(b.Len(), b.SampleRate)
}

// FramesToDuration converts a frame count at sampleRate to a duration.
func FramesToDuration(frames, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// DurationToFrames converts d to a frame count at sampleRate, rounding down.
func DurationToFrames(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

func (b *Buffer) allocated() bool {
	if b == nil {
		return false
	}
	for ch := range b.Data {
		if b.Data[ch] == nil {
			return false
		}
		if len(b.Data[ch]) != len(b.Data[0]) {
			return false
		}
	}
	return true
}

// Store owns the original buffer of the active track and the derived
// (stretched) buffer consumed by playback.
//
// The original is only touched by the control side. The derived buffer is
// replaced wholesale through an atomic pointer so a reader sees either the old
// or the new buffer, never a partially written one.
type Store struct {
	original *Buffer
	interval int
	derived  atomic.Pointer[Buffer]
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Original returns the decoded buffer of the active track.
func (s *Store) Original() *Buffer {
	return s.original
}

// SetOriginal replaces the original buffer. The derived buffer is left as is
// until the next Rebuild.
func (s *Store) SetOriginal(b *Buffer) {
	s.original = b
}

// Interval returns the duplication interval of the last successful rebuild.
func (s *Store) Interval() int {
	return s.interval
}

// Derived returns the currently published derived buffer. Safe to call from
// the render goroutine.
func (s *Store) Derived() *Buffer {
	return s.derived.Load()
}

// Build stretches the original buffer without publishing the result.
func (s *Store) Build(interval int) (*Buffer, error) {
	return Stretch(s.original, interval)
}

// Publish swaps in a fully constructed derived buffer built with interval and
// returns the retired one.
func (s *Store) Publish(b *Buffer, interval int) *Buffer {
	s.interval = interval
	return s.derived.Swap(b)
}

// Rebuild stretches the original buffer with interval and publishes the
// result. On error the previously published buffer stays active.
func (s *Store) Rebuild(interval int) (*Buffer, error) {
	derived, err := s.Build(interval)
	if err != nil {
		return nil, err
	}
	s.Publish(derived, interval)
	return derived, nil
}

// Clear drops both buffers.
func (s *Store) Clear() {
	s.original = nil
	s.interval = 0
	s.derived.Store(nil)
}
