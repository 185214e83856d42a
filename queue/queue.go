package queue

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrEmpty is returned when the queue has no head.
	ErrEmpty = errors.New("queue: empty")
	// ErrIndexOutOfRange is returned by DeleteAt for an invalid row.
	ErrIndexOutOfRange = errors.New("queue: index out of range")
)

// Track identifies one audio source.
type Track struct {
	ID         string
	Path       string
	Frames     int // total sample frames, known after probe/decode
	Channels   int
	SampleRate int
}

// NewTrack creates a stereo track for path with an ID derived from the file name.
func NewTrack(path string) Track {
	base := filepath.Base(path)
	return Track{
		ID:       strings.TrimSuffix(base, filepath.Ext(base)),
		Path:     path,
		Channels: 2,
	}
}

// Queue is an ordered list of tracks. The head is the track being played.
// A Queue is not safe for concurrent use.
type Queue struct {
	tracks []Track
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Len returns the number of queued tracks including the head.
func (q *Queue) Len() int {
	return len(q.tracks)
}

// Append adds t at the tail.
func (q *Queue) Append(t Track) {
	q.tracks = append(q.tracks, t)
}

// Head returns the current track without removing it.
func (q *Queue) Head() (Track, error) {
	if len(q.tracks) == 0 {
		return Track{}, ErrEmpty
	}
	return q.tracks[0], nil
}

// SetHead replaces the head entry, e.g. once decoding filled in its length.
func (q *Queue) SetHead(t Track) error {
	if len(q.tracks) == 0 {
		return ErrEmpty
	}
	q.tracks[0] = t
	return nil
}

// PopHead removes and returns the head.
func (q *Queue) PopHead() (Track, error) {
	if len(q.tracks) == 0 {
		return Track{}, ErrEmpty
	}
	head := q.tracks[0]
	q.tracks[0] = Track{}
	q.tracks = q.tracks[1:]
	return head, nil
}

// DeleteAt removes the entry at index and returns it.
func (q *Queue) DeleteAt(index int) (Track, error) {
	if index < 0 || index >= len(q.tracks) {
		return Track{}, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, index, len(q.tracks))
	}
	t := q.tracks[index]
	q.tracks = append(q.tracks[:index], q.tracks[index+1:]...)
	return t, nil
}

// Tracks returns a copy of the queued tracks in order.
func (q *Queue) Tracks() []Track {
	out := make([]Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}
