package transport

import (
	"sync/atomic"

	"github.com/gopxl/beep/v2"

	"github.com/cwbudde/algo-slowplay/stretch"
)

// The play-head packs a seek epoch above the frame position. Every control
// seek bumps the epoch, so a render block that read the head before the seek
// fails its compare-and-swap and leaves the new position alone.
const (
	epochShift = 48
	frameMask  = uint64(1)<<epochShift - 1
)

// Player streams the derived buffer of a Store. It is the render side of the
// transport: Stream never locks or allocates and reads the buffer with a
// single atomic load per block.
type Player struct {
	store      *stretch.Store
	sampleRate beep.SampleRate

	head    atomic.Uint64
	playing atomic.Bool
	ended   atomic.Bool
	wake    chan struct{}
}

// NewPlayer returns a paused player reading from store.
func NewPlayer(store *stretch.Store, sampleRate int) *Player {
	return &Player{
		store:      store,
		sampleRate: beep.SampleRate(sampleRate),
		wake:       make(chan struct{}, 1),
	}
}

// Stream fills samples from the current play-head. While paused, or after
// the end of the buffer, it emits silence. It always reports a full block so
// the output chain keeps running between tracks.
func (p *Player) Stream(samples [][2]float64) (int, bool) {
	clear(samples)
	if !p.playing.Load() {
		return len(samples), true
	}

	cur := p.head.Load()
	buf := p.store.Derived()
	if !p.playing.Load() || p.head.Load() != cur {
		// A pause, seek or buffer swap landed while loading.
		return len(samples), true
	}
	pos := int(cur & frameMask)
	length := buf.Len()

	n := 0
	if pos < length {
		n = min(len(samples), length-pos)
		left := buf.Data[0][pos : pos+n]
		right := buf.Data[1][pos : pos+n]
		for i := range n {
			samples[i][0] = float64(left[i])
			samples[i][1] = float64(right[i])
		}
	}

	next := pos + n
	if !p.head.CompareAndSwap(cur, cur&^frameMask|uint64(next)) {
		// A seek won the race.
		return len(samples), true
	}
	if next >= length && p.playing.CompareAndSwap(true, false) {
		p.ended.Store(true)
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	return len(samples), true
}

// Err always returns nil.
func (p *Player) Err() error {
	return nil
}

// Len returns the length of the published buffer in frames.
func (p *Player) Len() int {
	return p.store.Derived().Len()
}

// Position returns the play-head in frames.
func (p *Player) Position() int {
	return int(p.head.Load() & frameMask)
}

// Seek moves the play-head, clamped to [0, Len].
func (p *Player) Seek(pos int) error {
	pos = max(0, min(pos, p.Len()))
	for {
		cur := p.head.Load()
		epoch := (cur>>epochShift + 1) << epochShift
		if p.head.CompareAndSwap(cur, epoch|uint64(pos)) {
			return nil
		}
	}
}

// invalidate bumps the seek epoch without moving the play-head. Called before
// a new buffer is published so a block that already loaded the old head
// cannot read the new buffer at the old position.
func (p *Player) invalidate() {
	for {
		cur := p.head.Load()
		next := (cur>>epochShift+1)<<epochShift | cur&frameMask
		if p.head.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Fraction returns the play-head as a fraction of the buffer length.
func (p *Player) Fraction() float64 {
	n := p.Len()
	if n == 0 {
		return 0
	}
	return float64(p.Position()) / float64(n)
}

// Format returns the stream format of the player.
func (p *Player) Format() beep.Format {
	return beep.Format{
		SampleRate:  p.sampleRate,
		NumChannels: stretch.NumChannels,
		Precision:   2,
	}
}

// Playing reports whether the player is producing audio.
func (p *Player) Playing() bool {
	return p.playing.Load()
}

// Ended returns a channel that receives a value when the player runs off the
// end of the buffer. Sends never block; a pending wake-up is coalesced.
func (p *Player) Ended() <-chan struct{} {
	return p.wake
}

func (p *Player) start() {
	p.playing.Store(true)
}

func (p *Player) pause() {
	p.playing.Store(false)
}

// takeEnded consumes the end-of-stream flag. It returns true at most once
// per completion.
func (p *Player) takeEnded() bool {
	return p.ended.CompareAndSwap(true, false)
}

func (p *Player) clearEnded() {
	p.ended.Store(false)
	select {
	case <-p.wake:
	default:
	}
}
