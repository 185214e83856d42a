package reverb

import (
	"math"
	"sync/atomic"

	"github.com/cwbudde/algo-dsp/dsp/effects"
	"github.com/gopxl/beep/v2"
)

// Params holds the room settings. Wet/dry levels come from the mix control.
type Params struct {
	RoomSize float64
	Damp     float64
}

// NewDefaultParams returns a medium room with medium damping.
func NewDefaultParams() Params {
	return Params{
		RoomSize: 0.5,
		Damp:     0.5,
	}
}

// Levels maps a mix percentage in [0,100] to wet and dry gains.
func Levels(mix float64) (wet, dry float64) {
	switch {
	case math.IsNaN(mix) || mix < 0:
		mix = 0
	case mix > 100:
		mix = 100
	}
	wet = mix / 100
	return wet, 1 - wet
}

// Effect applies a stereo Freeverb to the output of another streamer.
//
// SetMix and Reset may be called from any goroutine; they take effect at the
// start of the next Stream call.
type Effect struct {
	s     beep.Streamer
	left  *effects.Reverb
	right *effects.Reverb

	mix     atomic.Uint64 // float64 bits
	applied float64
	reset   atomic.Bool
}

// New wraps s. The effect starts fully dry.
func New(s beep.Streamer, p Params) *Effect {
	e := &Effect{
		s:     s,
		left:  effects.NewReverb(),
		right: effects.NewReverb(),
	}
	for _, r := range []*effects.Reverb{e.left, e.right} {
		r.SetRoomSize(p.RoomSize)
		r.SetDamp(p.Damp)
	}
	e.applied = -1
	e.SetMix(0)
	return e
}

// SetMix sets the wet percentage.
func (e *Effect) SetMix(mix float64) {
	wet, _ := Levels(mix)
	e.mix.Store(math.Float64bits(wet * 100))
}

// Mix returns the current wet percentage.
func (e *Effect) Mix() float64 {
	return math.Float64frombits(e.mix.Load())
}

// Stream pulls from the wrapped streamer and processes the block in place.
func (e *Effect) Stream(samples [][2]float64) (int, bool) {
	n, ok := e.s.Stream(samples)
	if e.reset.CompareAndSwap(true, false) {
		e.left.Reset()
		e.right.Reset()
	}
	if mix := e.Mix(); mix != e.applied {
		wet, dry := Levels(mix)
		e.left.SetWet(wet)
		e.left.SetDry(dry)
		e.right.SetWet(wet)
		e.right.SetDry(dry)
		e.applied = mix
	}
	for i := 0; i < n; i++ {
		samples[i][0] = e.left.ProcessSample(samples[i][0])
		samples[i][1] = e.right.ProcessSample(samples[i][1])
	}
	return n, ok
}

// Err returns the wrapped streamer's error.
func (e *Effect) Err() error {
	return e.s.Err()
}

// Reset asks for the reverb tails to be cleared. It may be called from any
// goroutine; the tails are dropped at the start of the next Stream call.
func (e *Effect) Reset() {
	e.reset.Store(true)
}
