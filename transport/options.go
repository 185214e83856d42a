package transport

import (
	"fmt"
	"time"

	"github.com/cwbudde/algo-slowplay/queue"
	"github.com/cwbudde/algo-slowplay/reverb"
	"github.com/cwbudde/algo-slowplay/stretch"
)

// Options configures a Session.
type Options struct {
	// SampleRate is the rate of the render chain. Decoders should deliver
	// buffers at this rate.
	SampleRate int
	// BlockSize is the number of frames a host pulls per render call.
	BlockSize int
	// PollInterval is how often Run checks for end-of-stream when no wake-up
	// arrives.
	PollInterval time.Duration

	SlowPercent float64
	ReverbMix   float64
	Reverb      reverb.Params
}

// NewDefaultOptions returns the defaults used by the command line tools.
func NewDefaultOptions() *Options {
	return &Options{
		SampleRate:   44100,
		BlockSize:    512,
		PollInterval: 20 * time.Millisecond,
		SlowPercent:  0,
		ReverbMix:    0,
		Reverb:       reverb.NewDefaultParams(),
	}
}

// Validate checks the option ranges.
func (o *Options) Validate() error {
	if o.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be > 0")
	}
	if o.BlockSize <= 0 {
		return fmt.Errorf("block size must be > 0")
	}
	if o.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be > 0")
	}
	if o.SlowPercent < 0 || o.SlowPercent > 100 {
		return fmt.Errorf("slow percent must be in [0,100]")
	}
	if o.ReverbMix < 0 || o.ReverbMix > 100 {
		return fmt.Errorf("reverb mix must be in [0,100]")
	}
	if o.Reverb.RoomSize < 0 || o.Reverb.RoomSize > 1 {
		return fmt.Errorf("reverb room size must be in [0,1]")
	}
	if o.Reverb.Damp < 0 || o.Reverb.Damp > 1 {
		return fmt.Errorf("reverb damp must be in [0,1]")
	}
	return nil
}

// Decoder turns queued paths into playable buffers.
type Decoder interface {
	// Probe checks that path can be decoded and returns its queue entry.
	Probe(path string) (queue.Track, error)
	// Decode reads the whole track as stereo PCM.
	Decode(t queue.Track) (*stretch.Buffer, error)
}

// BPMDetector estimates the tempo of an audio file.
type BPMDetector interface {
	DetectBPM(path string) (float64, error)
}
