package preset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cwbudde/algo-slowplay/tempo"
	"github.com/cwbudde/algo-slowplay/transport"
)

// File is the JSON schema for playback presets.
type File struct {
	SampleRate     *int     `json:"sample_rate"`
	BlockSize      *int     `json:"block_size"`
	PollIntervalMs *int     `json:"poll_interval_ms"`
	SlowPercent    *float64 `json:"slow_percent"`
	TargetBPM      *float64 `json:"target_bpm"`
	ReverbMix      *float64 `json:"reverb_mix"`
	ReverbRoomSize *float64 `json:"reverb_room_size"`
	ReverbDamp     *float64 `json:"reverb_damp"`
	Tracks         []string `json:"tracks"`
	Tempo          *Tempo   `json:"tempo"`
}

// Tempo is the partial tempo detector override in a preset file.
type Tempo struct {
	WindowSeconds *float64 `json:"window_seconds"`
	MinBPM        *float64 `json:"min_bpm"`
	MaxBPM        *float64 `json:"max_bpm"`
	Refine        *bool    `json:"refine"`
}

// Config is a resolved preset.
type Config struct {
	Transport *transport.Options
	Tempo     *tempo.Params
	// TargetBPM, when > 0, asks for the slow-down to be derived from the
	// detected tempo of each track.
	TargetBPM float64
	// Tracks are queued in order. Relative paths are resolved against the
	// preset's directory.
	Tracks []string
}

// NewDefaultConfig returns the configuration used without a preset.
func NewDefaultConfig() *Config {
	return &Config{
		Transport: transport.NewDefaultOptions(),
		Tempo:     tempo.NewDefaultParams(),
	}
}

// LoadJSON loads a preset JSON file and applies it on top of the defaults.
func LoadJSON(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}

	c := NewDefaultConfig()
	if err := ApplyFile(c, &f); err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i, p := range c.Tracks {
		if !filepath.IsAbs(p) {
			c.Tracks[i] = filepath.Clean(filepath.Join(base, p))
		}
	}
	return c, nil
}

// ApplyFile applies a parsed preset file onto an existing config.
func ApplyFile(dst *Config, f *File) error {
	if dst == nil || dst.Transport == nil || dst.Tempo == nil {
		return fmt.Errorf("nil destination config")
	}
	if f == nil {
		return nil
	}

	o := dst.Transport
	if f.SampleRate != nil {
		if *f.SampleRate <= 0 {
			return fmt.Errorf("sample_rate must be > 0")
		}
		o.SampleRate = *f.SampleRate
	}
	if f.BlockSize != nil {
		if *f.BlockSize <= 0 {
			return fmt.Errorf("block_size must be > 0")
		}
		o.BlockSize = *f.BlockSize
	}
	if f.PollIntervalMs != nil {
		if *f.PollIntervalMs <= 0 {
			return fmt.Errorf("poll_interval_ms must be > 0")
		}
		o.PollInterval = time.Duration(*f.PollIntervalMs) * time.Millisecond
	}
	if f.SlowPercent != nil {
		if *f.SlowPercent < 0 || *f.SlowPercent > 100 {
			return fmt.Errorf("slow_percent must be in [0,100]")
		}
		o.SlowPercent = *f.SlowPercent
	}
	if f.TargetBPM != nil {
		if *f.TargetBPM <= 0 {
			return fmt.Errorf("target_bpm must be > 0")
		}
		dst.TargetBPM = *f.TargetBPM
	}
	if f.ReverbMix != nil {
		if *f.ReverbMix < 0 || *f.ReverbMix > 100 {
			return fmt.Errorf("reverb_mix must be in [0,100]")
		}
		o.ReverbMix = *f.ReverbMix
	}
	if f.ReverbRoomSize != nil {
		if *f.ReverbRoomSize < 0 || *f.ReverbRoomSize > 1 {
			return fmt.Errorf("reverb_room_size must be in [0,1]")
		}
		o.Reverb.RoomSize = *f.ReverbRoomSize
	}
	if f.ReverbDamp != nil {
		if *f.ReverbDamp < 0 || *f.ReverbDamp > 1 {
			return fmt.Errorf("reverb_damp must be in [0,1]")
		}
		o.Reverb.Damp = *f.ReverbDamp
	}
	for _, p := range f.Tracks {
		p = strings.TrimSpace(p)
		if p == "" {
			return fmt.Errorf("tracks: empty path")
		}
		dst.Tracks = append(dst.Tracks, p)
	}

	if f.Tempo != nil {
		tp := dst.Tempo
		if f.Tempo.WindowSeconds != nil {
			tp.WindowSeconds = *f.Tempo.WindowSeconds
		}
		if f.Tempo.MinBPM != nil {
			tp.MinBPM = *f.Tempo.MinBPM
		}
		if f.Tempo.MaxBPM != nil {
			tp.MaxBPM = *f.Tempo.MaxBPM
		}
		if f.Tempo.Refine != nil {
			tp.Refine = *f.Tempo.Refine
		}
		if err := tp.Validate(); err != nil {
			return fmt.Errorf("tempo: %w", err)
		}
	}
	return o.Validate()
}
