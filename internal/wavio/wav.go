package wavio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"

	"github.com/cwbudde/algo-slowplay/stretch"
)

// WriteBuffer writes a planar engine buffer as a 16-bit stereo WAV at the
// buffer's own sample rate.
func WriteBuffer(path string, b *stretch.Buffer) error {
	if b == nil || b.SampleRate <= 0 {
		return fmt.Errorf("wavio: buffer without sample rate")
	}
	left, right := b.Data[0], b.Data[1]
	if len(left) != len(right) {
		return fmt.Errorf("wavio: channel lengths differ (%d vs %d)", len(left), len(right))
	}
	samples := make([]float32, 0, 2*len(left))
	for i, l := range left {
		samples = append(samples, l, right[i])
	}
	return WriteStereoInterleaved(path, samples, b.SampleRate)
}

// WriteStereoInterleaved writes interleaved L/R samples as a 16-bit stereo WAV.
func WriteStereoInterleaved(path string, samples []float32, sampleRate int) error {
	return write(path, samples, sampleRate, 2)
}

// WriteMono writes a 16-bit mono WAV.
func WriteMono(path string, data []float32, sampleRate int) error {
	return write(path, data, sampleRate, 1)
}

func write(path string, samples []float32, sampleRate int, channels int) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	defer enc.Close()

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: channels,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		buf.Data[i] = toInt16(s)
	}
	return enc.Write(buf)
}

// toInt16 clips s to [-1, 1] and scales it to the 16-bit range.
func toInt16(s float32) int {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int(math.Round(v * 32767))
}

// AppendFrames appends stereo frames to an interleaved float32 slice.
func AppendFrames(dst []float32, frames [][2]float64) []float32 {
	for _, f := range frames {
		dst = append(dst, float32(f[0]), float32(f[1]))
	}
	return dst
}

// Level is the signal level of a rendered stream.
type Level struct {
	RMS  float64
	Peak float64
}

// DBFS returns the RMS level in dB relative to full scale. Silence maps to
// negative infinity.
func (l Level) DBFS() float64 {
	if l.RMS <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(l.RMS)
}

// Measure computes the level over all channels of interleaved samples.
func Measure(interleaved []float32) Level {
	var lv Level
	if len(interleaved) == 0 {
		return lv
	}
	var energy float64
	for _, s := range interleaved {
		v := float64(s)
		energy += v * v
		lv.Peak = math.Max(lv.Peak, math.Abs(v))
	}
	lv.RMS = math.Sqrt(energy / float64(len(interleaved)))
	return lv
}
