package decode

import (
	"errors"
	"fmt"
	"os"

	dspresample "github.com/cwbudde/algo-dsp/dsp/resample"
	"github.com/cwbudde/algo-slowplay/queue"
	"github.com/cwbudde/algo-slowplay/stretch"
	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"
)

// ErrUnsupportedFormat is returned for files that are not readable PCM WAV.
var ErrUnsupportedFormat = errors.New("decode: unsupported format")

// Decoder reads WAV files into stereo buffers at a fixed engine sample rate.
// A zero SampleRate keeps the file's own rate.
type Decoder struct {
	SampleRate int
}

// New returns a decoder that resamples to sampleRate.
func New(sampleRate int) *Decoder {
	return &Decoder{SampleRate: sampleRate}
}

// Probe validates the container header of path and returns a track
// describing it, without reading the sample data.
func (d *Decoder) Probe(path string) (queue.Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return queue.Track{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return queue.Track{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if dec.NumChans < 1 || dec.SampleRate == 0 {
		return queue.Track{}, fmt.Errorf("%w: %s: %d channels at %d Hz", ErrUnsupportedFormat, path, dec.NumChans, dec.SampleRate)
	}

	t := queue.NewTrack(path)
	t.SampleRate = int(dec.SampleRate)
	if dur, err := dec.Duration(); err == nil {
		t.Frames = int(dur.Seconds()*float64(dec.SampleRate) + 0.5)
	}
	if d.SampleRate > 0 && t.SampleRate != d.SampleRate {
		t.Frames = int(float64(t.Frames)*float64(d.SampleRate)/float64(t.SampleRate) + 0.5)
		t.SampleRate = d.SampleRate
	}
	return t, nil
}

// Decode reads the whole file of t. Mono input is copied to both channels,
// channels beyond the second are dropped.
func (d *Decoder) Decode(t queue.Track) (*stretch.Buffer, error) {
	left, right, sampleRate, err := readStereo(t.Path)
	if err != nil {
		return nil, err
	}
	if d.SampleRate > 0 && sampleRate != d.SampleRate {
		if left, err = resample32(left, sampleRate, d.SampleRate); err != nil {
			return nil, fmt.Errorf("resample %s: %w", t.Path, err)
		}
		if right, err = resample32(right, sampleRate, d.SampleRate); err != nil {
			return nil, fmt.Errorf("resample %s: %w", t.Path, err)
		}
		sampleRate = d.SampleRate
	}
	return stretch.NewBufferLR(sampleRate, left, right), nil
}

// ReadMono reads path and averages all channels, for analysis.
func ReadMono(path string) ([]float64, int, error) {
	buf, err := readPCM(path)
	if err != nil {
		return nil, 0, err
	}
	ch := buf.Format.NumChannels
	scale, offset := pcmScale(buf.SourceBitDepth)
	frames := len(buf.Data) / ch
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < ch; c++ {
			sum += (float64(buf.Data[i*ch+c]) - offset) * scale
		}
		out[i] = sum / float64(ch)
	}
	return out, buf.Format.SampleRate, nil
}

func readPCM(path string) (*audio.IntBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, path, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid wav buffer: %s", ErrUnsupportedFormat, path)
	}
	if buf.SourceBitDepth == 0 {
		buf.SourceBitDepth = int(dec.BitDepth)
	}
	return buf, nil
}

func readStereo(path string) ([]float32, []float32, int, error) {
	buf, err := readPCM(path)
	if err != nil {
		return nil, nil, 0, err
	}
	ch := buf.Format.NumChannels
	scale, offset := pcmScale(buf.SourceBitDepth)
	frames := len(buf.Data) / ch
	left := make([]float32, frames)
	right := make([]float32, frames)
	for i := 0; i < frames; i++ {
		l := (float64(buf.Data[i*ch]) - offset) * scale
		r := l
		if ch > 1 {
			r = (float64(buf.Data[i*ch+1]) - offset) * scale
		}
		left[i] = float32(l)
		right[i] = float32(r)
	}
	return left, right, buf.Format.SampleRate, nil
}

// pcmScale maps integer samples of the given bit depth to [-1, 1).
// 8-bit WAV data is unsigned and needs re-centering.
func pcmScale(bitDepth int) (scale float64, offset float64) {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	if bitDepth == 8 {
		return 1.0 / 128.0, 128
	}
	return 1.0 / float64(int64(1)<<uint(bitDepth-1)), 0
}

func resample32(in []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate == toRate || len(in) == 0 {
		return in, nil
	}
	r, err := dspresample.NewForRates(
		float64(fromRate),
		float64(toRate),
		dspresample.WithQuality(dspresample.QualityBest),
	)
	if err != nil {
		return nil, err
	}
	in64 := make([]float64, len(in))
	for i, v := range in {
		in64[i] = float64(v)
	}
	out64 := r.Process(in64)
	out := make([]float32, len(out64))
	for i, v := range out64 {
		out[i] = float32(v)
	}
	return out, nil
}
