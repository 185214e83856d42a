package tempo

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/cwbudde/algo-slowplay/internal/wavio"
)

// clickTrack renders decaying 1 kHz blips at the given tempo.
func clickTrack(bpm float64, seconds float64, sampleRate int) []float64 {
	n := int(seconds * float64(sampleRate))
	out := make([]float64, n)
	period := 60.0 / bpm * float64(sampleRate)
	blip := int(0.03 * float64(sampleRate))
	for beat := 0.0; int(beat) < n; beat += period {
		start := int(beat)
		for i := 0; i < blip && start+i < n; i++ {
			tt := float64(i) / float64(sampleRate)
			out[start+i] += 0.8 * math.Exp(-tt*120) * math.Sin(2*math.Pi*1000*tt)
		}
	}
	return out
}

func TestDetectClickTrack(t *testing.T) {
	const sr = 22050
	d, err := NewDetector(nil)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	for _, bpm := range []float64{90, 120, 140} {
		g, err := d.Detect(clickTrack(bpm, 20, sr), sr)
		if err != nil {
			t.Fatalf("Detect(%v): %v", bpm, err)
		}
		if math.Abs(g.BPM-bpm) > 3 {
			t.Fatalf("Detect(%v) = %.2f BPM, want within 3", bpm, g.BPM)
		}
		if g.Confidence <= 0 {
			t.Fatalf("Detect(%v) confidence = %v", bpm, g.Confidence)
		}
	}
}

func TestAnalyzeProducesOneGuessPerWindow(t *testing.T) {
	const sr = 22050
	d, err := NewDetector(nil)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	guesses, err := d.Analyze(clickTrack(120, 30, sr), sr)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(guesses) != 3 {
		t.Fatalf("got %d guesses, want 3 ten-second windows", len(guesses))
	}
	for i := 1; i < len(guesses); i++ {
		if guesses[i].Start <= guesses[i-1].Start {
			t.Fatalf("guesses out of order: %v", guesses)
		}
	}
}

func TestDetectWithRefinement(t *testing.T) {
	const sr = 22050
	p := NewDefaultParams()
	p.Refine = true
	p.RefineIterations = 10
	d, err := NewDetector(p)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	g, err := d.Detect(clickTrack(128, 12, sr), sr)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if math.Abs(g.BPM-128) > 3 {
		t.Fatalf("refined BPM = %.2f, want about 128", g.BPM)
	}
}

func TestDetectSilenceHasNoTempo(t *testing.T) {
	d, _ := NewDetector(nil)
	_, err := d.Detect(make([]float64, 22050*12), 22050)
	if !errors.Is(err, ErrNoTempo) {
		t.Fatalf("err = %v, want ErrNoTempo", err)
	}
}

func TestDetectTooShort(t *testing.T) {
	d, _ := NewDetector(nil)
	if _, err := d.Detect(make([]float64, 100), 22050); !errors.Is(err, ErrTooShort) {
		t.Fatalf("err = %v, want ErrTooShort", err)
	}
	if _, err := d.Detect(make([]float64, 4096), 0); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
}

func TestBestPicksHighestConfidence(t *testing.T) {
	g, err := Best([]Guess{
		{BPM: 100, Confidence: 0.2},
		{BPM: 121, Confidence: 0.7},
		{BPM: 119, Confidence: 0.7},
		{BPM: 80, Confidence: 0},
	})
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if g.BPM != 121 {
		t.Fatalf("Best = %v, want first highest-confidence guess", g.BPM)
	}
	if _, err := Best(nil); !errors.Is(err, ErrNoTempo) {
		t.Fatalf("Best(nil) err = %v", err)
	}
}

func TestParamsValidate(t *testing.T) {
	bad := []func(p *Params){
		func(p *Params) { p.WindowSeconds = 0 },
		func(p *Params) { p.FrameSize = 1000 },
		func(p *Params) { p.HopSize = 0 },
		func(p *Params) { p.HopSize = 4096 },
		func(p *Params) { p.MinBPM = 200; p.MaxBPM = 100 },
		func(p *Params) { p.PriorOctaves = 0 },
		func(p *Params) { p.Refine = true; p.RefineIterations = 0 },
	}
	for i, mutate := range bad {
		p := NewDefaultParams()
		mutate(p)
		if _, err := NewDetector(p); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestDetectBPMFromFile(t *testing.T) {
	const sr = 22050
	sig := clickTrack(100, 15, sr)
	data := make([]float32, len(sig))
	for i, v := range sig {
		data[i] = float32(v)
	}
	path := filepath.Join(t.TempDir(), "click.wav")
	if err := wavio.WriteMono(path, data, sr); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	d, _ := NewDetector(nil)
	bpm, err := d.DetectBPM(path)
	if err != nil {
		t.Fatalf("DetectBPM: %v", err)
	}
	if math.Abs(bpm-100) > 3 {
		t.Fatalf("DetectBPM = %.2f, want about 100", bpm)
	}
}

func TestParabolicOffset(t *testing.T) {
	if off := parabolicOffset(1, 2, 1); off != 0 {
		t.Fatalf("symmetric peak offset = %v", off)
	}
	if off := parabolicOffset(1, 2, 1.5); off <= 0 {
		t.Fatalf("peak should lean right, got %v", off)
	}
	if off := parabolicOffset(1, 1, 1); off != 0 {
		t.Fatalf("flat offset = %v", off)
	}
}
