package tempo

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"time"

	"github.com/cwbudde/algo-approx"
	algofft "github.com/cwbudde/algo-fft"
	"github.com/cwbudde/algo-slowplay/decode"
	"github.com/cwbudde/mayfly"
)

var (
	// ErrTooShort is returned when the signal does not cover one analysis frame.
	ErrTooShort = errors.New("tempo: signal too short")
	// ErrNoTempo is returned when no analysis window produced a usable guess.
	ErrNoTempo = errors.New("tempo: no tempo found")
)

// Params configures the detector.
type Params struct {
	WindowSeconds float64 // length of one analysis window
	FrameSize     int     // FFT size for the onset envelope
	HopSize       int     // envelope hop in samples
	MinBPM        float64
	MaxBPM        float64
	PriorBPM      float64 // centre of the log-Gaussian tempo prior
	PriorOctaves  float64 // prior width, in octaves

	Refine           bool    // refine the winning guess with mayfly
	RefineSpanBPM    float64 // search +/- this many BPM around the guess
	RefineIterations int
	Seed             int64
}

// NewDefaultParams returns settings suited to popular music.
func NewDefaultParams() *Params {
	return &Params{
		WindowSeconds:    10,
		FrameSize:        1024,
		HopSize:          256,
		MinBPM:           60,
		MaxBPM:           200,
		PriorBPM:         120,
		PriorOctaves:     1,
		Refine:           false,
		RefineSpanBPM:    3,
		RefineIterations: 40,
		Seed:             1,
	}
}

// Validate reports the first invalid field.
func (p *Params) Validate() error {
	switch {
	case p.WindowSeconds <= 0:
		return fmt.Errorf("window_seconds must be > 0")
	case p.FrameSize < 64 || p.FrameSize&(p.FrameSize-1) != 0:
		return fmt.Errorf("frame_size must be a power of two >= 64")
	case p.HopSize <= 0 || p.HopSize > p.FrameSize:
		return fmt.Errorf("hop_size must be in (0, frame_size]")
	case p.MinBPM <= 0 || p.MaxBPM <= p.MinBPM:
		return fmt.Errorf("bpm range must satisfy 0 < min_bpm < max_bpm")
	case p.PriorBPM <= 0 || p.PriorOctaves <= 0:
		return fmt.Errorf("prior_bpm and prior_octaves must be > 0")
	case p.Refine && (p.RefineSpanBPM <= 0 || p.RefineIterations < 1):
		return fmt.Errorf("refine needs refine_span_bpm > 0 and refine_iterations >= 1")
	}
	return nil
}

// Guess is the tempo estimate of one analysis window.
type Guess struct {
	BPM        float64       `json:"bpm"`
	Confidence float64       `json:"confidence"`
	Start      time.Duration `json:"start"`
}

// Detector estimates tempo from an onset-strength envelope.
type Detector struct {
	p *Params
}

// NewDetector returns a detector; nil params select the defaults.
func NewDetector(p *Params) (*Detector, error) {
	if p == nil {
		p = NewDefaultParams()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Detector{p: p}, nil
}

// Params returns the detector settings.
func (d *Detector) Params() Params {
	return *d.p
}

// Analyze returns one guess per fixed-size analysis window, in time order.
func (d *Detector) Analyze(signal []float64, sampleRate int) ([]Guess, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("tempo: invalid sample rate %d", sampleRate)
	}
	env, err := onsetEnvelope(signal, d.p.FrameSize, d.p.HopSize)
	if err != nil {
		return nil, err
	}
	envRate := float64(sampleRate) / float64(d.p.HopSize)
	minLag := int(math.Floor(60 * envRate / d.p.MaxBPM))
	maxLag := int(math.Ceil(60 * envRate / d.p.MinBPM))
	if minLag < 1 {
		minLag = 1
	}

	win := int(d.p.WindowSeconds * envRate)
	if win < 2*maxLag {
		win = 2 * maxLag
	}

	var guesses []Guess
	for start := 0; start < len(env); start += win {
		end := start + win
		if end > len(env) {
			end = len(env)
		}
		if end-start < 2*maxLag {
			if start > 0 {
				break
			}
			// Short signals get a single, shorter window.
			if end-start <= maxLag+1 {
				return nil, ErrTooShort
			}
		}
		seg := removeMean(env[start:end])
		g, ok := d.analyzeWindow(seg, envRate, minLag, maxLag)
		if !ok {
			continue
		}
		g.Start = time.Duration(float64(start) / envRate * float64(time.Second))
		if d.p.Refine {
			g = d.refine(seg, envRate, g)
		}
		guesses = append(guesses, g)
	}
	return guesses, nil
}

// Detect returns the highest-confidence guess over all windows.
func (d *Detector) Detect(signal []float64, sampleRate int) (Guess, error) {
	guesses, err := d.Analyze(signal, sampleRate)
	if err != nil {
		return Guess{}, err
	}
	return Best(guesses)
}

// DetectBPM reads a WAV file and returns its tempo.
func (d *Detector) DetectBPM(path string) (float64, error) {
	mono, sr, err := decode.ReadMono(path)
	if err != nil {
		return 0, err
	}
	g, err := d.Detect(mono, sr)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return g.BPM, nil
}

// Best picks the guess with the highest confidence. Ties keep the earlier window.
func Best(guesses []Guess) (Guess, error) {
	best := -1
	for i, g := range guesses {
		if g.Confidence <= 0 || math.IsNaN(g.BPM) {
			continue
		}
		if best < 0 || g.Confidence > guesses[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return Guess{}, ErrNoTempo
	}
	return guesses[best], nil
}

func (d *Detector) analyzeWindow(env []float64, envRate float64, minLag, maxLag int) (Guess, bool) {
	r0 := autocorr(env, 0)
	if r0 <= 0 {
		return Guess{}, false
	}
	if maxLag >= len(env) {
		maxLag = len(env) - 1
	}
	if minLag > maxLag {
		return Guess{}, false
	}

	ac := make([]float64, maxLag+2)
	for lag := max(minLag-1, 1); lag <= maxLag+1 && lag < len(env); lag++ {
		ac[lag] = autocorr(env, lag) / r0
	}

	bestLag := -1
	bestScore := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		score := ac[lag] * d.prior(60*envRate/float64(lag))
		if score > bestScore {
			bestScore = score
			bestLag = lag
		}
	}
	if bestLag < 0 {
		return Guess{}, false
	}

	lag := float64(bestLag)
	if bestLag > 1 && bestLag+1 < len(ac) {
		lag += parabolicOffset(ac[bestLag-1], ac[bestLag], ac[bestLag+1])
	}
	return Guess{
		BPM:        60 * envRate / lag,
		Confidence: bestScore,
	}, true
}

// prior weights tempi by distance from PriorBPM on a log2 axis.
func (d *Detector) prior(bpm float64) float64 {
	x := math.Log2(bpm/d.p.PriorBPM) / d.p.PriorOctaves
	return float64(approx.FastExp(float32(-0.5 * x * x)))
}

func (d *Detector) refine(env []float64, envRate float64, g Guess) Guess {
	lo := math.Max(g.BPM-d.p.RefineSpanBPM, d.p.MinBPM)
	hi := math.Min(g.BPM+d.p.RefineSpanBPM, d.p.MaxBPM)
	if hi <= lo {
		return g
	}

	r0 := autocorr(env, 0)
	bestBPM := g.BPM
	bestCost := -combScore(env, r0, envRate, g.BPM)

	cfg := mayfly.NewDefaultConfig()
	cfg.ProblemSize = 1
	cfg.LowerBound = 0.0
	cfg.UpperBound = 1.0
	cfg.MaxIterations = d.p.RefineIterations
	cfg.NPop = 8
	cfg.NPopF = 8
	cfg.NC = 16
	cfg.NM = 1
	cfg.Rand = rand.New(rand.NewSource(d.p.Seed))
	cfg.ObjectiveFunc = func(pos []float64) float64 {
		bpm := lo + clamp01(pos[0])*(hi-lo)
		cost := -combScore(env, r0, envRate, bpm)
		if cost < bestCost {
			bestCost = cost
			bestBPM = bpm
		}
		return cost
	}
	if _, err := runMayfly(cfg); err != nil {
		return g
	}
	g.BPM = bestBPM
	return g
}

func runMayfly(cfg *mayfly.Config) (_ *mayfly.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mayfly panic: %v", r)
		}
	}()
	return mayfly.Optimize(cfg)
}

// combScore rates a continuous tempo by the normalized autocorrelation at
// one and two beat periods.
func combScore(env []float64, r0, envRate, bpm float64) float64 {
	if r0 <= 0 || bpm <= 0 {
		return 0
	}
	lag := 60 * envRate / bpm
	return (fractionalAutocorr(env, lag) + 0.5*fractionalAutocorr(env, 2*lag)) / r0
}

// onsetEnvelope computes log-compressed spectral flux, one value per hop.
func onsetEnvelope(signal []float64, frameSize, hop int) ([]float64, error) {
	if len(signal) < frameSize {
		return nil, ErrTooShort
	}
	plan, err := algofft.NewPlanReal64(frameSize)
	if err != nil {
		return nil, fmt.Errorf("fft plan: %w", err)
	}

	hann := make([]float64, frameSize)
	for i := range hann {
		hann[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(frameSize-1))
	}

	nBins := frameSize/2 + 1
	spectrum := make([]complex128, nBins)
	buf := make([]float64, frameSize)
	prev := make([]float64, nBins)
	mag := make([]float64, nBins)

	frames := (len(signal)-frameSize)/hop + 1
	env := make([]float64, frames)
	for f := 0; f < frames; f++ {
		pos := f * hop
		for i := 0; i < frameSize; i++ {
			buf[i] = signal[pos+i] * hann[i]
		}
		plan.Forward(spectrum, buf)
		var flux float64
		for k := 1; k < nBins; k++ {
			mag[k] = math.Log1p(100 * cmplx.Abs(spectrum[k]))
			if diff := mag[k] - prev[k]; diff > 0 && f > 0 {
				flux += diff
			}
		}
		env[f] = flux
		prev, mag = mag, prev
	}
	return smooth(env), nil
}

// smooth applies a 5-tap triangular kernel so onset peaks that straddle two
// hops still correlate at the nearest integer lag.
func smooth(x []float64) []float64 {
	kernel := [5]float64{1, 2, 3, 2, 1}
	out := make([]float64, len(x))
	for i := range x {
		var sum, norm float64
		for k, w := range kernel {
			j := i + k - 2
			if j < 0 || j >= len(x) {
				continue
			}
			sum += w * x[j]
			norm += w
		}
		out[i] = sum / norm
	}
	return out
}

func removeMean(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	for i, v := range x {
		out[i] = v - mean
	}
	return out
}

func autocorr(x []float64, lag int) float64 {
	var sum float64
	for i := 0; i+lag < len(x); i++ {
		sum += x[i] * x[i+lag]
	}
	return sum
}

func fractionalAutocorr(x []float64, lag float64) float64 {
	lo := int(math.Floor(lag))
	if lo < 0 || lo+1 >= len(x) {
		return 0
	}
	frac := lag - float64(lo)
	return (1-frac)*autocorr(x, lo) + frac*autocorr(x, lo+1)
}

// parabolicOffset returns the vertex offset of a parabola through three
// equally spaced points, in [-0.5, 0.5].
func parabolicOffset(a, b, c float64) float64 {
	den := a - 2*b + c
	if den == 0 {
		return 0
	}
	off := 0.5 * (a - c) / den
	if off > 0.5 {
		return 0.5
	}
	if off < -0.5 {
		return -0.5
	}
	return off
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
