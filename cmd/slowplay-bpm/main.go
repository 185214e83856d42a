package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/cwbudde/algo-slowplay/decode"
	"github.com/cwbudde/algo-slowplay/preset"
	"github.com/cwbudde/algo-slowplay/stretch"
	"github.com/cwbudde/algo-slowplay/tempo"
)

type report struct {
	Path       string        `json:"path"`
	BPM        float64       `json:"bpm"`
	Confidence float64       `json:"confidence"`
	Seconds    float64       `json:"seconds"`
	TargetBPM  float64       `json:"target_bpm,omitempty"`
	Percent    float64       `json:"slow_percent,omitempty"`
	Interval   int           `json:"interval,omitempty"`
	Guesses    []tempo.Guess `json:"guesses,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func main() {
	presetPath := flag.String("preset", "", "Preset JSON file path for detector settings (optional)")
	target := flag.Float64("target", 0, "Target BPM; prints the slow-down needed to reach it")
	refine := flag.Bool("refine", false, "Refine the winning guess with the mayfly optimizer")
	minBPM := flag.Float64("min-bpm", 0, "Lowest tempo considered; 0 keeps the preset value")
	maxBPM := flag.Float64("max-bpm", 0, "Highest tempo considered; 0 keeps the preset value")
	verbose := flag.Bool("v", false, "Print every analysis window")
	jsonOut := flag.Bool("json", false, "Print results as JSON")
	flag.Parse()

	cfg := preset.NewDefaultConfig()
	if *presetPath != "" {
		var err error
		if cfg, err = preset.LoadJSON(*presetPath); err != nil {
			die("Error loading preset %q: %v", *presetPath, err)
		}
	}
	p := cfg.Tempo
	if *refine {
		p.Refine = true
	}
	if *minBPM > 0 {
		p.MinBPM = *minBPM
	}
	if *maxBPM > 0 {
		p.MaxBPM = *maxBPM
	}
	if *target <= 0 {
		*target = cfg.TargetBPM
	}
	det, err := tempo.NewDetector(p)
	if err != nil {
		die("tempo detector: %v", err)
	}

	paths := append(cfg.Tracks, flag.Args()...)
	if len(paths) == 0 {
		die("usage: slowplay-bpm [flags] file.wav...")
	}

	var reports []report
	failed := false
	for _, path := range paths {
		r := analyze(det, path, *target)
		if r.Error != "" {
			failed = true
		}
		if !*verbose {
			r.Guesses = nil
		}
		reports = append(reports, r)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			die("json encode failed: %v", err)
		}
	} else {
		for _, r := range reports {
			printReport(r)
		}
	}
	if failed {
		os.Exit(1)
	}
}

func analyze(det *tempo.Detector, path string, target float64) report {
	r := report{Path: path, TargetBPM: target}
	mono, sr, err := decode.ReadMono(path)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Seconds = float64(len(mono)) / float64(sr)
	guesses, err := det.Analyze(mono, sr)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Guesses = guesses
	best, err := tempo.Best(guesses)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.BPM = best.BPM
	r.Confidence = best.Confidence
	if target > 0 {
		r.Percent = stretch.PercentFromBPM(best.BPM, target)
		r.Interval = stretch.IntervalFromPercent(r.Percent, len(mono))
	}
	return r
}

func printReport(r report) {
	if r.Error != "" {
		fmt.Printf("%s: error: %s\n", r.Path, r.Error)
		return
	}
	fmt.Printf("%s: %.2f BPM (confidence %.3f, %.1fs)\n", r.Path, r.BPM, r.Confidence, r.Seconds)
	for _, g := range r.Guesses {
		fmt.Printf("  %8.2fs  %7.2f BPM  %.3f\n", g.Start.Seconds(), g.BPM, g.Confidence)
	}
	if r.TargetBPM > 0 {
		fmt.Printf("  target %.2f BPM: slow %.2f%% (interval %d)\n", r.TargetBPM, r.Percent, r.Interval)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
