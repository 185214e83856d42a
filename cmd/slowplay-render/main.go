package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cwbudde/algo-slowplay/decode"
	"github.com/cwbudde/algo-slowplay/internal/wavio"
	"github.com/cwbudde/algo-slowplay/preset"
	"github.com/cwbudde/algo-slowplay/tempo"
	"github.com/cwbudde/algo-slowplay/transport"
)

func main() {
	presetPath := flag.String("preset", "", "Preset JSON file path (optional)")
	slow := flag.Float64("slow", -1, "Slow-down percentage in [0,100]; negative keeps the preset value")
	targetBPM := flag.Float64("target-bpm", 0, "Slow each track toward this tempo using the detected source BPM")
	reverbMix := flag.Float64("reverb", -1, "Reverb wet percentage in [0,100]; negative keeps the preset value")
	sampleRate := flag.Int("sample-rate", 0, "Render sample rate in Hz; 0 keeps the preset value")
	maxDuration := flag.Float64("max-duration", 600, "Maximum render duration in seconds")
	output := flag.String("output", "output.wav", "Output WAV file path")
	verbose := flag.Bool("v", false, "Log transport events to stderr")
	flag.Parse()

	cfg := preset.NewDefaultConfig()
	if *presetPath != "" {
		var err error
		if cfg, err = preset.LoadJSON(*presetPath); err != nil {
			die("Error loading preset %q: %v", *presetPath, err)
		}
	}
	opts := cfg.Transport
	if *slow >= 0 {
		opts.SlowPercent = *slow
	}
	if *reverbMix >= 0 {
		opts.ReverbMix = *reverbMix
	}
	if *sampleRate > 0 {
		opts.SampleRate = *sampleRate
	}
	if *targetBPM > 0 {
		cfg.TargetBPM = *targetBPM
	}
	tracks := append(cfg.Tracks, flag.Args()...)
	if len(tracks) == 0 {
		die("no input files; pass WAV paths as arguments or list them in the preset")
	}

	s, err := transport.NewSession(decode.New(opts.SampleRate), opts)
	if err != nil {
		die("%v", err)
	}
	if *verbose {
		s.SetLogger(log.New(os.Stderr, "slowplay: ", log.Ltime|log.Lmicroseconds))
	}
	if cfg.TargetBPM > 0 {
		det, err := tempo.NewDetector(cfg.Tempo)
		if err != nil {
			die("tempo detector: %v", err)
		}
		s.SetDetector(det)
	}

	for _, path := range tracks {
		if err := s.Add(path); err != nil {
			fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", path, err)
		}
	}
	if s.State() == transport.NoFile {
		die("none of the input files could be decoded")
	}

	fmt.Printf("Rendering %d tracks at %d Hz (slow %.1f%%, reverb %.1f%%)...\n",
		len(s.Tracks()), opts.SampleRate, opts.SlowPercent, opts.ReverbMix)

	maxFrames := int(*maxDuration * float64(opts.SampleRate))
	samples := render(s, opts.BlockSize, maxFrames, cfg.TargetBPM)

	if err := wavio.WriteStereoInterleaved(*output, samples, opts.SampleRate); err != nil {
		die("Error writing WAV file: %v", err)
	}
	frames := len(samples) / 2
	lv := wavio.Measure(samples)
	fmt.Printf("Successfully wrote %s (%d frames, %.2fs, %.1f dBFS RMS, peak %.3f)\n",
		*output, frames, float64(frames)/float64(opts.SampleRate), lv.DBFS(), lv.Peak)
}

// render plays the session from the start of its queue, pulling the output
// in blocks the way an audio device would, until the queue runs dry or
// maxFrames have been produced. With targetBPM > 0 each track is slowed
// toward that tempo when it becomes active.
func render(s *transport.Session, blockSize, maxFrames int, targetBPM float64) []float32 {
	out := s.Output()
	block := make([][2]float64, blockSize)
	samples := make([]float32, 0, 2*min(maxFrames, 1<<20))

	var current uint64
	s.Play()
	for rendered := 0; rendered < maxFrames; {
		tr, ok := s.NowPlaying()
		if !ok {
			break
		}
		if load := s.LoadCount(); load != current {
			current = load
			if targetBPM > 0 {
				if source, err := s.SetTargetBPM(targetBPM); err != nil {
					fmt.Fprintf(os.Stderr, "Tempo detection for %s failed: %v\n", tr.ID, err)
				} else {
					fmt.Printf("%s: %.2f BPM -> %.2f BPM (slow %.2f%%)\n", tr.ID, source, targetBPM, s.SlowPercent())
				}
			}
			fmt.Printf("Playing %s (%.2fs)\n", tr.ID, s.Duration().Seconds())
		}

		n := min(blockSize, maxFrames-rendered)
		out.Stream(block[:n])
		samples = wavio.AppendFrames(samples, block[:n])
		rendered += n
		s.Tick()
	}
	return samples
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
