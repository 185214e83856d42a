package stretch

import "math"

// NoStretchInterval is the sentinel interval for a track of n frames: the
// only duplicated frame is frame 0.
func NoStretchInterval(n int) int {
	if n < 0 {
		n = 0
	}
	return n + 1
}

// IntervalFromPercent converts a slowness percentage in [0,100] into a
// duplication interval. 0% maps to the no-stretch sentinel.
func IntervalFromPercent(percent float64, n int) int {
	percent = ClampPercent(percent)
	if percent == 0 {
		return NoStretchInterval(n)
	}
	interval := int(math.Floor(100 / percent))
	if interval < 1 {
		interval = 1
	}
	return interval
}

// PercentFromBPM returns how much slower targetBPM is than sourceBPM, in
// percent. Speeding up is not supported: a target above the source clamps
// to 0.
func PercentFromBPM(sourceBPM, targetBPM float64) float64 {
	if sourceBPM <= 0 || math.IsNaN(sourceBPM) || math.IsNaN(targetBPM) {
		return 0
	}
	return ClampPercent(100 * (sourceBPM - targetBPM) / sourceBPM)
}

// IntervalFromBPM converts a source/target tempo pair into an interval.
func IntervalFromBPM(sourceBPM, targetBPM float64, n int) int {
	return IntervalFromPercent(PercentFromBPM(sourceBPM, targetBPM), n)
}

// ClampPercent limits p to [0,100]. NaN maps to 0.
func ClampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
