package runtime

import (
	"math"
	"slices"
	"time"
)

// latencyWindow is a fixed-size ring of recent handler latencies.
type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	lw.filled = min(lw.filled+1, len(lw.samples))
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	if lw == nil || lw.filled == 0 {
		return LatencyMetrics{}
	}
	// Until the ring wraps, the filled samples are a prefix.
	sorted := slices.Clone(lw.samples[:lw.filled])
	slices.Sort(sorted)

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	return LatencyMetrics{
		AverageNs:  sum / int64(len(sorted)),
		P50Ns:      percentile(sorted, 0.50),
		P95Ns:      percentile(sorted, 0.95),
		P99Ns:      percentile(sorted, 0.99),
		LastNs:     lw.last,
		SampleSize: lw.filled,
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []int64, q float64) int64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lower, upper := int(math.Floor(pos)), int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + int64(float64(sorted[upper]-sorted[lower])*frac)
}

// throughputWindow keeps the completion times seen within horizon.
type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentPPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon, samples: make([]time.Time, 0, 64)}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	tw.samples = slices.Delete(tw.samples, 0, idx)

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return throughputSnapshot{
		Count:         len(tw.samples),
		WindowSeconds: span.Seconds(),
		CurrentPPS:    float64(len(tw.samples)) / span.Seconds(),
	}
}
