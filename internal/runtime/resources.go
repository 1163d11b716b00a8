package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuSecondsMetric = "/sched/cpu:seconds"

// resourceTracker samples process CPU and memory for handler stats. CPU is
// reported as a share of all cores since the previous snapshot.
type resourceTracker struct {
	mu      sync.Mutex
	samples []metrics.Sample
	numCPU  float64

	prevCPU  float64
	prevWall time.Time
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{{Name: cpuSecondsMetric}},
		numCPU:  float64(runtime.NumCPU()),
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage := ResourceUsage{
		MemoryBytes: mem.Alloc,
		Goroutines:  runtime.NumGoroutine(),
	}

	if len(r.samples) == 0 {
		r.samples = []metrics.Sample{{Name: cpuSecondsMetric}}
	}
	metrics.Read(r.samples)
	if r.samples[0].Value.Kind() != metrics.KindFloat64 {
		return usage
	}

	now := time.Now()
	cpu := r.samples[0].Value.Float64()
	if !r.prevWall.IsZero() && r.numCPU > 0 {
		if wall := now.Sub(r.prevWall).Seconds(); wall > 0 {
			usage.CPUPercent = (cpu - r.prevCPU) / wall / r.numCPU * 100
		}
	}
	r.prevCPU, r.prevWall = cpu, now
	return usage
}
