// Package metrics exposes the packet-path counters.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives packet-path events. Implementations must be safe for
// concurrent use; one Recorder is usually shared by every stream of a process.
type Recorder interface {
	Violation(stream, kind string)
	Pdu(stream, direction string, items int)
	Items(stream string, n int)
	IOFailure(adapter string)
	Dropped(stage, reason string)
}

type nop struct{}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nop{} }

func (nop) Violation(string, string) {}
func (nop) Pdu(string, string, int)  {}
func (nop) Items(string, int)        {}
func (nop) IOFailure(string)         {}
func (nop) Dropped(string, string)   {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop()
	}
	return r
}

// Direction labels for Pdu events.
const (
	DirectionAssembled    = "assembled"
	DirectionDisassembled = "disassembled"
	DirectionDelivered    = "delivered"
	DirectionReceived     = "received"
)

// StreamCounters is a point-in-time view of one stream.
type StreamCounters struct {
	Violations map[string]uint64 `json:"violations"`
	Pdus       map[string]uint64 `json:"pdus"`
	Items      uint64            `json:"items"`
}

// Snapshot is a point-in-time view of all counters.
type Snapshot struct {
	Streams    map[string]*StreamCounters `json:"streams"`
	IOFailures map[string]uint64          `json:"io_failures"`
	Dropped    map[string]uint64          `json:"dropped"`
}

// Prometheus records packet-path events as prometheus collectors and keeps
// plain counters for snapshots.
type Prometheus struct {
	mu sync.RWMutex

	streams    map[string]*StreamCounters
	ioFailures map[string]uint64
	dropped    map[string]uint64

	violationsTotal *prometheus.CounterVec
	pdusTotal       *prometheus.CounterVec
	itemsTotal      *prometheus.CounterVec
	ioFailuresTotal *prometheus.CounterVec
	droppedTotal    *prometheus.CounterVec
	packetLen       *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pktflow",
			Subsystem: "packet",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewPrometheus builds the collectors. A nil registerer means the default registry.
func NewPrometheus(registerer prometheus.Registerer) *Prometheus {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Prometheus{
		streams:         make(map[string]*StreamCounters),
		ioFailures:      make(map[string]uint64),
		dropped:         make(map[string]uint64),
		registerer:      registerer,
		violationsTotal: newCounterVec("violations_total", "Recoverable stream violations by kind", "stream", "kind"),
		pdusTotal:       newCounterVec("pdus_total", "Packets crossing the stream/packet boundary", "stream", "direction"),
		itemsTotal:      newCounterVec("items_total", "Items collected into packets", "stream"),
		ioFailuresTotal: newCounterVec("io_failures_total", "Failed device or transport operations", "adapter"),
		droppedTotal:    newCounterVec("dropped_total", "Packets dropped by packet stages", "stage", "reason"),
		packetLen: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pktflow",
				Subsystem: "packet",
				Name:      "length_items",
				Help:      "Packet length in items",
				Buckets:   prometheus.ExponentialBuckets(16, 2, 12),
			},
			[]string{"stream"},
		),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Prometheus) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	// A second recorder on the same registry shares the collectors already there.
	for _, cv := range []**prometheus.CounterVec{
		&m.violationsTotal,
		&m.pdusTotal,
		&m.itemsTotal,
		&m.ioFailuresTotal,
		&m.droppedTotal,
	} {
		existing, err := register(m.registerer, *cv)
		if err != nil {
			return err
		}
		*cv = existing
	}
	existing, err := register(m.registerer, m.packetLen)
	if err != nil {
		return err
	}
	m.packetLen = existing

	m.registered = true
	return nil
}

func register[C prometheus.Collector](r prometheus.Registerer, c C) (C, error) {
	err := r.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

func (m *Prometheus) stream(name string) *StreamCounters {
	s, ok := m.streams[name]
	if !ok {
		s = &StreamCounters{Violations: map[string]uint64{}, Pdus: map[string]uint64{}}
		m.streams[name] = s
	}
	return s
}

func (m *Prometheus) Violation(stream, kind string) {
	m.mu.Lock()
	m.stream(stream).Violations[kind]++
	m.mu.Unlock()
	m.violationsTotal.WithLabelValues(stream, kind).Inc()
}

func (m *Prometheus) Pdu(stream, direction string, items int) {
	m.mu.Lock()
	m.stream(stream).Pdus[direction]++
	m.mu.Unlock()
	m.pdusTotal.WithLabelValues(stream, direction).Inc()
	m.packetLen.WithLabelValues(stream).Observe(float64(items))
}

func (m *Prometheus) Items(stream string, n int) {
	m.mu.Lock()
	m.stream(stream).Items += uint64(n)
	m.mu.Unlock()
	m.itemsTotal.WithLabelValues(stream).Add(float64(n))
}

func (m *Prometheus) IOFailure(adapter string) {
	m.mu.Lock()
	m.ioFailures[adapter]++
	m.mu.Unlock()
	m.ioFailuresTotal.WithLabelValues(adapter).Inc()
}

func (m *Prometheus) Dropped(stage, reason string) {
	m.mu.Lock()
	m.dropped[stage+"/"+reason]++
	m.mu.Unlock()
	m.droppedTotal.WithLabelValues(stage, reason).Inc()
}

// Snapshot returns a copy of the plain counters.
func (m *Prometheus) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Streams:    make(map[string]*StreamCounters, len(m.streams)),
		IOFailures: make(map[string]uint64, len(m.ioFailures)),
		Dropped:    make(map[string]uint64, len(m.dropped)),
	}
	for name, s := range m.streams {
		c := &StreamCounters{
			Violations: make(map[string]uint64, len(s.Violations)),
			Pdus:       make(map[string]uint64, len(s.Pdus)),
			Items:      s.Items,
		}
		for k, v := range s.Violations {
			c.Violations[k] = v
		}
		for k, v := range s.Pdus {
			c.Pdus[k] = v
		}
		snap.Streams[name] = c
	}
	for k, v := range m.ioFailures {
		snap.IOFailures[k] = v
	}
	for k, v := range m.dropped {
		snap.Dropped[k] = v
	}
	return snap
}

// Reset clears all counters (useful for testing).
func (m *Prometheus) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.streams = make(map[string]*StreamCounters)
	m.ioFailures = make(map[string]uint64)
	m.dropped = make(map[string]uint64)
	m.violationsTotal.Reset()
	m.pdusTotal.Reset()
	m.itemsTotal.Reset()
	m.ioFailuresTotal.Reset()
	m.droppedTotal.Reset()
	m.packetLen.Reset()
}
