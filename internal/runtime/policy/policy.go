// Package policy implements the per-stage rules that decide which tags an
// output item inherits from the input items it was computed from.
package policy

import (
	"fmt"
	"math"
	"sync/atomic"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/logging"
	"github.com/drblury/pktflow/internal/runtime/metrics"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

// Propagator maps the tags present on the input items of one computation onto
// the output item at outOffset. in has one slot per input port, nil when the
// port carried no tag.
type Propagator interface {
	Name() string
	// Arity is the required number of input ports, 0 for any.
	Arity() int
	Propagate(outOffset uint64, in []*tag.Tag) (tag.Tag, bool)
}

// Validate checks that p can serve a stage with the given number of ports.
func Validate(p Propagator, ports int) error {
	if p == nil {
		return errspkg.NewConfigValidationError(errspkg.ErrPolicyRequired)
	}
	if ports < 1 || (p.Arity() != 0 && p.Arity() != ports) {
		return errspkg.NewConfigValidationError(
			fmt.Errorf("%w: %s with %d ports", errspkg.ErrPolicyArity, p.Name(), ports))
	}
	return nil
}

type pass struct{}

// Pass re-emits the single input tag at the output offset unchanged.
func Pass() Propagator { return pass{} }

func (pass) Name() string { return "pass" }
func (pass) Arity() int   { return 1 }

func (pass) Propagate(outOffset uint64, in []*tag.Tag) (tag.Tag, bool) {
	if len(in) == 0 || in[0] == nil {
		return tag.Tag{}, false
	}
	return in[0].At(outOffset), true
}

type block struct{}

// Block never emits tags.
func Block() Propagator { return block{} }

func (block) Name() string { return "block" }
func (block) Arity() int   { return 0 }

func (block) Propagate(uint64, []*tag.Tag) (tag.Tag, bool) { return tag.Tag{}, false }

type mergeOnSync struct{}

// MergeOnSync emits the union of all present input tags, folded in port order.
func MergeOnSync() Propagator { return mergeOnSync{} }

func (mergeOnSync) Name() string { return "merge" }
func (mergeOnSync) Arity() int   { return 0 }

func (mergeOnSync) Propagate(outOffset uint64, in []*tag.Tag) (tag.Tag, bool) {
	attrs := tag.Fold(in...)
	if attrs.IsEmpty() {
		return tag.Tag{}, false
	}
	return tag.Tag{Offset: outOffset, Attrs: attrs}, true
}

// RescaleConfig configures a Rescale policy.
type RescaleConfig struct {
	Ratio float64
	// Key defaults to tag.DefaultBoundaryKey.
	Key string
}

func (c RescaleConfig) withDefaults() RescaleConfig {
	if c.Key == "" {
		c.Key = tag.DefaultBoundaryKey
	}
	return c
}

// Validate reports configuration problems.
func (c RescaleConfig) Validate() error {
	if math.IsNaN(c.Ratio) || math.IsInf(c.Ratio, 0) || c.Ratio <= 0 {
		return fmt.Errorf("%w: %v", errspkg.ErrInvalidRatio, c.Ratio)
	}
	return nil
}

// Rescale passes a single input tag through and multiplies the integer value
// under Key by Ratio, rounding half away from zero. A product that does not
// fit in a uint64 leaves the value unchanged and is logged and counted.
type Rescale struct {
	ratio     float64
	key       string
	log       logging.ServiceLogger
	rec       metrics.Recorder
	overflows atomic.Uint64
}

// Option customises a Rescale policy.
type Option func(*Rescale)

// WithLogger sets the logger used for overflowing lengths.
func WithLogger(log logging.ServiceLogger) Option {
	return func(r *Rescale) { r.log = log }
}

// WithRecorder sets the recorder that counts overflowing lengths.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Rescale) { r.rec = rec }
}

// NewRescale validates cfg and builds a Rescale policy.
func NewRescale(cfg RescaleConfig, opts ...Option) (*Rescale, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	r := &Rescale{ratio: cfg.Ratio, key: cfg.Key}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.log = logging.OrNop(r.log).With(logging.LogFields{"policy": "rescale", "key": r.key})
	r.rec = metrics.OrNop(r.rec)
	return r, nil
}

func (r *Rescale) Name() string   { return "rescale" }
func (r *Rescale) Arity() int     { return 1 }
func (r *Rescale) Ratio() float64 { return r.ratio }
func (r *Rescale) Key() string    { return r.key }

// Overflows counts tags whose rescaled length did not fit in a uint64.
func (r *Rescale) Overflows() uint64 { return r.overflows.Load() }

func (r *Rescale) Propagate(outOffset uint64, in []*tag.Tag) (tag.Tag, bool) {
	if len(in) == 0 || in[0] == nil {
		return tag.Tag{}, false
	}
	out := in[0].At(outOffset)
	v, ok := out.Attrs.Get(r.key)
	if !ok {
		return out, true
	}
	n, ok := v.AsUint64()
	if !ok {
		return out, true
	}
	scaled, ok := tag.RoundLength(n, r.ratio)
	if !ok {
		r.overflows.Add(1)
		r.rec.Dropped(r.Name(), "overflow")
		r.log.Error("Rescaled length kept unchanged", errspkg.ErrLengthOverflow, logging.LogFields{
			"offset": outOffset,
			"value":  n,
			"ratio":  r.ratio,
		})
		return out, true
	}
	out.Attrs = out.Attrs.Set(r.key, tag.Uint64(scaled))
	return out, true
}

// RateDeclarer is implemented by stages whose output item count differs from
// their input item count.
type RateDeclarer interface {
	// ItemRatio is output items per input item.
	ItemRatio() float64
}

// RescaleFor builds the Rescale policy that keeps boundary lengths correct
// across a rate-changing stage.
func RescaleFor(d RateDeclarer, key string, opts ...Option) (*Rescale, error) {
	return NewRescale(RescaleConfig{Ratio: d.ItemRatio(), Key: key}, opts...)
}
