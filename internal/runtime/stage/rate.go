package stage

import (
	"fmt"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/policy"
	"github.com/drblury/pktflow/internal/runtime/stream"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

func validateFactor(factor int) error {
	if factor < 1 {
		return errspkg.NewConfigValidationError(fmt.Errorf("%w: %d", errspkg.ErrInvalidFactor, factor))
	}
	return nil
}

// Repeat emits every input item factor times. The input tag goes to the first
// copy through the configured policy.
type Repeat[T any] struct {
	factor int
	policy policy.Propagator
	next   uint64
	in     [1]*tag.Tag
}

// NewRepeat builds a Repeat. A nil policy means policy.Pass.
func NewRepeat[T any](factor int, p policy.Propagator) (*Repeat[T], error) {
	if err := validateFactor(factor); err != nil {
		return nil, err
	}
	if p == nil {
		p = policy.Pass()
	}
	if err := policy.Validate(p, 1); err != nil {
		return nil, err
	}
	return &Repeat[T]{factor: factor, policy: p}, nil
}

func (r *Repeat[T]) ItemRatio() float64 { return float64(r.factor) }

func (r *Repeat[T]) Process(in []stream.Item[T]) []stream.Item[T] {
	out := make([]stream.Item[T], 0, len(in)*r.factor)
	for _, it := range in {
		first := r.next
		for k := 0; k < r.factor; k++ {
			out = append(out, stream.Item[T]{Offset: r.next, Value: it.Value})
			r.next++
		}
		r.in[0] = it.Tag
		if t, ok := r.policy.Propagate(first, r.in[:]); ok {
			out[len(out)-r.factor].Tag = &t
		}
	}
	r.in[0] = nil
	return out
}

// Decimate keeps the last item of every group of factor items. Tags seen
// anywhere in a group are folded onto the kept item.
type Decimate[T any] struct {
	factor  int
	policy  policy.Propagator
	next    uint64
	pending int
	folded  tag.Attributes
	tagged  bool
}

// NewDecimate builds a Decimate. A nil policy means policy.Pass.
func NewDecimate[T any](factor int, p policy.Propagator) (*Decimate[T], error) {
	if err := validateFactor(factor); err != nil {
		return nil, err
	}
	if p == nil {
		p = policy.Pass()
	}
	if err := policy.Validate(p, 1); err != nil {
		return nil, err
	}
	return &Decimate[T]{factor: factor, policy: p}, nil
}

func (d *Decimate[T]) ItemRatio() float64 { return 1 / float64(d.factor) }

func (d *Decimate[T]) Process(in []stream.Item[T]) []stream.Item[T] {
	out := make([]stream.Item[T], 0, (len(in)+d.pending)/d.factor)
	for _, it := range in {
		if it.Tag != nil {
			d.folded = d.folded.Merge(it.Tag.Attrs)
			d.tagged = true
		}
		d.pending++
		if d.pending < d.factor {
			continue
		}
		o := stream.Item[T]{Offset: d.next, Value: it.Value}
		if d.tagged {
			group := tag.Tag{Offset: it.Offset, Attrs: d.folded}
			if t, ok := d.policy.Propagate(d.next, []*tag.Tag{&group}); ok {
				o.Tag = &t
			}
		}
		out = append(out, o)
		d.next++
		d.pending = 0
		d.folded = tag.Attributes{}
		d.tagged = false
	}
	return out
}
