package stage

import (
	"fmt"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/policy"
	"github.com/drblury/pktflow/internal/runtime/stream"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

// Combine computes one output item from the items at the same position on
// each of its input ports.
type Combine[T any] struct {
	ports  int
	fn     func([]T) T
	policy policy.Propagator
	next   uint64
}

// NewCombine builds a Combine with the given number of ports. A nil policy
// means policy.MergeOnSync.
func NewCombine[T any](ports int, fn func([]T) T, p policy.Propagator) (*Combine[T], error) {
	if fn == nil {
		return nil, errspkg.NewConfigValidationError(fmt.Errorf("stage: combine function is required"))
	}
	if p == nil {
		p = policy.MergeOnSync()
	}
	if err := policy.Validate(p, ports); err != nil {
		return nil, err
	}
	return &Combine[T]{ports: ports, fn: fn, policy: p}, nil
}

// Process consumes one batch per port. All batches must have the same length.
func (c *Combine[T]) Process(in ...[]stream.Item[T]) ([]stream.Item[T], error) {
	if len(in) != c.ports {
		return nil, fmt.Errorf("%w: got %d, want %d", errspkg.ErrPortMismatch, len(in), c.ports)
	}
	n := len(in[0])
	for _, batch := range in[1:] {
		if len(batch) != n {
			return nil, fmt.Errorf("%w: batch lengths differ", errspkg.ErrPortMismatch)
		}
	}

	out := make([]stream.Item[T], n)
	values := make([]T, c.ports)
	tags := make([]*tag.Tag, c.ports)
	for i := 0; i < n; i++ {
		for p := range in {
			values[p] = in[p][i].Value
			tags[p] = in[p][i].Tag
		}
		off := c.next
		c.next++
		out[i] = stream.Item[T]{Offset: off, Value: c.fn(values)}
		if t, ok := c.policy.Propagate(off, tags); ok {
			out[i].Tag = &t
		}
	}
	return out, nil
}

// Sum adds values; it is the combine function of an adder stage.
func Sum[T ~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64 | ~complex64 | ~complex128](values []T) T {
	var s T
	for _, v := range values {
		s += v
	}
	return s
}
