// Package stage holds synchronous stream and packet stages that apply the
// tag propagation policies.
package stage

import (
	"fmt"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/policy"
	"github.com/drblury/pktflow/internal/runtime/stream"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

// Stage transforms a batch of items. Successive calls continue the same stream.
type Stage[In, Out any] interface {
	Process(in []stream.Item[In]) []stream.Item[Out]
}

// Map applies fn to every item one to one.
type Map[In, Out any] struct {
	fn     func(In) Out
	policy policy.Propagator
	next   uint64
	in     [1]*tag.Tag
}

// NewMap builds a Map. A nil policy means policy.Pass.
func NewMap[In, Out any](fn func(In) Out, p policy.Propagator) (*Map[In, Out], error) {
	if fn == nil {
		return nil, errspkg.NewConfigValidationError(fmt.Errorf("stage: map function is required"))
	}
	if p == nil {
		p = policy.Pass()
	}
	if err := policy.Validate(p, 1); err != nil {
		return nil, err
	}
	return &Map[In, Out]{fn: fn, policy: p}, nil
}

// Policy returns the propagation policy in use.
func (m *Map[In, Out]) Policy() policy.Propagator { return m.policy }

func (m *Map[In, Out]) Process(in []stream.Item[In]) []stream.Item[Out] {
	out := make([]stream.Item[Out], len(in))
	for i, it := range in {
		off := m.next
		m.next++
		out[i] = stream.Item[Out]{Offset: off, Value: m.fn(it.Value)}
		m.in[0] = it.Tag
		if t, ok := m.policy.Propagate(off, m.in[:]); ok {
			out[i].Tag = &t
		}
	}
	m.in[0] = nil
	return out
}

func identity[T any](v T) T { return v }

// NewIdentity passes values through unchanged under policy p.
func NewIdentity[T any](p policy.Propagator) (*Map[T, T], error) {
	return NewMap(identity[T], p)
}

// NewTagGate passes values through and removes every tag.
func NewTagGate[T any]() *Map[T, T] {
	m, _ := NewIdentity[T](policy.Block())
	return m
}

// NewRetag passes values through and rescales the length held under cfg.Key.
func NewRetag[T any](cfg policy.RescaleConfig, opts ...policy.Option) (*Map[T, T], error) {
	r, err := policy.NewRescale(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return NewIdentity[T](r)
}
