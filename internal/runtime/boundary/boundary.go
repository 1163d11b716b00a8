// Package boundary defines the contracts between the packet path and the
// outside world, plus a small driver that moves packets between them.
package boundary

import (
	"context"
	"errors"
	"sync"

	"github.com/drblury/pktflow/internal/runtime/pdu"
)

// PacketSink delivers complete packets. A failed delivery is reported to the
// caller and must not make the sink unusable for the next packet.
type PacketSink[T any] interface {
	Deliver(ctx context.Context, p pdu.Pdu[T]) error
}

// PacketSource yields complete packets. It never returns a partial packet:
// either ok is true and p is whole, or there is nothing to return.
type PacketSource[T any] interface {
	Poll(ctx context.Context) (p pdu.Pdu[T], ok bool)
}

// Lifecycle is implemented by adapters that own an external handle.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
}

// Exhauster is implemented by finite sources that can tell when nothing more
// will ever be returned.
type Exhauster interface {
	Exhausted() bool
}

// SinkFunc adapts a function to PacketSink.
type SinkFunc[T any] func(ctx context.Context, p pdu.Pdu[T]) error

func (f SinkFunc[T]) Deliver(ctx context.Context, p pdu.Pdu[T]) error { return f(ctx, p) }

// Run starts r, calls fn, and stops r on every exit path. Errors from fn and
// Stop are joined.
func Run(ctx context.Context, r Lifecycle, fn func(ctx context.Context) error) (err error) {
	if err := r.Start(ctx); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, r.Stop())
	}()
	return fn(ctx)
}

// RunAll starts every resource in order and stops the started ones in reverse.
func RunAll(ctx context.Context, rs []Lifecycle, fn func(ctx context.Context) error) error {
	if len(rs) == 0 {
		return fn(ctx)
	}
	return Run(ctx, rs[0], func(ctx context.Context) error {
		return RunAll(ctx, rs[1:], fn)
	})
}

// Collector is an in-memory sink.
type Collector[T any] struct {
	mu   sync.Mutex
	pdus []pdu.Pdu[T]
}

func (c *Collector[T]) Deliver(_ context.Context, p pdu.Pdu[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pdus = append(c.pdus, p.Clone())
	return nil
}

// Pdus returns the collected packets.
func (c *Collector[T]) Pdus() []pdu.Pdu[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pdu.Pdu[T](nil), c.pdus...)
}

// SliceSource replays a fixed list of packets.
type SliceSource[T any] struct {
	mu   sync.Mutex
	pdus []pdu.Pdu[T]
}

// NewSliceSource builds a SliceSource over pdus.
func NewSliceSource[T any](pdus ...pdu.Pdu[T]) *SliceSource[T] {
	return &SliceSource[T]{pdus: pdus}
}

func (s *SliceSource[T]) Poll(ctx context.Context) (pdu.Pdu[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || len(s.pdus) == 0 {
		return pdu.Pdu[T]{}, false
	}
	p := s.pdus[0]
	s.pdus = s.pdus[1:]
	return p, true
}

func (s *SliceSource[T]) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pdus) == 0
}
