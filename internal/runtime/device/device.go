// Package device connects the packet path to byte devices: TUN interfaces,
// serial links and plain files. A Port owns exactly one handle, opened in
// Start and closed in Stop.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/logging"
	"github.com/drblury/pktflow/internal/runtime/metrics"
	"github.com/drblury/pktflow/internal/runtime/pdu"
)

// DefaultMaxPacketLen bounds frames when Options.MaxPacketLen is zero.
const DefaultMaxPacketLen = 65535

// Opener acquires the device handle. It is called once per Start.
type Opener func(ctx context.Context) (io.ReadWriteCloser, error)

// Options configures a Port.
type Options struct {
	// Name labels logs and the io_failures metric. Defaults to "device".
	Name string
	// StreamID labels the pdus metric.
	StreamID string
	// Framer defaults to Datagram.
	Framer Framer
	// MaxPacketLen sizes the read buffer and rejects larger writes.
	MaxPacketLen int
	// ReadTimeout bounds each Poll on handles that support read deadlines.
	ReadTimeout time.Duration
	Logger      logging.ServiceLogger
	Recorder    metrics.Recorder
}

// Stats counts Port outcomes.
type Stats struct {
	Received      uint64
	Delivered     uint64
	ShortWrites   uint64
	WriteFailures uint64
	ReadFailures  uint64
	Oversized     uint64
}

type handle struct {
	rw io.ReadWriteCloser
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Port is a packet sink and source over one byte device.
type Port struct {
	opts   Options
	open   Opener
	framer Framer
	log    logging.ServiceLogger
	rec    metrics.Recorder

	handle atomic.Pointer[handle]
	readMu sync.Mutex
	buf    []byte
	eof    atomic.Bool

	writeMu sync.Mutex

	received, delivered, shortWrites, writeFailures, readFailures, oversized atomic.Uint64
}

// NewPort validates opts and returns an unstarted Port.
func NewPort(open Opener, opts Options) (*Port, error) {
	if open == nil {
		return nil, errspkg.NewConfigValidationError(errspkg.ErrDeviceRequired)
	}
	if opts.MaxPacketLen < 0 {
		return nil, errspkg.NewConfigValidationError(fmt.Errorf("device: max packet length %d cannot be negative", opts.MaxPacketLen))
	}
	if opts.Name == "" {
		opts.Name = "device"
	}
	if opts.MaxPacketLen == 0 {
		opts.MaxPacketLen = DefaultMaxPacketLen
	}
	framer := opts.Framer
	if framer == nil {
		framer = Datagram
	}
	return &Port{
		opts:   opts,
		open:   open,
		framer: framer,
		log: logging.OrNop(opts.Logger).With(logging.LogFields{
			"device":  opts.Name,
			"framing": framer.Name(),
		}),
		rec: metrics.OrNop(opts.Recorder),
		buf: make([]byte, opts.MaxPacketLen),
	}, nil
}

// Name returns the adapter label.
func (p *Port) Name() string { return p.opts.Name }

// Start opens the device. Starting a started Port is a no-op.
func (p *Port) Start(ctx context.Context) error {
	if p.handle.Load() != nil {
		return nil
	}
	rw, err := p.open(ctx)
	if err != nil {
		return fmt.Errorf("device %s: open: %w", p.opts.Name, err)
	}
	p.eof.Store(false)
	p.handle.Store(&handle{rw: rw})
	p.log.Info("Device opened", nil)
	return nil
}

// Stop closes the device. It is safe to call concurrently with Poll and
// Deliver, which then fail with ErrNotStarted or a closed-file error.
func (p *Port) Stop() error {
	h := p.handle.Swap(nil)
	if h == nil {
		return nil
	}
	p.log.Info("Device closed", logging.LogFields{
		"received":  p.received.Load(),
		"delivered": p.delivered.Load(),
	})
	return h.rw.Close()
}

// Deliver writes one packet. A short or failed write is logged, counted and
// returned; the Port stays usable.
func (p *Port) Deliver(ctx context.Context, pkt pdu.Bytes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h := p.handle.Load()
	if h == nil {
		return fmt.Errorf("device %s: %w", p.opts.Name, errspkg.ErrNotStarted)
	}
	size := len(pkt.Data)
	if size == 0 {
		p.rec.Dropped(p.opts.Name, "empty")
		return fmt.Errorf("device %s: %w", p.opts.Name, errspkg.ErrEmptyPdu)
	}
	if size > p.opts.MaxPacketLen {
		p.oversized.Add(1)
		p.rec.Dropped(p.opts.Name, "too_large")
		return fmt.Errorf("%w: %d bytes, limit %d", errspkg.ErrPacketTooLarge, size, p.opts.MaxPacketLen)
	}

	p.writeMu.Lock()
	n, err := p.framer.WriteFrame(h.rw, pkt.Data)
	p.writeMu.Unlock()

	if err != nil && !errors.Is(err, io.ErrShortWrite) {
		p.writeFailures.Add(1)
		p.rec.IOFailure(p.opts.Name)
		p.log.Error("Device write failed", err, logging.LogFields{"length": size})
		return fmt.Errorf("device %s: write: %w", p.opts.Name, err)
	}
	if n != size {
		p.shortWrites.Add(1)
		p.rec.IOFailure(p.opts.Name)
		p.log.Error("Device short write", errspkg.ErrShortWrite, logging.LogFields{"length": size, "written": n})
		return fmt.Errorf("device %s: %w: wrote %d of %d bytes", p.opts.Name, errspkg.ErrShortWrite, n, size)
	}
	p.delivered.Add(1)
	p.rec.Pdu(p.opts.StreamID, metrics.DirectionDelivered, size)
	return nil
}

// Poll reads one packet. Timeouts, end of file and failed reads yield false;
// failures are logged and counted.
func (p *Port) Poll(ctx context.Context) (pdu.Bytes, bool) {
	if ctx.Err() != nil {
		return pdu.Bytes{}, false
	}
	h := p.handle.Load()
	if h == nil {
		return pdu.Bytes{}, false
	}

	p.readMu.Lock()
	defer p.readMu.Unlock()

	if d, ok := h.rw.(readDeadliner); ok && p.opts.ReadTimeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(p.opts.ReadTimeout))
	}
	n, err := p.framer.ReadFrame(h.rw, p.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		p.eof.Store(true)
		return pdu.Bytes{}, false
	case errors.Is(err, os.ErrDeadlineExceeded):
		return pdu.Bytes{}, false
	case errors.Is(err, errspkg.ErrPacketTooLarge):
		p.oversized.Add(1)
		p.rec.Dropped(p.opts.Name, "too_large")
		p.log.Error("Device frame dropped", err, nil)
		return pdu.Bytes{}, false
	default:
		if p.handle.Load() == nil {
			return pdu.Bytes{}, false
		}
		p.readFailures.Add(1)
		p.rec.IOFailure(p.opts.Name)
		p.log.Error("Device read failed", err, nil)
		return pdu.Bytes{}, false
	}
	if n == 0 {
		return pdu.Bytes{}, false
	}
	p.received.Add(1)
	p.rec.Pdu(p.opts.StreamID, metrics.DirectionReceived, n)
	return pdu.Bytes{Data: bytes.Clone(p.buf[:n])}, true
}

// Exhausted reports whether the device hit end of file.
func (p *Port) Exhausted() bool { return p.eof.Load() }

// Stats returns a snapshot of the counters.
func (p *Port) Stats() Stats {
	return Stats{
		Received:      p.received.Load(),
		Delivered:     p.delivered.Load(),
		ShortWrites:   p.shortWrites.Load(),
		WriteFailures: p.writeFailures.Load(),
		ReadFailures:  p.readFailures.Load(),
		Oversized:     p.oversized.Load(),
	}
}
