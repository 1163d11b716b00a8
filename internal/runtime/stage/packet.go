package stage

import (
	"bytes"
	"errors"
	"fmt"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/logging"
	"github.com/drblury/pktflow/internal/runtime/metrics"
	"github.com/drblury/pktflow/internal/runtime/pdu"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

// PacketStage transforms one packet. A non-nil error means the packet was
// dropped; that is a recoverable condition and the stage stays usable.
type PacketStage interface {
	Name() string
	Apply(p pdu.Bytes) (pdu.Bytes, error)
}

// PacketFunc adapts a function to PacketStage.
type PacketFunc struct {
	StageName string
	Fn        func(p pdu.Bytes) (pdu.Bytes, error)
}

func (f PacketFunc) Name() string                         { return f.StageName }
func (f PacketFunc) Apply(p pdu.Bytes) (pdu.Bytes, error) { return f.Fn(p) }

// Chain applies stages in order and stops at the first drop.
type Chain []PacketStage

func (c Chain) Name() string { return "chain" }

func (c Chain) Apply(p pdu.Bytes) (pdu.Bytes, error) {
	var err error
	for _, s := range c {
		if p, err = s.Apply(p); err != nil {
			return pdu.Bytes{}, fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return p, nil
}

// PacketOption customises packet stages.
type PacketOption func(*packetOptions)

type packetOptions struct {
	logger   logging.ServiceLogger
	recorder metrics.Recorder
}

func WithLogger(log logging.ServiceLogger) PacketOption {
	return func(o *packetOptions) { o.logger = log }
}

func WithRecorder(r metrics.Recorder) PacketOption {
	return func(o *packetOptions) { o.recorder = r }
}

func buildPacketOptions(opts []PacketOption) packetOptions {
	var o packetOptions
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.OrNop(o.logger)
	o.recorder = metrics.OrNop(o.recorder)
	return o
}

// CrcAppend appends a checksum of the packet bytes.
type CrcAppend struct {
	engine *crcEngine
	log    logging.ServiceLogger
}

// NewCrcAppend validates cfg and builds a CrcAppend.
func NewCrcAppend(cfg CrcConfig, opts ...PacketOption) (*CrcAppend, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	o := buildPacketOptions(opts)
	return &CrcAppend{engine: newCrcEngine(cfg), log: o.logger.With(logging.LogFields{"stage": "crc_append"})}, nil
}

func (c *CrcAppend) Name() string { return "crc_append" }

// Apply returns a new packet with the checksum appended. Tags are unchanged.
func (c *CrcAppend) Apply(p pdu.Bytes) (pdu.Bytes, error) {
	skip := c.engine.cfg.SkipHeaderBytes
	if len(p.Data) <= skip {
		c.log.Debug("Packet not longer than header", logging.LogFields{"length": len(p.Data), "header": skip})
		skip = len(p.Data)
	}
	crc := c.engine.compute(p.Data[skip:])
	data := make([]byte, 0, len(p.Data)+c.engine.cfg.Bytes())
	data = append(data, p.Data...)
	return pdu.Bytes{Data: c.engine.encode(data, crc), Tags: p.Tags}, nil
}

// CrcCheckStats counts CrcCheck outcomes.
type CrcCheckStats struct {
	Passed   uint64
	Failed   uint64
	TooShort uint64
}

// CrcCheck verifies the trailing checksum and drops packets that fail.
type CrcCheck struct {
	engine   *crcEngine
	log      logging.ServiceLogger
	recorder metrics.Recorder
	stats    CrcCheckStats
}

// NewCrcCheck validates cfg and builds a CrcCheck.
func NewCrcCheck(cfg CrcConfig, opts ...PacketOption) (*CrcCheck, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	o := buildPacketOptions(opts)
	return &CrcCheck{
		engine:   newCrcEngine(cfg),
		log:      o.logger.With(logging.LogFields{"stage": "crc_check"}),
		recorder: o.recorder,
	}, nil
}

func (c *CrcCheck) Name() string { return "crc_check" }

func (c *CrcCheck) Stats() CrcCheckStats { return c.stats }

func (c *CrcCheck) Apply(p pdu.Bytes) (pdu.Bytes, error) {
	n := c.engine.cfg.Bytes()
	skip := c.engine.cfg.SkipHeaderBytes
	if len(p.Data) <= n+skip {
		c.stats.TooShort++
		c.recorder.Dropped(c.Name(), "too_short")
		c.log.Debug("Packet dropped", logging.LogFields{"reason": "too_short", "length": len(p.Data)})
		return pdu.Bytes{}, errspkg.ErrPacketTooShort
	}
	body := p.Data[:len(p.Data)-n]
	want := c.engine.encode(nil, c.engine.compute(body[skip:]))
	if !bytes.Equal(want, p.Data[len(body):]) {
		c.stats.Failed++
		c.recorder.Dropped(c.Name(), "mismatch")
		c.log.Debug("Packet dropped", logging.LogFields{"reason": "mismatch", "length": len(p.Data)})
		return pdu.Bytes{}, errspkg.ErrChecksumMismatch
	}
	c.stats.Passed++
	if !c.engine.cfg.Discard {
		return p, nil
	}
	out := pdu.Bytes{Data: body}
	for _, t := range p.Tags {
		if t.Offset < uint64(len(body)) {
			out.Tags = append(out.Tags, t)
		}
	}
	return out, nil
}

// Counter stamps every packet with a running count under Key.
type Counter struct {
	Key   string
	count uint64
}

// NewCounter builds a Counter; an empty key means "packet_count".
func NewCounter(key string) *Counter {
	if key == "" {
		key = "packet_count"
	}
	return &Counter{Key: key}
}

func (c *Counter) Name() string  { return "packet_counter" }
func (c *Counter) Count() uint64 { return c.count }

func (c *Counter) Apply(p pdu.Bytes) (pdu.Bytes, error) {
	if len(p.Data) == 0 {
		return pdu.Bytes{}, errspkg.ErrEmptyPdu
	}
	c.count++
	stamp := tag.NewAttributes(tag.KV(c.Key, tag.Uint64(c.count)))
	tags := make([]tag.Tag, 0, len(p.Tags)+1)
	merged := false
	for _, t := range p.Tags {
		if t.Offset == 0 && !merged {
			t = tag.Tag{Offset: 0, Attrs: t.Attrs.Merge(stamp)}
			merged = true
		}
		tags = append(tags, t)
	}
	if !merged {
		tags = append([]tag.Tag{{Offset: 0, Attrs: stamp}}, tags...)
	}
	return pdu.Bytes{Data: p.Data, Tags: tags}, nil
}

// IsDrop reports whether err is one of the recoverable packet-drop errors.
func IsDrop(err error) bool {
	return errors.Is(err, errspkg.ErrChecksumMismatch) ||
		errors.Is(err, errspkg.ErrPacketTooShort) ||
		errors.Is(err, errspkg.ErrEmptyPdu)
}
