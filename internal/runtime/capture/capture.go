// Package capture mirrors packets into pcap files and replays them. Packets
// are stored with the RAW link type: each record is one IP packet exactly as
// it crossed the device boundary.
package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/logging"
	"github.com/drblury/pktflow/internal/runtime/metrics"
	"github.com/drblury/pktflow/internal/runtime/pdu"
	"github.com/drblury/pktflow/internal/runtime/tag"
)

// DefaultSnapLen is the largest record a capture file accepts.
const DefaultSnapLen = 65535

// Options configures a Sink or Source.
type Options struct {
	// SnapLen truncates records when writing. Defaults to DefaultSnapLen.
	SnapLen int
	// TimeKey, when set, makes the Source stamp each packet's capture time
	// (unix nanoseconds, int64) at offset 0 under this key.
	TimeKey string
	// Now supplies record timestamps for the Sink. Defaults to time.Now.
	Now      func() time.Time
	StreamID string
	Logger   logging.ServiceLogger
	Recorder metrics.Recorder
}

func (o Options) withDefaults() Options {
	if o.SnapLen <= 0 {
		o.SnapLen = DefaultSnapLen
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Logger = logging.OrNop(o.Logger)
	o.Recorder = metrics.OrNop(o.Recorder)
	return o
}

// Sink writes one pcap record per delivered packet.
type Sink struct {
	path string
	opts Options
	log  logging.ServiceLogger

	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	w       *pcapgo.Writer
	written uint64
}

// NewSink returns an unstarted Sink that will create (or truncate) path.
func NewSink(path string, opts Options) (*Sink, error) {
	if path == "" {
		return nil, errspkg.NewConfigValidationError(errors.New("capture: path is required"))
	}
	opts = opts.withDefaults()
	return &Sink{
		path: path,
		opts: opts,
		log:  opts.Logger.With(logging.LogFields{"capture": path}),
	}, nil
}

// Start creates the file and writes the pcap header.
func (s *Sink) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return nil
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(uint32(s.opts.SnapLen), layers.LinkTypeRaw); err != nil {
		_ = f.Close()
		return fmt.Errorf("capture: write header: %w", err)
	}
	s.file, s.buf, s.w = f, buf, w
	return nil
}

// Deliver appends p as a record. Records longer than SnapLen are truncated
// and keep their original length in the record header.
func (s *Sink) Deliver(ctx context.Context, p pdu.Bytes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return fmt.Errorf("capture: %w", errspkg.ErrNotStarted)
	}
	if len(p.Data) == 0 {
		return fmt.Errorf("capture: %w", errspkg.ErrEmptyPdu)
	}
	data := p.Data
	if len(data) > s.opts.SnapLen {
		data = data[:s.opts.SnapLen]
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     s.opts.Now(),
		CaptureLength: len(data),
		Length:        len(p.Data),
	}
	if err := s.w.WritePacket(ci, data); err != nil {
		s.opts.Recorder.IOFailure("capture")
		s.log.Error("Capture write failed", err, logging.LogFields{"length": len(p.Data)})
		return fmt.Errorf("capture: write: %w", err)
	}
	s.written++
	s.opts.Recorder.Pdu(s.opts.StreamID, metrics.DirectionDelivered, len(p.Data))
	return nil
}

// Flush pushes buffered records to the file.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return nil
	}
	return s.buf.Flush()
}

// Stop flushes and closes the file.
func (s *Sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := errors.Join(s.buf.Flush(), s.file.Close())
	s.log.Info("Capture closed", logging.LogFields{"records": s.written})
	s.file, s.buf, s.w = nil, nil, nil
	return err
}

// Source replays the records of a pcap file as packets.
type Source struct {
	path string
	opts Options
	log  logging.ServiceLogger

	mu        sync.Mutex
	file      *os.File
	r         *pcapgo.Reader
	exhausted bool
	read      uint64
}

// NewSource returns an unstarted Source over path.
func NewSource(path string, opts Options) (*Source, error) {
	if path == "" {
		return nil, errspkg.NewConfigValidationError(errors.New("capture: path is required"))
	}
	opts = opts.withDefaults()
	return &Source{
		path: path,
		opts: opts,
		log:  opts.Logger.With(logging.LogFields{"capture": path}),
	}, nil
}

// Start opens the file and reads the pcap header.
func (s *Source) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	r, err := pcapgo.NewReader(bufio.NewReader(f))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("capture: read header: %w", err)
	}
	s.file, s.r, s.exhausted = f, r, false
	s.log.Debug("Capture opened", logging.LogFields{"link_type": r.LinkType().String(), "snaplen": r.Snaplen()})
	return nil
}

// Poll returns the next record. Truncated records are skipped because they
// are not whole packets.
func (s *Source) Poll(ctx context.Context) (pdu.Bytes, bool) {
	if ctx.Err() != nil {
		return pdu.Bytes{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r == nil || s.exhausted {
		return pdu.Bytes{}, false
	}
	for {
		data, ci, err := s.r.ReadPacketData()
		if err != nil {
			s.exhausted = true
			if !errors.Is(err, io.EOF) {
				s.opts.Recorder.IOFailure("capture")
				s.log.Error("Capture read failed", err, logging.LogFields{"records": s.read})
			}
			return pdu.Bytes{}, false
		}
		if ci.CaptureLength < ci.Length {
			s.opts.Recorder.Dropped("capture", "truncated")
			s.log.Debug("Truncated capture record skipped", logging.LogFields{"captured": ci.CaptureLength, "length": ci.Length})
			continue
		}
		s.read++
		p := pdu.Bytes{Data: bytes.Clone(data)}
		if s.opts.TimeKey != "" {
			p.Tags = []tag.Tag{tag.New(0, tag.KV(s.opts.TimeKey, tag.Int64(ci.Timestamp.UnixNano())))}
		}
		s.opts.Recorder.Pdu(s.opts.StreamID, metrics.DirectionReceived, len(data))
		return p, true
	}
}

// Exhausted reports whether every record has been returned.
func (s *Source) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

// Stop closes the file.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.r = nil, nil
	return err
}
