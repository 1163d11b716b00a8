package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
	"github.com/drblury/pktflow/internal/runtime/logging"
	"github.com/drblury/pktflow/internal/runtime/metrics"
	"github.com/drblury/pktflow/internal/runtime/pdu"
)

// Options configures a Sink or Source.
type Options struct {
	// StreamID is the stream recorded by a Sink and replayed by a Source.
	// An empty StreamID makes a Source replay every stream.
	StreamID string
	// BatchSize bounds each Source query.
	BatchSize int
	// Now stamps records written by a Sink. Defaults to time.Now.
	Now      func() time.Time
	Logger   logging.ServiceLogger
	Recorder metrics.Recorder
}

type adapter struct {
	path string
	opts Options
	log  logging.ServiceLogger
	rec  metrics.Recorder

	mu    sync.Mutex
	store *Store
}

func newAdapter(path string, opts Options) (*adapter, error) {
	if path == "" {
		return nil, errspkg.NewConfigValidationError(errors.New("archive: path is required"))
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &adapter{
		path: path,
		opts: opts,
		log:  logging.OrNop(opts.Logger).With(logging.LogFields{"archive": path, "stream_id": opts.StreamID}),
		rec:  metrics.OrNop(opts.Recorder),
	}, nil
}

func (a *adapter) start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return nil
	}
	store, err := Open(ctx, a.path)
	if err != nil {
		return err
	}
	if a.opts.Now != nil {
		store.now = a.opts.Now
	}
	a.store = store
	return nil
}

func (a *adapter) stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// Sink archives every delivered packet.
type Sink struct {
	*adapter
}

// NewSink returns an unstarted Sink writing to the database at path.
func NewSink(path string, opts Options) (*Sink, error) {
	a, err := newAdapter(path, opts)
	if err != nil {
		return nil, err
	}
	return &Sink{adapter: a}, nil
}

func (s *Sink) Start(ctx context.Context) error { return s.start(ctx) }
func (s *Sink) Stop() error                     { return s.stop() }

// Deliver stores p. Failures are logged, counted and returned.
func (s *Sink) Deliver(ctx context.Context, p pdu.Bytes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return fmt.Errorf("archive: %w", errspkg.ErrNotStarted)
	}
	if err := s.store.Append(ctx, s.opts.StreamID, p); err != nil {
		s.rec.IOFailure("archive")
		s.log.Error("Archive write failed", err, logging.LogFields{"length": len(p.Data)})
		return err
	}
	s.rec.Pdu(s.opts.StreamID, metrics.DirectionDelivered, len(p.Data))
	return nil
}

// Source replays archived packets in insertion order.
type Source struct {
	*adapter

	lastID    int64
	pending   []Record
	exhausted bool
}

// NewSource returns an unstarted Source reading the database at path.
func NewSource(path string, opts Options) (*Source, error) {
	a, err := newAdapter(path, opts)
	if err != nil {
		return nil, err
	}
	return &Source{adapter: a}, nil
}

func (s *Source) Start(ctx context.Context) error { return s.start(ctx) }
func (s *Source) Stop() error                     { return s.stop() }

// Poll returns the next archived packet. A failed query is logged and
// counted and yields false.
func (s *Source) Poll(ctx context.Context) (pdu.Bytes, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil || ctx.Err() != nil {
		return pdu.Bytes{}, false
	}
	if len(s.pending) == 0 {
		recs, err := s.store.Read(ctx, s.opts.StreamID, s.lastID, s.opts.BatchSize)
		if err != nil {
			s.rec.IOFailure("archive")
			s.log.Error("Archive read failed", err, logging.LogFields{"after_id": s.lastID})
			return pdu.Bytes{}, false
		}
		if len(recs) == 0 {
			s.exhausted = true
			return pdu.Bytes{}, false
		}
		s.exhausted = false
		s.pending = recs
	}
	rec := s.pending[0]
	s.pending = s.pending[1:]
	s.lastID = rec.ID
	s.rec.Pdu(rec.StreamID, metrics.DirectionReceived, len(rec.Pdu.Data))
	return rec.Pdu, true
}

// Exhausted reports whether the last query found nothing new. Records
// appended later are still returned by subsequent polls.
func (s *Source) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted && len(s.pending) == 0
}
