package boundary

import (
	"context"
	"time"

	"github.com/drblury/pktflow/internal/runtime/logging"
	"github.com/drblury/pktflow/internal/runtime/metrics"
	"github.com/drblury/pktflow/internal/runtime/stage"
)

const defaultIdleBackoff = 10 * time.Millisecond

// ForwardOptions configures Forward.
type ForwardOptions struct {
	// Name labels logs and the io_failures metric.
	Name string
	// Stage is applied to every packet before delivery. Drops are counted.
	Stage stage.PacketStage
	// IdleBackoff is the pause after an empty poll.
	IdleBackoff time.Duration
	Logger      logging.ServiceLogger
	Recorder    metrics.Recorder
}

// ForwardStats counts Forward outcomes.
type ForwardStats struct {
	Polled    uint64
	Delivered uint64
	Failed    uint64
	Dropped   uint64
}

// Forward polls src and delivers each packet to every sink until ctx is done
// or src reports exhaustion. Delivery failures are logged and counted and
// never stop the loop.
func Forward(ctx context.Context, src PacketSource[byte], sinks []PacketSink[byte], opts ForwardOptions) ForwardStats {
	if opts.Name == "" {
		opts.Name = "forward"
	}
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = defaultIdleBackoff
	}
	log := logging.OrNop(opts.Logger).With(logging.LogFields{"forwarder": opts.Name})
	rec := metrics.OrNop(opts.Recorder)
	exhauster, finite := src.(Exhauster)

	var stats ForwardStats
	for ctx.Err() == nil {
		p, ok := src.Poll(ctx)
		if !ok {
			if finite && exhauster.Exhausted() {
				break
			}
			select {
			case <-ctx.Done():
			case <-time.After(opts.IdleBackoff):
			}
			continue
		}
		stats.Polled++

		if opts.Stage != nil {
			out, err := opts.Stage.Apply(p)
			if err != nil {
				stats.Dropped++
				log.Debug("Packet dropped before delivery", logging.LogFields{"reason": err.Error(), "length": len(p.Data)})
				continue
			}
			p = out
		}

		for i, sink := range sinks {
			if err := sink.Deliver(ctx, p); err != nil {
				stats.Failed++
				rec.IOFailure(opts.Name)
				log.Error("Packet delivery failed", err, logging.LogFields{"sink": i, "length": len(p.Data)})
				continue
			}
			stats.Delivered++
		}
	}
	log.Debug("Forwarder stopped", logging.LogFields{
		"polled":    stats.Polled,
		"delivered": stats.Delivered,
		"failed":    stats.Failed,
		"dropped":   stats.Dropped,
	})
	return stats
}
