package pdu

import (
	"github.com/drblury/pktflow/internal/runtime/logging"
	"github.com/drblury/pktflow/internal/runtime/metrics"
)

type options struct {
	logger   logging.ServiceLogger
	recorder metrics.Recorder
	hooks    Hooks
}

// Option customises an Assembler or Disassembler.
type Option func(*options)

// WithLogger sets the logger used for recoverable violations.
func WithLogger(log logging.ServiceLogger) Option {
	return func(o *options) { o.logger = log }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithHooks adds callbacks; repeated calls merge.
func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = o.hooks.Merge(h) }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.logger = logging.OrNop(o.logger)
	o.recorder = metrics.OrNop(o.recorder)
	return o
}
