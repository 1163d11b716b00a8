package device

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/drblury/pktflow/internal/runtime/config"
	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
)

// OpenFile opens path for reading from the start and appending writes,
// creating it when missing. Use it with a length-prefixed framer: plain
// files do not keep datagram boundaries.
func OpenFile(path string) Opener {
	return func(context.Context) (io.ReadWriteCloser, error) {
		return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	}
}

// FromConfig builds a Port for the device described by cfg.
func FromConfig(cfg config.Config, opts Options) (*Port, error) {
	cfg = cfg.WithDefaults()
	framer, err := FramerFor(cfg.DeviceFraming)
	if err != nil {
		return nil, err
	}
	if opts.Framer == nil {
		opts.Framer = framer
	}
	if opts.MaxPacketLen == 0 {
		opts.MaxPacketLen = cfg.MaxPacketLen
	}

	var open Opener
	switch cfg.DeviceKind {
	case config.DeviceFile:
		open = OpenFile(cfg.DevicePath)
	case config.DeviceTUN:
		name := cfg.TUNName
		if name == "" {
			name = cfg.DevicePath
		}
		open = OpenTUN(name)
	case config.DeviceSerial:
		open = OpenSerial(cfg.DevicePath, PortOptions{
			BaudRate: cfg.SerialBaudRate,
			DataBits: cfg.SerialDataBits,
			StopBits: cfg.SerialStopBits,
			Parity:   cfg.SerialParity,
		})
	default:
		return nil, errspkg.NewConfigValidationError(fmt.Errorf("%w: device kind %q", errspkg.ErrDeviceRequired, cfg.DeviceKind))
	}
	if opts.Name == "" {
		opts.Name = cfg.DeviceKind
	}
	return NewPort(open, opts)
}
