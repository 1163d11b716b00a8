package device

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// PortOptions describes the serial line settings.
type PortOptions struct {
	BaudRate int
	DataBits int
	// StopBits is "1", "1.5" or "2".
	StopBits string
	// Parity is N, E, O, M or S (or the spelled-out names).
	Parity string
	// ReadTimeout makes reads return empty after the given time instead of
	// blocking until data arrives. Zero blocks.
	ReadTimeout time.Duration
}

// Normalize validates the options and applies defaults for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate == 0 {
		opts.BaudRate = 115200
	}
	if opts.BaudRate < 0 {
		return opts, fmt.Errorf("invalid baud rate %d", opts.BaudRate)
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	switch strings.TrimSpace(opts.StopBits) {
	case "", "1":
		opts.StopBits = "1"
	case "1.5":
		opts.StopBits = "1.5"
	case "2":
		opts.StopBits = "2"
	default:
		return opts, fmt.Errorf("invalid stop bits %q: supported values are 1, 1.5 or 2", o.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	case "M", "MARK":
		opts.Parity = "M"
	case "S", "SPACE":
		opts.Parity = "S"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, O, M or S", o.Parity)
	}

	if opts.ReadTimeout < 0 {
		return opts, fmt.Errorf("invalid read timeout %s", opts.ReadTimeout)
	}
	return opts, nil
}

// SerialMode converts the options into the mode go.bug.st/serial opens with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}
	switch opts.StopBits {
	case "1":
		mode.StopBits = serial.OneStopBit
	case "1.5":
		mode.StopBits = serial.OnePointFiveStopBits
	case "2":
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	case "M":
		mode.Parity = serial.MarkParity
	case "S":
		mode.Parity = serial.SpaceParity
	}
	return mode, nil
}

// SerialOpen opens a serial port. Tests replace it.
var SerialOpen = func(path string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(path, mode)
}

// OpenSerial opens the serial port at path with opts. Serial links carry a
// byte stream, so pair it with NewLengthPrefixed.
func OpenSerial(path string, opts PortOptions) Opener {
	return func(context.Context) (io.ReadWriteCloser, error) {
		normalized, err := opts.Normalize()
		if err != nil {
			return nil, err
		}
		mode, err := normalized.SerialMode()
		if err != nil {
			return nil, err
		}
		port, err := SerialOpen(path, mode)
		if err != nil {
			return nil, err
		}
		if normalized.ReadTimeout > 0 {
			if err := port.SetReadTimeout(normalized.ReadTimeout); err != nil {
				_ = port.Close()
				return nil, fmt.Errorf("set read timeout: %w", err)
			}
		}
		return port, nil
	}
}
