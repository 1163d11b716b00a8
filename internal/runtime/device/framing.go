package device

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
)

const (
	lengthPrefixSize = 2
	readChunk        = 4096
)

// Framer maps packets onto a device's read and write calls.
type Framer interface {
	Name() string
	// ReadFrame reads at most one packet into buf. (0, nil) means no packet
	// is ready yet.
	ReadFrame(r io.Reader, buf []byte) (int, error)
	// WriteFrame writes one packet and reports how many packet bytes the
	// device accepted.
	WriteFrame(w io.Writer, frame []byte) (int, error)
}

// Datagram treats every read and every write as exactly one packet. TUN
// interfaces and packet character devices behave this way.
var Datagram Framer = datagram{}

type datagram struct{}

func (datagram) Name() string { return "datagram" }

func (datagram) ReadFrame(r io.Reader, buf []byte) (int, error) {
	return r.Read(buf)
}

func (datagram) WriteFrame(w io.Writer, frame []byte) (int, error) {
	return w.Write(frame)
}

// NewLengthPrefixed returns a framer for byte-stream links where every packet
// is preceded by its length as a big-endian uint16. The framer buffers
// partial frames, so each Port needs its own instance.
func NewLengthPrefixed() Framer {
	return &lengthPrefixed{scratch: make([]byte, readChunk)}
}

type lengthPrefixed struct {
	pending []byte
	scratch []byte
	skip    int
}

func (*lengthPrefixed) Name() string { return "length_prefixed" }

func (f *lengthPrefixed) ReadFrame(r io.Reader, buf []byte) (int, error) {
	for {
		if n, ok, err := f.next(buf); ok || err != nil {
			return n, err
		}
		n, err := r.Read(f.scratch)
		f.pending = append(f.pending, f.scratch[:n]...)
		if err != nil {
			if n > 0 {
				if m, ok, ferr := f.next(buf); ok || ferr != nil {
					return m, ferr
				}
			}
			return 0, err
		}
		if n == 0 {
			return 0, nil
		}
	}
}

// next extracts one buffered frame. Oversized frames are skipped as their
// bytes arrive and reported once.
func (f *lengthPrefixed) next(buf []byte) (int, bool, error) {
	if f.skip > 0 {
		k := min(f.skip, len(f.pending))
		f.pending = f.pending[k:]
		f.skip -= k
		if f.skip > 0 {
			return 0, false, nil
		}
	}
	if len(f.pending) < lengthPrefixSize {
		return 0, false, nil
	}
	size := int(binary.BigEndian.Uint16(f.pending))
	if size > len(buf) {
		f.pending = f.pending[lengthPrefixSize:]
		f.skip = size
		return 0, false, fmt.Errorf("%w: frame of %d bytes exceeds %d", errspkg.ErrPacketTooLarge, size, len(buf))
	}
	if len(f.pending) < lengthPrefixSize+size {
		return 0, false, nil
	}
	n := copy(buf, f.pending[lengthPrefixSize:lengthPrefixSize+size])
	f.pending = f.pending[lengthPrefixSize+size:]
	if len(f.pending) == 0 {
		f.pending = nil
	}
	return n, true, nil
}

func (*lengthPrefixed) WriteFrame(w io.Writer, frame []byte) (int, error) {
	if len(frame) > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %d bytes do not fit a uint16 length prefix", errspkg.ErrPacketTooLarge, len(frame))
	}
	out := make([]byte, lengthPrefixSize, lengthPrefixSize+len(frame))
	binary.BigEndian.PutUint16(out, uint16(len(frame)))
	out = append(out, frame...)
	n, err := w.Write(out)
	return max(n-lengthPrefixSize, 0), err
}

// FramerFor resolves a framing name from configuration.
func FramerFor(name string) (Framer, error) {
	switch name {
	case "", "datagram":
		return Datagram, nil
	case "length_prefixed":
		return NewLengthPrefixed(), nil
	default:
		return nil, errspkg.NewConfigValidationError(fmt.Errorf("%w: unknown framing %q", errspkg.ErrFramerRequired, name))
	}
}
