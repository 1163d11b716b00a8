package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired      = sterrors.New("pktflow: packet service is required")
	ErrHandlerRequired      = sterrors.New("pktflow: handler function is required")
	ErrConsumeQueueRequired = sterrors.New("pktflow: consume queue is required")
	ErrHandlerNameRequired  = sterrors.New("pktflow: handler name is required")
	ErrPublisherRequired    = sterrors.New("pktflow: publisher is required")
	ErrSubscriberRequired   = sterrors.New("pktflow: subscriber is required")
	ErrTopicRequired        = sterrors.New("pktflow: topic is required")
	ErrConfigRequired       = sterrors.New("pktflow: configuration is required")
	ErrLoggerRequired       = sterrors.New("pktflow: logger is required")
)

// Construction errors. These are fatal and surface from constructors.
var (
	ErrBoundaryKeyRequired = sterrors.New("pktflow: boundary key is required")
	ErrInvalidRatio        = sterrors.New("pktflow: rescale ratio must be finite and greater than zero")
	ErrLengthOverflow      = sterrors.New("pktflow: rescaled packet length does not fit in uint64")
	ErrInvalidFactor       = sterrors.New("pktflow: rate factor must be at least 1")
	ErrPolicyArity         = sterrors.New("pktflow: propagation policy does not support this number of inputs")
	ErrPolicyRequired      = sterrors.New("pktflow: propagation policy is required")
	ErrInvalidCRC          = sterrors.New("pktflow: invalid checksum configuration")
	ErrPortMismatch        = sterrors.New("pktflow: number of inputs does not match the declared ports")
	ErrDeviceRequired      = sterrors.New("pktflow: device handle is required")
	ErrFramerRequired      = sterrors.New("pktflow: framer is required")
	ErrCodecRequired       = sterrors.New("pktflow: item codec is required")
)

// Recoverable errors. Components count and log these and keep running.
var (
	ErrPrematureBoundary = sterrors.New("pktflow: boundary tag arrived before the packet was complete")
	ErrMalformedBoundary = sterrors.New("pktflow: boundary tag carries an invalid packet length")
	ErrOrphanItem        = sterrors.New("pktflow: item outside any packet")
	ErrOrphanTag         = sterrors.New("pktflow: tag offset outside the packet")
	ErrEmptyPdu          = sterrors.New("pktflow: packet has no items")
	ErrShortWrite        = sterrors.New("pktflow: device accepted fewer bytes than the packet holds")
	ErrPacketTooLarge    = sterrors.New("pktflow: packet exceeds the size limit")
	ErrPacketTooShort    = sterrors.New("pktflow: packet is shorter than its checksum")
	ErrChecksumMismatch  = sterrors.New("pktflow: packet checksum mismatch")
	ErrMalformedPayload  = sterrors.New("pktflow: malformed packet payload")
	ErrNotStarted        = sterrors.New("pktflow: adapter is not started")
)

// ConfigValidationError marks a configuration that was rejected at construction time.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("pktflow: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// ViolationKind names a recoverable stream protocol violation.
type ViolationKind string

const (
	ViolationPrematureBoundary ViolationKind = "premature_boundary"
	ViolationMalformedBoundary ViolationKind = "malformed_boundary"
	ViolationOrphanItem        ViolationKind = "orphan_item"
	ViolationOrphanTag         ViolationKind = "orphan_tag"
	ViolationEmptyPdu          ViolationKind = "empty_pdu"
)

// ViolationError describes a recoverable violation observed on a stream.
type ViolationError struct {
	Kind      ViolationKind
	StreamID  string
	Offset    uint64
	Expected  uint64
	Collected uint64
	Err       error
}

func (e *ViolationError) Error() string {
	msg := fmt.Sprintf("pktflow: stream %q offset %d: %s", e.StreamID, e.Offset, e.Kind)
	if e.Expected > 0 {
		msg += fmt.Sprintf(" (collected %d of %d items)", e.Collected, e.Expected)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ViolationError) Unwrap() error { return e.Err }

// NewViolation builds a ViolationError whose Err is the sentinel matching kind.
func NewViolation(kind ViolationKind, streamID string, offset uint64) *ViolationError {
	return &ViolationError{Kind: kind, StreamID: streamID, Offset: offset, Err: sentinelFor(kind)}
}

func sentinelFor(kind ViolationKind) error {
	switch kind {
	case ViolationPrematureBoundary:
		return ErrPrematureBoundary
	case ViolationMalformedBoundary:
		return ErrMalformedBoundary
	case ViolationOrphanItem:
		return ErrOrphanItem
	case ViolationOrphanTag:
		return ErrOrphanTag
	case ViolationEmptyPdu:
		return ErrEmptyPdu
	default:
		return nil
	}
}
