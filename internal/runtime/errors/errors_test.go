package errors

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrServiceRequired", ErrServiceRequired, "pktflow: packet service is required"},
		{"ErrHandlerRequired", ErrHandlerRequired, "pktflow: handler function is required"},
		{"ErrConsumeQueueRequired", ErrConsumeQueueRequired, "pktflow: consume queue is required"},
		{"ErrTopicRequired", ErrTopicRequired, "pktflow: topic is required"},
		{"ErrConfigRequired", ErrConfigRequired, "pktflow: configuration is required"},
		{"ErrEmptyPdu", ErrEmptyPdu, "pktflow: packet has no items"},
		{"ErrShortWrite", ErrShortWrite, "pktflow: device accepted fewer bytes than the packet holds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "pktflow: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("errors.Is works with wrapped sentinel", func(t *testing.T) {
		err := NewConfigValidationError(ErrInvalidRatio)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, ErrInvalidRatio) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}

func TestViolationError(t *testing.T) {
	err := NewViolation(ViolationPrematureBoundary, "rx", 4)
	err.Expected = 10
	err.Collected = 4

	if !errors.Is(err, ErrPrematureBoundary) {
		t.Fatal("expected violation to match its sentinel")
	}
	want := `pktflow: stream "rx" offset 4: premature_boundary (collected 4 of 10 items): pktflow: boundary tag arrived before the packet was complete`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	var target *ViolationError
	if !errors.As(error(err), &target) || target.Kind != ViolationPrematureBoundary {
		t.Fatalf("expected errors.As to find the violation, got %#v", target)
	}
}

func TestViolationErrorUnknownKind(t *testing.T) {
	err := NewViolation(ViolationKind("other"), "", 0)
	if err.Unwrap() != nil {
		t.Fatalf("expected nil sentinel for unknown kind, got %v", err.Unwrap())
	}
}
