package fins

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindSentinels(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		sentinel error
	}{
		{KindValidation, ErrValidation},
		{KindConnection, ErrConnection},
		{KindTimeout, ErrTimeout},
		{KindProtocol, ErrProtocol},
		{KindTransport, ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := &Error{Kind: tt.kind, msg: "boom"}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.sentinel)
			}
			for _, other := range tests {
				if other.kind != tt.kind && errors.Is(err, other.sentinel) {
					t.Errorf("errors.Is(%v kind, %v sentinel) = true", tt.kind, other.kind)
				}
			}
		})
	}
}

func TestOpErrorPreservesKindAndCodes(t *testing.T) {
	inner := protocolError(0x11, 0x02)
	err := opError("read", "DM1000", inner)

	if !errors.Is(err, ErrProtocol) {
		t.Errorf("wrapped error lost protocol kind: %v", err)
	}

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if fe.Op != "read" || fe.Address != "DM1000" {
		t.Errorf("Op/Address = %q/%q, want read/DM1000", fe.Op, fe.Address)
	}
	if fe.Main != 0x11 || fe.Sub != 0x02 {
		t.Errorf("end codes = %02X/%02X, want 11/02", fe.Main, fe.Sub)
	}
}

func TestOpErrorWrapsForeignCause(t *testing.T) {
	cause := fmt.Errorf("socket gone")
	err := opError("write", "DM0", cause)

	if !errors.Is(err, ErrTransport) {
		t.Errorf("foreign cause should default to transport kind: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("wrapped error lost cause: %v", err)
	}
	if opError("read", "DM0", nil) != nil {
		t.Error("opError(nil) != nil")
	}
}

func TestTransportErrorTimeoutClassification(t *testing.T) {
	err := transportError(timeoutError{}, "receive")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("timeout cause classified as %v, want timeout kind", err)
	}

	err = transportError(fmt.Errorf("connection reset"), "receive")
	if !errors.Is(err, ErrTransport) {
		t.Errorf("plain cause classified as %v, want transport kind", err)
	}
}

// timeoutError implements net.Error with Timeout() true.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return false }

func TestProtocolErrorMessage(t *testing.T) {
	err := protocolError(0x11, 0x03)
	want := "fins: end code 11/03: parameter error"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
