package fins

import (
	"errors"
	"fmt"
	"net"
)

// ErrorKind discriminates the failure classes surfaced by this package.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1 // malformed address or arguments; no I/O performed
	KindConnection                      // socket open/connect failure, or use while disconnected
	KindTimeout                         // no response within the configured timeout
	KindProtocol                        // controller returned a non-zero MRES/SRES pair
	KindTransport                       // other socket-level failure during an exchange
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Sentinel errors for use with errors.Is. Each matches any *Error of the
// corresponding kind, including errors re-wrapped with operation context.
var (
	ErrValidation = errors.New("fins: validation error")
	ErrConnection = errors.New("fins: connection error")
	ErrTimeout    = errors.New("fins: timeout")
	ErrProtocol   = errors.New("fins: protocol error")
	ErrTransport  = errors.New("fins: transport error")
)

// Error is the tagged error variant used throughout the package. Kind
// discriminates the failure class; Main and Sub carry the controller
// response codes verbatim when Kind is KindProtocol; Op and Address carry
// context when the failure happened inside a named operation.
type Error struct {
	Kind    ErrorKind
	Op      string // operation name, e.g. "read"; empty outside operations
	Address string // textual address context; may be empty
	Main    byte   // MRES, protocol errors only
	Sub     byte   // SRES, protocol errors only

	msg   string
	cause error
}

func (e *Error) Error() string {
	s := "fins"
	if e.Op != "" {
		s += " " + e.Op
	}
	if e.Address != "" {
		s += " " + e.Address
	}
	if e.msg != "" {
		s += ": " + e.msg
	}
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrConnection:
		return e.Kind == KindConnection
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrProtocol:
		return e.Kind == KindProtocol
	case ErrTransport:
		return e.Kind == KindTransport
	}
	return false
}

func validationErrorf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

func connectionError(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConnection, msg: fmt.Sprintf(format, args...), cause: cause}
}

// protocolError builds the caller-visible error for a non-zero end code,
// carrying both response codes verbatim.
func protocolError(main, sub byte) *Error {
	return &Error{
		Kind: KindProtocol,
		Main: main,
		Sub:  sub,
		msg:  fmt.Sprintf("end code %02X/%02X: %s", main, sub, endCodeMessage(main)),
	}
}

// transportError classifies a socket fault during an exchange,
// distinguishing deadline expiry from other failures.
func transportError(cause error, what string) *Error {
	var nerr net.Error
	if errors.As(cause, &nerr) && nerr.Timeout() {
		return &Error{Kind: KindTimeout, msg: what + " timed out", cause: cause}
	}
	return &Error{Kind: KindTransport, msg: what + " failed", cause: cause}
}

// opError re-wraps a failure with the operation and address that produced
// it, preserving both the kind discriminator and the original cause.
func opError(op, address string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := &Error{Kind: KindTransport, Op: op, Address: address, cause: err}
	var fe *Error
	if errors.As(err, &fe) {
		wrapped.Kind = fe.Kind
		wrapped.Main = fe.Main
		wrapped.Sub = fe.Sub
	}
	return wrapped
}

// endCodeMessage returns a short description for a FINS end code at main
// response code granularity (W227-E1-2, section 8).
func endCodeMessage(main byte) string {
	switch main {
	case 0x00:
		return "normal completion"
	case 0x01:
		return "local node error"
	case 0x02:
		return "destination node error"
	case 0x03:
		return "communications controller error"
	case 0x04:
		return "not executable"
	case 0x05:
		return "routing error"
	case 0x10:
		return "command format error"
	case 0x11:
		return "parameter error"
	case 0x20:
		return "read not possible"
	case 0x21:
		return "write not possible"
	case 0x22:
		return "not executable in current mode"
	case 0x23:
		return "no such device"
	case 0x24:
		return "cannot start/stop"
	case 0x25:
		return "unit error"
	case 0x26:
		return "command error"
	case 0x30:
		return "access right error"
	case 0x40:
		return "abort"
	default:
		return "unknown error"
	}
}
