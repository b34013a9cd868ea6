// Package errors provides the error taxonomy for rollcall.
//
// Every failure that ends a connection falls into one of four kinds:
// transport failures, malformed frames, protocol violations, and
// liveness timeouts.  The structured types carry enough context
// (operation, address, protocol state) for teardown logging to report
// each kind distinctly.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrDuplicateLogin    = errors.New("duplicate login")
	ErrTimeout           = errors.New("liveness timeout")
	ErrClosed            = errors.New("connection closed")
	ErrNotConnected      = errors.New("not connected")
	ErrTunnelClosed      = errors.New("tunnel is closed")
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrHostKeyMismatch   = errors.New("host key mismatch")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.  It is the
// TransportError of the taxonomy and is always fatal to the connection
// it happened on.
type NetworkError struct {
	Op        string // operation: "dial", "listen", "accept", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether an external caller may retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError records a message that did not fit the state machine.
// Err is ErrProtocolViolation, ErrDuplicateLogin or ErrMalformedFrame.
type ProtocolError struct {
	State string // protocol state the line arrived in
	Line  string // offending line (truncated for logging)
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("%v in state %s", e.Err, e.State)
	}
	return fmt.Sprintf("%v in state %s: %q", e.Err, e.State, e.Line)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// Violation creates a ProtocolError for line received in state.
func Violation(state, line string, err error) *ProtocolError {
	const maxPreview = 64
	if len(line) > maxPreview {
		line = line[:maxPreview] + "…"
	}
	return &ProtocolError{State: state, Line: line, Err: err}
}

// ── Classification ───────────────────────────────────────────────────

// Kind groups errors by how a teardown should be reported.
type Kind int

const (
	KindNone      Kind = iota // nil error
	KindStopped               // local stop / graceful shutdown
	KindTransport             // connect, read or write failure
	KindMalformed             // oversized or undecodable frame
	KindProtocol              // unrecognised command, duplicate login
	KindTimeout               // liveness expiry
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindStopped:
		return "stopped"
	case KindTransport:
		return "transport"
	case KindMalformed:
		return "malformed-frame"
	case KindProtocol:
		return "protocol-violation"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Classify maps err onto the taxonomy.  Anything that is not one of
// the protocol sentinels is a transport failure.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrMalformedFrame):
		return KindMalformed
	case errors.Is(err, ErrProtocolViolation), errors.Is(err, ErrDuplicateLogin):
		return KindProtocol
	case errors.Is(err, ErrClosed):
		return KindStopped
	default:
		return KindTransport
	}
}

// IsSetupFailure reports whether err comes from credentials or host
// verification, which no amount of reconnecting will fix.
func IsSetupFailure(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrHostKeyMismatch)
}

// IsRetryable reports whether err is worth retrying by an external caller.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use rollcall/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
