package errors

import (
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
)

func TestNetworkError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  NetworkError
		want string
	}{
		{
			name: "retryable",
			err:  NetworkError{Op: "dial", Addr: "127.0.0.1:8001", Err: io.EOF, Retryable: true},
			want: "dial 127.0.0.1:8001: EOF (retryable)",
		},
		{
			name: "non-retryable",
			err:  NetworkError{Op: "read", Addr: "10.0.0.2:51000", Err: fmt.Errorf("reset by peer")},
			want: "read 10.0.0.2:51000: reset by peer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	err := &NetworkError{Op: "read", Addr: "x", Err: io.EOF}
	if !Is(err, io.EOF) {
		t.Error("should unwrap to io.EOF")
	}
}

func TestProtocolError_Format(t *testing.T) {
	err := Violation("awaiting-login", "ping", ErrProtocolViolation)
	want := `protocol violation in state awaiting-login: "ping"`
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !Is(err, ErrProtocolViolation) {
		t.Error("should unwrap to ErrProtocolViolation")
	}
}

func TestProtocolError_TruncatesLongLines(t *testing.T) {
	err := Violation("logged-in", strings.Repeat("x", 500), ErrProtocolViolation)
	if len(err.Line) > 70 {
		t.Errorf("line preview not truncated: %d bytes", len(err.Line))
	}
}

func TestSSHError_Format(t *testing.T) {
	err := WrapSSH("handshake", "bastion.example.com", 22, fmt.Errorf("connection refused"))
	want := "ssh handshake bastion.example.com:22: connection refused"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestConfigError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  ConfigError
		want string
	}{
		{
			name: "with value and hint",
			err: ConfigError{
				Field:   "port",
				Value:   99999,
				Message: "out of range 1-65535",
				Hint:    "use a port between 1 and 65535",
			},
			want: "config: --port=99999: out of range 1-65535\n  hint: use a port between 1 and 65535",
		},
		{
			name: "missing value no hint",
			err: ConfigError{
				Field:   "server-side",
				Message: "required with --proxy",
			},
			want: "config: --server-side: required with --proxy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"timeout", fmt.Errorf("evict: %w", ErrTimeout), KindTimeout},
		{"malformed", Violation("logged-in", "", ErrMalformedFrame), KindMalformed},
		{"violation", Violation("awaiting-login", "hello", ErrProtocolViolation), KindProtocol},
		{"duplicate", ErrDuplicateLogin, KindProtocol},
		{"stopped", ErrClosed, KindStopped},
		{"network", Wrap("read", "x", io.EOF), KindTransport},
		{"plain", fmt.Errorf("boom"), KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable network", &NetworkError{Op: "dial", Addr: "x", Err: io.EOF, Retryable: true}, true},
		{"non-retryable network", &NetworkError{Op: "dial", Addr: "x", Err: io.EOF}, false},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSetupFailure(t *testing.T) {
	if !IsSetupFailure(WrapSSH("handshake", "gw", 22, fmt.Errorf("%w: bad key", ErrAuthFailed))) {
		t.Error("auth failure should be a setup failure")
	}
	if !IsSetupFailure(fmt.Errorf("x: %w", ErrHostKeyMismatch)) {
		t.Error("host key mismatch should be a setup failure")
	}
	if IsSetupFailure(Wrap("dial", "x", io.EOF)) {
		t.Error("transport failure is not a setup failure")
	}
}

func TestClassifyRetryable_NetOpError(t *testing.T) {
	opErr := &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: &net.DNSError{IsTemporary: true},
	}
	if !classifyRetryable(opErr) {
		t.Error("temporary OpError should be retryable")
	}
}

func TestSentinels(t *testing.T) {
	sentinels := []error{
		ErrMalformedFrame, ErrProtocolViolation, ErrDuplicateLogin,
		ErrTimeout, ErrClosed, ErrNotConnected, ErrTunnelClosed,
		ErrCircuitOpen, ErrAuthFailed, ErrHostKeyMismatch,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && Is(a, b) {
				t.Errorf("sentinel %d and %d should not match", i, j)
			}
		}
	}
}
