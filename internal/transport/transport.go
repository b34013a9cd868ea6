// Package transport provides abstractions for connection establishment.
// Transports handle the "how" of data movement (plain TCP, SSH-tunnelled
// TCP, or WebSocket text messages) independent of the protocol spoken
// over the resulting byte stream.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer, an SSH-tunnelled dialer that routes traffic
// through an encrypted gateway, and a WebSocket dialer.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
