package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultHost is the server address clients dial and the server
	// binds when none is given.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the presence server's TCP port.
	DefaultPort = 8001

	// DefaultLivenessTimeout is how long a connection may stay silent
	// before the server evicts it.
	DefaultLivenessTimeout = 5 * time.Second

	// DefaultSweepInterval is the liveness sweep period.  It must stay
	// at or below a fifth of the liveness timeout.
	DefaultSweepInterval = time.Second

	// DefaultPingWindow bounds the client's randomized ping delay.
	// Delays are drawn uniformly from [0, DefaultPingWindow), so some
	// clients will overrun the liveness timeout and be evicted.
	DefaultPingWindow = 7 * time.Second

	// MaxLineLength caps a protocol line including its newline.
	MaxLineLength = 1024

	// DefaultClientStagger separates the start of consecutive clients
	// in the runner.
	DefaultClientStagger = 100 * time.Millisecond

	// DefaultProxyClientSide and DefaultProxyServerSide are the two
	// endpoints the forwarding proxy joins.
	DefaultProxyClientSide = "127.0.0.1:8001"
	DefaultProxyServerSide = "127.0.0.1:8002"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultKeepAliveInterval is the SSH keepalive interval in seconds.
	DefaultKeepAliveInterval = 30

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultMaxReconnectAttempts is how many times the client runner
	// and proxy supervisor retry before giving up.
	DefaultMaxReconnectAttempts = 10

	// DefaultMaxReconnectBackoff caps the exponential backoff between
	// reconnection attempts.
	DefaultMaxReconnectBackoff = 60 * time.Second

	// DefaultGracePeriod is how long shutdown waits for sessions to
	// finish.
	DefaultGracePeriod = 5 * time.Second
)

// DefaultClientNames are the names the client runner logs in with.
var DefaultClientNames = []string{"John", "James", "Lucy", "Tracy", "Frank", "Abby"}
