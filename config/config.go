// Package config defines the runtime configuration for rollcall and
// provides helpers for parsing endpoints, client names and tunnel
// specs.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ncerr "rollcall/internal/errors"
	"rollcall/util"
)

// Config holds every tuneable for a single rollcall process.
type Config struct {
	// ── Mode ─────────────────────────────────────────────────────────
	Listen bool // -l: run the presence server
	Proxy  bool // --proxy: run the forwarding proxy

	// ── Connection ───────────────────────────────────────────────────
	Host      string        // server host (client) or bind address (server)
	Port      int           // server port
	WSPort    int           // --ws-port: additional WebSocket listener
	WebSocket bool          // --ws: clients and proxy dial over WebSocket
	Timeout   time.Duration // connect timeout

	// ── Server ───────────────────────────────────────────────────────
	Strict          bool          // unknown commands are fatal
	LivenessTimeout time.Duration // silence before eviction
	SweepInterval   time.Duration // liveness sweep period
	MaxLineLength   int

	// ── Client runner ────────────────────────────────────────────────
	Names      []string
	Stagger    time.Duration
	PingWindow time.Duration // upper bound of the randomized ping delay
	Reconnect  bool

	// ── Proxy ────────────────────────────────────────────────────────
	ClientSide string // host:port
	ServerSide string // host:port
	KeepOpen   bool   // re-create the proxy after teardown

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int
	ConfigFile string
}

// Defaults returns a Config populated from defaults.go.
func Defaults() *Config {
	return &Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		Timeout:         DefaultConnTimeout,
		LivenessTimeout: DefaultLivenessTimeout,
		SweepInterval:   DefaultSweepInterval,
		MaxLineLength:   MaxLineLength,
		Names:           append([]string(nil), DefaultClientNames...),
		Stagger:         DefaultClientStagger,
		PingWindow:      DefaultPingWindow,
		ClientSide:      DefaultProxyClientSide,
		ServerSide:      DefaultProxyServerSide,
		TunnelPort:      DefaultSSHPort,
	}
}

// Mode names the selected run mode for logging.
func (c *Config) Mode() string {
	switch {
	case c.Listen:
		return "serve"
	case c.Proxy:
		return "proxy"
	default:
		return "client"
	}
}

// Addr is the server address as host:port.
func (c *Config) Addr() string { return util.FormatAddr(c.Host, c.Port) }

// ── Parsers ──────────────────────────────────────────────────────────

// ParsePort accepts a decimal port in 1-65535.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return port, nil
}

// ParseEndpoint validates a host:port pair and returns it normalised.
func ParseEndpoint(s string) (string, error) {
	host, port, err := util.SplitAddr(s)
	if err != nil {
		return "", err
	}
	if host == "" {
		return "", fmt.Errorf("endpoint %q has no host", s)
	}
	return util.FormatAddr(host, port), nil
}

// ParseNames splits a comma-separated list of client names.  Empty
// entries are dropped; names containing whitespace are rejected since
// they cannot be carried by a login line.
func ParseNames(s string) ([]string, error) {
	var out []string
	for _, n := range strings.Split(s, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if strings.ContainsAny(n, " \t\r\n") {
			return nil, fmt.Errorf("client name %q contains whitespace", n)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no client names in %q", s)
	}
	return out, nil
}

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Every failure is a *errors.ConfigError carrying a hint.
func (c *Config) Validate() error {
	if c.Listen && c.Proxy {
		return &ncerr.ConfigError{
			Field:   "proxy",
			Message: "server mode and proxy mode are mutually exclusive",
			Hint:    "run one rollcall process per role",
		}
	}

	if c.Port < 1 || c.Port > 65535 {
		return &ncerr.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "port out of range 1-65535",
			Hint:    fmt.Sprintf("the default is %d", DefaultPort),
		}
	}
	if c.WSPort != 0 {
		if !c.Listen {
			return &ncerr.ConfigError{
				Field:   "ws-port",
				Value:   c.WSPort,
				Message: "a WebSocket listener is only available in server mode",
				Hint:    "add -l",
			}
		}
		if c.WSPort < 0 || c.WSPort > 65535 || c.WSPort == c.Port {
			return &ncerr.ConfigError{
				Field:   "ws-port",
				Value:   c.WSPort,
				Message: "must be a free port distinct from -p",
			}
		}
	}

	if c.Listen {
		if c.LivenessTimeout <= 0 {
			return &ncerr.ConfigError{
				Field:   "liveness-timeout",
				Value:   c.LivenessTimeout,
				Message: "must be positive",
				Hint:    fmt.Sprintf("the default is %s", DefaultLivenessTimeout),
			}
		}
		if c.SweepInterval <= 0 || c.SweepInterval > c.LivenessTimeout/5 {
			return &ncerr.ConfigError{
				Field:   "sweep-interval",
				Value:   c.SweepInterval,
				Message: "must be positive and at most a fifth of the liveness timeout",
				Hint:    fmt.Sprintf("use %s or less", c.LivenessTimeout/5),
			}
		}
		if c.TunnelEnabled {
			return &ncerr.ConfigError{
				Field:   "tunnel",
				Value:   c.TunnelSpec,
				Message: "server mode cannot listen through an SSH tunnel",
				Hint:    "run the server on the remote host and point clients at it with -T",
			}
		}
	}

	if c.WebSocket && c.Listen {
		return &ncerr.ConfigError{
			Field:   "ws",
			Message: "--ws selects how clients dial; the server listens with --ws-port",
			Hint:    "use --ws-port with -l",
		}
	}

	if c.MaxLineLength < 2 {
		return &ncerr.ConfigError{
			Field:   "max-line",
			Value:   c.MaxLineLength,
			Message: "must leave room for at least one byte and the newline",
		}
	}

	if c.Proxy {
		if c.ClientSide == "" || c.ServerSide == "" {
			return &ncerr.ConfigError{
				Field:   "proxy",
				Message: "proxy mode requires two endpoints",
				Hint:    "pass --client-side host:port and --server-side host:port",
			}
		}
		if c.ClientSide == c.ServerSide {
			return &ncerr.ConfigError{
				Field:   "server-side",
				Value:   c.ServerSide,
				Message: "both proxy endpoints are the same address",
			}
		}
	}

	if !c.Listen && !c.Proxy {
		if c.Host == "" {
			return &ncerr.ConfigError{
				Field:   "host",
				Message: "client mode needs a server host",
				Hint:    "pass a host as the first argument",
			}
		}
		if len(c.Names) == 0 {
			return &ncerr.ConfigError{
				Field:   "names",
				Message: "at least one client name is required",
				Hint:    "-n John,Lucy",
			}
		}
		for _, n := range c.Names {
			if n == "" || strings.ContainsAny(n, " \t\r\n") {
				return &ncerr.ConfigError{
					Field:   "names",
					Value:   n,
					Message: "client names must be non-empty and contain no whitespace",
				}
			}
		}
		if c.PingWindow <= 0 {
			return &ncerr.ConfigError{
				Field:   "ping-window",
				Value:   c.PingWindow,
				Message: "must be positive",
				Hint:    fmt.Sprintf("the default is %s", DefaultPingWindow),
			}
		}
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &ncerr.ConfigError{
			Field:   "tunnel",
			Value:   c.TunnelSpec,
			Message: "tunnel host is required",
			Hint:    "-T user@gateway[:port]",
		}
	}

	return nil
}
