// Package cmd wires up the CLI flags and dispatches to a core mode.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"rollcall/config"
	"rollcall/internal/core"
	"rollcall/internal/metrics"
	"rollcall/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X rollcall/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout receives --version, --dry-run and --help output.  Tests
// replace it.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// flagValues holds raw flag values.  Only flags the user actually set
// are copied onto the Config, so env vars and the YAML file keep
// their say for everything else.
type flagValues struct {
	listen, proxy, ws, keepOpen bool
	strict, reconnect           bool
	port, wsPort, maxLine       int
	timeoutSec                  int
	names                       string
	clientSide, serverSide      string
	stagger, pingWindow         time.Duration
	liveness, sweep             time.Duration

	tunnel, sshKey, knownHosts      string
	sshPassword, sshAgent, strictHK bool

	verbose    int
	configFile string
}

// Execute parses args and runs the selected rollcall mode.
//
// Precedence, lowest first: defaults, YAML file (--config), ROLLCALL_*
// environment variables, command-line flags.
func Execute(ctx context.Context, args []string) error {
	var fv flagValues
	fs := flag.NewFlagSet("rollcall", flag.ContinueOnError)

	// ── mode ─────────────────────────────────────────────────────
	fs.BoolVarP(&fv.listen, "listen", "l", false, "Run the presence server")
	fs.BoolVar(&fv.proxy, "proxy", false, "Run the forwarding proxy")

	// ── connection ───────────────────────────────────────────────
	fs.IntVarP(&fv.port, "port", "p", config.DefaultPort, "Server port")
	fs.IntVar(&fv.wsPort, "ws-port", 0, "Also accept WebSocket clients on this port (with -l)")
	fs.BoolVar(&fv.ws, "ws", false, "Dial the server over WebSocket")
	fs.IntVarP(&fv.timeoutSec, "timeout", "w", int(config.DefaultConnTimeout/time.Second), "Connect timeout in seconds")

	// ── server ───────────────────────────────────────────────────
	fs.BoolVar(&fv.strict, "strict", false, "Disconnect clients that send unknown commands")
	fs.DurationVar(&fv.liveness, "liveness-timeout", config.DefaultLivenessTimeout, "Evict connections silent for longer than this")
	fs.DurationVar(&fv.sweep, "sweep-interval", config.DefaultSweepInterval, "Liveness sweep period")
	fs.IntVar(&fv.maxLine, "max-line", config.MaxLineLength, "Longest accepted line in bytes, newline included")

	// ── client runner ────────────────────────────────────────────
	fs.StringVarP(&fv.names, "names", "n", strings.Join(config.DefaultClientNames, ","), "Comma-separated client names")
	fs.DurationVar(&fv.stagger, "stagger", config.DefaultClientStagger, "Delay between starting consecutive clients")
	fs.DurationVar(&fv.pingWindow, "ping-window", config.DefaultPingWindow, "Upper bound of the random delay before each ping")
	fs.BoolVar(&fv.reconnect, "reconnect", false, "Re-dial clients whose connection ended")

	// ── proxy ────────────────────────────────────────────────────
	fs.StringVar(&fv.clientSide, "client-side", config.DefaultProxyClientSide, "Proxy client-side endpoint host:port")
	fs.StringVar(&fv.serverSide, "server-side", config.DefaultProxyServerSide, "Proxy server-side endpoint host:port")
	fs.BoolVarP(&fv.keepOpen, "keep-open", "k", false, "Re-create the proxy after each teardown")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&fv.tunnel, "tunnel", "T", "", "Dial through an SSH gateway [user@]host[:port]")
	fs.StringVar(&fv.sshKey, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&fv.sshPassword, "ssh-password", false, "Prompt for SSH password")
	fs.BoolVar(&fv.sshAgent, "ssh-agent", false, "Use SSH agent")
	fs.BoolVar(&fv.strictHK, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&fv.knownHosts, "known-hosts", "", "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&fv.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.StringVar(&fv.configFile, "config", "", "YAML configuration file")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "rollcall %s\n", version)
		return nil
	}

	// ── layer the configuration ──────────────────────────────────
	cfg := config.Defaults()
	path := fv.configFile
	if path == "" {
		path = os.Getenv("ROLLCALL_CONFIG")
	}
	if path != "" {
		file, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		file.Apply(cfg)
		cfg.ConfigFile = path
	}
	config.LoadFromEnv(cfg)
	if err := applyFlags(cfg, fs, &fv); err != nil {
		return err
	}

	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	// ── tunnel spec ──────────────────────────────────────────────
	if cfg.TunnelSpec != "" {
		user, host, port, err := config.ParseTunnelSpec(cfg.TunnelSpec)
		if err != nil {
			return fmt.Errorf("tunnel: %w", err)
		}
		cfg.TunnelEnabled = true
		cfg.TunnelUser = user
		cfg.TunnelHost = host
		cfg.TunnelPort = port
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		printPlan(cfg)
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	mode, err := core.Build(cfg, logger, metrics.New())
	if err != nil {
		return err
	}
	logger.Verbose("rollcall %s starting in %s mode", version, cfg.Mode())
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// applyFlags copies every flag the user set onto cfg.
func applyFlags(cfg *config.Config, fs *flag.FlagSet, fv *flagValues) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "listen":
			cfg.Listen = fv.listen
		case "proxy":
			cfg.Proxy = fv.proxy
		case "port":
			cfg.Port = fv.port
		case "ws-port":
			cfg.WSPort = fv.wsPort
		case "ws":
			cfg.WebSocket = fv.ws
		case "timeout":
			cfg.Timeout = time.Duration(fv.timeoutSec) * time.Second
		case "strict":
			cfg.Strict = fv.strict
		case "liveness-timeout":
			cfg.LivenessTimeout = fv.liveness
		case "sweep-interval":
			cfg.SweepInterval = fv.sweep
		case "max-line":
			cfg.MaxLineLength = fv.maxLine
		case "names":
			var names []string
			if names, err = config.ParseNames(fv.names); err == nil {
				cfg.Names = names
			}
		case "stagger":
			cfg.Stagger = fv.stagger
		case "ping-window":
			cfg.PingWindow = fv.pingWindow
		case "reconnect":
			cfg.Reconnect = fv.reconnect
		case "client-side":
			cfg.ClientSide = fv.clientSide
		case "server-side":
			cfg.ServerSide = fv.serverSide
		case "keep-open":
			cfg.KeepOpen = fv.keepOpen
		case "tunnel":
			cfg.TunnelSpec = fv.tunnel
		case "ssh-key":
			cfg.SSHKeyPath = fv.sshKey
		case "ssh-password":
			cfg.SSHPassword = fv.sshPassword
		case "ssh-agent":
			cfg.UseSSHAgent = fv.sshAgent
		case "strict-hostkey":
			cfg.StrictHostKey = fv.strictHK
		case "known-hosts":
			cfg.KnownHostsPath = fv.knownHosts
		case "verbose":
			cfg.Verbose = fv.verbose
		}
	})
	if err != nil {
		return fmt.Errorf("names: %w", err)
	}
	return nil
}

// parsePositional accepts an optional host: the bind address with -l,
// the server to dial otherwise.  The proxy takes no positionals.
func parsePositional(cfg *config.Config, remaining []string) error {
	switch {
	case len(remaining) == 0:
		return nil
	case cfg.Proxy:
		return fmt.Errorf("proxy mode takes no arguments, use --client-side and --server-side")
	case len(remaining) > 1:
		return fmt.Errorf("too many arguments: %s", strings.Join(remaining, " "))
	}
	cfg.Host = remaining[0]
	return nil
}

// printPlan describes what a run would do, for --dry-run.
func printPlan(cfg *config.Config) {
	fmt.Fprintf(stdout, "mode: %s\n", cfg.Mode())
	switch cfg.Mode() {
	case "serve":
		fmt.Fprintf(stdout, "listen: %s\n", cfg.Addr())
		if cfg.WSPort > 0 {
			fmt.Fprintf(stdout, "websocket: %s\n", util.FormatAddr(cfg.Host, cfg.WSPort))
		}
		fmt.Fprintf(stdout, "liveness: evict after %s, sweep every %s\n", cfg.LivenessTimeout, cfg.SweepInterval)
	case "proxy":
		fmt.Fprintf(stdout, "proxy: %s <-> %s (keep-open %t)\n", cfg.ClientSide, cfg.ServerSide, cfg.KeepOpen)
	default:
		fmt.Fprintf(stdout, "server: %s\n", cfg.Addr())
		fmt.Fprintf(stdout, "clients: %s\n", strings.Join(cfg.Names, " "))
		fmt.Fprintf(stdout, "ping window: %s\n", cfg.PingWindow)
	}
	if cfg.TunnelEnabled {
		fmt.Fprintf(stdout, "tunnel: %s@%s:%d\n", cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(stdout, `rollcall – presence server, client runner and forwarding proxy v%s

Usage:
  rollcall -l [-p port] [bind-host]             Presence server
  rollcall [options] [host]                     Client runner
  rollcall --proxy [--client-side a] [--server-side b]
                                                Forwarding proxy

Options:
`, version)
	fs.SetOutput(stdout)
	fs.PrintDefaults()
	fmt.Fprintf(stdout, `
Examples:
  rollcall -l -v                                Serve on 127.0.0.1:8001
  rollcall -l --ws-port 8081 0.0.0.0            Serve TCP and WebSocket clients
  rollcall -n John,Lucy example.com             Two clients against a remote server
  rollcall -T admin@bastion -n Abby db-internal Client through an SSH gateway
  rollcall --proxy -k                           Join 8001 and 8002, reconnecting
`)
}
