package core

import (
	"fmt"
	"time"

	"rollcall/config"
	"rollcall/internal/client"
	"rollcall/internal/metrics"
	"rollcall/internal/retry"
	"rollcall/internal/transport"
	"rollcall/tunnel"
	"rollcall/util"
)

// Build constructs the appropriate Mode from the given configuration.
// cfg must already have passed Validate.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	switch {
	case cfg.Listen:
		return buildServe(cfg, logger, m), nil
	case cfg.Proxy:
		return buildProxy(cfg, logger, m)
	default:
		return buildClient(cfg, logger, m)
	}
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *util.Logger, m *metrics.Collector) Mode {
	mode := &ServeMode{
		Address:         util.FormatAddr(cfg.Host, cfg.Port),
		Strict:          cfg.Strict,
		LivenessTimeout: cfg.LivenessTimeout,
		SweepInterval:   cfg.SweepInterval,
		MaxLineLength:   cfg.MaxLineLength,
		GracePeriod:     config.DefaultGracePeriod,
		Logger:          logger,
		Metrics:         m,
	}
	if cfg.WSPort > 0 {
		mode.WSAddress = util.FormatAddr(cfg.Host, cfg.WSPort)
	}
	return mode
}

func buildClient(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	if len(cfg.Names) == 0 {
		return nil, fmt.Errorf("client mode needs at least one name")
	}
	dialer := buildDialer(cfg, logger)
	runner := &client.Runner{
		Dialer:        dialer,
		Addr:          cfg.Addr(),
		Names:         append([]string(nil), cfg.Names...),
		Stagger:       cfg.Stagger,
		PingWindow:    cfg.PingWindow,
		MaxLineLength: cfg.MaxLineLength,
		Logger:        logger,
		Metrics:       m,
	}
	if cfg.Reconnect {
		runner.Reconnect = reconnectBackoff()
	}
	return &ClientMode{Runner: runner, Dialer: dialer, Logger: logger, Metrics: m}, nil
}

func buildProxy(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	clientSide, err := config.ParseEndpoint(cfg.ClientSide)
	if err != nil {
		return nil, fmt.Errorf("client side: %w", err)
	}
	serverSide, err := config.ParseEndpoint(cfg.ServerSide)
	if err != nil {
		return nil, fmt.Errorf("server side: %w", err)
	}

	mode := &ProxyMode{
		ClientSide: clientSide,
		ServerSide: serverSide,
		Dialer:     buildDialer(cfg, logger),
		KeepOpen:   cfg.KeepOpen,
		Logger:     logger,
		Metrics:    m,
	}
	if cfg.KeepOpen {
		mode.Backoff = reconnectBackoff()
		mode.Breaker = retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
			OnStateChange: func(from, to retry.State) {
				logger.Warn("proxy circuit %s → %s", from, to)
			},
		})
	}
	return mode, nil
}

// ── helpers ──────────────────────────────────────────────────────────

// buildDialer selects the transport clients and the proxy dial with:
// plain TCP, through an SSH tunnel, and optionally WebSocket on top.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	var d transport.Dialer = &transport.TCPDialer{Timeout: cfg.Timeout}
	if cfg.TunnelEnabled {
		d = transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   cfg.Timeout,
			KeepAlive:     config.DefaultKeepAliveInterval * time.Second,
		}, logger)
	}
	if cfg.WebSocket {
		ws := &transport.WSDialer{Timeout: cfg.Timeout}
		if cfg.TunnelEnabled {
			ws.Through = d
		}
		d = ws
	}
	return d
}

func reconnectBackoff() *retry.Backoff {
	return &retry.Backoff{
		InitialDelay: time.Second,
		MaxDelay:     config.DefaultMaxReconnectBackoff,
		Multiplier:   2,
		MaxAttempts:  config.DefaultMaxReconnectAttempts,
		Jitter:       true,
	}
}
