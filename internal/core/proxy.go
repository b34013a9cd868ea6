package core

import (
	"context"

	ncerr "rollcall/internal/errors"
	"rollcall/internal/metrics"
	"rollcall/internal/proxy"
	"rollcall/internal/retry"
	"rollcall/internal/transport"
	"rollcall/util"
)

// ProxyMode joins two endpoints with a forwarding proxy.  Without
// KeepOpen a single proxy runs until either side closes; with it a
// Supervisor builds a new proxy after every teardown.
type ProxyMode struct {
	ClientSide string
	ServerSide string
	Dialer     transport.Dialer
	KeepOpen   bool

	Backoff *retry.Backoff
	Breaker *retry.CircuitBreaker

	Logger  *util.Logger
	Metrics *metrics.Collector
}

func (m *ProxyMode) newProxy() *proxy.Proxy {
	return proxy.New(m.ClientSide, m.ServerSide, m.Dialer,
		proxy.WithLogger(m.Logger), proxy.WithMetrics(m.Metrics))
}

// Run blocks until the proxy ends or ctx is done.
func (m *ProxyMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()
	defer func() { m.Logger.Verbose("metrics: %s", m.Metrics.Summary()) }()

	if m.KeepOpen {
		sup := &proxy.Supervisor{
			NewProxy: m.newProxy,
			Backoff:  m.Backoff,
			Breaker:  m.Breaker,
			Logger:   m.Logger,
			Metrics:  m.Metrics,
		}
		return sup.Run(ctx)
	}

	p := m.newProxy()
	if err := p.Start(ctx); err != nil {
		return err
	}
	m.Logger.Info("proxying %s ⇄ %s", m.ClientSide, m.ServerSide)
	cause := p.Wait()
	m.Logger.Info("proxy ended: %s", p.Stats())
	if ncerr.Classify(cause) != ncerr.KindStopped {
		m.Logger.Verbose("proxy teardown cause: %v", cause)
	}
	return nil
}
