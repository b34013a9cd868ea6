package core

import (
	"context"

	"rollcall/internal/client"
	"rollcall/internal/metrics"
	"rollcall/internal/transport"
	"rollcall/util"
)

// ClientMode runs the client runner: one presence client per name,
// all against the same server.
type ClientMode struct {
	Runner  *client.Runner
	Dialer  transport.Dialer
	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Run blocks until every client has finished.  The dialer is closed
// when Run returns.
func (m *ClientMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	m.Logger.Verbose("starting %d client(s) against %s", len(m.Runner.Names), m.Runner.Addr)
	err := m.Runner.Run(ctx)
	m.Logger.Verbose("metrics: %s", m.Metrics.Summary())
	return err
}
