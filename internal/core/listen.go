package core

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	ncerr "rollcall/internal/errors"
	"rollcall/internal/liveness"
	"rollcall/internal/metrics"
	"rollcall/internal/roster"
	"rollcall/internal/session"
	"rollcall/internal/transport"
	"rollcall/util"
)

// ServeMode is the presence server.  It accepts connections on a TCP
// listener and optionally a WebSocket listener, runs a Session on each
// one, and evicts silent connections with a liveness Monitor.
type ServeMode struct {
	Address   string // host:port for TCP
	WSAddress string // host:port for WebSocket; empty disables it

	Strict          bool
	LivenessTimeout time.Duration
	SweepInterval   time.Duration
	MaxLineLength   int

	// GracePeriod bounds how long Run waits for sessions to finish
	// after ctx is cancelled.
	GracePeriod time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector

	// OnReady, when set, is called once every listener is bound.  ws
	// is nil without a WebSocket listener.
	OnReady func(tcp, ws net.Addr)
}

// Run listens and serves until ctx is done or a listener fails.
func (m *ServeMode) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.Address)
	if err != nil {
		return ncerr.Wrap("listen", m.Address, err)
	}
	listeners := []net.Listener{ln}
	var wsAddr net.Addr
	if m.WSAddress != "" {
		wsl, err := transport.ListenWS(m.WSAddress, transport.DefaultWSPath, m.MaxLineLength)
		if err != nil {
			ln.Close()
			return ncerr.Wrap("listen", m.WSAddress, err)
		}
		listeners = append(listeners, wsl)
		wsAddr = wsl.Addr()
	}

	m.Logger.Info("presence server listening on %s", ln.Addr())
	if wsAddr != nil {
		m.Logger.Info("websocket endpoint ws://%s%s", wsAddr, transport.DefaultWSPath)
	}
	if m.OnReady != nil {
		m.OnReady(ln.Addr(), wsAddr)
	}

	r := roster.New(roster.WithObserver(m.observe))
	monitor := liveness.New(m.LivenessTimeout, m.SweepInterval,
		liveness.WithLogger(m.Logger), liveness.WithMetrics(m.Metrics))

	var sessions sync.WaitGroup
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(gctx) })
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			return m.acceptLoop(gctx, l, func(conn net.Conn) {
				sess := session.New(conn, session.Options{
					Roster:        r,
					Monitor:       monitor,
					Logger:        m.Logger,
					Metrics:       m.Metrics,
					Strict:        m.Strict,
					MaxLineLength: m.MaxLineLength,
				})
				sessions.Add(1)
				go func() {
					defer sessions.Done()
					sess.Serve(gctx) //nolint:errcheck
				}()
			})
		})
	}
	// Shut every listener down when the context expires.
	g.Go(func() error {
		<-gctx.Done()
		for _, l := range listeners {
			l.Close()
		}
		return nil
	})

	err = g.Wait()
	m.drain(&sessions, r)
	m.Logger.Verbose("metrics: %s", m.Metrics.Summary())
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// acceptLoop hands every accepted connection to serve.  It returns nil
// once ctx is done and the listener has been closed.
func (m *ServeMode) acceptLoop(ctx context.Context, ln net.Listener, serve func(net.Conn)) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
			}
		}
		m.Logger.Verbose("connection from %s", conn.RemoteAddr())
		serve(conn)
	}
}

// drain waits for sessions to stop after shutdown, up to GracePeriod.
func (m *ServeMode) drain(sessions *sync.WaitGroup, r *roster.Roster) {
	done := make(chan struct{})
	go func() {
		sessions.Wait()
		close(done)
	}()

	grace := m.GracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case <-done:
		m.Logger.Verbose("all sessions closed")
	case <-time.After(grace):
		m.Logger.Warn("shutdown: %d session(s) still open after %s", r.Len(), grace)
	}
}

func (m *ServeMode) observe(ev roster.Event) {
	switch ev.Kind {
	case roster.EventJoin:
		m.Logger.Info("%s joined (%d online)", ev.Username, ev.Size)
	case roster.EventLeave:
		m.Logger.Info("%s left (%d online)", ev.Username, ev.Size)
	}
}
