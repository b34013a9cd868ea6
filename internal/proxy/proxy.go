// Package proxy relays raw bytes between two outbound connections.
//
// A Proxy dials a client-side and a server-side endpoint concurrently
// and only starts relaying once both connects have succeeded.  Each
// direction has its own pump that forwards whatever a single Read
// returns, so data moves as soon as at least one byte is available
// rather than waiting for a full buffer.  The first read or write
// failure on either side closes both.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	ncerr "rollcall/internal/errors"
	"rollcall/internal/metrics"
	"rollcall/internal/transport"
	"rollcall/util"
)

// Side names one end of the proxy.
type Side int

const (
	ClientSide Side = iota
	ServerSide
)

func (s Side) String() string {
	if s == ClientSide {
		return "client-side"
	}
	return "server-side"
}

func (s Side) other() Side { return 1 - s }

// Stats are the byte totals relayed so far.
type Stats struct {
	ClientToServer int64
	ServerToClient int64
}

func (s Stats) String() string {
	return fmt.Sprintf("%s → server, %s → client",
		humanize.Bytes(uint64(s.ClientToServer)), humanize.Bytes(uint64(s.ServerToClient)))
}

// Proxy is a single relay between two endpoints.  It is not reusable:
// once stopped, build a new one.
type Proxy struct {
	addrs   [2]string
	dialer  transport.Dialer
	logger  *util.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	conns   [2]net.Conn
	started bool
	stopped bool
	cause   error

	relayed  [2]atomic.Int64 // indexed by source side
	stopOnce sync.Once
	done     chan struct{}
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the logger.
func WithLogger(l *util.Logger) Option { return func(p *Proxy) { p.logger = l } }

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option { return func(p *Proxy) { p.metrics = c } }

// New returns an unstarted Proxy between clientSide and serverSide.
func New(clientSide, serverSide string, d transport.Dialer, opts ...Option) *Proxy {
	p := &Proxy{
		addrs:  [2]string{clientSide, serverSide},
		dialer: d,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start dials both endpoints and, if both succeed, begins relaying.
// If either dial fails, any connection that did open is closed and
// the proxy ends without having started.  Cancelling ctx after Start
// returns stops the proxy.
func (p *Proxy) Start(ctx context.Context) error {
	var conns [2]net.Conn
	g, gctx := errgroup.WithContext(ctx)
	for _, side := range []Side{ClientSide, ServerSide} {
		side := side
		g.Go(func() error {
			c, err := p.dialer.Dial(gctx, "tcp", p.addrs[side])
			if err != nil {
				return fmt.Errorf("%s: %w", side, ncerr.Wrap("dial", p.addrs[side], err))
			}
			conns[side] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeAll(conns)
		p.finish(err)
		return err
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		closeAll(conns)
		return ncerr.ErrClosed
	}
	p.conns = conns
	p.started = true
	p.mu.Unlock()

	p.logger.Verbose("proxy: %s ⇄ %s", p.addrs[ClientSide], p.addrs[ServerSide])
	go p.pump(ClientSide)
	go p.pump(ServerSide)
	go func() {
		select {
		case <-ctx.Done():
			p.teardown(fmt.Errorf("proxy cancelled: %w", ncerr.ErrClosed))
		case <-p.done:
		}
	}()
	return nil
}

// pump forwards everything read from src to the other side.
func (p *Proxy) pump(src Side) {
	bufp := util.GetBuf()
	defer util.PutBuf(bufp)
	buf := *bufp

	from, to := p.conns[src], p.conns[src.other()]
	for {
		n, rerr := from.Read(buf)
		if n > 0 {
			p.metrics.BytesReceived(int64(n))
			w, werr := to.Write(buf[:n])
			p.relayed[src].Add(int64(w))
			p.metrics.BytesSent(int64(w))
			if werr != nil {
				p.teardown(ncerr.Wrap("write", p.addrs[src.other()], werr))
				return
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				rerr = fmt.Errorf("%s closed: %w", src, io.EOF)
			}
			p.teardown(ncerr.Wrap("read", p.addrs[src], rerr))
			return
		}
	}
}

// Stop closes both sides.  It is idempotent and safe to call
// concurrently with a failing pump.
func (p *Proxy) Stop() {
	p.mu.Lock()
	p.stopped = true
	started := p.started
	p.mu.Unlock()
	if !started {
		p.finish(ncerr.ErrClosed)
		return
	}
	p.teardown(ncerr.ErrClosed)
}

func (p *Proxy) teardown(cause error) {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		conns := p.conns
		p.cause = cause
		p.mu.Unlock()
		closeAll(conns)

		stats := p.Stats()
		switch ncerr.Classify(cause) {
		case ncerr.KindStopped:
			p.logger.Verbose("proxy stopped (%s)", stats)
		default:
			if util.IsClosed(cause) {
				p.logger.Verbose("proxy closed: %v (%s)", cause, stats)
			} else {
				p.logger.Warn("proxy torn down: %v (%s)", cause, stats)
			}
		}
		close(p.done)
	})
}

// finish ends a proxy that never started.
func (p *Proxy) finish(cause error) {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.cause = cause
		p.mu.Unlock()
		close(p.done)
	})
}

// Wait blocks until the proxy has ended and returns why.
func (p *Proxy) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cause
}

// Done is closed when the proxy ends.
func (p *Proxy) Done() <-chan struct{} { return p.done }

// Started reports whether both connects succeeded.
func (p *Proxy) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Stats returns the bytes relayed in each direction.
func (p *Proxy) Stats() Stats {
	return Stats{
		ClientToServer: p.relayed[ClientSide].Load(),
		ServerToClient: p.relayed[ServerSide].Load(),
	}
}

func closeAll(conns [2]net.Conn) {
	for _, c := range conns {
		if c != nil {
			c.Close() //nolint:errcheck
		}
	}
}
