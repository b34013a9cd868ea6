package client

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	ncerr "rollcall/internal/errors"
	"rollcall/internal/frame"
	"rollcall/internal/metrics"
	"rollcall/internal/retry"
	"rollcall/internal/transport"
	"rollcall/util"
)

// Runner connects one client per name to the same server, starting
// them Stagger apart, and drives each until ctx is done or its
// connection ends.
type Runner struct {
	Dialer transport.Dialer
	Addr   string
	Names  []string

	Stagger    time.Duration
	PingWindow time.Duration

	// Reconnect, when set, re-dials a client whose connection ended.
	Reconnect *retry.Backoff

	MaxLineLength int
	Logger        *util.Logger
	Metrics       *metrics.Collector

	// Delay overrides the ping delay source.
	Delay func() time.Duration
}

// Run blocks until every client has finished.  It returns the joined
// errors of clients that ended for a reason other than ctx.
func (r *Runner) Run(ctx context.Context) error {
	delay := r.Delay
	if delay == nil {
		window := r.PingWindow
		if window <= 0 {
			window = DefaultPingWindow
		}
		delay = UniformDelay(window)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i, name := range r.Names {
		if i > 0 && r.Stagger > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.Stagger):
			}
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := r.runClient(ctx, name, delay); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (r *Runner) runClient(ctx context.Context, name string, delay func() time.Duration) error {
	log := r.Logger.With(name)
	if r.Reconnect == nil {
		return r.session(ctx, name, log, delay)
	}
	return r.Reconnect.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			r.Metrics.Reconnect()
			log.Verbose("reconnecting (attempt %d)", attempt)
		}
		err := r.session(ctx, name, log, delay)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		log.Warn("%v", err)
		return err
	})
}

// session runs one connection for name.  It returns nil when ctx ends
// it and the teardown cause otherwise.
func (r *Runner) session(ctx context.Context, name string, log *util.Logger, delay func() time.Duration) error {
	conn, err := r.Dialer.Dial(ctx, "tcp", r.Addr)
	if err != nil {
		return ncerr.Wrap("dial", r.Addr, err)
	}
	defer conn.Close()
	r.Metrics.ConnectionOpened()

	done := make(chan struct{})
	defer close(done)
	lines, readErr := r.readLines(conn, done)

	m := NewMachine(name, delay)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	act, err := m.Advance(Connected())
	for {
		if err != nil {
			r.Metrics.ConnectionClosed(err)
			return err
		}
		if err := r.apply(conn, log, m, act, timer); err != nil {
			m.Advance(Failure(err)) //nolint:errcheck
			r.Metrics.ConnectionClosed(err)
			return err
		}

		select {
		case <-ctx.Done():
			r.Metrics.ConnectionClosed(ncerr.ErrClosed)
			return nil
		case line := <-lines:
			prev := m.State()
			act, err = m.Advance(Reply(line))
			if err == nil && prev == StateAwaitingLogin && m.State() == StateLoggedIn {
				log.Info("logged in")
			}
		case rerr := <-readErr:
			if !ncerr.Is(rerr, ncerr.ErrMalformedFrame) {
				rerr = ncerr.Wrap("read", r.Addr, rerr)
			}
			act, err = m.Advance(Failure(rerr))
		case <-timer.C:
			act, err = m.Advance(PingDue())
		}
	}
}

func (r *Runner) apply(w io.Writer, log *util.Logger, m *Machine, act Action, timer *time.Timer) error {
	if act.Warning != nil {
		log.Warn("unexpected reply: %v", act.Warning)
	}
	if act.Names != nil {
		log.Info("client list: %s", strings.Join(act.Names, " "))
	}
	if act.Send != "" {
		n, err := io.WriteString(w, act.Send)
		r.Metrics.BytesSent(int64(n))
		if err != nil {
			return ncerr.Wrap("write", r.Addr, err)
		}
	}
	if act.Schedule {
		log.Info("postpone ping %d ms", act.Delay.Milliseconds())
		rearm(timer, act.Delay)
	}
	return nil
}

// rearm resets timer to d, discarding a tick that fired but was not
// received so that a stale expiry cannot trigger an early ping.
func rearm(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}

// readLines pumps framed lines from conn until a read fails or done is
// closed.  Exactly one error is delivered on the second channel.
func (r *Runner) readLines(conn net.Conn, done <-chan struct{}) (<-chan string, <-chan error) {
	max := r.MaxLineLength
	if max <= 0 {
		max = frame.MaxLineLength
	}
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		rd := frame.NewReader(conn, max)
		for {
			line, err := rd.ReadLine()
			if err != nil {
				errc <- err
				return
			}
			r.Metrics.BytesReceived(int64(len(line) + 1))
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
	}()
	return lines, errc
}
