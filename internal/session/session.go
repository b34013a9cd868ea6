// Package session implements the server side of one rollcall
// connection.
//
// A Session is an explicit state machine driven through Advance:
//
//	Connecting → AwaitingLogin → LoggedIn → Closing → Closed
//
// Serve owns the connection's single read loop, feeding each framed
// line to Advance and writing the reply before reading the next line,
// so replies leave in request order.  Any transport failure, malformed
// frame, protocol violation or liveness eviction ends in Stop, which
// runs its teardown exactly once no matter how many paths race to it.
package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	ncerr "rollcall/internal/errors"
	"rollcall/internal/frame"
	"rollcall/internal/liveness"
	"rollcall/internal/metrics"
	"rollcall/internal/protocol"
	"rollcall/internal/roster"
	"rollcall/util"
)

// State is a connection's position in the protocol.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingLogin
	StateLoggedIn
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingLogin:
		return "awaiting-login"
	case StateLoggedIn:
		return "logged-in"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventKind identifies what happened on the connection.
type EventKind int

const (
	EventConnected EventKind = iota
	EventLine
	EventMalformed
	EventTransportError
)

// Event is one input to the state machine.
type Event struct {
	Kind EventKind
	Line string
	Err  error
}

// Connected reports that the transport is up.
func Connected() Event { return Event{Kind: EventConnected} }

// Line delivers one framed line, without its newline.
func Line(s string) Event { return Event{Kind: EventLine, Line: s} }

// Malformed reports a framing failure.
func Malformed(err error) Event { return Event{Kind: EventMalformed, Err: err} }

// TransportError reports a read, write or connect failure.
func TransportError(err error) Event { return Event{Kind: EventTransportError, Err: err} }

// Options wires a Session to its collaborators.  Only Roster is
// required.
type Options struct {
	Roster  *roster.Roster
	Monitor *liveness.Monitor
	Logger  *util.Logger
	Metrics *metrics.Collector

	// Strict makes unknown commands after login fatal instead of
	// logged and ignored.
	Strict bool

	// MaxLineLength bounds one inbound line; 0 means frame.MaxLineLength.
	MaxLineLength int

	// Now replaces time.Now for activity stamps.
	Now func() time.Time
}

// Session is safe for concurrent use.  Advance is meant to be driven
// by one goroutine; Stop and MarkRosterChanged may be called from any.
type Session struct {
	id   string
	conn net.Conn
	opts Options
	log  *util.Logger

	mu       sync.Mutex
	state    State
	username string
	cause    error

	lastActivity atomic.Int64 // unix nanos
	changed      atomic.Bool

	stopOnce sync.Once
	done     chan struct{}
}

// New binds a Session to conn.  The session starts in Connecting.
func New(conn net.Conn, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = frame.MaxLineLength
	}
	id := uuid.NewString()
	s := &Session{
		id:    id,
		conn:  conn,
		opts:  opts,
		log:   opts.Logger.With(id[:8]),
		state: StateConnecting,
		done:  make(chan struct{}),
	}
	s.touch()
	opts.Metrics.ConnectionOpened()
	return s
}

// ID returns the connection's opaque identity.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Username returns the name bound at login, or "" before it.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// LastActivity returns when the last valid message was processed.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// MarkRosterChanged flags that the roster moved since this
// connection's last ping.  It never blocks.
func (s *Session) MarkRosterChanged() { s.changed.Store(true) }

// RosterChanged reports whether a roster change is pending.
func (s *Session) RosterChanged() bool { return s.changed.Load() }

// Done is closed once teardown has completed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the teardown cause once Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Session) touch() { s.lastActivity.Store(s.opts.Now().UnixNano()) }

// Advance applies ev and returns the reply to send, if any.  A non-nil
// error is fatal: the caller must Stop the session with it.  Once the
// session is Closing or Closed every event yields ErrClosed and no
// reply.
func (s *Session) Advance(ev Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosing || s.state == StateClosed {
		return "", ncerr.ErrClosed
	}

	switch ev.Kind {
	case EventMalformed:
		return "", orDefault(ev.Err, ncerr.ErrMalformedFrame)
	case EventTransportError:
		return "", orDefault(ev.Err, ncerr.ErrNotConnected)
	case EventConnected:
		if s.state != StateConnecting {
			return "", ncerr.Violation(s.state.String(), "", ncerr.ErrProtocolViolation)
		}
		s.state = StateAwaitingLogin
		s.touch()
		return "", nil
	}

	switch s.state {
	case StateAwaitingLogin:
		return s.awaitingLogin(ev.Line)
	case StateLoggedIn:
		return s.loggedIn(ev.Line)
	default:
		return "", ncerr.Violation(s.state.String(), ev.Line, ncerr.ErrProtocolViolation)
	}
}

func orDefault(err, fallback error) error {
	if err == nil {
		return fallback
	}
	return err
}

func (s *Session) awaitingLogin(line string) (string, error) {
	cmd := protocol.ParseCommand(line)
	if cmd.Kind != protocol.CommandLogin || !protocol.ValidUsername(cmd.Arg) {
		return "", ncerr.Violation(s.state.String(), line, ncerr.ErrProtocolViolation)
	}
	if err := s.opts.Roster.Register(s, cmd.Arg); err != nil {
		return "", ncerr.Violation(s.state.String(), line, err)
	}
	s.username = cmd.Arg
	s.state = StateLoggedIn
	s.touch()
	s.opts.Metrics.Login(s.opts.Roster.Len())
	s.log.Verbose("logged in as %s", cmd.Arg)
	return protocol.LoginOK, nil
}

func (s *Session) loggedIn(line string) (string, error) {
	cmd := protocol.ParseCommand(line)
	switch cmd.Kind {
	case protocol.CommandPing:
		s.touch()
		return protocol.PingReply(s.changed.Swap(false)), nil
	case protocol.CommandAskClients:
		s.touch()
		return protocol.ClientsReply(s.opts.Roster.Snapshot()), nil
	case protocol.CommandLogin:
		return "", ncerr.Violation(s.state.String(), line, ncerr.ErrDuplicateLogin)
	}

	if s.opts.Strict {
		return "", ncerr.Violation(s.state.String(), line, ncerr.ErrProtocolViolation)
	}
	s.log.Warn("%s: ignoring unknown command %q", s.username, line)
	return "", nil
}

// Stop tears the session down: it closes the connection, removes the
// session from the roster (marking every other member changed) and
// stops liveness tracking.  Only the first call does anything; concurrent
// calls block until that teardown has finished.
func (s *Session) Stop(cause error) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = StateClosing
		left := s.opts.Roster.Unregister(s)
		name := s.username
		s.mu.Unlock()

		s.conn.Close() //nolint:errcheck
		s.opts.Monitor.Untrack(s.id)
		if left {
			s.opts.Metrics.RosterSize(s.opts.Roster.Len())
		}
		s.opts.Metrics.ConnectionClosed(cause)
		s.logTeardown(prev, name, cause)

		s.mu.Lock()
		s.state = StateClosed
		s.cause = cause
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Session) logTeardown(prev State, name string, cause error) {
	who := name
	if who == "" {
		who = fmt.Sprintf("%s (%s)", s.conn.RemoteAddr(), prev)
	}
	switch ncerr.Classify(cause) {
	case ncerr.KindTimeout:
		s.log.Info("%s evicted: %v", who, cause)
	case ncerr.KindMalformed, ncerr.KindProtocol:
		s.log.Warn("%s dropped: %v", who, cause)
	case ncerr.KindTransport:
		s.log.Verbose("%s disconnected: %v", who, cause)
	default:
		s.log.Debug("%s closed", who)
	}
}

// Serve runs the connection until it is stopped, either by the peer,
// by a fatal event, by liveness eviction or by ctx.  It returns the
// teardown cause.
func (s *Session) Serve(ctx context.Context) error {
	if _, err := s.Advance(Connected()); err != nil {
		s.Stop(err)
		return s.Err()
	}
	s.opts.Monitor.Track(s)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop(fmt.Errorf("server shutting down: %w", ncerr.ErrClosed))
		case <-s.done:
		}
	}()

	remote := s.conn.RemoteAddr().String()
	r := frame.NewReader(s.conn, s.opts.MaxLineLength)
	for {
		line, err := r.ReadLine()
		if err != nil {
			s.Stop(s.readFailure(remote, err))
			break
		}
		s.opts.Metrics.BytesReceived(int64(len(line) + 1))

		reply, err := s.Advance(Line(line))
		if err != nil {
			s.Stop(err)
			break
		}
		if reply == "" {
			continue
		}
		n, err := io.WriteString(s.conn, reply)
		s.opts.Metrics.BytesSent(int64(n))
		if err != nil {
			s.Stop(ncerr.Wrap("write", remote, err))
			break
		}
	}

	<-s.done
	return s.Err()
}

func (s *Session) readFailure(remote string, err error) error {
	if ncerr.Is(err, ncerr.ErrMalformedFrame) {
		_, err = s.Advance(Malformed(err))
		return err
	}
	_, err = s.Advance(TransportError(ncerr.Wrap("read", remote, err)))
	return err
}
