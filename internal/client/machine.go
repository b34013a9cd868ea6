// Package client implements the client side of the rollcall protocol.
//
// Machine is the pure state machine: it consumes events (connected,
// a reply line, the ping timer firing) and returns the Action to take.
// Runner drives one Machine per configured name over real connections.
package client

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	ncerr "rollcall/internal/errors"
	"rollcall/internal/protocol"
)

// State is the client's position in the protocol.
type State int

const (
	StateConnecting State = iota
	StateAwaitingLogin
	StateLoggedIn
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
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind identifies a client-side event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventReply
	EventPingDue
	EventFailure
)

// Event is one input to the Machine.
type Event struct {
	Kind EventKind
	Line string
	Err  error
}

// Connected reports that the transport is up.
func Connected() Event { return Event{Kind: EventConnected} }

// Reply delivers one line received from the server.
func Reply(line string) Event { return Event{Kind: EventReply, Line: line} }

// PingDue reports that the scheduled ping delay has elapsed.
func PingDue() Event { return Event{Kind: EventPingDue} }

// Failure reports a transport error or malformed frame.
func Failure(err error) Event { return Event{Kind: EventFailure, Err: err} }

// Action tells the driver what to do after an event.
type Action struct {
	// Send is a line to write, including its newline.
	Send string
	// Schedule arms the ping timer to fire after Delay.
	Schedule bool
	Delay    time.Duration
	// Names is the roster carried by a clients reply.
	Names []string
	// Warning is a non-fatal protocol violation to surface.
	Warning error
}

// Machine is the client state machine.  It performs no I/O.
type Machine struct {
	name  string
	delay func() time.Duration
	state State
}

// NewMachine returns a Machine that logs in as name and draws ping
// delays from delay.  A nil delay uses UniformDelay(DefaultPingWindow).
func NewMachine(name string, delay func() time.Duration) *Machine {
	if delay == nil {
		delay = UniformDelay(DefaultPingWindow)
	}
	return &Machine{name: name, delay: delay}
}

// DefaultPingWindow is the exclusive upper bound of the ping delay.
// It deliberately exceeds the server's 5 s liveness timeout so that
// some clients get evicted.
const DefaultPingWindow = 7 * time.Second

// UniformDelay returns a source of delays drawn uniformly from
// [0, window) at millisecond granularity.  It is safe for concurrent
// use.
func UniformDelay(window time.Duration) func() time.Duration {
	var mu sync.Mutex
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	ms := window.Milliseconds()
	return func() time.Duration {
		if ms <= 0 {
			return 0
		}
		mu.Lock()
		defer mu.Unlock()
		return time.Duration(rnd.Int63n(ms)) * time.Millisecond
	}
}

// Name returns the login name.
func (m *Machine) Name() string { return m.name }

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Advance applies ev.  A non-nil error is fatal and leaves the Machine
// Closed; Closed absorbs every further event with ErrClosed.
func (m *Machine) Advance(ev Event) (Action, error) {
	if m.state == StateClosed {
		return Action{}, ncerr.ErrClosed
	}
	if ev.Kind == EventFailure {
		m.state = StateClosed
		if ev.Err == nil {
			return Action{}, ncerr.ErrNotConnected
		}
		return Action{}, ev.Err
	}

	switch m.state {
	case StateConnecting:
		if ev.Kind != EventConnected {
			return m.fail(ev)
		}
		m.state = StateAwaitingLogin
		return Action{Send: protocol.LoginRequest(m.name)}, nil

	case StateAwaitingLogin:
		if ev.Kind != EventReply || protocol.ParseReply(ev.Line).Kind != protocol.ReplyLoginOK {
			return m.fail(ev)
		}
		m.state = StateLoggedIn
		return Action{Send: protocol.AskClientsRequest}, nil

	case StateLoggedIn:
		if ev.Kind == EventPingDue {
			return Action{Send: protocol.PingRequest}, nil
		}
		if ev.Kind != EventReply {
			return m.fail(ev)
		}
		return m.loggedIn(ev.Line), nil
	}
	return m.fail(ev)
}

func (m *Machine) loggedIn(line string) Action {
	r := protocol.ParseReply(line)
	switch {
	case r.Kind == protocol.ReplyPing && r.Changed:
		return Action{Send: protocol.AskClientsRequest}
	case r.Kind == protocol.ReplyPing && r.Answer == protocol.AnswerOK:
		return m.schedule(Action{})
	case r.Kind == protocol.ReplyClientList:
		return m.schedule(Action{Names: r.Names})
	default:
		// The server said something this client does not understand.
		// Keep the session alive so liveness is still exercised.
		return m.schedule(Action{
			Warning: ncerr.Violation(m.state.String(), line, ncerr.ErrProtocolViolation),
		})
	}
}

func (m *Machine) schedule(a Action) Action {
	a.Schedule = true
	a.Delay = m.delay()
	return a
}

func (m *Machine) fail(ev Event) (Action, error) {
	prev := m.state
	m.state = StateClosed
	return Action{}, ncerr.Violation(prev.String(), ev.Line, ncerr.ErrProtocolViolation)
}
