// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a rollcall server, client runner
// or proxy.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	ncerr "rollcall/internal/errors"
)

// Collector tracks runtime metrics.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	logins            atomic.Int64
	rosterSize        atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	reconnects        atomic.Int64

	// teardown causes, indexed by errors.Kind
	closedBy [ncerr.KindTimeout + 1]atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastSweep    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active counter and records why the
// connection ended.
func (c *Collector) ConnectionClosed(cause error) {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
	kind := ncerr.Classify(cause)
	if int(kind) < len(c.closedBy) {
		c.closedBy[kind].Add(1)
	}
	switch kind {
	case ncerr.KindTransport, ncerr.KindMalformed, ncerr.KindProtocol:
		c.RecordError(cause.Error())
	}
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ClosedBy returns how many connections ended with the given kind.
func (c *Collector) ClosedBy(kind ncerr.Kind) int64 {
	if c == nil || int(kind) >= len(c.closedBy) {
		return 0
	}
	return c.closedBy[kind].Load()
}

// ── Roster metrics ───────────────────────────────────────────────────

// Login records a successful login and the roster size after it.
func (c *Collector) Login(rosterSize int) {
	if c == nil {
		return
	}
	c.logins.Add(1)
	c.rosterSize.Store(int64(rosterSize))
}

// RosterSize updates the roster size gauge.
func (c *Collector) RosterSize(n int) {
	if c == nil {
		return
	}
	c.rosterSize.Store(int64(n))
}

// Logins returns the lifetime login count.
func (c *Collector) Logins() int64 {
	if c == nil {
		return 0
	}
	return c.logins.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Reconnects (client runner / proxy supervisor) ────────────────────

// Reconnect records a re-established connection.
func (c *Collector) Reconnect() {
	if c == nil {
		return
	}
	c.reconnects.Add(1)
}

// Reconnects returns the total reconnection count.
func (c *Collector) Reconnects() int64 {
	if c == nil {
		return 0
	}
	return c.reconnects.Load()
}

// ── Errors ───────────────────────────────────────────────────────────

// RecordError stores the most recent error message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ── Liveness ─────────────────────────────────────────────────────────

// RecordSweep updates the last liveness sweep timestamp.
func (c *Collector) RecordSweep() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lastSweep = time.Now()
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime             string `json:"uptime"`
	ConnectionsActive  int64  `json:"connections_active"`
	ConnectionsTotal   int64  `json:"connections_total"`
	Logins             int64  `json:"logins"`
	RosterSize         int64  `json:"roster_size"`
	Evictions          int64  `json:"evictions"`
	ProtocolViolations int64  `json:"protocol_violations"`
	MalformedFrames    int64  `json:"malformed_frames"`
	TransportErrors    int64  `json:"transport_errors"`
	BytesIn            int64  `json:"bytes_in"`
	BytesOut           int64  `json:"bytes_out"`
	Reconnects         int64  `json:"reconnects"`
	LastSweep          string `json:"last_sweep,omitempty"`
	LastError          string `json:"last_error,omitempty"`
	LastErrorMessage   string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:             time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive:  c.connectionsActive.Load(),
		ConnectionsTotal:   c.connectionsTotal.Load(),
		Logins:             c.logins.Load(),
		RosterSize:         c.rosterSize.Load(),
		Evictions:          c.closedBy[ncerr.KindTimeout].Load(),
		ProtocolViolations: c.closedBy[ncerr.KindProtocol].Load(),
		MalformedFrames:    c.closedBy[ncerr.KindMalformed].Load(),
		TransportErrors:    c.closedBy[ncerr.KindTransport].Load(),
		BytesIn:            c.bytesIn.Load(),
		BytesOut:           c.bytesOut.Load(),
		Reconnects:         c.reconnects.Load(),
	}
	if !c.lastSweep.IsZero() {
		s.LastSweep = c.lastSweep.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

// Summary renders a one-line human readable digest.
func (c *Collector) Summary() string {
	s := c.Snapshot()
	return fmt.Sprintf("up %s, %s connections (%d active), %s logins, %d evicted, in %s, out %s",
		s.Uptime,
		humanize.Comma(s.ConnectionsTotal), s.ConnectionsActive,
		humanize.Comma(s.Logins), s.Evictions,
		humanize.Bytes(uint64(s.BytesIn)), humanize.Bytes(uint64(s.BytesOut)))
}
