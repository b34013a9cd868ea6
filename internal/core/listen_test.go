package core

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"rollcall/internal/frame"
	"rollcall/internal/metrics"
	"rollcall/internal/transport"
	"rollcall/util"
)

// ── Helpers ──────────────────────────────────────────────────────────

type addrs struct{ tcp, ws net.Addr }

// startServe runs a ServeMode and returns its bound addresses.
func startServe(t *testing.T, mode *ServeMode) (addrs, context.CancelFunc, <-chan error) {
	t.Helper()
	if mode.Address == "" {
		mode.Address = "127.0.0.1:0"
	}
	if mode.LivenessTimeout == 0 {
		mode.LivenessTimeout = 5 * time.Second
		mode.SweepInterval = time.Second
	}
	if mode.Logger == nil {
		mode.Logger = util.NewLogger(0)
		mode.Logger.SetOutput(io.Discard)
	}
	ready := make(chan addrs, 1)
	mode.OnReady = func(tcp, ws net.Addr) { ready <- addrs{tcp, ws} }

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- mode.Run(ctx) }()

	select {
	case a := <-ready:
		t.Cleanup(cancel)
		return a, cancel, errc
	case err := <-errc:
		cancel()
		t.Fatalf("Run: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("server did not start")
	}
	return addrs{}, nil, nil
}

type peer struct {
	conn net.Conn
	r    *frame.Reader
}

func dialClient(t *testing.T, d transport.Dialer, addr string) *peer {
	t.Helper()
	conn, err := d.Dial(context.Background(), "tcp", addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &peer{conn: conn, r: frame.NewReader(conn, frame.MaxLineLength)}
}

func (c *peer) roundTrip(t *testing.T, line string) string {
	t.Helper()
	c.conn.SetDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
	got, err := c.r.ReadLine()
	if err != nil {
		t.Fatalf("read after %q: %v", line, err)
	}
	return got
}

func tcpDialer() transport.Dialer { return &transport.TCPDialer{Timeout: time.Second} }

// ── Tests ────────────────────────────────────────────────────────────

// TestServeMode_TCPAndWebSocket verifies clients on both listeners
// share one roster.
func TestServeMode_TCPAndWebSocket(t *testing.T) {
	m := metrics.New()
	a, _, _ := startServe(t, &ServeMode{WSAddress: "127.0.0.1:0", Metrics: m})
	if a.ws == nil {
		t.Fatal("expected a WebSocket listener")
	}

	john := dialClient(t, tcpDialer(), a.tcp.String())
	if got := john.roundTrip(t, "login John"); got != "login ok" {
		t.Fatalf("tcp login = %q", got)
	}
	lucy := dialClient(t, &transport.WSDialer{Timeout: time.Second}, a.ws.String())
	if got := lucy.roundTrip(t, "login Lucy"); got != "login ok" {
		t.Fatalf("ws login = %q", got)
	}

	if got := john.roundTrip(t, "ping"); got != "ping client_list_changed" {
		t.Errorf("john ping = %q", got)
	}
	if got := lucy.roundTrip(t, "ask_clients"); got != "clients John Lucy " {
		t.Errorf("lucy ask_clients = %q", got)
	}
	if m.Logins() != 2 {
		t.Errorf("logins = %d, want 2", m.Logins())
	}
}

// TestServeMode_CountsEachLoginOnce verifies a login and its logout
// move the login counter and the roster gauge exactly once.
func TestServeMode_CountsEachLoginOnce(t *testing.T) {
	m := metrics.New()
	a, _, _ := startServe(t, &ServeMode{Metrics: m})

	c := dialClient(t, tcpDialer(), a.tcp.String())
	if got := c.roundTrip(t, "login Abby"); got != "login ok" {
		t.Fatalf("login = %q", got)
	}
	if m.Logins() != 1 {
		t.Errorf("logins = %d, want 1", m.Logins())
	}
	if s := m.Snapshot(); s.RosterSize != 1 {
		t.Errorf("roster size = %d, want 1", s.RosterSize)
	}

	c.conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for m.ActiveConnections() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session was not torn down")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s := m.Snapshot(); s.RosterSize != 0 || s.Logins != 1 {
		t.Errorf("after logout: roster size = %d, logins = %d; want 0 and 1", s.RosterSize, s.Logins)
	}
}

// TestServeMode_EvictsSilent verifies the liveness monitor is wired:
// a client that never pings is disconnected.
func TestServeMode_EvictsSilent(t *testing.T) {
	m := metrics.New()
	a, _, _ := startServe(t, &ServeMode{
		LivenessTimeout: 200 * time.Millisecond,
		SweepInterval:   20 * time.Millisecond,
		Metrics:         m,
	})

	c := dialClient(t, tcpDialer(), a.tcp.String())
	if got := c.roundTrip(t, "login Abby"); got != "login ok" {
		t.Fatalf("login = %q", got)
	}
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if line, err := c.r.ReadLine(); err == nil {
		t.Fatalf("expected eviction, got %q", line)
	}
	if m.Snapshot().Evictions != 1 {
		t.Errorf("evictions = %d, want 1", m.Snapshot().Evictions)
	}
}

// TestServeMode_Shutdown verifies cancellation closes open sessions
// and Run returns nil.
func TestServeMode_Shutdown(t *testing.T) {
	a, cancel, errc := startServe(t, &ServeMode{GracePeriod: time.Second})

	c := dialClient(t, tcpDialer(), a.tcp.String())
	c.roundTrip(t, "login Frank")

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
	c.conn.SetReadDeadline(time.Now().Add(time.Second)) //nolint:errcheck
	if _, err := c.r.ReadLine(); err == nil {
		t.Error("session should be closed after shutdown")
	}
	if _, err := net.DialTimeout("tcp", a.tcp.String(), 200*time.Millisecond); err == nil {
		t.Error("listener should be closed after shutdown")
	}
}

// TestServeMode_BindFailure verifies a busy port is reported.
func TestServeMode_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	mode := &ServeMode{Address: ln.Addr().String(), LivenessTimeout: time.Second, SweepInterval: 100 * time.Millisecond}
	err = mode.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "listen") {
		t.Errorf("err = %v, want a listen failure", err)
	}
}
