package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	ncerr "rollcall/internal/errors"
)

// DefaultWSPath is where the WebSocket listener accepts upgrades.
const DefaultWSPath = "/rollcall"

// ── Listener ─────────────────────────────────────────────────────────

// WSListener accepts WebSocket upgrades and yields each as a net.Conn
// carrying the line protocol: every inbound text message becomes one
// line, and every written line goes out as one text message.  It
// implements net.Listener so the same accept loop serves TCP and
// WebSocket peers.
type WSListener struct {
	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	maxLine  int64

	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// ListenWS starts an HTTP server on addr that upgrades requests for
// path.  Messages longer than maxLine bytes are rejected as malformed.
func ListenWS(addr, path string, maxLine int) (*WSListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if path == "" {
		path = DefaultWSPath
	}

	l := &WSListener{
		ln: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		maxLine: int64(maxLine),
		conns:   make(chan net.Conn),
		done:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.upgrade)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go l.srv.Serve(ln) //nolint:errcheck
	return l, nil
}

func (l *WSListener) upgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		return
	}
	if l.maxLine > 0 {
		ws.SetReadLimit(l.maxLine)
	}
	conn := NewWSConn(ws)
	select {
	case l.conns <- conn:
	case <-l.done:
		conn.Close()
	}
}

// Accept waits for the next upgraded connection.
func (l *WSListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close stops accepting.  Connections already handed out stay open.
func (l *WSListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

// Addr returns the listening address.
func (l *WSListener) Addr() net.Addr { return l.ln.Addr() }

// ── Dialer ───────────────────────────────────────────────────────────

// WSDialer connects to a WSListener.  When Through is set the
// underlying TCP connection is opened with it, so a WebSocket client
// can ride an SSH tunnel.
type WSDialer struct {
	Path    string
	Timeout time.Duration
	Through Dialer
}

// Dial opens ws://address/path.  network is ignored.
func (d *WSDialer) Dial(ctx context.Context, _, address string) (net.Conn, error) {
	path := d.Path
	if path == "" {
		path = DefaultWSPath
	}
	dialer := websocket.Dialer{HandshakeTimeout: d.Timeout}
	if d.Through != nil {
		dialer.NetDialContext = d.Through.Dial
	}
	ws, resp, err := dialer.DialContext(ctx, "ws://"+address+path, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return NewWSConn(ws), nil
}

// Close releases the underlying dialer, if any.
func (d *WSDialer) Close() error {
	if d.Through != nil {
		return d.Through.Close()
	}
	return nil
}

// ── Conn adapter ─────────────────────────────────────────────────────

// WSConn adapts a *websocket.Conn to a newline-delimited net.Conn.
type WSConn struct {
	ws *websocket.Conn

	rmu     sync.Mutex
	pending []byte

	wmu  sync.Mutex
	wbuf []byte
}

// NewWSConn wraps ws.
func NewWSConn(ws *websocket.Conn) *WSConn { return &WSConn{ws: ws} }

// Read returns bytes of the current message followed by a newline,
// fetching the next message once the current one is consumed.
func (c *WSConn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for len(c.pending) == 0 {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return 0, translateWSError(err)
		}
		if len(msg) == 0 || msg[len(msg)-1] != '\n' {
			msg = append(msg, '\n')
		}
		c.pending = msg
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write buffers p and sends every complete line as one text message.
func (c *WSConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.wbuf = append(c.wbuf, p...)
	for {
		i := bytes.IndexByte(c.wbuf, '\n')
		if i < 0 {
			return len(p), nil
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, c.wbuf[:i]); err != nil {
			return 0, err
		}
		c.wbuf = append(c.wbuf[:0], c.wbuf[i+1:]...)
	}
}

// Close closes the underlying connection without a close handshake,
// so it never blocks on the peer.
func (c *WSConn) Close() error { return c.ws.Close() }

func (c *WSConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *WSConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *WSConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *WSConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *WSConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

func translateWSError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		return fmt.Errorf("%w: %v", ncerr.ErrMalformedFrame, err)
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	return err
}
