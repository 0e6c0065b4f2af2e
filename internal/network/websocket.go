package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// WSTransport speaks WebSocket framing over the inner transport. Addresses
// must end in a /ws segment; the underlying TCP (or DNS) part is dialed
// through the inner transport so Tor routing and name resolution still apply.
type WSTransport struct {
	inner Transport
}

// NewWSTransport returns a WebSocket transport over the inner one.
func NewWSTransport(inner Transport) *WSTransport {
	return &WSTransport{inner: inner}
}

// Dial performs the WebSocket client handshake over an inner-transport
// connection.
func (t *WSTransport) Dial(ctx context.Context, raddr ma.Multiaddr) (net.Conn, error) {
	inner, url, err := splitWebSocketAddr(raddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDial, err)
	}

	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return t.inner.Dial(ctx, inner)
		},
	}

	wsc, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: websocket handshake with %s: %v", ErrDial, url, err)
	}
	return newWSConn(wsc), nil
}

// Listen binds the inner transport and upgrades inbound HTTP connections to
// WebSocket.
func (t *WSTransport) Listen(laddr ma.Multiaddr) (Listener, error) {
	inner, _, err := splitWebSocketAddr(laddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListen, err)
	}

	raw, err := t.inner.Listen(inner)
	if err != nil {
		return nil, err
	}

	l := &wsListener{
		raw:      raw,
		incoming: make(chan net.Conn, 8),
		done:     make(chan struct{}),
	}
	l.server = &http.Server{Handler: http.HandlerFunc(l.upgrade)}
	go l.server.Serve(&netListener{inner: raw})
	return l, nil
}

// splitWebSocketAddr strips the trailing /ws segment and derives the HTTP
// endpoint URL for the handshake.
func splitWebSocketAddr(addr ma.Multiaddr) (ma.Multiaddr, string, error) {
	rest, last := ma.SplitLast(addr)
	if last == nil || last.Protocol().Code != ma.P_WS {
		return nil, "", fmt.Errorf("%s is not a websocket multiaddr", addr)
	}

	var host, port string
	ma.ForEach(rest, func(c ma.Component) bool {
		switch c.Protocol().Code {
		case ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6:
			host = c.Value()
		case ma.P_TCP:
			port = c.Value()
		}
		return true
	})
	if host == "" || port == "" {
		return nil, "", fmt.Errorf("%s has no host/port for websocket", addr)
	}

	return rest, "ws://" + net.JoinHostPort(host, port) + "/", nil
}

type wsListener struct {
	raw      Listener
	server   *http.Server
	incoming chan net.Conn

	closeOnce sync.Once
	done      chan struct{}
}

var wsUpgrader = websocket.Upgrader{
	// The peer is authenticated by the Noise upgrade, not by HTTP origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (l *wsListener) upgrade(w http.ResponseWriter, r *http.Request) {
	wsc, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case l.incoming <- newWSConn(wsc):
	case <-l.done:
		wsc.Close()
	}
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.incoming:
		return conn, nil
	case <-l.done:
		return nil, fmt.Errorf("%w: listener closed", ErrListen)
	}
}

func (l *wsListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	l.server.Close()
	return l.raw.Close()
}

func (l *wsListener) Multiaddr() ma.Multiaddr {
	base := l.raw.Multiaddr()
	if base == nil {
		return nil
	}
	ws, _ := ma.NewMultiaddr("/ws")
	return base.Encapsulate(ws)
}

// netListener adapts a Listener to net.Listener for http.Serve.
type netListener struct {
	inner Listener
}

func (l *netListener) Accept() (net.Conn, error) { return l.inner.Accept() }
func (l *netListener) Close() error              { return l.inner.Close() }

func (l *netListener) Addr() net.Addr {
	if maddr := l.inner.Multiaddr(); maddr != nil {
		if addr, err := manet.ToNetAddr(maddr); err == nil {
			return addr
		}
	}
	return &net.TCPAddr{}
}

// wsConn presents a WebSocket connection as a net.Conn carrying a binary
// byte stream: each Write is one binary message, Read drains messages in
// order.
type wsConn struct {
	*websocket.Conn

	readMu  sync.Mutex
	writeMu sync.Mutex
	reader  io.Reader
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{Conn: c}
}

func (c *wsConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.reader == nil {
			_, r, err := c.Conn.NextReader()
			if err != nil {
				return 0, err
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			// Message exhausted, move on to the next one.
			c.reader = nil
			err = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.Conn.SetWriteDeadline(t)
}
