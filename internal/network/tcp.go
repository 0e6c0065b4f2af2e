package network

import (
	"context"
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// TCPTransport is the base reliable-stream transport. Nagle's algorithm is
// disabled on every connection.
type TCPTransport struct{}

// NewTCPTransport returns the TCP base transport.
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

// Dial connects to a resolved /ipN/.../tcp/... multiaddr.
func (t *TCPTransport) Dial(ctx context.Context, raddr ma.Multiaddr) (net.Conn, error) {
	network, address, err := manet.DialArgs(raddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDial, raddr, err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDial, raddr, err)
	}

	setNoDelay(conn)
	return conn, nil
}

// Listen binds a TCP listener on the given multiaddr.
func (t *TCPTransport) Listen(laddr ma.Multiaddr) (Listener, error) {
	network, address, err := manet.DialArgs(laddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrListen, laddr, err)
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrListen, laddr, err)
	}

	return &tcpListener{ln: ln}, nil
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept() (net.Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	setNoDelay(conn)
	return conn, nil
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}

func (l *tcpListener) Multiaddr() ma.Multiaddr {
	addr, err := manet.FromNetAddr(l.ln.Addr())
	if err != nil {
		return nil
	}
	return addr
}

func setNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
}
