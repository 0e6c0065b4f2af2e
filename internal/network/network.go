// Package network builds the peer-to-peer transport of the swap node: a TCP
// base with optional Tor routing, DNS resolution and WebSocket framing,
// upgraded with Noise authentication and stream multiplexing, plus the framed
// codec for the initial amount negotiation.
//
// Transports are small adapters sharing the Dial/Listen capability and are
// composed by explicit wrapping; see Build in transport.go for the full chain.
package network

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Transport is a raw stream transport addressed by multiaddrs. Dial and
// Listen operate below the authentication and multiplexing upgrades.
type Transport interface {
	Dial(ctx context.Context, raddr ma.Multiaddr) (net.Conn, error)
	Listen(laddr ma.Multiaddr) (Listener, error)
}

// Listener accepts raw inbound connections.
type Listener interface {
	Accept() (net.Conn, error)
	Close() error
	// Multiaddr is the address the listener is bound to.
	Multiaddr() ma.Multiaddr
}

// Stream is one logical bidirectional stream of a multiplexed connection.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	SetDeadline(t time.Time) error
}

// MuxedConn multiplexes independent streams over one authenticated
// connection.
type MuxedConn interface {
	OpenStream(ctx context.Context) (Stream, error)
	AcceptStream() (Stream, error)
	Close() error
}

// Conn is a fully upgraded connection: authenticated, with the remote's
// verified identity, and multiplexed.
type Conn struct {
	Peer  peer.ID
	Muxer MuxedConn
}

// Close closes the connection and all its streams.
func (c *Conn) Close() error {
	return c.Muxer.Close()
}

// SwapTransport is the polymorphic transport produced by Build. Every
// successful dial or accept yields an authenticated, multiplexed connection.
type SwapTransport interface {
	Dial(ctx context.Context, raddr ma.Multiaddr) (*Conn, error)
	Listen(laddr ma.Multiaddr) (ConnListener, error)
}

// ConnListener accepts upgraded inbound connections.
type ConnListener interface {
	Accept() (*Conn, error)
	Close() error
	Multiaddr() ma.Multiaddr
}
