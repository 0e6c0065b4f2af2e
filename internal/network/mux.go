package network

import (
	"context"
	"fmt"
	"net"

	mplex "github.com/libp2p/go-mplex"
	yamux "github.com/libp2p/go-yamux/v4"
)

// Stream multiplexer protocol IDs in negotiation preference order.
const (
	yamuxProtocol = "/yamux/1.0.0"
	mplexProtocol = "/mplex/6.7.0"
)

var muxProtocols = []string{yamuxProtocol, mplexProtocol}

// newMuxedConn wraps a secured connection with the negotiated stream
// multiplexer.
func newMuxedConn(conn net.Conn, protocol string, initiator bool) (MuxedConn, error) {
	switch protocol {
	case yamuxProtocol:
		var (
			sess *yamux.Session
			err  error
		)
		if initiator {
			sess, err = yamux.Client(conn, yamux.DefaultConfig(), nil)
		} else {
			sess, err = yamux.Server(conn, yamux.DefaultConfig(), nil)
		}
		if err != nil {
			return nil, fmt.Errorf("start yamux session: %w", err)
		}
		return &yamuxConn{sess: sess}, nil

	case mplexProtocol:
		sess, err := mplex.NewMultiplex(conn, initiator, nil)
		if err != nil {
			return nil, fmt.Errorf("start mplex session: %w", err)
		}
		return &mplexConn{sess: sess}, nil

	default:
		return nil, fmt.Errorf("unknown muxer protocol %q", protocol)
	}
}

type yamuxConn struct {
	sess *yamux.Session
}

func (c *yamuxConn) OpenStream(ctx context.Context) (Stream, error) {
	return c.sess.OpenStream(ctx)
}

func (c *yamuxConn) AcceptStream() (Stream, error) {
	return c.sess.AcceptStream()
}

func (c *yamuxConn) Close() error {
	return c.sess.Close()
}

type mplexConn struct {
	sess *mplex.Multiplex
}

func (c *mplexConn) OpenStream(ctx context.Context) (Stream, error) {
	return c.sess.NewStream(ctx)
}

func (c *mplexConn) AcceptStream() (Stream, error) {
	s, err := c.sess.Accept()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (c *mplexConn) Close() error {
	return c.sess.Close()
}
