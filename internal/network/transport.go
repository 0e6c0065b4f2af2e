package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	multistream "github.com/multiformats/go-multistream"

	"github.com/umbra-exchange/umbra/pkg/logging"
)

// noiseProtocol is the security protocol negotiated on every connection.
const noiseProtocol = "/noise"

// upgradeTimeout bounds the full connection upgrade, covering protocol
// negotiation, the Noise handshake and muxer selection.
const upgradeTimeout = 20 * time.Second

// Build assembles the swap transport: TCP at the bottom, onion addresses
// routed through the local Tor SOCKS5 proxy, DNS names resolved before
// dialing, WebSocket framing where an address asks for it, and every
// connection upgraded to an authenticated, multiplexed session keyed to the
// node identity. A zero torSocks5Port selects the stock proxy port.
func Build(identity crypto.PrivKey, torSocks5Port uint16) (SwapTransport, error) {
	if identity == nil {
		return nil, fmt.Errorf("%w: missing identity key", ErrBuild)
	}
	if torSocks5Port == 0 {
		torSocks5Port = DefaultSocks5Port
	}

	sec, err := newSecureChannel(identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}

	tcp := NewTCPTransport()
	tor := NewTorTransport(tcp, torSocks5Port)
	dns, err := NewDNSTransport(tor)
	if err != nil {
		return nil, err
	}
	ws := NewWSTransport(dns)

	return &swapTransport{
		plain: dns,
		ws:    ws,
		upg:   &upgrader{sec: sec, timeout: upgradeTimeout},
		log:   logging.GetDefault().Component("network"),
	}, nil
}

// swapTransport routes each address to the plain or WebSocket stack and
// upgrades the resulting raw connection.
type swapTransport struct {
	plain Transport
	ws    Transport
	upg   *upgrader
	log   *logging.Logger
}

func (t *swapTransport) Dial(ctx context.Context, raddr ma.Multiaddr) (*Conn, error) {
	raw, err := t.route(raddr).Dial(ctx, raddr)
	if err != nil {
		if errors.Is(err, ErrDial) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDial, err)
	}

	conn, err := t.upg.upgrade(raw, true)
	if err != nil {
		raw.Close()
		return nil, err
	}
	t.log.Debug("dialed peer", "addr", raddr, "peer", conn.Peer)
	return conn, nil
}

func (t *swapTransport) Listen(laddr ma.Multiaddr) (ConnListener, error) {
	raw, err := t.route(laddr).Listen(laddr)
	if err != nil {
		if errors.Is(err, ErrListen) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrListen, err)
	}
	t.log.Info("listening", "addr", raw.Multiaddr())
	return &connListener{raw: raw, upg: t.upg}, nil
}

// route picks the WebSocket stack for addresses carrying a /ws segment.
func (t *swapTransport) route(addr ma.Multiaddr) Transport {
	isWS := false
	ma.ForEach(addr, func(c ma.Component) bool {
		if c.Protocol().Code == ma.P_WS {
			isWS = true
			return false
		}
		return true
	})
	if isWS {
		return t.ws
	}
	return t.plain
}

// upgrader turns a raw connection into an authenticated, multiplexed Conn.
type upgrader struct {
	sec *secureChannel
	// timeout bounds the whole upgrade of one connection.
	timeout time.Duration
}

func (u *upgrader) upgrade(raw net.Conn, initiator bool) (*Conn, error) {
	if err := raw.SetDeadline(time.Now().Add(u.timeout)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}

	secured, remotePeer, err := u.secure(raw, initiator)
	if err != nil {
		return nil, wrapUpgradeErr(err)
	}

	muxProto, err := u.selectMuxer(secured, initiator)
	if err != nil {
		return nil, wrapUpgradeErr(err)
	}

	if err := raw.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}

	muxed, err := newMuxedConn(secured, muxProto, initiator)
	if err != nil {
		return nil, wrapUpgradeErr(err)
	}

	return &Conn{Peer: remotePeer, Muxer: muxed}, nil
}

// secure negotiates the security protocol and runs the Noise handshake.
func (u *upgrader) secure(raw net.Conn, initiator bool) (net.Conn, peer.ID, error) {
	if initiator {
		if err := multistream.SelectProtoOrFail(noiseProtocol, raw); err != nil {
			return nil, "", fmt.Errorf("negotiate security: %w", err)
		}
	} else {
		mux := multistream.NewMultistreamMuxer[string]()
		mux.AddHandler(noiseProtocol, nil)
		if _, _, err := mux.Negotiate(raw); err != nil {
			return nil, "", fmt.Errorf("negotiate security: %w", err)
		}
	}
	return u.sec.handshake(raw, initiator)
}

// selectMuxer agrees on a stream multiplexer over the secured channel.
func (u *upgrader) selectMuxer(secured net.Conn, initiator bool) (string, error) {
	if initiator {
		proto, err := multistream.SelectOneOf(muxProtocols, secured)
		if err != nil {
			return "", fmt.Errorf("negotiate muxer: %w", err)
		}
		return proto, nil
	}

	mux := multistream.NewMultistreamMuxer[string]()
	for _, p := range muxProtocols {
		mux.AddHandler(p, nil)
	}
	proto, _, err := mux.Negotiate(secured)
	if err != nil {
		return "", fmt.Errorf("negotiate muxer: %w", err)
	}
	return proto, nil
}

// wrapUpgradeErr maps deadline expiry during the upgrade to the handshake
// timeout error; everything else is a dial-level failure.
func wrapUpgradeErr(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrDial, err)
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// connListener upgrades inbound connections as they are accepted.
type connListener struct {
	raw Listener
	upg *upgrader
}

func (l *connListener) Accept() (*Conn, error) {
	raw, err := l.raw.Accept()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListen, err)
	}
	conn, err := l.upg.upgrade(raw, false)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

func (l *connListener) Close() error {
	return l.raw.Close()
}

func (l *connListener) Multiaddr() ma.Multiaddr {
	return l.raw.Multiaddr()
}
