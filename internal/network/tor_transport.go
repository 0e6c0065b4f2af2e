package network

import (
	"context"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/net/proxy"

	"github.com/umbra-exchange/umbra/pkg/logging"
)

// DefaultSocks5Port is the conventional port of the local Tor SOCKS5 proxy.
const DefaultSocks5Port uint16 = 9050

// TorTransport routes dials to onion destinations through the local SOCKS5
// proxy and delegates every other address unchanged to the inner transport.
// Inbound anonymity-routed traffic is provided by a separately provisioned
// hidden service, so listening always delegates to the inner transport.
type TorTransport struct {
	inner     Transport
	socksPort uint16
	log       *logging.Logger
}

// NewTorTransport wraps the inner transport with per-dial onion routing via
// the SOCKS5 proxy on the given loopback port.
func NewTorTransport(inner Transport, socksPort uint16) *TorTransport {
	return &TorTransport{
		inner:     inner,
		socksPort: socksPort,
		log:       logging.GetDefault().Component("tor-transport"),
	}
}

// Dial connects through the Tor proxy when the address contains an onion
// segment and falls back to the inner transport otherwise.
func (t *TorTransport) Dial(ctx context.Context, raddr ma.Multiaddr) (net.Conn, error) {
	dest, ok := OnionAddress(raddr)
	if !ok {
		return t.inner.Dial(ctx, raddr)
	}

	t.log.Debug("Connecting through Tor proxy", "dest", dest)

	proxyAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(t.socksPort)))
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("%w: tor socks5 proxy at %s: %v", ErrDial, proxyAddr, err)
	}

	var conn net.Conn
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", dest)
	} else {
		conn, err = dialer.Dial("tcp", dest)
	}
	if err != nil {
		// Any proxy failure is a connection refusal from the caller's
		// point of view.
		return nil, fmt.Errorf("%w: tor proxy refused connection to %s: %v", ErrDial, dest, err)
	}

	t.log.Debug("Connection through Tor established", "dest", dest)
	return conn, nil
}

// Listen delegates to the inner transport.
func (t *TorTransport) Listen(laddr ma.Multiaddr) (Listener, error) {
	return t.inner.Listen(laddr)
}

var onionEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// OnionAddress scans the multiaddr for an onion segment and translates it to
// the "ADDR.onion:PORT" form Tor expects. The second return value reports
// whether a segment was found.
func OnionAddress(addr ma.Multiaddr) (string, bool) {
	var (
		dest  string
		found bool
	)
	ma.ForEach(addr, func(c ma.Component) bool {
		switch c.Protocol().Code {
		case ma.P_ONION:
			logging.Warn("Onion service v2 is deprecated, consider upgrading to v3")
			b := c.RawValue()
			dest = onionDest(b[:10], b[10:12])
			found = true
			return false
		case ma.P_ONION3:
			b := c.RawValue()
			dest = onionDest(b[:35], b[35:37])
			found = true
			return false
		}
		return true
	})
	return dest, found
}

func onionDest(hash, port []byte) string {
	return fmt.Sprintf("%s.onion:%d",
		strings.ToLower(onionEncoding.EncodeToString(hash)),
		binary.BigEndian.Uint16(port))
}
