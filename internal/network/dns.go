package network

import (
	"context"
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
	madns "github.com/multiformats/go-multiaddr-dns"
)

// DNSTransport resolves /dns, /dns4 and /dns6 segments with the system
// resolver before delegating the dial to the inner transport.
type DNSTransport struct {
	inner    Transport
	resolver *madns.Resolver
}

// NewDNSTransport wraps the inner transport with system DNS resolution.
func NewDNSTransport(inner Transport) (*DNSTransport, error) {
	resolver := madns.DefaultResolver
	if resolver == nil {
		return nil, fmt.Errorf("%w: no system DNS resolver available", ErrBuild)
	}
	return &DNSTransport{inner: inner, resolver: resolver}, nil
}

// Dial resolves the address if needed and tries each resolved candidate in
// order, returning the first successful connection.
func (t *DNSTransport) Dial(ctx context.Context, raddr ma.Multiaddr) (net.Conn, error) {
	if !madns.Matches(raddr) {
		return t.inner.Dial(ctx, raddr)
	}

	resolved, err := t.resolver.Resolve(ctx, raddr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", ErrDial, raddr, err)
	}
	if len(resolved) == 0 {
		return nil, fmt.Errorf("%w: %s resolved to no addresses", ErrDial, raddr)
	}

	var lastErr error
	for _, candidate := range resolved {
		conn, err := t.inner.Dial(ctx, candidate)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Listen delegates to the inner transport.
func (t *DNSTransport) Listen(laddr ma.Multiaddr) (Listener, error) {
	return t.inner.Listen(laddr)
}
