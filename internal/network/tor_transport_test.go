package network

import (
	"context"
	"errors"
	"net"
	"testing"

	ma "github.com/multiformats/go-multiaddr"
)

func TestOnionAddressV3(t *testing.T) {
	addr, err := ma.NewMultiaddr(
		"/onion3/oarchy4tamydxcitaki6bc2v4leza6v35iezmu2chg2bap63sv6f2did:1024/tcp/9939/ws")
	if err != nil {
		t.Fatal(err)
	}

	dest, ok := OnionAddress(addr)
	if !ok {
		t.Fatal("expected onion segment to be detected")
	}
	want := "oarchy4tamydxcitaki6bc2v4leza6v35iezmu2chg2bap63sv6f2did.onion:1024"
	if dest != want {
		t.Errorf("dest = %q, want %q", dest, want)
	}
}

func TestOnionAddressV2(t *testing.T) {
	addr, err := ma.NewMultiaddr("/onion/aaimaq4ygg2iegci:80")
	if err != nil {
		t.Fatal(err)
	}

	dest, ok := OnionAddress(addr)
	if !ok {
		t.Fatal("expected onion segment to be detected")
	}
	if want := "aaimaq4ygg2iegci.onion:80"; dest != want {
		t.Errorf("dest = %q, want %q", dest, want)
	}
}

func TestOnionAddressNotOnion(t *testing.T) {
	for _, s := range []string{
		"/ip4/127.0.0.1/tcp/9939",
		"/dns4/example.com/tcp/443/ws",
	} {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			t.Fatal(err)
		}
		if dest, ok := OnionAddress(addr); ok {
			t.Errorf("%s: unexpectedly detected onion dest %q", s, dest)
		}
	}
}

// recordingTransport remembers the addresses it was asked to dial.
type recordingTransport struct {
	dialed []ma.Multiaddr
}

func (r *recordingTransport) Dial(_ context.Context, raddr ma.Multiaddr) (net.Conn, error) {
	r.dialed = append(r.dialed, raddr)
	c, s := net.Pipe()
	s.Close()
	return c, nil
}

func (r *recordingTransport) Listen(ma.Multiaddr) (Listener, error) {
	return nil, ErrListen
}

func TestTorTransportDelegatesClearnetDials(t *testing.T) {
	inner := &recordingTransport{}
	tr := NewTorTransport(inner, DefaultSocks5Port)

	addr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/9939")
	if err != nil {
		t.Fatal(err)
	}
	conn, err := tr.Dial(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	if len(inner.dialed) != 1 || !inner.dialed[0].Equal(addr) {
		t.Errorf("inner transport saw dials %v, want exactly %s", inner.dialed, addr)
	}
}

func TestTorTransportNeverDialsOnionDirectly(t *testing.T) {
	inner := &recordingTransport{}
	// Port 1 is never a running SOCKS5 proxy, so the dial must fail rather
	// than leak the onion address to the inner transport.
	tr := NewTorTransport(inner, 1)

	addr, err := ma.NewMultiaddr(
		"/onion3/oarchy4tamydxcitaki6bc2v4leza6v35iezmu2chg2bap63sv6f2did:1024")
	if err != nil {
		t.Fatal(err)
	}
	_, err = tr.Dial(context.Background(), addr)
	if err == nil {
		t.Fatal("expected dial through missing proxy to fail")
	}
	if !errors.Is(err, ErrDial) {
		t.Errorf("err = %v, want ErrDial", err)
	}
	if len(inner.dialed) != 0 {
		t.Errorf("onion dial leaked to inner transport: %v", inner.dialed)
	}
}
