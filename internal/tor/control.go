package tor

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/textproto"
	"os"
	"strings"
)

// controlConn speaks the line-oriented control protocol. Replies reuse the
// SMTP-style status format, so textproto handles framing and continuation
// lines.
type controlConn struct {
	raw  net.Conn
	text *textproto.Conn
}

func newControlConn(raw net.Conn) *controlConn {
	return &controlConn{raw: raw, text: textproto.NewConn(raw)}
}

func (c *controlConn) close() error {
	// QUIT is a courtesy; the daemon drops the session either way.
	c.text.PrintfLine("QUIT")
	return c.text.Close()
}

// cmd sends one command and reads the complete reply, expecting status 250.
func (c *controlConn) cmd(format string, args ...interface{}) (string, error) {
	id, err := c.text.Cmd(format, args...)
	if err != nil {
		return "", fmt.Errorf("send control command: %w", err)
	}

	c.text.StartResponse(id)
	defer c.text.EndResponse(id)

	_, reply, err := c.text.ReadResponse(250)
	if err != nil {
		return "", fmt.Errorf("control command rejected: %w", err)
	}
	return reply, nil
}

// protocolInfo is the daemon's advertised auth capabilities.
type protocolInfo struct {
	methods    []string
	cookieFile string
}

func (p *protocolInfo) hasMethod(name string) bool {
	for _, m := range p.methods {
		if m == name {
			return true
		}
	}
	return false
}

// protocolInfo runs PROTOCOLINFO and parses the AUTH line, e.g.
//
//	250-AUTH METHODS=COOKIE,SAFECOOKIE,HASHEDPASSWORD COOKIEFILE="/run/tor/control.authcookie"
func (c *controlConn) protocolInfo() (*protocolInfo, error) {
	reply, err := c.cmd("PROTOCOLINFO 1")
	if err != nil {
		return nil, err
	}

	info := &protocolInfo{}
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "AUTH ") {
			continue
		}
		for _, field := range strings.Fields(line[len("AUTH "):]) {
			switch {
			case strings.HasPrefix(field, "METHODS="):
				info.methods = strings.Split(field[len("METHODS="):], ",")
			case strings.HasPrefix(field, "COOKIEFILE="):
				info.cookieFile = strings.Trim(field[len("COOKIEFILE="):], `"`)
			}
		}
	}
	if len(info.methods) == 0 {
		return nil, fmt.Errorf("PROTOCOLINFO reply carries no AUTH METHODS")
	}
	return info, nil
}

func (c *controlConn) authenticateHex(cookie []byte) error {
	_, err := c.cmd("AUTHENTICATE %s", hex.EncodeToString(cookie))
	return err
}

func (c *controlConn) authenticateNull() error {
	_, err := c.cmd("AUTHENTICATE")
	return err
}

func (c *controlConn) authenticatePassword(password string) error {
	_, err := c.cmd("AUTHENTICATE %q", password)
	return err
}

// addOnion provisions an ephemeral onion service and returns the ServiceID
// the daemon assigned.
func (c *controlConn) addOnion(keyBlob string, mappings []PortMapping) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "ADD_ONION %s", keyBlob)
	for _, m := range mappings {
		fmt.Fprintf(&b, " Port=%d,127.0.0.1:%d", m.OnionPort, m.ServicePort)
	}

	reply, err := c.cmd("%s", b.String())
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ServiceID=") {
			return line[len("ServiceID="):], nil
		}
	}
	return "", fmt.Errorf("ADD_ONION reply carries no ServiceID")
}

func readCookie(path string) ([]byte, error) {
	cookie, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read auth cookie: %w", err)
	}
	return cookie, nil
}
