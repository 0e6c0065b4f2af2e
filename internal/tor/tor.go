// Package tor drives a local Tor daemon's control port to provision
// ephemeral v3 onion services. The session moves through three states,
// each its own type: Config (disconnected), Conn (connected but
// unauthenticated) and AuthenticatedConn. A failed transition is terminal;
// there is no way back to an earlier state.
//
// The control session carries one request at a time. Callers must
// serialize access to an AuthenticatedConn themselves.
package tor

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/proxy"

	"github.com/umbra-exchange/umbra/pkg/logging"
)

// Default ports of a stock Tor daemon.
const (
	DefaultSocks5Port  uint16 = 9050
	DefaultControlPort uint16 = 9051
)

// checkURL and checkPhrase form the liveness probe: the page is fetched
// through the SOCKS5 proxy and must contain the exact confirmation phrase.
const (
	checkURL    = "https://check.torproject.org/"
	checkPhrase = "Congratulations. This browser is configured to use Tor."
)

// Config describes how to reach the local daemon. It is the disconnected
// state of the controller.
type Config struct {
	Socks5Port  uint16
	ControlPort uint16
	// Password is only used when the daemon advertises HASHEDPASSWORD
	// authentication and no cookie file is available.
	Password string
}

// DefaultConfig returns a Config pointing at a stock local daemon.
func DefaultConfig() Config {
	return Config{
		Socks5Port:  DefaultSocks5Port,
		ControlPort: DefaultControlPort,
	}
}

// Conn is a connected but unauthenticated control session.
type Conn struct {
	cfg  Config
	ctl  *controlConn
	log  *logging.Logger
	ping func(ctx context.Context) error
}

// Connect opens the control connection. Failure to reach the control port
// yields ErrUnreachable.
func (cfg Config) Connect(ctx context.Context) (*Conn, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(cfg.ControlPort)))

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
	}

	conn := &Conn{
		cfg: cfg,
		ctl: newControlConn(raw),
		log: logging.GetDefault().Component("tor"),
	}
	conn.ping = conn.checkLiveness
	return conn, nil
}

// Authenticate verifies the daemon is actually routing traffic and then
// authenticates the control session. The liveness probe failing yields
// ErrNotRunning; a credential failure yields ErrAuthFailed.
func (c *Conn) Authenticate(ctx context.Context) (*AuthenticatedConn, error) {
	if err := c.ping(ctx); err != nil {
		c.ctl.close()
		return nil, err
	}

	info, err := c.ctl.protocolInfo()
	if err != nil {
		c.ctl.close()
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	if err := c.authenticate(info); err != nil {
		c.ctl.close()
		return nil, err
	}

	c.log.Debug("Control session authenticated")
	return &AuthenticatedConn{cfg: c.cfg, ctl: c.ctl, log: c.log}, nil
}

// authenticate picks the strongest supported method the daemon advertises:
// cookie, then null, then hashed password.
func (c *Conn) authenticate(info *protocolInfo) error {
	switch {
	case info.hasMethod("COOKIE") && info.cookieFile != "":
		cookie, err := readCookie(info.cookieFile)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		if err := c.ctl.authenticateHex(cookie); err != nil {
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
	case info.hasMethod("NULL"):
		if err := c.ctl.authenticateNull(); err != nil {
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
	case info.hasMethod("HASHEDPASSWORD") && c.cfg.Password != "":
		if err := c.ctl.authenticatePassword(c.cfg.Password); err != nil {
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
	default:
		return fmt.Errorf("%w: no supported method in %v", ErrAuthFailed, info.methods)
	}
	return nil
}

// checkLiveness fetches the check endpoint through the SOCKS5 proxy and
// looks for the confirmation phrase.
func (c *Conn) checkLiveness(ctx context.Context) error {
	proxyAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(c.cfg.Socks5Port)))
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
	if err != nil {
		return fmt.Errorf("%w: socks5 proxy at %s: %v", ErrNotRunning, proxyAddr, err)
	}

	transport := &http.Transport{}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
	} else {
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	if !strings.Contains(string(body), checkPhrase) {
		return fmt.Errorf("%w: check endpoint did not confirm tor routing", ErrNotRunning)
	}
	return nil
}

// AuthenticatedConn is a control session ready to provision services.
// Provisioned services live until the session closes.
type AuthenticatedConn struct {
	cfg Config
	ctl *controlConn
	log *logging.Logger
}

// PortMapping exposes a loopback TCP port as an onion port.
type PortMapping struct {
	OnionPort   uint16
	ServicePort uint16
}

// AddService provisions one ephemeral v3 onion service for a single port
// mapping and returns its address without the ".onion" suffix.
func (c *AuthenticatedConn) AddService(onionPort, servicePort uint16, key *ServiceKey) (string, error) {
	return c.AddServices([]PortMapping{{OnionPort: onionPort, ServicePort: servicePort}}, key)
}

// AddServices provisions one ephemeral v3 onion service carrying all the
// given port mappings. It returns once the daemon acknowledges; rejection
// yields ErrProvisioning and is not retried.
func (c *AuthenticatedConn) AddServices(mappings []PortMapping, key *ServiceKey) (string, error) {
	if len(mappings) == 0 {
		return "", fmt.Errorf("%w: no port mappings", ErrProvisioning)
	}

	serviceID, err := c.ctl.addOnion(key.ControlBlob(), mappings)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	if derived, err := key.OnionAddress(); err == nil && derived != serviceID {
		return "", fmt.Errorf("%w: daemon returned service id %s, key derives %s",
			ErrProvisioning, serviceID, derived)
	}

	c.log.Info("Onion service provisioned", "service", serviceID+".onion", "ports", len(mappings))
	return serviceID, nil
}

// Close tears down the control session and with it every provisioned
// service.
func (c *AuthenticatedConn) Close() error {
	return c.ctl.close()
}
