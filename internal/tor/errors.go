package tor

import "errors"

// Control-session errors. A failed transition is terminal for that
// controller instance; callers start over with a fresh Connect.
var (
	// ErrUnreachable means the control port did not accept a TCP
	// connection. Fatal at startup.
	ErrUnreachable = errors.New("tor control port unreachable")
	// ErrNotRunning means the daemon answered on the control port but is
	// not actually routing traffic, detected by the liveness check.
	ErrNotRunning = errors.New("tor is not running")
	// ErrAuthFailed means the daemon rejected our credentials, or
	// advertised no authentication method we support.
	ErrAuthFailed = errors.New("tor authentication failed")
	// ErrProvisioning means an ADD_ONION request was rejected. Not
	// retried.
	ErrProvisioning = errors.New("could not provision onion service")
)
