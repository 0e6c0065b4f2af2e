package network

import "errors"

// Transport errors. The package performs no internal retries; every failure
// surfaces to the caller, classified by one of these sentinels.
var (
	// ErrBuild means the transport stack could not be constructed (bad key
	// material, DNS subsystem failure). Fatal at startup.
	ErrBuild = errors.New("could not build transport")
	// ErrDial means an outbound connection attempt failed, including
	// failures of the SOCKS5 proxy path.
	ErrDial = errors.New("dial failed")
	// ErrListen means a listener could not be bound.
	ErrListen = errors.New("listen failed")
	// ErrHandshakeTimeout means the upgrade chain (version negotiation,
	// authentication, multiplexer selection) exceeded its deadline.
	ErrHandshakeTimeout = errors.New("connection upgrade timed out")
)

// Codec errors for the framed quote exchange.
var (
	// ErrOversizedFrame means a message exceeds the frame size limit. The
	// check happens before the payload is buffered, on both send and
	// receive.
	ErrOversizedFrame = errors.New("frame exceeds size limit")
	// ErrMalformed means a frame could not be decoded or violated the
	// message schema.
	ErrMalformed = errors.New("malformed message")
)
