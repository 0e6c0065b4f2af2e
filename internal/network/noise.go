package network

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/flynn/noise"
	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Noise payload prefix per the libp2p noise spec. Signing the static key
// with the identity key binds the two so a handshake cannot be replayed by
// a different peer.
const noisePayloadPrefix = "noise-libp2p-static-key:"

// Per-message plaintext ceiling. Noise frames carry a 16 byte AEAD tag and
// are length-prefixed with two bytes, so plaintext chunks must leave room
// inside the 65535 byte frame limit.
const maxPlaintextSize = 65535 - 16

var noiseCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// noisePayload is the identity proof exchanged inside the handshake.
type noisePayload struct {
	IdentityKey []byte `cbor:"1,keyasint"`
	IdentitySig []byte `cbor:"2,keyasint"`
}

// secureChannel performs authenticated Noise XX handshakes on raw
// connections, proving the node's libp2p identity and learning the remote
// peer's.
type secureChannel struct {
	identity  crypto.PrivKey
	static    noise.DHKey
	myPayload []byte
}

func newSecureChannel(identity crypto.PrivKey) (*secureChannel, error) {
	static, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate noise static key: %w", err)
	}

	idBytes, err := crypto.MarshalPublicKey(identity.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("marshal identity key: %w", err)
	}
	sig, err := identity.Sign(append([]byte(noisePayloadPrefix), static.Public...))
	if err != nil {
		return nil, fmt.Errorf("sign noise static key: %w", err)
	}
	payload, err := cbor.Marshal(&noisePayload{IdentityKey: idBytes, IdentitySig: sig})
	if err != nil {
		return nil, fmt.Errorf("encode noise payload: %w", err)
	}

	return &secureChannel{identity: identity, static: static, myPayload: payload}, nil
}

// handshake runs the XX pattern over conn and returns an encrypted stream
// plus the authenticated remote peer ID.
func (s *secureChannel) handshake(conn net.Conn, initiator bool) (net.Conn, peer.ID, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseCipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: s.static,
	})
	if err != nil {
		return nil, "", fmt.Errorf("init noise handshake: %w", err)
	}

	var (
		remotePayload []byte
		enc, dec      *noise.CipherState
	)

	if initiator {
		// -> e
		msg, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, "", fmt.Errorf("noise write e: %w", err)
		}
		if err := writeNoiseFrame(conn, msg); err != nil {
			return nil, "", err
		}

		// <- e, ee, s, es (+ payload)
		frame, err := readNoiseFrame(conn)
		if err != nil {
			return nil, "", err
		}
		remotePayload, _, _, err = hs.ReadMessage(nil, frame)
		if err != nil {
			return nil, "", fmt.Errorf("noise read e,ee,s,es: %w", err)
		}

		// -> s, se (+ payload)
		msg, enc, dec, err = hs.WriteMessage(nil, s.myPayload)
		if err != nil {
			return nil, "", fmt.Errorf("noise write s,se: %w", err)
		}
		if err := writeNoiseFrame(conn, msg); err != nil {
			return nil, "", err
		}
	} else {
		// <- e
		frame, err := readNoiseFrame(conn)
		if err != nil {
			return nil, "", err
		}
		if _, _, _, err := hs.ReadMessage(nil, frame); err != nil {
			return nil, "", fmt.Errorf("noise read e: %w", err)
		}

		// -> e, ee, s, es (+ payload)
		msg, _, _, err := hs.WriteMessage(nil, s.myPayload)
		if err != nil {
			return nil, "", fmt.Errorf("noise write e,ee,s,es: %w", err)
		}
		if err := writeNoiseFrame(conn, msg); err != nil {
			return nil, "", err
		}

		// <- s, se (+ payload)
		frame, err = readNoiseFrame(conn)
		if err != nil {
			return nil, "", err
		}
		remotePayload, dec, enc, err = hs.ReadMessage(nil, frame)
		if err != nil {
			return nil, "", fmt.Errorf("noise read s,se: %w", err)
		}
	}

	remotePeer, err := verifyNoisePayload(remotePayload, hs.PeerStatic())
	if err != nil {
		return nil, "", err
	}

	return &secureConn{Conn: conn, enc: enc, dec: dec}, remotePeer, nil
}

// verifyNoisePayload checks the remote identity proof against the Noise
// static key observed during the handshake.
func verifyNoisePayload(raw, remoteStatic []byte) (peer.ID, error) {
	var payload noisePayload
	if err := cbor.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode noise payload: %w", err)
	}

	pub, err := crypto.UnmarshalPublicKey(payload.IdentityKey)
	if err != nil {
		return "", fmt.Errorf("unmarshal remote identity key: %w", err)
	}
	ok, err := pub.Verify(append([]byte(noisePayloadPrefix), remoteStatic...), payload.IdentitySig)
	if err != nil {
		return "", fmt.Errorf("verify noise payload: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("remote identity signature does not cover its noise static key")
	}

	remotePeer, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("derive remote peer id: %w", err)
	}
	return remotePeer, nil
}

func writeNoiseFrame(w io.Writer, msg []byte) error {
	if len(msg) > 65535 {
		return fmt.Errorf("noise frame of %d bytes exceeds limit", len(msg))
	}
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(msg)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write noise frame: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write noise frame: %w", err)
	}
	return nil
}

func readNoiseFrame(r io.Reader) ([]byte, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("read noise frame: %w", err)
	}
	frame := make([]byte, binary.BigEndian.Uint16(prefix[:]))
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("read noise frame: %w", err)
	}
	return frame, nil
}

// secureConn encrypts a byte stream with the transport keys derived from a
// completed handshake.
type secureConn struct {
	net.Conn

	enc *noise.CipherState
	dec *noise.CipherState

	readBuf []byte
}

func (c *secureConn) Read(p []byte) (int, error) {
	if len(c.readBuf) == 0 {
		frame, err := readNoiseFrame(c.Conn)
		if err != nil {
			return 0, err
		}
		plain, err := c.dec.Decrypt(nil, nil, frame)
		if err != nil {
			return 0, fmt.Errorf("decrypt noise frame: %w", err)
		}
		c.readBuf = plain
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *secureConn) Write(p []byte) (int, error) {
	var written int
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxPlaintextSize {
			chunk = chunk[:maxPlaintextSize]
		}
		frame, err := c.enc.Encrypt(nil, nil, chunk)
		if err != nil {
			return written, fmt.Errorf("encrypt noise frame: %w", err)
		}
		if err := writeNoiseFrame(c.Conn, frame); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}
