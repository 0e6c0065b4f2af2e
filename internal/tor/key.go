package tor

import (
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"
)

// ServiceKey is the long-term secret of a v3 onion service in expanded
// ed25519 form: 32 bytes of clamped scalar followed by 32 bytes of PRF
// material, the layout the daemon expects for ED25519-V3 key blobs. Keys
// are supplied externally; this package never generates them.
type ServiceKey struct {
	expanded [64]byte
}

// onionChecksumPrefix and onionVersion follow the v3 onion address
// construction: checksum = H(".onion checksum" || pubkey || version).
const (
	onionChecksumPrefix = ".onion checksum"
	onionVersion        = 0x03
)

var onionAddrEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ServiceKeyFromBytes validates and wraps a 64 byte expanded secret key.
func ServiceKeyFromBytes(b []byte) (*ServiceKey, error) {
	if len(b) != 64 {
		return nil, fmt.Errorf("expanded ed25519 key must be 64 bytes, got %d", len(b))
	}
	k := &ServiceKey{}
	copy(k.expanded[:], b)
	if _, err := k.scalar(); err != nil {
		return nil, err
	}
	return k, nil
}

// Bytes returns the expanded secret key.
func (k *ServiceKey) Bytes() []byte {
	out := make([]byte, 64)
	copy(out, k.expanded[:])
	return out
}

// ControlBlob renders the key in the form the ADD_ONION command takes.
func (k *ServiceKey) ControlBlob() string {
	return "ED25519-V3:" + base64.StdEncoding.EncodeToString(k.expanded[:])
}

func (k *ServiceKey) scalar() (*edwards25519.Scalar, error) {
	s, err := edwards25519.NewScalar().SetBytesWithClamping(k.expanded[:32])
	if err != nil {
		return nil, fmt.Errorf("invalid expanded key scalar: %w", err)
	}
	return s, nil
}

// PublicKey derives the ed25519 public key of the service.
func (k *ServiceKey) PublicKey() ([]byte, error) {
	s, err := k.scalar()
	if err != nil {
		return nil, err
	}
	return new(edwards25519.Point).ScalarBaseMult(s).Bytes(), nil
}

// OnionAddress derives the service's textual address, without the ".onion"
// suffix, from the public key.
func (k *ServiceKey) OnionAddress() (string, error) {
	pub, err := k.PublicKey()
	if err != nil {
		return "", err
	}

	h := sha3.New256()
	h.Write([]byte(onionChecksumPrefix))
	h.Write(pub)
	h.Write([]byte{onionVersion})
	checksum := h.Sum(nil)

	raw := make([]byte, 0, 35)
	raw = append(raw, pub...)
	raw = append(raw, checksum[:2]...)
	raw = append(raw, onionVersion)

	return strings.ToLower(onionAddrEncoding.EncodeToString(raw)), nil
}
