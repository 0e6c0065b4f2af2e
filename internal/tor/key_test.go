package tor

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
	"testing"

	"golang.org/x/crypto/sha3"
)

func testServiceKey(t *testing.T) *ServiceKey {
	t.Helper()
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	key, err := ServiceKeyFromBytes(raw)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func TestServiceKeyFromBytesRejectsWrongLength(t *testing.T) {
	for _, n := range []int{0, 32, 63, 65} {
		if _, err := ServiceKeyFromBytes(make([]byte, n)); err == nil {
			t.Errorf("accepted %d byte key", n)
		}
	}
}

func TestServiceKeyControlBlob(t *testing.T) {
	key := testServiceKey(t)
	blob := key.ControlBlob()
	if !strings.HasPrefix(blob, "ED25519-V3:") {
		t.Errorf("blob %q lacks key type prefix", blob)
	}
}

func TestServiceKeyOnionAddress(t *testing.T) {
	key := testServiceKey(t)

	addr, err := key.OnionAddress()
	if err != nil {
		t.Fatal(err)
	}
	if len(addr) != 56 {
		t.Fatalf("address %q has %d chars, want 56", addr, len(addr))
	}
	if addr != strings.ToLower(addr) {
		t.Errorf("address %q is not lowercase", addr)
	}

	// Decode and verify the public key, checksum and version byte.
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).
		DecodeString(strings.ToUpper(addr))
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 35 {
		t.Fatalf("decoded address is %d bytes, want 35", len(raw))
	}

	pub, err := key.PublicKey()
	if err != nil {
		t.Fatal(err)
	}
	if string(raw[:32]) != string(pub) {
		t.Error("address does not embed the service public key")
	}
	if raw[34] != 0x03 {
		t.Errorf("version byte = %#x, want 0x03", raw[34])
	}

	h := sha3.New256()
	h.Write([]byte(".onion checksum"))
	h.Write(pub)
	h.Write([]byte{0x03})
	if checksum := h.Sum(nil); string(raw[32:34]) != string(checksum[:2]) {
		t.Error("address checksum mismatch")
	}
}

func TestServiceKeyOnionAddressDeterministic(t *testing.T) {
	key := testServiceKey(t)
	a, err := key.OnionAddress()
	if err != nil {
		t.Fatal(err)
	}
	b, err := key.OnionAddress()
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("derivation is not deterministic: %q vs %q", a, b)
	}
}
