// Package seed manages the node's long-term identity key. The key is
// created on first run and reused afterwards, so the peer ID survives
// restarts.
package seed

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/umbra-exchange/umbra/pkg/logging"
)

const keyFileName = "identity.key"

// Seed holds the node identity.
type Seed struct {
	identity crypto.PrivKey
}

// Load reads the identity key from dir, generating and persisting a fresh
// ed25519 key on first run.
func Load(dir string) (*Seed, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create seed directory: %w", err)
	}
	keyPath := filepath.Join(dir, keyFileName)

	if data, err := os.ReadFile(keyPath); err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("unmarshal identity key: %w", err)
		}
		return &Seed{identity: priv}, nil
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal identity key: %w", err)
	}
	if err := os.WriteFile(keyPath, data, 0600); err != nil {
		return nil, fmt.Errorf("persist identity key: %w", err)
	}

	logging.Info("Generated new node identity")
	return &Seed{identity: priv}, nil
}

// Identity returns the node's private identity key.
func (s *Seed) Identity() crypto.PrivKey {
	return s.identity
}

// PeerID derives the node's peer ID from the identity key.
func (s *Seed) PeerID() (peer.ID, error) {
	id, err := peer.IDFromPublicKey(s.identity.GetPublic())
	if err != nil {
		return "", fmt.Errorf("derive peer id: %w", err)
	}
	return id, nil
}
