package keymgr

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrBadSeed = errors.New("verifier seed must be 64 hex chars (32 bytes)")

// Manager holds the verifier's Ed25519 keypair for the process lifetime.
// The key is provisioned once at startup; rotation means a restart.
type Manager struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// New derives the keypair from a hex-encoded 32-byte seed.
func New(seedHex string) (*Manager, error) {
	seedHex = strings.TrimSpace(seedHex)
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSeed, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrBadSeed, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Manager{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Generate creates a fresh keypair. Used by attestctl keygen and tests.
func Generate() (*Manager, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Manager{priv: priv, pub: pub}, nil
}

func (m *Manager) PublicKey() ed25519.PublicKey { return m.pub }

func (m *Manager) PublicKeyHex() string { return hex.EncodeToString(m.pub) }

func (m *Manager) SeedHex() string { return hex.EncodeToString(m.priv.Seed()) }

func (m *Manager) Sign(message []byte) []byte { return ed25519.Sign(m.priv, message) }
