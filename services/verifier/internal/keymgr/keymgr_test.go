package keymgr

import (
	"crypto/ed25519"
	"errors"
	"strings"
	"testing"
)

func TestNewFromSeedDeterministic(t *testing.T) {
	seed := strings.Repeat("ab", 32)
	a, err := New(seed)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(seed)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.PublicKeyHex() != b.PublicKeyHex() {
		t.Fatalf("same seed must derive same public key")
	}
	if len(a.PublicKeyHex()) != 64 {
		t.Fatalf("public key hex length = %d, want 64", len(a.PublicKeyHex()))
	}
	if a.SeedHex() != seed {
		t.Fatalf("seed round-trip mismatch")
	}
}

func TestNewRejectsBadSeed(t *testing.T) {
	for _, seed := range []string{"", "zz", strings.Repeat("ab", 16), strings.Repeat("g", 64)} {
		if _, err := New(seed); !errors.Is(err, ErrBadSeed) {
			t.Fatalf("seed %q: got %v, want ErrBadSeed", seed, err)
		}
	}
}

func TestSignVerify(t *testing.T) {
	m, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	msg := []byte("app:1234|ms:0|status:PASS|ts:1700000000|hash:QmX|proof:")
	sig := m.Sign(msg)
	if len(sig) != ed25519.SignatureSize {
		t.Fatalf("signature length = %d, want %d", len(sig), ed25519.SignatureSize)
	}
	if !ed25519.Verify(m.PublicKey(), msg, sig) {
		t.Fatalf("signature must verify against manager's public key")
	}
}
