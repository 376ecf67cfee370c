package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

// Signer signs extrinsic payloads with an ed25519 key.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner builds a signer from a 32-byte hex seed, with or without 0x.
func NewSigner(seedHex string) (*Signer, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(seedHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signer seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signer seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// PublicKey returns the 32-byte account id.
func (s *Signer) PublicKey() []byte {
	return s.pub
}

// Sign signs payload.
func (s *Signer) Sign(payload []byte) []byte {
	return ed25519.Sign(s.priv, payload)
}

// Address returns the signer's SS58 address.
func (s *Signer) Address(prefix uint16) string {
	addr, _ := EncodeAddress(s.pub, prefix)
	return addr
}
