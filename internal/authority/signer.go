// Package authority implements the off-chain fulfillment authority: it
// observes pending randomness requests and submits signed fulfillment
// proofs to the coordinator.
package authority

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/hkdf"

	"github.com/R3E-Network/randomness_layer/pkg/protocol"
)

// randomnessSalt is the HKDF salt for randomness derivation. A protocol
// constant: the derivation must be stable across authority restarts so a
// re-submitted proof for the same seed is byte-identical.
var randomnessSalt = []byte("vrf-randomness")

// Signer holds the authority's ed25519 signing key and derives fulfillment
// proofs from request seeds.
type Signer struct {
	priv ed25519.PrivateKey
}

// NewSigner creates a signer from a base58-encoded 32-byte ed25519 seed.
func NewSigner(encodedSeed string) (*Signer, error) {
	raw, err := base58.Decode(encodedSeed)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key is %d bytes, want %d", len(raw), ed25519.SeedSize)
	}
	return &Signer{priv: ed25519.NewKeyFromSeed(raw)}, nil
}

// NewSignerFromKey wraps an existing private key.
func NewSignerFromKey(priv ed25519.PrivateKey) *Signer {
	return &Signer{priv: priv}
}

// Public returns the authority public key.
func (s *Signer) Public() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// Randomness deterministically derives the randomness value for a request
// seed: HKDF-SHA256 keyed by the signing seed, salted with randomnessSalt,
// with the request seed as info. Unpredictable without the key, reproducible
// with it.
func (s *Signer) Randomness(seed protocol.Seed) (protocol.Randomness, error) {
	reader := hkdf.New(sha256.New, s.priv.Seed(), randomnessSalt, seed[:])

	var r protocol.Randomness
	if _, err := io.ReadFull(reader, r[:]); err != nil {
		return protocol.Randomness{}, fmt.Errorf("derive randomness: %w", err)
	}
	return r, nil
}

// BuildProof derives the randomness for seed and signs seed || randomness.
func (s *Signer) BuildProof(seed protocol.Seed) (protocol.Proof, error) {
	randomness, err := s.Randomness(seed)
	if err != nil {
		return protocol.Proof{}, err
	}

	proof := protocol.Proof{Seed: seed, Randomness: randomness}
	copy(proof.Signature[:], ed25519.Sign(s.priv, protocol.SigningMessage(seed, randomness)))
	return proof, nil
}
