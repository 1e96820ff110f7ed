package protocol

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

const (
	// SignatureSize is the size of an ed25519 fulfillment signature.
	SignatureSize = ed25519.SignatureSize

	// ProofSize is the size of an encoded fulfillment proof:
	// seed (40) || randomness (32) || signature (64).
	ProofSize = SeedSize + RandomnessSize + SignatureSize
)

// ErrInvalidSignature is returned when a fulfillment proof's signature does
// not verify against the registered authority key. It never mutates any
// ledger entry.
var ErrInvalidSignature = errors.New("invalid fulfillment signature")

// Proof is a fulfillment proof submitted by the authority. Only the
// randomness survives verification; the proof itself is not persisted.
type Proof struct {
	Seed       Seed
	Randomness Randomness
	Signature  [SignatureSize]byte
}

// Encode serializes the proof into its wire layout.
func (p Proof) Encode() []byte {
	out := make([]byte, 0, ProofSize)
	out = append(out, p.Seed[:]...)
	out = append(out, p.Randomness[:]...)
	out = append(out, p.Signature[:]...)
	return out
}

// DecodeProof parses a wire-encoded proof, rejecting any length other than
// ProofSize.
func DecodeProof(raw []byte) (Proof, error) {
	if len(raw) != ProofSize {
		return Proof{}, fmt.Errorf("%w: proof is %d bytes, want %d", ErrMalformedPayload, len(raw), ProofSize)
	}
	var p Proof
	copy(p.Seed[:], raw[:SeedSize])
	copy(p.Randomness[:], raw[SeedSize:SeedSize+RandomnessSize])
	copy(p.Signature[:], raw[SeedSize+RandomnessSize:])
	return p, nil
}

// SigningMessage returns the exact byte string the authority signs:
// seed || randomness, with no additional framing. This is a protocol
// constant; signatures over any superset or subset are rejected.
func SigningMessage(seed Seed, randomness Randomness) []byte {
	msg := make([]byte, 0, SeedSize+RandomnessSize)
	msg = append(msg, seed[:]...)
	msg = append(msg, randomness[:]...)
	return msg
}

// VerifyProof checks that the proof's signature is a valid ed25519 signature
// by authority over exactly SigningMessage(seed, randomness). Verification
// uses the platform's native ed25519 primitive; cost is bounded and no state
// is touched.
func VerifyProof(authority ed25519.PublicKey, p Proof) error {
	if len(authority) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: authority key is %d bytes, want %d", ErrMalformedPayload, len(authority), ed25519.PublicKeySize)
	}
	if !ed25519.Verify(authority, SigningMessage(p.Seed, p.Randomness), p.Signature[:]) {
		return ErrInvalidSignature
	}
	return nil
}
