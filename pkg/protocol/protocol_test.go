package protocol

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
)

func testIdentity(t *testing.T, fill byte) Identity {
	t.Helper()
	var id Identity
	for i := range id {
		id[i] = fill
	}
	return id
}

func TestSeedRoundTrip(t *testing.T) {
	requester := testIdentity(t, 0x11)
	counters := []uint64{0, 1, 42, 1 << 40, ^uint64(0)}

	for _, counter := range counters {
		seed := NewSeed(requester, counter)
		if seed.Requester() != requester {
			t.Fatalf("counter %d: requester did not round-trip", counter)
		}
		if seed.Counter() != counter {
			t.Fatalf("counter %d: decoded counter %d", counter, seed.Counter())
		}

		decoded, err := SeedFromBytes(seed[:])
		if err != nil {
			t.Fatalf("decode seed: %v", err)
		}
		if decoded != seed {
			t.Fatalf("seed did not round-trip through bytes")
		}
	}
}

func TestSeedInjective(t *testing.T) {
	a := NewSeed(testIdentity(t, 0x01), 7)
	b := NewSeed(testIdentity(t, 0x01), 8)
	c := NewSeed(testIdentity(t, 0x02), 7)

	if a == b || a == c || b == c {
		t.Fatalf("distinct (requester, counter) pairs encoded to the same seed")
	}
}

func TestSeedFromBytesRejectsBadLengths(t *testing.T) {
	for _, n := range []int{0, SeedSize - 1, SeedSize + 1, 2 * SeedSize} {
		if _, err := SeedFromBytes(make([]byte, n)); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("length %d: expected ErrMalformedPayload, got %v", n, err)
		}
	}
}

func TestDeriveAddressDeterministic(t *testing.T) {
	requester := testIdentity(t, 0x22)
	seed := NewSeed(requester, 42)

	first := DeriveAddress(requester, seed)
	second := DeriveAddress(requester, seed)
	if first != second {
		t.Fatalf("address derivation is not deterministic")
	}

	other := DeriveAddress(requester, NewSeed(requester, 43))
	if other == first {
		t.Fatalf("distinct seeds derived the same address")
	}

	parsed, err := AddressFromBase58(first.String())
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}
	if parsed != first {
		t.Fatalf("address did not round-trip through base58")
	}
}

func TestProofRoundTrip(t *testing.T) {
	seed := NewSeed(testIdentity(t, 0x33), 9)
	var randomness Randomness
	if _, err := rand.Read(randomness[:]); err != nil {
		t.Fatalf("read randomness: %v", err)
	}

	proof := Proof{Seed: seed, Randomness: randomness}
	copy(proof.Signature[:], bytes.Repeat([]byte{0xEE}, SignatureSize))

	raw := proof.Encode()
	if len(raw) != ProofSize {
		t.Fatalf("encoded proof is %d bytes, want %d", len(raw), ProofSize)
	}

	decoded, err := DecodeProof(raw)
	if err != nil {
		t.Fatalf("decode proof: %v", err)
	}
	if decoded != proof {
		t.Fatalf("proof did not round-trip")
	}
}

func TestDecodeProofRejectsBadLengths(t *testing.T) {
	for _, n := range []int{0, ProofSize - 1, ProofSize + 1} {
		if _, err := DecodeProof(make([]byte, n)); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("length %d: expected ErrMalformedPayload, got %v", n, err)
		}
	}
}

func TestVerifyProof(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	seed := NewSeed(testIdentity(t, 0x44), 13)
	var randomness Randomness
	copy(randomness[:], bytes.Repeat([]byte{0xAB}, RandomnessSize))

	proof := Proof{Seed: seed, Randomness: randomness}
	copy(proof.Signature[:], ed25519.Sign(priv, SigningMessage(seed, randomness)))

	if err := VerifyProof(pub, proof); err != nil {
		t.Fatalf("valid proof rejected: %v", err)
	}

	// A signature over a superset of the message must not verify.
	framed := append(SigningMessage(seed, randomness), 0x00)
	var tampered Proof
	tampered = proof
	copy(tampered.Signature[:], ed25519.Sign(priv, framed))
	if err := VerifyProof(pub, tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("framed signature accepted: %v", err)
	}

	// A signature by a different key must not verify.
	otherPub, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	_ = otherPub
	var forged Proof
	forged = proof
	copy(forged.Signature[:], ed25519.Sign(otherPriv, SigningMessage(seed, randomness)))
	if err := VerifyProof(pub, forged); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("forged signature accepted: %v", err)
	}

	// Altering the randomness after signing invalidates the proof.
	var altered Proof
	altered = proof
	altered.Randomness[0] ^= 0xFF
	if err := VerifyProof(pub, altered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("altered randomness accepted: %v", err)
	}
}
