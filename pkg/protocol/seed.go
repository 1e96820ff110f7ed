// Package protocol defines the canonical byte layouts of the randomness
// protocol: request seeds, entry addresses, and fulfillment proofs.
//
// Every constant here is a protocol constant. The fulfillment authority and
// the coordinator must agree on these layouts byte for byte; any divergence
// breaks signature verification entirely.
package protocol

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	// IdentitySize is the size of a requester identity (an ed25519 public key).
	IdentitySize = 32

	// SeedSize is the size of an encoded request seed:
	// requester identity (32) || request counter (8, little-endian).
	SeedSize = IdentitySize + 8

	// RandomnessSize is the size of a fulfilled randomness value.
	RandomnessSize = 32

	// AddressSize is the size of a derived entry address.
	AddressSize = 32
)

// addressPrefix is the domain-separation prefix mixed into entry address
// derivation.
var addressPrefix = []byte("randomness-request")

// ErrMalformedPayload is returned when a byte payload does not match the
// protocol layout. Decoding never truncates or pads.
var ErrMalformedPayload = errors.New("malformed payload")

// Identity is a 32-byte requester or program identity on the ledger.
type Identity [IdentitySize]byte

// IdentityFromBase58 parses a base58-encoded identity.
func IdentityFromBase58(s string) (Identity, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: identity: %v", ErrMalformedPayload, err)
	}
	if len(raw) != IdentitySize {
		return Identity{}, fmt.Errorf("%w: identity is %d bytes, want %d", ErrMalformedPayload, len(raw), IdentitySize)
	}
	var id Identity
	copy(id[:], raw)
	return id, nil
}

func (id Identity) String() string { return base58.Encode(id[:]) }

// Seed is an encoded request seed. It is injective in (requester, counter):
// two distinct logical requests never share a seed under normal counter
// advancement.
type Seed [SeedSize]byte

// NewSeed encodes (requester, counter) into a Seed.
func NewSeed(requester Identity, counter uint64) Seed {
	var s Seed
	copy(s[:IdentitySize], requester[:])
	binary.LittleEndian.PutUint64(s[IdentitySize:], counter)
	return s
}

// SeedFromBytes decodes a seed, rejecting any length other than SeedSize.
func SeedFromBytes(raw []byte) (Seed, error) {
	if len(raw) != SeedSize {
		return Seed{}, fmt.Errorf("%w: seed is %d bytes, want %d", ErrMalformedPayload, len(raw), SeedSize)
	}
	var s Seed
	copy(s[:], raw)
	return s, nil
}

// SeedFromBase58 parses a base58-encoded seed.
func SeedFromBase58(s string) (Seed, error) {
	raw, err := decodeBase58(s, SeedSize)
	if err != nil {
		return Seed{}, err
	}
	var seed Seed
	copy(seed[:], raw)
	return seed, nil
}

// Requester returns the identity component of the seed.
func (s Seed) Requester() Identity {
	var id Identity
	copy(id[:], s[:IdentitySize])
	return id
}

// Counter returns the counter component of the seed.
func (s Seed) Counter() uint64 {
	return binary.LittleEndian.Uint64(s[IdentitySize:])
}

func (s Seed) String() string { return base58.Encode(s[:]) }

// Address is the deterministic storage address of a request ledger entry.
type Address [AddressSize]byte

// DeriveAddress computes the entry address for (requester, seed):
// SHA-256(addressPrefix || requester || seed). Duplicate requests for the
// same seed collide here by construction; no registry of seen seeds exists.
func DeriveAddress(requester Identity, seed Seed) Address {
	h := sha256.New()
	h.Write(addressPrefix)
	h.Write(requester[:])
	h.Write(seed[:])
	var addr Address
	copy(addr[:], h.Sum(nil))
	return addr
}

// AddressFromBase58 parses a base58-encoded entry address.
func AddressFromBase58(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: address: %v", ErrMalformedPayload, err)
	}
	if len(raw) != AddressSize {
		return Address{}, fmt.Errorf("%w: address is %d bytes, want %d", ErrMalformedPayload, len(raw), AddressSize)
	}
	var addr Address
	copy(addr[:], raw)
	return addr, nil
}

func (a Address) String() string { return base58.Encode(a[:]) }

// Randomness is a fulfilled 32-byte randomness value.
type Randomness [RandomnessSize]byte

// RandomnessFromBytes decodes a randomness value, rejecting other lengths.
func RandomnessFromBytes(raw []byte) (Randomness, error) {
	if len(raw) != RandomnessSize {
		return Randomness{}, fmt.Errorf("%w: randomness is %d bytes, want %d", ErrMalformedPayload, len(raw), RandomnessSize)
	}
	var r Randomness
	copy(r[:], raw)
	return r, nil
}

// IsZero reports whether the randomness value is unset.
func (r Randomness) IsZero() bool {
	return bytes.Equal(r[:], make([]byte, RandomnessSize))
}

func (r Randomness) String() string { return base58.Encode(r[:]) }

func decodeBase58(s string, want int) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(raw) != want {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedPayload, len(raw), want)
	}
	return raw, nil
}
