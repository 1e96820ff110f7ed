// Package client defines registered consumer clients: the on-ledger programs
// that issue randomness requests, together with their owner, balance, and
// optional client-level callback.
package client

import (
	"errors"
	"time"

	"github.com/R3E-Network/randomness_layer/internal/app/domain/request"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
)

var (
	// ErrNotFound is returned when no client exists for the given ID.
	ErrNotFound = errors.New("client not found")

	// ErrAlreadyRegistered is returned when the program identity is already
	// registered as a client.
	ErrAlreadyRegistered = errors.New("client already registered")

	// ErrNotOwner is returned when an owner-only operation is attempted by
	// another identity.
	ErrNotOwner = errors.New("caller is not the client owner")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the
	// client's balance.
	ErrInsufficientBalance = errors.New("insufficient client balance")
)

// Client is a registered consumer of the randomness layer.
type Client struct {
	ID      string
	Program protocol.Identity
	State   protocol.Identity
	Owner   protocol.Identity

	// Callback is the client-level default callback, applied to requests
	// that do not carry their own descriptor.
	Callback *request.CallbackDescriptor

	// Balance funds fulfillment fees, in the ledger's base unit.
	Balance uint64

	// RequestCounter advances monotonically and feeds seed derivation,
	// guaranteeing per-client seed uniqueness without coordination.
	RequestCounter uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}
