// Package request defines the request ledger entry: the persisted record
// tracking one randomness request from creation through fulfillment and
// callback delivery.
package request

import (
	"errors"
	"time"

	"github.com/R3E-Network/randomness_layer/pkg/protocol"
)

// Status is the lifecycle state of a request ledger entry. Status only
// advances forward; no entry regresses or is fulfilled twice.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusDelivered Status = "delivered"
)

// Terminal reports whether the status admits no further transitions.
// Fulfilled is terminal only for entries without a callback.
func (s Status) Terminal(hasCallback bool) bool {
	switch s {
	case StatusDelivered:
		return true
	case StatusFulfilled:
		return !hasCallback
	default:
		return false
	}
}

var (
	// ErrDuplicateSeed is returned when an entry already exists at the
	// deterministic address for (requester, seed).
	ErrDuplicateSeed = errors.New("duplicate seed")

	// ErrNotPending is returned when a fulfillment targets an entry that is
	// not pending. This is the single-fulfillment guard.
	ErrNotPending = errors.New("entry is not pending")

	// ErrNotFound is returned when no entry exists at the given address.
	ErrNotFound = errors.New("entry not found")

	// ErrUnauthorizedAuthority is returned when a fulfillment is not signed
	// by the registered authority key.
	ErrUnauthorizedAuthority = errors.New("unauthorized fulfillment authority")

	// ErrCallbackExecutionFailed wraps a failure raised by the consumer's
	// callback instruction. The callee error is carried opaquely; the whole
	// fulfillment aborts with it.
	ErrCallbackExecutionFailed = errors.New("callback execution failed")
)

// AccountMeta describes one account the callback instruction requires, with
// its access mode fixed at request time.
type AccountMeta struct {
	Address  protocol.Identity `json:"address"`
	Writable bool              `json:"writable"`
	Signer   bool              `json:"signer"`
}

// CallbackDescriptor names the external instruction to invoke once the
// entry's randomness is available. It is set once by the requester and never
// mutated; dispatch must pass it verbatim.
type CallbackDescriptor struct {
	Program  protocol.Identity `json:"program"`
	Method   string            `json:"method"`
	Accounts []AccountMeta     `json:"accounts,omitempty"`
}

// Entry is a request ledger entry. Its address is a deterministic function
// of (requester, seed), so duplicate requests collide structurally.
type Entry struct {
	Address   protocol.Address
	Seed      protocol.Seed
	Requester protocol.Identity
	ClientID  string
	Status    Status

	// Randomness is set exactly once, on the transition out of pending.
	Randomness protocol.Randomness

	// Callback, when non-nil, was fixed at request time. CallbackOverride
	// records whether it came from the request itself rather than the
	// client-level default.
	Callback         *CallbackDescriptor
	CallbackOverride bool

	// CallbackTx is the ledger transaction that delivered the callback.
	CallbackTx string

	FulfilledAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasCallback reports whether a callback descriptor was recorded.
func (e Entry) HasCallback() bool { return e.Callback != nil }

// Fulfilled reports whether randomness has been committed.
func (e Entry) Fulfilled() bool {
	return e.Status == StatusFulfilled || e.Status == StatusDelivered
}
