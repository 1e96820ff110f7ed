package storage

import (
	"context"
	"time"

	"github.com/R3E-Network/randomness_layer/internal/app/domain/client"
	"github.com/R3E-Network/randomness_layer/internal/app/domain/request"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
)

// RequestStore persists request ledger entries. Each entry is an
// independently addressed record; the store's per-record serialization is
// the only concurrency control the state machine relies on.
type RequestStore interface {
	// CreateEntry persists a new pending entry. It fails with
	// request.ErrDuplicateSeed if an entry already exists at e.Address,
	// which is the structural replay defense.
	CreateEntry(ctx context.Context, e request.Entry) (request.Entry, error)

	// GetEntry returns the entry at addr or request.ErrNotFound.
	GetEntry(ctx context.Context, addr protocol.Address) (request.Entry, error)

	// FulfillEntry atomically commits randomness and the target status
	// (fulfilled or delivered) to the entry at addr, conditional on the
	// entry still being pending. It fails with request.ErrNotPending
	// otherwise; at most one fulfillment ever observes pending.
	FulfillEntry(ctx context.Context, addr protocol.Address, randomness protocol.Randomness, status request.Status, callbackTx string, fulfilledAt time.Time) (request.Entry, error)

	// ListEntries returns entries for a client, newest first.
	ListEntries(ctx context.Context, clientID string) ([]request.Entry, error)

	// ListPendingEntries returns all pending entries, oldest first.
	ListPendingEntries(ctx context.Context) ([]request.Entry, error)
}

// ClientStore persists registered clients.
type ClientStore interface {
	CreateClient(ctx context.Context, c client.Client) (client.Client, error)
	UpdateClient(ctx context.Context, c client.Client) (client.Client, error)
	GetClient(ctx context.Context, id string) (client.Client, error)
	GetClientByProgram(ctx context.Context, program protocol.Identity) (client.Client, error)
	ListClients(ctx context.Context) ([]client.Client, error)

	// NextRequestCounter atomically advances and returns the client's
	// request counter. Counters are monotonic and never reused.
	NextRequestCounter(ctx context.Context, id string) (uint64, error)
}
