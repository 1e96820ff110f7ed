// Package requests implements the request/fulfillment state machine: the
// part of the randomness layer that must hold under replay, forged proofs,
// malicious callback targets, and concurrent submitters.
package requests

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/randomness_layer/internal/app/domain/request"
	"github.com/R3E-Network/randomness_layer/internal/app/metrics"
	"github.com/R3E-Network/randomness_layer/internal/app/storage"
	"github.com/R3E-Network/randomness_layer/internal/events"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
	"github.com/R3E-Network/randomness_layer/pkg/logger"
)

// CallbackDispatcher invokes a fulfilled entry's callback instruction.
type CallbackDispatcher interface {
	Dispatch(ctx context.Context, e request.Entry, randomness protocol.Randomness) (string, error)
}

// Service owns the request ledger entry lifecycle. All mutation goes through
// it; every failure leaves the targeted entry unchanged.
type Service struct {
	clients   storage.ClientStore
	entries   storage.RequestStore
	authority ed25519.PublicKey
	dispatch  CallbackDispatcher
	bus       *events.Bus
	log       *logger.Logger

	// locks serializes fulfillment per entry address, mirroring the
	// ledger's per-record write locks: at most one fulfillment ever
	// observes a given entry pending, and its callback runs at most once.
	// Mutexes are dropped when their address reaches a terminal state,
	// so the map holds only in-flight addresses.
	locks sync.Map
}

// New constructs the request service. authority is the registered
// fulfillment authority public key; dispatch may be nil when callback
// delivery is disabled (entries with callbacks then fail to fulfill).
func New(clients storage.ClientStore, entries storage.RequestStore, authority ed25519.PublicKey, dispatch CallbackDispatcher, bus *events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("requests")
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Service{
		clients:   clients,
		entries:   entries,
		authority: authority,
		dispatch:  dispatch,
		bus:       bus,
		log:       log,
	}
}

// Authority returns the registered fulfillment authority public key.
func (s *Service) Authority() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), s.authority...)
}

// Request creates a new pending entry for the client. The seed is derived
// from the client's program identity and its next counter value, so global
// uniqueness needs no coordination. callback, when non-nil, overrides the
// client-level descriptor for this request only.
func (s *Service) Request(ctx context.Context, clientID string, callback *request.CallbackDescriptor) (request.Entry, error) {
	cl, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return request.Entry{}, fmt.Errorf("load client: %w", err)
	}

	counter, err := s.clients.NextRequestCounter(ctx, cl.ID)
	if err != nil {
		return request.Entry{}, fmt.Errorf("advance request counter: %w", err)
	}

	seed := protocol.NewSeed(cl.Program, counter)

	override := callback != nil
	if callback == nil {
		callback = cl.Callback
	}

	e := request.Entry{
		Address:          protocol.DeriveAddress(cl.Program, seed),
		Seed:             seed,
		Requester:        cl.Program,
		ClientID:         cl.ID,
		Callback:         callback,
		CallbackOverride: override,
	}

	created, err := s.entries.CreateEntry(ctx, e)
	if err != nil {
		return request.Entry{}, err
	}

	metrics.RequestsCreated.Inc()
	s.bus.Publish(events.Requested{
		ClientID:         created.ClientID,
		Address:          created.Address.String(),
		Seed:             created.Seed[:],
		HasCallback:      created.HasCallback(),
		CallbackOverride: created.CallbackOverride,
	})
	s.log.Info("request created",
		"address", created.Address.String(),
		"client", created.ClientID,
		"counter", counter,
		"callback", created.HasCallback(),
	)
	return created, nil
}

// Fulfill verifies a fulfillment proof and advances the targeted entry.
//
// The combined verification, callback dispatch, and state transition commit
// atomically: the single conditional store write happens only after the
// callback (if any) has executed, so a failed dispatch leaves the entry
// observably pending with no randomness. Concurrent fulfillments race on
// that conditional write; at most one wins, the rest get ErrNotPending.
func (s *Service) Fulfill(ctx context.Context, signer ed25519.PublicKey, proof protocol.Proof) (request.Entry, error) {
	start := time.Now()
	e, err := s.fulfill(ctx, signer, proof)
	metrics.FulfillmentDuration.Observe(time.Since(start).Seconds())
	metrics.Fulfillments.WithLabelValues(outcomeLabel(err)).Inc()
	return e, err
}

func (s *Service) fulfill(ctx context.Context, signer ed25519.PublicKey, proof protocol.Proof) (request.Entry, error) {
	if !signer.Equal(s.authority) {
		return request.Entry{}, request.ErrUnauthorizedAuthority
	}

	requester := proof.Seed.Requester()
	addr := protocol.DeriveAddress(requester, proof.Seed)

	lock, _ := s.locks.LoadOrStore(addr, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.entries.GetEntry(ctx, addr)
	if err != nil {
		s.locks.Delete(addr)
		return request.Entry{}, err
	}
	if e.Status != request.StatusPending {
		// Terminal entries never transition again; the mutex is done.
		// A racing holder re-reads the entry and lands here too.
		s.locks.Delete(addr)
		return request.Entry{}, request.ErrNotPending
	}

	if err := protocol.VerifyProof(s.authority, proof); err != nil {
		return request.Entry{}, err
	}

	status := request.StatusFulfilled
	callbackTx := ""
	if e.HasCallback() {
		if s.dispatch == nil {
			return request.Entry{}, fmt.Errorf("%w: no dispatcher configured", request.ErrCallbackExecutionFailed)
		}
		tx, err := s.dispatch.Dispatch(ctx, e, proof.Randomness)
		if err != nil {
			metrics.CallbackDispatches.WithLabelValues("failed").Inc()
			s.log.Warn("callback dispatch failed; fulfillment aborted",
				"address", addr.String(),
				"err", err,
			)
			return request.Entry{}, err
		}
		metrics.CallbackDispatches.WithLabelValues("delivered").Inc()
		status = request.StatusDelivered
		callbackTx = tx
	}

	fulfilled, err := s.entries.FulfillEntry(ctx, addr, proof.Randomness, status, callbackTx, time.Now().UTC())
	if err != nil {
		return request.Entry{}, err
	}
	s.locks.Delete(addr)

	s.bus.Publish(events.Fulfilled{
		ClientID:   fulfilled.ClientID,
		Address:    fulfilled.Address.String(),
		Seed:       fulfilled.Seed[:],
		Randomness: fulfilled.Randomness[:],
	})
	s.bus.Publish(events.Responded{
		ClientID:   fulfilled.ClientID,
		Seed:       fulfilled.Seed[:],
		Randomness: fulfilled.Randomness[:],
	})
	if fulfilled.Status == request.StatusDelivered {
		s.bus.Publish(events.CalledBack{
			Program: fulfilled.Callback.Program.String(),
			Tx:      fulfilled.CallbackTx,
		})
	}

	s.log.Info("request fulfilled",
		"address", fulfilled.Address.String(),
		"status", string(fulfilled.Status),
	)
	return fulfilled, nil
}

// GetEntry returns the entry at addr.
func (s *Service) GetEntry(ctx context.Context, addr protocol.Address) (request.Entry, error) {
	return s.entries.GetEntry(ctx, addr)
}

// GetEntryBySeed returns the entry at the deterministic address for
// (requester, seed).
func (s *Service) GetEntryBySeed(ctx context.Context, requester protocol.Identity, seed protocol.Seed) (request.Entry, error) {
	return s.entries.GetEntry(ctx, protocol.DeriveAddress(requester, seed))
}

// ListEntries returns a client's entries, newest first.
func (s *Service) ListEntries(ctx context.Context, clientID string) ([]request.Entry, error) {
	return s.entries.ListEntries(ctx, clientID)
}

// ListPending returns all pending entries, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]request.Entry, error) {
	return s.entries.ListPendingEntries(ctx)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, request.ErrNotPending):
		return "not_pending"
	case errors.Is(err, request.ErrUnauthorizedAuthority):
		return "unauthorized"
	case errors.Is(err, protocol.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, request.ErrCallbackExecutionFailed):
		return "callback_failed"
	case errors.Is(err, request.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
