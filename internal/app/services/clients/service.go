// Package clients manages the registry of consumer programs: registration,
// ownership transfer, balance withdrawal, and client-level callbacks.
package clients

import (
	"context"
	"fmt"

	"github.com/R3E-Network/randomness_layer/internal/app/domain/client"
	"github.com/R3E-Network/randomness_layer/internal/app/domain/request"
	"github.com/R3E-Network/randomness_layer/internal/app/storage"
	"github.com/R3E-Network/randomness_layer/internal/events"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
	"github.com/R3E-Network/randomness_layer/pkg/logger"
)

// Service manages registered clients.
type Service struct {
	store storage.ClientStore
	bus   *events.Bus
	log   *logger.Logger
}

// New constructs a client registry service.
func New(store storage.ClientStore, bus *events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("clients")
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Service{store: store, bus: bus, log: log}
}

// Register registers a consumer program as a client. callback, when
// non-nil, becomes the client-level default applied to requests without
// their own descriptor.
func (s *Service) Register(ctx context.Context, program, state, owner protocol.Identity, callback *request.CallbackDescriptor) (client.Client, error) {
	created, err := s.store.CreateClient(ctx, client.Client{
		Program:  program,
		State:    state,
		Owner:    owner,
		Callback: callback,
	})
	if err != nil {
		return client.Client{}, err
	}

	s.bus.Publish(events.Registered{
		ClientID: created.ID,
		Program:  created.Program.String(),
		State:    created.State.String(),
		Owner:    created.Owner.String(),
	})
	s.log.Info("client registered", "client", created.ID, "program", created.Program.String())
	return created, nil
}

// Get returns the client with the given ID.
func (s *Service) Get(ctx context.Context, id string) (client.Client, error) {
	return s.store.GetClient(ctx, id)
}

// GetByProgram returns the client registered for the program identity.
func (s *Service) GetByProgram(ctx context.Context, program protocol.Identity) (client.Client, error) {
	return s.store.GetClientByProgram(ctx, program)
}

// List returns all registered clients.
func (s *Service) List(ctx context.Context) ([]client.Client, error) {
	return s.store.ListClients(ctx)
}

// Transfer moves client ownership. Only the current owner may transfer.
func (s *Service) Transfer(ctx context.Context, id string, owner, newOwner protocol.Identity) (client.Client, error) {
	cl, err := s.store.GetClient(ctx, id)
	if err != nil {
		return client.Client{}, err
	}
	if cl.Owner != owner {
		return client.Client{}, client.ErrNotOwner
	}

	prevOwner := cl.Owner
	cl.Owner = newOwner
	updated, err := s.store.UpdateClient(ctx, cl)
	if err != nil {
		return client.Client{}, err
	}

	s.bus.Publish(events.Transferred{
		ClientID: updated.ID,
		Owner:    prevOwner.String(),
		NewOwner: updated.Owner.String(),
	})
	return updated, nil
}

// Fund credits the client's balance.
func (s *Service) Fund(ctx context.Context, id string, amount uint64) (client.Client, error) {
	cl, err := s.store.GetClient(ctx, id)
	if err != nil {
		return client.Client{}, err
	}

	cl.Balance += amount
	return s.store.UpdateClient(ctx, cl)
}

// Withdraw debits amount from the client's balance. Only the owner may
// withdraw; the balance never goes negative.
func (s *Service) Withdraw(ctx context.Context, id string, owner protocol.Identity, amount uint64) (client.Client, error) {
	cl, err := s.store.GetClient(ctx, id)
	if err != nil {
		return client.Client{}, err
	}
	if cl.Owner != owner {
		return client.Client{}, client.ErrNotOwner
	}
	if amount > cl.Balance {
		return client.Client{}, fmt.Errorf("%w: have %d, want %d", client.ErrInsufficientBalance, cl.Balance, amount)
	}

	cl.Balance -= amount
	updated, err := s.store.UpdateClient(ctx, cl)
	if err != nil {
		return client.Client{}, err
	}

	s.bus.Publish(events.Withdrawn{
		ClientID: updated.ID,
		Owner:    updated.Owner.String(),
		Amount:   amount,
	})
	return updated, nil
}

// SetCallback installs the client-level callback descriptor; ClearCallback
// removes it. Both are owner-only.
func (s *Service) SetCallback(ctx context.Context, id string, owner protocol.Identity, callback *request.CallbackDescriptor) (client.Client, error) {
	return s.updateCallback(ctx, id, owner, callback)
}

// ClearCallback removes the client-level callback descriptor.
func (s *Service) ClearCallback(ctx context.Context, id string, owner protocol.Identity) (client.Client, error) {
	return s.updateCallback(ctx, id, owner, nil)
}

func (s *Service) updateCallback(ctx context.Context, id string, owner protocol.Identity, callback *request.CallbackDescriptor) (client.Client, error) {
	cl, err := s.store.GetClient(ctx, id)
	if err != nil {
		return client.Client{}, err
	}
	if cl.Owner != owner {
		return client.Client{}, client.ErrNotOwner
	}

	cl.Callback = callback
	updated, err := s.store.UpdateClient(ctx, cl)
	if err != nil {
		return client.Client{}, err
	}

	s.bus.Publish(events.CallbackUpdated{
		ClientID: updated.ID,
		Owner:    updated.Owner.String(),
		Defined:  callback != nil,
	})
	return updated, nil
}
