package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/randomness_layer/internal/app/domain/client"
	"github.com/R3E-Network/randomness_layer/internal/app/domain/request"
	"github.com/R3E-Network/randomness_layer/internal/app/storage"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu               sync.RWMutex
	entries          map[protocol.Address]request.Entry
	clients          map[string]client.Client
	clientsByProgram map[protocol.Identity]string
}

var _ storage.RequestStore = (*Store)(nil)
var _ storage.ClientStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		entries:          make(map[protocol.Address]request.Entry),
		clients:          make(map[string]client.Client),
		clientsByProgram: make(map[protocol.Identity]string),
	}
}

// RequestStore implementation ------------------------------------------------

func (s *Store) CreateEntry(_ context.Context, e request.Entry) (request.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.Address]; exists {
		return request.Entry{}, request.ErrDuplicateSeed
	}

	now := time.Now().UTC()
	e.Status = request.StatusPending
	e.Randomness = protocol.Randomness{}
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Callback = cloneCallback(e.Callback)

	s.entries[e.Address] = e
	return cloneEntry(e), nil
}

func (s *Store) GetEntry(_ context.Context, addr protocol.Address) (request.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[addr]
	if !ok {
		return request.Entry{}, request.ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *Store) FulfillEntry(_ context.Context, addr protocol.Address, randomness protocol.Randomness, status request.Status, callbackTx string, fulfilledAt time.Time) (request.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[addr]
	if !ok {
		return request.Entry{}, request.ErrNotFound
	}
	if e.Status != request.StatusPending {
		return request.Entry{}, request.ErrNotPending
	}

	e.Status = status
	e.Randomness = randomness
	e.CallbackTx = callbackTx
	e.FulfilledAt = fulfilledAt
	e.UpdatedAt = time.Now().UTC()

	s.entries[addr] = e
	return cloneEntry(e), nil
}

func (s *Store) ListEntries(_ context.Context, clientID string) ([]request.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []request.Entry
	for _, e := range s.entries {
		if e.ClientID == clientID {
			result = append(result, cloneEntry(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ListPendingEntries(_ context.Context) ([]request.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []request.Entry
	for _, e := range s.entries {
		if e.Status == request.StatusPending {
			result = append(result, cloneEntry(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ClientStore implementation -------------------------------------------------

func (s *Store) CreateClient(_ context.Context, c client.Client) (client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clientsByProgram[c.Program]; exists {
		return client.Client{}, client.ErrAlreadyRegistered
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Callback = cloneCallback(c.Callback)

	s.clients[c.ID] = c
	s.clientsByProgram[c.Program] = c.ID
	return cloneClient(c), nil
}

func (s *Store) UpdateClient(_ context.Context, c client.Client) (client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.clients[c.ID]
	if !ok {
		return client.Client{}, client.ErrNotFound
	}

	c.Program = original.Program
	c.RequestCounter = original.RequestCounter
	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	c.Callback = cloneCallback(c.Callback)

	s.clients[c.ID] = c
	return cloneClient(c), nil
}

func (s *Store) GetClient(_ context.Context, id string) (client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return client.Client{}, client.ErrNotFound
	}
	return cloneClient(c), nil
}

func (s *Store) GetClientByProgram(_ context.Context, program protocol.Identity) (client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.clientsByProgram[program]
	if !ok {
		return client.Client{}, client.ErrNotFound
	}
	return cloneClient(s.clients[id]), nil
}

func (s *Store) ListClients(_ context.Context) ([]client.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]client.Client, 0, len(s.clients))
	for _, c := range s.clients {
		result = append(result, cloneClient(c))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) NextRequestCounter(_ context.Context, id string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return 0, client.ErrNotFound
	}
	c.RequestCounter++
	c.UpdatedAt = time.Now().UTC()
	s.clients[id] = c
	return c.RequestCounter, nil
}

// Helpers ---------------------------------------------------------------------

func cloneEntry(e request.Entry) request.Entry {
	e.Callback = cloneCallback(e.Callback)
	return e
}

func cloneClient(c client.Client) client.Client {
	c.Callback = cloneCallback(c.Callback)
	return c
}

func cloneCallback(cb *request.CallbackDescriptor) *request.CallbackDescriptor {
	if cb == nil {
		return nil
	}
	out := *cb
	out.Accounts = append([]request.AccountMeta(nil), cb.Accounts...)
	return &out
}
