// Package app wires the randomness layer's domain services together.
package app

import (
	"crypto/ed25519"
	"fmt"

	"github.com/R3E-Network/randomness_layer/internal/app/services/clients"
	"github.com/R3E-Network/randomness_layer/internal/app/services/requests"
	"github.com/R3E-Network/randomness_layer/internal/app/storage"
	"github.com/R3E-Network/randomness_layer/internal/app/storage/memory"
	"github.com/R3E-Network/randomness_layer/internal/events"
	"github.com/R3E-Network/randomness_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Requests storage.RequestStore
	Clients  storage.ClientStore
}

// Application ties domain services together.
type Application struct {
	log *logger.Logger

	Bus      *events.Bus
	Clients  *clients.Service
	Requests *requests.Service
}

// New builds a fully initialised application with the provided stores.
// authority is the registered fulfillment authority key; dispatcher may be
// nil when callback delivery is disabled.
func New(stores Stores, authority ed25519.PublicKey, dispatcher requests.CallbackDispatcher, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if len(authority) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("authority key is %d bytes, want %d", len(authority), ed25519.PublicKeySize)
	}

	mem := memory.New()
	if stores.Requests == nil {
		stores.Requests = mem
	}
	if stores.Clients == nil {
		stores.Clients = mem
	}

	bus := events.NewBus()

	return &Application{
		log:      log,
		Bus:      bus,
		Clients:  clients.New(stores.Clients, bus, log.Named("clients")),
		Requests: requests.New(stores.Clients, stores.Requests, authority, dispatcher, bus, log.Named("requests")),
	}, nil
}
