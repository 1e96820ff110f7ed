// Package events defines the events emitted by the randomness layer on every
// state transition, with a stable wire encoding: an 8-byte discriminator
// followed by a JSON payload.
package events

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// DiscriminatorSize is the length of the event discriminator prefix.
const DiscriminatorSize = 8

// ErrUnknownEvent indicates that the discriminator does not match any known
// event.
var ErrUnknownEvent = errors.New("unknown event")

// Event is implemented by every event emitted by the coordinator.
type Event interface {
	fmt.Stringer
	// Name returns the event's wire name, from which its discriminator is
	// derived.
	Name() string
}

// Discriminator returns the 8-byte discriminator for an event name:
// SHA-256("event:" + name)[:8].
func Discriminator(name string) []byte {
	sum := sha256.Sum256([]byte("event:" + name))
	return sum[:DiscriminatorSize]
}

// Registered is emitted when a consumer program registers as a client.
type Registered struct {
	ClientID string `json:"client_id"`
	Program  string `json:"program"`
	State    string `json:"state"`
	Owner    string `json:"owner"`
}

func (Registered) Name() string { return "Registered" }
func (e Registered) String() string {
	return fmt.Sprintf("Registered: %s as %s with %s by %s", e.ClientID, e.Program, e.State, e.Owner)
}

// Requested is emitted when a new request ledger entry is created.
type Requested struct {
	ClientID         string `json:"client_id"`
	Address          string `json:"address"`
	Seed             []byte `json:"seed"`
	HasCallback      bool   `json:"has_callback"`
	CallbackOverride bool   `json:"callback_override"`
}

func (Requested) Name() string { return "Requested" }
func (e Requested) String() string {
	with := "without"
	if e.HasCallback {
		if e.CallbackOverride {
			with = "with request-level"
		} else {
			with = "with client-level"
		}
	}
	return fmt.Sprintf("Requested: %s by %s %s callback", base58.Encode(e.Seed), e.ClientID, with)
}

// Fulfilled is emitted when an entry's randomness is committed.
type Fulfilled struct {
	ClientID   string `json:"client_id"`
	Address    string `json:"address"`
	Seed       []byte `json:"seed"`
	Randomness []byte `json:"randomness"`
}

func (Fulfilled) Name() string { return "Fulfilled" }
func (e Fulfilled) String() string {
	return fmt.Sprintf("Fulfilled: %s for %s with %s", base58.Encode(e.Seed), e.ClientID, base58.Encode(e.Randomness))
}

// CalledBack is emitted after a successful callback dispatch.
type CalledBack struct {
	Program string `json:"program"`
	Tx      string `json:"tx,omitempty"`
}

func (CalledBack) Name() string { return "CalledBack" }
func (e CalledBack) String() string {
	return fmt.Sprintf("CalledBack: %s", e.Program)
}

// Responded is emitted alongside Fulfilled when the randomness is handed to
// the requesting client.
type Responded struct {
	ClientID   string `json:"client_id"`
	Seed       []byte `json:"seed"`
	Randomness []byte `json:"randomness"`
}

func (Responded) Name() string { return "Responded" }
func (e Responded) String() string {
	return fmt.Sprintf("Responded: %s to %s with %s", e.ClientID, base58.Encode(e.Seed), base58.Encode(e.Randomness))
}

// CallbackUpdated is emitted when a client-level callback is set or cleared.
type CallbackUpdated struct {
	ClientID string `json:"client_id"`
	Owner    string `json:"owner"`
	Defined  bool   `json:"defined"`
}

func (CallbackUpdated) Name() string { return "CallbackUpdated" }
func (e CallbackUpdated) String() string {
	action := "unset"
	if e.Defined {
		action = "set"
	}
	return fmt.Sprintf("CallbackUpdated: %s for %s by %s", action, e.ClientID, e.Owner)
}

// Transferred is emitted when client ownership changes.
type Transferred struct {
	ClientID string `json:"client_id"`
	Owner    string `json:"owner"`
	NewOwner string `json:"new_owner"`
}

func (Transferred) Name() string { return "Transferred" }
func (e Transferred) String() string {
	return fmt.Sprintf("Transferred: %s from %s to %s", e.ClientID, e.Owner, e.NewOwner)
}

// Withdrawn is emitted when a client owner withdraws balance.
type Withdrawn struct {
	ClientID string `json:"client_id"`
	Owner    string `json:"owner"`
	Amount   uint64 `json:"amount"`
}

func (Withdrawn) Name() string { return "Withdrawn" }
func (e Withdrawn) String() string {
	return fmt.Sprintf("Withdrawn: %d from %s by %s", e.Amount, e.ClientID, e.Owner)
}

// Encode serializes an event as discriminator || JSON payload.
func Encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return append(Discriminator(ev.Name()), payload...), nil
}

// Parse decodes an event from its wire encoding. Unknown discriminators
// return ErrUnknownEvent.
func Parse(raw []byte) (Event, error) {
	if len(raw) < DiscriminatorSize {
		return nil, ErrUnknownEvent
	}
	disc, payload := raw[:DiscriminatorSize], raw[DiscriminatorSize:]

	for _, proto := range []Event{
		Registered{}, Requested{}, Fulfilled{}, CalledBack{},
		Responded{}, CallbackUpdated{}, Transferred{}, Withdrawn{},
	} {
		if !bytes.Equal(disc, Discriminator(proto.Name())) {
			continue
		}
		return decodeAs(proto, payload)
	}
	return nil, ErrUnknownEvent
}

func decodeAs(proto Event, payload []byte) (Event, error) {
	switch proto.(type) {
	case Registered:
		var ev Registered
		return ev, json.Unmarshal(payload, &ev)
	case Requested:
		var ev Requested
		return ev, json.Unmarshal(payload, &ev)
	case Fulfilled:
		var ev Fulfilled
		return ev, json.Unmarshal(payload, &ev)
	case CalledBack:
		var ev CalledBack
		return ev, json.Unmarshal(payload, &ev)
	case Responded:
		var ev Responded
		return ev, json.Unmarshal(payload, &ev)
	case CallbackUpdated:
		var ev CallbackUpdated
		return ev, json.Unmarshal(payload, &ev)
	case Transferred:
		var ev Transferred
		return ev, json.Unmarshal(payload, &ev)
	case Withdrawn:
		var ev Withdrawn
		return ev, json.Unmarshal(payload, &ev)
	}
	return nil, ErrUnknownEvent
}
