// Package sdk is the client library for the randomness layer coordinator.
//
// It builds and submits requests, derives entry addresses, and polls entry
// state. Polling and backoff policy live here; the coordinator exposes no
// blocking primitive.
package sdk

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/R3E-Network/randomness_layer/pkg/protocol"
)

// Client talks to a coordinator instance.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// AdminToken, when set, is sent as a bearer token on admin calls.
	AdminToken string
}

// New creates a client for the coordinator at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// AccountMeta mirrors one callback account with its access mode.
type AccountMeta struct {
	Address  string `json:"address"`
	Writable bool   `json:"writable"`
	Signer   bool   `json:"signer"`
}

// Callback describes a callback instruction to attach to a client or a
// single request.
type Callback struct {
	Program  string        `json:"program"`
	Method   string        `json:"method"`
	Accounts []AccountMeta `json:"accounts,omitempty"`
}

// ClientInfo is a registered client as reported by the coordinator.
type ClientInfo struct {
	ID             string    `json:"ID"`
	Program        string    `json:"Program"`
	State          string    `json:"State"`
	Owner          string    `json:"Owner"`
	Callback       *Callback `json:"Callback,omitempty"`
	Balance        uint64    `json:"Balance"`
	RequestCounter uint64    `json:"RequestCounter"`
}

// Entry is a request ledger entry as reported by the coordinator.
type Entry struct {
	Address          string     `json:"address"`
	Seed             string     `json:"seed"`
	Requester        string     `json:"requester"`
	ClientID         string     `json:"client_id"`
	Status           string     `json:"status"`
	Randomness       string     `json:"randomness,omitempty"`
	Callback         *Callback  `json:"callback,omitempty"`
	CallbackOverride bool       `json:"callback_override,omitempty"`
	CallbackTx       string     `json:"callback_tx,omitempty"`
	FulfilledAt      *time.Time `json:"fulfilled_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Fulfilled reports whether the entry carries committed randomness.
func (e Entry) Fulfilled() bool {
	return e.Status == "fulfilled" || e.Status == "delivered"
}

// Register registers a consumer program as a client. Admin-only.
func (c *Client) Register(ctx context.Context, program, state, owner string, callback *Callback) (ClientInfo, error) {
	payload := map[string]interface{}{
		"program": program,
		"state":   state,
		"owner":   owner,
	}
	if callback != nil {
		payload["callback"] = callback
	}

	var out ClientInfo
	err := c.do(ctx, http.MethodPost, "/v1/clients", payload, true, &out)
	return out, err
}

// SubmitRequest creates a new randomness request for the client. callback,
// when non-nil, overrides the client-level descriptor for this request.
func (c *Client) SubmitRequest(ctx context.Context, clientID string, callback *Callback) (Entry, error) {
	payload := map[string]interface{}{"client_id": clientID}
	if callback != nil {
		payload["callback"] = callback
	}

	var out Entry
	err := c.do(ctx, http.MethodPost, "/v1/requests", payload, false, &out)
	return out, err
}

// SubmitFulfillment submits a fulfillment proof. Authority-only: the proof
// must be signed by the registered authority key.
func (c *Client) SubmitFulfillment(ctx context.Context, signer ed25519.PublicKey, proof protocol.Proof) (Entry, error) {
	var id protocol.Identity
	copy(id[:], signer)

	payload := map[string]interface{}{
		"signer": id.String(),
		"proof":  base64.StdEncoding.EncodeToString(proof.Encode()),
	}

	var out Entry
	err := c.do(ctx, http.MethodPost, "/v1/fulfillments", payload, false, &out)
	return out, err
}

// FetchEntry fetches the entry at the deterministic address for
// (requester, seed). The address is derived locally; no round trip is needed
// to locate an entry.
func (c *Client) FetchEntry(ctx context.Context, requester protocol.Identity, seed protocol.Seed) (Entry, error) {
	return c.FetchEntryByAddress(ctx, protocol.DeriveAddress(requester, seed).String())
}

// FetchEntryByAddress fetches the entry at a known address.
func (c *Client) FetchEntryByAddress(ctx context.Context, address string) (Entry, error) {
	var out Entry
	err := c.do(ctx, http.MethodGet, "/v1/requests/"+address, nil, false, &out)
	return out, err
}

// ListPending lists all pending entries, oldest first.
func (c *Client) ListPending(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := c.do(ctx, http.MethodGet, "/v1/requests?status=pending", nil, false, &out)
	return out, err
}

// Authority returns the registered fulfillment authority public key.
func (c *Client) Authority(ctx context.Context) (ed25519.PublicKey, error) {
	var out struct {
		Authority string `json:"authority"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/authority", nil, false, &out); err != nil {
		return nil, err
	}
	id, err := protocol.IdentityFromBase58(out.Authority)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(id[:]), nil
}

const (
	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 8 * time.Second
)

// WaitFulfilled polls the entry at address with exponential backoff until it
// is fulfilled or ctx is done.
func (c *Client) WaitFulfilled(ctx context.Context, address string) (Entry, error) {
	backoff := initialBackoff
	for {
		entry, err := c.FetchEntryByAddress(ctx, address)
		if err == nil && entry.Fulfilled() {
			return entry, nil
		}
		if err != nil && !isRetryable(err) {
			return Entry{}, err
		}

		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// APIError is a non-2xx coordinator response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coordinator returned %d: %s", e.Status, e.Message)
}

func isRetryable(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		// Transport errors are worth retrying.
		return true
	}
	return apiErr.Status >= http.StatusInternalServerError
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}, admin bool, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin && c.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AdminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
