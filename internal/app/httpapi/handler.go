// Package httpapi exposes the randomness layer's REST and websocket API.
package httpapi

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/randomness_layer/internal/app"
	"github.com/R3E-Network/randomness_layer/internal/app/domain/client"
	"github.com/R3E-Network/randomness_layer/internal/app/domain/request"
	"github.com/R3E-Network/randomness_layer/internal/app/metrics"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
	"github.com/R3E-Network/randomness_layer/pkg/logger"
)

// EntryCache caches terminal entries on the read path. Implementations must
// treat misses as cheap; the store remains authoritative.
type EntryCache interface {
	Get(ctx context.Context, addr protocol.Address) (request.Entry, bool)
	Put(ctx context.Context, e request.Entry)
}

// Config holds handler configuration.
type Config struct {
	App *app.Application

	// JWTSecret protects the admin client-registry surface. Empty disables
	// admin auth (local development only).
	JWTSecret []byte

	// RateLimit caps per-caller request rates; zero disables limiting.
	RateLimitPerSecond int
	RateLimitBurst     int

	// Cache, when non-nil, serves terminal entries on reads.
	Cache EntryCache

	Log *logger.Logger
}

type handler struct {
	app   *app.Application
	cache EntryCache
	log   *logger.Logger
}

// NewHandler returns the HTTP handler exposing the coordinator API.
func NewHandler(cfg Config) http.Handler {
	log := cfg.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: cfg.App, cache: cfg.Cache, log: log}

	r := mux.NewRouter()

	admin := func(next http.HandlerFunc) http.Handler {
		return JWTAuth(cfg.JWTSecret, next)
	}

	r.Handle("/v1/clients", admin(h.registerClient)).Methods(http.MethodPost)
	r.Handle("/v1/clients", admin(h.listClients)).Methods(http.MethodGet)
	r.HandleFunc("/v1/clients/{id}", h.getClient).Methods(http.MethodGet)
	r.Handle("/v1/clients/{id}/transfer", admin(h.transferClient)).Methods(http.MethodPost)
	r.Handle("/v1/clients/{id}/fund", admin(h.fundClient)).Methods(http.MethodPost)
	r.Handle("/v1/clients/{id}/withdraw", admin(h.withdrawClient)).Methods(http.MethodPost)
	r.Handle("/v1/clients/{id}/callback", admin(h.setClientCallback)).Methods(http.MethodPut)
	r.Handle("/v1/clients/{id}/callback", admin(h.clearClientCallback)).Methods(http.MethodDelete)

	r.HandleFunc("/v1/requests", h.createRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/requests", h.listRequests).Methods(http.MethodGet)
	r.HandleFunc("/v1/requests/{address}", h.getRequest).Methods(http.MethodGet)
	r.HandleFunc("/v1/fulfillments", h.submitFulfillment).Methods(http.MethodPost)
	r.HandleFunc("/v1/authority", h.getAuthority).Methods(http.MethodGet)
	r.HandleFunc("/v1/events", h.streamEvents).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	var wrapped http.Handler = r
	if cfg.RateLimitPerSecond > 0 {
		wrapped = NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, log).Handler(wrapped)
	}
	return instrumentRoutes(r, wrapped)
}

// instrumentRoutes labels metrics with the matched route template.
func instrumentRoutes(r *mux.Router, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path
		var match mux.RouteMatch
		if r.Match(req, &match) && match.Route != nil {
			if tmpl, err := match.Route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		metrics.Instrument(path, next).ServeHTTP(w, req)
	})
}

// --- Clients ----------------------------------------------------------------

type callbackPayload struct {
	Program  string `json:"program"`
	Method   string `json:"method"`
	Accounts []struct {
		Address  string `json:"address"`
		Writable bool   `json:"writable"`
		Signer   bool   `json:"signer"`
	} `json:"accounts"`
}

func (p *callbackPayload) descriptor() (*request.CallbackDescriptor, error) {
	if p == nil {
		return nil, nil
	}
	program, err := protocol.IdentityFromBase58(p.Program)
	if err != nil {
		return nil, err
	}
	if p.Method == "" {
		return nil, fmt.Errorf("%w: callback method required", protocol.ErrMalformedPayload)
	}

	cb := &request.CallbackDescriptor{Program: program, Method: p.Method}
	for _, acc := range p.Accounts {
		addr, err := protocol.IdentityFromBase58(acc.Address)
		if err != nil {
			return nil, err
		}
		cb.Accounts = append(cb.Accounts, request.AccountMeta{
			Address:  addr,
			Writable: acc.Writable,
			Signer:   acc.Signer,
		})
	}
	return cb, nil
}

func (h *handler) registerClient(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Program  string           `json:"program"`
		State    string           `json:"state"`
		Owner    string           `json:"owner"`
		Callback *callbackPayload `json:"callback"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	program, err := protocol.IdentityFromBase58(payload.Program)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	state, err := protocol.IdentityFromBase58(payload.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := protocol.IdentityFromBase58(payload.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	callback, err := payload.Callback.descriptor()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.app.Clients.Register(r.Context(), program, state, owner, callback)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listClients(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Clients.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getClient(w http.ResponseWriter, r *http.Request) {
	cl, err := h.app.Clients.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cl)
}

func (h *handler) transferClient(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Owner    string `json:"owner"`
		NewOwner string `json:"new_owner"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := protocol.IdentityFromBase58(payload.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	newOwner, err := protocol.IdentityFromBase58(payload.NewOwner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cl, err := h.app.Clients.Transfer(r.Context(), mux.Vars(r)["id"], owner, newOwner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cl)
}

func (h *handler) fundClient(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cl, err := h.app.Clients.Fund(r.Context(), mux.Vars(r)["id"], payload.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cl)
}

func (h *handler) withdrawClient(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Owner  string `json:"owner"`
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := protocol.IdentityFromBase58(payload.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cl, err := h.app.Clients.Withdraw(r.Context(), mux.Vars(r)["id"], owner, payload.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cl)
}

func (h *handler) setClientCallback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Owner    string           `json:"owner"`
		Callback *callbackPayload `json:"callback"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := protocol.IdentityFromBase58(payload.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	callback, err := payload.Callback.descriptor()
	if err != nil || callback == nil {
		if err == nil {
			err = fmt.Errorf("%w: callback required", protocol.ErrMalformedPayload)
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cl, err := h.app.Clients.SetCallback(r.Context(), mux.Vars(r)["id"], owner, callback)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cl)
}

func (h *handler) clearClientCallback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Owner string `json:"owner"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := protocol.IdentityFromBase58(payload.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cl, err := h.app.Clients.ClearCallback(r.Context(), mux.Vars(r)["id"], owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cl)
}

// --- Requests ---------------------------------------------------------------

func (h *handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ClientID string           `json:"client_id"`
		Callback *callbackPayload `json:"callback"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	callback, err := payload.Callback.descriptor()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.app.Requests.Request(r.Context(), payload.ClientID, callback)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entryDTO(entry))
}

func (h *handler) listRequests(w http.ResponseWriter, r *http.Request) {
	var (
		entries []request.Entry
		err     error
	)
	switch {
	case r.URL.Query().Get("status") == string(request.StatusPending):
		entries, err = h.app.Requests.ListPending(r.Context())
	case r.URL.Query().Get("client_id") != "":
		entries, err = h.app.Requests.ListEntries(r.Context(), r.URL.Query().Get("client_id"))
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("status=pending or client_id query required"))
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	addr, err := protocol.AddressFromBase58(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if h.cache != nil {
		if e, ok := h.cache.Get(r.Context(), addr); ok {
			writeJSON(w, http.StatusOK, entryDTO(e))
			return
		}
	}

	entry, err := h.app.Requests.GetEntry(r.Context(), addr)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if h.cache != nil && entry.Status.Terminal(entry.HasCallback()) {
		h.cache.Put(r.Context(), entry)
	}
	writeJSON(w, http.StatusOK, entryDTO(entry))
}

func (h *handler) submitFulfillment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Signer string `json:"signer"`
		Proof  string `json:"proof"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	signer, err := protocol.IdentityFromBase58(payload.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rawProof, err := base64.StdEncoding.DecodeString(payload.Proof)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: proof: %v", protocol.ErrMalformedPayload, err))
		return
	}
	proof, err := protocol.DecodeProof(rawProof)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.app.Requests.Fulfill(r.Context(), ed25519.PublicKey(signer[:]), proof)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if h.cache != nil && entry.Status.Terminal(entry.HasCallback()) {
		h.cache.Put(r.Context(), entry)
	}
	writeJSON(w, http.StatusOK, entryDTO(entry))
}

func (h *handler) getAuthority(w http.ResponseWriter, r *http.Request) {
	key := h.app.Requests.Authority()
	var id protocol.Identity
	copy(id[:], key)
	writeJSON(w, http.StatusOK, map[string]string{"authority": id.String()})
}

// --- DTOs and helpers -------------------------------------------------------

type entryJSON struct {
	Address          protocol.Address            `json:"address"`
	Seed             protocol.Seed               `json:"seed"`
	Requester        protocol.Identity           `json:"requester"`
	ClientID         string                      `json:"client_id"`
	Status           request.Status              `json:"status"`
	Randomness       *protocol.Randomness        `json:"randomness,omitempty"`
	Callback         *request.CallbackDescriptor `json:"callback,omitempty"`
	CallbackOverride bool                        `json:"callback_override,omitempty"`
	CallbackTx       string                      `json:"callback_tx,omitempty"`
	FulfilledAt      *time.Time                  `json:"fulfilled_at,omitempty"`
	CreatedAt        time.Time                   `json:"created_at"`
}

func entryDTO(e request.Entry) entryJSON {
	out := entryJSON{
		Address:          e.Address,
		Seed:             e.Seed,
		Requester:        e.Requester,
		ClientID:         e.ClientID,
		Status:           e.Status,
		Callback:         e.Callback,
		CallbackOverride: e.CallbackOverride,
		CallbackTx:       e.CallbackTx,
		CreatedAt:        e.CreatedAt,
	}
	if e.Fulfilled() {
		randomness := e.Randomness
		out.Randomness = &randomness
	}
	if !e.FulfilledAt.IsZero() {
		fulfilledAt := e.FulfilledAt
		out.FulfilledAt = &fulfilledAt
	}
	return out
}

func decodeJSON(body io.Reader, dst interface{}) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeServiceError maps domain sentinels onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, protocol.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, request.ErrUnauthorizedAuthority):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, client.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, client.ErrNotOwner):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, request.ErrNotFound), errors.Is(err, client.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, request.ErrDuplicateSeed),
		errors.Is(err, request.ErrNotPending),
		errors.Is(err, client.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, protocol.ErrInvalidSignature):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, request.ErrCallbackExecutionFailed):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
