package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	app "github.com/R3E-Network/randomness_layer/internal/app"
	"github.com/R3E-Network/randomness_layer/internal/app/domain/request"
	"github.com/R3E-Network/randomness_layer/internal/app/services/callback"
	"github.com/R3E-Network/randomness_layer/internal/authority"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
	"github.com/R3E-Network/randomness_layer/pkg/testutil"
)

type apiFixture struct {
	srv     *httptest.Server
	signer  *authority.Signer
	invoker *testutil.MockInvoker
}

func newAPIFixture(t *testing.T, jwtSecret []byte) *apiFixture {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := authority.NewSignerFromKey(priv)

	invoker := testutil.NewMockInvoker("tx-1")
	dispatcher := callback.New(invoker, time.Second, nil)

	application, err := app.New(app.Stores{}, signer.Public(), dispatcher, nil)
	if err != nil {
		t.Fatalf("app: %v", err)
	}

	srv := httptest.NewServer(NewHandler(Config{App: application, JWTSecret: jwtSecret}))
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, signer: signer, invoker: invoker}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}, out interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func (f *apiFixture) registerClient(t *testing.T, token string, cb map[string]interface{}) string {
	t.Helper()
	var created struct {
		ID string `json:"ID"`
	}
	status := f.do(t, http.MethodPost, "/v1/clients", token, map[string]interface{}{
		"program":  testutil.Identity(0x01).String(),
		"state":    testutil.Identity(0x02).String(),
		"owner":    testutil.Identity(0x03).String(),
		"callback": cb,
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("register client: status %d", status)
	}
	return created.ID
}

func (f *apiFixture) signerID() string {
	var id protocol.Identity
	copy(id[:], f.signer.Public())
	return id.String()
}

func (f *apiFixture) fulfillmentBody(t *testing.T, encodedSeed string) map[string]string {
	t.Helper()
	seed, err := protocol.SeedFromBase58(encodedSeed)
	if err != nil {
		t.Fatalf("decode seed: %v", err)
	}
	proof, err := f.signer.BuildProof(seed)
	if err != nil {
		t.Fatalf("build proof: %v", err)
	}
	return map[string]string{
		"signer": f.signerID(),
		"proof":  base64.StdEncoding.EncodeToString(proof.Encode()),
	}
}

type entryResponse struct {
	Address    string  `json:"address"`
	Seed       string  `json:"seed"`
	Status     string  `json:"status"`
	Randomness *string `json:"randomness"`
	CallbackTx string  `json:"callback_tx"`
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t, nil)
	clientID := f.registerClient(t, "", nil)

	var entry entryResponse
	status := f.do(t, http.MethodPost, "/v1/requests", "", map[string]string{"client_id": clientID}, &entry)
	if status != http.StatusCreated {
		t.Fatalf("create request: status %d", status)
	}
	if entry.Status != string(request.StatusPending) || entry.Randomness != nil {
		t.Fatalf("unexpected created entry: %+v", entry)
	}

	var fetched entryResponse
	if status := f.do(t, http.MethodGet, "/v1/requests/"+entry.Address, "", nil, &fetched); status != http.StatusOK {
		t.Fatalf("get request: status %d", status)
	}
	if fetched.Seed != entry.Seed {
		t.Fatalf("fetched wrong entry")
	}

	var fulfilled entryResponse
	status = f.do(t, http.MethodPost, "/v1/fulfillments", "", f.fulfillmentBody(t, entry.Seed), &fulfilled)
	if status != http.StatusOK {
		t.Fatalf("submit fulfillment: status %d", status)
	}
	if fulfilled.Status != string(request.StatusFulfilled) || fulfilled.Randomness == nil {
		t.Fatalf("unexpected fulfilled entry: %+v", fulfilled)
	}

	// Replay of the same proof conflicts.
	if status := f.do(t, http.MethodPost, "/v1/fulfillments", "", f.fulfillmentBody(t, entry.Seed), nil); status != http.StatusConflict {
		t.Fatalf("replayed fulfillment: status %d, want 409", status)
	}
}

func TestFulfillmentDispatchesCallback(t *testing.T) {
	f := newAPIFixture(t, nil)
	clientID := f.registerClient(t, "", map[string]interface{}{
		"program": testutil.Identity(0x10).String(),
		"method":  "consume_randomness",
		"accounts": []map[string]interface{}{
			{"address": testutil.Identity(0x11).String(), "writable": true},
		},
	})

	var entry entryResponse
	if status := f.do(t, http.MethodPost, "/v1/requests", "", map[string]string{"client_id": clientID}, &entry); status != http.StatusCreated {
		t.Fatalf("create request: status %d", status)
	}

	var fulfilled entryResponse
	if status := f.do(t, http.MethodPost, "/v1/fulfillments", "", f.fulfillmentBody(t, entry.Seed), &fulfilled); status != http.StatusOK {
		t.Fatalf("submit fulfillment: status %d", status)
	}
	if fulfilled.Status != string(request.StatusDelivered) || fulfilled.CallbackTx != "tx-1" {
		t.Fatalf("unexpected delivered entry: %+v", fulfilled)
	}
	if len(f.invoker.Invocations()) != 1 {
		t.Fatalf("callback not dispatched exactly once")
	}
}

func TestFulfillmentErrorStatusCodes(t *testing.T) {
	f := newAPIFixture(t, nil)
	clientID := f.registerClient(t, "", nil)

	var entry entryResponse
	if status := f.do(t, http.MethodPost, "/v1/requests", "", map[string]string{"client_id": clientID}, &entry); status != http.StatusCreated {
		t.Fatalf("create request: status %d", status)
	}

	// Tampered proof: forged signature maps to 422.
	body := f.fulfillmentBody(t, entry.Seed)
	raw, _ := base64.StdEncoding.DecodeString(body["proof"])
	raw[len(raw)-1] ^= 0xFF
	body["proof"] = base64.StdEncoding.EncodeToString(raw)
	if status := f.do(t, http.MethodPost, "/v1/fulfillments", "", body, nil); status != http.StatusUnprocessableEntity {
		t.Fatalf("forged proof: status %d, want 422", status)
	}

	// Unregistered signer maps to 401.
	body = f.fulfillmentBody(t, entry.Seed)
	body["signer"] = testutil.Identity(0x55).String()
	if status := f.do(t, http.MethodPost, "/v1/fulfillments", "", body, nil); status != http.StatusUnauthorized {
		t.Fatalf("unknown signer: status %d, want 401", status)
	}

	// Truncated proof maps to 400.
	body = f.fulfillmentBody(t, entry.Seed)
	raw, _ = base64.StdEncoding.DecodeString(body["proof"])
	body["proof"] = base64.StdEncoding.EncodeToString(raw[:40])
	if status := f.do(t, http.MethodPost, "/v1/fulfillments", "", body, nil); status != http.StatusBadRequest {
		t.Fatalf("truncated proof: status %d, want 400", status)
	}

	// Unknown entry maps to 404.
	unknownSeed := protocol.NewSeed(testutil.Identity(0x42), 999)
	if status := f.do(t, http.MethodPost, "/v1/fulfillments", "", f.fulfillmentBody(t, unknownSeed.String()), nil); status != http.StatusNotFound {
		t.Fatalf("unknown entry: status %d, want 404", status)
	}
}

func TestGetRequestStatusCodes(t *testing.T) {
	f := newAPIFixture(t, nil)

	if status := f.do(t, http.MethodGet, "/v1/requests/not-base58-0OIl", "", nil, nil); status != http.StatusBadRequest {
		t.Fatalf("malformed address: status %d, want 400", status)
	}

	missing := protocol.DeriveAddress(testutil.Identity(0x01), protocol.NewSeed(testutil.Identity(0x01), 1))
	if status := f.do(t, http.MethodGet, "/v1/requests/"+missing.String(), "", nil, nil); status != http.StatusNotFound {
		t.Fatalf("missing entry: status %d, want 404", status)
	}
}

func TestListPendingRequests(t *testing.T) {
	f := newAPIFixture(t, nil)
	clientID := f.registerClient(t, "", nil)

	for i := 0; i < 3; i++ {
		if status := f.do(t, http.MethodPost, "/v1/requests", "", map[string]string{"client_id": clientID}, nil); status != http.StatusCreated {
			t.Fatalf("create request: status %d", status)
		}
	}

	var pending []entryResponse
	if status := f.do(t, http.MethodGet, "/v1/requests?status=pending", "", nil, &pending); status != http.StatusOK {
		t.Fatalf("list pending: status %d", status)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}

	var byClient []entryResponse
	if status := f.do(t, http.MethodGet, "/v1/requests?client_id="+clientID, "", nil, &byClient); status != http.StatusOK {
		t.Fatalf("list by client: status %d", status)
	}
	if len(byClient) != 3 {
		t.Fatalf("expected 3 entries for client, got %d", len(byClient))
	}

	if status := f.do(t, http.MethodGet, "/v1/requests", "", nil, nil); status != http.StatusBadRequest {
		t.Fatalf("unfiltered list: status %d, want 400", status)
	}
}

func TestAuthorityEndpoint(t *testing.T) {
	f := newAPIFixture(t, nil)

	var resp struct {
		Authority string `json:"authority"`
	}
	if status := f.do(t, http.MethodGet, "/v1/authority", "", nil, &resp); status != http.StatusOK {
		t.Fatalf("authority: status %d", status)
	}
	if resp.Authority != f.signerID() {
		t.Fatalf("authority %s, want %s", resp.Authority, f.signerID())
	}
}

func TestAdminEndpointsRequireJWT(t *testing.T) {
	secret := []byte("test-secret")
	f := newAPIFixture(t, secret)

	if status := f.do(t, http.MethodPost, "/v1/clients", "", map[string]string{}, nil); status != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", status)
	}

	bad, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "admin"}).SignedString([]byte("wrong"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if status := f.do(t, http.MethodPost, "/v1/clients", bad, map[string]string{}, nil); status != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d, want 401", status)
	}

	good, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "admin"}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	f.registerClient(t, good, nil)

	// The public read surface stays open.
	if status := f.do(t, http.MethodGet, "/v1/authority", "", nil, nil); status != http.StatusOK {
		t.Fatalf("public endpoint blocked")
	}
}

type mapCache struct {
	entries map[protocol.Address]request.Entry
	puts    int
}

func (c *mapCache) Get(_ context.Context, addr protocol.Address) (request.Entry, bool) {
	e, ok := c.entries[addr]
	return e, ok
}

func (c *mapCache) Put(_ context.Context, e request.Entry) {
	c.puts++
	c.entries[e.Address] = e
}

func TestTerminalEntriesCachedOnReadPath(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := authority.NewSignerFromKey(priv)

	application, err := app.New(app.Stores{}, signer.Public(), nil, nil)
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	cache := &mapCache{entries: make(map[protocol.Address]request.Entry)}

	srv := httptest.NewServer(NewHandler(Config{App: application, Cache: cache}))
	defer srv.Close()
	f := &apiFixture{srv: srv, signer: signer}

	clientID := f.registerClient(t, "", nil)
	var entry entryResponse
	if status := f.do(t, http.MethodPost, "/v1/requests", "", map[string]string{"client_id": clientID}, &entry); status != http.StatusCreated {
		t.Fatalf("create request: status %d", status)
	}

	// Pending reads never populate the cache.
	if status := f.do(t, http.MethodGet, "/v1/requests/"+entry.Address, "", nil, nil); status != http.StatusOK {
		t.Fatalf("get pending: status %d", status)
	}
	if cache.puts != 0 {
		t.Fatalf("pending entry cached")
	}

	if status := f.do(t, http.MethodPost, "/v1/fulfillments", "", f.fulfillmentBody(t, entry.Seed), nil); status != http.StatusOK {
		t.Fatalf("fulfill: status %d", status)
	}
	if cache.puts != 1 {
		t.Fatalf("terminal entry not cached on fulfillment")
	}

	// Subsequent reads hit the cache.
	if status := f.do(t, http.MethodGet, "/v1/requests/"+entry.Address, "", nil, nil); status != http.StatusOK {
		t.Fatalf("get terminal: status %d", status)
	}
}

func TestEventStreamDeliversEvents(t *testing.T) {
	f := newAPIFixture(t, nil)
	clientID := f.registerClient(t, "", nil)

	// Dial through the full handler stack, instrumentation included: the
	// upgrade must survive the wrapped ResponseWriter.
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial event stream: %v", err)
	}
	defer conn.Close()

	// Give the stream handler a moment to register its subscription.
	time.Sleep(100 * time.Millisecond)

	if status := f.do(t, http.MethodPost, "/v1/requests", "", map[string]string{"client_id": clientID}, nil); status != http.StatusCreated {
		t.Fatalf("create request: status %d", status)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var frame struct {
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
			Display string          `json:"display"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read event frame: %v", err)
		}
		if frame.Event != "Requested" {
			continue
		}
		var payload struct {
			ClientID string `json:"client_id"`
			Seed     []byte `json:"seed"`
		}
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			t.Fatalf("decode Requested payload: %v", err)
		}
		if payload.ClientID != clientID || len(payload.Seed) == 0 {
			t.Fatalf("unexpected Requested payload: %+v", payload)
		}
		return
	}
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t, nil)
	if status := f.do(t, http.MethodGet, "/healthz", "", nil, nil); status != http.StatusOK {
		t.Fatalf("healthz: status %d", status)
	}
}
