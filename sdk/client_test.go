package sdk_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	app "github.com/R3E-Network/randomness_layer/internal/app"
	"github.com/R3E-Network/randomness_layer/internal/app/httpapi"
	"github.com/R3E-Network/randomness_layer/internal/authority"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
	"github.com/R3E-Network/randomness_layer/pkg/testutil"
	"github.com/R3E-Network/randomness_layer/sdk"
)

func newCoordinator(t *testing.T) (*sdk.Client, *authority.Signer) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := authority.NewSignerFromKey(priv)

	application, err := app.New(app.Stores{}, signer.Public(), nil, nil)
	if err != nil {
		t.Fatalf("app: %v", err)
	}

	srv := httptest.NewServer(httpapi.NewHandler(httpapi.Config{App: application}))
	t.Cleanup(srv.Close)
	return sdk.New(srv.URL), signer
}

func TestRequestAndFetchAgainstCoordinator(t *testing.T) {
	c, signer := newCoordinator(t)
	ctx := context.Background()

	registered, err := c.Register(ctx,
		testutil.Identity(0x01).String(), testutil.Identity(0x02).String(), testutil.Identity(0x03).String(), nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	entry, err := c.SubmitRequest(ctx, registered.ID, nil)
	if err != nil {
		t.Fatalf("submit request: %v", err)
	}
	if entry.Status != "pending" {
		t.Fatalf("expected pending, got %s", entry.Status)
	}

	// The entry is reachable through the locally derived address.
	seed, err := protocol.SeedFromBase58(entry.Seed)
	if err != nil {
		t.Fatalf("decode seed: %v", err)
	}
	fetched, err := c.FetchEntry(ctx, seed.Requester(), seed)
	if err != nil {
		t.Fatalf("fetch entry: %v", err)
	}
	if fetched.Address != entry.Address {
		t.Fatalf("derived address mismatch: %s vs %s", fetched.Address, entry.Address)
	}

	proof, err := signer.BuildProof(seed)
	if err != nil {
		t.Fatalf("build proof: %v", err)
	}
	fulfilled, err := c.SubmitFulfillment(ctx, signer.Public(), proof)
	if err != nil {
		t.Fatalf("submit fulfillment: %v", err)
	}
	if !fulfilled.Fulfilled() || fulfilled.Randomness == "" {
		t.Fatalf("unexpected fulfilled entry: %+v", fulfilled)
	}
}

func TestAuthorityRoundTrip(t *testing.T) {
	c, signer := newCoordinator(t)

	key, err := c.Authority(context.Background())
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	if !key.Equal(signer.Public()) {
		t.Fatalf("authority key mismatch")
	}
}

func TestListPending(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	registered, err := c.Register(ctx,
		testutil.Identity(0x01).String(), testutil.Identity(0x02).String(), testutil.Identity(0x03).String(), nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := c.SubmitRequest(ctx, registered.ID, nil); err != nil {
			t.Fatalf("submit request: %v", err)
		}
	}

	pending, err := c.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
}

func TestSubmitFulfillmentSurfacesAPIError(t *testing.T) {
	c, signer := newCoordinator(t)

	// No entry exists for this seed.
	proof, err := signer.BuildProof(protocol.NewSeed(testutil.Identity(0x42), 1))
	if err != nil {
		t.Fatalf("build proof: %v", err)
	}
	_, err = c.SubmitFulfillment(context.Background(), signer.Public(), proof)
	apiErr, ok := err.(*sdk.APIError)
	if !ok {
		t.Fatalf("expected *sdk.APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Fatalf("status %d, want 404", apiErr.Status)
	}
}

func TestWaitFulfilledPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "pending"
		if calls.Add(1) >= 3 {
			status = "fulfilled"
		}
		_ = json.NewEncoder(w).Encode(sdk.Entry{Address: "addr", Status: status})
	}))
	defer srv.Close()

	c := sdk.New(srv.URL)
	c.SetHTTPTimeoutForTest(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entry, err := c.WaitFulfilled(ctx, "addr")
	if err != nil {
		t.Fatalf("wait fulfilled: %v", err)
	}
	if entry.Status != "fulfilled" {
		t.Fatalf("expected fulfilled, got %s", entry.Status)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls.Load())
	}
}

func TestWaitFulfilledStopsOnNonRetryableError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	}))
	defer srv.Close()

	c := sdk.New(srv.URL)
	if _, err := c.WaitFulfilled(context.Background(), "addr"); err == nil {
		t.Fatalf("expected error for missing entry")
	}
}

func TestWaitFulfilledHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sdk.Entry{Address: "addr", Status: "pending"})
	}))
	defer srv.Close()

	c := sdk.New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if _, err := c.WaitFulfilled(ctx, "addr"); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
