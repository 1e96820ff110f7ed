package authority

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/randomness_layer/pkg/protocol"
	"github.com/R3E-Network/randomness_layer/pkg/logger"
	"github.com/R3E-Network/randomness_layer/sdk"
)

// Worker watches the coordinator for pending requests and fulfills them.
//
// Three overlapping sources feed it: the websocket event stream (low
// latency), a polling fallback when the stream is down, and a cron sweep
// that retries anything missed. All retry policy lives here; the
// coordinator never retries.
type Worker struct {
	signer       *Signer
	coord        *sdk.Client
	coordURL     string
	pollInterval time.Duration
	sweepSpec    string
	log          *logger.Logger
}

// Config holds worker configuration.
type Config struct {
	Signer         *Signer
	CoordinatorURL string
	PollInterval   time.Duration
	SweepSchedule  string
	Log            *logger.Logger
}

// NewWorker creates a fulfillment worker.
func NewWorker(cfg Config) *Worker {
	log := cfg.Log
	if log == nil {
		log = logger.NewDefault("authority")
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	sweepSpec := cfg.SweepSchedule
	if sweepSpec == "" {
		sweepSpec = "@every 1m"
	}
	return &Worker{
		signer:       cfg.Signer,
		coord:        sdk.New(cfg.CoordinatorURL),
		coordURL:     cfg.CoordinatorURL,
		pollInterval: pollInterval,
		sweepSpec:    sweepSpec,
		log:          log,
	}
}

// Run blocks fulfilling requests until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(w.sweepSpec, func() { w.sweep(ctx) }); err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Catch up on anything pending before we start watching.
	w.sweep(ctx)

	for {
		if err := w.watch(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("event stream lost; falling back to polling", "err", err)
		}

		// Poll until the stream can be re-established.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval):
			w.sweep(ctx)
		}
	}
}

// watch consumes the coordinator's websocket event stream.
func (w *Worker) watch(ctx context.Context) error {
	wsURL, err := eventStreamURL(w.coordURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	w.log.Info("watching event stream", "url", wsURL)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var frame struct {
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		if frame.Event != "Requested" {
			continue
		}

		var payload struct {
			Seed []byte `json:"seed"`
		}
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			w.log.Warn("malformed Requested payload", "err", err)
			continue
		}
		seed, err := protocol.SeedFromBytes(payload.Seed)
		if err != nil {
			w.log.Warn("malformed seed in event", "err", err)
			continue
		}

		w.fulfill(ctx, seed)
	}
}

// sweep fulfills every currently pending request. Entries that raced with
// the stream path come back NotPending and are skipped.
func (w *Worker) sweep(ctx context.Context) {
	pending, err := w.coord.ListPending(ctx)
	if err != nil {
		w.log.Warn("list pending failed", "err", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	w.log.Info("sweeping pending requests", "count", len(pending))
	for _, entry := range pending {
		seed, err := protocol.SeedFromBase58(entry.Seed)
		if err != nil {
			w.log.Warn("skipping entry with malformed seed", "address", entry.Address, "err", err)
			continue
		}
		w.fulfill(ctx, seed)
	}
}

func (w *Worker) fulfill(ctx context.Context, seed protocol.Seed) {
	proof, err := w.signer.BuildProof(seed)
	if err != nil {
		w.log.Error("build proof failed", "seed", seed.String(), "err", err)
		return
	}

	entry, err := w.coord.SubmitFulfillment(ctx, w.signer.Public(), proof)
	if err != nil {
		if apiErr, ok := err.(*sdk.APIError); ok && apiErr.Status == 409 {
			// Already fulfilled, likely by a racing path of this worker.
			return
		}
		w.log.Warn("fulfillment rejected", "seed", seed.String(), "err", err)
		return
	}

	w.log.Info("request fulfilled",
		"address", entry.Address,
		"status", entry.Status,
		"randomness", entry.Randomness,
	)
}

func eventStreamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/events"
	return u.String(), nil
}
