// Package rediscache provides a Redis-backed read cache for terminal request
// ledger entries. The store remains authoritative; only entries that can no
// longer change are cached.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/randomness_layer/internal/app/domain/request"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
	"github.com/R3E-Network/randomness_layer/pkg/logger"
)

const keyPrefix = "rl:entry:"

// Cache caches terminal entries in Redis.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log *logger.Logger
}

// New creates a cache over the given Redis client. ttl <= 0 stores entries
// for 24 hours.
func New(rdb *redis.Client, ttl time.Duration, log *logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = logger.NewDefault("rediscache")
	}
	return &Cache{rdb: rdb, ttl: ttl, log: log}
}

type cachedEntry struct {
	Seed             protocol.Seed               `json:"seed"`
	Requester        protocol.Identity           `json:"requester"`
	ClientID         string                      `json:"client_id"`
	Status           request.Status              `json:"status"`
	Randomness       protocol.Randomness         `json:"randomness"`
	Callback         *request.CallbackDescriptor `json:"callback,omitempty"`
	CallbackOverride bool                        `json:"callback_override"`
	CallbackTx       string                      `json:"callback_tx,omitempty"`
	FulfilledAt      time.Time                   `json:"fulfilled_at"`
	CreatedAt        time.Time                   `json:"created_at"`
}

// Get returns the cached entry at addr, if present. Cache errors degrade to
// a miss.
func (c *Cache) Get(ctx context.Context, addr protocol.Address) (request.Entry, bool) {
	raw, err := c.rdb.Get(ctx, keyPrefix+addr.String()).Bytes()
	if err == redis.Nil {
		return request.Entry{}, false
	}
	if err != nil {
		c.log.Warn("cache read failed", "addr", addr.String(), "err", err)
		return request.Entry{}, false
	}

	var cached cachedEntry
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.log.Warn("cache entry corrupt", "addr", addr.String(), "err", err)
		return request.Entry{}, false
	}

	return request.Entry{
		Address:          addr,
		Seed:             cached.Seed,
		Requester:        cached.Requester,
		ClientID:         cached.ClientID,
		Status:           cached.Status,
		Randomness:       cached.Randomness,
		Callback:         cached.Callback,
		CallbackOverride: cached.CallbackOverride,
		CallbackTx:       cached.CallbackTx,
		FulfilledAt:      cached.FulfilledAt,
		CreatedAt:        cached.CreatedAt,
	}, true
}

// Put caches a terminal entry. Non-terminal entries are ignored.
func (c *Cache) Put(ctx context.Context, e request.Entry) {
	if !e.Status.Terminal(e.HasCallback()) {
		return
	}

	raw, err := json.Marshal(cachedEntry{
		Seed:             e.Seed,
		Requester:        e.Requester,
		ClientID:         e.ClientID,
		Status:           e.Status,
		Randomness:       e.Randomness,
		Callback:         e.Callback,
		CallbackOverride: e.CallbackOverride,
		CallbackTx:       e.CallbackTx,
		FulfilledAt:      e.FulfilledAt,
		CreatedAt:        e.CreatedAt,
	})
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, keyPrefix+e.Address.String(), raw, c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", "addr", e.Address.String(), "err", err)
	}
}
