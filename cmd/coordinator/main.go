// Command coordinator runs the randomness layer coordinator: the request
// ledger, proof verification, and callback dispatch behind the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/randomness_layer/internal/app"
	"github.com/R3E-Network/randomness_layer/internal/app/httpapi"
	"github.com/R3E-Network/randomness_layer/internal/app/services/callback"
	"github.com/R3E-Network/randomness_layer/internal/app/services/requests"
	"github.com/R3E-Network/randomness_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/randomness_layer/internal/app/storage/rediscache"
	"github.com/R3E-Network/randomness_layer/internal/chain"
	"github.com/R3E-Network/randomness_layer/internal/config"
	"github.com/R3E-Network/randomness_layer/internal/platform/migrations"
	"github.com/R3E-Network/randomness_layer/pkg/protocol"
	"github.com/R3E-Network/randomness_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	log := logger.NewDefault("coordinator")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("load config: %v", err)
		os.Exit(1)
	}

	authorityID, err := protocol.IdentityFromBase58(cfg.Authority.PublicKey)
	if err != nil {
		log.Errorf("authority public key: %v", err)
		os.Exit(1)
	}

	stores := app.Stores{}
	if cfg.Database.URL != "" {
		db, err := sqlx.Connect("postgres", cfg.Database.URL)
		if err != nil {
			log.Errorf("connect database: %v", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := migrations.Run(db.DB); err != nil {
			log.Errorf("run migrations: %v", err)
			os.Exit(1)
		}

		store := postgres.New(db)
		stores.Requests = store
		stores.Clients = store
		log.Info("using postgres store")
	} else {
		log.Warn("no database configured; using in-memory store")
	}

	var dispatcher requests.CallbackDispatcher
	if cfg.Ledger.RPCURL != "" {
		ledger, err := chain.NewClient(chain.Config{
			RPCURL:  cfg.Ledger.RPCURL,
			Timeout: cfg.Ledger.Timeout,
		})
		if err != nil {
			log.Errorf("create ledger client: %v", err)
			os.Exit(1)
		}
		dispatcher = callback.New(ledger, cfg.Ledger.WaitTimeout, log.Named("callback"))
	} else {
		log.Warn("no ledger RPC configured; callback requests will fail to fulfill")
	}

	application, err := app.New(stores, authorityID[:], dispatcher, log)
	if err != nil {
		log.Errorf("build application: %v", err)
		os.Exit(1)
	}

	var cache httpapi.EntryCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		cache = rediscache.New(rdb, cfg.Redis.CacheTTL, log.Named("cache"))
		log.Info("entry cache enabled", "addr", cfg.Redis.Addr)
	}

	handler := httpapi.NewHandler(httpapi.Config{
		App:                application,
		JWTSecret:          []byte(cfg.Server.JWTSecret),
		RateLimitPerSecond: cfg.Server.RateLimitPerSecond,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
		Cache:              cache,
		Log:                log.Named("httpapi"),
	})

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("coordinator listening", "addr", cfg.Server.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("shutdown: %v", err)
	}
}
