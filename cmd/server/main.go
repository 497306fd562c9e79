package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bundlechat/internal/app"
	"bundlechat/internal/config"
	"bundlechat/internal/live"
	"bundlechat/internal/ratelimit"
	"bundlechat/internal/server"
	"bundlechat/internal/usertoken"
	"bundlechat/internal/util"
	"bundlechat/pkg/storage"
	"bundlechat/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel)

	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		util.Fatal("failed to parse jwt leeway", "err", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		util.Fatal("failed to init jwks verifier", "err", err)
	}

	var dataStore store.Store
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			util.Fatal("failed to init postgres store", "err", err)
		}
		dataStore = gormStore
		slog.Info("using postgres store")
	} else {
		dataStore = store.NewMemoryStore()
		slog.Warn("databaseURL not set, using in-memory store")
	}

	var presence store.PresenceStore
	if cfg.RedisAddr != "" {
		presence = store.NewRedisPresence(cfg.RedisAddr, cfg.RedisPassword, "bundlechat:typing")
		slog.Info("using redis typing presence", "addr", cfg.RedisAddr)
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			util.Fatal("failed to init object store", "err", err)
		}
		objects = minioStore
		slog.Info("uploads enabled", "endpoint", cfg.MinioEndpoint, "bucket", cfg.MinioBucket)
	} else {
		slog.Warn("minioEndpoint not set, uploads disabled")
	}

	bus := live.NewBus()
	var relay *live.Relay
	if cfg.AMQPURL != "" {
		relay, err = live.NewRelay(cfg.AMQPURL, bus)
		if err != nil {
			util.Fatal("failed to init invalidation relay", "err", err)
		}
		defer relay.Close()
		slog.Info("multi-node invalidation relay enabled")
	}

	appCfg := app.Config{
		Store:    dataStore,
		Presence: presence,
		Objects:  objects,
		Bus:      bus,
	}
	if relay != nil {
		appCfg.Relay = relay
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.MutationRateLimit > 0 && cfg.RedisAddr != "" {
		window, err := config.ParseMutationRateWindow(cfg.MutationRateWindow)
		if err != nil {
			util.Fatal("failed to parse rate limit window", "err", err)
		}
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "bundlechat:ratelimit", cfg.MutationRateLimit, window)
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
	}

	httpServer := server.New(server.Config{
		App:           appCore,
		TokenVerifier: tokenVerifier,
		Limiter:       limiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// SSE responses stay open; only reads are bounded.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if relay != nil {
		group.Go(func() error {
			return relay.Consume(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
