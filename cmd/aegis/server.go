package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/aegis/pkg/api"
	"github.com/Mindburn-Labs/aegis/pkg/auth"
	"github.com/Mindburn-Labs/aegis/pkg/capability"
	"github.com/Mindburn-Labs/aegis/pkg/config"
	"github.com/Mindburn-Labs/aegis/pkg/events"
	"github.com/Mindburn-Labs/aegis/pkg/observability"
	"github.com/Mindburn-Labs/aegis/pkg/recovery"
	"github.com/Mindburn-Labs/aegis/pkg/store"
	"github.com/Mindburn-Labs/aegis/pkg/throttle"
)

func runServer() int {
	fmt.Fprintf(os.Stdout, "%sAegis Recovery starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()

	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	logger := slog.Default().With("component", "server")

	profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.Profile)
	if err != nil {
		logger.Error("profile load failed", "error", err)
		return 1
	}
	defaultPeriod, err := profile.DefaultPeriod()
	if err != nil {
		logger.Error("profile default period invalid", "error", err)
		return 1
	}
	floor, err := profile.FloorPeriod()
	if err != nil {
		logger.Error("profile floor invalid", "error", err)
		return 1
	}
	cooldown, err := profile.Cooldown()
	if err != nil {
		logger.Error("profile cooldown invalid", "error", err)
		return 1
	}
	cancelPolicy := recovery.CancelPolicy(profile.CancelPolicy)
	if profile.CancelPolicy == "" {
		cancelPolicy = recovery.CancelTwoPhase
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		logger.Error("database open failed", "path", cfg.DatabasePath, "error", err)
		return 1
	}
	defer db.Close()
	// Single writer; the sqlite driver serializes anyway, this avoids
	// SQLITE_BUSY under concurrent updates.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		return 1
	}

	ledger, err := store.NewSQLiteLedger(db, defaultPeriod)
	if err != nil {
		logger.Error("ledger init failed", "error", err)
		return 1
	}
	eventStore, err := events.NewSQLiteStore(db)
	if err != nil {
		logger.Error("event store init failed", "error", err)
		return 1
	}
	lastSeq, lastHash, err := eventStore.Last(ctx)
	if err != nil {
		logger.Error("event chain read failed", "error", err)
		return 1
	}
	eventLog := events.NewLog().WithSink(eventStore).Resume(lastSeq, lastHash)
	if lastSeq > 0 {
		logger.Info("event chain resumed", "sequence", lastSeq)
	}

	validators := capability.NewRegistry()
	for _, v := range profile.Validators {
		validators.Register(v.ID, capability.NewWebhookValidator(v.Endpoint, nil))
		logger.Info("validator registered", "id", v.ID, "endpoint", v.Endpoint)
	}

	svc := recovery.NewService(ledger, validators, eventLog, recovery.Options{
		MinSecurityPeriod: floor,
		TriggerCooldown:   cooldown,
		CancelPolicy:      cancelPolicy,
	})

	var obs *observability.Provider
	if cfg.Telemetry {
		obsCfg := observability.DefaultConfig()
		obsCfg.ServiceVersion = version
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Insecure = true
		obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			logger.Error("observability init failed", "error", err)
			return 1
		}
		defer func() { _ = obs.Shutdown(context.Background()) }()
	}

	var tm *auth.TokenManager
	if cfg.JWTSecret != "" {
		tm, err = auth.NewTokenManager([]byte(cfg.JWTSecret))
		if err != nil {
			logger.Error("token manager init failed", "error", err)
			return 1
		}
	} else {
		logger.Warn("AEGIS_JWT_SECRET not set; all authenticated endpoints will reject")
	}

	var limiter throttle.Store
	if cfg.RedisAddr != "" {
		limiter = throttle.NewRedisStore(cfg.RedisAddr, "", 0)
		logger.Info("rate limiter: redis", "addr", cfg.RedisAddr)
	} else {
		limiter = throttle.NewMemoryStore()
		logger.Info("rate limiter: in-memory")
	}

	mux := http.NewServeMux()
	api.NewHandler(svc, eventLog).Register(mux)

	handler := api.Chain(mux,
		api.RequestIDMiddleware,
		api.AuthMiddleware(tm),
		api.RateLimitMiddleware(limiter, throttle.Policy{RPM: 120, Burst: 30}),
	)
	if obs != nil {
		handler = obs.HTTPMiddleware(handler)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "profile", profile.Code)
		errCh <- srv.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return 1
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return 1
	}
	return 0
}

func setupLogging(level string) {
	var lv slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lv = slog.LevelDebug
	case "WARN":
		lv = slog.LevelWarn
	case "ERROR":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv})))
}
