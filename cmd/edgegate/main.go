package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storegate/edge-service/internal/config"
	"storegate/edge-service/internal/engine"
	"storegate/edge-service/internal/headers"
	"storegate/edge-service/internal/httputil"
	"storegate/edge-service/internal/i18n"
	"storegate/edge-service/internal/metrics"
	"storegate/edge-service/internal/rate"
	"storegate/edge-service/internal/session"
	"storegate/edge-service/internal/upstream"
	"storegate/edge-service/internal/validate"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configFlag := flag.String("config", "", "path to config file (overrides EDGEGATE_CONFIG env var)")
	flag.Parse()

	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = os.Getenv("EDGEGATE_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = "./config.yaml"
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			cfgPath = "./config.example.yaml"
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Logging.Level == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("config_path", cfgPath).
		Str("listen", cfg.Server.Listen).
		Bool("hardened", cfg.Modes.Hardened).
		Strs("locales", cfg.Locales.Supported).
		Int("session_lifetime_hours", cfg.Session.LifetimeHours).
		Msg("edgegate starting")

	codec, err := session.NewCodec(cfg.Session.Alg, cfg.Session.Keys, cfg.Session.CurrentKID,
		cfg.Session.Issuer, cfg.Session.SkewSec, cfg.SessionLifetime())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session codec")
	}

	breaker := upstream.NewBreaker(upstream.BreakerConfig{
		FailureThreshold: cfg.Upstream.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Upstream.Breaker.SuccessThreshold,
		Cooldown:         time.Duration(cfg.Upstream.Breaker.CooldownSec) * time.Second,
	})
	authority := upstream.NewClient(cfg.Upstream.BaseURL, cfg.UpstreamTimeout(), breaker, log.Logger)

	resolver := session.NewResolver(codec, authority,
		[]string{cfg.Cookie.Name, cfg.Cookie.SecureName},
		cfg.Session.RefreshCache.Capacity,
		time.Duration(cfg.Session.RefreshCache.TTLSec)*time.Second,
		log.Logger)

	limiter := rate.New(map[rate.Tier]rate.TierLimit{
		rate.TierAuth:    {MaxRequests: cfg.Rate.Auth.MaxRequests, Window: time.Duration(cfg.Rate.Auth.WindowSec) * time.Second},
		rate.TierAPI:     {MaxRequests: cfg.Rate.API.MaxRequests, Window: time.Duration(cfg.Rate.API.WindowSec) * time.Second},
		rate.TierGeneral: {MaxRequests: cfg.Rate.General.MaxRequests, Window: time.Duration(cfg.Rate.General.WindowSec) * time.Second},
	}, cfg.Rate.MaxKeys, time.Duration(cfg.Rate.SweepIntervalSec)*time.Second)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	limiter.Start(sweepCtx)

	validator := validate.New(cfg.Validation.MinUserAgentLen, cfg.Validation.MaxBodyBytes, cfg.Validation.DeniedAgents)
	negotiator := i18n.NewNegotiator(cfg.Locales.Supported, cfg.Locales.Default)
	injector := headers.NewInjector(cfg)

	// Per-process key for anonymizing client IPs in logs.
	ipLogKey := make([]byte, 32)
	if _, err := rand.Read(ipLogKey); err != nil {
		log.Fatal().Err(err).Msg("failed to generate ip log key")
	}

	// The page renderer is an external collaborator; everything behind a
	// Continue decision lands here.
	render := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	gate := engine.New(cfg, limiter, validator, negotiator, resolver, injector, render, log.Logger, ipLogKey)

	authAPI := &authHandler{cfg: cfg, authority: authority, sessions: resolver}

	mux := http.NewServeMux()
	mux.Handle("/api/auth/signin", http.HandlerFunc(authAPI.signin))
	mux.Handle("/api/auth/signout", http.HandlerFunc(authAPI.signout))
	mux.Handle("/api/auth/session", http.HandlerFunc(authAPI.session))
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleHealth(w, breaker)
	}))
	metrics.MustRegister()
	metrics.BuildInfo.Set(1)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", gate)

	handler := Chain(
		httputil.RequestIDMiddleware(log.Logger),
		injector.Middleware,
	)(mux)

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:       90 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Server.Listen).Msg("edgegate listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatal().Err(err).Msg("server error")
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stopSweep()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed, forcing close")
			srv.Close()
		}
		log.Info().Msg("shutdown complete")
	}
}

// Middleware wraps an http.Handler and returns a new handler
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares: Chain(mw1, mw2)(h) => mw1(mw2(h)).
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

func handleHealth(w http.ResponseWriter, breaker *upstream.Breaker) {
	status := struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}{
		Status: "ok",
		Components: map[string]string{
			"gate":     "ok",
			"upstream": breaker.State().String(),
		},
	}
	if breaker.State() != upstream.StateClosed {
		status.Status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}
