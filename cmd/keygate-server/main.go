// Package main is the entrypoint for the Keygate server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/keygate-io/keygate/internal/api"
	"github.com/keygate-io/keygate/internal/api/handlers"
	"github.com/keygate-io/keygate/internal/config"
	"github.com/keygate-io/keygate/internal/db"
	"github.com/keygate-io/keygate/internal/license"
	"github.com/keygate-io/keygate/internal/maintenance"
	"github.com/keygate-io/keygate/internal/metrics"
	"github.com/keygate-io/keygate/internal/notifications"
	"github.com/keygate-io/keygate/internal/payments"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Keygate server")

	// Load configuration
	cfg := config.LoadServerConfig()

	// Connect to database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL environment variable is required")
		return 1
	}

	database, err := db.New(ctx, db.DefaultConfig(databaseURL), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
		return 1
	}
	defer database.Close()

	// Run migrations
	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
		return 1
	}

	// License lifecycle
	lifecycleCfg := license.DefaultConfig()
	lifecycleCfg.TrialDays = cfg.TrialDays
	lifecycle := license.NewLifecycle(database, lifecycleCfg, logger)

	// Payment gateway client and signature verifier
	var gateway payments.Gateway
	var verifier *payments.SignatureVerifier
	if cfg.GatewayKeyID != "" && cfg.GatewayKeySecret != "" {
		gateway = payments.NewClient(payments.ClientConfig{
			BaseURL:   cfg.GatewayBaseURL,
			KeyID:     cfg.GatewayKeyID,
			KeySecret: cfg.GatewayKeySecret,
		}, logger)
		verifier = payments.NewSignatureVerifier(cfg.GatewayKeySecret)
		logger.Info().Str("key_id", cfg.GatewayKeyID).Msg("Payment gateway configured")
	} else {
		logger.Warn().Msg("No payment gateway credentials configured, checkout routes disabled")
	}

	// Email delivery for issued keys
	var mailer handlers.LicenseMailer
	if cfg.SMTPHost != "" {
		emailService, err := notifications.NewEmailService(notifications.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			TLS:      cfg.SMTPTLS,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid SMTP configuration")
			return 1
		}
		mailer = emailService
	} else {
		logger.Info().Msg("SMTP not configured, license keys are not emailed")
	}

	// Prometheus metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(metrics.NewLicenseCollector(database, logger))
	m := metrics.NewMetrics(registry)

	// Build API router
	allowedOrigins := strings.Split(os.Getenv("CORS_ORIGINS"), ",")
	if os.Getenv("CORS_ORIGINS") == "" {
		allowedOrigins = []string{}
	}

	rateLimitRequests := int64(100)
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitRequests = n
		}
	}
	rateLimitPeriod := "1m"
	if v := os.Getenv("RATE_LIMIT_PERIOD"); v != "" {
		rateLimitPeriod = v
	}

	routerCfg := api.Config{
		Environment:       cfg.Environment,
		AllowedOrigins:    allowedOrigins,
		RateLimitRequests: rateLimitRequests,
		RateLimitPeriod:   rateLimitPeriod,
		RedisURL:          os.Getenv("REDIS_URL"),
		AdminAPIKey:       cfg.AdminAPIKey,
		Checkout: handlers.CheckoutConfig{
			Amount:   cfg.CheckoutAmount,
			Currency: cfg.CheckoutCurrency,
		},
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}

	router, err := api.NewRouter(routerCfg, database, lifecycle, gateway, verifier, mailer, registry, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize router")
		return 1
	}

	// Start HTTP server
	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		listenAddr = ":" + port
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info().Str("addr", listenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Start expiry sweep scheduler
	expiryScheduler := maintenance.NewExpiryScheduler(database, logger)
	if err := expiryScheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start expiry scheduler")
	}
	defer expiryScheduler.Stop()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}
