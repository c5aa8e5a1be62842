// Package api provides the HTTP API for the Keygate server.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/keygate-io/keygate/internal/api/handlers"
	"github.com/keygate-io/keygate/internal/api/middleware"
	"github.com/keygate-io/keygate/internal/config"
	"github.com/keygate-io/keygate/internal/db"
	"github.com/keygate-io/keygate/internal/license"
	"github.com/keygate-io/keygate/internal/metrics"
	"github.com/keygate-io/keygate/internal/payments"
)

// Config holds configuration for the API router.
type Config struct {
	// Environment controls environment-sensitive behavior such as the CORS
	// policy on empty origins.
	Environment config.Environment
	// AllowedOrigins for CORS. Empty means all origins allowed in dev mode.
	AllowedOrigins []string
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	RateLimitPeriod string
	// RedisURL backs the rate limiter with a shared store when set.
	RedisURL string
	// AdminAPIKey guards the admin routes. Empty disables the admin API.
	AdminAPIKey string
	// Checkout holds the purchase amount and currency for the checkout flow.
	Checkout handlers.CheckoutConfig
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		Environment:       config.EnvDevelopment,
		AllowedOrigins:    []string{},
		RateLimitRequests: 100,
		RateLimitPeriod:   "1m",
		Version:           "dev",
		Commit:            "unknown",
		BuildDate:         "unknown",
	}
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies. gateway,
// verifier, and mailer may each be nil when the checkout flow or email
// delivery is not configured; the corresponding routes are skipped.
func NewRouter(
	cfg Config,
	database *db.DB,
	lifecycle *license.Lifecycle,
	gateway payments.Gateway,
	verifier *payments.SignatureVerifier,
	mailer handlers.LicenseMailer,
	registry *prometheus.Registry,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Environment))

	// Rate limiting
	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Health check endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(database, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	// Prometheus metrics endpoint (no auth required)
	if registry != nil {
		metricsHandler := handlers.NewMetricsHandler(registry)
		metricsHandler.RegisterPublicRoutes(r.Engine)
	}

	// Version endpoint (no auth required)
	versionHandler := handlers.NewVersionHandler(handlers.VersionInfo{
		Version:   cfg.Version,
		GitCommit: cfg.Commit,
		BuildDate: cfg.BuildDate,
	})
	versionHandler.RegisterPublicRoutes(r.Engine)

	// Client API: activation and trial claims from desktop installs.
	apiV1 := r.Engine.Group("/api/v1")

	activationHandler := handlers.NewActivationHandler(lifecycle, m, logger)
	activationHandler.RegisterRoutes(apiV1)

	// Checkout routes only make sense with a gateway to talk to.
	if gateway != nil && verifier != nil {
		checkoutHandler := handlers.NewCheckoutHandler(gateway, verifier, lifecycle, mailer, m, cfg.Checkout, logger)
		checkoutHandler.RegisterRoutes(apiV1)
	}

	// Admin API (API key auth required)
	if cfg.AdminAPIKey != "" {
		adminAPI := r.Engine.Group("/api/v1/admin")
		adminAPI.Use(middleware.AdminAPIKey(cfg.AdminAPIKey, logger))

		licenseHandler := handlers.NewLicenseHandler(database, lifecycle, logger)
		licenseHandler.RegisterRoutes(adminAPI)
	} else {
		r.logger.Warn().Msg("no admin API key configured, admin routes disabled")
	}

	r.logger.Info().Msg("API router initialized")
	return r, nil
}
