package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/reelcut/backend/internal/api/handlers"
	"github.com/reelcut/backend/internal/api/middleware"
	"github.com/reelcut/backend/internal/modules/entitlement"
	"github.com/reelcut/backend/internal/modules/renders"
	"github.com/reelcut/backend/internal/modules/subscription"
	"github.com/reelcut/backend/internal/modules/usage"
	"github.com/reelcut/backend/internal/shared/config"
	"github.com/reelcut/backend/internal/shared/database"
	"github.com/reelcut/backend/internal/shared/metrics"
	"go.uber.org/zap"
)

// ServerConfig holds dependencies for the API server
type ServerConfig struct {
	Config          *config.Config
	Logger          *zap.Logger
	DB              *database.Postgres
	Redis           *database.Redis
	Metrics         *metrics.Metrics
	Gatherer        prometheus.Gatherer
	Resolver        *entitlement.Resolver
	Enforcer        *entitlement.Enforcer
	Prices          *entitlement.PriceMapper
	Ledger          *usage.Ledger
	Snapshots       *usage.SnapshotCache
	RendersModule   *renders.Module
	SubscriptionSvc *subscription.Service
}

// Server represents the API server
type Server struct {
	config          *config.Config
	logger          *zap.Logger
	db              *database.Postgres
	redis           *database.Redis
	metrics         *metrics.Metrics
	gatherer        prometheus.Gatherer
	resolver        *entitlement.Resolver
	enforcer        *entitlement.Enforcer
	prices          *entitlement.PriceMapper
	ledger          *usage.Ledger
	snapshots       *usage.SnapshotCache
	rendersModule   *renders.Module
	subscriptionSvc *subscription.Service
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		config:          cfg.Config,
		logger:          cfg.Logger,
		db:              cfg.DB,
		redis:           cfg.Redis,
		metrics:         cfg.Metrics,
		gatherer:        gatherer,
		resolver:        cfg.Resolver,
		enforcer:        cfg.Enforcer,
		prices:          cfg.Prices,
		ledger:          cfg.Ledger,
		snapshots:       cfg.Snapshots,
		rendersModule:   cfg.RendersModule,
		subscriptionSvc: cfg.SubscriptionSvc,
	}
}

// Router returns the configured HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	if s.metrics != nil {
		r.Use(middleware.MetricsMiddleware(s.metrics))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var rateLimiter *middleware.RateLimiter
	if s.redis != nil {
		rateLimiter = middleware.NewRateLimiter(s.redis.Client, s.logger)
		// Before auth so it catches everything
		r.Use(rateLimiter.Limit(middleware.GlobalRateLimit(s.config.RateLimitRequests, s.config.RateLimitWindow)))
	}
	limit := func(cfg middleware.RateLimitConfig) func(http.Handler) http.Handler {
		if rateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return rateLimiter.Limit(cfg)
	}

	var tierLookup middleware.TierLookup
	if s.subscriptionSvc != nil {
		tierLookup = s.subscriptionSvc
	}
	auth := middleware.NewAuthMiddleware(s.config.SupabaseJWTSecret, tierLookup, s.logger)

	// Create handlers
	checks := map[string]handlers.HealthChecker{}
	if s.db != nil {
		checks["postgres"] = s.db
	}
	if s.redis != nil {
		checks["redis"] = s.redis
	}
	healthHandler := handlers.NewHealthHandler(checks)
	catalogHandler := handlers.NewCatalogHandler(s.resolver, s.prices)
	entitlementHandler := handlers.NewEntitlementHandler(s.enforcer, s.ledger, s.snapshots, s.logger)
	renderHandler := handlers.NewRenderHandler(s.rendersModule, s.logger)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public
		r.Get("/health", healthHandler.Health)
		r.Get("/ready", healthHandler.Ready)
		r.Get("/catalog", catalogHandler.Get)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(auth.Handler)
			r.Use(middleware.NoCache)

			r.Route("/entitlements", func(r chi.Router) {
				r.Get("/me", entitlementHandler.GetMe)
				r.Post("/check", entitlementHandler.Check)
			})

			r.With(limit(middleware.RenderSubmissionRateLimit)).Post("/renders", renderHandler.Create)

			if s.subscriptionSvc != nil {
				subscriptionHandler := handlers.NewSubscriptionHandler(s.subscriptionSvc, s.prices, handlers.StripeConfig{
					SecretKey:       s.config.StripeSecretKey,
					SuccessURL:      s.config.StripeSuccessURL,
					CancelURL:       s.config.StripeCancelURL,
					PortalReturnURL: s.config.StripePortalReturnURL,
				}, s.logger)
				adminHandler := handlers.NewAdminHandler(s.subscriptionSvc, s.logger)

				r.Route("/subscription", func(r chi.Router) {
					r.Get("/me", subscriptionHandler.GetMe)
					r.With(limit(middleware.CheckoutRateLimit)).Post("/checkout", subscriptionHandler.CreateCheckout)
					r.With(limit(middleware.CheckoutRateLimit)).Post("/portal", subscriptionHandler.CreatePortal)
				})

				r.Route("/admin/accounts/{id}", func(r chi.Router) {
					r.Use(middleware.RequireRole(s.config.AdminRole))
					r.Put("/overrides", adminHandler.PutOverrides)
					r.Delete("/overrides", adminHandler.DeleteOverrides)
					r.Put("/tier", adminHandler.PutTier)
				})
			}
		})
	})

	return r
}
