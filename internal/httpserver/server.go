package httpserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nimbusvault/backend/internal/config"
	"github.com/nimbusvault/backend/internal/handlers"
	appmiddleware "github.com/nimbusvault/backend/internal/middleware"
	"github.com/nimbusvault/backend/internal/reconciler"
)

// Stores bundles the storage clients the HTTP surface depends on.
type Stores struct {
	Tokens handlers.TokenStore
	Users  handlers.UserGetter
	Plans  interface {
		handlers.PlanCatalog
		handlers.PlanGetter
	}
	Subscriptions handlers.SubscriptionReader
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	reconciler *reconciler.Reconciler
}

// New constructs an HTTP server using the provided configuration, storage
// clients, subscription service, and Stripe client.
func New(cfg config.Config, stores Stores, svc interface {
	handlers.Purchaser
	handlers.Confirmer
}, stripeClient handlers.CheckoutClient, rec *reconciler.Reconciler) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(appmiddleware.Metrics())

	checkoutCfg := handlers.CheckoutConfig{
		SuccessURL: cfg.SuccessURL,
		CancelURL:  cfg.CancelURL,
		Currency:   cfg.Currency,
	}

	router.Get("/healthz", handlers.Health)
	router.Handle("/metrics", promhttp.Handler())

	// Stripe calls this; it authenticates via signature, not API token.
	router.Post("/api/webhooks/stripe", handlers.StripeWebhook(svc, cfg.StripeWebhookSecret))

	// The catalog is public; authenticated callers additionally get the
	// prorated upgrade preview.
	router.With(handlers.OptionalUser(stores.Tokens)).
		Get("/api/plans", handlers.ListPlans(stores.Plans, stores.Subscriptions))

	router.Group(func(r chi.Router) {
		r.Use(handlers.RequireUser(stores.Tokens))
		r.Get("/api/subscriptions/me", handlers.MySubscription(stores.Subscriptions))
		r.Get("/api/subscriptions/history", handlers.SubscriptionHistory(stores.Subscriptions))
		r.Post("/api/subscriptions/purchase", handlers.PurchaseSubscription(svc))
		r.Post("/api/checkout", handlers.CreateCheckout(stripeClient, stores.Plans, stores.Users, stores.Subscriptions, checkoutCfg))
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, reconciler: rec}
}

// Start begins serving HTTP traffic and starts the reconciler.
func (s *Server) Start() error {
	if s.reconciler != nil {
		log.Println("[server] Starting subscription reconciler...")
		s.reconciler.Start(context.Background())
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and reconciler.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.reconciler != nil {
		log.Println("[server] Shutting down subscription reconciler...")
		if err := s.reconciler.Stop(ctx); err != nil {
			log.Printf("[server] Reconciler shutdown error: %v", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
