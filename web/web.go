// Package web serves the storefront views as JSON over HTTP. Every route is
// tied to a guard.View; restricted views redirect to the login view when no
// identity is present.
package web

import (
	"context"
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"
	"go.uber.org/zap"

	"github.com/jmcleod/emporia/api"
	"github.com/jmcleod/emporia/cart"
	"github.com/jmcleod/emporia/checkout"
	"github.com/jmcleod/emporia/guard"
	"github.com/jmcleod/emporia/session"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Catalog is the read-only part of the remote API the views need.
type Catalog interface {
	Products(ctx context.Context) ([]api.Product, error)
	Product(ctx context.Context, slug string) (*api.Product, error)
	Categories(ctx context.Context) ([]api.Category, error)
}

// Server holds the state managers behind the views.
type Server struct {
	catalog  Catalog
	sessions *session.Manager
	cart     *cart.Manager
	checkout *checkout.Orchestrator
	logins   *loginRateLimiter
	metrics  *metrics
	logger   *zap.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the structured logger for request and error logging.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a view server over already restored managers.
func New(catalog Catalog, sessions *session.Manager, c *cart.Manager, orch *checkout.Orchestrator, opts ...Option) *Server {
	s := &Server{
		catalog:  catalog,
		sessions: sessions,
		cart:     c,
		checkout: orch,
		logins:   newLoginRateLimiter(),
		metrics:  newMetrics(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "web"))
	return s
}

// Router returns the chi.Router with every view mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(s.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", s.metrics.handler())
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.With(s.View(guard.Catalog)).Get("/catalog", s.Catalog)
	r.With(s.View(guard.Product)).Get("/products/{slug}", s.Product)

	r.Route("/cart", func(r chi.Router) {
		r.Use(s.View(guard.Cart))
		r.Get("/", s.Cart)
		r.Delete("/", s.ClearCart)
		r.Post("/items", s.AddItem)
		r.Put("/items/{productID}", s.UpdateItem)
		r.Delete("/items/{productID}", s.RemoveItem)
	})

	r.With(s.View(guard.Login)).Get("/login", s.LoginView)
	r.With(s.View(guard.Login)).Post("/login", s.Login)
	r.Post("/logout", s.Logout)
	r.With(s.View(guard.Register)).Post("/register", s.Register)

	r.Route("/checkout", func(r chi.Router) {
		r.Use(s.View(guard.Checkout))
		r.Get("/", s.CheckoutView)
		r.Post("/", s.StartCheckout)
		r.Delete("/", s.DiscardCheckout)
		r.Post("/payment", s.ConfirmPayment)
		r.Post("/dismiss", s.DismissPayment)
		r.Post("/verify", s.RetryVerification)
	})
	r.With(s.View(guard.Confirmation)).Get("/confirmation", s.Confirmation)

	return r
}
