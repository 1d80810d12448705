package handlers

import (
	"net/http"

	"event-ticketing-checkout/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig wires the handlers into a router
type RouterConfig struct {
	Holds          *HoldHandler
	Checkouts      *CheckoutHandler
	Payments       *PaymentHandler
	Admin          *AdminHandler
	AdminAPIKey    string
	AllowedOrigins []string
	// RateLimiter guards hold and checkout creation. Nil disables it.
	RateLimiter *middleware.RateLimiter
	// ClientIP resolves the rate limit key. Nil trusts no proxy headers.
	ClientIP *middleware.ClientIPResolver
}

// NewRouter builds the HTTP API
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.ErrorHandlingMiddleware)
	r.Use(chimiddleware.CleanPath)
	r.Use(middleware.SecurityHeadersMiddleware)

	r.NotFound(middleware.NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler().ServeHTTP)

	r.Get("/healthz", cfg.Admin.Health)

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimiter != nil {
		limit = middleware.RateLimit(cfg.RateLimiter, cfg.ClientIP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig(cfg.AllowedOrigins)))

		r.With(limit).Post("/holds", cfg.Holds.CreateHold)
		r.Get("/holds/{token}", cfg.Holds.GetHold)
		r.Post("/holds/{token}/extend", cfg.Holds.ExtendHold)
		r.Delete("/holds/{token}", cfg.Holds.CancelHold)
		r.Get("/units/{unitRef}", cfg.Holds.GetAvailability)

		r.With(limit).Post("/checkouts", cfg.Checkouts.StartCheckout)
		r.Get("/checkouts/{orderRef}", cfg.Checkouts.GetCheckout)
		r.Post("/checkouts/{orderRef}/pay", cfg.Checkouts.PayCheckout)
		r.Post("/checkouts/{orderRef}/cancel", cfg.Checkouts.CancelCheckout)

		r.Get("/orders/{orderRef}", cfg.Checkouts.GetOrder)
	})

	r.Get("/payments/{gateway}/return", cfg.Payments.PaymentReturn)
	r.Post("/webhooks/{gateway}", cfg.Payments.Webhook)

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(cfg.AdminAPIKey))
		r.Post("/checkouts/{orderRef}/reissue", cfg.Admin.ReissueCheckout)
	})

	return r
}
