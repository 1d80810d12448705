package handlers

import (
	"context"
	"net/http"

	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/payments"
	"event-ticketing-checkout/internal/services"
)

// HoldService is implemented by services.HoldManager
type HoldService interface {
	Reserve(ctx context.Context, eventID, sessionID string, units []models.UnitRequest) (*models.HoldReceipt, error)
	Get(ctx context.Context, token string) (*models.HoldSession, error)
	Extend(ctx context.Context, token string) (*models.HoldReceipt, error)
	Cancel(ctx context.Context, token string) error
	Availability(ctx context.Context, unit models.UnitRef) (*models.UnitAvailability, error)
}

// CheckoutService is implemented by services.CheckoutService
type CheckoutService interface {
	Start(ctx context.Context, req *models.StartCheckoutRequest) (*models.Checkout, error)
	Get(ctx context.Context, orderRef string) (*models.Checkout, error)
	Pay(ctx context.Context, orderRef string, req services.PayRequest) (*models.Checkout, error)
	Resume(ctx context.Context, orderRef string, payload map[string]string) (*models.Checkout, error)
	Cancel(ctx context.Context, orderRef string) (*models.Checkout, error)
	RetryIssuance(ctx context.Context, orderRef string) (*models.Checkout, error)
}

// OrderService is implemented by services.OrderService
type OrderService interface {
	GetOrderWithTickets(ctx context.Context, orderRef string) (*services.OrderView, error)
}

// WebhookParser is implemented by payments.Adapter
type WebhookParser interface {
	ParseWebhook(ctx context.Context, gateway string, header http.Header, body []byte) (*payments.WebhookEvent, error)
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error
