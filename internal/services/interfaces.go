package services

import (
	"context"
	"time"

	"event-ticketing-checkout/internal/models"
)

// OrderRepository persists orders. CreateOrGet is idempotent on OrderRef.
type OrderRepository interface {
	// CreateOrGet inserts the order unless one with the same OrderRef exists,
	// in which case the stored order is returned and created is false.
	CreateOrGet(ctx context.Context, order *models.Order) (stored *models.Order, created bool, err error)
	GetByOrderRef(ctx context.Context, orderRef string) (*models.Order, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	MarkCompleted(ctx context.Context, orderID string, at time.Time) error
}

// TicketRepository persists tickets. A ticket is unique per (order, sequence).
type TicketRepository interface {
	ListByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error)
	// CreateIfAbsent returns the existing ticket when the slot is already minted.
	CreateIfAbsent(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error)
}

// CheckoutRepository persists checkout state machines. Update uses the
// Version field for optimistic concurrency and increments it on success.
type CheckoutRepository interface {
	Create(ctx context.Context, checkout *models.Checkout) error
	GetByOrderRef(ctx context.Context, orderRef string) (*models.Checkout, error)
	Update(ctx context.Context, checkout *models.Checkout) error
	// ListHoldExpired lists checkouts in one of states whose hold expired before the instant.
	ListHoldExpired(ctx context.Context, states []models.CheckoutState, before time.Time, limit int) ([]*models.Checkout, error)
	// ListStale lists checkouts in one of states not updated since the instant.
	ListStale(ctx context.Context, states []models.CheckoutState, updatedBefore time.Time, limit int) ([]*models.Checkout, error)
}

// EmailSender delivers buyer-facing email
type EmailSender interface {
	SendOrderConfirmation(ctx context.Context, order *models.Order, tickets []*models.Ticket) error
}

// EventPublisher emits domain events to a broker
type EventPublisher interface {
	PublishOrderCompleted(ctx context.Context, event models.OrderCompletedEvent) error
}

// Notifier is the fire-and-forget side of a completed checkout
type Notifier interface {
	Notify(order *models.Order, tickets []*models.Ticket)
}

// Issuer turns a confirmed payment into an order and tickets
type Issuer interface {
	Issue(ctx context.Context, payment ConfirmedPayment, hold *models.HoldSession) (*IssuanceResult, error)
}

// PaymentProcessor is the checkout's view of the payment gateway adapter
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, req models.PaymentRequest) (models.PaymentResult, error)
	ResumeAfterRedirect(ctx context.Context, orderRef string, payload map[string]string) (models.PaymentResult, error)
	// Invalidate stops an unconfirmed attempt from being resumed and returns
	// the attempt as stored, or nil when none exists.
	Invalidate(ctx context.Context, orderRef string) (*models.PaymentAttempt, error)
}
