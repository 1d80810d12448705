package services

import (
	"context"
	"log"
	"sync"

	"event-ticketing-checkout/internal/models"
)

// MockEmailService logs emails instead of sending them, unless a Resend
// API key is configured.
type MockEmailService struct {
	resendService *ResendEmailService
	useResend     bool

	mu   sync.Mutex
	sent []string
}

// NewMockEmailService creates a new mock email service
func NewMockEmailService(resendConfig *ResendConfig) *MockEmailService {
	service := &MockEmailService{}

	if resendConfig != nil && resendConfig.APIKey != "" {
		service.resendService = NewResendEmailService(*resendConfig)
		service.useResend = true
		log.Println("Email service: Using Resend API")
	} else {
		log.Println("Email service: Using mock (no Resend API key provided)")
	}

	return service
}

// SendOrderConfirmation sends or logs the order confirmation
func (s *MockEmailService) SendOrderConfirmation(ctx context.Context, order *models.Order, tickets []*models.Ticket) error {
	if s.useResend && s.resendService != nil {
		return s.resendService.SendOrderConfirmation(ctx, order, tickets)
	}

	content := orderConfirmationContent(order, tickets)
	log.Printf("\n"+
		"========================================\n"+
		"ORDER CONFIRMATION EMAIL\n"+
		"========================================\n"+
		"To: %s (%s)\n"+
		"Subject: %s\n"+
		"Order: %s\n"+
		"Tickets: %d\n"+
		"Amount: %s\n"+
		"========================================\n",
		order.CustomerEmail, order.DisplayName(), content.Subject, order.OrderNumber, len(tickets),
		FormatAmount(order.TotalAmount, order.Currency))

	for _, ticket := range tickets {
		log.Printf("Mock Email: ticket %d: %s (%s)", ticket.Sequence, ticket.QRCode, ticket.Status)
	}

	s.mu.Lock()
	s.sent = append(s.sent, order.OrderRef)
	s.mu.Unlock()
	return nil
}

// Sent lists the order refs confirmed through the mock
func (s *MockEmailService) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}
