package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"event-ticketing-checkout/internal/models"
)

const resendAPIURL = "https://api.resend.com"

// ResendConfig represents Resend email service configuration
type ResendConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
}

// ResendEmailService handles email sending via Resend API
type ResendEmailService struct {
	config ResendConfig
	client *http.Client
}

// NewResendEmailService creates a new Resend email service
func NewResendEmailService(config ResendConfig) *ResendEmailService {
	if config.BaseURL == "" {
		config.BaseURL = resendAPIURL
	}
	return &ResendEmailService{
		config: config,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ResendEmailRequest represents the request structure for Resend API
type ResendEmailRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Tags    []ResendTag       `json:"tags,omitempty"`
}

// ResendTag represents a tag for email categorization
type ResendTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ResendEmailResponse represents the response from Resend API
type ResendEmailResponse struct {
	ID string `json:"id"`
}

// ResendErrorResponse represents error response from Resend API
type ResendErrorResponse struct {
	Message string `json:"message"`
	Name    string `json:"name"`
}

// getFromField constructs the from field properly
func (s *ResendEmailService) getFromField() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.FromEmail)
	}
	return s.config.FromEmail
}

// SendOrderConfirmation emails the buyer their order and ticket codes
func (s *ResendEmailService) SendOrderConfirmation(ctx context.Context, order *models.Order, tickets []*models.Ticket) error {
	content := orderConfirmationContent(order, tickets)

	request := ResendEmailRequest{
		From:    s.getFromField(),
		To:      []string{order.CustomerEmail},
		Subject: content.Subject,
		HTML:    content.HTML,
		Text:    content.Text,
		Tags: []ResendTag{
			{Name: "category", Value: "order_confirmation"},
			{Name: "order_number", Value: order.OrderNumber},
		},
	}

	// Resend de-duplicates on the key, so a repeated notification does not
	// send a second email.
	_, err := s.sendEmail(ctx, request, "order-confirmation/"+order.OrderRef)
	return err
}

// sendEmail sends an email via Resend API and returns its id
func (s *ResendEmailService) sendEmail(ctx context.Context, request ResendEmailRequest, idempotencyKey string) (string, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+"/emails", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errorResp ResendErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
			return "", fmt.Errorf("failed to send email, status: %d", resp.StatusCode)
		}
		return "", fmt.Errorf("failed to send email: %s", errorResp.Message)
	}

	var response ResendEmailResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return response.ID, nil
}
