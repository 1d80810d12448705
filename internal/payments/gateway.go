// Package payments puts token-based and redirect-based payment providers
// behind one idempotent interface keyed by order reference.
package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"event-ticketing-checkout/internal/models"
)

// Flow describes how a gateway completes a charge.
type Flow string

const (
	// FlowToken charges synchronously with a client-side tokenized instrument.
	FlowToken Flow = "token"
	// FlowRedirect sends the buyer to the provider and resolves on return.
	FlowRedirect Flow = "redirect"
)

// ChargeResult is what a gateway reports for one call.
type ChargeResult struct {
	Result models.PaymentResult
	// ExternalReference identifies a pending redirect flow at the provider.
	ExternalReference string
}

// Gateway is a single payment provider. Implementations must forward the
// idempotency key so that a repeated call never charges twice, and must
// report failures as *models.PaymentError.
type Gateway interface {
	Name() string
	Flow() Flow
	Charge(ctx context.Context, req models.PaymentRequest, idempotencyKey string) (*ChargeResult, error)
	// Resume resolves a redirect flow from the provider's return or webhook payload.
	Resume(ctx context.Context, attempt *models.PaymentAttempt, payload map[string]string) (*ChargeResult, error)
}

// WebhookEvent is a provider notification translated to an order reference
// and a resume payload.
type WebhookEvent struct {
	OrderRef string
	Type     string
	Payload  map[string]string
}

// WebhookParser is implemented by gateways that push results asynchronously.
// A nil event with a nil error means the notification is not relevant.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, header http.Header, body []byte) (*WebhookEvent, error)
}

// ErrWebhookSignature is returned when a webhook fails verification.
var ErrWebhookSignature = errors.New("webhook signature verification failed")

// formatDecimal renders minor units as a two-decimal amount string.
func formatDecimal(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

func declined(gateway, reason string) error {
	return &models.PaymentError{Code: models.PaymentDeclined, Gateway: gateway, Message: reason}
}

func timeout(gateway string, err error) error {
	return &models.PaymentError{Code: models.PaymentGatewayTimeout, Gateway: gateway, Err: err}
}

func misconfigured(gateway, reason string) error {
	return &models.PaymentError{Code: models.PaymentConfigurationInvalid, Gateway: gateway, Message: reason}
}

// transportError classifies a failed round trip. Anything that did not get
// a response from the provider is treated as a timeout so the caller can
// retry with the same idempotency key.
func transportError(gateway string, err error) error {
	return timeout(gateway, err)
}

// statusError maps an HTTP status without a more specific provider code.
func statusError(gateway string, status int, body []byte) error {
	msg := fmt.Sprintf("HTTP %d: %s", status, truncate(string(body), 200))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return misconfigured(gateway, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return timeout(gateway, errors.New(msg))
	case status == http.StatusPaymentRequired:
		return declined(gateway, msg)
	default:
		return misconfigured(gateway, msg)
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
