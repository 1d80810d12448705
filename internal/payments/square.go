package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/utils"
)

const squareAPIVersion = "2024-06-04"

// SquareConfig represents Square Payments API configuration
type SquareConfig struct {
	AccessToken         string
	LocationID          string
	Environment         string // "sandbox" or "production"
	WebhookSignatureKey string
	// NotificationURL is the exact URL registered for webhooks; Square signs it with the body.
	NotificationURL string
	BaseURL         string
}

// SquareGateway charges a card nonce from the Web Payments SDK in a single
// synchronous call.
type SquareGateway struct {
	config  SquareConfig
	client  *http.Client
	baseURL string
}

func NewSquareGateway(config SquareConfig) *SquareGateway {
	baseURL := "https://connect.squareupsandbox.com"
	if config.Environment == "production" {
		baseURL = "https://connect.squareup.com"
	}
	if config.BaseURL != "" {
		baseURL = strings.TrimRight(config.BaseURL, "/")
	}
	return &SquareGateway{
		config:  config,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
	}
}

func (g *SquareGateway) Name() string { return models.GatewaySquare }

func (g *SquareGateway) Flow() Flow { return FlowToken }

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squarePaymentRequest struct {
	SourceID          string      `json:"source_id"`
	IdempotencyKey    string      `json:"idempotency_key"`
	AmountMoney       squareMoney `json:"amount_money"`
	LocationID        string      `json:"location_id,omitempty"`
	ReferenceID       string      `json:"reference_id"`
	BuyerEmailAddress string      `json:"buyer_email_address,omitempty"`
	Autocomplete      bool        `json:"autocomplete"`
	Note              string      `json:"note,omitempty"`
}

type squarePayment struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	ReferenceID string      `json:"reference_id"`
	AmountMoney squareMoney `json:"amount_money"`
}

type squareError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

type squareResponse struct {
	Payment *squarePayment `json:"payment"`
	Errors  []squareError  `json:"errors"`
}

// Card-level decline codes from the Payments API
var squareDeclineCodes = map[string]bool{
	"CARD_DECLINED":                true,
	"GENERIC_DECLINE":              true,
	"CVV_FAILURE":                  true,
	"ADDRESS_VERIFICATION_FAILURE": true,
	"INSUFFICIENT_FUNDS":           true,
	"INVALID_EXPIRATION":           true,
	"INVALID_CARD":                 true,
	"CARD_EXPIRED":                 true,
	"TRANSACTION_LIMIT":            true,
	"VOICE_FAILURE":                true,
	"PAN_FAILURE":                  true,
	"CARD_NOT_SUPPORTED":           true,
}

// Charge creates and completes a payment for the card token.
func (g *SquareGateway) Charge(ctx context.Context, req models.PaymentRequest, idempotencyKey string) (*ChargeResult, error) {
	if g.config.AccessToken == "" || g.config.LocationID == "" {
		return nil, misconfigured(g.Name(), "access token and location id are required")
	}
	body := squarePaymentRequest{
		SourceID:          req.GatewayToken,
		IdempotencyKey:    idempotencyKey,
		AmountMoney:       squareMoney{Amount: req.AmountMinorUnits, Currency: strings.ToUpper(req.Currency)},
		LocationID:        g.config.LocationID,
		ReferenceID:       req.OrderRef,
		BuyerEmailAddress: req.CustomerEmail,
		Autocomplete:      true,
		Note:              fmt.Sprintf("Tickets for order %s", req.OrderRef),
	}

	payment, err := g.do(ctx, http.MethodPost, "/v2/payments", body)
	if err != nil {
		return nil, err
	}
	log.Printf("Square: payment %s for %s is %s", payment.ID, req.OrderRef, payment.Status)
	return g.result(payment)
}

// Resume looks up a payment reported by a webhook. Square has no redirect
// step, so this only settles payments that were left pending.
func (g *SquareGateway) Resume(ctx context.Context, attempt *models.PaymentAttempt, payload map[string]string) (*ChargeResult, error) {
	paymentID := payload["payment_id"]
	if paymentID == "" {
		paymentID = attempt.ExternalReference
	}
	if paymentID == "" {
		return nil, misconfigured(g.Name(), "no Square payment to look up")
	}
	payment, err := g.do(ctx, http.MethodGet, "/v2/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}
	if payment.ReferenceID != "" && payment.ReferenceID != attempt.OrderRef {
		return nil, declined(g.Name(), "payment belongs to another order")
	}
	return g.result(payment)
}

func (g *SquareGateway) result(p *squarePayment) (*ChargeResult, error) {
	switch p.Status {
	case "COMPLETED", "APPROVED":
		return &ChargeResult{Result: models.Confirmed{ExternalTransactionID: p.ID}, ExternalReference: p.ID}, nil
	case "PENDING":
		return &ChargeResult{
			Result: models.RequiresAction{
				Action:     models.ActionAwaitWebhook,
				ActionData: map[string]string{"reference": p.ID},
			},
			ExternalReference: p.ID,
		}, nil
	default:
		return nil, declined(g.Name(), "payment status "+p.Status)
	}
}

func (g *SquareGateway) do(ctx context.Context, method, path string, in interface{}) (*squarePayment, error) {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal Square request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create Square request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.config.AccessToken)
	req.Header.Set("Square-Version", squareAPIVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, transportError(g.Name(), err)
	}
	defer resp.Body.Close()

	bodyBytes, err := readBody(resp)
	if err != nil {
		return nil, transportError(g.Name(), err)
	}

	var parsed squareResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		if resp.StatusCode >= 300 {
			return nil, statusError(g.Name(), resp.StatusCode, bodyBytes)
		}
		return nil, timeout(g.Name(), fmt.Errorf("failed to decode Square response: %w", err))
	}
	if resp.StatusCode >= 300 || len(parsed.Errors) > 0 {
		return nil, g.handleAPIError(resp.StatusCode, parsed.Errors, bodyBytes)
	}
	if parsed.Payment == nil {
		return nil, timeout(g.Name(), fmt.Errorf("response has no payment"))
	}
	return parsed.Payment, nil
}

func (g *SquareGateway) handleAPIError(status int, errs []squareError, body []byte) error {
	if len(errs) == 0 {
		return statusError(g.Name(), status, body)
	}
	first := errs[0]
	msg := first.Code
	if first.Detail != "" {
		msg += ": " + first.Detail
	}

	switch {
	case squareDeclineCodes[first.Code] || first.Category == "PAYMENT_METHOD_ERROR":
		return declined(g.Name(), msg)
	case first.Category == "AUTHENTICATION_ERROR" || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return misconfigured(g.Name(), msg)
	case first.Category == "RATE_LIMIT_ERROR" || first.Category == "API_ERROR" || status >= 500:
		return timeout(g.Name(), fmt.Errorf("%s", msg))
	case first.Code == "IDEMPOTENCY_KEY_REUSED":
		// The key was used with different parameters; the earlier charge stands.
		return declined(g.Name(), msg)
	default:
		return misconfigured(g.Name(), msg)
	}
}

// ParseWebhook verifies the x-square-hmacsha256-signature header and maps
// payment.updated notifications to their order reference.
func (g *SquareGateway) ParseWebhook(_ context.Context, header http.Header, body []byte) (*WebhookEvent, error) {
	if g.config.WebhookSignatureKey == "" {
		return nil, fmt.Errorf("%w: Square signature key is not configured", ErrWebhookSignature)
	}
	signature := header.Get("x-square-hmacsha256-signature")
	if !utils.VerifyBase64([]byte(g.config.WebhookSignatureKey), g.config.NotificationURL+string(body), signature) {
		return nil, ErrWebhookSignature
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				Payment *squarePayment `json:"payment"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed Square webhook: %v", models.ErrInvalidInput, err)
	}
	if event.Type != "payment.updated" && event.Type != "payment.created" {
		return nil, nil
	}
	payment := event.Data.Object.Payment
	if payment == nil || payment.ReferenceID == "" {
		return nil, nil
	}
	return &WebhookEvent{
		OrderRef: payment.ReferenceID,
		Type:     event.Type,
		Payload:  map[string]string{"payment_id": payment.ID, "status": payment.Status},
	}, nil
}
