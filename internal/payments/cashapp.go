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

// CashAppConfig represents Cash App Pay configuration
type CashAppConfig struct {
	ClientID            string
	APIKey              string
	MerchantID          string
	Environment         string // "sandbox" or "production"
	RedirectURL         string
	WebhookSignatureKey string
	BaseURL             string
}

// CashAppGateway charges through Cash App Pay. A customer request is created
// and approved by the buyer in Cash App; the resulting one-time grant is
// then captured as a payment.
type CashAppGateway struct {
	config  CashAppConfig
	client  *http.Client
	baseURL string
}

func NewCashAppGateway(config CashAppConfig) *CashAppGateway {
	baseURL := "https://sandbox.api.cash.app"
	if config.Environment == "production" {
		baseURL = "https://api.cash.app"
	}
	if config.BaseURL != "" {
		baseURL = strings.TrimRight(config.BaseURL, "/")
	}
	return &CashAppGateway{
		config:  config,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
	}
}

func (g *CashAppGateway) Name() string { return models.GatewayCashApp }

func (g *CashAppGateway) Flow() Flow { return FlowRedirect }

type cashAppMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type cashAppAction struct {
	Type    string        `json:"type"`
	Amount  *cashAppMoney `json:"amount,omitempty"`
	ScopeID string        `json:"scope_id"`
}

type cashAppCustomerRequest struct {
	ID               string          `json:"id,omitempty"`
	Status           string          `json:"status,omitempty"`
	Channel          string          `json:"channel,omitempty"`
	RedirectURL      string          `json:"redirect_url,omitempty"`
	ReferenceID      string          `json:"reference_id,omitempty"`
	Actions          []cashAppAction `json:"actions,omitempty"`
	AuthFlowTriggers *struct {
		MobileURL  string `json:"mobile_url"`
		DesktopURL string `json:"desktop_url"`
	} `json:"auth_flow_triggers,omitempty"`
	Grants []struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
	} `json:"grants,omitempty"`
}

type cashAppPayment struct {
	ID          string `json:"id,omitempty"`
	Status      string `json:"status,omitempty"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	MerchantID  string `json:"merchant_id"`
	GrantID     string `json:"grant_id"`
	Capture     bool   `json:"capture"`
	ReferenceID string `json:"reference_id,omitempty"`
}

type cashAppError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

// Charge creates a customer request and returns the approval link.
func (g *CashAppGateway) Charge(ctx context.Context, req models.PaymentRequest, idempotencyKey string) (*ChargeResult, error) {
	if g.config.ClientID == "" || g.config.MerchantID == "" {
		return nil, misconfigured(g.Name(), "client id and merchant id are required")
	}
	body := map[string]interface{}{
		"idempotency_key": idempotencyKey,
		"request": cashAppCustomerRequest{
			Channel:     "ONLINE",
			RedirectURL: withOrderRef(g.config.RedirectURL, req.OrderRef),
			ReferenceID: req.OrderRef,
			Actions: []cashAppAction{{
				Type:    "ONE_TIME_PAYMENT",
				Amount:  &cashAppMoney{Amount: req.AmountMinorUnits, Currency: strings.ToUpper(req.Currency)},
				ScopeID: g.config.MerchantID,
			}},
		},
	}

	var resp struct {
		Request cashAppCustomerRequest `json:"request"`
	}
	if err := g.call(ctx, http.MethodPost, "/customer-request/v1/requests", "Client "+g.config.ClientID, body, &resp); err != nil {
		return nil, err
	}
	cr := resp.Request
	if cr.AuthFlowTriggers == nil || cr.ID == "" {
		return nil, timeout(g.Name(), fmt.Errorf("customer request %q has no auth flow", cr.ID))
	}
	redirect := cr.AuthFlowTriggers.MobileURL
	if redirect == "" {
		redirect = cr.AuthFlowTriggers.DesktopURL
	}
	log.Printf("Cash App: created customer request %s for %s", cr.ID, req.OrderRef)
	return &ChargeResult{
		Result: models.RequiresAction{
			Action:     models.ActionRedirect,
			ActionData: map[string]string{"redirect_url": redirect, "reference": cr.ID},
		},
		ExternalReference: cr.ID,
	}, nil
}

// Resume reads the customer request and, once approved, captures the grant.
func (g *CashAppGateway) Resume(ctx context.Context, attempt *models.PaymentAttempt, payload map[string]string) (*ChargeResult, error) {
	requestID := attempt.ExternalReference
	if requestID == "" {
		requestID = payload["request_id"]
	}
	if requestID == "" {
		return nil, misconfigured(g.Name(), "no Cash App customer request to resume")
	}

	var resp struct {
		Request cashAppCustomerRequest `json:"request"`
	}
	if err := g.call(ctx, http.MethodGet, "/customer-request/v1/requests/"+url.PathEscape(requestID), "Client "+g.config.ClientID, nil, &resp); err != nil {
		return nil, err
	}

	switch resp.Request.Status {
	case "PENDING", "PROCESSING":
		return &ChargeResult{Result: attempt.Result(), ExternalReference: requestID}, nil
	case "DECLINED", "EXPIRED":
		return nil, declined(g.Name(), "customer request "+strings.ToLower(resp.Request.Status))
	case "APPROVED":
	default:
		return nil, timeout(g.Name(), fmt.Errorf("unexpected customer request status %q", resp.Request.Status))
	}

	grantID := ""
	for _, grant := range resp.Request.Grants {
		if grant.Type == "ONE_TIME" && grant.Status == "ACTIVE" {
			grantID = grant.ID
			break
		}
	}
	if grantID == "" {
		return nil, declined(g.Name(), "approved request has no active grant")
	}

	body := map[string]interface{}{
		"idempotency_key": attempt.IdempotencyKey() + "-capture",
		"payment": cashAppPayment{
			Amount:      attempt.AmountMinorUnits,
			Currency:    strings.ToUpper(attempt.Currency),
			MerchantID:  g.config.MerchantID,
			GrantID:     grantID,
			Capture:     true,
			ReferenceID: attempt.OrderRef,
		},
	}
	var payResp struct {
		Payment cashAppPayment `json:"payment"`
	}
	if err := g.call(ctx, http.MethodPost, "/network/v1/payments", "Bearer "+g.config.APIKey, body, &payResp); err != nil {
		return nil, err
	}
	switch payResp.Payment.Status {
	case "CAPTURED", "AUTHORIZED", "COMPLETED":
		log.Printf("Cash App: captured payment %s for %s", payResp.Payment.ID, attempt.OrderRef)
		return &ChargeResult{Result: models.Confirmed{ExternalTransactionID: payResp.Payment.ID}, ExternalReference: requestID}, nil
	default:
		return nil, declined(g.Name(), "payment status "+payResp.Payment.Status)
	}
}

func (g *CashAppGateway) call(ctx context.Context, method, path, authorization string, in, out interface{}) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal Cash App request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create Cash App request: %w", err)
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return transportError(g.Name(), err)
	}
	defer resp.Body.Close()

	bodyBytes, err := readBody(resp)
	if err != nil {
		return transportError(g.Name(), err)
	}
	if resp.StatusCode >= 300 {
		return g.handleAPIError(resp.StatusCode, bodyBytes)
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return timeout(g.Name(), fmt.Errorf("failed to decode Cash App response: %w", err))
	}
	return nil
}

func (g *CashAppGateway) handleAPIError(status int, body []byte) error {
	var parsed struct {
		Errors []cashAppError `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Errors) == 0 {
		return statusError(g.Name(), status, body)
	}
	first := parsed.Errors[0]
	msg := first.Code
	if first.Detail != "" {
		msg += ": " + first.Detail
	}
	switch {
	case first.Category == "PAYMENT_PROCESSING_ERROR" || first.Code == "GRANT_EXPIRED" || first.Code == "INSUFFICIENT_FUNDS":
		return declined(g.Name(), msg)
	case first.Category == "AUTHENTICATION_ERROR" || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return misconfigured(g.Name(), msg)
	case first.Category == "API_ERROR" || status == http.StatusTooManyRequests || status >= 500:
		return timeout(g.Name(), fmt.Errorf("%s", msg))
	default:
		return misconfigured(g.Name(), msg)
	}
}

// ParseWebhook verifies the x-signature header and maps customer request
// state changes to their order reference.
func (g *CashAppGateway) ParseWebhook(_ context.Context, header http.Header, body []byte) (*WebhookEvent, error) {
	if g.config.WebhookSignatureKey == "" {
		return nil, fmt.Errorf("%w: Cash App signature key is not configured", ErrWebhookSignature)
	}
	if !utils.VerifyBase64([]byte(g.config.WebhookSignatureKey), string(body), header.Get("x-signature")) {
		return nil, ErrWebhookSignature
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				CustomerRequest cashAppCustomerRequest `json:"customer_request"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed Cash App webhook: %v", models.ErrInvalidInput, err)
	}
	if event.Type != "customer_request.state.updated" {
		return nil, nil
	}
	cr := event.Data.Object.CustomerRequest
	if cr.ReferenceID == "" {
		return nil, nil
	}
	return &WebhookEvent{
		OrderRef: cr.ReferenceID,
		Type:     event.Type,
		Payload:  map[string]string{"request_id": cr.ID, "status": cr.Status},
	}, nil
}
