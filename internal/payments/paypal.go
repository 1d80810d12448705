package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"event-ticketing-checkout/internal/clock"
	"event-ticketing-checkout/internal/models"
)

// PayPalConfig represents PayPal Orders API configuration
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Environment  string // "sandbox" or "live"
	WebhookID    string
	ReturnURL    string
	CancelURL    string
	BaseURL      string // overrides the environment URL when set
}

// PayPalGateway charges through the PayPal Orders v2 redirect flow: an order
// is created, the buyer approves it on PayPal, and the return callback
// captures it.
type PayPalGateway struct {
	config  PayPalConfig
	client  *http.Client
	baseURL string
	clock   clock.Clock

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPalGateway(config PayPalConfig, clk clock.Clock) *PayPalGateway {
	baseURL := "https://api-m.sandbox.paypal.com"
	if config.Environment == "live" {
		baseURL = "https://api-m.paypal.com"
	}
	if config.BaseURL != "" {
		baseURL = strings.TrimRight(config.BaseURL, "/")
	}
	return &PayPalGateway{
		config:  config,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		clock:   clk,
	}
}

func (g *PayPalGateway) Name() string { return models.GatewayPayPal }

func (g *PayPalGateway) Flow() Flow { return FlowRedirect }

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id"`
	CustomID    string       `json:"custom_id,omitempty"`
	Amount      paypalAmount `json:"amount"`
	Payments    *struct {
		Captures []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"captures"`
	} `json:"payments,omitempty"`
}

type paypalOrderRequest struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit `json:"purchase_units"`
	ApplicationContext struct {
		ReturnURL  string `json:"return_url"`
		CancelURL  string `json:"cancel_url"`
		UserAction string `json:"user_action"`
	} `json:"application_context"`
}

type paypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	Links         []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

// paypalError is the PayPal REST error envelope
type paypalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e *paypalError) issue() string {
	if len(e.Details) > 0 {
		return e.Details[0].Issue
	}
	return e.Name
}

// Charge creates a PayPal order and returns the approval link.
func (g *PayPalGateway) Charge(ctx context.Context, req models.PaymentRequest, idempotencyKey string) (*ChargeResult, error) {
	body := paypalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: req.OrderRef,
			CustomID:    req.OrderRef,
			Amount:      paypalAmount{CurrencyCode: strings.ToUpper(req.Currency), Value: formatDecimal(req.AmountMinorUnits)},
		}},
	}
	body.ApplicationContext.ReturnURL = withOrderRef(g.config.ReturnURL, req.OrderRef)
	body.ApplicationContext.CancelURL = withOrderRef(g.config.CancelURL, req.OrderRef)
	body.ApplicationContext.UserAction = "PAY_NOW"

	var order paypalOrder
	if err := g.call(ctx, http.MethodPost, "/v2/checkout/orders", idempotencyKey, body, &order); err != nil {
		return nil, err
	}

	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			log.Printf("PayPal: created order %s for %s", order.ID, req.OrderRef)
			return &ChargeResult{
				Result: models.RequiresAction{
					Action:     models.ActionRedirect,
					ActionData: map[string]string{"redirect_url": link.Href, "reference": order.ID},
				},
				ExternalReference: order.ID,
			}, nil
		}
	}
	return nil, timeout(g.Name(), fmt.Errorf("order %s has no approval link (status %s)", order.ID, order.Status))
}

// Resume captures an approved order. The payload carries the "token" query
// parameter PayPal appends to the return URL, and a "status" of cancelled
// when the buyer came back through the cancel URL.
func (g *PayPalGateway) Resume(ctx context.Context, attempt *models.PaymentAttempt, payload map[string]string) (*ChargeResult, error) {
	switch payload["status"] {
	case "cancelled":
		return nil, declined(g.Name(), "buyer cancelled at PayPal")
	case "denied":
		return nil, declined(g.Name(), "capture denied")
	}
	orderID := attempt.ExternalReference
	if token := payload["token"]; token != "" && orderID != "" && token != orderID {
		return nil, declined(g.Name(), "return token does not match the pending PayPal order")
	}
	if orderID == "" {
		orderID = payload["token"]
	}
	if orderID == "" {
		return nil, misconfigured(g.Name(), "no PayPal order to capture")
	}

	var order paypalOrder
	err := g.call(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", attempt.IdempotencyKey()+"-capture", struct{}{}, &order)
	if err != nil {
		var pe *paypalIssueError
		if errors.As(err, &pe) {
			switch pe.issue {
			case "ORDER_NOT_APPROVED", "PAYER_ACTION_REQUIRED":
				return &ChargeResult{Result: attempt.Result(), ExternalReference: orderID}, nil
			case "ORDER_ALREADY_CAPTURED":
				return g.lookupCapture(ctx, orderID)
			}
		}
		return nil, err
	}
	return captureResult(g.Name(), &order)
}

func (g *PayPalGateway) lookupCapture(ctx context.Context, orderID string) (*ChargeResult, error) {
	var order paypalOrder
	if err := g.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), "", nil, &order); err != nil {
		return nil, err
	}
	return captureResult(g.Name(), &order)
}

func captureResult(gateway string, order *paypalOrder) (*ChargeResult, error) {
	if order.Status != "COMPLETED" {
		return nil, declined(gateway, "order status "+order.Status)
	}
	for _, pu := range order.PurchaseUnits {
		if pu.Payments == nil {
			continue
		}
		for _, c := range pu.Payments.Captures {
			switch c.Status {
			case "COMPLETED":
				return &ChargeResult{Result: models.Confirmed{ExternalTransactionID: c.ID}, ExternalReference: order.ID}, nil
			case "PENDING":
				// Funds are not settled yet; PAYMENT.CAPTURE.COMPLETED resumes the attempt.
				return &ChargeResult{
					Result: models.RequiresAction{
						Action:     models.ActionAwaitWebhook,
						ActionData: map[string]string{"reference": c.ID},
					},
					ExternalReference: order.ID,
				}, nil
			case "DECLINED", "FAILED":
				return nil, declined(gateway, "capture "+strings.ToLower(c.Status))
			}
		}
	}
	return &ChargeResult{Result: models.Confirmed{ExternalTransactionID: order.ID}, ExternalReference: order.ID}, nil
}

// paypalIssueError keeps the provider issue code for callers that branch on it.
type paypalIssueError struct {
	issue string
	err   error
}

func (e *paypalIssueError) Error() string { return e.err.Error() }

func (e *paypalIssueError) Unwrap() error { return e.err }

func (g *PayPalGateway) call(ctx context.Context, method, path, requestID string, in, out interface{}) error {
	token, err := g.token(ctx)
	if err != nil {
		return err
	}

	var reader *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal PayPal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create PayPal request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

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
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return timeout(g.Name(), fmt.Errorf("failed to decode PayPal response: %w", err))
	}
	return nil
}

func (g *PayPalGateway) handleAPIError(status int, body []byte) error {
	var apiErr paypalError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Name == "" {
		return statusError(g.Name(), status, body)
	}
	msg := apiErr.issue() + ": " + apiErr.Message

	var err error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		err = misconfigured(g.Name(), msg)
	case status >= 500 || status == http.StatusTooManyRequests:
		err = timeout(g.Name(), fmt.Errorf("%s", msg))
	case status == http.StatusUnprocessableEntity:
		err = declined(g.Name(), msg)
	default:
		err = misconfigured(g.Name(), msg)
	}
	return &paypalIssueError{issue: apiErr.issue(), err: err}
}

// token returns a cached OAuth access token, refreshing it a minute early.
func (g *PayPalGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.accessToken != "" && g.clock.Now().Before(g.tokenExpiry) {
		return g.accessToken, nil
	}
	if g.config.ClientID == "" || g.config.ClientSecret == "" {
		return "", misconfigured(g.Name(), "client id and secret are required")
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create PayPal auth request: %w", err)
	}
	req.SetBasicAuth(g.config.ClientID, g.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", transportError(g.Name(), err)
	}
	defer resp.Body.Close()

	bodyBytes, err := readBody(resp)
	if err != nil {
		return "", transportError(g.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError(g.Name(), resp.StatusCode, bodyBytes)
	}

	var auth struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(bodyBytes, &auth); err != nil {
		return "", timeout(g.Name(), fmt.Errorf("failed to decode auth response: %w", err))
	}
	if auth.AccessToken == "" {
		return "", misconfigured(g.Name(), "received empty access token")
	}

	g.accessToken = auth.AccessToken
	g.tokenExpiry = g.clock.Now().Add(time.Duration(auth.ExpiresIn)*time.Second - time.Minute)
	return g.accessToken, nil
}

// ParseWebhook handles CHECKOUT.ORDER.APPROVED and PAYMENT.CAPTURE.*
// notifications after verifying them with PayPal.
func (g *PayPalGateway) ParseWebhook(ctx context.Context, header http.Header, body []byte) (*WebhookEvent, error) {
	var event struct {
		ID        string          `json:"id"`
		EventType string          `json:"event_type"`
		Resource  json.RawMessage `json:"resource"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: malformed PayPal webhook: %v", models.ErrInvalidInput, err)
	}
	if err := g.verifyWebhook(ctx, header, body); err != nil {
		return nil, err
	}

	switch event.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		var order paypalOrder
		if err := json.Unmarshal(event.Resource, &order); err != nil || len(order.PurchaseUnits) == 0 {
			return nil, fmt.Errorf("%w: PayPal order resource missing purchase units", models.ErrInvalidInput)
		}
		return &WebhookEvent{
			OrderRef: order.PurchaseUnits[0].ReferenceID,
			Type:     event.EventType,
			Payload:  map[string]string{"token": order.ID},
		}, nil
	case "PAYMENT.CAPTURE.COMPLETED":
		var capture struct {
			CustomID          string `json:"custom_id"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		}
		if err := json.Unmarshal(event.Resource, &capture); err != nil {
			return nil, fmt.Errorf("%w: malformed PayPal resource", models.ErrInvalidInput)
		}
		if capture.CustomID == "" {
			return nil, nil
		}
		payload := map[string]string{}
		if id := capture.SupplementaryData.RelatedIDs.OrderID; id != "" {
			payload["token"] = id
		}
		return &WebhookEvent{OrderRef: capture.CustomID, Type: event.EventType, Payload: payload}, nil
	case "CHECKOUT.ORDER.VOIDED", "PAYMENT.CAPTURE.DENIED":
		// Orders carry the reference on the purchase unit, captures on custom_id.
		var resource struct {
			PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
			CustomID      string               `json:"custom_id"`
		}
		if err := json.Unmarshal(event.Resource, &resource); err != nil {
			return nil, fmt.Errorf("%w: malformed PayPal resource", models.ErrInvalidInput)
		}
		orderRef := resource.CustomID
		if len(resource.PurchaseUnits) > 0 {
			orderRef = resource.PurchaseUnits[0].ReferenceID
		}
		if orderRef == "" {
			return nil, nil
		}
		status := "cancelled"
		if event.EventType == "PAYMENT.CAPTURE.DENIED" {
			status = "denied"
		}
		return &WebhookEvent{OrderRef: orderRef, Type: event.EventType, Payload: map[string]string{"status": status}}, nil
	default:
		return nil, nil
	}
}

func (g *PayPalGateway) verifyWebhook(ctx context.Context, header http.Header, body []byte) error {
	if g.config.WebhookID == "" {
		return fmt.Errorf("%w: PayPal webhook id is not configured", ErrWebhookSignature)
	}
	verification := map[string]interface{}{
		"auth_algo":         header.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          header.Get("PAYPAL-CERT-URL"),
		"transmission_id":   header.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  header.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": header.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        g.config.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := g.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", "", verification, &result); err != nil {
		return fmt.Errorf("failed to verify PayPal webhook: %w", err)
	}
	if result.VerificationStatus != "SUCCESS" {
		return ErrWebhookSignature
	}
	return nil
}

// withOrderRef appends the order reference to a callback URL.
func withOrderRef(raw, orderRef string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("order_ref", orderRef)
	u.RawQuery = q.Encode()
	return u.String()
}
