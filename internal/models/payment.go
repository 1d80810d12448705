package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported payment gateways
const (
	GatewayPayPal  = "paypal"
	GatewaySquare  = "square"
	GatewayCashApp = "cashapp"
	GatewayMock    = "mock"
)

// PaymentAttemptState represents the state of a payment attempt
type PaymentAttemptState string

const (
	AttemptInitiated      PaymentAttemptState = "initiated"
	AttemptRequiresAction PaymentAttemptState = "requires_action"
	AttemptConfirmed      PaymentAttemptState = "confirmed"
	AttemptFailed         PaymentAttemptState = "failed"
)

// PaymentAttempt is the persisted record of a charge, keyed by OrderRef.
type PaymentAttempt struct {
	OrderRef              string              `json:"order_ref"`
	Gateway               string              `json:"gateway"`
	AmountMinorUnits      int64               `json:"amount_minor_units"`
	Currency              string              `json:"currency"`
	CustomerEmail         string              `json:"customer_email"`
	State                 PaymentAttemptState `json:"state"`
	ExternalTransactionID string              `json:"external_transaction_id,omitempty"`
	// ExternalReference is the gateway-side id of a pending redirect flow
	// (PayPal order id, Cash App customer request id).
	ExternalReference string            `json:"external_reference,omitempty"`
	RedirectTarget    string            `json:"redirect_target,omitempty"`
	FailureCode       PaymentErrorCode  `json:"failure_code,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	Sequence          int               `json:"sequence"`
	Invalidated       bool              `json:"invalidated"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// IdempotencyKey is the key sent to the gateway. It only changes after a
// definitive decline, so timeout retries reuse the same key.
func (a *PaymentAttempt) IdempotencyKey() string {
	if a.Sequence <= 1 {
		return a.OrderRef
	}
	return fmt.Sprintf("%s-%d", a.OrderRef, a.Sequence)
}

// Result reconstructs the outcome stored on the attempt.
func (a *PaymentAttempt) Result() PaymentResult {
	switch a.State {
	case AttemptConfirmed:
		return Confirmed{ExternalTransactionID: a.ExternalTransactionID}
	case AttemptRequiresAction:
		return RequiresAction{
			Action:     ActionRedirect,
			ActionData: map[string]string{"redirect_url": a.RedirectTarget, "reference": a.ExternalReference},
		}
	case AttemptFailed:
		return Failed{Code: a.FailureCode, Reason: a.FailureReason}
	default:
		return nil
	}
}

// PaymentUnit is one priced line of a payment request
type PaymentUnit struct {
	Unit                UnitRef `json:"unit_ref"`
	Quantity            int     `json:"quantity"`
	UnitPriceMinorUnits int64   `json:"unit_price_minor_units"`
}

// PaymentRequest is the uniform input to every gateway.
type PaymentRequest struct {
	OrderRef         string        `json:"order_ref"`
	Gateway          string        `json:"gateway"`
	AmountMinorUnits int64         `json:"amount_minor_units"`
	Currency         string        `json:"currency"`
	CustomerEmail    string        `json:"customer_email"`
	Units            []PaymentUnit `json:"units"`
	GatewayToken     string        `json:"gateway_token,omitempty"`
}

// Validate checks the request before any gateway is contacted
func (r *PaymentRequest) Validate() error {
	if strings.TrimSpace(r.OrderRef) == "" {
		return fmt.Errorf("%w: order ref is required", ErrInvalidInput)
	}
	if r.Gateway == "" {
		return fmt.Errorf("%w: gateway is required", ErrInvalidInput)
	}
	if r.AmountMinorUnits <= 0 {
		return fmt.Errorf("%w: amount must be greater than 0", ErrInvalidInput)
	}
	if !IsValidEmail(r.CustomerEmail) {
		return fmt.Errorf("%w: customer email format is invalid", ErrInvalidInput)
	}
	var sum int64
	for _, u := range r.Units {
		sum += u.UnitPriceMinorUnits * int64(u.Quantity)
	}
	if len(r.Units) > 0 && sum != r.AmountMinorUnits {
		return fmt.Errorf("%w: amount %d does not match units total %d", ErrInvalidInput, r.AmountMinorUnits, sum)
	}
	return nil
}

// Redirect action kinds
const (
	ActionRedirect = "redirect"
	// ActionAwaitWebhook means the gateway accepted the payment but settles it later
	ActionAwaitWebhook = "await_webhook"
)

// PaymentResult is one of Confirmed, RequiresAction or Failed.
type PaymentResult interface {
	paymentResult()
}

// Confirmed means funds were captured.
type Confirmed struct {
	ExternalTransactionID string `json:"external_transaction_id"`
}

// RequiresAction means the buyer must complete an external step (usually a
// redirect) before the flow can resume.
type RequiresAction struct {
	Action     string            `json:"action"`
	ActionData map[string]string `json:"action_data"`
}

// RedirectURL returns the redirect target, if any
func (r RequiresAction) RedirectURL() string {
	return r.ActionData["redirect_url"]
}

// Failed carries the decline or error classification.
type Failed struct {
	Code   PaymentErrorCode `json:"code"`
	Reason string           `json:"reason"`
}

// Err converts the failure into a PaymentError.
func (f Failed) Err(gateway string) error {
	return &PaymentError{Code: f.Code, Gateway: gateway, Message: f.Reason}
}

func (Confirmed) paymentResult()      {}
func (RequiresAction) paymentResult() {}
func (Failed) paymentResult()         {}

// FailedFromError maps an error into a Failed result. Unknown errors are
// treated as transient gateway failures.
func FailedFromError(err error) Failed {
	var pe *PaymentError
	if errors.As(err, &pe) {
		reason := pe.Message
		if reason == "" && pe.Err != nil {
			reason = pe.Err.Error()
		}
		return Failed{Code: pe.Code, Reason: reason}
	}
	return Failed{Code: PaymentGatewayTimeout, Reason: err.Error()}
}
