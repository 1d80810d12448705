package models

import (
	"fmt"
	"strings"
	"time"
)

// CheckoutState is a state of the checkout state machine
type CheckoutState string

const (
	CheckoutCart             CheckoutState = "cart"
	CheckoutHoldAcquired     CheckoutState = "hold_acquired"
	CheckoutAwaitingPayment  CheckoutState = "awaiting_payment"
	CheckoutPaymentPending   CheckoutState = "payment_pending"
	CheckoutPaymentConfirmed CheckoutState = "payment_confirmed"
	CheckoutIssuing          CheckoutState = "issuing"
	CheckoutCompleted        CheckoutState = "completed"
	CheckoutFailed           CheckoutState = "failed"
)

// FailedStage records where a failed checkout stopped
type FailedStage string

const (
	StageHold      FailedStage = "hold"
	StagePayment   FailedStage = "payment"
	StageIssuance  FailedStage = "issuance"
	StageTimeout   FailedStage = "timeout"
	StageCancelled FailedStage = "cancelled"
)

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	CheckoutCart:             {CheckoutHoldAcquired, CheckoutFailed},
	CheckoutHoldAcquired:     {CheckoutAwaitingPayment, CheckoutFailed},
	CheckoutAwaitingPayment:  {CheckoutPaymentConfirmed, CheckoutPaymentPending, CheckoutFailed},
	CheckoutPaymentPending:   {CheckoutPaymentConfirmed, CheckoutFailed},
	CheckoutPaymentConfirmed: {CheckoutIssuing},
	CheckoutIssuing:          {CheckoutCompleted, CheckoutFailed},
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s CheckoutState) CanTransitionTo(next CheckoutState) bool {
	for _, allowed := range checkoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// BeforePaymentConfirmed is true while money has not moved yet.
func (s CheckoutState) BeforePaymentConfirmed() bool {
	switch s {
	case CheckoutCart, CheckoutHoldAcquired, CheckoutAwaitingPayment, CheckoutPaymentPending:
		return true
	default:
		return false
	}
}

func (s CheckoutState) String() string {
	return string(s)
}

// Checkout is the persisted state of one checkout, keyed by OrderRef. It holds
// everything needed to resume after an external redirect.
type Checkout struct {
	ID                    string        `json:"id"`
	OrderRef              string        `json:"order_ref"`
	EventID               string        `json:"event_id"`
	HoldSessionID         string        `json:"hold_session_id,omitempty"`
	HoldExpiresAt         *time.Time    `json:"hold_expires_at,omitempty"`
	Items                 []LineItem    `json:"items"`
	AmountMinorUnits      int64         `json:"amount_minor_units"`
	Currency              string        `json:"currency"`
	CustomerEmail         string        `json:"customer_email"`
	CustomerName          string        `json:"customer_name,omitempty"`
	Gateway               string        `json:"gateway,omitempty"`
	State                 CheckoutState `json:"state"`
	FailedStage           FailedStage   `json:"failed_stage,omitempty"`
	FailureReason         string        `json:"failure_reason,omitempty"`
	ExternalTransactionID string        `json:"external_transaction_id,omitempty"`
	RedirectTarget        string        `json:"redirect_target,omitempty"`
	OrderID               string        `json:"order_id,omitempty"`
	Version               int           `json:"version"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// TransitionTo moves the checkout to next or returns ErrInvalidTransition.
// Failed{issuance} may move back to Issuing so issuance can be retried.
func (c *Checkout) TransitionTo(next CheckoutState, now time.Time) error {
	allowed := c.State.CanTransitionTo(next)
	if c.State == CheckoutFailed && c.FailedStage == StageIssuance && next == CheckoutIssuing {
		allowed = true
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, next)
	}
	c.State = next
	if next != CheckoutFailed {
		c.FailedStage = ""
		c.FailureReason = ""
	}
	c.UpdatedAt = now
	return nil
}

// Fail moves the checkout to Failed{stage, reason}.
func (c *Checkout) Fail(stage FailedStage, reason string, now time.Time) error {
	if err := c.TransitionTo(CheckoutFailed, now); err != nil {
		return err
	}
	c.FailedStage = stage
	c.FailureReason = reason
	return nil
}

// IsTerminal is true for Completed and for every Failed stage other than
// issuance, which stays open for an operator retry.
func (c *Checkout) IsTerminal() bool {
	if c.State == CheckoutCompleted {
		return true
	}
	return c.State == CheckoutFailed && c.FailedStage != StageIssuance
}

// Units returns the unit requests the checkout holds
func (c *Checkout) Units() []UnitRequest {
	units := make([]UnitRequest, 0, len(c.Items))
	for _, item := range c.Items {
		units = append(units, UnitRequest{Unit: item.Unit, Quantity: item.Quantity})
	}
	return units
}

// PaymentRequest builds the gateway request for this checkout.
func (c *Checkout) PaymentRequest(gateway, token string) PaymentRequest {
	units := make([]PaymentUnit, 0, len(c.Items))
	for _, item := range c.Items {
		units = append(units, PaymentUnit{
			Unit:                item.Unit,
			Quantity:            item.Quantity,
			UnitPriceMinorUnits: item.UnitPriceMinor,
		})
	}
	return PaymentRequest{
		OrderRef:         c.OrderRef,
		Gateway:          gateway,
		AmountMinorUnits: c.AmountMinorUnits,
		Currency:         c.Currency,
		CustomerEmail:    c.CustomerEmail,
		Units:            units,
		GatewayToken:     token,
	}
}

// StartCheckoutRequest is the input to start a checkout
type StartCheckoutRequest struct {
	OrderRef      string        `json:"order_ref"`
	EventID       string        `json:"event_id"`
	HoldToken     string        `json:"hold_token,omitempty"`
	Items         []UnitRequest `json:"items"`
	CustomerEmail string        `json:"customer_email"`
	CustomerName  string        `json:"customer_name,omitempty"`
}

// Validate validates the request fields
func (r *StartCheckoutRequest) Validate() error {
	if strings.TrimSpace(r.OrderRef) == "" {
		return fmt.Errorf("%w: order ref is required", ErrInvalidInput)
	}
	if len(r.OrderRef) > 128 {
		return fmt.Errorf("%w: order ref must be at most 128 characters", ErrInvalidInput)
	}
	if r.EventID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	if len(r.Items) == 0 && r.HoldToken == "" {
		return fmt.Errorf("%w: items or a hold token are required", ErrInvalidInput)
	}
	if !IsValidEmail(r.CustomerEmail) {
		return fmt.Errorf("%w: customer email format is invalid", ErrInvalidInput)
	}
	if len(r.CustomerName) > 255 {
		return fmt.Errorf("%w: customer name must be less than 255 characters", ErrInvalidInput)
	}
	return nil
}
