package models

import (
	"errors"
	"fmt"
)

// Common errors used throughout the application
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrCheckoutNotFound  = errors.New("checkout not found")
	ErrAttemptNotFound   = errors.New("payment attempt not found")
	ErrUnitNotFound      = errors.New("sellable unit not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrConcurrentUpdate  = errors.New("record was modified concurrently")
	ErrInvalidTransition = errors.New("invalid checkout state transition")
	ErrInvalidToken      = errors.New("invalid hold token")
	ErrHoldConflict      = errors.New("hold session already exists with different units")
	ErrUnknownGateway    = errors.New("unknown payment gateway")
	ErrAttemptInvalid    = errors.New("payment attempt was invalidated")
)

// InventoryErrorCode classifies inventory failures.
type InventoryErrorCode string

const (
	InventorySoldOut         InventoryErrorCode = "sold_out"
	InventorySeatUnavailable InventoryErrorCode = "seat_unavailable"
	InventorySessionNotFound InventoryErrorCode = "session_not_found"
	InventorySessionExpired  InventoryErrorCode = "session_expired"
)

// InventoryError is returned by the ledger when units cannot be reserved or a
// session cannot be finalized. It is never retried automatically.
type InventoryError struct {
	Code    InventoryErrorCode
	UnitRef UnitRef
	Message string
}

func (e *InventoryError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("inventory: %s: %s", e.Code, e.Message)
	}
	if !e.UnitRef.IsZero() {
		return fmt.Sprintf("inventory: %s: %s", e.Code, e.UnitRef)
	}
	return fmt.Sprintf("inventory: %s", e.Code)
}

// Is matches any InventoryError carrying the same code.
func (e *InventoryError) Is(target error) bool {
	t, ok := target.(*InventoryError)
	return ok && t.Code == e.Code
}

var (
	ErrSoldOut         = &InventoryError{Code: InventorySoldOut}
	ErrSeatUnavailable = &InventoryError{Code: InventorySeatUnavailable}
	ErrSessionNotFound = &InventoryError{Code: InventorySessionNotFound}
	ErrSessionExpired  = &InventoryError{Code: InventorySessionExpired}
)

// PaymentErrorCode classifies gateway failures.
type PaymentErrorCode string

const (
	PaymentDeclined             PaymentErrorCode = "declined"
	PaymentGatewayTimeout       PaymentErrorCode = "gateway_timeout"
	PaymentConfigurationInvalid PaymentErrorCode = "configuration_invalid"
)

type PaymentError struct {
	Code    PaymentErrorCode
	Gateway string
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	msg := fmt.Sprintf("payment: %s", e.Code)
	if e.Gateway != "" {
		msg = fmt.Sprintf("payment: %s: %s", e.Gateway, e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PaymentError) Unwrap() error { return e.Err }

func (e *PaymentError) Is(target error) bool {
	t, ok := target.(*PaymentError)
	return ok && t.Code == e.Code
}

// Retryable reports whether the same orderRef may be submitted again.
func (e *PaymentError) Retryable() bool {
	return e.Code == PaymentGatewayTimeout
}

var (
	ErrPaymentDeclined      = &PaymentError{Code: PaymentDeclined}
	ErrGatewayTimeout       = &PaymentError{Code: PaymentGatewayTimeout}
	ErrConfigurationInvalid = &PaymentError{Code: PaymentConfigurationInvalid}
)

// IssuanceErrorCode classifies failures after a payment was captured.
type IssuanceErrorCode string

const (
	IssuanceInventoryInconsistent IssuanceErrorCode = "inventory_inconsistent"
	IssuanceTicketMintingFailed   IssuanceErrorCode = "ticket_minting_failed"
)

// IssuanceError means money moved but the sale is not fully recorded.
// Operators must resolve these; they are never refunded automatically.
type IssuanceError struct {
	Code     IssuanceErrorCode
	OrderRef string
	Err      error
}

func (e *IssuanceError) Error() string {
	msg := fmt.Sprintf("issuance: %s", e.Code)
	if e.OrderRef != "" {
		msg += " (order_ref=" + e.OrderRef + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IssuanceError) Unwrap() error { return e.Err }

func (e *IssuanceError) Is(target error) bool {
	t, ok := target.(*IssuanceError)
	return ok && t.Code == e.Code
}

// RequiresRefund is true when inventory could not be finalized for a captured payment.
func (e *IssuanceError) RequiresRefund() bool {
	return e.Code == IssuanceInventoryInconsistent
}

var (
	ErrInventoryInconsistent = &IssuanceError{Code: IssuanceInventoryInconsistent}
	ErrTicketMintingFailed   = &IssuanceError{Code: IssuanceTicketMintingFailed}
)

// NotificationError is logged and otherwise ignored.
type NotificationError struct {
	Channel  string
	OrderRef string
	Err      error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification: %s for order_ref=%s: %v", e.Channel, e.OrderRef, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }
