package models

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	// OrderPending means the payment is captured but not every ticket is minted yet.
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

// Order represents an order in the system
type Order struct {
	ID                    string      `json:"id" db:"id"`
	OrderRef              string      `json:"order_ref" db:"order_ref"`
	OrderNumber           string      `json:"order_number" db:"order_number"`
	EventID               string      `json:"event_id" db:"event_id"`
	CustomerEmail         string      `json:"customer_email" db:"customer_email"`
	CustomerName          string      `json:"customer_name,omitempty" db:"customer_name"`
	TotalAmount           int64       `json:"total_amount" db:"total_amount"` // minor units
	Currency              string      `json:"currency" db:"currency"`
	PaymentMethod         string      `json:"payment_method" db:"payment_method"`
	ExternalTransactionID string      `json:"external_transaction_id,omitempty" db:"external_transaction_id"`
	HoldSessionID         string      `json:"hold_session_id" db:"hold_session_id"`
	TicketCount           int         `json:"ticket_count" db:"ticket_count"`
	Status                OrderStatus `json:"status" db:"status"`
	CreatedAt             time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at" db:"updated_at"`
}

var (
	// Order number format: ORD-YYYYMMDD-XXXXXX (e.g., ORD-20240101-123456)
	orderNumberRegex = regexp.MustCompile(`^ORD-\d{8}-\d{6}$`)
	emailRegex       = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// IsValidEmail reports whether the address looks deliverable
func IsValidEmail(email string) bool {
	return len(email) <= 255 && emailRegex.MatchString(email)
}

// Validate validates the order data
func (o *Order) Validate() error {
	if o.OrderRef == "" {
		return errors.New("order ref is required")
	}
	if o.OrderNumber == "" {
		return errors.New("order number is required")
	}
	if !orderNumberRegex.MatchString(o.OrderNumber) {
		return errors.New("order number format is invalid")
	}
	if o.TotalAmount < 0 {
		return errors.New("total amount cannot be negative")
	}
	if err := validateOrderStatus(o.Status); err != nil {
		return err
	}
	if o.CustomerEmail == "" {
		return errors.New("customer email is required")
	}
	if !IsValidEmail(o.CustomerEmail) {
		return errors.New("customer email format is invalid")
	}
	if len(o.CustomerName) > 255 {
		return errors.New("customer name must be less than 255 characters")
	}
	if o.TicketCount <= 0 {
		return errors.New("ticket count must be greater than 0")
	}
	return nil
}

func validateOrderStatus(status OrderStatus) error {
	switch status {
	case OrderPending, OrderCompleted, OrderFailed:
		return nil
	default:
		return errors.New("invalid order status")
	}
}

// GenerateOrderNumber generates a human-facing order number for the given day
func GenerateOrderNumber(now time.Time) string {
	dateStr := now.Format("20060102")

	max := big.NewInt(1000000)
	randomNum, err := rand.Int(rand.Reader, max)
	if err != nil {
		return fmt.Sprintf("ORD-%s-%06d", dateStr, now.UnixNano()%1000000)
	}

	return fmt.Sprintf("ORD-%s-%06d", dateStr, randomNum.Int64())
}

// IsCompleted returns true once every ticket has been minted
func (o *Order) IsCompleted() bool {
	return o.Status == OrderCompleted
}

// TotalAmountInCurrency returns the total amount in the main currency as a float
func (o *Order) TotalAmountInCurrency() float64 {
	return float64(o.TotalAmount) / 100.0
}

// DisplayName falls back to the email when no name was given
func (o *Order) DisplayName() string {
	if strings.TrimSpace(o.CustomerName) != "" {
		return o.CustomerName
	}
	return o.CustomerEmail
}
