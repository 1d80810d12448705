package models

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func validOrder() Order {
	return Order{
		OrderRef:      "order-1",
		OrderNumber:   "ORD-20240101-123456",
		TotalAmount:   2500,
		Status:        OrderCompleted,
		CustomerEmail: "test@example.com",
		CustomerName:  "John Doe",
		TicketCount:   1,
	}
}

func TestOrder_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Order)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid order",
			mutate:  func(o *Order) {},
			wantErr: false,
		},
		{
			name:    "zero total is allowed",
			mutate:  func(o *Order) { o.TotalAmount = 0 },
			wantErr: false,
		},
		{
			name:    "missing order ref",
			mutate:  func(o *Order) { o.OrderRef = "" },
			wantErr: true,
			errMsg:  "order ref is required",
		},
		{
			name:    "invalid order number - empty",
			mutate:  func(o *Order) { o.OrderNumber = "" },
			wantErr: true,
			errMsg:  "order number is required",
		},
		{
			name:    "invalid order number - format",
			mutate:  func(o *Order) { o.OrderNumber = "INVALID-123" },
			wantErr: true,
			errMsg:  "order number format is invalid",
		},
		{
			name:    "invalid total amount - negative",
			mutate:  func(o *Order) { o.TotalAmount = -100 },
			wantErr: true,
			errMsg:  "total amount cannot be negative",
		},
		{
			name:    "invalid status",
			mutate:  func(o *Order) { o.Status = "invalid" },
			wantErr: true,
			errMsg:  "invalid order status",
		},
		{
			name:    "invalid customer email - empty",
			mutate:  func(o *Order) { o.CustomerEmail = "" },
			wantErr: true,
			errMsg:  "customer email is required",
		},
		{
			name:    "invalid customer email - format",
			mutate:  func(o *Order) { o.CustomerEmail = "invalid-email" },
			wantErr: true,
			errMsg:  "customer email format is invalid",
		},
		{
			name:    "customer name too long",
			mutate:  func(o *Order) { o.CustomerName = strings.Repeat("a", 256) },
			wantErr: true,
			errMsg:  "customer name must be less than 255 characters",
		},
		{
			name:    "no tickets",
			mutate:  func(o *Order) { o.TicketCount = 0 },
			wantErr: true,
			errMsg:  "ticket count must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := validOrder()
			tt.mutate(&order)
			err := order.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error but got none")
					return
				}
				if err.Error() != tt.errMsg {
					t.Errorf("expected error message '%s', got '%s'", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestOrder_StatusChecks(t *testing.T) {
	order := &Order{Status: OrderPending}
	if order.IsCompleted() {
		t.Error("pending order should not be completed")
	}
	order.Status = OrderCompleted
	if !order.IsCompleted() {
		t.Error("completed order should be completed")
	}
}

func TestOrder_TotalAmountInCurrency(t *testing.T) {
	order := &Order{TotalAmount: 2550}
	expected := 25.50
	if order.TotalAmountInCurrency() != expected {
		t.Errorf("expected %f, got %f", expected, order.TotalAmountInCurrency())
	}
}

func TestOrder_DisplayName(t *testing.T) {
	order := &Order{CustomerEmail: "test@example.com", CustomerName: "  "}
	if got := order.DisplayName(); got != "test@example.com" {
		t.Errorf("expected email fallback, got %q", got)
	}
	order.CustomerName = "John Doe"
	if got := order.DisplayName(); got != "John Doe" {
		t.Errorf("expected name, got %q", got)
	}
}

func TestGenerateOrderNumber(t *testing.T) {
	day := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	orderNumber := GenerateOrderNumber(day)

	if !regexp.MustCompile(`^ORD-20240115-\d{6}$`).MatchString(orderNumber) {
		t.Errorf("unexpected order number format: %s", orderNumber)
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"buyer@example.com", true},
		{"first.last+tag@sub.example.co", true},
		{"", false},
		{"no-at-sign", false},
		{"a@b", false},
		{strings.Repeat("a", 250) + "@example.com", false},
	}
	for _, tt := range tests {
		if got := IsValidEmail(tt.email); got != tt.want {
			t.Errorf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}
