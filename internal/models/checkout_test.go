package models

import (
	"errors"
	"testing"
	"time"
)

func TestCheckoutState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from CheckoutState
		to   CheckoutState
		want bool
	}{
		{CheckoutCart, CheckoutHoldAcquired, true},
		{CheckoutCart, CheckoutAwaitingPayment, false},
		{CheckoutHoldAcquired, CheckoutAwaitingPayment, true},
		{CheckoutAwaitingPayment, CheckoutPaymentPending, true},
		{CheckoutAwaitingPayment, CheckoutPaymentConfirmed, true},
		{CheckoutPaymentPending, CheckoutPaymentConfirmed, true},
		{CheckoutPaymentPending, CheckoutAwaitingPayment, false},
		{CheckoutPaymentConfirmed, CheckoutIssuing, true},
		{CheckoutPaymentConfirmed, CheckoutFailed, false},
		{CheckoutIssuing, CheckoutCompleted, true},
		{CheckoutIssuing, CheckoutFailed, true},
		{CheckoutCompleted, CheckoutFailed, false},
		{CheckoutFailed, CheckoutIssuing, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCheckout_TransitionTo(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := &Checkout{State: CheckoutCart}

	if err := c.TransitionTo(CheckoutHoldAcquired, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.UpdatedAt.Equal(now) {
		t.Errorf("expected UpdatedAt to be set")
	}

	err := c.TransitionTo(CheckoutCompleted, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if c.State != CheckoutHoldAcquired {
		t.Errorf("state changed on invalid transition: %s", c.State)
	}
}

func TestCheckout_FailAndRetryIssuance(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := &Checkout{State: CheckoutIssuing}

	if err := c.Fail(StageIssuance, "db down", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.State != CheckoutFailed || c.FailedStage != StageIssuance || c.FailureReason != "db down" {
		t.Fatalf("unexpected checkout: %+v", c)
	}
	if c.IsTerminal() {
		t.Error("failed issuance should stay open for a retry")
	}

	if err := c.TransitionTo(CheckoutIssuing, now); err != nil {
		t.Fatalf("retry issuance: %v", err)
	}
	if c.FailedStage != "" || c.FailureReason != "" {
		t.Error("failure details should be cleared on retry")
	}

	payment := &Checkout{State: CheckoutAwaitingPayment}
	if err := payment.Fail(StagePayment, "declined", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !payment.IsTerminal() {
		t.Error("failed payment should be terminal")
	}
	if err := payment.TransitionTo(CheckoutIssuing, now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("only failed issuance may be retried, got %v", err)
	}

	confirmed := &Checkout{State: CheckoutPaymentConfirmed}
	if err := confirmed.Fail(StageTimeout, "expired", now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("confirmed payment cannot time out, got %v", err)
	}
}

func TestCheckoutState_BeforePaymentConfirmed(t *testing.T) {
	before := []CheckoutState{CheckoutCart, CheckoutHoldAcquired, CheckoutAwaitingPayment, CheckoutPaymentPending}
	after := []CheckoutState{CheckoutPaymentConfirmed, CheckoutIssuing, CheckoutCompleted}
	for _, s := range before {
		if !s.BeforePaymentConfirmed() {
			t.Errorf("%s should be before payment", s)
		}
	}
	for _, s := range after {
		if s.BeforePaymentConfirmed() {
			t.Errorf("%s should be after payment", s)
		}
	}
}

func TestCheckout_PaymentRequest(t *testing.T) {
	c := &Checkout{
		OrderRef:         "order-1",
		AmountMinorUnits: 11500,
		Currency:         "USD",
		CustomerEmail:    "buyer@example.com",
		Items: []LineItem{
			{Unit: TicketTypeRef("ga"), Quantity: 1, UnitPriceMinor: 2500},
			{Unit: SeatRef("A1"), Quantity: 1, UnitPriceMinor: 9000},
		},
	}

	req := c.PaymentRequest(GatewaySquare, "cnon:ok")
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.GatewayToken != "cnon:ok" || req.Gateway != GatewaySquare || len(req.Units) != 2 {
		t.Errorf("unexpected request: %+v", req)
	}

	units := c.Units()
	if len(units) != 2 || units[1].Unit != SeatRef("A1") || units[1].Quantity != 1 {
		t.Errorf("unexpected units: %+v", units)
	}
}

func TestStartCheckoutRequest_Validate(t *testing.T) {
	valid := func() StartCheckoutRequest {
		return StartCheckoutRequest{
			OrderRef:      "order-1",
			EventID:       "evt-1",
			Items:         []UnitRequest{{Unit: TicketTypeRef("ga"), Quantity: 1}},
			CustomerEmail: "buyer@example.com",
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *StartCheckoutRequest)
		wantErr bool
	}{
		{name: "valid", mutate: func(r *StartCheckoutRequest) {}},
		{name: "hold token instead of items", mutate: func(r *StartCheckoutRequest) { r.Items = nil; r.HoldToken = "tok" }},
		{name: "blank order ref", mutate: func(r *StartCheckoutRequest) { r.OrderRef = "  " }, wantErr: true},
		{name: "missing event", mutate: func(r *StartCheckoutRequest) { r.EventID = "" }, wantErr: true},
		{name: "nothing to buy", mutate: func(r *StartCheckoutRequest) { r.Items = nil }, wantErr: true},
		{name: "bad email", mutate: func(r *StartCheckoutRequest) { r.CustomerEmail = "nope" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
