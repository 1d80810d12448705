package models

import (
	"strings"
	"testing"
)

func TestTicket_Validate(t *testing.T) {
	valid := func() Ticket {
		return Ticket{
			OrderID:  "order-id",
			UnitRef:  TicketTypeRef("ga"),
			Sequence: 1,
			QRCode:   "TKT-abc",
			Status:   TicketActive,
		}
	}

	tests := []struct {
		name    string
		mutate  func(t *Ticket)
		wantErr bool
		errMsg  string
	}{
		{name: "valid ticket", mutate: func(t *Ticket) {}},
		{name: "missing order", mutate: func(t *Ticket) { t.OrderID = "" }, wantErr: true, errMsg: "order id is required"},
		{name: "missing unit", mutate: func(t *Ticket) { t.UnitRef = UnitRef{} }, wantErr: true, errMsg: "unit ref is required"},
		{name: "zero sequence", mutate: func(t *Ticket) { t.Sequence = 0 }, wantErr: true, errMsg: "ticket sequence must be greater than 0"},
		{name: "missing code", mutate: func(t *Ticket) { t.QRCode = "" }, wantErr: true, errMsg: "QR code is required"},
		{name: "code too long", mutate: func(t *Ticket) { t.QRCode = strings.Repeat("x", 256) }, wantErr: true, errMsg: "QR code must be less than 255 characters"},
		{name: "invalid status", mutate: func(t *Ticket) { t.Status = "lost" }, wantErr: true, errMsg: "invalid ticket status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticket := valid()
			tt.mutate(&ticket)
			err := ticket.Validate()
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

func TestTicket_CanBeUsed(t *testing.T) {
	tests := []struct {
		status TicketStatus
		want   bool
	}{
		{TicketActive, true},
		{TicketUsed, false},
		{TicketCancelled, false},
	}
	for _, tt := range tests {
		ticket := &Ticket{Status: tt.status}
		if got := ticket.CanBeUsed(); got != tt.want {
			t.Errorf("CanBeUsed() for %s = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestExpandTicketSlots(t *testing.T) {
	slots := ExpandTicketSlots([]LineItem{
		{Unit: TicketTypeRef("ga"), Quantity: 2},
		{Unit: SeatRef("A1"), Quantity: 1},
	})

	expected := []TicketSlot{
		{Unit: TicketTypeRef("ga"), Sequence: 1},
		{Unit: TicketTypeRef("ga"), Sequence: 2},
		{Unit: SeatRef("A1"), Sequence: 3},
	}
	if len(slots) != len(expected) {
		t.Fatalf("expected %d slots, got %d", len(expected), len(slots))
	}
	for i := range expected {
		if slots[i] != expected[i] {
			t.Errorf("slot %d: expected %+v, got %+v", i, expected[i], slots[i])
		}
	}

	if len(ExpandTicketSlots(nil)) != 0 {
		t.Error("expected no slots for no items")
	}
}
