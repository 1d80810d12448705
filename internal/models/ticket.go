package models

import (
	"errors"
	"time"
)

// TicketStatus represents the status of a ticket
type TicketStatus string

const (
	TicketActive    TicketStatus = "active"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
)

// Ticket represents an individual ticket. Sequence is 1-based within the order.
type Ticket struct {
	ID         string       `json:"id" db:"id"`
	OrderID    string       `json:"order_id" db:"order_id"`
	UnitRef    UnitRef      `json:"unit_ref" db:"unit_ref"`
	Sequence   int          `json:"sequence" db:"sequence"`
	HolderName string       `json:"holder_name,omitempty" db:"holder_name"`
	QRCode     string       `json:"qr_code" db:"qr_code"`
	Status     TicketStatus `json:"status" db:"status"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// Validate validates the ticket data
func (t *Ticket) Validate() error {
	if t.OrderID == "" {
		return errors.New("order id is required")
	}
	if t.UnitRef.IsZero() {
		return errors.New("unit ref is required")
	}
	if t.Sequence <= 0 {
		return errors.New("ticket sequence must be greater than 0")
	}
	if t.QRCode == "" {
		return errors.New("QR code is required")
	}
	if len(t.QRCode) > 255 {
		return errors.New("QR code must be less than 255 characters")
	}
	switch t.Status {
	case TicketActive, TicketUsed, TicketCancelled:
		return nil
	default:
		return errors.New("invalid ticket status")
	}
}

// CanBeUsed returns true if the ticket can be used (scanned)
func (t *Ticket) CanBeUsed() bool {
	return t.Status == TicketActive
}

// TicketSlot is one ticket the order is entitled to.
type TicketSlot struct {
	Unit     UnitRef
	Sequence int
}

// ExpandTicketSlots lists one slot per purchased unit in a stable order.
func ExpandTicketSlots(items []LineItem) []TicketSlot {
	var slots []TicketSlot
	seq := 0
	for _, item := range items {
		for i := 0; i < item.Quantity; i++ {
			seq++
			slots = append(slots, TicketSlot{Unit: item.Unit, Sequence: seq})
		}
	}
	return slots
}
