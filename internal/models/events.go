package models

import "time"

// OrderCompletedEvent is published once every ticket of an order is minted.
type OrderCompletedEvent struct {
	EventID       string        `json:"event_id"`
	OrderID       string        `json:"order_id"`
	OrderRef      string        `json:"order_ref"`
	OrderNumber   string        `json:"order_number"`
	CustomerEmail string        `json:"customer_email"`
	TotalAmount   int64         `json:"total_amount"`
	Currency      string        `json:"currency"`
	PaymentMethod string        `json:"payment_method"`
	Tickets       []TicketEvent `json:"tickets"`
	CompletedAt   time.Time     `json:"completed_at"`
}

type TicketEvent struct {
	TicketID string  `json:"ticket_id"`
	UnitRef  UnitRef `json:"unit_ref"`
	QRCode   string  `json:"qr_code"`
}

// NewOrderCompletedEvent builds the event payload for an order and its tickets
func NewOrderCompletedEvent(order *Order, tickets []*Ticket, at time.Time) OrderCompletedEvent {
	ev := OrderCompletedEvent{
		EventID:       order.EventID,
		OrderID:       order.ID,
		OrderRef:      order.OrderRef,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		PaymentMethod: order.PaymentMethod,
		CompletedAt:   at,
	}
	for _, t := range tickets {
		ev.Tickets = append(ev.Tickets, TicketEvent{TicketID: t.ID, UnitRef: t.UnitRef, QRCode: t.QRCode})
	}
	return ev
}
