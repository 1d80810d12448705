package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"event-ticketing-checkout/internal/clock"
	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/utils"
)

const ticketCodePrefix = "TKT-"

// ConfirmedPayment is everything issuance needs from a captured payment.
type ConfirmedPayment struct {
	OrderRef              string
	Gateway               string
	ExternalTransactionID string
	AmountMinorUnits      int64
	Currency              string
	CustomerEmail         string
	CustomerName          string
	EventID               string
	Items                 []models.LineItem
}

// ConfirmedPaymentFor builds the issuance input from a confirmed checkout
func ConfirmedPaymentFor(c *models.Checkout) ConfirmedPayment {
	return ConfirmedPayment{
		OrderRef:              c.OrderRef,
		Gateway:               c.Gateway,
		ExternalTransactionID: c.ExternalTransactionID,
		AmountMinorUnits:      c.AmountMinorUnits,
		Currency:              c.Currency,
		CustomerEmail:         c.CustomerEmail,
		CustomerName:          c.CustomerName,
		EventID:               c.EventID,
		Items:                 c.Items,
	}
}

func (p *ConfirmedPayment) validate() error {
	if p.OrderRef == "" {
		return fmt.Errorf("%w: order ref is required", models.ErrInvalidInput)
	}
	if p.ExternalTransactionID == "" {
		return fmt.Errorf("%w: external transaction id is required", models.ErrInvalidInput)
	}
	if len(p.Items) == 0 {
		return fmt.Errorf("%w: confirmed payment has no items", models.ErrInvalidInput)
	}
	return nil
}

// IssuanceResult is the durable outcome of a sale
type IssuanceResult struct {
	Order   *models.Order
	Tickets []*models.Ticket
}

// HoldCommitter finalizes a hold session as sold
type HoldCommitter interface {
	Commit(ctx context.Context, sessionID string) error
}

// IssuanceService turns a confirmed payment into an order and its tickets.
// Every step after the hold commit can be repeated with the same order ref.
type IssuanceService struct {
	holds   HoldCommitter
	orders  OrderRepository
	tickets TicketRepository
	clock   clock.Clock
	codeKey []byte
}

// NewIssuanceService creates a new issuance service. codeKey signs ticket codes.
func NewIssuanceService(holds HoldCommitter, orders OrderRepository, tickets TicketRepository, codeKey []byte, clk clock.Clock) *IssuanceService {
	return &IssuanceService{
		holds:   holds,
		orders:  orders,
		tickets: tickets,
		clock:   clk,
		codeKey: codeKey,
	}
}

// Issue commits the hold, records the order and mints one ticket per unit.
// Calling it again for the same order ref resumes from whatever is missing.
func (s *IssuanceService) Issue(ctx context.Context, payment ConfirmedPayment, hold *models.HoldSession) (*IssuanceResult, error) {
	if err := payment.validate(); err != nil {
		return nil, err
	}
	if hold == nil || hold.SessionID == "" {
		return nil, fmt.Errorf("%w: hold session is required", models.ErrInvalidInput)
	}

	// Committing an already finalized hold is a no-op, so a resumed
	// issuance passes through here without touching inventory.
	if err := s.holds.Commit(ctx, hold.SessionID); err != nil {
		return nil, s.alert(&models.IssuanceError{
			Code:     models.IssuanceInventoryInconsistent,
			OrderRef: payment.OrderRef,
			Err:      err,
		})
	}

	slots := models.ExpandTicketSlots(payment.Items)
	now := s.clock.Now()
	order := &models.Order{
		OrderRef:              payment.OrderRef,
		OrderNumber:           models.GenerateOrderNumber(now),
		EventID:               payment.EventID,
		CustomerEmail:         payment.CustomerEmail,
		CustomerName:          payment.CustomerName,
		TotalAmount:           payment.AmountMinorUnits,
		Currency:              payment.Currency,
		PaymentMethod:         payment.Gateway,
		ExternalTransactionID: payment.ExternalTransactionID,
		HoldSessionID:         hold.SessionID,
		TicketCount:           len(slots),
		Status:                models.OrderPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	stored, created, err := s.orders.CreateOrGet(ctx, order)
	if err != nil {
		return nil, s.alert(&models.IssuanceError{
			Code:     models.IssuanceTicketMintingFailed,
			OrderRef: payment.OrderRef,
			Err:      fmt.Errorf("failed to record order: %w", err),
		})
	}
	if !created {
		log.Printf("Issuance: resuming order %s (%s) for order_ref=%s", stored.OrderNumber, stored.Status, stored.OrderRef)
	}

	tickets, err := s.mintTickets(ctx, stored, slots)
	if err != nil {
		return nil, s.alert(&models.IssuanceError{
			Code:     models.IssuanceTicketMintingFailed,
			OrderRef: payment.OrderRef,
			Err:      err,
		})
	}

	if !stored.IsCompleted() {
		if err := s.orders.MarkCompleted(ctx, stored.ID, s.clock.Now()); err != nil {
			return nil, s.alert(&models.IssuanceError{
				Code:     models.IssuanceTicketMintingFailed,
				OrderRef: payment.OrderRef,
				Err:      fmt.Errorf("failed to complete order: %w", err),
			})
		}
		stored.Status = models.OrderCompleted
		stored.UpdatedAt = s.clock.Now()
	}

	log.Printf("Issuance: order %s issued with %d tickets (order_ref=%s)", stored.OrderNumber, len(tickets), stored.OrderRef)
	return &IssuanceResult{Order: stored, Tickets: tickets}, nil
}

// mintTickets creates every ticket slot that does not exist yet and returns
// the full set in sequence order.
func (s *IssuanceService) mintTickets(ctx context.Context, order *models.Order, slots []models.TicketSlot) ([]*models.Ticket, error) {
	existing, err := s.tickets.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing tickets: %w", err)
	}
	bySequence := make(map[int]*models.Ticket, len(existing))
	for _, t := range existing {
		bySequence[t.Sequence] = t
	}

	tickets := make([]*models.Ticket, 0, len(slots))
	for _, slot := range slots {
		if t, ok := bySequence[slot.Sequence]; ok {
			if t.UnitRef != slot.Unit || !s.VerifyTicketCode(t) {
				return nil, fmt.Errorf("stored ticket %d of order %s does not match its slot %s", slot.Sequence, order.OrderNumber, slot.Unit)
			}
			tickets = append(tickets, t)
			continue
		}
		ticket, err := s.tickets.CreateIfAbsent(ctx, &models.Ticket{
			OrderID:    order.ID,
			UnitRef:    slot.Unit,
			Sequence:   slot.Sequence,
			HolderName: order.CustomerName,
			QRCode:     s.ticketCode(order.ID, slot),
			Status:     models.TicketActive,
			CreatedAt:  s.clock.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to mint ticket %d of %d: %w", slot.Sequence, len(slots), err)
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

// ticketCode derives the scannable code from (order, unit, sequence), so a
// re-minted slot always gets the same code.
func (s *IssuanceService) ticketCode(orderID string, slot models.TicketSlot) string {
	return ticketCodePrefix + utils.SignHex(s.codeKey, ticketCodeMessage(orderID, slot))
}

func ticketCodeMessage(orderID string, slot models.TicketSlot) string {
	return fmt.Sprintf("%s:%s:%d", orderID, slot.Unit, slot.Sequence)
}

// VerifyTicketCode reports whether the ticket carries the code minted for its slot.
func (s *IssuanceService) VerifyTicketCode(ticket *models.Ticket) bool {
	if ticket == nil || !strings.HasPrefix(ticket.QRCode, ticketCodePrefix) {
		return false
	}
	slot := models.TicketSlot{Unit: ticket.UnitRef, Sequence: ticket.Sequence}
	return utils.VerifyHex(s.codeKey, ticketCodeMessage(ticket.OrderID, slot), strings.TrimPrefix(ticket.QRCode, ticketCodePrefix))
}

func (s *IssuanceService) alert(err *models.IssuanceError) error {
	log.Printf("ALERT Issuance: payment captured but sale not recorded: %v", err)
	var invErr *models.InventoryError
	if errors.As(err.Err, &invErr) {
		log.Printf("ALERT Issuance: order_ref=%s needs a manual refund or inventory fix (%s)", err.OrderRef, invErr.Code)
	}
	return err
}
