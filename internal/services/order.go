package services

import (
	"context"
	"fmt"

	"event-ticketing-checkout/internal/models"
)

// OrderView is an order together with its tickets
type OrderView struct {
	Order   *models.Order    `json:"order"`
	Tickets []*models.Ticket `json:"tickets"`
}

// OrderService handles order read operations
type OrderService struct {
	orderRepo  OrderRepository
	ticketRepo TicketRepository
}

// NewOrderService creates a new order service
func NewOrderService(orderRepo OrderRepository, ticketRepo TicketRepository) *OrderService {
	return &OrderService{
		orderRepo:  orderRepo,
		ticketRepo: ticketRepo,
	}
}

// GetOrderByRef retrieves an order by the checkout's order reference
func (s *OrderService) GetOrderByRef(ctx context.Context, orderRef string) (*models.Order, error) {
	return s.orderRepo.GetByOrderRef(ctx, orderRef)
}

// GetOrderWithTickets retrieves an order and its tickets. A pending order
// returns the tickets minted so far.
func (s *OrderService) GetOrderWithTickets(ctx context.Context, orderRef string) (*OrderView, error) {
	order, err := s.orderRepo.GetByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}

	tickets, err := s.ticketRepo.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order tickets: %w", err)
	}
	if tickets == nil {
		tickets = []*models.Ticket{}
	}

	return &OrderView{Order: order, Tickets: tickets}, nil
}
