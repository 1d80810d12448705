package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-ticketing-checkout/internal/clock"
	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/repositories"
)

// mockHoldCommitter records commits and can be told to fail
type mockHoldCommitter struct {
	commits []string
	err     error
}

func (m *mockHoldCommitter) Commit(_ context.Context, sessionID string) error {
	if m.err != nil {
		return m.err
	}
	m.commits = append(m.commits, sessionID)
	return nil
}

func confirmedPayment(orderRef string) ConfirmedPayment {
	return ConfirmedPayment{
		OrderRef:              orderRef,
		Gateway:               models.GatewayPayPal,
		ExternalTransactionID: "PAY-123",
		AmountMinorUnits:      2*2500 + 9000,
		Currency:              "USD",
		CustomerEmail:         "buyer@example.com",
		CustomerName:          "Ada Buyer",
		EventID:               testEventID,
		Items: []models.LineItem{
			{Unit: models.TicketTypeRef("ga"), Quantity: 2, UnitPriceMinor: 2500},
			{Unit: models.SeatRef("A1"), Quantity: 1, UnitPriceMinor: 9000},
		},
	}
}

func newTestIssuer() (*IssuanceService, *mockHoldCommitter, *repositories.MemoryOrderRepository, *repositories.MemoryTicketRepository) {
	holds := &mockHoldCommitter{}
	orders := repositories.NewMemoryOrderRepository()
	tickets := repositories.NewMemoryTicketRepository()
	issuer := NewIssuanceService(holds, orders, tickets, testCodeKey, clock.NewFake(testStart))
	return issuer, holds, orders, tickets
}

func TestIssuanceService_Issue(t *testing.T) {
	issuer, holds, orders, _ := newTestIssuer()
	hold := &models.HoldSession{SessionID: "checkout:order-1", EventID: testEventID}

	result, err := issuer.Issue(context.Background(), confirmedPayment("order-1"), hold)
	require.NoError(t, err)

	assert.Equal(t, []string{"checkout:order-1"}, holds.commits)
	assert.Equal(t, models.OrderCompleted, result.Order.Status)
	assert.Equal(t, "order-1", result.Order.OrderRef)
	assert.Equal(t, int64(14000), result.Order.TotalAmount)
	assert.Equal(t, "PAY-123", result.Order.ExternalTransactionID)
	assert.Equal(t, "checkout:order-1", result.Order.HoldSessionID)
	assert.Equal(t, 3, result.Order.TicketCount)
	assert.Regexp(t, `^ORD-20250601-\d{6}$`, result.Order.OrderNumber)

	require.Len(t, result.Tickets, 3)
	codes := make(map[string]bool)
	for i, ticket := range result.Tickets {
		assert.Equal(t, i+1, ticket.Sequence)
		assert.Equal(t, result.Order.ID, ticket.OrderID)
		assert.Equal(t, "Ada Buyer", ticket.HolderName)
		assert.Equal(t, models.TicketActive, ticket.Status)
		assert.True(t, issuer.VerifyTicketCode(ticket))
		codes[ticket.QRCode] = true
	}
	assert.Len(t, codes, 3, "ticket codes must be unique")
	assert.Equal(t, models.SeatRef("A1"), result.Tickets[2].UnitRef)
	assert.Equal(t, 1, orders.Count())
}

func TestIssuanceService_IssueIsIdempotent(t *testing.T) {
	issuer, _, orders, _ := newTestIssuer()
	ctx := context.Background()
	hold := &models.HoldSession{SessionID: "checkout:order-1"}

	first, err := issuer.Issue(ctx, confirmedPayment("order-1"), hold)
	require.NoError(t, err)
	second, err := issuer.Issue(ctx, confirmedPayment("order-1"), hold)
	require.NoError(t, err)

	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.Order.OrderNumber, second.Order.OrderNumber)
	require.Len(t, second.Tickets, len(first.Tickets))
	for i := range first.Tickets {
		assert.Equal(t, first.Tickets[i].ID, second.Tickets[i].ID)
		assert.Equal(t, first.Tickets[i].QRCode, second.Tickets[i].QRCode)
	}
	assert.Equal(t, 1, orders.Count())
}

func TestIssuanceService_RetryResumesMinting(t *testing.T) {
	issuer, _, orders, tickets := newTestIssuer()
	ctx := context.Background()
	hold := &models.HoldSession{SessionID: "checkout:order-1"}

	tickets.FailAfter(2, errors.New("connection reset"))
	_, err := issuer.Issue(ctx, confirmedPayment("order-1"), hold)
	var issErr *models.IssuanceError
	require.True(t, errors.As(err, &issErr))
	assert.Equal(t, models.IssuanceTicketMintingFailed, issErr.Code)
	assert.Equal(t, "order-1", issErr.OrderRef)
	assert.False(t, issErr.RequiresRefund())

	order, err := orders.GetByOrderRef(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
	minted, err := tickets.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, minted, 2)

	tickets.FailAfter(0, nil)
	result, err := issuer.Issue(ctx, confirmedPayment("order-1"), hold)
	require.NoError(t, err)
	assert.Equal(t, order.ID, result.Order.ID)
	assert.Equal(t, models.OrderCompleted, result.Order.Status)
	require.Len(t, result.Tickets, 3)
	assert.Equal(t, minted[0].ID, result.Tickets[0].ID)
	assert.Equal(t, minted[1].ID, result.Tickets[1].ID)
	assert.Equal(t, 1, orders.Count())
}

func TestIssuanceService_CommitFailure(t *testing.T) {
	issuer, holds, orders, _ := newTestIssuer()
	holds.err = &models.InventoryError{Code: models.InventorySessionExpired, Message: "checkout:order-1"}

	_, err := issuer.Issue(context.Background(), confirmedPayment("order-1"), &models.HoldSession{SessionID: "checkout:order-1"})
	assert.ErrorIs(t, err, models.ErrInventoryInconsistent)
	assert.ErrorIs(t, err, models.ErrSessionExpired)

	var issErr *models.IssuanceError
	require.True(t, errors.As(err, &issErr))
	assert.True(t, issErr.RequiresRefund())
	assert.Equal(t, 0, orders.Count())
}

func TestIssuanceService_Validation(t *testing.T) {
	issuer, holds, _, _ := newTestIssuer()
	ctx := context.Background()
	hold := &models.HoldSession{SessionID: "checkout:order-1"}

	tests := []struct {
		name    string
		mutate  func(p *ConfirmedPayment)
		hold    *models.HoldSession
		wantErr error
	}{
		{name: "missing order ref", mutate: func(p *ConfirmedPayment) { p.OrderRef = "" }, hold: hold, wantErr: models.ErrInvalidInput},
		{name: "missing transaction", mutate: func(p *ConfirmedPayment) { p.ExternalTransactionID = "" }, hold: hold, wantErr: models.ErrInvalidInput},
		{name: "no items", mutate: func(p *ConfirmedPayment) { p.Items = nil }, hold: hold, wantErr: models.ErrInvalidInput},
		{name: "no hold", mutate: func(p *ConfirmedPayment) {}, hold: nil, wantErr: models.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := confirmedPayment("order-1")
			tt.mutate(&p)
			_, err := issuer.Issue(ctx, p, tt.hold)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, holds.commits)
}

func TestIssuanceService_VerifyTicketCode(t *testing.T) {
	issuer, _, _, _ := newTestIssuer()

	result, err := issuer.Issue(context.Background(), confirmedPayment("order-1"), &models.HoldSession{SessionID: "s"})
	require.NoError(t, err)

	forged := *result.Tickets[0]
	forged.Sequence = 2
	assert.False(t, issuer.VerifyTicketCode(&forged))
	assert.False(t, issuer.VerifyTicketCode(nil))

	other := NewIssuanceService(&mockHoldCommitter{}, nil, nil, []byte("different-key"), clock.NewFake(testStart))
	assert.False(t, other.VerifyTicketCode(result.Tickets[0]))
}

func TestIssuanceService_RetryRejectsTamperedTicket(t *testing.T) {
	issuer, _, orders, tickets := newTestIssuer()
	ctx := context.Background()
	hold := &models.HoldSession{SessionID: "checkout:order-1"}

	tickets.FailAfter(1, errors.New("connection reset"))
	_, err := issuer.Issue(ctx, confirmedPayment("order-1"), hold)
	require.ErrorIs(t, err, models.ErrTicketMintingFailed)
	tickets.FailAfter(0, nil)

	order, err := orders.GetByOrderRef(ctx, "order-1")
	require.NoError(t, err)
	_, err = tickets.CreateIfAbsent(ctx, &models.Ticket{
		OrderID:  order.ID,
		UnitRef:  models.TicketTypeRef("ga"),
		Sequence: 2,
		QRCode:   "TKT-0000",
		Status:   models.TicketActive,
	})
	require.NoError(t, err)

	_, err = issuer.Issue(ctx, confirmedPayment("order-1"), hold)
	require.ErrorIs(t, err, models.ErrTicketMintingFailed)
	assert.Contains(t, err.Error(), "does not match its slot")

	stored, err := orders.GetByOrderRef(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, stored.IsCompleted())
}

func TestConfirmedPaymentFor(t *testing.T) {
	c := &models.Checkout{
		OrderRef:              "order-1",
		EventID:               testEventID,
		Gateway:               models.GatewaySquare,
		ExternalTransactionID: "sq_1",
		AmountMinorUnits:      2500,
		Currency:              "USD",
		CustomerEmail:         "buyer@example.com",
		Items:                 []models.LineItem{{Unit: models.TicketTypeRef("ga"), Quantity: 1, UnitPriceMinor: 2500}},
	}

	p := ConfirmedPaymentFor(c)
	assert.Equal(t, "order-1", p.OrderRef)
	assert.Equal(t, models.GatewaySquare, p.Gateway)
	assert.Equal(t, "sq_1", p.ExternalTransactionID)
	assert.Equal(t, c.Items, p.Items)
}
