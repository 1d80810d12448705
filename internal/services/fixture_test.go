package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"event-ticketing-checkout/internal/clock"
	"event-ticketing-checkout/internal/inventory"
	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/payments"
	"event-ticketing-checkout/internal/repositories"
)

const testEventID = "evt-1"

var (
	testStart    = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	testTokenKey = []byte("0123456789abcdef0123456789abcdef")
	testCodeKey  = []byte("ticket-code-key")
)

// recordingNotifier captures completed orders instead of delivering them
type recordingNotifier struct {
	mu     sync.Mutex
	orders []*models.Order
}

func (n *recordingNotifier) Notify(order *models.Order, _ []*models.Ticket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, order)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.orders)
}

// fixture is a complete checkout stack on in-memory storage and mock gateways.
type fixture struct {
	clock     *clock.Fake
	ledger    *inventory.MemoryLedger
	holds     *HoldManager
	square    *payments.MockGateway
	paypal    *payments.MockGateway
	adapter   *payments.Adapter
	orders    *repositories.MemoryOrderRepository
	tickets   *repositories.MemoryTicketRepository
	checkouts *repositories.MemoryCheckoutRepository
	issuer    *IssuanceService
	notifier  *recordingNotifier
	service   *CheckoutService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		clock:     clock.NewFake(testStart),
		ledger:    inventory.NewMemoryLedger(),
		square:    payments.NewMockGateway(models.GatewaySquare, payments.FlowToken),
		paypal:    payments.NewMockGateway(models.GatewayPayPal, payments.FlowRedirect),
		orders:    repositories.NewMemoryOrderRepository(),
		tickets:   repositories.NewMemoryTicketRepository(),
		checkouts: repositories.NewMemoryCheckoutRepository(),
		notifier:  &recordingNotifier{},
	}

	require.NoError(t, f.ledger.AddTicketType(ctx, models.TicketType{
		ID: "ga", EventID: testEventID, Name: "General Admission", Capacity: 2, Price: 2500,
	}))
	require.NoError(t, f.ledger.AddSeat(ctx, models.Seat{
		ID: "A1", EventID: testEventID, CategoryID: "front-row", Price: 9000,
	}))
	require.NoError(t, f.ledger.AddTicketType(ctx, models.TicketType{
		ID: "other", EventID: "evt-2", Name: "Other Event", Capacity: 10, Price: 1000,
	}))

	f.holds = NewHoldManager(f.ledger, testTokenKey, f.clock, WithHoldTTL(15*time.Minute), WithHoldMaxLifetime(30*time.Minute))
	f.adapter = payments.NewAdapter(repositories.NewMemoryAttemptRepository(), f.clock, f.square, f.paypal)
	f.issuer = NewIssuanceService(f.holds, f.orders, f.tickets, testCodeKey, f.clock)
	f.service = NewCheckoutService(f.checkouts, f.holds, f.ledger, f.adapter, f.issuer, f.clock,
		WithCurrency("USD"),
		WithNotifier(f.notifier),
		WithStuckIssuanceAfter(time.Minute),
	)
	return f
}

func gaUnits(qty int) []models.UnitRequest {
	return []models.UnitRequest{{Unit: models.TicketTypeRef("ga"), Quantity: qty}}
}

func seatUnits(id string) []models.UnitRequest {
	return []models.UnitRequest{{Unit: models.SeatRef(id), Quantity: 1}}
}

func startRequest(orderRef string, units []models.UnitRequest) *models.StartCheckoutRequest {
	return &models.StartCheckoutRequest{
		OrderRef:      orderRef,
		EventID:       testEventID,
		Items:         units,
		CustomerEmail: "buyer@example.com",
		CustomerName:  "Ada Buyer",
	}
}

func (f *fixture) start(t *testing.T, orderRef string, units []models.UnitRequest) *models.Checkout {
	t.Helper()
	c, err := f.service.Start(context.Background(), startRequest(orderRef, units))
	require.NoError(t, err)
	require.Equal(t, models.CheckoutHoldAcquired, c.State)
	return c
}

func (f *fixture) availability(t *testing.T, ref models.UnitRef) *models.UnitAvailability {
	t.Helper()
	av, err := f.ledger.Availability(context.Background(), ref)
	require.NoError(t, err)
	return av
}
