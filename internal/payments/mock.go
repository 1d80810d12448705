package payments

import (
	"context"
	"fmt"
	"log"
	"sync"

	"event-ticketing-checkout/internal/models"
)

// Mock payment tokens that trigger specific outcomes on a token flow
const (
	MockTokenDeclined = "tok_declined"
	MockTokenTimeout  = "tok_timeout"
)

// MockGateway simulates a provider for development and tests. Like real
// providers it remembers idempotency keys, so a replayed key never creates
// a second charge.
type MockGateway struct {
	name string
	flow Flow

	mu      sync.Mutex
	charges map[string]string // idempotency key -> transaction id
	calls   int
	seq     int
	queued  []error
}

func NewMockGateway(name string, flow Flow) *MockGateway {
	return &MockGateway{
		name:    name,
		flow:    flow,
		charges: make(map[string]string),
	}
}

func (g *MockGateway) Name() string { return g.name }

func (g *MockGateway) Flow() Flow { return g.flow }

// FailNext makes the next call return err.
func (g *MockGateway) FailNext(err error) {
	g.mu.Lock()
	g.queued = append(g.queued, err)
	g.mu.Unlock()
}

// Calls reports how many times the provider was contacted.
func (g *MockGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Charges reports how many distinct charges were captured.
func (g *MockGateway) Charges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, txn := range g.charges {
		if txn != "" {
			n++
		}
	}
	return n
}

func (g *MockGateway) next() error {
	g.calls++
	if len(g.queued) == 0 {
		return nil
	}
	err := g.queued[0]
	g.queued = g.queued[1:]
	return err
}

func (g *MockGateway) Charge(_ context.Context, req models.PaymentRequest, idempotencyKey string) (*ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.next(); err != nil {
		return nil, err
	}
	log.Printf("Mock Payment: %s charge of %s %s for %s", g.name, formatDecimal(req.AmountMinorUnits), req.Currency, req.CustomerEmail)

	if g.flow == FlowRedirect {
		if _, ok := g.charges[idempotencyKey]; !ok {
			g.charges[idempotencyKey] = ""
		}
		ref := "mock_ref_" + idempotencyKey
		return &ChargeResult{
			Result: models.RequiresAction{
				Action:     models.ActionRedirect,
				ActionData: map[string]string{"redirect_url": "https://mock.gateway/approve/" + ref, "reference": ref},
			},
			ExternalReference: ref,
		}, nil
	}

	switch req.GatewayToken {
	case MockTokenDeclined:
		return nil, declined(g.name, "card declined")
	case MockTokenTimeout:
		return nil, timeout(g.name, fmt.Errorf("simulated timeout"))
	}
	return &ChargeResult{Result: models.Confirmed{ExternalTransactionID: g.capture(idempotencyKey)}}, nil
}

// Resume approves the pending flow unless the payload says otherwise.
func (g *MockGateway) Resume(_ context.Context, attempt *models.PaymentAttempt, payload map[string]string) (*ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.next(); err != nil {
		return nil, err
	}
	switch payload["status"] {
	case "cancelled", "declined", "denied":
		return nil, declined(g.name, "buyer did not approve")
	case "pending":
		return &ChargeResult{Result: attempt.Result(), ExternalReference: attempt.ExternalReference}, nil
	}
	key := attempt.IdempotencyKey()
	if _, ok := g.charges[key]; !ok {
		return nil, declined(g.name, "unknown payment reference")
	}
	return &ChargeResult{Result: models.Confirmed{ExternalTransactionID: g.capture(key)}, ExternalReference: attempt.ExternalReference}, nil
}

// capture must be called with g.mu held.
func (g *MockGateway) capture(key string) string {
	if txn := g.charges[key]; txn != "" {
		return txn
	}
	g.seq++
	txn := fmt.Sprintf("mock_txn_%d", g.seq)
	g.charges[key] = txn
	return txn
}
