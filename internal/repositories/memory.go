package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"event-ticketing-checkout/internal/models"
)

// In-memory repositories back the development profile and service tests.
// They follow the same idempotency and versioning rules as the Postgres ones.

type MemoryOrderRepository struct {
	mu    sync.RWMutex
	byRef map[string]*models.Order
	byID  map[string]*models.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		byRef: make(map[string]*models.Order),
		byID:  make(map[string]*models.Order),
	}
}

func (r *MemoryOrderRepository) CreateOrGet(_ context.Context, order *models.Order) (*models.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byRef[order.OrderRef]; ok {
		copied := *existing
		return &copied, false, nil
	}
	if err := order.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	stored := *order
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	r.byRef[stored.OrderRef] = &stored
	r.byID[stored.ID] = &stored

	copied := stored
	return &copied, true, nil
}

func (r *MemoryOrderRepository) GetByOrderRef(_ context.Context, orderRef string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.byRef[orderRef]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (r *MemoryOrderRepository) GetByID(_ context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.byID[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (r *MemoryOrderRepository) MarkCompleted(_ context.Context, orderID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.byID[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	order.Status = models.OrderCompleted
	order.UpdatedAt = at
	return nil
}

// Count returns the number of stored orders
func (r *MemoryOrderRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

type ticketKey struct {
	orderID  string
	sequence int
}

type MemoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[ticketKey]*models.Ticket
	codes   map[string]bool

	// failAfter makes CreateIfAbsent fail once this many tickets exist for an
	// order. Zero disables it.
	failAfter int
	failErr   error
}

func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets: make(map[ticketKey]*models.Ticket),
		codes:   make(map[string]bool),
	}
}

// FailAfter makes inserts fail with err once n tickets of an order exist.
// Passing n <= 0 clears it.
func (r *MemoryTicketRepository) FailAfter(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAfter = n
	r.failErr = err
}

func (r *MemoryTicketRepository) CreateIfAbsent(_ context.Context, ticket *models.Ticket) (*models.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ticketKey{orderID: ticket.OrderID, sequence: ticket.Sequence}
	if existing, ok := r.tickets[key]; ok {
		copied := *existing
		return &copied, nil
	}
	if r.failAfter > 0 && r.countLocked(ticket.OrderID) >= r.failAfter {
		return nil, r.failErr
	}
	if err := ticket.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if r.codes[ticket.QRCode] {
		return nil, models.ErrDuplicateEntry
	}
	stored := *ticket
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	r.tickets[key] = &stored
	r.codes[stored.QRCode] = true

	copied := stored
	return &copied, nil
}

func (r *MemoryTicketRepository) countLocked(orderID string) int {
	n := 0
	for k := range r.tickets {
		if k.orderID == orderID {
			n++
		}
	}
	return n
}

func (r *MemoryTicketRepository) ListByOrder(_ context.Context, orderID string) ([]*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tickets []*models.Ticket
	for k, t := range r.tickets {
		if k.orderID == orderID {
			copied := *t
			tickets = append(tickets, &copied)
		}
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].Sequence < tickets[j].Sequence })
	return tickets, nil
}

type MemoryCheckoutRepository struct {
	mu        sync.RWMutex
	checkouts map[string]*models.Checkout
}

func NewMemoryCheckoutRepository() *MemoryCheckoutRepository {
	return &MemoryCheckoutRepository{checkouts: make(map[string]*models.Checkout)}
}

func cloneCheckout(c *models.Checkout) *models.Checkout {
	copied := *c
	copied.Items = append([]models.LineItem(nil), c.Items...)
	if c.HoldExpiresAt != nil {
		t := *c.HoldExpiresAt
		copied.HoldExpiresAt = &t
	}
	return &copied
}

func (r *MemoryCheckoutRepository) Create(_ context.Context, checkout *models.Checkout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.checkouts[checkout.OrderRef]; ok {
		return models.ErrDuplicateEntry
	}
	if checkout.ID == "" {
		checkout.ID = uuid.New().String()
	}
	checkout.Version = 1
	r.checkouts[checkout.OrderRef] = cloneCheckout(checkout)
	return nil
}

func (r *MemoryCheckoutRepository) GetByOrderRef(_ context.Context, orderRef string) (*models.Checkout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checkouts[orderRef]
	if !ok {
		return nil, models.ErrCheckoutNotFound
	}
	return cloneCheckout(c), nil
}

func (r *MemoryCheckoutRepository) Update(_ context.Context, checkout *models.Checkout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.checkouts[checkout.OrderRef]
	if !ok {
		return models.ErrCheckoutNotFound
	}
	if current.Version != checkout.Version {
		return models.ErrConcurrentUpdate
	}
	if checkout.HoldSessionID != "" {
		for ref, other := range r.checkouts {
			if ref != checkout.OrderRef && other.HoldSessionID == checkout.HoldSessionID {
				return fmt.Errorf("%w: hold session is attached to another checkout", models.ErrDuplicateEntry)
			}
		}
	}
	checkout.Version++
	r.checkouts[checkout.OrderRef] = cloneCheckout(checkout)
	return nil
}

func (r *MemoryCheckoutRepository) ListHoldExpired(_ context.Context, states []models.CheckoutState, before time.Time, limit int) ([]*models.Checkout, error) {
	return r.list(states, limit, func(c *models.Checkout) bool {
		return c.HoldExpiresAt != nil && !c.HoldExpiresAt.After(before)
	}), nil
}

func (r *MemoryCheckoutRepository) ListStale(_ context.Context, states []models.CheckoutState, updatedBefore time.Time, limit int) ([]*models.Checkout, error) {
	return r.list(states, limit, func(c *models.Checkout) bool {
		return c.UpdatedAt.Before(updatedBefore)
	}), nil
}

func (r *MemoryCheckoutRepository) list(states []models.CheckoutState, limit int, match func(*models.Checkout) bool) []*models.Checkout {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Checkout
	for _, c := range r.checkouts {
		if !hasState(states, c.State) || !match(c) {
			continue
		}
		out = append(out, cloneCheckout(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func hasState(states []models.CheckoutState, s models.CheckoutState) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

type MemoryAttemptRepository struct {
	mu       sync.RWMutex
	attempts map[string]*models.PaymentAttempt
}

func NewMemoryAttemptRepository() *MemoryAttemptRepository {
	return &MemoryAttemptRepository{attempts: make(map[string]*models.PaymentAttempt)}
}

func (r *MemoryAttemptRepository) GetAttempt(_ context.Context, orderRef string) (*models.PaymentAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.attempts[orderRef]
	if !ok {
		return nil, models.ErrAttemptNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *MemoryAttemptRepository) SaveAttempt(_ context.Context, attempt *models.PaymentAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.attempts[attempt.OrderRef]; ok && current.State == models.AttemptConfirmed && attempt.State != models.AttemptConfirmed {
		return nil
	}
	copied := *attempt
	r.attempts[attempt.OrderRef] = &copied
	return nil
}
