package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"event-ticketing-checkout/internal/clock"
	"event-ticketing-checkout/internal/inventory"
	"event-ticketing-checkout/internal/models"
)

const (
	DefaultHoldTTL         = 15 * time.Minute
	DefaultHoldMaxLifetime = 45 * time.Minute
)

// HoldManager issues, resolves, extends and cancels hold sessions on top of
// the inventory ledger.
type HoldManager struct {
	ledger      inventory.Ledger
	tokens      *HoldTokenIssuer
	clock       clock.Clock
	ttl         time.Duration
	maxLifetime time.Duration
}

type HoldOption func(*HoldManager)

func WithHoldTTL(ttl time.Duration) HoldOption {
	return func(m *HoldManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithHoldMaxLifetime(d time.Duration) HoldOption {
	return func(m *HoldManager) {
		if d > 0 {
			m.maxLifetime = d
		}
	}
}

// NewHoldManager creates a hold manager. tokenKey signs hold tokens.
func NewHoldManager(ledger inventory.Ledger, tokenKey []byte, clk clock.Clock, opts ...HoldOption) *HoldManager {
	m := &HoldManager{
		ledger:      ledger,
		clock:       clk,
		ttl:         DefaultHoldTTL,
		maxLifetime: DefaultHoldMaxLifetime,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxLifetime < m.ttl {
		m.maxLifetime = m.ttl
	}
	m.tokens = NewHoldTokenIssuer(tokenKey, clk)
	return m
}

func (m *HoldManager) TTL() time.Duration { return m.ttl }

// Reserve places a hold on all requested units. An empty sessionID gets a
// fresh one; repeating a sessionID with the same units returns the
// existing hold.
func (m *HoldManager) Reserve(ctx context.Context, eventID, sessionID string, units []models.UnitRequest) (*models.HoldReceipt, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	now := m.clock.Now()

	receipt, err := m.ledger.Reserve(ctx, sessionID, eventID, units, now, now.Add(m.ttl))
	if err != nil {
		return nil, err
	}
	// A re-entrant call may hand back a session whose timer already ran out
	// but that the sweeper has not reached yet.
	if !now.Before(receipt.ExpiresAt) {
		if _, err := m.ledger.Expire(ctx, sessionID, now); err != nil {
			log.Printf("Hold: failed to expire session %s: %v", sessionID, err)
		}
		return nil, &models.InventoryError{Code: models.InventorySessionExpired, Message: sessionID}
	}

	token, err := m.tokens.Issue(receipt.SessionID, receipt.EventID, receipt.CreatedAt.Add(m.maxLifetime))
	if err != nil {
		return nil, err
	}
	receipt.Token = token
	return receipt, nil
}

// Resolve maps a hold token to its session id without touching the ledger.
func (m *HoldManager) Resolve(token string) (string, error) {
	return m.tokens.SessionID(token)
}

// Get returns the session for a token, expiring it first if its time ran out.
func (m *HoldManager) Get(ctx context.Context, token string) (*models.HoldSession, error) {
	sessionID, err := m.tokens.SessionID(token)
	if err != nil {
		return nil, err
	}
	return m.Session(ctx, sessionID)
}

// Session returns the current state of a session by id.
func (m *HoldManager) Session(ctx context.Context, sessionID string) (*models.HoldSession, error) {
	session, err := m.ledger.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if session.IsExpiredAt(now) {
		if _, err := m.ledger.Expire(ctx, sessionID, now); err != nil {
			return nil, fmt.Errorf("failed to expire hold: %w", err)
		}
		return m.ledger.Session(ctx, sessionID)
	}
	return session, nil
}

// Peek returns a session without expiring it, so a commit racing the
// sweeper can still win.
func (m *HoldManager) Peek(ctx context.Context, sessionID string) (*models.HoldSession, error) {
	return m.ledger.Session(ctx, sessionID)
}

// Extend pushes the hold expiry by one TTL, never beyond the session's
// maximum lifetime.
func (m *HoldManager) Extend(ctx context.Context, token string) (*models.HoldReceipt, error) {
	session, err := m.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.State != models.HoldActive {
		return nil, &models.InventoryError{Code: models.InventorySessionExpired, Message: session.SessionID}
	}

	limit := session.CreatedAt.Add(m.maxLifetime)
	expiresAt := m.clock.Now().Add(m.ttl)
	if expiresAt.After(limit) {
		expiresAt = limit
	}
	if !expiresAt.After(session.ExpiresAt) {
		receipt := models.ReceiptFor(session)
		receipt.Token = token
		return receipt, nil
	}
	if err := m.ledger.Extend(ctx, session.SessionID, expiresAt); err != nil {
		return nil, err
	}
	session.ExpiresAt = expiresAt
	receipt := models.ReceiptFor(session)
	receipt.Token = token
	return receipt, nil
}

// Cancel releases the hold behind a token. Cancelling twice is fine.
func (m *HoldManager) Cancel(ctx context.Context, token string) error {
	sessionID, err := m.tokens.SessionID(token)
	if err != nil {
		var invErr *models.InventoryError
		if errors.As(err, &invErr) {
			// Token outlived the session's maximum lifetime; the sweeper owns it now.
			return nil
		}
		return err
	}
	return m.Release(ctx, sessionID)
}

// Release returns a session's units to the pool. It is idempotent.
func (m *HoldManager) Release(ctx context.Context, sessionID string) error {
	if err := m.ledger.Release(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to release hold %s: %w", sessionID, err)
	}
	return nil
}

// Commit finalizes a session's units as sold.
func (m *HoldManager) Commit(ctx context.Context, sessionID string) error {
	return m.ledger.Commit(ctx, sessionID)
}

// Availability reports capacity, held and sold counts for a unit.
func (m *HoldManager) Availability(ctx context.Context, unit models.UnitRef) (*models.UnitAvailability, error) {
	return m.ledger.Availability(ctx, unit)
}
