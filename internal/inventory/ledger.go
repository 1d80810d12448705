// Package inventory is the single source of truth for capacity, holds and
// sales of sellable units.
package inventory

import (
	"context"
	"time"

	"event-ticketing-checkout/internal/models"
)

// Ledger tracks capacity, active holds and sold counts per unit.
//
// Reserve is all-or-nothing per session. Commit and Release are mutually
// exclusive for a session: whichever runs first decides its fate, and the
// other becomes a no-op (Release) or an error (Commit).
type Ledger interface {
	Reserve(ctx context.Context, sessionID, eventID string, units []models.UnitRequest, createdAt, expiresAt time.Time) (*models.HoldReceipt, error)
	Commit(ctx context.Context, sessionID string) error
	Release(ctx context.Context, sessionID string) error
	// Expire releases the session only if it is still active and past its
	// expiry. It reports whether this call performed the release.
	Expire(ctx context.Context, sessionID string, now time.Time) (bool, error)
	Extend(ctx context.Context, sessionID string, expiresAt time.Time) error
	Session(ctx context.Context, sessionID string) (*models.HoldSession, error)
	// ExpiredSessions lists active sessions whose expiry is at or before now.
	ExpiredSessions(ctx context.Context, now time.Time, limit int) ([]string, error)
	Availability(ctx context.Context, unit models.UnitRef) (*models.UnitAvailability, error)
}

// Catalog is the read side of the unit catalog used for pricing.
type Catalog interface {
	TicketType(ctx context.Context, id string) (*models.TicketType, error)
	Seat(ctx context.Context, id string) (*models.Seat, error)
}

// Loader registers sellable units with a ledger.
type Loader interface {
	AddTicketType(ctx context.Context, tt models.TicketType) error
	AddSeat(ctx context.Context, seat models.Seat) error
}

// Store is a ledger that also serves the catalog.
type Store interface {
	Ledger
	Catalog
	Loader
}

func sessionNotFound(sessionID string) error {
	return &models.InventoryError{Code: models.InventorySessionNotFound, Message: sessionID}
}
