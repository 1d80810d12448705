package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"event-ticketing-checkout/internal/models"
)

// unitEntry guards one sellable unit. Exactly one of ticketType or seat is set.
type unitEntry struct {
	mu         sync.Mutex
	ticketType *models.TicketType
	seat       *models.Seat
}

type sessionEntry struct {
	mu      sync.Mutex
	session models.HoldSession
}

// MemoryLedger keeps the ledger in process memory. Every unit has its own
// lock so unrelated seats and ticket types never contend; the map lock only
// guards lookups and registration.
type MemoryLedger struct {
	mu        sync.RWMutex
	units     map[models.UnitRef]*unitEntry
	sessions  map[string]*sessionEntry
	retention time.Duration
}

// MemoryOption configures a MemoryLedger
type MemoryOption func(*MemoryLedger)

// WithMemorySessionRetention sets how long finished sessions stay readable
// after their expiry.
func WithMemorySessionRetention(d time.Duration) MemoryOption {
	return func(l *MemoryLedger) { l.retention = d }
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		units:     make(map[models.UnitRef]*unitEntry),
		sessions:  make(map[string]*sessionEntry),
		retention: defaultSessionRetention,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddTicketType registers a ticket type or updates its catalog fields.
// Held and sold counts of an existing ticket type are preserved.
func (l *MemoryLedger) AddTicketType(_ context.Context, tt models.TicketType) error {
	if err := tt.Validate(); err != nil {
		return err
	}

	ref := models.TicketTypeRef(tt.ID)
	l.mu.Lock()
	entry, ok := l.units[ref]
	if !ok {
		copied := tt
		l.units[ref] = &unitEntry{ticketType: &copied}
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	existing := entry.ticketType
	if tt.Capacity < existing.SoldCount+existing.HeldCount {
		return fmt.Errorf("%w: capacity %d is below sold+held %d", models.ErrInvalidInput, tt.Capacity, existing.SoldCount+existing.HeldCount)
	}
	tt.SoldCount = existing.SoldCount
	tt.HeldCount = existing.HeldCount
	*existing = tt
	return nil
}

// AddSeat registers a seat. Re-adding a seat keeps its current status.
func (l *MemoryLedger) AddSeat(_ context.Context, seat models.Seat) error {
	if err := seat.Validate(); err != nil {
		return err
	}

	ref := models.SeatRef(seat.ID)
	l.mu.Lock()
	entry, ok := l.units[ref]
	if !ok {
		copied := seat
		copied.Status = models.SeatAvailable
		copied.SessionID = ""
		l.units[ref] = &unitEntry{seat: &copied}
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	seat.Status = entry.seat.Status
	seat.SessionID = entry.seat.SessionID
	*entry.seat = seat
	return nil
}

// TicketType returns a snapshot of a ticket type
func (l *MemoryLedger) TicketType(_ context.Context, id string) (*models.TicketType, error) {
	entry := l.unit(models.TicketTypeRef(id))
	if entry == nil {
		return nil, fmt.Errorf("%w: ticket type %s", models.ErrUnitNotFound, id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	copied := *entry.ticketType
	return &copied, nil
}

// Seat returns a snapshot of a seat
func (l *MemoryLedger) Seat(_ context.Context, id string) (*models.Seat, error) {
	entry := l.unit(models.SeatRef(id))
	if entry == nil {
		return nil, fmt.Errorf("%w: seat %s", models.ErrUnitNotFound, id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	copied := *entry.seat
	return &copied, nil
}

func (l *MemoryLedger) unit(ref models.UnitRef) *unitEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.units[ref]
}

func (l *MemoryLedger) session(id string) *sessionEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessions[id]
}

// Reserve holds every requested unit for the session or none of them.
func (l *MemoryLedger) Reserve(_ context.Context, sessionID, eventID string, units []models.UnitRequest, createdAt, expiresAt time.Time) (*models.HoldReceipt, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", models.ErrInvalidInput)
	}
	normalized, err := models.NormalizeUnits(units)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if existing, ok := l.sessions[sessionID]; ok {
		l.mu.Unlock()
		return existingReceipt(existing, sessionID, normalized)
	}

	entries := make([]*unitEntry, len(normalized))
	for i, u := range normalized {
		entry, ok := l.units[u.Unit]
		if !ok {
			l.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", models.ErrUnitNotFound, u.Unit)
		}
		entries[i] = entry
	}

	// The session is published before the units are locked so a concurrent
	// Reserve with the same id waits on it instead of double-reserving.
	se := &sessionEntry{}
	se.mu.Lock()
	l.sessions[sessionID] = se
	l.mu.Unlock()
	defer se.mu.Unlock()

	// normalized is sorted by unit ref, which gives a global lock order.
	for _, entry := range entries {
		entry.mu.Lock()
	}
	unlockAll := func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
	}

	if err := checkReservable(entries, normalized, eventID); err != nil {
		unlockAll()
		l.mu.Lock()
		delete(l.sessions, sessionID)
		l.mu.Unlock()
		return nil, err
	}

	for i, entry := range entries {
		if entry.seat != nil {
			entry.seat.Status = models.SeatHeld
			entry.seat.SessionID = sessionID
			continue
		}
		entry.ticketType.HeldCount += normalized[i].Quantity
	}
	unlockAll()

	se.session = models.HoldSession{
		SessionID: sessionID,
		EventID:   eventID,
		Units:     normalized,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		State:     models.HoldActive,
	}
	return models.ReceiptFor(&se.session), nil
}

func checkReservable(entries []*unitEntry, units []models.UnitRequest, eventID string) error {
	for i, entry := range entries {
		req := units[i]
		if entry.seat != nil {
			if eventID != "" && entry.seat.EventID != "" && entry.seat.EventID != eventID {
				return fmt.Errorf("%w: seat %s belongs to another event", models.ErrInvalidInput, entry.seat.ID)
			}
			if entry.seat.Status != models.SeatAvailable {
				return &models.InventoryError{Code: models.InventorySeatUnavailable, UnitRef: req.Unit}
			}
			continue
		}

		tt := entry.ticketType
		if eventID != "" && tt.EventID != "" && tt.EventID != eventID {
			return fmt.Errorf("%w: ticket type %s belongs to another event", models.ErrInvalidInput, tt.ID)
		}
		if tt.MaxPerPerson > 0 && req.Quantity > tt.MaxPerPerson {
			return fmt.Errorf("%w: at most %d of %s per person", models.ErrInvalidInput, tt.MaxPerPerson, tt.ID)
		}
		if req.Quantity > tt.Capacity-tt.SoldCount-tt.HeldCount {
			return &models.InventoryError{Code: models.InventorySoldOut, UnitRef: req.Unit}
		}
	}
	return nil
}

func existingReceipt(se *sessionEntry, sessionID string, units []models.UnitRequest) (*models.HoldReceipt, error) {
	se.mu.Lock()
	defer se.mu.Unlock()

	switch se.session.State {
	case models.HoldActive:
		if !models.SameUnits(se.session.Units, units) {
			return nil, models.ErrHoldConflict
		}
		return models.ReceiptFor(&se.session), nil
	case "":
		// A concurrent Reserve with this id failed and was rolled back.
		return nil, sessionNotFound(sessionID)
	default:
		return nil, &models.InventoryError{Code: models.InventorySessionExpired, Message: sessionID}
	}
}

// Commit moves the session's held units to sold. Committing an already
// finalized session is a no-op.
func (l *MemoryLedger) Commit(_ context.Context, sessionID string) error {
	se := l.session(sessionID)
	if se == nil {
		return sessionNotFound(sessionID)
	}
	se.mu.Lock()
	defer se.mu.Unlock()

	switch se.session.State {
	case models.HoldFinalized:
		return nil
	case models.HoldActive:
	case "":
		return sessionNotFound(sessionID)
	default:
		return &models.InventoryError{Code: models.InventorySessionExpired, Message: sessionID}
	}

	entries := l.entriesFor(se.session.Units)
	for _, entry := range entries {
		entry.mu.Lock()
	}
	for i, entry := range entries {
		if entry.seat != nil {
			entry.seat.Status = models.SeatSold
			continue
		}
		qty := se.session.Units[i].Quantity
		entry.ticketType.HeldCount -= qty
		entry.ticketType.SoldCount += qty
	}
	for i := len(entries) - 1; i >= 0; i-- {
		entries[i].mu.Unlock()
	}

	se.session.State = models.HoldFinalized
	return nil
}

// Release returns held units to the pool. It is a no-op for sessions that
// are unknown, already released, expired or finalized.
func (l *MemoryLedger) Release(_ context.Context, sessionID string) error {
	se := l.session(sessionID)
	if se == nil {
		return nil
	}
	se.mu.Lock()
	defer se.mu.Unlock()

	if se.session.State != models.HoldActive {
		return nil
	}
	l.releaseLocked(se, models.HoldReleased)
	return nil
}

// Expire releases an active session whose expiry has passed.
func (l *MemoryLedger) Expire(_ context.Context, sessionID string, now time.Time) (bool, error) {
	se := l.session(sessionID)
	if se == nil {
		return false, nil
	}
	se.mu.Lock()
	defer se.mu.Unlock()

	if !se.session.IsExpiredAt(now) {
		return false, nil
	}
	l.releaseLocked(se, models.HoldExpired)
	return true, nil
}

// releaseLocked must be called with se.mu held and the session active.
func (l *MemoryLedger) releaseLocked(se *sessionEntry, final models.HoldState) {
	entries := l.entriesFor(se.session.Units)
	for _, entry := range entries {
		entry.mu.Lock()
	}
	for i, entry := range entries {
		if entry.seat != nil {
			if entry.seat.SessionID == se.session.SessionID && entry.seat.Status == models.SeatHeld {
				entry.seat.Status = models.SeatAvailable
				entry.seat.SessionID = ""
			}
			continue
		}
		entry.ticketType.HeldCount -= se.session.Units[i].Quantity
	}
	for i := len(entries) - 1; i >= 0; i-- {
		entries[i].mu.Unlock()
	}
	se.session.State = final
}

func (l *MemoryLedger) entriesFor(units []models.UnitRequest) []*unitEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := make([]*unitEntry, len(units))
	for i, u := range units {
		entries[i] = l.units[u.Unit]
	}
	return entries
}

// Extend moves the expiry of an active session.
func (l *MemoryLedger) Extend(_ context.Context, sessionID string, expiresAt time.Time) error {
	se := l.session(sessionID)
	if se == nil {
		return sessionNotFound(sessionID)
	}
	se.mu.Lock()
	defer se.mu.Unlock()

	switch se.session.State {
	case models.HoldActive:
		se.session.ExpiresAt = expiresAt
		return nil
	case "":
		return sessionNotFound(sessionID)
	default:
		return &models.InventoryError{Code: models.InventorySessionExpired, Message: sessionID}
	}
}

// Session returns a snapshot of the session
func (l *MemoryLedger) Session(_ context.Context, sessionID string) (*models.HoldSession, error) {
	se := l.session(sessionID)
	if se == nil {
		return nil, sessionNotFound(sessionID)
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.session.State == "" {
		return nil, sessionNotFound(sessionID)
	}
	copied := se.session
	copied.Units = append([]models.UnitRequest(nil), se.session.Units...)
	return &copied, nil
}

// ExpiredSessions lists active sessions past their expiry, oldest first.
// Finished sessions whose expiry is older than the retention window are
// dropped on the way.
func (l *MemoryLedger) ExpiredSessions(_ context.Context, now time.Time, limit int) ([]string, error) {
	l.mu.RLock()
	entries := make([]*sessionEntry, 0, len(l.sessions))
	for _, se := range l.sessions {
		entries = append(entries, se)
	}
	l.mu.RUnlock()

	type due struct {
		id        string
		expiresAt time.Time
	}
	var expired []due
	finished := make(map[string]*sessionEntry)
	for _, se := range entries {
		se.mu.Lock()
		switch {
		case se.session.IsExpiredAt(now):
			expired = append(expired, due{id: se.session.SessionID, expiresAt: se.session.ExpiresAt})
		case se.session.State.IsTerminal() && now.Sub(se.session.ExpiresAt) > l.retention:
			finished[se.session.SessionID] = se
		}
		se.mu.Unlock()
	}
	l.prune(finished)

	sort.Slice(expired, func(i, j int) bool { return expired[i].expiresAt.Before(expired[j].expiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	ids := make([]string, len(expired))
	for i, d := range expired {
		ids[i] = d.id
	}
	return ids, nil
}

// prune removes finished sessions. A terminal session never becomes active
// again, so it is safe to drop without holding its lock.
func (l *MemoryLedger) prune(finished map[string]*sessionEntry) {
	if len(finished) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, se := range finished {
		if l.sessions[id] == se {
			delete(l.sessions, id)
		}
	}
}

// SessionCount returns the number of sessions the ledger still tracks
func (l *MemoryLedger) SessionCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sessions)
}

// Availability reports the current ledger view of a unit
func (l *MemoryLedger) Availability(_ context.Context, ref models.UnitRef) (*models.UnitAvailability, error) {
	entry := l.unit(ref)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrUnitNotFound, ref)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.seat != nil {
		av := &models.UnitAvailability{Unit: ref, Capacity: 1, Status: entry.seat.Status}
		switch entry.seat.Status {
		case models.SeatHeld:
			av.Held = 1
		case models.SeatSold:
			av.Sold = 1
		default:
			av.Available = 1
		}
		return av, nil
	}

	tt := entry.ticketType
	return &models.UnitAvailability{
		Unit:      ref,
		Capacity:  tt.Capacity,
		Held:      tt.HeldCount,
		Sold:      tt.SoldCount,
		Available: tt.Available(),
	}, nil
}
