package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// UnitKind distinguishes fungible ticket types from unique seats
type UnitKind string

const (
	UnitTicketType UnitKind = "ticket_type"
	UnitSeat       UnitKind = "seat"
)

// UnitRef identifies a sellable unit. Its string form is "<kind>:<id>".
type UnitRef struct {
	Kind UnitKind
	ID   string
}

func TicketTypeRef(id string) UnitRef { return UnitRef{Kind: UnitTicketType, ID: id} }

func SeatRef(id string) UnitRef { return UnitRef{Kind: UnitSeat, ID: id} }

func (u UnitRef) String() string {
	if u.IsZero() {
		return ""
	}
	return string(u.Kind) + ":" + u.ID
}

func (u UnitRef) IsZero() bool { return u.Kind == "" && u.ID == "" }

func (u UnitRef) IsSeat() bool { return u.Kind == UnitSeat }

// ParseUnitRef parses "ticket_type:<id>" or "seat:<id>".
func ParseUnitRef(s string) (UnitRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return UnitRef{}, fmt.Errorf("%w: malformed unit ref %q", ErrInvalidInput, s)
	}
	switch UnitKind(kind) {
	case UnitTicketType, UnitSeat:
		return UnitRef{Kind: UnitKind(kind), ID: id}, nil
	default:
		return UnitRef{}, fmt.Errorf("%w: unknown unit kind %q", ErrInvalidInput, kind)
	}
}

func (u UnitRef) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UnitRef) UnmarshalText(b []byte) error {
	ref, err := ParseUnitRef(string(b))
	if err != nil {
		return err
	}
	*u = ref
	return nil
}

// TicketType is a fungible sellable unit. Prices are in minor units.
type TicketType struct {
	ID             string     `json:"id"`
	EventID        string     `json:"event_id"`
	Name           string     `json:"name"`
	Capacity       int        `json:"capacity"`
	SoldCount      int        `json:"sold_count"`
	HeldCount      int        `json:"held_count"`
	Price          int64      `json:"price"`
	EarlyBirdPrice *int64     `json:"early_bird_price,omitempty"`
	EarlyBirdUntil *time.Time `json:"early_bird_until,omitempty"`
	MaxPerPerson   int        `json:"max_per_person,omitempty"`
}

// PriceAt returns the unit price in effect at the given instant.
func (tt *TicketType) PriceAt(now time.Time) int64 {
	if tt.EarlyBirdPrice != nil && tt.EarlyBirdUntil != nil && now.Before(*tt.EarlyBirdUntil) {
		return *tt.EarlyBirdPrice
	}
	return tt.Price
}

// Available returns the number of units that can still be reserved
func (tt *TicketType) Available() int {
	available := tt.Capacity - tt.SoldCount - tt.HeldCount
	if available < 0 {
		return 0
	}
	return available
}

func (tt *TicketType) Validate() error {
	if tt.ID == "" {
		return fmt.Errorf("%w: ticket type id is required", ErrInvalidInput)
	}
	if tt.Capacity <= 0 {
		return fmt.Errorf("%w: ticket type capacity must be greater than 0", ErrInvalidInput)
	}
	if tt.Price < 0 {
		return fmt.Errorf("%w: ticket price cannot be negative", ErrInvalidInput)
	}
	if tt.EarlyBirdPrice != nil && *tt.EarlyBirdPrice < 0 {
		return fmt.Errorf("%w: early bird price cannot be negative", ErrInvalidInput)
	}
	if tt.MaxPerPerson < 0 {
		return fmt.Errorf("%w: max per person cannot be negative", ErrInvalidInput)
	}
	return nil
}

// SeatStatus represents the status of a seat
type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatHeld      SeatStatus = "held"
	SeatSold      SeatStatus = "sold"
)

// Seat is a unique sellable unit.
type Seat struct {
	ID         string     `json:"id"`
	EventID    string     `json:"event_id"`
	CategoryID string     `json:"category_id"`
	TableID    string     `json:"table_id,omitempty"`
	Label      string     `json:"label,omitempty"`
	Price      int64      `json:"price"`
	Status     SeatStatus `json:"status"`
	SessionID  string     `json:"session_id,omitempty"`
}

func (s *Seat) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: seat id is required", ErrInvalidInput)
	}
	if s.Price < 0 {
		return fmt.Errorf("%w: seat price cannot be negative", ErrInvalidInput)
	}
	return nil
}

// MaxUnitsPerRequest caps the quantity of one unit in a single request.
const MaxUnitsPerRequest = 1000

// UnitRequest asks for a quantity of one unit. Seats always have quantity 1.
type UnitRequest struct {
	Unit     UnitRef `json:"unit_ref"`
	Quantity int     `json:"quantity"`
}

// NormalizeUnits validates a request list, merges duplicates and sorts it by
// unit ref so that two equal sets compare equal.
func NormalizeUnits(units []UnitRequest) ([]UnitRequest, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: at least one unit is required", ErrInvalidInput)
	}
	merged := make(map[UnitRef]int, len(units))
	for _, u := range units {
		if u.Unit.IsZero() || u.Unit.ID == "" {
			return nil, fmt.Errorf("%w: unit ref is required", ErrInvalidInput)
		}
		if u.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be greater than 0", ErrInvalidInput, u.Unit)
		}
		if u.Quantity > MaxUnitsPerRequest-merged[u.Unit] {
			return nil, fmt.Errorf("%w: at most %d of %s per request", ErrInvalidInput, MaxUnitsPerRequest, u.Unit)
		}
		merged[u.Unit] += u.Quantity
	}

	out := make([]UnitRequest, 0, len(merged))
	for ref, qty := range merged {
		if ref.IsSeat() && qty != 1 {
			return nil, fmt.Errorf("%w: seat %s can only be reserved once", ErrInvalidInput, ref.ID)
		}
		out = append(out, UnitRequest{Unit: ref, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit.String() < out[j].Unit.String() })
	return out, nil
}

// SameUnits reports whether two normalized unit lists are identical.
func SameUnits(a, b []UnitRequest) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TotalQuantity sums the quantity of every unit in the list
func TotalQuantity(units []UnitRequest) int {
	total := 0
	for _, u := range units {
		total += u.Quantity
	}
	return total
}

// LineItem is a priced unit request, snapshotted when the checkout starts.
type LineItem struct {
	Unit           UnitRef `json:"unit_ref"`
	Quantity       int     `json:"quantity"`
	UnitPriceMinor int64   `json:"unit_price_minor_units"`
}

func (li LineItem) Subtotal() int64 {
	return li.UnitPriceMinor * int64(li.Quantity)
}

// LineItemsTotal returns the order total in minor units
func LineItemsTotal(items []LineItem) int64 {
	var total int64
	for _, li := range items {
		total += li.Subtotal()
	}
	return total
}

// UnitAvailability is a read-only view of one unit's ledger state.
type UnitAvailability struct {
	Unit      UnitRef    `json:"unit_ref"`
	Capacity  int        `json:"capacity"`
	Held      int        `json:"held"`
	Sold      int        `json:"sold"`
	Available int        `json:"available"`
	Status    SeatStatus `json:"status,omitempty"`
}
