package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"event-ticketing-checkout/internal/models"
)

// TicketRepository handles ticket data operations
type TicketRepository struct {
	db *sql.DB
}

// NewTicketRepository creates a new ticket repository
func NewTicketRepository(db *sql.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

const ticketColumns = `id, order_id, unit_ref, sequence, holder_name, qr_code, status, created_at`

func scanTicket(row interface{ Scan(...interface{}) error }) (*models.Ticket, error) {
	ticket := &models.Ticket{}
	var unitRef string
	err := row.Scan(
		&ticket.ID,
		&ticket.OrderID,
		&unitRef,
		&ticket.Sequence,
		&ticket.HolderName,
		&ticket.QRCode,
		&ticket.Status,
		&ticket.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	ref, err := models.ParseUnitRef(unitRef)
	if err != nil {
		return nil, fmt.Errorf("stored ticket %s has a bad unit ref: %w", ticket.ID, err)
	}
	ticket.UnitRef = ref
	return ticket, nil
}

// CreateIfAbsent mints the ticket for its (order, sequence) slot, or returns
// the ticket already minted there.
func (r *TicketRepository) CreateIfAbsent(ctx context.Context, ticket *models.Ticket) (*models.Ticket, error) {
	if err := ticket.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if ticket.ID == "" {
		ticket.ID = uuid.New().String()
	}

	query := `
		INSERT INTO tickets (` + ticketColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id, sequence) DO NOTHING
		RETURNING ` + ticketColumns

	stored, err := scanTicket(r.db.QueryRowContext(ctx, query,
		ticket.ID,
		ticket.OrderID,
		ticket.UnitRef.String(),
		ticket.Sequence,
		ticket.HolderName,
		ticket.QRCode,
		ticket.Status,
		ticket.CreatedAt,
	))
	switch {
	case err == nil:
		return stored, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, getErr := scanTicket(r.db.QueryRowContext(ctx,
			`SELECT `+ticketColumns+` FROM tickets WHERE order_id = $1 AND sequence = $2`,
			ticket.OrderID, ticket.Sequence))
		if getErr != nil {
			return nil, fmt.Errorf("failed to load existing ticket: %w", getErr)
		}
		return existing, nil
	case isUniqueViolation(err, ""):
		return nil, fmt.Errorf("%w: ticket code", models.ErrDuplicateEntry)
	default:
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
}

// ListByOrder returns an order's tickets in sequence order
func (r *TicketRepository) ListByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE order_id = $1 ORDER BY sequence`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}
