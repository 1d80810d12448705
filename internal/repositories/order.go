package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"event-ticketing-checkout/internal/models"
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// OrderRepository handles order data operations
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, order_ref, order_number, event_id, customer_email, customer_name, total_amount, currency,
	payment_method, external_transaction_id, hold_session_id, ticket_count, status, created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.OrderRef,
		&order.OrderNumber,
		&order.EventID,
		&order.CustomerEmail,
		&order.CustomerName,
		&order.TotalAmount,
		&order.Currency,
		&order.PaymentMethod,
		&order.ExternalTransactionID,
		&order.HoldSessionID,
		&order.TicketCount,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CreateOrGet inserts the order unless one already exists for its order ref.
// An order number collision is retried with a fresh number.
func (r *OrderRepository) CreateOrGet(ctx context.Context, order *models.Order) (*models.Order, bool, error) {
	if existing, err := r.GetByOrderRef(ctx, order.OrderRef); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, models.ErrOrderNotFound) {
		return nil, false, err
	}

	if err := order.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if order.ID == "" {
		order.ID = uuid.New().String()
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (order_ref) DO NOTHING
		RETURNING ` + orderColumns

	for i := 0; i < 5; i++ {
		stored, err := scanOrder(r.db.QueryRowContext(ctx, query,
			order.ID,
			order.OrderRef,
			order.OrderNumber,
			order.EventID,
			order.CustomerEmail,
			order.CustomerName,
			order.TotalAmount,
			order.Currency,
			order.PaymentMethod,
			order.ExternalTransactionID,
			order.HoldSessionID,
			order.TicketCount,
			order.Status,
			order.CreatedAt,
			order.UpdatedAt,
		))
		switch {
		case err == nil:
			return stored, true, nil
		case errors.Is(err, sql.ErrNoRows):
			// Lost the race to a concurrent insert for the same order ref.
			existing, getErr := r.GetByOrderRef(ctx, order.OrderRef)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		case isUniqueViolation(err, "orders_order_number_key"):
			order.OrderNumber = models.GenerateOrderNumber(order.CreatedAt)
		default:
			return nil, false, fmt.Errorf("failed to create order: %w", err)
		}
	}
	return nil, false, fmt.Errorf("failed to allocate a unique order number for %s", order.OrderRef)
}

// GetByOrderRef retrieves an order by its idempotency key
func (r *OrderRepository) GetByOrderRef(ctx context.Context, orderRef string) (*models.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_ref = $1`, orderRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetByID retrieves an order by ID
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrOrderNotFound
	}
	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// MarkCompleted flags the order once every ticket exists
func (r *OrderRepository) MarkCompleted(ctx context.Context, orderID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
		models.OrderCompleted, at, orderID)
	if err != nil {
		return fmt.Errorf("failed to complete order: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}
