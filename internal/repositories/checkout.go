package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"event-ticketing-checkout/internal/models"
)

// CheckoutRepository persists checkout state machines with optimistic locking
type CheckoutRepository struct {
	db *sql.DB
}

func NewCheckoutRepository(db *sql.DB) *CheckoutRepository {
	return &CheckoutRepository{db: db}
}

const checkoutColumns = `id, order_ref, event_id, hold_session_id, hold_expires_at, items, amount_minor_units, currency,
	customer_email, customer_name, gateway, state, failed_stage, failure_reason, external_transaction_id,
	redirect_target, order_id, version, created_at, updated_at`

func scanCheckout(row interface{ Scan(...interface{}) error }) (*models.Checkout, error) {
	c := &models.Checkout{}
	var (
		holdSessionID sql.NullString
		holdExpiresAt sql.NullTime
		orderID       sql.NullString
		items         []byte
	)
	err := row.Scan(
		&c.ID,
		&c.OrderRef,
		&c.EventID,
		&holdSessionID,
		&holdExpiresAt,
		&items,
		&c.AmountMinorUnits,
		&c.Currency,
		&c.CustomerEmail,
		&c.CustomerName,
		&c.Gateway,
		&c.State,
		&c.FailedStage,
		&c.FailureReason,
		&c.ExternalTransactionID,
		&c.RedirectTarget,
		&orderID,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.HoldSessionID = holdSessionID.String
	c.OrderID = orderID.String
	if holdExpiresAt.Valid {
		t := holdExpiresAt.Time
		c.HoldExpiresAt = &t
	}
	if err := json.Unmarshal(items, &c.Items); err != nil {
		return nil, fmt.Errorf("failed to decode checkout items: %w", err)
	}
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Create inserts a new checkout at version 1
func (r *CheckoutRepository) Create(ctx context.Context, c *models.Checkout) error {
	items, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("failed to encode checkout items: %w", err)
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Version = 1

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO checkouts (`+checkoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		c.ID,
		c.OrderRef,
		c.EventID,
		nullString(c.HoldSessionID),
		nullTime(c.HoldExpiresAt),
		items,
		c.AmountMinorUnits,
		c.Currency,
		c.CustomerEmail,
		c.CustomerName,
		c.Gateway,
		c.State,
		c.FailedStage,
		c.FailureReason,
		c.ExternalTransactionID,
		c.RedirectTarget,
		nullString(c.OrderID),
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if isUniqueViolation(err, "") {
		return models.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to create checkout: %w", err)
	}
	return nil
}

func (r *CheckoutRepository) GetByOrderRef(ctx context.Context, orderRef string) (*models.Checkout, error) {
	c, err := scanCheckout(r.db.QueryRowContext(ctx, `SELECT `+checkoutColumns+` FROM checkouts WHERE order_ref = $1`, orderRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCheckoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout: %w", err)
	}
	return c, nil
}

// Update writes the checkout if nobody changed it since it was read. On
// success the in-memory Version is bumped to match the row.
func (r *CheckoutRepository) Update(ctx context.Context, c *models.Checkout) error {
	items, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("failed to encode checkout items: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE checkouts SET
			hold_session_id = $1, hold_expires_at = $2, items = $3, amount_minor_units = $4,
			customer_name = $5, gateway = $6, state = $7, failed_stage = $8, failure_reason = $9,
			external_transaction_id = $10, redirect_target = $11, order_id = $12,
			version = version + 1, updated_at = $13
		WHERE order_ref = $14 AND version = $15`,
		nullString(c.HoldSessionID),
		nullTime(c.HoldExpiresAt),
		items,
		c.AmountMinorUnits,
		c.CustomerName,
		c.Gateway,
		c.State,
		c.FailedStage,
		c.FailureReason,
		c.ExternalTransactionID,
		c.RedirectTarget,
		nullString(c.OrderID),
		c.UpdatedAt,
		c.OrderRef,
		c.Version,
	)
	if isUniqueViolation(err, "checkouts_hold_session_id_key") {
		return fmt.Errorf("%w: hold session is attached to another checkout", models.ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to update checkout: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		if _, err := r.GetByOrderRef(ctx, c.OrderRef); err != nil {
			return err
		}
		return models.ErrConcurrentUpdate
	}
	c.Version++
	return nil
}

func stateArray(states []models.CheckoutState) pq.StringArray {
	out := make(pq.StringArray, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// limitArg maps a non-positive limit to LIMIT NULL, which Postgres treats as no limit.
func limitArg(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (r *CheckoutRepository) ListHoldExpired(ctx context.Context, states []models.CheckoutState, before time.Time, limit int) ([]*models.Checkout, error) {
	return r.list(ctx, `
		SELECT `+checkoutColumns+` FROM checkouts
		WHERE state = ANY($1) AND hold_expires_at IS NOT NULL AND hold_expires_at <= $2
		ORDER BY created_at LIMIT $3`,
		stateArray(states), before, limitArg(limit))
}

func (r *CheckoutRepository) ListStale(ctx context.Context, states []models.CheckoutState, updatedBefore time.Time, limit int) ([]*models.Checkout, error) {
	return r.list(ctx, `
		SELECT `+checkoutColumns+` FROM checkouts
		WHERE state = ANY($1) AND updated_at < $2
		ORDER BY created_at LIMIT $3`,
		stateArray(states), updatedBefore, limitArg(limit))
}

func (r *CheckoutRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Checkout, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkouts: %w", err)
	}
	defer rows.Close()

	var checkouts []*models.Checkout
	for rows.Next() {
		c, err := scanCheckout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkout: %w", err)
		}
		checkouts = append(checkouts, c)
	}
	return checkouts, rows.Err()
}
