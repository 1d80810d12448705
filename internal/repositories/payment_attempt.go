package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"event-ticketing-checkout/internal/models"
)

// PaymentAttemptRepository stores one payment attempt per order ref
type PaymentAttemptRepository struct {
	db *sql.DB
}

func NewPaymentAttemptRepository(db *sql.DB) *PaymentAttemptRepository {
	return &PaymentAttemptRepository{db: db}
}

const attemptColumns = `order_ref, gateway, amount_minor_units, currency, customer_email, state,
	external_transaction_id, external_reference, redirect_target, failure_code, failure_reason,
	sequence, invalidated, metadata, created_at, updated_at`

func (r *PaymentAttemptRepository) GetAttempt(ctx context.Context, orderRef string) (*models.PaymentAttempt, error) {
	a := &models.PaymentAttempt{}
	var metadata []byte
	err := r.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM payment_attempts WHERE order_ref = $1`, orderRef).Scan(
		&a.OrderRef,
		&a.Gateway,
		&a.AmountMinorUnits,
		&a.Currency,
		&a.CustomerEmail,
		&a.State,
		&a.ExternalTransactionID,
		&a.ExternalReference,
		&a.RedirectTarget,
		&a.FailureCode,
		&a.FailureReason,
		&a.Sequence,
		&a.Invalidated,
		&metadata,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment attempt: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode attempt metadata: %w", err)
		}
	}
	return a, nil
}

// SaveAttempt upserts the attempt. A confirmed attempt is never overwritten
// by a later non-confirmed state.
func (r *PaymentAttemptRepository) SaveAttempt(ctx context.Context, a *models.PaymentAttempt) error {
	metadata := []byte("{}")
	if len(a.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(a.Metadata); err != nil {
			return fmt.Errorf("failed to encode attempt metadata: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (order_ref) DO UPDATE SET
			gateway = EXCLUDED.gateway,
			amount_minor_units = EXCLUDED.amount_minor_units,
			currency = EXCLUDED.currency,
			customer_email = EXCLUDED.customer_email,
			state = EXCLUDED.state,
			external_transaction_id = EXCLUDED.external_transaction_id,
			external_reference = EXCLUDED.external_reference,
			redirect_target = EXCLUDED.redirect_target,
			failure_code = EXCLUDED.failure_code,
			failure_reason = EXCLUDED.failure_reason,
			sequence = EXCLUDED.sequence,
			invalidated = EXCLUDED.invalidated,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		WHERE payment_attempts.state <> 'confirmed' OR EXCLUDED.state = 'confirmed'`,
		a.OrderRef,
		a.Gateway,
		a.AmountMinorUnits,
		a.Currency,
		a.CustomerEmail,
		a.State,
		a.ExternalTransactionID,
		a.ExternalReference,
		a.RedirectTarget,
		a.FailureCode,
		a.FailureReason,
		a.Sequence,
		a.Invalidated,
		metadata,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save payment attempt: %w", err)
	}
	return nil
}
