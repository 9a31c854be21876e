package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/relay/internal/models"
)

type PaymentStore struct {
	pool *pgxpool.Pool
}

func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

const paymentColumns = `
	id, user_id, stripe_checkout_session_id, stripe_payment_intent_id,
	stripe_charge_id, stripe_subscription_id, payment_type, amount_minor,
	currency, status, customer_email, customer_name, payment_method,
	metadata, receipt_url, invoice_url, created_at, updated_at`

func scanPayment(row pgx.Row) (*models.StripePayment, error) {
	var (
		p        models.StripePayment
		metadata []byte
	)
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.CheckoutSessionID,
		&p.PaymentIntentID,
		&p.ChargeID,
		&p.SubscriptionID,
		&p.PaymentType,
		&p.AmountMinor,
		&p.Currency,
		&p.Status,
		&p.CustomerEmail,
		&p.CustomerName,
		&p.PaymentMethod,
		&metadata,
		&p.ReceiptURL,
		&p.InvoiceURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	return &p, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode payment metadata: %w", err)
	}
	return raw, nil
}

func (s *PaymentStore) getBy(ctx context.Context, column, value string) (*models.StripePayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM stripe_payments WHERE ` + column + ` = $1 ORDER BY id LIMIT 1`

	p, err := scanPayment(s.pool.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment by %s: %w", column, err)
	}
	return p, nil
}

func (s *PaymentStore) GetByCheckoutSession(ctx context.Context, sessionID string) (*models.StripePayment, error) {
	return s.getBy(ctx, "stripe_checkout_session_id", sessionID)
}

func (s *PaymentStore) GetBySubscription(ctx context.Context, subscriptionID string) (*models.StripePayment, error) {
	return s.getBy(ctx, "stripe_subscription_id", subscriptionID)
}

func (s *PaymentStore) GetByPaymentIntent(ctx context.Context, intentID string) (*models.StripePayment, error) {
	return s.getBy(ctx, "stripe_payment_intent_id", intentID)
}

// SaveCheckout upserts on the checkout session ID. A redelivered
// checkout.session.completed racing the first delivery lands on the same
// row instead of producing a second one. The owning user never changes.
func (s *PaymentStore) SaveCheckout(ctx context.Context, p *models.StripePayment) error {
	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO stripe_payments (
			user_id, stripe_checkout_session_id, stripe_payment_intent_id,
			stripe_charge_id, stripe_subscription_id, payment_type, amount_minor,
			currency, status, customer_email, customer_name, payment_method,
			metadata, receipt_url, invoice_url, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
		ON CONFLICT (stripe_checkout_session_id) DO UPDATE SET
			stripe_payment_intent_id = EXCLUDED.stripe_payment_intent_id,
			stripe_charge_id         = EXCLUDED.stripe_charge_id,
			stripe_subscription_id   = EXCLUDED.stripe_subscription_id,
			payment_type             = EXCLUDED.payment_type,
			amount_minor             = EXCLUDED.amount_minor,
			currency                 = EXCLUDED.currency,
			status                   = EXCLUDED.status,
			customer_email           = EXCLUDED.customer_email,
			customer_name            = EXCLUDED.customer_name,
			payment_method           = EXCLUDED.payment_method,
			metadata                 = EXCLUDED.metadata,
			receipt_url              = EXCLUDED.receipt_url,
			invoice_url              = EXCLUDED.invoice_url,
			updated_at               = now()
		RETURNING id, user_id, created_at, updated_at`

	err = s.pool.QueryRow(ctx, query,
		p.UserID,
		p.CheckoutSessionID,
		p.PaymentIntentID,
		p.ChargeID,
		p.SubscriptionID,
		p.PaymentType,
		p.AmountMinor,
		p.Currency,
		p.Status,
		p.CustomerEmail,
		p.CustomerName,
		p.PaymentMethod,
		metadata,
		p.ReceiptURL,
		p.InvoiceURL,
	).Scan(&p.ID, &p.UserID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save checkout payment: %w", err)
	}
	return nil
}

func (s *PaymentStore) Update(ctx context.Context, p *models.StripePayment) error {
	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE stripe_payments SET
			stripe_payment_intent_id = $2,
			stripe_charge_id         = $3,
			stripe_subscription_id   = $4,
			payment_type             = $5,
			amount_minor             = $6,
			currency                 = $7,
			status                   = $8,
			customer_email           = $9,
			customer_name            = $10,
			payment_method           = $11,
			metadata                 = $12,
			receipt_url              = $13,
			invoice_url              = $14,
			updated_at               = now()
		WHERE id = $1
		RETURNING updated_at`

	err = s.pool.QueryRow(ctx, query,
		p.ID,
		p.PaymentIntentID,
		p.ChargeID,
		p.SubscriptionID,
		p.PaymentType,
		p.AmountMinor,
		p.Currency,
		p.Status,
		p.CustomerEmail,
		p.CustomerName,
		p.PaymentMethod,
		metadata,
		p.ReceiptURL,
		p.InvoiceURL,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update payment %d: row vanished", p.ID)
		}
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

func (s *PaymentStore) HasActive(ctx context.Context, userID uuid.UUID, statuses []string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM stripe_payments
			WHERE user_id = $1 AND status = ANY($2)
		)`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, userID, statuses).Scan(&exists); err != nil {
		return false, fmt.Errorf("check active payment: %w", err)
	}
	return exists, nil
}

func (s *PaymentStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.StripePayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM stripe_payments WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]models.StripePayment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}
