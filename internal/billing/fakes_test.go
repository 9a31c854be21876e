package billing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/models"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testSecret = "whsec_test"

// sign builds a Stripe-Signature header for payload.
func sign(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}

// memPayments is an in-memory PaymentRepository with the same uniqueness
// on checkout session ID as the table. touched counts every call so tests
// can assert that nothing was read.
type memPayments struct {
	mu      sync.Mutex
	rows    []*models.StripePayment
	nextID  int64
	touched int
}

func clone(p *models.StripePayment) *models.StripePayment {
	c := *p
	if p.Metadata != nil {
		c.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (m *memPayments) find(match func(*models.StripePayment) bool) *models.StripePayment {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched++
	for _, r := range m.rows {
		if match(r) {
			return clone(r)
		}
	}
	return nil
}

func eq(p *string, v string) bool { return p != nil && *p == v }

func (m *memPayments) GetByCheckoutSession(_ context.Context, id string) (*models.StripePayment, error) {
	return m.find(func(p *models.StripePayment) bool { return eq(p.CheckoutSessionID, id) }), nil
}

func (m *memPayments) GetBySubscription(_ context.Context, id string) (*models.StripePayment, error) {
	return m.find(func(p *models.StripePayment) bool { return eq(p.SubscriptionID, id) }), nil
}

func (m *memPayments) GetByPaymentIntent(_ context.Context, id string) (*models.StripePayment, error) {
	return m.find(func(p *models.StripePayment) bool { return eq(p.PaymentIntentID, id) }), nil
}

func (m *memPayments) SaveCheckout(_ context.Context, p *models.StripePayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched++
	for i, r := range m.rows {
		if p.CheckoutSessionID != nil && eq(r.CheckoutSessionID, *p.CheckoutSessionID) {
			updated := clone(p)
			updated.ID, updated.UserID, updated.CreatedAt = r.ID, r.UserID, r.CreatedAt
			m.rows[i] = updated
			p.ID, p.UserID = r.ID, r.UserID
			return nil
		}
	}
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	m.rows = append(m.rows, clone(p))
	return nil
}

func (m *memPayments) Update(_ context.Context, p *models.StripePayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched++
	for i, r := range m.rows {
		if r.ID == p.ID {
			m.rows[i] = clone(p)
			return nil
		}
	}
	return fmt.Errorf("update payment %d: row vanished", p.ID)
}

func (m *memPayments) HasActive(_ context.Context, userID uuid.UUID, statuses []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched++
	for _, r := range m.rows {
		if r.UserID != userID {
			continue
		}
		for _, s := range statuses {
			if r.Status == s {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *memPayments) ListByUser(_ context.Context, userID uuid.UUID) ([]models.StripePayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StripePayment
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, *clone(r))
		}
	}
	return out, nil
}

func (m *memPayments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memPayments) only(t *testing.T) *models.StripePayment {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(m.rows))
	}
	return clone(m.rows[0])
}

type memUsers struct {
	byID    map[uuid.UUID]*models.User
	touched int
}

func (m *memUsers) Create(context.Context, string, string, string) (*models.User, error) {
	return nil, nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.touched++
	return m.byID[id], nil
}

func (m *memUsers) GetByEmail(context.Context, string) (*models.User, error) {
	return nil, nil
}

func (m *memUsers) CountExisting(context.Context, []uuid.UUID) (int, error) {
	return 0, nil
}

type mockProvider struct {
	GetPaymentIntentFn      func(ctx context.Context, id string) (*PaymentIntentInfo, error)
	CancelSubscriptionFn    func(ctx context.Context, id string) error
	CreateCheckoutSessionFn func(ctx context.Context, req CheckoutRequest) (string, error)
}

func (m *mockProvider) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntentInfo, error) {
	return m.GetPaymentIntentFn(ctx, id)
}

func (m *mockProvider) CancelSubscription(ctx context.Context, id string) error {
	return m.CancelSubscriptionFn(ctx, id)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	return m.CreateCheckoutSessionFn(ctx, req)
}
