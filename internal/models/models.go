package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account. Authentication itself lives in internal/auth; the
// chat and billing code only needs the ID and the email.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Chat is a direct conversation between a fixed set of users.
//
// MemberKey is the canonical membership (sorted, deduplicated member IDs
// joined with ","). The chats table has a unique index on it, which is what
// makes get-or-create idempotent for any permutation of the same members.
type Chat struct {
	ID        uuid.UUID   `json:"id"`
	MemberKey string      `json:"-"`
	Members   []uuid.UUID `json:"users"`
	CreatedAt time.Time   `json:"created_at"`
}

// HasMember reports whether userID is one of the chat's members.
func (c *Chat) HasMember(userID uuid.UUID) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Media is a stored blob. It is owned independently of messages: deleting a
// media row nulls the reference on any message pointing at it.
type Media struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	BlobKey     string    `json:"key"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"uploaded_at"`
}

// ChatMessage is a single message in a chat. Messages use bigserial IDs and
// are ordered by CreatedAt, then ID. They are immutable once written.
type ChatMessage struct {
	ID        int64      `json:"id"`
	ChatID    uuid.UUID  `json:"chat"`
	SenderID  uuid.UUID  `json:"user"`
	Text      *string    `json:"text"`
	MediaID   *uuid.UUID `json:"-"`
	Media     *Media     `json:"media"`
	CreatedAt time.Time  `json:"uploaded_at"`
}

// MediaURL returns the public URL of the attached media, or nil.
func (m *ChatMessage) MediaURL() *string {
	if m.Media == nil {
		return nil
	}
	u := m.Media.URL
	return &u
}

// Payment types mirror the Stripe checkout mode.
const (
	PaymentTypePayment      = "payment"
	PaymentTypeSubscription = "subscription"
)

// Payment statuses the service itself writes or checks. Other values are
// copied verbatim from the provider.
const (
	PaymentStatusPaid          = "paid"
	PaymentStatusActive        = "active"
	PaymentStatusCanceled      = "canceled"
	PaymentStatusPaymentFailed = "payment_failed"
)

// StripePayment is one billing lifecycle tied to a user. The provider IDs are
// filled in as webhook events arrive; the row is created once per checkout
// session and mutated in place afterwards.
type StripePayment struct {
	ID                int64          `json:"id"`
	UserID            uuid.UUID      `json:"user"`
	CheckoutSessionID *string        `json:"stripe_checkout_session_id"`
	PaymentIntentID   *string        `json:"stripe_payment_intent_id"`
	ChargeID          *string        `json:"stripe_charge_id"`
	SubscriptionID    *string        `json:"stripe_subscription_id"`
	PaymentType       string         `json:"payment_type"`
	AmountMinor       int64          `json:"amount"`
	Currency          string         `json:"currency"`
	Status            string         `json:"status"`
	CustomerEmail     *string        `json:"customer_email"`
	CustomerName      *string        `json:"customer_name"`
	PaymentMethod     *string        `json:"payment_method"`
	Metadata          map[string]any `json:"metadata"`
	ReceiptURL        *string        `json:"receipt_url"`
	InvoiceURL        *string        `json:"invoice_url"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Product maps a purchasable option to a provider price.
type Product struct {
	Option  string `json:"option"`
	PriceID string `json:"price_id"`
	Mode    string `json:"mode"`
}
