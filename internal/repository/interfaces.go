package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/models"
)

// Every method takes a context first so a cancelled request or an expired
// webhook deadline cancels the query too.
//
// Lookups return nil, nil when the row does not exist. Callers decide whether
// a missing row is an error.

// ChatRepository stores chats and their fixed member sets.
type ChatRepository interface {
	// GetOrCreate returns the chat whose canonical membership equals
	// memberKey, inserting it with the given members if none exists.
	// created reports whether this call inserted the row. Safe under
	// concurrent calls with the same key.
	GetOrCreate(ctx context.Context, memberKey string, members []uuid.UUID) (chat *models.Chat, created bool, err error)

	// GetByID returns the chat with its members.
	GetByID(ctx context.Context, chatID uuid.UUID) (*models.Chat, error)

	// ListByUser returns the chats the user belongs to, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error)
}

// MessageRepository handles chat message persistence.
type MessageRepository interface {
	// Create persists msg and, when media is non-nil, the media row in the
	// same transaction. msg.ID, msg.CreatedAt and msg.MediaID are populated.
	Create(ctx context.Context, msg *models.ChatMessage, media *models.Media) error

	// ListByChat returns messages oldest first with media inlined.
	ListByChat(ctx context.Context, chatID uuid.UUID, limit int) ([]models.ChatMessage, error)
}

// MediaRepository handles standalone media rows.
type MediaRepository interface {
	Create(ctx context.Context, media *models.Media) error
	GetByID(ctx context.Context, mediaID uuid.UUID) (*models.Media, error)
	Delete(ctx context.Context, mediaID uuid.UUID) error
}

// UserRepository handles user data.
type UserRepository interface {
	Create(ctx context.Context, email, displayName, passwordHash string) (*models.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// CountExisting returns how many of ids refer to existing users.
	CountExisting(ctx context.Context, ids []uuid.UUID) (int, error)
}

// PaymentRepository stores StripePayment rows.
type PaymentRepository interface {
	GetByCheckoutSession(ctx context.Context, sessionID string) (*models.StripePayment, error)
	GetBySubscription(ctx context.Context, subscriptionID string) (*models.StripePayment, error)
	GetByPaymentIntent(ctx context.Context, intentID string) (*models.StripePayment, error)

	// SaveCheckout inserts the row keyed by its checkout session ID, or
	// overwrites the existing row with that session ID. ID and timestamps are
	// populated on return.
	SaveCheckout(ctx context.Context, p *models.StripePayment) error

	// Update writes every mutable column of an existing row by ID.
	Update(ctx context.Context, p *models.StripePayment) error

	// HasActive reports whether the user has a row with any of statuses.
	HasActive(ctx context.Context, userID uuid.UUID, statuses []string) (bool, error)

	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.StripePayment, error)
}
