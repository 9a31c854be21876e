package api

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/billing"
	"github.com/lalith-99/relay/internal/blob"
	"github.com/lalith-99/relay/internal/chat"
	"github.com/lalith-99/relay/internal/models"
)

// The handlers depend on these interfaces rather than on the concrete
// services, so handler tests can swap in mocks.

type ChatService interface {
	Start(ctx context.Context, callerID uuid.UUID, others []uuid.UUID) (*models.Chat, bool, error)
	ListChats(ctx context.Context, userID uuid.UUID) ([]models.Chat, error)
	Members(ctx context.Context, chatID, callerID uuid.UUID) ([]uuid.UUID, error)
	History(ctx context.Context, chatID, callerID uuid.UUID, limit int) ([]models.ChatMessage, error)
	Authorize(ctx context.Context, chatID, userID uuid.UUID) (*models.Chat, error)
	Submit(ctx context.Context, in chat.SubmitInput) (*models.ChatMessage, error)
}

type MediaService interface {
	UploadMedia(ctx context.Context, title string, file *chat.Upload) (*models.Media, error)
	OpenMedia(ctx context.Context, mediaID uuid.UUID) (*models.Media, *blob.Object, context.CancelFunc, error)
	DeleteMedia(ctx context.Context, mediaID uuid.UUID) error
}

type WebhookReconciler interface {
	Handle(ctx context.Context, payload []byte, sigHeader string) error
}

type CheckoutService interface {
	Create(ctx context.Context, userID uuid.UUID, email, option string) (string, error)
	Payments(ctx context.Context, userID uuid.UUID) ([]models.StripePayment, error)
	Catalog() billing.Catalog
}

var (
	_ ChatService       = (*chat.Service)(nil)
	_ MediaService      = (*chat.Service)(nil)
	_ WebhookReconciler = (*billing.Reconciler)(nil)
	_ CheckoutService   = (*billing.CheckoutService)(nil)
)
