// Package chat implements chat membership, message ingest and media
// handling on top of the repositories, the blob store and the fan-out hub.
package chat

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/apperr"
	"github.com/lalith-99/relay/internal/blob"
	"github.com/lalith-99/relay/internal/models"
	"github.com/lalith-99/relay/internal/realtime"
	"github.com/lalith-99/relay/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Publisher is the part of the fan-out hub the service needs.
type Publisher interface {
	Publish(ctx context.Context, room string, ev realtime.Event) error
}

type Service struct {
	chats    repository.ChatRepository
	messages repository.MessageRepository
	media    repository.MediaRepository
	users    repository.UserRepository
	blobs    blob.Store
	bus      Publisher

	blobTimeout time.Duration
	logger      *zap.Logger
}

type Deps struct {
	Chats    repository.ChatRepository
	Messages repository.MessageRepository
	Media    repository.MediaRepository
	Users    repository.UserRepository
	Blobs    blob.Store
	Bus      Publisher
}

func NewService(deps Deps, blobTimeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		chats:       deps.Chats,
		messages:    deps.Messages,
		media:       deps.Media,
		users:       deps.Users,
		blobs:       deps.Blobs,
		bus:         deps.Bus,
		blobTimeout: blobTimeout,
		logger:      logger.Named("chat"),
	}
}

// Upload is a file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// GetOrCreate returns the unique chat for the given member set. Any
// permutation or duplication of the same IDs resolves to the same chat.
// Fewer than two distinct members is rejected.
func (s *Service) GetOrCreate(ctx context.Context, memberIDs []uuid.UUID) (*models.Chat, bool, error) {
	key, members := models.CanonicalMembers(memberIDs)
	if len(members) < 2 {
		return nil, false, apperr.ValidationFailed("a chat needs at least two distinct members")
	}

	n, err := s.users.CountExisting(ctx, members)
	if err != nil {
		return nil, false, apperr.Internal("failed to check members", err)
	}
	if n != len(members) {
		return nil, false, apperr.NotFound("one or more users not found")
	}

	chat, created, err := s.chats.GetOrCreate(ctx, key, members)
	if err != nil {
		return nil, false, apperr.Internal("failed to get or create chat", err)
	}
	if created {
		s.logger.Info("chat created",
			zap.Stringer("chat_id", chat.ID),
			zap.Int("members", len(members)),
		)
	}
	return chat, created, nil
}

// Start opens (or reopens) a chat between the caller and others. The caller
// is always a member.
func (s *Service) Start(ctx context.Context, callerID uuid.UUID, others []uuid.UUID) (*models.Chat, bool, error) {
	ids := make([]uuid.UUID, 0, len(others)+1)
	ids = append(ids, callerID)
	ids = append(ids, others...)
	return s.GetOrCreate(ctx, ids)
}

func (s *Service) ListChats(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	chats, err := s.chats.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to list chats", err)
	}
	return chats, nil
}

// Authorize resolves the chat and checks that userID belongs to it.
func (s *Service) Authorize(ctx context.Context, chatID, userID uuid.UUID) (*models.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, apperr.Internal("failed to get chat", err)
	}
	if chat == nil {
		return nil, apperr.NotFound("chat not found")
	}
	if !chat.HasMember(userID) {
		return nil, apperr.Forbidden("not a member of this chat")
	}
	return chat, nil
}

func (s *Service) Members(ctx context.Context, chatID, callerID uuid.UUID) ([]uuid.UUID, error) {
	chat, err := s.Authorize(ctx, chatID, callerID)
	if err != nil {
		return nil, err
	}
	return chat.Members, nil
}

// History returns up to limit of the chat's most recent messages, oldest
// first. History is how a client catches up; sockets never replay it.
func (s *Service) History(ctx context.Context, chatID, callerID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if _, err := s.Authorize(ctx, chatID, callerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	msgs, err := s.messages.ListByChat(ctx, chatID, limit)
	if err != nil {
		return nil, apperr.Internal("failed to list messages", err)
	}
	return msgs, nil
}

// storeUpload puts the file in the blob store under a fresh key and returns
// the unsaved media row describing it.
func (s *Service) storeUpload(ctx context.Context, file *Upload) (*models.Media, error) {
	key := blob.NewKey(file.Filename)

	ctx, cancel := context.WithTimeout(ctx, s.blobTimeout)
	defer cancel()

	contentType := blob.ContentType(key, file.ContentType)
	url, err := s.blobs.Put(ctx, key, file.Body, file.Size, contentType)
	if err != nil {
		s.logger.Warn("blob upload failed", zap.String("key", key), zap.Error(err))
		return nil, apperr.UploadFailed(fmt.Errorf("put %s: %w", key, err))
	}

	return &models.Media{
		Title:       file.Filename,
		BlobKey:     key,
		URL:         url,
		ContentType: contentType,
		Size:        file.Size,
	}, nil
}
