package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/apperr"
	"github.com/lalith-99/relay/internal/models"
	"github.com/lalith-99/relay/internal/realtime"
	"go.uber.org/zap"
)

// publishTimeout bounds the broker leg of fan-out. Local subscribers are
// reached before the broker is called, so this only delays other instances.
const publishTimeout = 2 * time.Second

type SubmitInput struct {
	ChatID   uuid.UUID
	SenderID uuid.UUID
	Text     *string
	File     *Upload
}

// Submit runs the ingest pipeline:
//
//  1. resolve the chat (NotFound)
//  2. check the sender is a member (Forbidden)
//  3. store the attachment, if any (UploadFailed, nothing persisted)
//  4. persist media and message in one transaction
//  5. publish the materialized message to the chat's room
//
// A publish failure is logged and does not fail the call. A message with
// neither text nor file is accepted.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*models.ChatMessage, error) {
	chat, err := s.Authorize(ctx, in.ChatID, in.SenderID)
	if err != nil {
		return nil, err
	}

	var media *models.Media
	if in.File != nil {
		media, err = s.storeUpload(ctx, in.File)
		if err != nil {
			return nil, err
		}
	}

	msg := &models.ChatMessage{
		ChatID:   chat.ID,
		SenderID: in.SenderID,
		Text:     in.Text,
	}
	if err := s.messages.Create(ctx, msg, media); err != nil {
		if media != nil {
			// The blob stays behind; there is no compensating delete.
			s.logger.Warn("message not persisted, blob orphaned", zap.String("key", media.BlobKey))
		}
		return nil, apperr.Internal("failed to save message", err)
	}

	// The message is committed at this point. A client that hangs up now
	// must not cancel delivery to everyone else in the room.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	room := realtime.RoomKey(chat.ID.String())
	if err := s.bus.Publish(pubCtx, room, realtime.MessageEvent(msg)); err != nil {
		s.logger.Warn("fan-out failed",
			zap.String("room", room),
			zap.Int64("message_id", msg.ID),
			zap.Error(err),
		)
	}

	return msg, nil
}
