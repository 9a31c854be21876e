package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/relay/internal/db"
	"github.com/lalith-99/relay/internal/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// Create writes the media row (if any) and the message in one transaction,
// so a message never points at a media row that failed to insert.
func (s *MessageStore) Create(ctx context.Context, msg *models.ChatMessage, media *models.Media) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if media != nil {
			if err := insertMedia(ctx, tx, media); err != nil {
				return err
			}
			msg.MediaID = &media.ID
			msg.Media = media
		}

		query := `
			INSERT INTO chat_messages (chat_id, sender_id, text, media_id, created_at)
			VALUES ($1, $2, $3, $4, now())
			RETURNING id, created_at`

		if err := tx.QueryRow(ctx, query, msg.ChatID, msg.SenderID, msg.Text, msg.MediaID).
			Scan(&msg.ID, &msg.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

func (s *MessageStore) ListByChat(ctx context.Context, chatID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	// The inner query picks the newest `limit` rows; the outer one puts them
	// back in chronological order.
	query := `
		SELECT id, chat_id, sender_id, text, created_at,
		       media_id, media_title, blob_key, url, content_type, size_bytes, media_created_at
		FROM (
			SELECT m.id, m.chat_id, m.sender_id, m.text, m.created_at,
			       md.id AS media_id, md.title AS media_title, md.blob_key, md.url,
			       md.content_type, md.size_bytes, md.created_at AS media_created_at
			FROM chat_messages m
			LEFT JOIN media md ON md.id = m.media_id
			WHERE m.chat_id = $1
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		var (
			msg          models.ChatMessage
			mediaID      *uuid.UUID
			title        *string
			blobKey      *string
			url          *string
			contentType  *string
			size         *int64
			mediaCreated *time.Time
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.ChatID,
			&msg.SenderID,
			&msg.Text,
			&msg.CreatedAt,
			&mediaID,
			&title,
			&blobKey,
			&url,
			&contentType,
			&size,
			&mediaCreated,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if mediaID != nil {
			msg.MediaID = mediaID
			msg.Media = &models.Media{
				ID:          *mediaID,
				Title:       deref(title),
				BlobKey:     deref(blobKey),
				URL:         deref(url),
				ContentType: deref(contentType),
			}
			if size != nil {
				msg.Media.Size = *size
			}
			if mediaCreated != nil {
				msg.Media.CreatedAt = *mediaCreated
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}
