package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/relay/internal/models"
)

type MediaStore struct {
	pool *pgxpool.Pool
}

func NewMediaStore(pool *pgxpool.Pool) *MediaStore {
	return &MediaStore{pool: pool}
}

// queryRower is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertMedia(ctx context.Context, q queryRower, media *models.Media) error {
	query := `
		INSERT INTO media (title, blob_key, url, content_type, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, created_at`

	if err := q.QueryRow(ctx, query, media.Title, media.BlobKey, media.URL, media.ContentType, media.Size).
		Scan(&media.ID, &media.CreatedAt); err != nil {
		return fmt.Errorf("insert media: %w", err)
	}
	return nil
}

func (s *MediaStore) Create(ctx context.Context, media *models.Media) error {
	return insertMedia(ctx, s.pool, media)
}

func (s *MediaStore) GetByID(ctx context.Context, mediaID uuid.UUID) (*models.Media, error) {
	query := `
		SELECT id, title, blob_key, url, content_type, size_bytes, created_at
		FROM media
		WHERE id = $1`

	var m models.Media
	err := s.pool.QueryRow(ctx, query, mediaID).Scan(
		&m.ID,
		&m.Title,
		&m.BlobKey,
		&m.URL,
		&m.ContentType,
		&m.Size,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get media: %w", err)
	}
	return &m, nil
}

// Delete removes the media row. chat_messages.media_id is ON DELETE SET NULL,
// so messages survive with no attachment.
func (s *MediaStore) Delete(ctx context.Context, mediaID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM media WHERE id = $1`, mediaID); err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
