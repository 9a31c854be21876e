package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/apperr"
	"github.com/lalith-99/relay/internal/blob"
	"github.com/lalith-99/relay/internal/models"
	"go.uber.org/zap"
)

// UploadMedia stores a standalone file and records it.
func (s *Service) UploadMedia(ctx context.Context, title string, file *Upload) (*models.Media, error) {
	media, err := s.storeUpload(ctx, file)
	if err != nil {
		return nil, err
	}
	if title != "" {
		media.Title = title
	}
	if err := s.media.Create(ctx, media); err != nil {
		s.logger.Warn("media not persisted, blob orphaned", zap.String("key", media.BlobKey))
		return nil, apperr.Internal("failed to save media", err)
	}
	return media, nil
}

func (s *Service) getMedia(ctx context.Context, mediaID uuid.UUID) (*models.Media, error) {
	media, err := s.media.GetByID(ctx, mediaID)
	if err != nil {
		return nil, apperr.Internal("failed to get media", err)
	}
	if media == nil {
		return nil, apperr.NotFound("media not found")
	}
	return media, nil
}

// OpenMedia returns the media row and an open reader on its blob. The caller
// must close the object body. The blob timeout bounds the whole read, so
// cancel is returned for the caller to call once streaming is done.
func (s *Service) OpenMedia(ctx context.Context, mediaID uuid.UUID) (*models.Media, *blob.Object, context.CancelFunc, error) {
	media, err := s.getMedia(ctx, mediaID)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.blobTimeout)
	obj, err := s.blobs.Get(ctx, media.BlobKey)
	if err != nil {
		cancel()
		if errors.Is(err, blob.ErrNotFound) {
			return nil, nil, nil, apperr.NotFound("media content not found")
		}
		return nil, nil, nil, apperr.Wrap(apperr.KindUploadFailed, "failed to read media", err)
	}
	return media, obj, cancel, nil
}

// DeleteMedia removes the blob, then the row. Messages that referenced the
// media keep existing with no attachment.
func (s *Service) DeleteMedia(ctx context.Context, mediaID uuid.UUID) error {
	media, err := s.getMedia(ctx, mediaID)
	if err != nil {
		return err
	}

	blobCtx, cancel := context.WithTimeout(ctx, s.blobTimeout)
	defer cancel()
	if err := s.blobs.Delete(blobCtx, media.BlobKey); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return apperr.Wrap(apperr.KindUploadFailed, "failed to delete media", err)
	}

	if err := s.media.Delete(ctx, mediaID); err != nil {
		return apperr.Internal("failed to delete media", err)
	}
	s.logger.Info("media deleted", zap.Stringer("media_id", mediaID), zap.String("key", media.BlobKey))
	return nil
}
