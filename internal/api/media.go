package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/relay/internal/chat"
	"go.uber.org/zap"
)

type MediaHandler struct {
	svc            MediaService
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewMediaHandler(svc MediaService, maxUploadBytes int64, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{svc: svc, maxUploadBytes: maxUploadBytes, logger: logger}
}

// Upload handles POST /v1/media (multipart: file, optional title).
func (h *MediaHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file"})
		return
	}
	defer f.Close()

	media, err := h.svc.UploadMedia(c.Request.Context(), c.PostForm("title"), &chat.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		respondError(c, h.logger, "failed to upload media", err)
		return
	}
	c.JSON(http.StatusCreated, media)
}

// Get handles GET /v1/media/:id by streaming the blob.
func (h *MediaHandler) Get(c *gin.Context) {
	mediaID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	media, obj, cancel, err := h.svc.OpenMedia(c.Request.Context(), mediaID)
	if err != nil {
		respondError(c, h.logger, "failed to open media", err)
		return
	}
	defer cancel()
	defer obj.Body.Close()

	c.Header("Content-Type", obj.ContentType)
	if obj.Size > 0 {
		c.Header("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	c.Header("Content-Disposition", "inline; filename="+strconv.Quote(media.Title))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, obj.Body); err != nil {
		h.logger.Warn("media stream interrupted", zap.String("key", media.BlobKey), zap.Error(err))
	}
}

// Delete handles DELETE /v1/media/:id
func (h *MediaHandler) Delete(c *gin.Context) {
	mediaID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteMedia(c.Request.Context(), mediaID); err != nil {
		respondError(c, h.logger, "failed to delete media", err)
		return
	}
	c.Status(http.StatusNoContent)
}
