package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/chat"
	"github.com/lalith-99/relay/internal/middleware"
	"github.com/lalith-99/relay/internal/models"
	"go.uber.org/zap"
)

type MessageHandler struct {
	svc            ChatService
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewMessageHandler(svc ChatService, maxUploadBytes int64, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{svc: svc, maxUploadBytes: maxUploadBytes, logger: logger}
}

// messageResponse is a message with its media URL resolved, the same shape
// socket clients receive plus the media object.
type messageResponse struct {
	ID         int64         `json:"id"`
	Chat       uuid.UUID     `json:"chat"`
	User       uuid.UUID     `json:"user"`
	Text       *string       `json:"text"`
	Media      *models.Media `json:"media"`
	MediaURL   *string       `json:"media_url"`
	UploadedAt time.Time     `json:"uploaded_at"`
}

func newMessageResponse(m *models.ChatMessage) messageResponse {
	return messageResponse{
		ID:         m.ID,
		Chat:       m.ChatID,
		User:       m.SenderID,
		Text:       m.Text,
		Media:      m.Media,
		MediaURL:   m.MediaURL(),
		UploadedAt: m.CreatedAt,
	}
}

// Create handles POST /chat_messages/create
//
// Multipart form: chat (required), text (optional), file (optional).
func (h *MessageHandler) Create(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed form"})
		return
	}

	chatID, err := uuid.Parse(c.PostForm("chat"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat"})
		return
	}

	in := chat.SubmitInput{
		ChatID:   chatID,
		SenderID: middleware.GetUserID(c),
	}
	if text, ok := c.GetPostForm("text"); ok {
		in.Text = &text
	}

	fh, err := c.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file"})
		return
	default:
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file"})
			return
		}
		defer f.Close()
		in.File = &chat.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		}
	}

	msg, err := h.svc.Submit(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.logger, "failed to create message", err)
		return
	}
	c.JSON(http.StatusCreated, newMessageResponse(msg))
}
