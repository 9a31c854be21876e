package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/middleware"
	"go.uber.org/zap"
)

// ChatHandler serves chat creation, listing, members and history.
type ChatHandler struct {
	svc    ChatService
	logger *zap.Logger
}

func NewChatHandler(svc ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

// createChatRequest lists the other participants. The caller is added by
// the server, so a client can never open a chat it is not part of.
type createChatRequest struct {
	Users []uuid.UUID `json:"users" binding:"required,min=1"`
}

// Create handles POST /v1/chats
//
// Returns 201 when a new chat was created and 200 when the same member set
// already had one.
func (h *ChatHandler) Create(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, created, err := h.svc.Start(c.Request.Context(), middleware.GetUserID(c), req.Users)
	if err != nil {
		respondError(c, h.logger, "failed to create chat", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, chat)
}

// List handles GET /v1/chats
func (h *ChatHandler) List(c *gin.Context) {
	chats, err := h.svc.ListChats(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, "failed to list chats", err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// Members handles GET /v1/chats/:id/members
func (h *ChatHandler) Members(c *gin.Context) {
	chatID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	members, err := h.svc.Members(c.Request.Context(), chatID, middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, "failed to list members", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": members})
}

// Messages handles GET /v1/chats/:id/messages?limit=50
//
// Oldest first. This is the only way to read history; sockets start empty.
func (h *ChatHandler) Messages(c *gin.Context) {
	chatID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	msgs, err := h.svc.History(c.Request.Context(), chatID, middleware.GetUserID(c), limit)
	if err != nil {
		respondError(c, h.logger, "failed to list messages", err)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, newMessageResponse(&msgs[i]))
	}
	c.JSON(http.StatusOK, out)
}
