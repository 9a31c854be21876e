package api

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/relay/internal/middleware"
	"github.com/lalith-99/relay/internal/realtime"
	"go.uber.org/zap"
)

// SocketHandler upgrades GET /chat/:room to a websocket session on the
// room's fan-out group. :room is the chat ID.
type SocketHandler struct {
	chats    ChatService
	hub      *realtime.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewSocketHandler(chats ChatService, hub *realtime.Hub, allowedOrigins []string, logger *zap.Logger) *SocketHandler {
	return &SocketHandler{
		chats: chats,
		hub:   hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		logger: logger.Named("socket"),
	}
}

// checkOrigin allows requests without an Origin header (non-browser
// clients), any origin when the list contains "*", and otherwise only
// listed origins.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		if set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// Serve handles GET /chat/:room
//
// Membership is checked before the upgrade so a refused client gets a
// normal HTTP error instead of a socket that closes immediately.
func (h *SocketHandler) Serve(c *gin.Context) {
	chatID, ok := paramUUID(c, "room")
	if !ok {
		return
	}
	userID := middleware.GetUserID(c)
	if _, err := h.chats.Authorize(c.Request.Context(), chatID, userID); err != nil {
		respondError(c, h.logger, "failed to authorize socket", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	session := realtime.NewSession(conn, h.hub, realtime.RoomKey(chatID.String()), h.logger.With(zap.Stringer("user_id", userID)))
	if err := session.Run(c.Request.Context()); err != nil {
		h.logger.Debug("session ended with error", zap.Error(err))
	}
}
