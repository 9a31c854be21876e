package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/apperr"
	"go.uber.org/zap"
)

// respondError writes err as {"error": "..."} with the status of its kind.
// Server-side failures are logged with the full chain; their text never
// reaches the client.
func respondError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg,
			zap.String("kind", string(apperr.KindOf(err))),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}

// paramUUID parses a UUID path parameter, answering 400 on failure.
func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
