package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lalith-99/relay/internal/middleware"
	"github.com/lalith-99/relay/internal/observ"
	"go.uber.org/zap"
)

// HealthChecker is satisfied by *db.DB.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type RouterConfig struct {
	Auth    *AuthHandler
	User    *UserHandler
	Chat    *ChatHandler
	Message *MessageHandler
	Media   *MediaHandler
	Payment *PaymentHandler
	Socket  *SocketHandler
	Health  HealthChecker

	JWTSecret      string
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(observ.RequestLogger(cfg.Logger), gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	// Public. Load balancers hit the health check without a token, and the
	// webhook authenticates by signature instead of JWT.
	router.GET("/v1/health", healthHandler(cfg.Health))
	router.POST("/v1/auth/signup", cfg.Auth.Signup)
	router.POST("/v1/auth/login", cfg.Auth.Login)
	router.POST("/payment/webhook", cfg.Payment.Webhook)

	authn := middleware.AuthMiddleware(cfg.JWTSecret)

	// Browsers can't set headers on the handshake, so this route alone
	// accepts ?token= on upgrade requests.
	router.GET("/chat/:room", middleware.WebSocketAuthMiddleware(cfg.JWTSecret), cfg.Socket.Serve)

	v1 := router.Group("/v1")
	v1.Use(authn)
	{
		v1.GET("/users/me", cfg.User.GetMe)

		v1.POST("/chats", cfg.Chat.Create)
		v1.GET("/chats", cfg.Chat.List)
		v1.GET("/chats/:id/members", cfg.Chat.Members)
		v1.GET("/chats/:id/messages", cfg.Chat.Messages)

		v1.POST("/media", cfg.Media.Upload)
		v1.GET("/media/:id", cfg.Media.Get)
		v1.DELETE("/media/:id", cfg.Media.Delete)
	}

	messages := router.Group("/chat_messages")
	messages.Use(authn)
	messages.POST("/create", cfg.Message.Create)

	payment := router.Group("/payment")
	payment.Use(authn)
	{
		payment.POST("/checkout_session", cfg.Payment.CreateCheckoutSession)
		payment.GET("/payments", cfg.Payment.ListPayments)
		payment.GET("/products", cfg.Payment.Products)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Requested-With", "Stripe-Signature"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func healthHandler(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := checker.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
