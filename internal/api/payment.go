package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/relay/internal/middleware"
	"go.uber.org/zap"
)

// maxWebhookBytes matches the provider's own recommended body limit.
const maxWebhookBytes = 65536

type PaymentHandler struct {
	reconciler WebhookReconciler
	checkout   CheckoutService
	logger     *zap.Logger
}

func NewPaymentHandler(reconciler WebhookReconciler, checkout CheckoutService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{reconciler: reconciler, checkout: checkout, logger: logger}
}

// Webhook handles POST /payment/webhook
//
// Public, but nothing is read from the body until the signature over the
// raw bytes checks out. Responses:
//   - 200 handled, ignored, or no matching row
//   - 400 missing/invalid signature or malformed payload
//   - 404 checkout for a user that does not exist (the provider retries)
//   - 500 storage failure (the provider retries)
func (h *PaymentHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if err := h.reconciler.Handle(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		respondError(c, h.logger, "webhook processing failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

type checkoutRequest struct {
	Option string `json:"option" binding:"required"`
}

// CreateCheckoutSession handles POST /payment/checkout_session
func (h *PaymentHandler) CreateCheckoutSession(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid option"})
		return
	}

	url, err := h.checkout.Create(c.Request.Context(), middleware.GetUserID(c), middleware.GetEmail(c), req.Option)
	if err != nil {
		respondError(c, h.logger, "failed to create checkout session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// ListPayments handles GET /payment/payments
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	payments, err := h.checkout.Payments(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, "failed to list payments", err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

// Products handles GET /payment/products
func (h *PaymentHandler) Products(c *gin.Context) {
	c.JSON(http.StatusOK, h.checkout.Catalog().Products())
}
