// Package billing reconciles payment-provider webhook events with stored
// payment rows and starts checkout sessions.
package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/apperr"
	"github.com/lalith-99/relay/internal/models"
	"github.com/lalith-99/relay/internal/repository"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// Reconciler applies verified webhook events to StripePayment rows.
//
// Every handler looks the row up by a provider identifier before writing,
// so a redelivered event updates instead of inserting. A missing row on an
// update-type event is logged and acknowledged.
//
// Why acknowledge a missing row instead of failing?
//   - A non-2xx makes the provider retry the event for days. If the row does
//     not exist now it will not exist on retry either, except for the one
//     case that creates rows (checkout.session.completed).
//
// Why return 404 for an unknown user on checkout?
//   - That is the only event that creates a row, and the row needs an owner.
//     The retry gives a user created moments later a chance to appear.
type Reconciler struct {
	payments repository.PaymentRepository
	users    repository.UserRepository
	provider Provider

	webhookSecret string
	timeout       time.Duration
	logger        *zap.Logger
}

func NewReconciler(
	payments repository.PaymentRepository,
	users repository.UserRepository,
	provider Provider,
	webhookSecret string,
	timeout time.Duration,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		payments:      payments,
		users:         users,
		provider:      provider,
		webhookSecret: webhookSecret,
		timeout:       timeout,
		logger:        logger.Named("reconciler"),
	}
}

// Verify checks the signature header against the raw payload and parses the
// event. Nothing in the payload is trusted before this succeeds.
//
// Why IgnoreAPIVersionMismatch?
//   - The account's webhook API version is set in the provider dashboard and
//     can differ from the version this SDK was generated for. Only the
//     fields read below matter, and they are stable across versions.
func (r *Reconciler) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	if r.webhookSecret == "" {
		return stripe.Event{}, apperr.ValidationFailed("webhook signing secret not configured")
	}
	if sigHeader == "" {
		return stripe.Event{}, apperr.ValidationFailed("missing signature")
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, r.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, apperr.Wrap(apperr.KindValidationFailed, "invalid signature", err)
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return stripe.Event{}, apperr.ValidationFailed("event has no data object")
	}
	return event, nil
}

// Handle verifies and applies one webhook delivery. A nil return means the
// delivery should be acknowledged.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := r.Verify(payload, sigHeader)
	if err != nil {
		r.logger.Warn("rejected webhook", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	log := r.logger.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
	raw := event.Data.Raw

	switch string(event.Type) {
	case EventCheckoutSessionCompleted:
		var obj stripe.CheckoutSession
		if err := decode(raw, &obj); err != nil {
			return err
		}
		return r.checkoutCompleted(ctx, log, &obj)

	case EventSubscriptionUpdated:
		var obj stripe.Subscription
		if err := decode(raw, &obj); err != nil {
			return err
		}
		return r.subscriptionUpdated(ctx, log, &obj)

	case EventSubscriptionDeleted:
		var obj stripe.Subscription
		if err := decode(raw, &obj); err != nil {
			return err
		}
		return r.subscriptionDeleted(ctx, log, &obj)

	case EventInvoiceCreated:
		var obj stripe.Invoice
		if err := decode(raw, &obj); err != nil {
			return err
		}
		return r.invoiceCreated(ctx, log, &obj)

	case EventChargeUpdated:
		var obj stripe.Charge
		if err := decode(raw, &obj); err != nil {
			return err
		}
		return r.chargeUpdated(ctx, log, &obj)

	case EventInvoicePaymentFailed:
		var obj stripe.Invoice
		if err := decode(raw, &obj); err != nil {
			return err
		}
		return r.invoicePaymentFailed(ctx, log, &obj)

	default:
		log.Info("unhandled event type")
		return nil
	}
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Wrap(apperr.KindValidationFailed, "malformed event object", err)
	}
	return nil
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, log *zap.Logger, s *stripe.CheckoutSession) error {
	if s.ID == "" {
		log.Warn("checkout session without id")
		return nil
	}

	payment, err := r.payments.GetByCheckoutSession(ctx, s.ID)
	if err != nil {
		return apperr.Internal("failed to load payment", err)
	}
	isNew := payment == nil
	if isNew {
		userID, err := r.resolveUser(ctx, s.Metadata["user_id"])
		if err != nil {
			log.Warn("checkout for unknown user", zap.String("session_id", s.ID), zap.Error(err))
			return err
		}
		payment = &models.StripePayment{UserID: userID, CheckoutSessionID: &s.ID}
	}

	payment.PaymentType = string(s.Mode)
	if s.PaymentStatus != "" {
		payment.Status = string(s.PaymentStatus)
	}
	payment.AmountMinor = s.AmountTotal
	if s.Currency != "" {
		payment.Currency = string(s.Currency)
	}
	if s.Metadata != nil {
		payment.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			payment.Metadata[k] = v
		}
	}
	payment.CustomerEmail, payment.CustomerName = nil, nil
	if s.CustomerDetails != nil {
		payment.CustomerEmail = optional(s.CustomerDetails.Email)
		payment.CustomerName = optional(s.CustomerDetails.Name)
	}
	pi := intentID(s.PaymentIntent)
	payment.PaymentIntentID = optional(pi)
	payment.SubscriptionID = optional(subscriptionID(s.Subscription))

	// The session only references the intent; the payment method and
	// charge live on the intent itself.
	if pi != "" {
		r.enrichFromIntent(ctx, log, payment, pi)
	}

	if err := r.payments.SaveCheckout(ctx, payment); err != nil {
		return apperr.Internal("failed to save payment", err)
	}

	log.Info("checkout recorded",
		zap.Bool("new", isNew),
		zap.Int64("payment_id", payment.ID),
		zap.String("session_id", s.ID),
		zap.String("status", payment.Status),
	)
	return nil
}

func (r *Reconciler) resolveUser(ctx context.Context, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.NotFound("user not found")
	}
	user, err := r.users.GetByID(ctx, id)
	if err != nil {
		return uuid.Nil, apperr.Internal("failed to load user", err)
	}
	if user == nil {
		return uuid.Nil, apperr.NotFound("user not found")
	}
	return user.ID, nil
}

// enrichFromIntent copies the payment method and charge from the intent.
// Failure only costs the enrichment.
func (r *Reconciler) enrichFromIntent(ctx context.Context, log *zap.Logger, p *models.StripePayment, intentID string) {
	info, err := r.provider.GetPaymentIntent(ctx, intentID)
	if err != nil {
		log.Warn("failed retrieving payment intent",
			zap.String("payment_intent", intentID),
			zap.Error(apperr.ExternalProvider("payment intent lookup failed", err)),
		)
		return
	}
	if info.PaymentMethodID != "" {
		p.PaymentMethod = &info.PaymentMethodID
	}
	if info.ChargeID != "" {
		p.ChargeID = &info.ChargeID
	}
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, log *zap.Logger, s *stripe.Subscription) error {
	if s.ID == "" {
		log.Warn("subscription id missing")
		return nil
	}
	payment, err := r.payments.GetBySubscription(ctx, s.ID)
	if err != nil {
		return apperr.Internal("failed to load payment", err)
	}
	if payment == nil {
		log.Warn("no payment for subscription", zap.String("subscription_id", s.ID))
		return nil
	}

	payment.Status = string(s.Status)
	setMetadata(payment, "current_period_end", unixOrNil(s.CurrentPeriodEnd))

	if err := r.payments.Update(ctx, payment); err != nil {
		return apperr.Internal("failed to update payment", err)
	}
	log.Info("subscription updated", zap.String("subscription_id", s.ID), zap.String("status", string(s.Status)))
	return nil
}

func (r *Reconciler) subscriptionDeleted(ctx context.Context, log *zap.Logger, s *stripe.Subscription) error {
	if s.ID == "" {
		log.Warn("subscription id missing")
		return nil
	}
	payment, err := r.payments.GetBySubscription(ctx, s.ID)
	if err != nil {
		return apperr.Internal("failed to load payment", err)
	}
	if payment == nil {
		log.Warn("no payment for subscription", zap.String("subscription_id", s.ID))
		return nil
	}

	payment.Status = models.PaymentStatusCanceled
	setMetadata(payment, "subscription_canceled", true)
	setMetadata(payment, "canceled_at", unixOrNil(s.EndedAt))

	if err := r.payments.Update(ctx, payment); err != nil {
		return apperr.Internal("failed to update payment", err)
	}
	log.Info("subscription canceled", zap.String("subscription_id", s.ID))
	return nil
}

func (r *Reconciler) invoiceCreated(ctx context.Context, log *zap.Logger, inv *stripe.Invoice) error {
	var (
		payment *models.StripePayment
		err     error
		sub     = subscriptionID(inv.Subscription)
		pi      = intentID(inv.PaymentIntent)
	)
	switch {
	case sub != "":
		payment, err = r.payments.GetBySubscription(ctx, sub)
	case pi != "":
		payment, err = r.payments.GetByPaymentIntent(ctx, pi)
	}
	if err != nil {
		return apperr.Internal("failed to load payment", err)
	}
	if payment == nil {
		log.Warn("no payment for invoice", zap.String("invoice_id", inv.ID))
		return nil
	}

	if inv.HostedInvoiceURL != "" {
		payment.InvoiceURL = optional(inv.HostedInvoiceURL)
	}
	// Subscription checkouts complete before the first invoice exists, so
	// this is where their intent ID is first seen.
	if pi != "" {
		payment.PaymentIntentID = optional(pi)
	}

	if err := r.payments.Update(ctx, payment); err != nil {
		return apperr.Internal("failed to update payment", err)
	}
	log.Info("invoice attached", zap.Int64("payment_id", payment.ID))
	return nil
}

func (r *Reconciler) chargeUpdated(ctx context.Context, log *zap.Logger, ch *stripe.Charge) error {
	pi := intentID(ch.PaymentIntent)
	if pi == "" {
		log.Warn("charge without payment intent", zap.String("charge_id", ch.ID))
		return nil
	}
	payment, err := r.payments.GetByPaymentIntent(ctx, pi)
	if err != nil {
		return apperr.Internal("failed to load payment", err)
	}
	if payment == nil {
		log.Warn("no payment for intent", zap.String("payment_intent", pi))
		return nil
	}

	if ch.ID != "" {
		payment.ChargeID = optional(ch.ID)
	}
	payment.ReceiptURL = optional(ch.ReceiptURL)

	if err := r.payments.Update(ctx, payment); err != nil {
		return apperr.Internal("failed to update payment", err)
	}
	log.Info("receipt attached", zap.Int64("payment_id", payment.ID))
	return nil
}

// invoicePaymentFailed marks the row failed and cancels the subscription.
//
// Why cancel even when no row matches?
//   - The provider does not order deliveries, so this event can arrive
//     before checkout.session.completed has created the row.
//   - The subscription still exists at the provider either way, and it keeps
//     retrying the failed card until it is cancelled.
func (r *Reconciler) invoicePaymentFailed(ctx context.Context, log *zap.Logger, inv *stripe.Invoice) error {
	var (
		payment *models.StripePayment
		err     error
		sub     = subscriptionID(inv.Subscription)
		pi      = intentID(inv.PaymentIntent)
	)
	if pi != "" {
		payment, err = r.payments.GetByPaymentIntent(ctx, pi)
		if err != nil {
			return apperr.Internal("failed to load payment", err)
		}
	}
	if payment == nil && sub != "" {
		payment, err = r.payments.GetBySubscription(ctx, sub)
		if err != nil {
			return apperr.Internal("failed to load payment", err)
		}
	}

	if payment == nil {
		log.Warn("no payment for failed invoice", zap.String("invoice_id", inv.ID))
	} else {
		payment.Status = models.PaymentStatusPaymentFailed
		if err := r.payments.Update(ctx, payment); err != nil {
			return apperr.Internal("failed to update payment", err)
		}
		log.Info("payment failed", zap.Int64("payment_id", payment.ID))
	}

	if sub != "" {
		if err := r.provider.CancelSubscription(ctx, sub); err != nil {
			log.Warn("failed cancelling subscription", zap.String("subscription_id", sub), zap.Error(err))
		} else {
			log.Info("subscription cancelled", zap.String("subscription_id", sub))
		}
	}
	return nil
}

// setMetadata merges one key into the row's metadata, leaving the keys
// written by earlier events in place.
func setMetadata(p *models.StripePayment, key string, value any) {
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	p.Metadata[key] = value
}
