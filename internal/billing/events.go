package billing

import (
	"github.com/stripe/stripe-go/v76"
)

// Event types the reconciler acts on.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventInvoiceCreated           = "invoice.created"
	EventChargeUpdated            = "charge.updated"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
)

// Expandable fields decode to a struct holding only the ID when the event
// carries a bare reference, so both forms reduce to the ID here.

func intentID(pi *stripe.PaymentIntent) string {
	if pi == nil {
		return ""
	}
	return pi.ID
}

func subscriptionID(s *stripe.Subscription) string {
	if s == nil {
		return ""
	}
	return s.ID
}

// optional returns nil for "".
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// unixOrNil stores an absent provider timestamp as JSON null.
func unixOrNil(ts int64) any {
	if ts == 0 {
		return nil
	}
	return ts
}
