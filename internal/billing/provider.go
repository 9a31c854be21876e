package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Provider is the set of payment-provider calls billing makes outside of
// webhook verification.
type Provider interface {
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntentInfo, error)
	CancelSubscription(ctx context.Context, id string) error
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}

// PaymentIntentInfo is what the reconciler copies from a fetched intent.
type PaymentIntentInfo struct {
	PaymentMethodID string
	ChargeID        string
}

type CheckoutRequest struct {
	UserID        string
	CustomerEmail string
	PriceID       string
	Mode          string
	SuccessURL    string
	CancelURL     string
}

// StripeProvider implements Provider with the stripe-go client.
type StripeProvider struct {
	api *client.API
}

func NewStripeProvider(secretKey string) *StripeProvider {
	return &StripeProvider{api: client.New(secretKey, nil)}
}

func (p *StripeProvider) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntentInfo, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", id, err)
	}

	info := &PaymentIntentInfo{}
	if pi.PaymentMethod != nil {
		info.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.LatestCharge != nil {
		info.ChargeID = pi.LatestCharge.ID
	}
	return info, nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, id string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := p.api.Subscriptions.Cancel(id, params); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	return nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(req.Mode),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		ClientReferenceID: stripe.String(req.UserID),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata("user_id", req.UserID)
	params.Context = ctx

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}
