package billing

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/apperr"
	"github.com/lalith-99/relay/internal/models"
	"github.com/lalith-99/relay/internal/repository"
	"go.uber.org/zap"
)

// Purchasable options.
const (
	OptionOneTime  = "one_time"
	OptionOneWeek  = "one_week"
	OptionOneMonth = "one_month"
)

// Checkout modes, as the provider names them.
const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
)

// Catalog is the read-only product list, keyed by option.
type Catalog map[string]models.Product

// NewCatalog builds the catalog from configured price IDs. Options without
// a price ID are left out.
func NewCatalog(oneTimePrice, oneWeekPrice, oneMonthPrice string) Catalog {
	c := Catalog{}
	add := func(option, price, mode string) {
		if price != "" {
			c[option] = models.Product{Option: option, PriceID: price, Mode: mode}
		}
	}
	add(OptionOneTime, oneTimePrice, ModePayment)
	add(OptionOneWeek, oneWeekPrice, ModeSubscription)
	add(OptionOneMonth, oneMonthPrice, ModeSubscription)
	return c
}

// Products returns the catalog sorted by option.
func (c Catalog) Products() []models.Product {
	out := make([]models.Product, 0, len(c))
	for _, p := range c {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Option < out[j].Option })
	return out
}

// activeStatuses block a new checkout.
var activeStatuses = []string{models.PaymentStatusPaid, models.PaymentStatusActive}

type CheckoutService struct {
	payments    repository.PaymentRepository
	provider    Provider
	catalog     Catalog
	frontendURL string
	logger      *zap.Logger
}

func NewCheckoutService(
	payments repository.PaymentRepository,
	provider Provider,
	catalog Catalog,
	frontendURL string,
	logger *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		payments:    payments,
		provider:    provider,
		catalog:     catalog,
		frontendURL: frontendURL,
		logger:      logger.Named("checkout"),
	}
}

// Create starts a hosted checkout for option and returns its URL.
//
// The active-payment guard is a read before the provider call, not a
// constraint: two concurrent requests from the same user can both pass it.
func (s *CheckoutService) Create(ctx context.Context, userID uuid.UUID, email, option string) (string, error) {
	product, ok := s.catalog[option]
	if !ok {
		return "", apperr.ValidationFailed("invalid option")
	}

	active, err := s.payments.HasActive(ctx, userID, activeStatuses)
	if err != nil {
		return "", apperr.Internal("failed to check existing payments", err)
	}
	if active {
		return "", apperr.Forbidden("you already have an active payment")
	}

	url, err := s.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		UserID:        userID.String(),
		CustomerEmail: email,
		PriceID:       product.PriceID,
		Mode:          product.Mode,
		SuccessURL:    s.frontendURL + "/success",
		CancelURL:     s.frontendURL + "/cancel",
	})
	if err != nil {
		s.logger.Error("checkout session failed", zap.Stringer("user_id", userID), zap.Error(err))
		return "", apperr.ExternalProvider("failed to create checkout session", err)
	}

	s.logger.Info("checkout session created",
		zap.Stringer("user_id", userID),
		zap.String("option", option),
	)
	return url, nil
}

func (s *CheckoutService) Payments(ctx context.Context, userID uuid.UUID) ([]models.StripePayment, error) {
	payments, err := s.payments.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to list payments", err)
	}
	return payments, nil
}

func (s *CheckoutService) Catalog() Catalog {
	return s.catalog
}
