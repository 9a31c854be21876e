package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/relay/internal/apperr"
	"github.com/lalith-99/relay/internal/models"
	"go.uber.org/zap"
)

type reconcilerFixture struct {
	r         *Reconciler
	payments  *memPayments
	users     *memUsers
	provider  *mockProvider
	userID    uuid.UUID
	cancelled []string
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		payments: &memPayments{},
		userID:   uuid.New(),
	}
	f.users = &memUsers{byID: map[uuid.UUID]*models.User{
		f.userID: {ID: f.userID, Email: "ada@example.com"},
	}}
	f.provider = &mockProvider{
		GetPaymentIntentFn: func(context.Context, string) (*PaymentIntentInfo, error) {
			return &PaymentIntentInfo{PaymentMethodID: "pm_1", ChargeID: "ch_1"}, nil
		},
		CancelSubscriptionFn: func(_ context.Context, id string) error {
			f.cancelled = append(f.cancelled, id)
			return nil
		},
	}
	f.r = NewReconciler(f.payments, f.users, f.provider, testSecret, time.Second, zap.NewNop())
	return f
}

func eventJSON(t *testing.T, eventType string, object map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":     "evt_" + uuid.NewString(),
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return raw
}

func (f *reconcilerFixture) deliver(t *testing.T, eventType string, object map[string]any) error {
	t.Helper()
	payload := eventJSON(t, eventType, object)
	return f.r.Handle(context.Background(), payload, sign(t, payload, testSecret))
}

func (f *reconcilerFixture) checkoutObject(session string) map[string]any {
	return map[string]any{
		"id":             session,
		"object":         "checkout.session",
		"mode":           "subscription",
		"payment_status": "paid",
		"amount_total":   1999,
		"currency":       "usd",
		"metadata":       map[string]any{"user_id": f.userID.String()},
		"customer_details": map[string]any{
			"email": "ada@example.com",
			"name":  "Ada",
		},
		"payment_intent": "pi_123",
		"subscription":   "sub_123",
	}
}

func TestInvalidSignatureRejectedBeforeAnyRowAccess(t *testing.T) {
	f := newReconcilerFixture(t)
	payload := eventJSON(t, EventCheckoutSessionCompleted, f.checkoutObject("cs_123"))

	for name, header := range map[string]string{
		"missing":      "",
		"wrong secret": sign(t, payload, "whsec_other"),
		"garbage":      "t=1,v1=deadbeef",
	} {
		t.Run(name, func(t *testing.T) {
			err := f.r.Handle(context.Background(), payload, header)
			if !apperr.Is(err, apperr.KindValidationFailed) {
				t.Fatalf("err = %v, want validation failed", err)
			}
		})
	}
	if f.payments.touched != 0 || f.users.touched != 0 {
		t.Fatalf("repositories touched: payments=%d users=%d", f.payments.touched, f.users.touched)
	}
}

func TestTamperedPayloadRejected(t *testing.T) {
	f := newReconcilerFixture(t)
	payload := eventJSON(t, EventCheckoutSessionCompleted, f.checkoutObject("cs_123"))
	header := sign(t, payload, testSecret)
	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] = ' '

	if err := f.r.Handle(context.Background(), tampered, header); !apperr.Is(err, apperr.KindValidationFailed) {
		t.Fatalf("err = %v", err)
	}
	if f.payments.touched != 0 {
		t.Fatal("payments touched")
	}
}

func TestCheckoutCompletedCreatesRow(t *testing.T) {
	f := newReconcilerFixture(t)
	if err := f.deliver(t, EventCheckoutSessionCompleted, f.checkoutObject("cs_123")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	p := f.payments.only(t)
	if p.UserID != f.userID || !eq(p.CheckoutSessionID, "cs_123") {
		t.Fatalf("row = %+v", p)
	}
	if p.Status != "paid" || p.PaymentType != "subscription" || p.AmountMinor != 1999 || p.Currency != "usd" {
		t.Fatalf("row = %+v", p)
	}
	if !eq(p.PaymentIntentID, "pi_123") || !eq(p.SubscriptionID, "sub_123") {
		t.Fatalf("provider ids = %v %v", p.PaymentIntentID, p.SubscriptionID)
	}
	if !eq(p.PaymentMethod, "pm_1") || !eq(p.ChargeID, "ch_1") {
		t.Fatalf("intent enrichment missing: %+v", p)
	}
	if !eq(p.CustomerEmail, "ada@example.com") || !eq(p.CustomerName, "Ada") {
		t.Fatalf("customer = %v %v", p.CustomerEmail, p.CustomerName)
	}
	if p.Metadata["user_id"] != f.userID.String() {
		t.Fatalf("metadata = %v", p.Metadata)
	}
}

func TestCheckoutCompletedAcceptsExpandedReferences(t *testing.T) {
	f := newReconcilerFixture(t)
	var fetched string
	f.provider.GetPaymentIntentFn = func(_ context.Context, id string) (*PaymentIntentInfo, error) {
		fetched = id
		return &PaymentIntentInfo{}, nil
	}

	obj := f.checkoutObject("cs_exp")
	obj["payment_intent"] = map[string]any{"id": "pi_9", "object": "payment_intent", "status": "succeeded"}
	obj["subscription"] = map[string]any{"id": "sub_9", "object": "subscription", "status": "active"}
	if err := f.deliver(t, EventCheckoutSessionCompleted, obj); err != nil {
		t.Fatalf("handle: %v", err)
	}

	p := f.payments.only(t)
	if !eq(p.PaymentIntentID, "pi_9") || !eq(p.SubscriptionID, "sub_9") {
		t.Fatalf("provider ids = %v %v", p.PaymentIntentID, p.SubscriptionID)
	}
	if fetched != "pi_9" {
		t.Fatalf("fetched intent %q, want pi_9", fetched)
	}
}

func TestChargeUpdatedAcceptsExpandedIntent(t *testing.T) {
	f := newReconcilerFixture(t)
	_ = f.deliver(t, EventCheckoutSessionCompleted, f.checkoutObject("cs_1"))

	err := f.deliver(t, EventChargeUpdated, map[string]any{
		"id":             "ch_exp",
		"payment_intent": map[string]any{"id": "pi_123", "object": "payment_intent"},
		"receipt_url":    "https://receipt.example/ch_exp",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if p := f.payments.only(t); !eq(p.ReceiptURL, "https://receipt.example/ch_exp") {
		t.Fatalf("row = %+v", p)
	}
}

func TestCheckoutCompletedRedeliveryUpdatesSameRow(t *testing.T) {
	f := newReconcilerFixture(t)
	obj := f.checkoutObject("cs_123")
	if err := f.deliver(t, EventCheckoutSessionCompleted, obj); err != nil {
		t.Fatalf("first: %v", err)
	}
	first := f.payments.only(t)

	obj["payment_status"] = "unpaid"
	if err := f.deliver(t, EventCheckoutSessionCompleted, obj); err != nil {
		t.Fatalf("second: %v", err)
	}
	second := f.payments.only(t)
	if second.ID != first.ID || second.Status != "unpaid" {
		t.Fatalf("second delivery: %+v", second)
	}
}

func TestCheckoutCompletedUnresolvableUser(t *testing.T) {
	tests := map[string]any{
		"unknown uuid": uuid.NewString(),
		"not a uuid":   "42",
		"missing":      nil,
	}
	for name, userID := range tests {
		t.Run(name, func(t *testing.T) {
			f := newReconcilerFixture(t)
			obj := f.checkoutObject("cs_404")
			if userID == nil {
				delete(obj, "metadata")
			} else {
				obj["metadata"] = map[string]any{"user_id": userID}
			}
			err := f.deliver(t, EventCheckoutSessionCompleted, obj)
			if !apperr.Is(err, apperr.KindNotFound) {
				t.Fatalf("err = %v, want not found", err)
			}
			if f.payments.count() != 0 {
				t.Fatal("row created for unknown user")
			}
		})
	}
}

func TestCheckoutCompletedIntentLookupFailureIsNonFatal(t *testing.T) {
	f := newReconcilerFixture(t)
	f.provider.GetPaymentIntentFn = func(context.Context, string) (*PaymentIntentInfo, error) {
		return nil, errors.New("stripe timeout")
	}
	if err := f.deliver(t, EventCheckoutSessionCompleted, f.checkoutObject("cs_1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	p := f.payments.only(t)
	if p.ChargeID != nil || p.PaymentMethod != nil {
		t.Fatalf("unexpected enrichment %+v", p)
	}
}

func TestCheckoutThenSubscriptionUpdatedYieldsOneRow(t *testing.T) {
	f := newReconcilerFixture(t)
	if err := f.deliver(t, EventCheckoutSessionCompleted, f.checkoutObject("cs_123")); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	err := f.deliver(t, EventSubscriptionUpdated, map[string]any{
		"id":                 "sub_123",
		"object":             "subscription",
		"status":             "active",
		"current_period_end": 1700000000,
	})
	if err != nil {
		t.Fatalf("subscription updated: %v", err)
	}

	p := f.payments.only(t)
	if !eq(p.CheckoutSessionID, "cs_123") || p.Status != "active" {
		t.Fatalf("row = %+v", p)
	}
	if p.Metadata["current_period_end"] != int64(1700000000) {
		t.Fatalf("metadata = %v", p.Metadata)
	}
	if p.Metadata["user_id"] != f.userID.String() {
		t.Fatalf("existing metadata lost: %v", p.Metadata)
	}
}

func TestSubscriptionDeleted(t *testing.T) {
	f := newReconcilerFixture(t)
	_ = f.deliver(t, EventCheckoutSessionCompleted, f.checkoutObject("cs_1"))

	err := f.deliver(t, EventSubscriptionDeleted, map[string]any{
		"id": "sub_123", "status": "canceled", "ended_at": 1700000500,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	p := f.payments.only(t)
	if p.Status != models.PaymentStatusCanceled {
		t.Fatalf("status = %s", p.Status)
	}
	if p.Metadata["subscription_canceled"] != true || p.Metadata["canceled_at"] != int64(1700000500) {
		t.Fatalf("metadata = %v", p.Metadata)
	}
}

func TestInvoiceCreatedAttachesInvoiceURL(t *testing.T) {
	f := newReconcilerFixture(t)
	obj := f.checkoutObject("cs_1")
	delete(obj, "payment_intent")
	_ = f.deliver(t, EventCheckoutSessionCompleted, obj)

	err := f.deliver(t, EventInvoiceCreated, map[string]any{
		"id":                 "in_1",
		"subscription":       "sub_123",
		"payment_intent":     map[string]any{"id": "pi_late", "object": "payment_intent"},
		"hosted_invoice_url": "https://invoice.example/in_1",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	p := f.payments.only(t)
	if !eq(p.InvoiceURL, "https://invoice.example/in_1") || !eq(p.PaymentIntentID, "pi_late") {
		t.Fatalf("row = %+v", p)
	}
}

func TestChargeUpdatedAttachesReceipt(t *testing.T) {
	f := newReconcilerFixture(t)
	_ = f.deliver(t, EventCheckoutSessionCompleted, f.checkoutObject("cs_1"))

	err := f.deliver(t, EventChargeUpdated, map[string]any{
		"id":             "ch_final",
		"payment_intent": "pi_123",
		"receipt_url":    "https://receipt.example/ch_final",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	p := f.payments.only(t)
	if !eq(p.ChargeID, "ch_final") || !eq(p.ReceiptURL, "https://receipt.example/ch_final") {
		t.Fatalf("row = %+v", p)
	}
}

func TestInvoicePaymentFailed(t *testing.T) {
	t.Run("matching row", func(t *testing.T) {
		f := newReconcilerFixture(t)
		_ = f.deliver(t, EventCheckoutSessionCompleted, f.checkoutObject("cs_1"))

		err := f.deliver(t, EventInvoicePaymentFailed, map[string]any{
			"id": "in_1", "payment_intent": "pi_123", "subscription": "sub_123",
		})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if p := f.payments.only(t); p.Status != models.PaymentStatusPaymentFailed {
			t.Fatalf("status = %s", p.Status)
		}
		if len(f.cancelled) != 1 || f.cancelled[0] != "sub_123" {
			t.Fatalf("cancelled = %v", f.cancelled)
		}
	})

	t.Run("no row is acknowledged", func(t *testing.T) {
		f := newReconcilerFixture(t)
		err := f.deliver(t, EventInvoicePaymentFailed, map[string]any{
			"id": "in_2", "subscription": "sub_unknown",
		})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if f.payments.count() != 0 {
			t.Fatal("row created")
		}
		if len(f.cancelled) != 1 || f.cancelled[0] != "sub_unknown" {
			t.Fatalf("cancelled = %v", f.cancelled)
		}
	})

	t.Run("cancel failure is acknowledged", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.provider.CancelSubscriptionFn = func(context.Context, string) error { return errors.New("boom") }
		if err := f.deliver(t, EventInvoicePaymentFailed, map[string]any{"id": "in_3", "subscription": "sub_x"}); err != nil {
			t.Fatalf("handle: %v", err)
		}
	})
}

func TestUpdateEventsWithoutRowAreAcknowledged(t *testing.T) {
	tests := []struct {
		eventType string
		object    map[string]any
	}{
		{EventSubscriptionUpdated, map[string]any{"id": "sub_missing", "status": "active"}},
		{EventSubscriptionDeleted, map[string]any{"id": "sub_missing"}},
		{EventInvoiceCreated, map[string]any{"id": "in_1", "payment_intent": "pi_missing"}},
		{EventChargeUpdated, map[string]any{"id": "ch_1", "payment_intent": "pi_missing"}},
		{EventChargeUpdated, map[string]any{"id": "ch_2"}},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			f := newReconcilerFixture(t)
			if err := f.deliver(t, tt.eventType, tt.object); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if f.payments.count() != 0 {
				t.Fatal("row created")
			}
		})
	}
}

func TestUnknownEventIsNoOp(t *testing.T) {
	f := newReconcilerFixture(t)
	if err := f.deliver(t, "customer.created", map[string]any{"id": "cus_1"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.payments.touched != 0 {
		t.Fatal("payments touched for unknown event")
	}
}
