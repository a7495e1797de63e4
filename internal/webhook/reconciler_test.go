package webhook_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/teamcart/internal/domain/money"
	"github.com/xenking/teamcart/internal/domain/teamcart"
	"github.com/xenking/teamcart/internal/service/servicetest"
	"github.com/xenking/teamcart/internal/webhook"
)

var t0 = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func usd(s string) money.Money { return money.MustParse(s, money.USD) }

// finalizedCart has a host paying $10.00 cash and a guest owing $8.00 online.
// The guest commits only when commitGuest is set.
func finalizedCart(t *testing.T, db *servicetest.DB, commitGuest bool) teamcart.CartID {
	t.Helper()
	c, err := teamcart.New(teamcart.CreateParams{RestaurantID: "r1", HostUserID: "host", HostName: "Hana"}, t0)
	require.NoError(t, err)
	_, err = c.Join("guest", "Gus", c.JoinToken().Value, t0)
	require.NoError(t, err)
	_, err = c.AddItem("host", teamcart.MenuSnapshot{MenuItemID: "a", Name: "A", BasePrice: usd("5")}, 2, nil, t0)
	require.NoError(t, err)
	_, err = c.AddItem("guest", teamcart.MenuSnapshot{MenuItemID: "b", Name: "B", BasePrice: usd("8")}, 1, nil, t0)
	require.NoError(t, err)
	require.NoError(t, c.LockForPayment("host", t0))
	q, err := c.FinalizePricing("host", nil, t0)
	require.NoError(t, err)
	_, err = c.CommitToPayment("host", teamcart.MethodCashOnDelivery, usd("10"), q.Version, t0)
	require.NoError(t, err)
	if commitGuest {
		_, err = c.CommitToPayment("guest", teamcart.MethodOnline, usd("8"), q.Version, t0)
		require.NoError(t, err)
	}
	db.PutCart(c)
	return c.ID()
}

func newReconciler(t *testing.T, db *servicetest.DB) *webhook.Reconciler {
	t.Helper()
	r, err := webhook.NewReconciler(db, nil, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)
	return r.WithClock(func() time.Time { return t0.Add(time.Minute) })
}

func event(id, typ string, cart teamcart.CartID, amount string) webhook.Event {
	return webhook.Event{
		ID:       id,
		Type:     typ,
		ObjectID: "pi_" + string(cart),
		Amount:   decimal.RequireFromString(amount),
		Currency: money.USD,
		Metadata: map[string]string{webhook.MetaCartID: string(cart), webhook.MetaUserID: "guest"},
	}
}

func guestPayment(t *testing.T, db *servicetest.DB, id teamcart.CartID) teamcart.Payment {
	t.Helper()
	s, ok := db.Cart(id)
	require.True(t, ok)
	for _, p := range s.Payments {
		if p.UserID == "guest" {
			return p
		}
	}
	t.Fatal("guest payment not found")
	return teamcart.Payment{}
}

func TestReconciler_SuccessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := servicetest.New()
	id := finalizedCart(t, db, true)
	r := newReconciler(t, db)

	ev := event("evt_1", webhook.EventPaymentSucceeded, id, "8.00")
	outcome, err := r.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeApplied, outcome)
	assert.True(t, db.Processed("evt_1"))

	s, _ := db.Cart(id)
	assert.Equal(t, teamcart.StatusReadyToConfirm, s.Status)
	assert.Equal(t, teamcart.PaymentSucceeded, guestPayment(t, db, id).Status)
	events := db.Events()
	assert.Equal(t, []string{teamcart.EventOnlinePaymentSucceeded, teamcart.EventReadyForConfirmation}, events)

	outcome, err = r.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeDuplicate, outcome)
	assert.Equal(t, events, db.Events())
}

func TestReconciler_Failure(t *testing.T) {
	ctx := context.Background()
	db := servicetest.New()
	id := finalizedCart(t, db, true)
	r := newReconciler(t, db)

	outcome, err := r.Handle(ctx, event("evt_f", webhook.EventPaymentFailed, id, "8.00"))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeApplied, outcome)
	assert.Equal(t, teamcart.PaymentFailed, guestPayment(t, db, id).Status)

	s, _ := db.Cart(id)
	assert.Equal(t, teamcart.StatusFinalized, s.Status)

	// A later success for the same member is still accepted.
	outcome, err = r.Handle(ctx, event("evt_s", webhook.EventPaymentSucceeded, id, "8.00"))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeApplied, outcome)
	assert.Equal(t, teamcart.PaymentSucceeded, guestPayment(t, db, id).Status)
}

func TestReconciler_AmountMismatch(t *testing.T) {
	ctx := context.Background()
	db := servicetest.New()
	id := finalizedCart(t, db, true)
	r := newReconciler(t, db)

	outcome, err := r.Handle(ctx, event("evt_1", webhook.EventPaymentSucceeded, id, "7.99"))
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeRejected, outcome)
	assert.True(t, db.Processed("evt_1"))
	assert.Equal(t, teamcart.PaymentPending, guestPayment(t, db, id).Status)
	assert.Empty(t, db.Events())
}

func TestReconciler_PaymentNotCommittedIsRetried(t *testing.T) {
	ctx := context.Background()
	db := servicetest.New()
	id := finalizedCart(t, db, false)
	r := newReconciler(t, db)

	_, err := r.Handle(ctx, event("evt_early", webhook.EventPaymentSucceeded, id, "8.00"))
	require.ErrorIs(t, err, teamcart.ErrPaymentNotFound)
	assert.False(t, db.Processed("evt_early"))
}

func TestReconciler_Ignored(t *testing.T) {
	ctx := context.Background()
	db := servicetest.New()
	id := finalizedCart(t, db, true)
	r := newReconciler(t, db)

	noMeta := event("evt_2", webhook.EventPaymentSucceeded, id, "8.00")
	noMeta.Metadata = nil

	tests := []struct {
		name string
		ev   webhook.Event
	}{
		{name: "other type", ev: event("evt_1", "charge.refunded", id, "8.00")},
		{name: "missing metadata", ev: noMeta},
		{name: "unknown cart", ev: event("evt_3", webhook.EventPaymentSucceeded, "nope", "8.00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := r.Handle(ctx, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, webhook.OutcomeIgnored, outcome)
			assert.True(t, db.Processed(tt.ev.ID))
		})
	}
	assert.Equal(t, teamcart.PaymentPending, guestPayment(t, db, id).Status)
}
