package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/teamcart/internal/domain/coupon"
	"github.com/xenking/teamcart/internal/domain/menu"
	"github.com/xenking/teamcart/internal/domain/money"
	"github.com/xenking/teamcart/internal/domain/order"
	"github.com/xenking/teamcart/internal/domain/teamcart"
	"github.com/xenking/teamcart/internal/service"
	"github.com/xenking/teamcart/internal/service/servicetest"
)

const (
	host  teamcart.UserID = "host"
	guest teamcart.UserID = "guest"
)

var (
	t0   = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	addr = order.Address{Street: "1 Main St", City: "Springfield"}
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	db    *servicetest.DB
	carts *service.TeamCarts
	conv  *service.Conversion
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: servicetest.New(), now: t0}
	f.db.AddCoupon(coupon.Rule{
		ID:           "c-pct10",
		Code:         "PCT10",
		DiscountType: coupon.DiscountPercentage,
		Value:        d("10"),
		Scope:        coupon.Scope{Type: coupon.ScopeWholeOrder},
		MaxUses:      100,
	})

	catalog := servicetest.Menu{
		"a": {ID: "a", RestaurantID: "r1", Name: "Item A", Category: "mains", Price: d("5"), Available: true,
			Options: []menu.Option{{Name: "extra sauce", PriceAdjustment: d("0.50")}}},
		"b":     {ID: "b", RestaurantID: "r1", Name: "Item B", Category: "mains", Price: d("8"), Available: true},
		"off":   {ID: "off", RestaurantID: "r1", Name: "Sold out", Price: d("3")},
		"other": {ID: "other", RestaurantID: "r2", Name: "Elsewhere", Price: d("3"), Available: true},
	}
	clock := func() time.Time { return f.now }

	f.carts = service.NewTeamCarts(f.db, catalog, coupon.NewRepoValidator(f.db.CouponRepository()), nil, service.Settings{}).
		WithClock(clock)
	conv, err := service.NewConversion(f.db, service.PricingPolicy{}, nil, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)
	f.conv = conv.WithClock(clock)
	return f
}

func memberID(t *testing.T, s *teamcart.Snapshot, user teamcart.UserID) teamcart.MemberID {
	t.Helper()
	for _, m := range s.Members {
		if m.UserID == user {
			return m.ID
		}
	}
	t.Fatalf("user %s is not a member", user)
	return ""
}

func (f *fixture) recordSuccess(t *testing.T, id teamcart.CartID, user teamcart.UserID, amount money.Money, txID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.db.Do(ctx, func(ctx context.Context, tx service.Repositories) error {
		c, err := tx.TeamCarts().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := c.RecordSuccessfulOnlinePayment(user, amount, txID, f.now); err != nil {
			return err
		}
		return service.SaveCart(ctx, tx, c, f.now)
	}))
}

// readyCart drives a cart through the example walkthrough up to
// ReadyToConfirm: host 2 x A, guest 1 x B, optional coupon, $3 tip.
func (f *fixture) readyCart(t *testing.T, hostUser, guestUser teamcart.UserID, code string) *teamcart.Snapshot {
	t.Helper()
	ctx := context.Background()

	s, err := f.carts.Create(ctx, service.CreateInput{RestaurantID: "r1", HostUserID: hostUser, HostName: "Hana"})
	require.NoError(t, err)
	id := s.ID

	_, err = f.carts.Join(ctx, id, guestUser, "Gus", s.JoinToken.Value)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, id, hostUser, service.AddItemInput{MenuItemID: "a", Quantity: 2})
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, id, guestUser, service.AddItemInput{MenuItemID: "b", Quantity: 1})
	require.NoError(t, err)
	_, err = f.carts.LockForPayment(ctx, id, hostUser)
	require.NoError(t, err)
	if code != "" {
		_, err = f.carts.ApplyCoupon(ctx, id, hostUser, code)
		require.NoError(t, err)
	}
	_, err = f.carts.ApplyTip(ctx, id, hostUser, d("3"))
	require.NoError(t, err)
	s, err = f.carts.FinalizePricing(ctx, id, hostUser)
	require.NoError(t, err)

	hostAmount := s.Quote.AmountFor(memberID(t, s, hostUser))
	guestAmount := s.Quote.AmountFor(memberID(t, s, guestUser))
	_, err = f.carts.CommitToPayment(ctx, id, hostUser, service.CommitInput{
		Method: teamcart.MethodCashOnDelivery, Amount: hostAmount.Amount, QuoteVersion: s.QuoteVersion,
	})
	require.NoError(t, err)
	_, err = f.carts.CommitToPayment(ctx, id, guestUser, service.CommitInput{
		Method: teamcart.MethodOnline, Amount: guestAmount.Amount, QuoteVersion: s.QuoteVersion,
	})
	require.NoError(t, err)
	f.recordSuccess(t, id, guestUser, guestAmount, "pi_"+string(id))

	s, err = f.carts.Get(ctx, id, hostUser)
	require.NoError(t, err)
	require.Equal(t, teamcart.StatusReadyToConfirm, s.Status)
	return s
}

func TestExampleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.readyCart(t, host, guest, "PCT10")
	require.NotNil(t, s.Quote)
	assert.True(t, money.MustParse("19.20", money.USD).Equal(s.Quote.GrandTotal))
	assert.True(t, money.MustParse("10.67", money.USD).Equal(s.Quote.AmountFor(memberID(t, s, host))))
	assert.True(t, money.MustParse("8.53", money.USD).Equal(s.Quote.AmountFor(memberID(t, s, guest))))

	_, err := f.conv.Convert(ctx, service.ConvertInput{CartID: s.ID, UserID: guest, Address: addr})
	require.ErrorIs(t, err, teamcart.ErrNotHost)

	o, err := f.conv.Convert(ctx, service.ConvertInput{CartID: s.ID, UserID: host, Address: addr})
	require.NoError(t, err)
	assert.Equal(t, "PCT10", o.CouponCode)
	assert.True(t, money.MustParse("19.20", money.USD).Equal(o.Total))
	assert.True(t, money.MustParse("10.67", money.USD).Equal(o.CashOnDeliveryAmount))
	assert.True(t, money.MustParse("8.53", money.USD).Equal(o.OnlineAmount))
	assert.Equal(t, 1, f.db.Coupon("c-pct10").Uses)

	stored, ok := f.db.Cart(s.ID)
	require.True(t, ok)
	assert.Equal(t, teamcart.StatusConverted, stored.Status)
	events := f.db.Events()
	assert.Equal(t, teamcart.EventConverted, events[len(events)-1])
	assert.Contains(t, events, teamcart.EventReadyForConfirmation)

	_, err = f.conv.Convert(ctx, service.ConvertInput{CartID: s.ID, UserID: host, Address: addr})
	require.ErrorIs(t, err, teamcart.ErrAlreadyConverted)
	assert.Equal(t, 1, f.db.Coupon("c-pct10").Uses)
	assert.Len(t, f.db.Orders(), 1)
}

func TestConvert_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.carts.Create(ctx, service.CreateInput{RestaurantID: "r1", HostUserID: host, HostName: "Hana"})
	require.NoError(t, err)
	_, err = f.conv.Convert(ctx, service.ConvertInput{CartID: s.ID, UserID: host, Address: addr})
	require.ErrorIs(t, err, teamcart.ErrNotReadyToConfirm)

	_, err = f.conv.Convert(ctx, service.ConvertInput{CartID: "missing", UserID: host, Address: addr})
	require.ErrorIs(t, err, teamcart.ErrNotFound)

	ready := f.readyCart(t, "h2", "g2", "")
	stale := ready.QuoteVersion + 1
	_, err = f.conv.Convert(ctx, service.ConvertInput{CartID: ready.ID, UserID: "h2", Address: addr, QuoteVersion: &stale})
	require.ErrorIs(t, err, teamcart.ErrStaleQuote)

	_, err = f.conv.Convert(ctx, service.ConvertInput{CartID: ready.ID, UserID: "h2", Address: order.Address{}})
	require.ErrorIs(t, err, order.ErrInvalidAddress)

	stored, _ := f.db.Cart(ready.ID)
	assert.Equal(t, teamcart.StatusReadyToConfirm, stored.Status)
	assert.Empty(t, f.db.Orders())
}

func TestConvert_ExhaustedCouponRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.db.AddCoupon(coupon.Rule{
		ID: "c-once", Code: "ONCE", DiscountType: coupon.DiscountFixed, Value: d("2"),
		Scope: coupon.Scope{Type: coupon.ScopeWholeOrder}, MaxUses: 1,
	})

	first := f.readyCart(t, "h1", "g1", "ONCE")
	second := f.readyCart(t, "h2", "g2", "ONCE")

	_, err := f.conv.Convert(ctx, service.ConvertInput{CartID: first.ID, UserID: "h1", Address: addr})
	require.NoError(t, err)

	eventsBefore := len(f.db.Events())
	_, err = f.conv.Convert(ctx, service.ConvertInput{CartID: second.ID, UserID: "h2", Address: addr})
	require.ErrorIs(t, err, coupon.ErrUsageLimitReached)

	assert.Equal(t, 1, f.db.Coupon("c-once").Uses)
	assert.Len(t, f.db.Orders(), 1)
	assert.Len(t, f.db.Events(), eventsBefore)
	stored, _ := f.db.Cart(second.ID)
	assert.Equal(t, teamcart.StatusReadyToConfirm, stored.Status)
}

func TestConvert_PerUserLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.db.AddCoupon(coupon.Rule{
		ID: "c-welcome", Code: "WELCOME", DiscountType: coupon.DiscountFixed, Value: d("1"),
		Scope: coupon.Scope{Type: coupon.ScopeWholeOrder}, PerUserLimit: 1,
	})

	first := f.readyCart(t, host, "g1", "WELCOME")
	second := f.readyCart(t, host, "g2", "WELCOME")

	_, err := f.conv.Convert(ctx, service.ConvertInput{CartID: first.ID, UserID: host, Address: addr})
	require.NoError(t, err)
	_, err = f.conv.Convert(ctx, service.ConvertInput{CartID: second.ID, UserID: host, Address: addr})
	require.ErrorIs(t, err, coupon.ErrUsageLimitReached)
}

func TestConvert_ConcurrentCouponUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const limit, carts = 3, 10
	f.db.AddCoupon(coupon.Rule{
		ID: "c-limited", Code: "LIMITED", DiscountType: coupon.DiscountPercentage, Value: d("5"),
		Scope: coupon.Scope{Type: coupon.ScopeWholeOrder}, MaxUses: limit,
	})

	ids := make([]teamcart.CartID, carts)
	hosts := make([]teamcart.UserID, carts)
	for i := range carts {
		hosts[i] = teamcart.UserID(fmt.Sprintf("host-%d", i))
		ids[i] = f.readyCart(t, hosts[i], teamcart.UserID(fmt.Sprintf("guest-%d", i)), "LIMITED").ID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		converted int
		exhausted int
	)
	for i := range carts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.conv.Convert(ctx, service.ConvertInput{CartID: ids[i], UserID: hosts[i], Address: addr})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				converted++
			case assert.ErrorIs(t, err, coupon.ErrUsageLimitReached):
				exhausted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, converted)
	assert.Equal(t, carts-limit, exhausted)
	assert.Equal(t, limit, f.db.Coupon("c-limited").Uses)
	assert.Len(t, f.db.Orders(), limit)
}

func TestLazyExpiryIsPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deadline := t0.Add(time.Hour)

	s, err := f.carts.Create(ctx, service.CreateInput{RestaurantID: "r1", HostUserID: host, HostName: "Hana", Deadline: &deadline})
	require.NoError(t, err)

	f.now = deadline.Add(time.Minute)
	_, err = f.carts.AddItem(ctx, s.ID, host, service.AddItemInput{MenuItemID: "a", Quantity: 1})
	require.ErrorIs(t, err, teamcart.ErrCartExpired)

	stored, _ := f.db.Cart(s.ID)
	assert.Equal(t, teamcart.StatusExpired, stored.Status)
	assert.Empty(t, stored.Items)
	assert.Equal(t, []string{teamcart.EventCreated, teamcart.EventExpired}, f.db.Events())
}

func TestBusinessErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.carts.Create(ctx, service.CreateInput{RestaurantID: "r1", HostUserID: host, HostName: "Hana"})
	require.NoError(t, err)
	commits := f.db.Commits()

	_, err = f.carts.AddItem(ctx, s.ID, "stranger", service.AddItemInput{MenuItemID: "a", Quantity: 1})
	require.ErrorIs(t, err, teamcart.ErrNotMember)
	_, err = f.carts.LockForPayment(ctx, s.ID, host)
	require.ErrorIs(t, err, teamcart.ErrEmptyCart)

	assert.Equal(t, commits, f.db.Commits())
	assert.Equal(t, []string{teamcart.EventCreated}, f.db.Events())
}

func TestAddItem_Menu(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.carts.Create(ctx, service.CreateInput{RestaurantID: "r1", HostUserID: host, HostName: "Hana"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		in      service.AddItemInput
		wantErr error
	}{
		{name: "unknown item", in: service.AddItemInput{MenuItemID: "zzz", Quantity: 1}, wantErr: menu.ErrNotFound},
		{name: "unavailable", in: service.AddItemInput{MenuItemID: "off", Quantity: 1}, wantErr: menu.ErrUnavailable},
		{name: "other restaurant", in: service.AddItemInput{MenuItemID: "other", Quantity: 1}, wantErr: teamcart.ErrRestaurantMismatch},
		{name: "unknown option", in: service.AddItemInput{MenuItemID: "a", Quantity: 1, Customizations: []string{"gold leaf"}}, wantErr: menu.ErrUnknownCustomization},
		{name: "zero quantity", in: service.AddItemInput{MenuItemID: "a", Quantity: 0}, wantErr: teamcart.ErrInvalidQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.carts.AddItem(ctx, s.ID, host, tt.in)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	got, err := f.carts.AddItem(ctx, s.ID, host, service.AddItemInput{MenuItemID: "a", Quantity: 2, Customizations: []string{"extra sauce"}})
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.True(t, money.MustParse("11", money.USD).Equal(got.Items[0].LineTotal()))
}

func TestGet_MembersOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.carts.Create(ctx, service.CreateInput{RestaurantID: "r1", HostUserID: host, HostName: "Hana"})
	require.NoError(t, err)

	got, err := f.carts.Get(ctx, s.ID, host)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = f.carts.Get(ctx, s.ID, "stranger")
	require.ErrorIs(t, err, teamcart.ErrNotMember)

	_, err = f.carts.Get(ctx, "missing", host)
	require.ErrorIs(t, err, teamcart.ErrNotFound)
}

func TestCommitToPayment_StaleQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.carts.Create(ctx, service.CreateInput{RestaurantID: "r1", HostUserID: host, HostName: "Hana"})
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, s.ID, host, service.AddItemInput{MenuItemID: "b", Quantity: 1})
	require.NoError(t, err)
	_, err = f.carts.LockForPayment(ctx, s.ID, host)
	require.NoError(t, err)
	s, err = f.carts.FinalizePricing(ctx, s.ID, host)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.QuoteVersion)

	_, err = f.carts.CommitToPayment(ctx, s.ID, host, service.CommitInput{
		Method: teamcart.MethodCashOnDelivery, Amount: d("8"), QuoteVersion: 0,
	})
	require.ErrorIs(t, err, teamcart.ErrStaleQuote)

	s, err = f.carts.CommitToPayment(ctx, s.ID, host, service.CommitInput{
		Method: teamcart.MethodCashOnDelivery, Amount: d("8"), QuoteVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, teamcart.StatusReadyToConfirm, s.Status)
}

func TestExpirySweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soon := t0.Add(time.Hour)
	later := t0.Add(48 * time.Hour)

	due, err := f.carts.Create(ctx, service.CreateInput{RestaurantID: "r1", HostUserID: host, HostName: "Hana", Deadline: &soon})
	require.NoError(t, err)
	notDue, err := f.carts.Create(ctx, service.CreateInput{RestaurantID: "r1", HostUserID: guest, HostName: "Gus", Deadline: &later})
	require.NoError(t, err)

	f.now = soon.Add(time.Second)
	sweeper := service.NewExpiry(f.db, nil, time.Minute, 10).WithClock(func() time.Time { return f.now })
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, _ := f.db.Cart(due.ID)
	assert.Equal(t, teamcart.StatusExpired, stored.Status)
	stored, _ = f.db.Cart(notDue.ID)
	assert.Equal(t, teamcart.StatusOpen, stored.Status)

	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
