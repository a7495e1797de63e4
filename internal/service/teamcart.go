package service

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/teamcart/internal/domain/coupon"
	"github.com/xenking/teamcart/internal/domain/menu"
	"github.com/xenking/teamcart/internal/domain/money"
	"github.com/xenking/teamcart/internal/domain/teamcart"
)

// Settings configure new carts.
type Settings struct {
	Currency     money.Currency
	JoinTokenTTL time.Duration
}

// CreateInput holds the input for TeamCarts.Create.
type CreateInput struct {
	RestaurantID teamcart.RestaurantID
	HostUserID   teamcart.UserID
	HostName     string
	Deadline     *time.Time
}

// AddItemInput holds the input for TeamCarts.AddItem.
type AddItemInput struct {
	MenuItemID     string
	Quantity       int
	Customizations []string
}

// CommitInput holds the input for TeamCarts.CommitToPayment.
type CommitInput struct {
	Method       teamcart.PaymentMethod
	Amount       decimal.Decimal
	QuoteVersion int64
}

// TeamCarts executes cart commands. Each command loads the cart with a row
// lock, applies one aggregate method and saves the cart together with its
// events in a single transaction.
type TeamCarts struct {
	uow      UnitOfWork
	menu     menu.Repository
	coupons  coupon.Validator
	cache    CartCache
	settings Settings
	now      func() time.Time
}

// NewTeamCarts creates a TeamCarts service. cache may be nil.
func NewTeamCarts(uow UnitOfWork, menuRepo menu.Repository, coupons coupon.Validator, cache CartCache, settings Settings) *TeamCarts {
	if cache == nil {
		cache = nopCache{}
	}
	if settings.Currency == "" {
		settings.Currency = money.USD
	}
	return &TeamCarts{
		uow:      uow,
		menu:     menuRepo,
		coupons:  coupons,
		cache:    cache,
		settings: settings,
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (s *TeamCarts) WithClock(now func() time.Time) *TeamCarts {
	s.now = now
	return s
}

// Create opens a new cart with the caller as host.
func (s *TeamCarts) Create(ctx context.Context, in CreateInput) (*teamcart.Snapshot, error) {
	now := s.now()
	c, err := teamcart.New(teamcart.CreateParams{
		RestaurantID: in.RestaurantID,
		HostUserID:   in.HostUserID,
		HostName:     in.HostName,
		Currency:     s.settings.Currency,
		Deadline:     in.Deadline,
		JoinTokenTTL: s.settings.JoinTokenTTL,
	}, now)
	if err != nil {
		return nil, err
	}

	if err := s.uow.Do(ctx, func(ctx context.Context, tx Repositories) error {
		if err := tx.TeamCarts().Create(ctx, c); err != nil {
			return errors.Wrap(err, "create teamcart")
		}
		return appendEvents(ctx, tx, c, now)
	}); err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Team cart created",
		zap.String("teamcart_id", string(c.ID())),
		zap.String("restaurant_id", string(c.RestaurantID())),
	)
	snap := c.Snapshot()
	return &snap, nil
}

// Get returns the cart to one of its members.
func (s *TeamCarts) Get(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error) {
	snap, err := s.cache.Get(ctx, id)
	if err != nil {
		lease, leaseErr := s.cache.Lease(ctx, id)
		if leaseErr != nil {
			zctx.From(ctx).Warn("Cache lease failed", zap.Error(leaseErr))
		}

		var c *teamcart.TeamCart
		if err := s.uow.Do(ctx, func(ctx context.Context, tx Repositories) (err error) {
			c, err = tx.TeamCarts().Get(ctx, id)
			return err
		}); err != nil {
			return nil, err
		}
		v := c.Snapshot()
		snap = &v
		if leaseErr == nil {
			if err := s.cache.Set(ctx, snap, lease); err != nil {
				zctx.From(ctx).Warn("Cache set failed", zap.Error(err))
			}
		}
	}
	if !isMember(snap, user) {
		return nil, teamcart.ErrNotMember
	}
	observed := snap.At(s.now())
	return &observed, nil
}

// Join adds the caller to the cart.
func (s *TeamCarts) Join(ctx context.Context, id teamcart.CartID, user teamcart.UserID, name, token string) (*teamcart.Snapshot, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *teamcart.TeamCart, now time.Time) error {
		_, err := c.Join(user, name, token, now)
		return err
	})
}

// Leave removes the caller and their items from the cart.
func (s *TeamCarts) Leave(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *teamcart.TeamCart, now time.Time) error {
		return c.Leave(user, now)
	})
}

// AddItem snapshots the menu item with the selected customizations and adds
// it to the cart on behalf of the caller.
func (s *TeamCarts) AddItem(ctx context.Context, id teamcart.CartID, user teamcart.UserID, in AddItemInput) (*teamcart.Snapshot, error) {
	item, err := s.menu.GetByID(ctx, in.MenuItemID)
	if err != nil {
		return nil, err
	}
	if !item.Available {
		return nil, menu.ErrUnavailable
	}

	cur := s.settings.Currency
	customizations := make([]teamcart.Customization, 0, len(in.Customizations))
	for _, name := range in.Customizations {
		opt, ok := item.Option(name)
		if !ok {
			return nil, menu.ErrUnknownCustomization
		}
		customizations = append(customizations, teamcart.Customization{
			Name:            opt.Name,
			PriceAdjustment: money.New(opt.PriceAdjustment, cur),
		})
	}
	snap := teamcart.MenuSnapshot{
		MenuItemID: item.ID,
		Name:       item.Name,
		Category:   item.Category,
		BasePrice:  money.New(item.Price, cur),
	}

	return s.mutate(ctx, id, func(_ context.Context, c *teamcart.TeamCart, now time.Time) error {
		if string(c.RestaurantID()) != item.RestaurantID {
			return teamcart.ErrRestaurantMismatch
		}
		_, err := c.AddItem(user, snap, in.Quantity, customizations, now)
		return err
	})
}

// UpdateItemQuantity changes the quantity of one of the caller's items.
func (s *TeamCarts) UpdateItemQuantity(ctx context.Context, id teamcart.CartID, user teamcart.UserID, itemID teamcart.ItemID, quantity int) (*teamcart.Snapshot, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *teamcart.TeamCart, now time.Time) error {
		return c.UpdateItemQuantity(user, itemID, quantity, now)
	})
}

// RemoveItem removes one of the caller's items.
func (s *TeamCarts) RemoveItem(ctx context.Context, id teamcart.CartID, user teamcart.UserID, itemID teamcart.ItemID) (*teamcart.Snapshot, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *teamcart.TeamCart, now time.Time) error {
		return c.RemoveItem(user, itemID, now)
	})
}

func (s *TeamCarts) SetDeadline(ctx context.Context, id teamcart.CartID, user teamcart.UserID, deadline time.Time) (*teamcart.Snapshot, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *teamcart.TeamCart, now time.Time) error {
		return c.SetDeadline(user, deadline, now)
	})
}

func (s *TeamCarts) LockForPayment(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *teamcart.TeamCart, now time.Time) error {
		return c.LockForPayment(user, now)
	})
}

func (s *TeamCarts) ApplyTip(ctx context.Context, id teamcart.CartID, user teamcart.UserID, tip decimal.Decimal) (*teamcart.Snapshot, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *teamcart.TeamCart, now time.Time) error {
		return c.ApplyTip(user, money.New(tip, c.Currency()), now)
	})
}

// ApplyCoupon resolves code and applies it when it is valid for the current
// items. Usage limits are not checked here.
func (s *TeamCarts) ApplyCoupon(ctx context.Context, id teamcart.CartID, user teamcart.UserID, code string) (*teamcart.Snapshot, error) {
	return s.mutate(ctx, id, func(ctx context.Context, c *teamcart.TeamCart, now time.Time) error {
		return c.ApplyCoupon(user, func(items []coupon.Item) (teamcart.AppliedCoupon, decimal.Decimal, error) {
			rule, d, err := s.coupons.ValidateCode(ctx, code, items)
			if err != nil {
				return teamcart.AppliedCoupon{}, decimal.Zero, err
			}
			return teamcart.AppliedCoupon{ID: rule.ID, Code: rule.Code}, d.Amount, nil
		}, now)
	})
}

func (s *TeamCarts) RemoveCoupon(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *teamcart.TeamCart, now time.Time) error {
		return c.RemoveCoupon(user, now)
	})
}

// FinalizePricing computes the per-member quote, re-validating the applied
// coupon against the locked items.
func (s *TeamCarts) FinalizePricing(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error) {
	return s.mutate(ctx, id, func(ctx context.Context, c *teamcart.TeamCart, now time.Time) error {
		_, err := c.FinalizePricing(user, s.discountFor(ctx, c), now)
		return err
	})
}

// CommitToPayment records the caller's payment method for their quoted share.
func (s *TeamCarts) CommitToPayment(ctx context.Context, id teamcart.CartID, user teamcart.UserID, in CommitInput) (*teamcart.Snapshot, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *teamcart.TeamCart, now time.Time) error {
		_, err := c.CommitToPayment(user, in.Method, money.New(in.Amount, c.Currency()), in.QuoteVersion, now)
		return err
	})
}

func (s *TeamCarts) discountFor(ctx context.Context, c *teamcart.TeamCart) teamcart.DiscountFunc {
	applied, ok := c.Coupon()
	if !ok {
		return nil
	}
	return func(items []coupon.Item) (decimal.Decimal, error) {
		_, d, err := s.coupons.ValidateID(ctx, applied.ID, items)
		if err != nil {
			return decimal.Zero, err
		}
		return d.Amount, nil
	}
}

// mutate runs fn against the locked cart and saves it. When fn observes an
// elapsed deadline the Expired transition is committed and ErrCartExpired is
// returned to the caller.
func (s *TeamCarts) mutate(ctx context.Context, id teamcart.CartID, fn func(ctx context.Context, c *teamcart.TeamCart, now time.Time) error) (*teamcart.Snapshot, error) {
	var (
		snap    teamcart.Snapshot
		expired bool
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx Repositories) error {
		c, err := tx.TeamCarts().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := fn(ctx, c, now); err != nil {
			if !errors.Is(err, teamcart.ErrCartExpired) {
				return err
			}
			expired = true
		}
		if err := SaveCart(ctx, tx, c, now); err != nil {
			return err
		}
		snap = c.Snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.Delete(ctx, id); err != nil {
		zctx.From(ctx).Warn("Cache invalidation failed", zap.String("teamcart_id", string(id)), zap.Error(err))
	}
	if expired {
		return nil, teamcart.ErrCartExpired
	}
	return &snap, nil
}

func isMember(s *teamcart.Snapshot, user teamcart.UserID) bool {
	for _, m := range s.Members {
		if m.UserID == user {
			return true
		}
	}
	return false
}
