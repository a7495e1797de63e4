package service

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/teamcart/internal/domain/coupon"
	"github.com/xenking/teamcart/internal/domain/domainerr"
	"github.com/xenking/teamcart/internal/domain/money"
	"github.com/xenking/teamcart/internal/domain/order"
	"github.com/xenking/teamcart/internal/domain/teamcart"
)

// PricingPolicy adds the charges that live outside the cart quote.
type PricingPolicy struct {
	DeliveryFee decimal.Decimal
	// TaxRate applies to the discounted item subtotal, e.g. 0.08.
	TaxRate decimal.Decimal
}

// Charges returns delivery fee and tax for quote.
func (p PricingPolicy) Charges(q teamcart.Quote) order.Charges {
	c := q.GrandTotal.Currency
	taxable := q.Subtotal.Sub(q.Discount)
	return order.Charges{
		DeliveryFee: money.New(p.DeliveryFee, c).Round(),
		Tax:         taxable.Mul(p.TaxRate).Round(),
	}
}

// ConvertInput holds the input for Conversion.Convert.
type ConvertInput struct {
	CartID  teamcart.CartID
	UserID  teamcart.UserID
	Address order.Address
	// QuoteVersion, when set, must match the cart's current version.
	QuoteVersion *int64
}

// Conversion turns a ReadyToConfirm cart into an order. The order insert,
// the coupon usage reservation and the cart transition commit together or
// not at all.
type Conversion struct {
	uow       UnitOfWork
	policy    PricingPolicy
	cache     CartCache
	tracer    trace.Tracer
	converted metric.Int64Counter
	now       func() time.Time
}

// NewConversion creates a Conversion service. cache may be nil.
func NewConversion(uow UnitOfWork, policy PricingPolicy, cache CartCache, tp trace.TracerProvider, mp metric.MeterProvider) (*Conversion, error) {
	if cache == nil {
		cache = nopCache{}
	}
	meter := mp.Meter("teamcart/service")
	converted, err := meter.Int64Counter("teamcart.conversions",
		metric.WithDescription("Team cart conversion attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "conversions counter")
	}
	return &Conversion{
		uow:       uow,
		policy:    policy,
		cache:     cache,
		tracer:    tp.Tracer("teamcart/service"),
		converted: converted,
		now:       time.Now,
	}, nil
}

// WithClock replaces the time source.
func (s *Conversion) WithClock(now func() time.Time) *Conversion {
	s.now = now
	return s
}

// Convert creates the order for a cart whose payments are resolved.
func (s *Conversion) Convert(ctx context.Context, in ConvertInput) (_ *order.Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "teamcart.Convert",
		trace.WithAttributes(attribute.String("teamcart.id", string(in.CartID))),
	)
	defer func() {
		outcome := "converted"
		switch {
		case rerr == nil:
		case domainerr.KindOf(rerr) != domainerr.KindUnknown:
			outcome = "rejected"
		default:
			outcome = "error"
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		s.converted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		span.End()
	}()

	var (
		o       *order.Order
		expired bool
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx Repositories) error {
		c, err := tx.TeamCarts().GetForUpdate(ctx, in.CartID)
		if err != nil {
			return err
		}
		if in.QuoteVersion != nil && *in.QuoteVersion != c.QuoteVersion() {
			return teamcart.ErrStaleQuote
		}
		now := s.now()

		orderID := order.NewID()
		if err := c.MarkConverted(in.UserID, string(orderID), now); err != nil {
			if !errors.Is(err, teamcart.ErrCartExpired) {
				return err
			}
			expired = true
			return SaveCart(ctx, tx, c, now)
		}

		q, _ := c.Quote()
		o, err = order.NewFromTeamCart(c, orderID, in.Address, s.policy.Charges(q), now)
		if err != nil {
			return err
		}

		if applied, ok := c.Coupon(); ok {
			if err := reserveCoupon(ctx, tx.Coupons(), applied.ID, c.HostUserID()); err != nil {
				return err
			}
		}
		if err := tx.Orders().Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		return SaveCart(ctx, tx, c, now)
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.Delete(ctx, in.CartID); err != nil {
		zctx.From(ctx).Warn("Cache invalidation failed", zap.Error(err))
	}
	if expired {
		return nil, teamcart.ErrCartExpired
	}

	span.SetAttributes(attribute.String("order.id", string(o.ID)))
	zctx.From(ctx).Info("Team cart converted",
		zap.String("teamcart_id", string(in.CartID)),
		zap.String("order_id", string(o.ID)),
		zap.Stringer("total", o.Total),
	)
	return o, nil
}

func reserveCoupon(ctx context.Context, coupons coupon.Repository, id coupon.ID, user teamcart.UserID) error {
	rule, err := coupons.FindByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "load coupon")
	}
	ok, err := coupons.FinalizeUsage(ctx, rule.ID, string(user), rule.PerUserLimit)
	if err != nil {
		return errors.Wrap(err, "reserve coupon usage")
	}
	if !ok {
		return coupon.ErrUsageLimitReached
	}
	return nil
}
