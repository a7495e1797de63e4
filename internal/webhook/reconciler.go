package webhook

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/teamcart/internal/domain/domainerr"
	"github.com/xenking/teamcart/internal/domain/money"
	"github.com/xenking/teamcart/internal/domain/teamcart"
	"github.com/xenking/teamcart/internal/service"
)

// Outcome describes what a delivery did.
type Outcome string

const (
	// OutcomeApplied means the payment state changed.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the event id was already processed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the event does not concern a team cart payment.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected means a business rule refused the event. It is still
	// recorded as processed.
	OutcomeRejected Outcome = "rejected"
)

// Reconciler applies gateway events to cart payments exactly once per event id.
type Reconciler struct {
	uow      service.UnitOfWork
	cache    service.CartCache
	tracer   trace.Tracer
	outcomes metric.Int64Counter
	now      func() time.Time
}

// NewReconciler creates a Reconciler. cache may be nil.
func NewReconciler(uow service.UnitOfWork, cache service.CartCache, tp trace.TracerProvider, mp metric.MeterProvider) (*Reconciler, error) {
	outcomes, err := mp.Meter("teamcart/webhook").Int64Counter("teamcart.webhook.events",
		metric.WithDescription("Payment webhook deliveries by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "webhook events counter")
	}
	return &Reconciler{
		uow:      uow,
		cache:    cache,
		tracer:   tp.Tracer("teamcart/webhook"),
		outcomes: outcomes,
		now:      time.Now,
	}, nil
}

// WithClock replaces the time source.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Handle records ev in the processed-event ledger and applies it in the same
// transaction. An error means nothing was recorded and the gateway should
// redeliver; this happens when the payment has not been committed yet.
func (r *Reconciler) Handle(ctx context.Context, ev Event) (outcome Outcome, rerr error) {
	ctx, span := r.tracer.Start(ctx, "webhook.Handle", trace.WithAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.event_type", ev.Type),
	))
	defer func() {
		label := string(outcome)
		if rerr != nil {
			label = "error"
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.SetAttributes(attribute.String("webhook.outcome", label))
		r.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", label)))
		span.End()
	}()

	lg := zctx.From(ctx).With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
	cartID := teamcart.CartID(ev.Metadata[MetaCartID])
	user := teamcart.UserID(ev.Metadata[MetaUserID])

	err := r.uow.Do(ctx, func(ctx context.Context, tx service.Repositories) error {
		first, err := tx.Ledger().MarkProcessed(ctx, ev.ID, ev.Type)
		if err != nil {
			return errors.Wrap(err, "mark processed")
		}
		if !first {
			outcome = OutcomeDuplicate
			return nil
		}
		if (ev.Type != EventPaymentSucceeded && ev.Type != EventPaymentFailed) || cartID == "" || user == "" {
			outcome = OutcomeIgnored
			return nil
		}

		c, err := tx.TeamCarts().GetForUpdate(ctx, cartID)
		switch {
		case errors.Is(err, teamcart.ErrNotFound):
			outcome = OutcomeIgnored
			return nil
		case err != nil:
			return err
		}

		now := r.now()
		if ev.Type == EventPaymentSucceeded {
			err = r.recordSuccess(lg, c, user, ev, now)
		} else {
			err = c.RecordFailedOnlinePayment(user, ev.ObjectID, now)
		}
		switch {
		case err == nil:
			outcome = OutcomeApplied
		case errors.Is(err, teamcart.ErrPaymentNotFound):
			return err
		case errors.Is(err, teamcart.ErrCartExpired):
			outcome = OutcomeRejected
		case domainerr.KindOf(err) != domainerr.KindUnknown:
			lg.Warn("Webhook rejected", zap.String("teamcart_id", string(cartID)), zap.Error(err))
			outcome = OutcomeRejected
			return nil
		default:
			return err
		}
		return service.SaveCart(ctx, tx, c, now)
	})
	if err != nil {
		return "", err
	}

	if outcome == OutcomeApplied || outcome == OutcomeRejected {
		if err := r.invalidate(ctx, cartID); err != nil {
			lg.Warn("Cache invalidation failed", zap.Error(err))
		}
	}
	lg.Info("Webhook processed", zap.String("outcome", string(outcome)))
	return outcome, nil
}

// recordSuccess checks the external amount against the member's share
// re-derived from item ownership before recording the payment.
func (r *Reconciler) recordSuccess(lg *zap.Logger, c *teamcart.TeamCart, user teamcart.UserID, ev Event, now time.Time) error {
	expected, err := c.ExpectedAmountFor(user)
	if err != nil {
		return err
	}
	paid := money.New(ev.Amount, ev.Currency)
	if !paid.Equal(expected) {
		lg.Error("Webhook amount does not match member share",
			zap.String("teamcart_id", string(c.ID())),
			zap.String("user_id", string(user)),
			zap.Stringer("expected", expected),
			zap.Stringer("paid", paid),
		)
		return teamcart.ErrAmountMismatch
	}
	return c.RecordSuccessfulOnlinePayment(user, paid, ev.ObjectID, now)
}

func (r *Reconciler) invalidate(ctx context.Context, id teamcart.CartID) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, id)
}
