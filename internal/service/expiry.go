package service

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/teamcart/internal/domain/teamcart"
)

// Expiry periodically expires carts whose deadline has elapsed. Commands
// still expire carts lazily; the sweeper only makes the transition visible
// for carts nobody touches.
type Expiry struct {
	uow      UnitOfWork
	cache    CartCache
	interval time.Duration
	batch    int
	now      func() time.Time
}

// NewExpiry creates an Expiry sweeper. cache may be nil.
func NewExpiry(uow UnitOfWork, cache CartCache, interval time.Duration, batch int) *Expiry {
	if cache == nil {
		cache = nopCache{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Expiry{uow: uow, cache: cache, interval: interval, batch: batch, now: time.Now}
}

// WithClock replaces the time source.
func (e *Expiry) WithClock(now func() time.Time) *Expiry {
	e.now = now
	return e
}

// Run sweeps on every tick until ctx is done.
func (e *Expiry) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("expiry")
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := e.Sweep(ctx)
			if err != nil {
				lg.Error("Sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Info("Expired team carts", zap.Int("count", n))
			}
		}
	}
}

// Sweep expires one batch of overdue carts, each in its own transaction, and
// returns how many were expired.
func (e *Expiry) Sweep(ctx context.Context) (int, error) {
	now := e.now()

	var ids []teamcart.CartID
	if err := e.uow.Do(ctx, func(ctx context.Context, tx Repositories) (err error) {
		ids, err = tx.TeamCarts().ListExpired(ctx, now, e.batch)
		return err
	}); err != nil {
		return 0, errors.Wrap(err, "list expired")
	}

	expired := 0
	for _, id := range ids {
		done, err := e.expire(ctx, id, now)
		if err != nil {
			return expired, errors.Wrapf(err, "expire %s", id)
		}
		if done {
			expired++
		}
	}
	return expired, nil
}

func (e *Expiry) expire(ctx context.Context, id teamcart.CartID, now time.Time) (bool, error) {
	var done bool
	err := e.uow.Do(ctx, func(ctx context.Context, tx Repositories) error {
		c, err := tx.TeamCarts().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		// A command may have converted the cart or moved its deadline since
		// it was listed.
		if err := c.Expire(now); err != nil {
			if errors.Is(err, teamcart.ErrInvalidStatus) || errors.Is(err, teamcart.ErrDeadlineNotReached) {
				return nil
			}
			return err
		}
		done = true
		return SaveCart(ctx, tx, c, now)
	})
	if err != nil || !done {
		return false, err
	}
	if err := e.cache.Delete(ctx, id); err != nil {
		zctx.From(ctx).Warn("Cache invalidation failed", zap.Error(err))
	}
	return true, nil
}
