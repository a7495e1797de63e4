// Package service runs TeamCart commands inside transactions, converts carts
// into orders and expires carts past their deadline.
package service

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/teamcart/internal/domain/coupon"
	"github.com/xenking/teamcart/internal/domain/order"
	"github.com/xenking/teamcart/internal/domain/teamcart"
	"github.com/xenking/teamcart/internal/outbox"
)

// AggregateTeamCart is the outbox aggregate type of cart events.
const AggregateTeamCart = "teamcart"

// TeamCartRepository persists carts.
type TeamCartRepository interface {
	Get(ctx context.Context, id teamcart.CartID) (*teamcart.TeamCart, error)
	// GetForUpdate loads the cart and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id teamcart.CartID) (*teamcart.TeamCart, error)
	Create(ctx context.Context, c *teamcart.TeamCart) error
	Update(ctx context.Context, c *teamcart.TeamCart) error
	// ListExpired returns non-terminal carts whose deadline is at or before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]teamcart.CartID, error)
}

// Ledger records processed gateway events.
type Ledger interface {
	// MarkProcessed returns false when eventID was already recorded.
	MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

// Repositories are bound to one transaction.
type Repositories interface {
	TeamCarts() TeamCartRepository
	Coupons() coupon.Repository
	Orders() order.Repository
	Outbox() outbox.Writer
	Ledger() Ledger
}

// UnitOfWork runs fn in a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}

// CartCache caches cart snapshots for reads. A reader takes a Lease before
// loading the cart; Set with that lease is a no-op once Delete has run for the
// same cart in between.
type CartCache interface {
	Get(ctx context.Context, id teamcart.CartID) (*teamcart.Snapshot, error)
	Lease(ctx context.Context, id teamcart.CartID) (int64, error)
	Set(ctx context.Context, s *teamcart.Snapshot, lease int64) error
	Delete(ctx context.Context, id teamcart.CartID) error
}

type nopCache struct{}

func (nopCache) Get(context.Context, teamcart.CartID) (*teamcart.Snapshot, error) {
	return nil, errors.New("cache disabled")
}

func (nopCache) Lease(context.Context, teamcart.CartID) (int64, error) { return 0, nil }
func (nopCache) Set(context.Context, *teamcart.Snapshot, int64) error { return nil }
func (nopCache) Delete(context.Context, teamcart.CartID) error { return nil }

// SaveCart updates the cart and appends its queued events to the outbox in
// the same transaction.
func SaveCart(ctx context.Context, tx Repositories, c *teamcart.TeamCart, now time.Time) error {
	if err := tx.TeamCarts().Update(ctx, c); err != nil {
		return errors.Wrap(err, "update teamcart")
	}
	return appendEvents(ctx, tx, c, now)
}

func appendEvents(ctx context.Context, tx Repositories, c *teamcart.TeamCart, now time.Time) error {
	events := c.PullEvents()
	if len(events) == 0 {
		return nil
	}
	msgs := make([]outbox.Message, 0, len(events))
	for _, e := range events {
		m, err := outbox.NewMessage(AggregateTeamCart, string(e.AggregateID()), e.EventName(), e, now)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	if err := tx.Outbox().Append(ctx, msgs...); err != nil {
		return errors.Wrap(err, "append outbox")
	}
	return nil
}
