package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/teamcart/internal/domain/coupon"
	"github.com/xenking/teamcart/internal/domain/order"
	"github.com/xenking/teamcart/internal/outbox"
	"github.com/xenking/teamcart/internal/service"
)

// TxBeginner starts transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var _ service.UnitOfWork = (*UnitOfWork)(nil)

// UnitOfWork runs service callbacks in a read committed transaction. Row
// locks taken by GetForUpdate serialise writers of the same cart.
type UnitOfWork struct {
	db TxBeginner
}

// NewUnitOfWork returns a UnitOfWork that begins transactions on db.
func NewUnitOfWork(db TxBeginner) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx service.Repositories) error) error {
	tx, err := u.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, repositories{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type repositories struct {
	tx DBTX
}

func (r repositories) TeamCarts() service.TeamCartRepository { return NewTeamCartRepository(r.tx) }
func (r repositories) Coupons() coupon.Repository            { return NewCouponRepository(r.tx) }
func (r repositories) Orders() order.Repository              { return NewOrderRepository(r.tx) }
func (r repositories) Outbox() outbox.Writer                 { return NewOutboxRepository(r.tx) }
func (r repositories) Ledger() service.Ledger                { return NewLedgerRepository(r.tx) }
