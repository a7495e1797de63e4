package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Dispatcher polls the outbox and publishes pending messages.
type Dispatcher struct {
	store    Store
	pub      Publisher
	interval time.Duration
	batch    int
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher. Zero interval or batch fall back to
// one second and 100 messages.
func NewDispatcher(store Store, pub Publisher, interval time.Duration, batch int) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Dispatcher{
		store:    store,
		pub:      pub,
		interval: interval,
		batch:    batch,
		now:      time.Now,
	}
}

// Run dispatches on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("outbox")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := d.DispatchOnce(ctx)
			if err != nil {
				lg.Error("Dispatch failed", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Debug("Dispatched", zap.Int("count", n))
			}
		}
	}
}

// DispatchOnce publishes one batch and returns how many messages were
// published. Once a message of an aggregate fails, later messages of the same
// aggregate are held back so per-aggregate order is preserved.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	lg := zctx.From(ctx)

	msgs, err := d.store.Pending(ctx, d.batch)
	if err != nil {
		return 0, errors.Wrap(err, "fetch pending")
	}

	blocked := make(map[string]struct{})
	published := 0
	for _, msg := range msgs {
		if _, ok := blocked[msg.AggregateID]; ok {
			continue
		}
		if err := d.pub.Publish(ctx, msg); err != nil {
			lg.Warn("Publish failed",
				zap.Stringer("id", msg.ID),
				zap.String("event", msg.EventType),
				zap.String("aggregate_id", msg.AggregateID),
				zap.Error(err),
			)
			blocked[msg.AggregateID] = struct{}{}
			continue
		}
		if err := d.store.MarkPublished(ctx, msg.ID, d.now()); err != nil {
			return published, errors.Wrapf(err, "mark %s published", msg.ID)
		}
		published++
	}
	return published, nil
}
