package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/teamcart/internal/outbox"
)

const (
	appendOutboxSQL = `INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	pendingOutboxSQL = `SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox WHERE published_at IS NULL
		ORDER BY seq LIMIT $1`

	markOutboxPublishedSQL = `UPDATE outbox SET published_at = $2 WHERE id = $1`
)

var (
	_ outbox.Writer = (*OutboxRepository)(nil)
	_ outbox.Store  = (*OutboxRepository)(nil)
)

// OutboxRepository writes events in the command transaction and serves
// them to the dispatcher.
type OutboxRepository struct {
	db DBTX
}

// NewOutboxRepository returns an OutboxRepository that uses db.
func NewOutboxRepository(db DBTX) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Append(ctx context.Context, msgs ...outbox.Message) error {
	for _, m := range msgs {
		_, err := r.db.Exec(ctx, appendOutboxSQL,
			m.ID, m.AggregateType, m.AggregateID, m.EventType, m.Payload, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("appending outbox message %s: %w", m.EventType, err)
		}
	}
	return nil
}

func (r *OutboxRepository) Pending(ctx context.Context, limit int) ([]outbox.Message, error) {
	rows, err := r.db.Query(ctx, pendingOutboxSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending outbox messages: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Message, error) {
		var m outbox.Message
		err := row.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload, &m.CreatedAt)
		return m, err
	})
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.db.Exec(ctx, markOutboxPublishedSQL, id, at); err != nil {
		return fmt.Errorf("marking outbox message %s published: %w", id, err)
	}
	return nil
}
