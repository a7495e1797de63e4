package repository

import (
	"context"
	"fmt"

	"github.com/xenking/teamcart/internal/service"
)

const markWebhookProcessedSQL = `INSERT INTO processed_webhook_events (event_id, event_type)
	VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`

var _ service.Ledger = (*LedgerRepository)(nil)

// LedgerRepository records processed gateway event ids.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository returns a LedgerRepository that uses db.
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// MarkProcessed inserts eventID and reports whether it was new.
func (r *LedgerRepository) MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := r.db.Exec(ctx, markWebhookProcessedSQL, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("recording webhook event %q: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}
