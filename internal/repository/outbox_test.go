package repository

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/teamcart/internal/outbox"
)

func TestOutboxRepository(t *testing.T) {
	mock := newMock(t)
	repo := NewOutboxRepository(mock)
	ctx := context.Background()

	msg, err := outbox.NewMessage("teamcart", "c1", "TeamCartCreated", map[string]string{"teamcart_id": "c1"}, t0)
	require.NoError(t, err)

	mock.ExpectExec(appendOutboxSQL).
		WithArgs(msg.ID, "teamcart", "c1", "TeamCartCreated", msg.Payload, t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.Append(ctx, msg))

	mock.ExpectQuery(pendingOutboxSQL).WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "payload", "created_at"}).
			AddRow(msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, msg.CreatedAt))
	pending, err := repo.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msg, pending[0])

	mock.ExpectExec(markOutboxPublishedSQL).WithArgs(msg.ID, t0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.MarkPublished(ctx, msg.ID, t0))

	require.NoError(t, mock.ExpectationsWereMet())
}
