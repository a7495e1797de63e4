package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRepository_MarkProcessed(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock)
	ctx := context.Background()

	mock.ExpectExec(markWebhookProcessedSQL).WithArgs("evt_1", "payment_intent.succeeded").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(markWebhookProcessedSQL).WithArgs("evt_1", "payment_intent.succeeded").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(markWebhookProcessedSQL).WithArgs("evt_2", "payment_intent.succeeded").
		WillReturnError(errors.New("connection reset"))

	first, err := repo.MarkProcessed(ctx, "evt_1", "payment_intent.succeeded")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = repo.MarkProcessed(ctx, "evt_1", "payment_intent.succeeded")
	require.NoError(t, err)
	assert.False(t, first)

	_, err = repo.MarkProcessed(ctx, "evt_2", "payment_intent.succeeded")
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
