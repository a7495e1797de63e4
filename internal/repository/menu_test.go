package repository

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/teamcart/internal/domain/menu"
)

func TestMenuRepository_GetByID(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(getMenuItemByIDSQL).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "restaurant_id", "name", "category", "price", "available", "options"}).
			AddRow("m1", "r1", "Margherita", "pizza", decimal.RequireFromString("9.50"), true,
				[]byte(`[{"name":"extra cheese","price_adjustment":"1.25"}]`)))

	item, err := NewMenuRepository(mock).GetByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "r1", item.RestaurantID)
	assert.True(t, item.Available)
	require.Len(t, item.Options, 1)
	assert.Equal(t, "extra cheese", item.Options[0].Name)
	assert.True(t, decimal.RequireFromString("1.25").Equal(item.Options[0].PriceAdjustment))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMenuRepository_GetByIDMissing(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(getMenuItemByIDSQL).
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows([]string{"id", "restaurant_id", "name", "category", "price", "available", "options"}))

	_, err := NewMenuRepository(mock).GetByID(context.Background(), "nope")
	require.ErrorIs(t, err, menu.ErrNotFound)
}

func TestMenuRepository_Upsert(t *testing.T) {
	mock := newMock(t)
	price := decimal.NewFromInt(8)
	mock.ExpectExec(upsertMenuItemSQL).
		WithArgs("m2", "r1", "Salad", "sides", price, false, []byte(`[]`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := NewMenuRepository(mock).Upsert(context.Background(), menu.Item{
		ID: "m2", RestaurantID: "r1", Name: "Salad", Category: "sides", Price: price,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
