package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/teamcart/internal/domain/money"
	"github.com/xenking/teamcart/internal/domain/order"
	"github.com/xenking/teamcart/internal/domain/teamcart"
)

const (
	createOrderSQL = `INSERT INTO orders (id, teamcart_id, restaurant_id, host_user_id, status, currency,
		items, delivery_address, subtotal, discount, tip, delivery_fee, tax, total,
		online_amount, cash_on_delivery, coupon_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	getOrderByIDSQL = `SELECT id, teamcart_id, restaurant_id, host_user_id, status, currency,
		items, delivery_address, subtotal, discount, tip, delivery_fee, tax, total,
		online_amount, cash_on_delivery, coupon_code, created_at
		FROM orders WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository returns an OrderRepository that uses db.
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists a new order. Items and address are stored as JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addressJSON, err := json.Marshal(o.DeliveryAddress)
	if err != nil {
		return fmt.Errorf("marshaling delivery address: %w", err)
	}

	_, err = r.db.Exec(ctx, createOrderSQL,
		string(o.ID), string(o.TeamCartID), string(o.RestaurantID), string(o.HostUserID),
		string(o.Status), string(o.Total.Currency), itemsJSON, addressJSON,
		o.Subtotal.Amount, o.Discount.Amount, o.Tip.Amount, o.DeliveryFee.Amount, o.Tax.Amount,
		o.Total.Amount, o.OnlineAmount.Amount, o.CashOnDeliveryAmount.Amount,
		o.CouponCode, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

// GetByID returns a single order.
func (r *OrderRepository) GetByID(ctx context.Context, id order.ID) (*order.Order, error) {
	rows, err := r.db.Query(ctx, getOrderByIDSQL, string(id))
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                        order.Order
		id, cartID, restaurantID, hostUserID     string
		status, currency                         string
		itemsJSON, addressJSON                   []byte
		subtotal, discount, tip, fee, tax, total decimal.Decimal
		online, cod                              decimal.Decimal
		createdAt                                time.Time
	)
	if err := row.Scan(
		&id, &cartID, &restaurantID, &hostUserID, &status, &currency,
		&itemsJSON, &addressJSON, &subtotal, &discount, &tip, &fee, &tax, &total,
		&online, &cod, &o.CouponCode, &createdAt,
	); err != nil {
		return o, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(addressJSON, &o.DeliveryAddress); err != nil {
		return o, fmt.Errorf("unmarshaling delivery address: %w", err)
	}

	c := money.Currency(currency)
	o.ID = order.ID(id)
	o.TeamCartID = teamcart.CartID(cartID)
	o.RestaurantID = teamcart.RestaurantID(restaurantID)
	o.HostUserID = teamcart.UserID(hostUserID)
	o.Status = order.Status(status)
	o.Subtotal = money.New(subtotal, c)
	o.Discount = money.New(discount, c)
	o.Tip = money.New(tip, c)
	o.DeliveryFee = money.New(fee, c)
	o.Tax = money.New(tax, c)
	o.Total = money.New(total, c)
	o.OnlineAmount = money.New(online, c)
	o.CashOnDeliveryAmount = money.New(cod, c)
	o.CreatedAt = createdAt
	return o, nil
}
