// Package order holds the order aggregate created when a TeamCart converts.
package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/teamcart/internal/domain/domainerr"
	"github.com/xenking/teamcart/internal/domain/money"
	"github.com/xenking/teamcart/internal/domain/teamcart"
)

// ID identifies an order.
type ID string

// NewID returns a random order id.
func NewID() ID { return ID(uuid.NewString()) }

// Status of an order.
type Status string

// StatusConfirmed is the state of an order right after conversion.
const StatusConfirmed Status = "confirmed"

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = domainerr.New(domainerr.KindNotFound, "order_not_found", "order not found")
	// ErrInvalidAddress is returned when the delivery address is incomplete.
	ErrInvalidAddress = domainerr.New(domainerr.KindValidation, "invalid_address", "delivery address requires street and city")
)

// Address is where the order is delivered.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Validate checks the required address fields.
func (a Address) Validate() error {
	if strings.TrimSpace(a.Street) == "" || strings.TrimSpace(a.City) == "" {
		return ErrInvalidAddress
	}
	return nil
}

// Order represents a confirmed order with pricing and payment split.
type Order struct {
	ID              ID
	TeamCartID      teamcart.CartID
	RestaurantID    teamcart.RestaurantID
	HostUserID      teamcart.UserID
	Status          Status
	Items           []OrderItem
	DeliveryAddress Address
	Subtotal        money.Money
	Discount        money.Money
	Tip             money.Money
	DeliveryFee     money.Money
	Tax             money.Money
	Total           money.Money
	// OnlineAmount was collected through the gateway; CashOnDeliveryAmount
	// is due at the door and includes delivery fee and tax.
	OnlineAmount         money.Money
	CashOnDeliveryAmount money.Money
	CouponCode           string
	CreatedAt            time.Time
}

// OrderItem represents a single line item in an order.
type OrderItem struct {
	MenuItemID     string                   `json:"menu_item_id"`
	Name           string                   `json:"name"`
	OwnerUserID    teamcart.UserID          `json:"owner_user_id"`
	Quantity       int                      `json:"quantity"`
	UnitPrice      money.Money              `json:"unit_price"`
	LineTotal      money.Money              `json:"line_total"`
	Customizations []teamcart.Customization `json:"customizations,omitempty"`
}

// Charges are added on top of the cart's grand total.
type Charges struct {
	DeliveryFee money.Money
	Tax         money.Money
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id ID) (*Order, error)
}

// NewFromTeamCart builds order id from a cart whose quote is final.
func NewFromTeamCart(cart *teamcart.TeamCart, id ID, addr Address, charges Charges, now time.Time) (*Order, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	q, ok := cart.Quote()
	if !ok {
		return nil, fmt.Errorf("team cart %s has no quote", cart.ID())
	}
	c := cart.Currency()
	if err := charges.DeliveryFee.Check(c); err != nil {
		return nil, err
	}
	if err := charges.Tax.Check(c); err != nil {
		return nil, err
	}

	owners := make(map[teamcart.MemberID]teamcart.UserID)
	for _, m := range cart.Members() {
		owners[m.ID] = m.UserID
	}
	cartItems := cart.Items()
	items := make([]OrderItem, len(cartItems))
	for i, it := range cartItems {
		items[i] = OrderItem{
			MenuItemID:     it.Menu.MenuItemID,
			Name:           it.Menu.Name,
			OwnerUserID:    owners[it.OwnerID],
			Quantity:       it.Quantity,
			UnitPrice:      it.UnitPrice(),
			LineTotal:      it.LineTotal(),
			Customizations: it.Customizations,
		}
	}

	var code string
	if applied, ok := cart.Coupon(); ok {
		code = applied.Code
	}

	extra := charges.DeliveryFee.Add(charges.Tax)
	online, cod := cart.PaymentSplit()
	return &Order{
		ID:                   id,
		TeamCartID:           cart.ID(),
		RestaurantID:         cart.RestaurantID(),
		HostUserID:           cart.HostUserID(),
		Status:               StatusConfirmed,
		Items:                items,
		DeliveryAddress:      addr,
		Subtotal:             q.Subtotal,
		Discount:             q.Discount,
		Tip:                  q.Tip,
		DeliveryFee:          charges.DeliveryFee,
		Tax:                  charges.Tax,
		Total:                q.GrandTotal.Add(extra),
		OnlineAmount:         online,
		CashOnDeliveryAmount: cod.Add(extra),
		CouponCode:           code,
		CreatedAt:            now,
	}, nil
}
