package teamcart

import (
	"time"

	"github.com/xenking/teamcart/internal/domain/coupon"
	"github.com/xenking/teamcart/internal/domain/money"
)

// MenuSnapshot is the menu item as it was when added to the cart.
type MenuSnapshot struct {
	MenuItemID string      `json:"menu_item_id"`
	Name       string      `json:"name"`
	Category   string      `json:"category"`
	BasePrice  money.Money `json:"base_price"`
}

// Customization is a selected option with its price adjustment at add time.
type Customization struct {
	Name            string      `json:"name"`
	PriceAdjustment money.Money `json:"price_adjustment"`
}

// Item is a cart line owned by the member who added it.
type Item struct {
	ID             ItemID          `json:"id"`
	OwnerID        MemberID        `json:"owner_id"`
	Menu           MenuSnapshot    `json:"menu"`
	Quantity       int             `json:"quantity"`
	Customizations []Customization `json:"customizations,omitempty"`
	AddedAt        time.Time       `json:"added_at"`
}

// UnitPrice is the base price plus every customization adjustment.
func (i Item) UnitPrice() money.Money {
	p := i.Menu.BasePrice
	for _, c := range i.Customizations {
		p = p.Add(c.PriceAdjustment)
	}
	return p
}

// LineTotal is UnitPrice times Quantity.
func (i Item) LineTotal() money.Money {
	return i.UnitPrice().MulInt(i.Quantity)
}

func (i Item) couponItem() coupon.Item {
	return coupon.Item{
		MenuItemID: i.Menu.MenuItemID,
		Category:   i.Menu.Category,
		UnitPrice:  i.UnitPrice().Amount,
		Quantity:   i.Quantity,
	}
}
