// Package menu describes restaurant menu items as seen by the cart at the
// moment an item is added.
package menu

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/teamcart/internal/domain/domainerr"
)

var (
	// ErrNotFound is returned when a requested menu item does not exist.
	ErrNotFound = domainerr.New(domainerr.KindNotFound, "menu_item_not_found", "menu item not found")
	// ErrUnavailable is returned when a menu item is switched off.
	ErrUnavailable = domainerr.New(domainerr.KindConflict, "menu_item_unavailable", "menu item is unavailable")
	// ErrUnknownCustomization is returned when a selection names no offered option.
	ErrUnknownCustomization = domainerr.New(domainerr.KindValidation, "unknown_customization", "customization is not offered for this item")
)

// Item is a restaurant menu entry.
type Item struct {
	ID           string
	RestaurantID string
	Name         string
	Category     string
	Price        decimal.Decimal
	Available    bool
	Options      []Option
}

// Option is a customization offered for a menu item.
type Option struct {
	Name            string          `json:"name"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
}

// Option returns the offered option with the given name.
func (i *Item) Option(name string) (Option, bool) {
	for _, o := range i.Options {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// Repository defines read operations for the menu catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Item, error)
}
