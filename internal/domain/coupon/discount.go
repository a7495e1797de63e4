package coupon

import (
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Apply calculates the discount the rule grants for the given items. Only
// items inside the rule's scope count towards the minimum item requirement
// and the discounted subtotal. The result never exceeds the eligible subtotal.
func Apply(rule *Rule, items []Item) (Discount, error) {
	eligible, err := eligibleItems(rule.Scope, items)
	if err != nil {
		return Discount{}, err
	}

	if rule.MinItems > 0 && totalQuantity(eligible) < rule.MinItems {
		return Discount{}, &IneligibleError{Code: rule.Code, Reason: "minimum item count not met"}
	}
	if rule.Scope.Type != ScopeWholeOrder && len(eligible) == 0 {
		return Discount{}, &IneligibleError{Code: rule.Code, Reason: "no eligible items"}
	}

	subtotal := calcSubtotal(eligible)

	var amount decimal.Decimal
	switch rule.DiscountType {
	case DiscountPercentage:
		amount = subtotal.Mul(rule.Value).Div(hundred)
	case DiscountFixed:
		amount = decimal.Min(rule.Value, subtotal)
	case DiscountFreeItem:
		amount = findLowestUnitPrice(eligible)
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", rule.DiscountType)
	}

	if rule.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, rule.MaxDiscount)
	}
	amount = decimal.Min(floorAtZero(amount), subtotal)

	return Discount{
		Amount:      amount.Round(2),
		Description: rule.Description,
	}, nil
}

func eligibleItems(scope Scope, items []Item) ([]Item, error) {
	switch scope.Type {
	case ScopeWholeOrder, "":
		return items, nil
	case ScopeSpecificItems:
		return filterItems(items, func(it Item) bool {
			return slices.Contains(scope.MenuItemIDs, it.MenuItemID)
		}), nil
	case ScopeSpecificCategories:
		return filterItems(items, func(it Item) bool {
			return slices.Contains(scope.Categories, it.Category)
		}), nil
	default:
		return nil, errors.Errorf("unsupported coupon scope: %q", scope.Type)
	}
}

func filterItems(items []Item, keep func(Item) bool) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// calcSubtotal returns the sum of unit price * quantity across all items.
func calcSubtotal(items []Item) decimal.Decimal {
	sum := zero
	for _, item := range items {
		sum = sum.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

func totalQuantity(items []Item) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

// findLowestUnitPrice returns the lowest unit price among the given items,
// or zero for no items.
func findLowestUnitPrice(items []Item) decimal.Decimal {
	if len(items) == 0 {
		return zero
	}
	lowest := items[0].UnitPrice
	for _, item := range items[1:] {
		if item.UnitPrice.LessThan(lowest) {
			lowest = item.UnitPrice
		}
	}
	return lowest
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
