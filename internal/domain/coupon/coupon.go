// Package coupon holds coupon rules and the discount computation applied to
// cart items. Usage limits are enforced only when a usage is reserved through
// Repository.FinalizeUsage, never while validating.
package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/teamcart/internal/domain/domainerr"
)

// ID identifies a coupon.
type ID string

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage of the eligible subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the eligible subtotal.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeItem removes the cost of one unit of the cheapest eligible item.
	DiscountFreeItem DiscountType = "free_item"
)

// ScopeType enumerates what a coupon applies to.
type ScopeType string

const (
	// ScopeWholeOrder makes every item eligible.
	ScopeWholeOrder ScopeType = "whole_order"
	// ScopeSpecificItems limits eligibility to listed menu items.
	ScopeSpecificItems ScopeType = "specific_items"
	// ScopeSpecificCategories limits eligibility to listed menu categories.
	ScopeSpecificCategories ScopeType = "specific_categories"
)

var (
	// ErrInvalidCoupon is returned when a coupon code or id is unknown or inactive.
	ErrInvalidCoupon = domainerr.New(domainerr.KindValidation, "invalid_coupon", "invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = domainerr.New(domainerr.KindValidation, "coupon_expired", "coupon expired")
	// ErrNotApplicable is returned when the items do not satisfy the coupon.
	ErrNotApplicable = domainerr.New(domainerr.KindValidation, "coupon_not_applicable", "coupon does not apply to these items")
	// ErrUsageLimitReached is returned when reserving a usage finds the pool exhausted.
	ErrUsageLimitReached = domainerr.New(domainerr.KindExhausted, "coupon_usage_limit_reached", "coupon usage limit reached")
)

// IneligibleError explains why a cart does not qualify for a coupon.
type IneligibleError struct {
	Code   string
	Reason string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("coupon %s not applicable: %s", e.Code, e.Reason)
}

func (e *IneligibleError) Unwrap() error {
	return ErrNotApplicable
}

// Scope selects the items a coupon applies to.
type Scope struct {
	Type        ScopeType `json:"type"`
	MenuItemIDs []string  `json:"menu_item_ids,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
}

// Rule defines a coupon's discount behaviour and eligibility constraints.
type Rule struct {
	ID           ID
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	Scope        Scope
	MinItems     int
	MaxDiscount  decimal.Decimal
	Description  string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	// MaxUses and PerUserLimit of zero mean unlimited.
	MaxUses      int
	Uses         int
	PerUserLimit int
}

// Discount holds the computed discount amount and a human-readable description.
type Discount struct {
	Amount      decimal.Decimal
	Description string
}

// Item is a cart line as seen by discount calculation.
type Item struct {
	MenuItemID string
	Category   string
	UnitPrice  decimal.Decimal
	Quantity   int
}

// Repository provides lookup of coupon rules and atomic usage reservation.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	FindByID(ctx context.Context, id ID) (*Rule, error)
	// FinalizeUsage reserves one usage of the coupon for userID. It returns
	// false without side effects when the total or per-user limit is reached.
	// Implementations must make the check and the increment one atomic step.
	FinalizeUsage(ctx context.Context, id ID, userID string, perUserLimit int) (bool, error)
}
