package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/teamcart/internal/domain/coupon"
)

const couponColumns = `id, code, discount_type, value, scope_type, scope_menu_item_ids, scope_categories,
		min_items, max_discount, description, valid_from, valid_until, max_uses, uses, per_user_limit`

const (
	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1) AND active = TRUE`

	getCouponByIDSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE id = $1`

	reserveCouponUseSQL = `UPDATE coupons SET uses = uses + 1
		WHERE id = $1 AND (max_uses = 0 OR uses < max_uses)
		RETURNING uses`

	reserveCouponUserUseSQL = `INSERT INTO coupon_user_usages (coupon_id, user_id, uses)
		VALUES ($1, $2, 1)
		ON CONFLICT (coupon_id, user_id) DO UPDATE SET uses = coupon_user_usages.uses + 1
		WHERE coupon_user_usages.uses < $3::int
		RETURNING uses`

	upsertCouponSQL = `INSERT INTO coupons (id, code, discount_type, value, scope_type, scope_menu_item_ids,
		scope_categories, min_items, max_discount, description, valid_from, valid_until, max_uses, per_user_limit, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
			scope_type = EXCLUDED.scope_type, scope_menu_item_ids = EXCLUDED.scope_menu_item_ids,
			scope_categories = EXCLUDED.scope_categories, min_items = EXCLUDED.min_items,
			max_discount = EXCLUDED.max_discount, description = EXCLUDED.description,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
			max_uses = EXCLUDED.max_uses, per_user_limit = EXCLUDED.per_user_limit, active = TRUE`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	db DBTX
}

// NewCouponRepository returns a CouponRepository that uses db.
func NewCouponRepository(db DBTX) *CouponRepository {
	return &CouponRepository{db: db}
}

// FindByCode looks up an active coupon by its code (case-insensitive).
// Returns coupon.ErrInvalidCoupon when no matching active coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	return r.find(ctx, getCouponByCodeSQL, code)
}

// FindByID looks up a coupon by id, active or not.
func (r *CouponRepository) FindByID(ctx context.Context, id coupon.ID) (*coupon.Rule, error) {
	return r.find(ctx, getCouponByIDSQL, string(id))
}

func (r *CouponRepository) find(ctx context.Context, query, key string) (*coupon.Rule, error) {
	rows, err := r.db.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", key, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon %q: %w", key, err)
	}
	return &rule, nil
}

// FinalizeUsage takes one global use and, when perUserLimit is set, one use
// for userID. Both are conditional writes; false means a limit was reached.
// Run it inside a transaction so a failed per-user reservation rolls back
// the global one.
func (r *CouponRepository) FinalizeUsage(ctx context.Context, id coupon.ID, userID string, perUserLimit int) (bool, error) {
	var uses int32
	if err := r.db.QueryRow(ctx, reserveCouponUseSQL, string(id)).Scan(&uses); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("reserving coupon %q: %w", id, err)
	}
	if perUserLimit <= 0 {
		return true, nil
	}

	if err := r.db.QueryRow(ctx, reserveCouponUserUseSQL, string(id), userID, perUserLimit).Scan(&uses); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("reserving coupon %q for user %q: %w", id, userID, err)
	}
	return true, nil
}

// Upsert inserts rule or replaces its definition, keeping the recorded uses.
func (r *CouponRepository) Upsert(ctx context.Context, rule coupon.Rule) error {
	if _, err := r.db.Exec(ctx, upsertCouponSQL, upsertCouponArgs(rule)...); err != nil {
		return fmt.Errorf("upserting coupon %q: %w", rule.Code, err)
	}
	return nil
}

// UpsertBatch upserts rules in one round trip.
func (r *CouponRepository) UpsertBatch(ctx context.Context, rules []coupon.Rule) error {
	batch := &pgx.Batch{}
	for _, rule := range rules {
		batch.Queue(upsertCouponSQL, upsertCouponArgs(rule)...)
	}
	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d coupons: %w", len(rules), err)
	}
	return nil
}

func upsertCouponArgs(rule coupon.Rule) []any {
	items, categories := rule.Scope.MenuItemIDs, rule.Scope.Categories
	if items == nil {
		items = []string{}
	}
	if categories == nil {
		categories = []string{}
	}
	scope := rule.Scope.Type
	if scope == "" {
		scope = coupon.ScopeWholeOrder
	}
	return []any{
		string(rule.ID), rule.Code, string(rule.DiscountType), rule.Value, string(scope), items, categories,
		int32(rule.MinItems), rule.MaxDiscount, rule.Description, rule.ValidFrom, rule.ValidUntil,
		int32(rule.MaxUses), int32(rule.PerUserLimit),
	}
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		id           string
		discountType string
		scopeType    string
		value        decimal.Decimal
		minItems     int32
		maxDiscount  decimal.Decimal
		validFrom    *time.Time
		validUntil   *time.Time
		maxUses      int32
		uses         int32
		perUserLimit int32
	)
	err := row.Scan(
		&id, &rule.Code, &discountType, &value, &scopeType, &rule.Scope.MenuItemIDs, &rule.Scope.Categories,
		&minItems, &maxDiscount, &rule.Description, &validFrom, &validUntil, &maxUses, &uses, &perUserLimit,
	)
	rule.ID = coupon.ID(id)
	rule.DiscountType = coupon.DiscountType(discountType)
	rule.Scope.Type = coupon.ScopeType(scopeType)
	rule.Value = value
	rule.MinItems = int(minItems)
	rule.MaxDiscount = maxDiscount
	rule.ValidFrom = validFrom
	rule.ValidUntil = validUntil
	rule.MaxUses = int(maxUses)
	rule.Uses = int(uses)
	rule.PerUserLimit = int(perUserLimit)
	return rule, err
}
