package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator resolves a coupon and computes its discount for a set of items.
type Validator interface {
	ValidateCode(ctx context.Context, code string, items []Item) (*Rule, Discount, error)
	ValidateID(ctx context.Context, id ID, items []Item) (*Rule, Discount, error)
}

// RepoValidator implements Validator by looking up coupon rules from a
// Repository and applying them via Apply. It does not look at usage counts:
// exhaustion is only decided when a usage is reserved.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// ValidateCode looks up the coupon by code, checks its validity window and
// applies it to items.
func (v *RepoValidator) ValidateCode(ctx context.Context, code string, items []Item) (*Rule, Discount, error) {
	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, Discount{}, lookupErr(err)
	}
	return v.check(rule, items)
}

// ValidateID is ValidateCode for an already applied coupon.
func (v *RepoValidator) ValidateID(ctx context.Context, id ID, items []Item) (*Rule, Discount, error) {
	rule, err := v.repo.FindByID(ctx, id)
	if err != nil {
		return nil, Discount{}, lookupErr(err)
	}
	return v.check(rule, items)
}

func (v *RepoValidator) check(rule *Rule, items []Item) (*Rule, Discount, error) {
	now := v.now()
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return nil, Discount{}, ErrCouponExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return nil, Discount{}, ErrCouponExpired
	}

	d, err := Apply(rule, items)
	if err != nil {
		return nil, Discount{}, err
	}
	return rule, d, nil
}

func lookupErr(err error) error {
	if errors.Is(err, ErrInvalidCoupon) {
		return ErrInvalidCoupon
	}
	return errors.Wrap(err, "lookup coupon")
}
