package teamcart

import (
	"slices"
	"time"

	"github.com/xenking/teamcart/internal/domain/money"
)

// Snapshot is the persisted and cached form of a TeamCart.
type Snapshot struct {
	ID           CartID         `json:"id"`
	RestaurantID RestaurantID   `json:"restaurant_id"`
	HostMemberID MemberID       `json:"host_member_id"`
	Currency     money.Currency `json:"currency"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	Deadline     *time.Time     `json:"deadline,omitempty"`
	JoinToken    JoinToken      `json:"join_token"`
	Members      []Member       `json:"members"`
	Items        []Item         `json:"items"`
	Payments     []Payment      `json:"payments"`
	Tip          money.Money    `json:"tip"`
	Coupon       *AppliedCoupon `json:"coupon,omitempty"`
	QuoteVersion int64          `json:"quote_version"`
	Quote        *Quote         `json:"quote,omitempty"`
}

// Snapshot copies the cart state. Pending events are not included.
func (c *TeamCart) Snapshot() Snapshot {
	s := Snapshot{
		ID:           c.id,
		RestaurantID: c.restaurantID,
		HostMemberID: c.hostMemberID,
		Currency:     c.currency,
		Status:       c.status,
		CreatedAt:    c.createdAt,
		Deadline:     c.deadline,
		JoinToken:    c.joinToken,
		Members:      slices.Clone(c.members),
		Items:        slices.Clone(c.items),
		Payments:     slices.Clone(c.payments),
		Tip:          c.tip,
		QuoteVersion: c.quoteVersion,
	}
	if c.coupon != nil {
		cp := *c.coupon
		s.Coupon = &cp
	}
	if c.quote != nil {
		q := *c.quote
		s.Quote = &q
	}
	return s
}

// At returns the snapshot as observed at now: an active cart whose deadline
// has passed reads as expired even before the expiry is persisted.
func (s Snapshot) At(now time.Time) Snapshot {
	if s.Status.Terminal() || s.Deadline == nil || now.Before(*s.Deadline) {
		return s
	}
	s.Status = StatusExpired
	return s
}

// Restore rebuilds a cart from a snapshot without queuing events.
func Restore(s Snapshot) *TeamCart {
	c := &TeamCart{
		id:           s.ID,
		restaurantID: s.RestaurantID,
		hostMemberID: s.HostMemberID,
		currency:     s.Currency,
		status:       s.Status,
		createdAt:    s.CreatedAt,
		deadline:     s.Deadline,
		joinToken:    s.JoinToken,
		members:      slices.Clone(s.Members),
		items:        slices.Clone(s.Items),
		payments:     slices.Clone(s.Payments),
		tip:          s.Tip,
		coupon:       s.Coupon,
		quoteVersion: s.QuoteVersion,
		quote:        s.Quote,
	}
	if c.tip.Currency == "" {
		c.tip = money.Zero(c.currency)
	}
	return c
}
