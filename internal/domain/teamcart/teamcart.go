// Package teamcart implements the TeamCart aggregate: a cart built jointly by
// several members against one restaurant, billed by item ownership and
// converted into a single order once every member's payment is resolved.
//
// All mutation goes through methods on *TeamCart. Methods take the current
// time explicitly and queue domain events that the caller drains with
// PullEvents after persisting the cart.
package teamcart

import (
	"crypto/subtle"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/teamcart/internal/domain/coupon"
	"github.com/xenking/teamcart/internal/domain/money"
)

// DefaultJoinTokenTTL is used when CreateParams.JoinTokenTTL is zero.
const DefaultJoinTokenTTL = 24 * time.Hour

// DiscountFunc computes the discount the applied coupon grants for items.
type DiscountFunc func(items []coupon.Item) (decimal.Decimal, error)

// CouponResolver validates a coupon against items and returns the reference
// to store along with the discount it grants.
type CouponResolver func(items []coupon.Item) (AppliedCoupon, decimal.Decimal, error)

// AppliedCoupon references the coupon applied to a cart.
type AppliedCoupon struct {
	ID   coupon.ID `json:"id"`
	Code string    `json:"code"`
}

// CreateParams holds the input for New.
type CreateParams struct {
	// ID is generated when empty.
	ID           CartID
	RestaurantID RestaurantID
	HostUserID   UserID
	HostName     string
	Currency     money.Currency
	Deadline     *time.Time
	JoinTokenTTL time.Duration
}

// TeamCart is the aggregate root.
type TeamCart struct {
	id           CartID
	restaurantID RestaurantID
	hostMemberID MemberID
	currency     money.Currency
	status       Status
	createdAt    time.Time
	deadline     *time.Time
	joinToken    JoinToken

	members  []Member
	items    []Item
	payments []Payment

	tip          money.Money
	coupon       *AppliedCoupon
	quoteVersion int64
	quote        *Quote

	pending []Event
}

// New opens a cart with the host as its first member.
func New(p CreateParams, now time.Time) (*TeamCart, error) {
	name := strings.TrimSpace(p.HostName)
	if name == "" {
		return nil, ErrEmptyName
	}
	if p.RestaurantID == "" {
		return nil, ErrRestaurantRequired
	}
	if p.HostUserID == "" {
		return nil, ErrNotMember
	}
	if p.Deadline != nil && !p.Deadline.After(now) {
		return nil, ErrDeadlineInPast
	}
	if p.ID == "" {
		p.ID = NewCartID()
	}
	if p.Currency == "" {
		p.Currency = money.USD
	}
	ttl := p.JoinTokenTTL
	if ttl <= 0 {
		ttl = DefaultJoinTokenTTL
	}

	host := Member{
		ID:       newMemberID(),
		UserID:   p.HostUserID,
		Name:     name,
		Role:     RoleHost,
		JoinedAt: now,
	}
	c := &TeamCart{
		id:           p.ID,
		restaurantID: p.RestaurantID,
		hostMemberID: host.ID,
		currency:     p.Currency,
		status:       StatusOpen,
		createdAt:    now,
		deadline:     p.Deadline,
		joinToken:    JoinToken{Value: newJoinToken(), ExpiresAt: now.Add(ttl)},
		members:      []Member{host},
		tip:          money.Zero(p.Currency),
	}
	c.raise(Created{
		Meta:         c.meta(now),
		RestaurantID: c.restaurantID,
		HostMemberID: host.ID,
		HostUserID:   host.UserID,
		Deadline:     p.Deadline,
	})
	return c, nil
}

func (c *TeamCart) ID() CartID                 { return c.id }
func (c *TeamCart) RestaurantID() RestaurantID { return c.restaurantID }
func (c *TeamCart) HostMemberID() MemberID     { return c.hostMemberID }
func (c *TeamCart) Currency() money.Currency   { return c.currency }
func (c *TeamCart) Status() Status             { return c.status }
func (c *TeamCart) CreatedAt() time.Time       { return c.createdAt }
func (c *TeamCart) Deadline() *time.Time       { return c.deadline }
func (c *TeamCart) JoinToken() JoinToken       { return c.joinToken }
func (c *TeamCart) Members() []Member          { return slices.Clone(c.members) }
func (c *TeamCart) Items() []Item              { return slices.Clone(c.items) }
func (c *TeamCart) Payments() []Payment        { return slices.Clone(c.payments) }
func (c *TeamCart) Tip() money.Money           { return c.tip }
func (c *TeamCart) QuoteVersion() int64        { return c.quoteVersion }

// Coupon returns the applied coupon, if any.
func (c *TeamCart) Coupon() (AppliedCoupon, bool) {
	if c.coupon == nil {
		return AppliedCoupon{}, false
	}
	return *c.coupon, true
}

// Quote returns the last finalized quote, if any.
func (c *TeamCart) Quote() (Quote, bool) {
	if c.quote == nil {
		return Quote{}, false
	}
	return *c.quote, true
}

// Host returns the host member.
func (c *TeamCart) Host() Member {
	m, _ := c.member(c.hostMemberID)
	return *m
}

// MemberByUser returns the member for userID.
func (c *TeamCart) MemberByUser(userID UserID) (Member, bool) {
	for _, m := range c.members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// HostUserID returns the user behind the host member.
func (c *TeamCart) HostUserID() UserID {
	return c.Host().UserID
}

// CouponItems converts cart lines for discount calculation.
func (c *TeamCart) CouponItems() []coupon.Item {
	out := make([]coupon.Item, len(c.items))
	for i, it := range c.items {
		out[i] = it.couponItem()
	}
	return out
}

// Subtotal is the sum of all line totals.
func (c *TeamCart) Subtotal() money.Money {
	total := money.Zero(c.currency)
	for _, it := range c.items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// PullEvents returns and clears the queued events.
func (c *TeamCart) PullEvents() []Event {
	ev := c.pending
	c.pending = nil
	return ev
}

// Join adds the user as a member when token matches the cart's join token.
func (c *TeamCart) Join(userID UserID, name, token string, now time.Time) (Member, error) {
	if err := c.observe(now); err != nil {
		return Member{}, err
	}
	if c.status != StatusOpen {
		return Member{}, ErrCartClosed
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Member{}, ErrEmptyName
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(c.joinToken.Value)) != 1 {
		return Member{}, ErrInvalidJoinToken
	}
	if c.joinToken.expired(now) {
		return Member{}, ErrJoinTokenExpired
	}
	if _, ok := c.MemberByUser(userID); ok {
		return Member{}, ErrAlreadyMember
	}

	m := Member{
		ID:       newMemberID(),
		UserID:   userID,
		Name:     name,
		Role:     RoleMember,
		JoinedAt: now,
	}
	c.members = append(c.members, m)
	c.raise(MemberJoined{Meta: c.meta(now), MemberID: m.ID, UserID: userID, Name: name})
	return m, nil
}

// Leave removes a non-host member together with their items.
func (c *TeamCart) Leave(userID UserID, now time.Time) error {
	m, err := c.openMember(userID, now)
	if err != nil {
		return err
	}
	if m.IsHost() {
		return ErrHostCannotLeave
	}

	var removed []ItemID
	c.items = slices.DeleteFunc(c.items, func(it Item) bool {
		if it.OwnerID == m.ID {
			removed = append(removed, it.ID)
			return true
		}
		return false
	})
	c.members = slices.DeleteFunc(c.members, func(o Member) bool { return o.ID == m.ID })
	c.raise(MemberLeft{Meta: c.meta(now), MemberID: m.ID, UserID: userID, RemovedItems: removed})
	return nil
}

// AddItem appends a line owned by the acting member.
func (c *TeamCart) AddItem(userID UserID, snap MenuSnapshot, quantity int, customizations []Customization, now time.Time) (Item, error) {
	m, err := c.openMember(userID, now)
	if err != nil {
		return Item{}, err
	}
	if quantity <= 0 {
		return Item{}, ErrInvalidQuantity
	}
	if err := snap.BasePrice.Check(c.currency); err != nil {
		return Item{}, err
	}
	for _, cu := range customizations {
		if strings.TrimSpace(cu.Name) == "" {
			return Item{}, ErrEmptyCustomization
		}
		if err := cu.PriceAdjustment.Check(c.currency); err != nil {
			return Item{}, err
		}
	}

	it := Item{
		ID:             newItemID(),
		OwnerID:        m.ID,
		Menu:           snap,
		Quantity:       quantity,
		Customizations: slices.Clone(customizations),
		AddedAt:        now,
	}
	if it.UnitPrice().IsNegative() {
		return Item{}, ErrNegativeItemPrice
	}
	c.items = append(c.items, it)
	c.raise(ItemAdded{
		Meta:       c.meta(now),
		ItemID:     it.ID,
		MemberID:   m.ID,
		MenuItemID: snap.MenuItemID,
		Quantity:   quantity,
		LineTotal:  it.LineTotal(),
	})
	return it, nil
}

// UpdateItemQuantity changes the quantity of a line the actor owns.
func (c *TeamCart) UpdateItemQuantity(userID UserID, itemID ItemID, quantity int, now time.Time) error {
	m, err := c.openMember(userID, now)
	if err != nil {
		return err
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	idx, err := c.ownedItem(m, itemID)
	if err != nil {
		return err
	}

	old := c.items[idx].Quantity
	c.items[idx].Quantity = quantity
	c.raise(ItemQuantityUpdated{
		Meta:        c.meta(now),
		ItemID:      itemID,
		MemberID:    m.ID,
		OldQuantity: old,
		NewQuantity: quantity,
	})
	return nil
}

// RemoveItem deletes a line the actor owns.
func (c *TeamCart) RemoveItem(userID UserID, itemID ItemID, now time.Time) error {
	m, err := c.openMember(userID, now)
	if err != nil {
		return err
	}
	idx, err := c.ownedItem(m, itemID)
	if err != nil {
		return err
	}

	c.items = slices.Delete(c.items, idx, idx+1)
	c.raise(ItemRemoved{Meta: c.meta(now), ItemID: itemID, MemberID: m.ID})
	return nil
}

// SetDeadline moves the expiry deadline. Allowed while Open or Locked.
func (c *TeamCart) SetDeadline(userID UserID, deadline time.Time, now time.Time) error {
	if err := c.observe(now); err != nil {
		return err
	}
	if c.status != StatusOpen && c.status != StatusLocked {
		return ErrInvalidStatus
	}
	if err := c.requireHost(userID); err != nil {
		return err
	}
	if !deadline.After(now) {
		return ErrDeadlineInPast
	}

	c.deadline = &deadline
	c.raise(DeadlineUpdated{Meta: c.meta(now), Deadline: deadline})
	return nil
}

// LockForPayment freezes members and items.
func (c *TeamCart) LockForPayment(userID UserID, now time.Time) error {
	if err := c.observe(now); err != nil {
		return err
	}
	if c.status != StatusOpen {
		return ErrInvalidStatus
	}
	if err := c.requireHost(userID); err != nil {
		return err
	}
	if len(c.members) == 0 || len(c.items) == 0 {
		return ErrEmptyCart
	}

	c.status = StatusLocked
	c.raise(LockedForPayment{Meta: c.meta(now)})
	return nil
}

// ApplyTip sets the tip shared by all members.
func (c *TeamCart) ApplyTip(userID UserID, tip money.Money, now time.Time) error {
	if err := c.lockedHost(userID, now); err != nil {
		return err
	}
	if err := tip.Check(c.currency); err != nil {
		return err
	}
	if tip.IsNegative() {
		return ErrNegativeTip
	}

	c.tip = tip.Round()
	c.raise(TipApplied{Meta: c.meta(now), Tip: c.tip})
	return nil
}

// ApplyCoupon attaches a coupon after checking it against the current items.
func (c *TeamCart) ApplyCoupon(userID UserID, resolve CouponResolver, now time.Time) error {
	if err := c.lockedHost(userID, now); err != nil {
		return err
	}
	if c.coupon != nil {
		return ErrCouponAlreadyApplied
	}
	applied, amount, err := resolve(c.CouponItems())
	if err != nil {
		return err
	}

	c.coupon = &applied
	c.raise(CouponApplied{
		Meta:     c.meta(now),
		CouponID: applied.ID,
		Code:     applied.Code,
		Discount: money.New(amount, c.currency).Round(),
	})
	return nil
}

// RemoveCoupon detaches the applied coupon.
func (c *TeamCart) RemoveCoupon(userID UserID, now time.Time) error {
	if err := c.lockedHost(userID, now); err != nil {
		return err
	}
	if c.coupon == nil {
		return ErrNoCouponApplied
	}

	id := c.coupon.ID
	c.coupon = nil
	c.raise(CouponRemoved{Meta: c.meta(now), CouponID: id})
	return nil
}

// FinalizePricing computes the per-member quote and bumps QuoteVersion.
// discount is consulted only when a coupon is applied.
func (c *TeamCart) FinalizePricing(userID UserID, discount DiscountFunc, now time.Time) (Quote, error) {
	if err := c.observe(now); err != nil {
		return Quote{}, err
	}
	if c.status != StatusLocked {
		return Quote{}, ErrInvalidStatus
	}
	if err := c.requireHost(userID); err != nil {
		return Quote{}, err
	}

	d := money.Zero(c.currency)
	if c.coupon != nil {
		if discount == nil {
			return Quote{}, errors.Errorf("coupon %s applied but no discount calculator given", c.coupon.Code)
		}
		amount, err := discount(c.CouponItems())
		if err != nil {
			return Quote{}, err
		}
		d = money.New(amount, c.currency)
	}

	q := computeQuote(c.currency, c.members, c.items, d, c.tip)
	c.quoteVersion++
	q.Version = c.quoteVersion
	c.quote = &q
	c.status = StatusFinalized

	c.raise(PricingFinalized{
		Meta:         c.meta(now),
		QuoteVersion: q.Version,
		Subtotal:     q.Subtotal,
		Discount:     q.Discount,
		Tip:          q.Tip,
		GrandTotal:   q.GrandTotal,
	})
	c.raise(QuoteUpdated{Meta: c.meta(now), QuoteVersion: q.Version, MemberAmounts: q.MemberAmounts})
	c.maybeReady(now)
	return q, nil
}

// CommitToPayment records how the member pays their quoted share.
// expectedVersion must equal the current QuoteVersion.
func (c *TeamCart) CommitToPayment(userID UserID, method PaymentMethod, amount money.Money, expectedVersion int64, now time.Time) (Payment, error) {
	if err := c.observe(now); err != nil {
		return Payment{}, err
	}
	switch c.status {
	case StatusFinalized:
	case StatusReadyToConfirm:
		return Payment{}, ErrAlreadyReadyToConfirm
	default:
		return Payment{}, ErrInvalidStatus
	}
	m, ok := c.MemberByUser(userID)
	if !ok {
		return Payment{}, ErrNotMember
	}
	if expectedVersion != c.quoteVersion {
		return Payment{}, ErrStaleQuote
	}
	if !method.Valid() {
		return Payment{}, ErrInvalidPaymentMethod
	}
	if err := amount.Check(c.currency); err != nil {
		return Payment{}, err
	}
	quoted := c.quote.AmountFor(m.ID)
	if !quoted.IsPositive() {
		return Payment{}, ErrNothingToPay
	}
	if !amount.Equal(quoted) {
		return Payment{}, ErrAmountMismatch
	}

	status := PaymentPending
	if method == MethodCashOnDelivery {
		status = PaymentCommitted
	}

	p := c.payment(m.ID)
	switch {
	case p == nil:
		c.payments = append(c.payments, Payment{
			MemberID:  m.ID,
			UserID:    userID,
			CreatedAt: now,
		})
		p = &c.payments[len(c.payments)-1]
	case p.Status == PaymentSucceeded:
		return Payment{}, ErrPaymentAlreadySucceeded
	}
	p.Method = method
	p.Status = status
	p.Amount = quoted
	p.TransactionID = ""
	p.UpdatedAt = now
	out := *p

	c.raise(MemberCommittedToPayment{
		Meta:         c.meta(now),
		MemberID:     m.ID,
		UserID:       userID,
		Method:       method,
		Amount:       quoted,
		QuoteVersion: c.quoteVersion,
	})
	c.maybeReady(now)
	return out, nil
}

// RecordSuccessfulOnlinePayment marks the member's online payment as paid.
// A repeated success with the same transaction id is a no-op.
func (c *TeamCart) RecordSuccessfulOnlinePayment(userID UserID, amount money.Money, transactionID string, now time.Time) error {
	p, err := c.onlinePayment(userID, now)
	if err != nil {
		return err
	}
	if p.Status == PaymentSucceeded {
		if p.TransactionID == transactionID {
			return nil
		}
		return ErrPaymentAlreadySucceeded
	}
	if !amount.Equal(p.Amount) {
		return ErrAmountMismatch
	}

	p.Status = PaymentSucceeded
	p.TransactionID = transactionID
	p.UpdatedAt = now
	c.raise(OnlinePaymentSucceeded{
		Meta:          c.meta(now),
		MemberID:      p.MemberID,
		UserID:        p.UserID,
		Amount:        p.Amount,
		TransactionID: transactionID,
	})
	c.maybeReady(now)
	return nil
}

// RecordFailedOnlinePayment marks the member's online payment as failed. The
// member may commit again while the cart is Finalized.
func (c *TeamCart) RecordFailedOnlinePayment(userID UserID, transactionID string, now time.Time) error {
	p, err := c.onlinePayment(userID, now)
	if err != nil {
		return err
	}
	switch p.Status {
	case PaymentSucceeded:
		return ErrPaymentAlreadySucceeded
	case PaymentFailed:
		if p.TransactionID == transactionID {
			return nil
		}
	}

	p.Status = PaymentFailed
	p.TransactionID = transactionID
	p.UpdatedAt = now
	c.raise(OnlinePaymentFailed{
		Meta:          c.meta(now),
		MemberID:      p.MemberID,
		UserID:        p.UserID,
		TransactionID: transactionID,
	})
	return nil
}

// ExpectedAmountFor re-derives the member's share from item ownership and the
// stored financial terms, independently of the recorded quote amounts.
func (c *TeamCart) ExpectedAmountFor(userID UserID) (money.Money, error) {
	m, ok := c.MemberByUser(userID)
	if !ok {
		return money.Money{}, ErrNotMember
	}
	if c.quote == nil {
		return money.Money{}, ErrInvalidStatus
	}
	q := computeQuote(c.currency, c.members, c.items, c.quote.Discount, c.tip)
	return q.AmountFor(m.ID), nil
}

// PaymentSplit sums resolved payments by method.
func (c *TeamCart) PaymentSplit() (online, cashOnDelivery money.Money) {
	online, cashOnDelivery = money.Zero(c.currency), money.Zero(c.currency)
	for _, p := range c.payments {
		if !p.Status.Resolved() {
			continue
		}
		switch p.Method {
		case MethodOnline:
			online = online.Add(p.Amount)
		case MethodCashOnDelivery:
			cashOnDelivery = cashOnDelivery.Add(p.Amount)
		}
	}
	return online, cashOnDelivery
}

// ValidatePaymentTotals checks that resolved payments cover the grand total
// exactly.
func (c *TeamCart) ValidatePaymentTotals() error {
	if c.quote == nil {
		return ErrPaymentTotalMismatch
	}
	online, cod := c.PaymentSplit()
	if !online.Add(cod).Equal(c.quote.GrandTotal) {
		return ErrPaymentTotalMismatch
	}
	return nil
}

// MarkConverted closes the cart after its order has been created.
func (c *TeamCart) MarkConverted(userID UserID, orderID string, now time.Time) error {
	if err := c.observe(now); err != nil {
		return err
	}
	switch c.status {
	case StatusReadyToConfirm:
	case StatusConverted:
		return ErrAlreadyConverted
	default:
		return ErrNotReadyToConfirm
	}
	if err := c.requireHost(userID); err != nil {
		return err
	}
	if err := c.ValidatePaymentTotals(); err != nil {
		return err
	}

	c.status = StatusConverted
	c.raise(Converted{Meta: c.meta(now), OrderID: orderID})
	return nil
}

// Expire moves a non-terminal cart past its deadline to Expired.
func (c *TeamCart) Expire(now time.Time) error {
	if c.status.Terminal() {
		return ErrInvalidStatus
	}
	if c.deadline == nil || now.Before(*c.deadline) {
		return ErrDeadlineNotReached
	}
	c.expire(now)
	return nil
}

// observe applies lazy expiry. It returns ErrCartExpired when the cart is or
// just became expired; in the latter case a TeamCartExpired event is queued
// and the caller must persist the cart.
func (c *TeamCart) observe(now time.Time) error {
	if c.status == StatusExpired {
		return ErrCartExpired
	}
	if c.status.Terminal() {
		return nil
	}
	if c.deadline != nil && !now.Before(*c.deadline) {
		c.expire(now)
		return ErrCartExpired
	}
	return nil
}

func (c *TeamCart) expire(now time.Time) {
	c.status = StatusExpired
	c.raise(Expired{Meta: c.meta(now)})
}

func (c *TeamCart) maybeReady(now time.Time) {
	if c.status != StatusFinalized || c.quote == nil {
		return
	}
	for _, m := range c.members {
		if !c.quote.AmountFor(m.ID).IsPositive() {
			continue
		}
		p := c.payment(m.ID)
		if p == nil || !p.Status.Resolved() {
			return
		}
	}

	c.status = StatusReadyToConfirm
	online, cod := c.PaymentSplit()
	c.raise(ReadyForConfirmation{
		Meta:           c.meta(now),
		Total:          c.quote.GrandTotal,
		OnlineTotal:    online,
		CashOnDelivery: cod,
	})
}

func (c *TeamCart) openMember(userID UserID, now time.Time) (Member, error) {
	if err := c.observe(now); err != nil {
		return Member{}, err
	}
	if c.status != StatusOpen {
		return Member{}, ErrCartClosed
	}
	m, ok := c.MemberByUser(userID)
	if !ok {
		return Member{}, ErrNotMember
	}
	return m, nil
}

func (c *TeamCart) lockedHost(userID UserID, now time.Time) error {
	if err := c.observe(now); err != nil {
		return err
	}
	if c.status != StatusLocked {
		return ErrFinancialTermsFrozen
	}
	return c.requireHost(userID)
}

func (c *TeamCart) requireHost(userID UserID) error {
	m, ok := c.MemberByUser(userID)
	if !ok {
		return ErrNotMember
	}
	if !m.IsHost() {
		return ErrNotHost
	}
	return nil
}

func (c *TeamCart) onlinePayment(userID UserID, now time.Time) (*Payment, error) {
	if err := c.observe(now); err != nil {
		return nil, err
	}
	if c.status != StatusFinalized && c.status != StatusReadyToConfirm {
		return nil, ErrInvalidStatus
	}
	m, ok := c.MemberByUser(userID)
	if !ok {
		return nil, ErrNotMember
	}
	p := c.payment(m.ID)
	if p == nil {
		return nil, ErrPaymentNotFound
	}
	if p.Method != MethodOnline {
		return nil, ErrNotOnlinePayment
	}
	return p, nil
}

func (c *TeamCart) ownedItem(m Member, itemID ItemID) (int, error) {
	idx := slices.IndexFunc(c.items, func(it Item) bool { return it.ID == itemID })
	if idx < 0 {
		return -1, ErrItemNotFound
	}
	if c.items[idx].OwnerID != m.ID {
		return -1, ErrNotItemOwner
	}
	return idx, nil
}

func (c *TeamCart) member(id MemberID) (*Member, bool) {
	for i := range c.members {
		if c.members[i].ID == id {
			return &c.members[i], true
		}
	}
	return nil, false
}

func (c *TeamCart) payment(id MemberID) *Payment {
	for i := range c.payments {
		if c.payments[i].MemberID == id {
			return &c.payments[i]
		}
	}
	return nil
}

func (c *TeamCart) meta(now time.Time) Meta {
	return Meta{CartID: c.id, OccurredAt: now}
}

func (c *TeamCart) raise(e Event) {
	c.pending = append(c.pending, e)
}
