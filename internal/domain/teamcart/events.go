package teamcart

import (
	"time"

	"github.com/xenking/teamcart/internal/domain/coupon"
	"github.com/xenking/teamcart/internal/domain/money"
)

// Event names as published to the outbox.
const (
	EventCreated                  = "TeamCartCreated"
	EventMemberJoined             = "MemberJoined"
	EventMemberLeft               = "MemberLeft"
	EventItemAdded                = "ItemAddedToTeamCart"
	EventItemQuantityUpdated      = "ItemQuantityUpdatedInTeamCart"
	EventItemRemoved              = "ItemRemovedFromTeamCart"
	EventDeadlineUpdated          = "TeamCartDeadlineUpdated"
	EventTipApplied               = "TipAppliedToTeamCart"
	EventCouponApplied            = "CouponAppliedToTeamCart"
	EventCouponRemoved            = "CouponRemovedFromTeamCart"
	EventLockedForPayment         = "TeamCartLockedForPayment"
	EventPricingFinalized         = "TeamCartPricingFinalized"
	EventQuoteUpdated             = "TeamCartQuoteUpdated"
	EventMemberCommittedToPayment = "MemberCommittedToPayment"
	EventOnlinePaymentSucceeded   = "OnlinePaymentSucceeded"
	EventOnlinePaymentFailed      = "OnlinePaymentFailed"
	EventReadyForConfirmation     = "TeamCartReadyForConfirmation"
	EventConverted                = "TeamCartConverted"
	EventExpired                  = "TeamCartExpired"
)

// Event is a domain event queued by the aggregate and drained by the
// application layer into the outbox.
type Event interface {
	EventName() string
	AggregateID() CartID
}

// Meta is embedded in every event.
type Meta struct {
	CartID     CartID    `json:"teamcart_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (m Meta) AggregateID() CartID { return m.CartID }

type Created struct {
	Meta
	RestaurantID RestaurantID `json:"restaurant_id"`
	HostMemberID MemberID     `json:"host_member_id"`
	HostUserID   UserID       `json:"host_user_id"`
	Deadline     *time.Time   `json:"deadline,omitempty"`
}

type MemberJoined struct {
	Meta
	MemberID MemberID `json:"member_id"`
	UserID   UserID   `json:"user_id"`
	Name     string   `json:"name"`
}

type MemberLeft struct {
	Meta
	MemberID     MemberID `json:"member_id"`
	UserID       UserID   `json:"user_id"`
	RemovedItems []ItemID `json:"removed_items,omitempty"`
}

type ItemAdded struct {
	Meta
	ItemID     ItemID      `json:"item_id"`
	MemberID   MemberID    `json:"member_id"`
	MenuItemID string      `json:"menu_item_id"`
	Quantity   int         `json:"quantity"`
	LineTotal  money.Money `json:"line_total"`
}

type ItemQuantityUpdated struct {
	Meta
	ItemID      ItemID   `json:"item_id"`
	MemberID    MemberID `json:"member_id"`
	OldQuantity int      `json:"old_quantity"`
	NewQuantity int      `json:"new_quantity"`
}

type ItemRemoved struct {
	Meta
	ItemID   ItemID   `json:"item_id"`
	MemberID MemberID `json:"member_id"`
}

type DeadlineUpdated struct {
	Meta
	Deadline time.Time `json:"deadline"`
}

type TipApplied struct {
	Meta
	Tip money.Money `json:"tip"`
}

type CouponApplied struct {
	Meta
	CouponID coupon.ID   `json:"coupon_id"`
	Code     string      `json:"code"`
	Discount money.Money `json:"discount"`
}

type CouponRemoved struct {
	Meta
	CouponID coupon.ID `json:"coupon_id"`
}

type LockedForPayment struct {
	Meta
}

type PricingFinalized struct {
	Meta
	QuoteVersion int64       `json:"quote_version"`
	Subtotal     money.Money `json:"subtotal"`
	Discount     money.Money `json:"discount"`
	Tip          money.Money `json:"tip"`
	GrandTotal   money.Money `json:"grand_total"`
}

// QuoteUpdated carries the per-member amounts of a new quote version.
type QuoteUpdated struct {
	Meta
	QuoteVersion  int64                    `json:"quote_version"`
	MemberAmounts map[MemberID]money.Money `json:"member_amounts"`
}

type MemberCommittedToPayment struct {
	Meta
	MemberID     MemberID      `json:"member_id"`
	UserID       UserID        `json:"user_id"`
	Method       PaymentMethod `json:"method"`
	Amount       money.Money   `json:"amount"`
	QuoteVersion int64         `json:"quote_version"`
}

type OnlinePaymentSucceeded struct {
	Meta
	MemberID      MemberID    `json:"member_id"`
	UserID        UserID      `json:"user_id"`
	Amount        money.Money `json:"amount"`
	TransactionID string      `json:"transaction_id"`
}

type OnlinePaymentFailed struct {
	Meta
	MemberID      MemberID `json:"member_id"`
	UserID        UserID   `json:"user_id"`
	TransactionID string   `json:"transaction_id"`
}

// ReadyForConfirmation carries the cash-on-delivery sub-total for delivery
// staff at drop-off.
type ReadyForConfirmation struct {
	Meta
	Total          money.Money `json:"total"`
	OnlineTotal    money.Money `json:"online_total"`
	CashOnDelivery money.Money `json:"cash_on_delivery_total"`
}

type Converted struct {
	Meta
	OrderID string `json:"order_id"`
}

type Expired struct {
	Meta
}

func (Created) EventName() string                  { return EventCreated }
func (MemberJoined) EventName() string             { return EventMemberJoined }
func (MemberLeft) EventName() string               { return EventMemberLeft }
func (ItemAdded) EventName() string                { return EventItemAdded }
func (ItemQuantityUpdated) EventName() string      { return EventItemQuantityUpdated }
func (ItemRemoved) EventName() string              { return EventItemRemoved }
func (DeadlineUpdated) EventName() string          { return EventDeadlineUpdated }
func (TipApplied) EventName() string               { return EventTipApplied }
func (CouponApplied) EventName() string            { return EventCouponApplied }
func (CouponRemoved) EventName() string            { return EventCouponRemoved }
func (LockedForPayment) EventName() string         { return EventLockedForPayment }
func (PricingFinalized) EventName() string         { return EventPricingFinalized }
func (QuoteUpdated) EventName() string             { return EventQuoteUpdated }
func (MemberCommittedToPayment) EventName() string { return EventMemberCommittedToPayment }
func (OnlinePaymentSucceeded) EventName() string   { return EventOnlinePaymentSucceeded }
func (OnlinePaymentFailed) EventName() string      { return EventOnlinePaymentFailed }
func (ReadyForConfirmation) EventName() string     { return EventReadyForConfirmation }
func (Converted) EventName() string                { return EventConverted }
func (Expired) EventName() string                  { return EventExpired }
