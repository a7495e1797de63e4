package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/teamcart/internal/domain/money"
	"github.com/xenking/teamcart/internal/domain/order"
	"github.com/xenking/teamcart/internal/domain/teamcart"
)

type createCartRequest struct {
	RestaurantID string     `json:"restaurant_id"`
	HostName     string     `json:"host_name"`
	Deadline     *time.Time `json:"deadline,omitempty"`
}

type joinCartRequest struct {
	Name      string `json:"name"`
	JoinToken string `json:"join_token"`
}

type addItemRequest struct {
	MenuItemID     string   `json:"menu_item_id"`
	Quantity       int      `json:"quantity"`
	Customizations []string `json:"customizations,omitempty"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

type deadlineRequest struct {
	Deadline time.Time `json:"deadline"`
}

type tipRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type couponRequest struct {
	Code string `json:"code"`
}

type paymentRequest struct {
	Method       teamcart.PaymentMethod `json:"method"`
	Amount       decimal.Decimal        `json:"amount"`
	QuoteVersion int64                  `json:"quote_version"`
}

type convertRequest struct {
	DeliveryAddress order.Address `json:"delivery_address"`
	QuoteVersion    *int64        `json:"quote_version,omitempty"`
}

// cartView is a snapshot as seen by one member. Only the host sees the join
// token.
type cartView struct {
	teamcart.Snapshot
	JoinToken *teamcart.JoinToken `json:"join_token,omitempty"`
}

func newCartView(s *teamcart.Snapshot, viewer teamcart.UserID) cartView {
	v := cartView{Snapshot: *s}
	for _, m := range s.Members {
		if m.ID == s.HostMemberID && m.UserID == viewer {
			token := s.JoinToken
			v.JoinToken = &token
		}
	}
	return v
}

type orderView struct {
	ID                   order.ID              `json:"id"`
	TeamCartID           teamcart.CartID       `json:"teamcart_id"`
	RestaurantID         teamcart.RestaurantID `json:"restaurant_id"`
	Status               order.Status          `json:"status"`
	Items                []order.OrderItem     `json:"items"`
	DeliveryAddress      order.Address         `json:"delivery_address"`
	Subtotal             money.Money           `json:"subtotal"`
	Discount             money.Money           `json:"discount"`
	Tip                  money.Money           `json:"tip"`
	DeliveryFee          money.Money           `json:"delivery_fee"`
	Tax                  money.Money           `json:"tax"`
	Total                money.Money           `json:"total"`
	OnlineAmount         money.Money           `json:"online_amount"`
	CashOnDeliveryAmount money.Money           `json:"cash_on_delivery_amount"`
	CouponCode           string                `json:"coupon_code,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
}

func newOrderView(o *order.Order) orderView {
	return orderView{
		ID:                   o.ID,
		TeamCartID:           o.TeamCartID,
		RestaurantID:         o.RestaurantID,
		Status:               o.Status,
		Items:                o.Items,
		DeliveryAddress:      o.DeliveryAddress,
		Subtotal:             o.Subtotal,
		Discount:             o.Discount,
		Tip:                  o.Tip,
		DeliveryFee:          o.DeliveryFee,
		Tax:                  o.Tax,
		Total:                o.Total,
		OnlineAmount:         o.OnlineAmount,
		CashOnDeliveryAmount: o.CashOnDeliveryAmount,
		CouponCode:           o.CouponCode,
		CreatedAt:            o.CreatedAt,
	}
}
