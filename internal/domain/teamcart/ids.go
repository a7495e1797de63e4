package teamcart

import "github.com/google/uuid"

type (
	// CartID identifies a TeamCart.
	CartID string
	// MemberID identifies a member inside one cart.
	MemberID string
	// ItemID identifies a cart line.
	ItemID string
	// UserID is the authenticated user behind a member.
	UserID string
	// RestaurantID references the restaurant the cart orders from.
	RestaurantID string
)

// NewCartID returns a random cart id.
func NewCartID() CartID { return CartID(uuid.NewString()) }

func newMemberID() MemberID { return MemberID(uuid.NewString()) }

func newItemID() ItemID { return ItemID(uuid.NewString()) }

func newJoinToken() string {
	return uuid.NewString()
}
