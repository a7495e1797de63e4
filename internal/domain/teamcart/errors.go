package teamcart

import "github.com/xenking/teamcart/internal/domain/domainerr"

// Business rule violations. Compare with errors.Is.
var (
	ErrNotFound  = domainerr.New(domainerr.KindNotFound, "teamcart_not_found", "team cart not found")
	ErrNotMember = domainerr.New(domainerr.KindForbidden, "not_a_member", "user is not a member of this team cart")
	ErrNotHost   = domainerr.New(domainerr.KindForbidden, "only_host", "only the host can perform this action")

	ErrCartClosed           = domainerr.New(domainerr.KindConflict, "cart_closed", "team cart no longer accepts member or item changes")
	ErrFinancialTermsFrozen = domainerr.New(domainerr.KindConflict, "financial_terms_frozen", "tip and coupon can only change while the cart is locked")
	ErrCartExpired          = domainerr.New(domainerr.KindConflict, "cart_expired", "team cart has expired")
	ErrInvalidStatus        = domainerr.New(domainerr.KindConflict, "invalid_status", "operation not allowed in the current cart status")
	ErrAlreadyConverted     = domainerr.New(domainerr.KindConflict, "already_converted", "team cart has already been converted")
	ErrNotReadyToConfirm    = domainerr.New(domainerr.KindConflict, "not_ready_to_confirm", "team cart is not ready to confirm")

	ErrEmptyName          = domainerr.New(domainerr.KindValidation, "empty_name", "display name is required")
	ErrRestaurantRequired = domainerr.New(domainerr.KindValidation, "restaurant_required", "restaurant is required")
	ErrInvalidJoinToken   = domainerr.New(domainerr.KindValidation, "invalid_join_token", "invalid join token")
	ErrJoinTokenExpired   = domainerr.New(domainerr.KindValidation, "join_token_expired", "join token has expired")
	ErrAlreadyMember      = domainerr.New(domainerr.KindConflict, "already_member", "user is already a member of this team cart")
	ErrHostCannotLeave    = domainerr.New(domainerr.KindValidation, "host_cannot_leave", "the host cannot leave the team cart")
	ErrDeadlineInPast     = domainerr.New(domainerr.KindValidation, "deadline_in_past", "deadline must be in the future")
	ErrDeadlineNotReached = domainerr.New(domainerr.KindConflict, "deadline_not_reached", "deadline has not elapsed")

	ErrInvalidQuantity      = domainerr.New(domainerr.KindValidation, "invalid_quantity", "quantity must be greater than 0")
	ErrEmptyCustomization   = domainerr.New(domainerr.KindValidation, "empty_customization", "customization name is required")
	ErrNegativeItemPrice    = domainerr.New(domainerr.KindValidation, "negative_item_price", "customizations must not bring the item price below zero")
	ErrItemNotFound         = domainerr.New(domainerr.KindNotFound, "item_not_found", "item not found in team cart")
	ErrNotItemOwner         = domainerr.New(domainerr.KindForbidden, "not_item_owner", "only the member who added the item can change it")
	ErrRestaurantMismatch   = domainerr.New(domainerr.KindValidation, "restaurant_mismatch", "menu item belongs to another restaurant")
	ErrEmptyCart            = domainerr.New(domainerr.KindValidation, "empty_cart", "team cart has no items")
	ErrNegativeTip          = domainerr.New(domainerr.KindValidation, "negative_tip", "tip must not be negative")
	ErrCouponAlreadyApplied = domainerr.New(domainerr.KindConflict, "coupon_already_applied", "a coupon is already applied")
	ErrNoCouponApplied      = domainerr.New(domainerr.KindConflict, "no_coupon_applied", "no coupon is applied")

	ErrStaleQuote              = domainerr.New(domainerr.KindConflict, "stale_quote", "quote version is stale, refetch the cart")
	ErrAmountMismatch          = domainerr.New(domainerr.KindValidation, "amount_mismatch", "amount does not match the quoted amount")
	ErrAlreadyReadyToConfirm   = domainerr.New(domainerr.KindConflict, "already_ready_to_confirm", "team cart is already ready to confirm")
	ErrNothingToPay            = domainerr.New(domainerr.KindValidation, "nothing_to_pay", "member has nothing to pay")
	ErrInvalidPaymentMethod    = domainerr.New(domainerr.KindValidation, "invalid_payment_method", "unknown payment method")
	ErrPaymentNotFound         = domainerr.New(domainerr.KindNotFound, "payment_not_found", "member payment not found")
	ErrNotOnlinePayment        = domainerr.New(domainerr.KindConflict, "not_online_payment", "member payment is not an online payment")
	ErrPaymentAlreadySucceeded = domainerr.New(domainerr.KindConflict, "payment_already_succeeded", "member payment has already succeeded")
	ErrPaymentTotalMismatch    = domainerr.New(domainerr.KindConflict, "payment_total_mismatch", "member payments do not add up to the grand total")
)
