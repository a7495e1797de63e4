package teamcart

import (
	"time"

	"github.com/xenking/teamcart/internal/domain/money"
)

// PaymentMethod is how a member settles their share.
type PaymentMethod string

const (
	MethodOnline         PaymentMethod = "online"
	MethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	return m == MethodOnline || m == MethodCashOnDelivery
}

// PaymentStatus tracks a member payment.
type PaymentStatus string

const (
	PaymentCommitted PaymentStatus = "committed"
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Resolved reports whether the payment counts towards readiness.
func (s PaymentStatus) Resolved() bool {
	return s == PaymentCommitted || s == PaymentSucceeded
}

// Payment is a member's commitment to pay their quoted share.
type Payment struct {
	MemberID      MemberID      `json:"member_id"`
	UserID        UserID        `json:"user_id"`
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	Amount        money.Money   `json:"amount"`
	TransactionID string        `json:"transaction_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
