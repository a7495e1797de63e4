package teamcart

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/teamcart/internal/domain/money"
)

// Quote is a finalized pricing snapshot. Member amounts always add up to
// GrandTotal exactly.
type Quote struct {
	Version       int64                    `json:"version"`
	Subtotal      money.Money              `json:"subtotal"`
	Discount      money.Money              `json:"discount"`
	Tip           money.Money              `json:"tip"`
	GrandTotal    money.Money              `json:"grand_total"`
	MemberAmounts map[MemberID]money.Money `json:"member_amounts"`
}

// AmountFor returns the quoted share of a member, zero when absent.
func (q Quote) AmountFor(id MemberID) money.Money {
	if a, ok := q.MemberAmounts[id]; ok {
		return a
	}
	return money.Zero(q.GrandTotal.Currency)
}

// computeQuote splits the bill by item ownership. Each member pays for what
// they added plus a share of the discount and tip proportional to their part
// of the subtotal. The rounding residue goes to the host when the host owns a
// priced item and can absorb it, otherwise to the member with the largest
// subtotal (first in join order on ties).
func computeQuote(c money.Currency, members []Member, items []Item, discount, tip money.Money) Quote {
	subtotal := money.Zero(c)
	owned := make(map[MemberID]money.Money, len(members))
	for _, m := range members {
		owned[m.ID] = money.Zero(c)
	}
	for _, it := range items {
		lt := it.LineTotal()
		subtotal = subtotal.Add(lt)
		owned[it.OwnerID] = owned[it.OwnerID].Add(lt)
	}

	discount = discount.Clamp(money.Zero(c), subtotal).Round()
	tip = tip.Round()
	grand := subtotal.Sub(discount).Add(tip).Round()

	amounts := make(map[MemberID]money.Money, len(members))
	quoted := money.Zero(c)
	for _, m := range members {
		share := money.Zero(c)
		if ms := owned[m.ID]; subtotal.IsPositive() {
			fraction := ms.Amount.Div(subtotal.Amount)
			share = ms.Sub(discount.Mul(fraction)).Add(tip.Mul(fraction)).Round()
		}
		amounts[m.ID] = share
		quoted = quoted.Add(share)
	}

	// Residue is a whole number of cents; hand it out one cent at a time so
	// a negative residue never pushes a share below zero.
	if len(members) > 0 {
		cent := money.New(decimal.New(1, -money.Precision), c)
		residue := grand.Sub(quoted)
		if residue.IsNegative() {
			cent = money.Zero(c).Sub(cent)
		}
		for !residue.IsZero() {
			r := residueRecipient(members, owned, amounts, cent)
			amounts[r] = amounts[r].Add(cent)
			residue = residue.Sub(cent)
		}
	}

	return Quote{
		Subtotal:      subtotal.Round(),
		Discount:      discount,
		Tip:           tip,
		GrandTotal:    grand,
		MemberAmounts: amounts,
	}
}

func residueRecipient(members []Member, owned, amounts map[MemberID]money.Money, cent money.Money) MemberID {
	fits := func(id MemberID) bool { return !amounts[id].Add(cent).IsNegative() }
	for _, m := range members {
		if m.IsHost() && owned[m.ID].IsPositive() && fits(m.ID) {
			return m.ID
		}
	}
	best := members[0].ID
	top := decimal.NewFromInt(-1)
	for _, m := range members {
		if a := owned[m.ID].Amount; a.GreaterThan(top) && fits(m.ID) {
			best, top = m.ID, a
		}
	}
	return best
}
