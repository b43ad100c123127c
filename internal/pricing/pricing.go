// Package pricing computes booking prices and refund amounts. Everything here
// is pure: no I/O, no clocks, no counters.
package pricing

import (
	"sort"
	"time"

	"ticket-service/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LineItem is the pricing view of a cart line.
type LineItem struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Quote is the result of pricing a cart.
type Quote struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
}

// Total returns subtotal minus discount.
func (q Quote) Total() decimal.Decimal {
	return q.Subtotal.Sub(q.Discount)
}

// Subtotal sums unit price times quantity over all lines.
func Subtotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Price computes the subtotal and the discount granted by coupon at now.
// The discount is always within [0, subtotal].
func Price(items []LineItem, coupon *models.Coupon, now time.Time) Quote {
	q := Quote{Subtotal: Subtotal(items), Discount: decimal.Zero}
	if coupon == nil || !coupon.Active || !coupon.ValidAt(now) {
		return q
	}

	var discount decimal.Decimal
	switch coupon.Kind {
	case models.CouponPercent, models.CouponEarlyBird:
		discount = q.Subtotal.Mul(coupon.Value).Div(hundred).Round(0)
	case models.CouponFixed:
		discount = decimal.Min(coupon.Value, q.Subtotal)
	case models.CouponGroup:
		discount = cheapestUnits(items, int(coupon.Value.IntPart()))
	case models.CouponBOGO:
		discount = cheapestUnits(items, 2)
	default:
		discount = decimal.Zero
	}

	if coupon.MinOrderAmount != nil && q.Subtotal.LessThan(*coupon.MinOrderAmount) {
		discount = decimal.Zero
	}
	if coupon.MaxDiscount != nil {
		discount = decimal.Min(discount, *coupon.MaxDiscount)
	}
	discount = decimal.Min(discount, q.Subtotal)
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	q.Discount = discount
	return q
}

// cheapestUnits implements "buy N-1 get 1 free": one unit in every groupSize
// is free, and the free units are always the cheapest ones.
func cheapestUnits(items []LineItem, groupSize int) decimal.Decimal {
	if groupSize < 1 {
		return decimal.Zero
	}

	var units []decimal.Decimal
	for _, it := range items {
		for i := 0; i < it.Quantity; i++ {
			units = append(units, it.UnitPrice)
		}
	}

	free := len(units) / groupSize
	if free == 0 {
		return decimal.Zero
	}

	sort.Slice(units, func(i, j int) bool { return units[i].LessThan(units[j]) })

	sum := decimal.Zero
	for _, u := range units[:free] {
		sum = sum.Add(u)
	}
	return sum
}
