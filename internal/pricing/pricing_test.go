package pricing

import (
	"testing"
	"time"

	"ticket-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func assertAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "want %d, got %s", want, got)
}

func coupon(kind string, value int64) *models.Coupon {
	return &models.Coupon{
		Code:       "TEST",
		Kind:       kind,
		Value:      dec(value),
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(time.Hour),
		Active:     true,
	}
}

func flat(price int64, qty int) []LineItem {
	return []LineItem{{UnitPrice: dec(price), Quantity: qty}}
}

func TestSubtotal(t *testing.T) {
	items := []LineItem{
		{UnitPrice: dec(1000), Quantity: 2},
		{UnitPrice: decimal.RequireFromString("499.50"), Quantity: 1},
	}
	assert.True(t, Subtotal(items).Equal(decimal.RequireFromString("2499.50")))
}

func TestPriceWithoutCoupon(t *testing.T) {
	q := Price(flat(100, 4), nil, now)
	assertAmount(t, 400, q.Subtotal)
	assertAmount(t, 0, q.Discount)
	assertAmount(t, 400, q.Total())
}

func TestPercentAndFixed(t *testing.T) {
	tests := []struct {
		name   string
		coupon *models.Coupon
		want   int64
	}{
		{"ten percent", coupon(models.CouponPercent, 10), 40},
		{"fixed fifty", coupon(models.CouponFixed, 50), 50},
		{"fixed above subtotal", coupon(models.CouponFixed, 500), 400},
		{"early bird", coupon(models.CouponEarlyBird, 25), 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Price(flat(100, 4), tt.coupon, now)
			assertAmount(t, tt.want, q.Discount)
		})
	}
}

func TestPercentRounding(t *testing.T) {
	// 333 * 15% = 49.95
	q := Price(flat(333, 1), coupon(models.CouponPercent, 15), now)
	assertAmount(t, 50, q.Discount)
}

func TestGroupDiscount(t *testing.T) {
	q := Price(flat(100, 6), coupon(models.CouponGroup, 6), now)
	assertAmount(t, 100, q.Discount)

	q = Price(flat(100, 5), coupon(models.CouponGroup, 6), now)
	assertAmount(t, 0, q.Discount)
}

func TestGroupDiscountTakesCheapestUnits(t *testing.T) {
	items := []LineItem{
		{UnitPrice: dec(500), Quantity: 3},
		{UnitPrice: dec(200), Quantity: 2},
		{UnitPrice: dec(300), Quantity: 1},
	}
	// 6 units, group of 3 -> two free units: 200 + 200
	q := Price(items, coupon(models.CouponGroup, 3), now)
	assertAmount(t, 400, q.Discount)
}

func TestBOGO(t *testing.T) {
	q := Price(flat(100, 2), coupon(models.CouponBOGO, 0), now)
	assertAmount(t, 100, q.Discount)

	items := []LineItem{
		{UnitPrice: dec(300), Quantity: 1},
		{UnitPrice: dec(150), Quantity: 1},
		{UnitPrice: dec(100), Quantity: 1},
	}
	q = Price(items, coupon(models.CouponBOGO, 0), now)
	assertAmount(t, 100, q.Discount)
}

func TestCouponGates(t *testing.T) {
	inactive := coupon(models.CouponPercent, 10)
	inactive.Active = false
	assertAmount(t, 0, Price(flat(100, 4), inactive, now).Discount)

	expired := coupon(models.CouponPercent, 10)
	expired.ValidUntil = now
	assertAmount(t, 0, Price(flat(100, 4), expired, now).Discount)

	early := coupon(models.CouponEarlyBird, 10)
	early.ValidFrom = now.Add(time.Minute)
	assertAmount(t, 0, Price(flat(100, 4), early, now).Discount)

	min := dec(500)
	belowMin := coupon(models.CouponFixed, 50)
	belowMin.MinOrderAmount = &min
	assertAmount(t, 0, Price(flat(100, 4), belowMin, now).Discount)
	assertAmount(t, 50, Price(flat(100, 5), belowMin, now).Discount)
}

func TestMaxDiscountCap(t *testing.T) {
	limit := dec(30)
	c := coupon(models.CouponPercent, 50)
	c.MaxDiscount = &limit
	assertAmount(t, 30, Price(flat(100, 4), c, now).Discount)
}

func TestPriceIsDeterministicAndBounded(t *testing.T) {
	coupons := []*models.Coupon{
		nil,
		coupon(models.CouponPercent, 150),
		coupon(models.CouponFixed, 10_000),
		coupon(models.CouponGroup, 1),
		coupon(models.CouponGroup, 0),
		coupon(models.CouponBOGO, 0),
		coupon(models.CouponPercent, -20),
	}
	items := []LineItem{
		{UnitPrice: dec(120), Quantity: 3},
		{UnitPrice: dec(80), Quantity: 2},
	}
	for _, c := range coupons {
		first := Price(items, c, now)
		second := Price(items, c, now)
		assert.True(t, first.Subtotal.Equal(second.Subtotal))
		assert.True(t, first.Discount.Equal(second.Discount))
		assert.False(t, first.Discount.IsNegative())
		assert.True(t, first.Discount.LessThanOrEqual(first.Subtotal))
	}
}
