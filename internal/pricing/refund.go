package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundPercent returns the share of the booking total returned on
// cancellation: 100 at 48h or more before the event, 50 at 24h or more,
// nothing after that.
func RefundPercent(now, eventStart time.Time) int {
	hours := eventStart.Sub(now).Hours()
	switch {
	case hours >= 48:
		return 100
	case hours >= 24:
		return 50
	default:
		return 0
	}
}

// RefundAmount applies RefundPercent to total.
func RefundAmount(total decimal.Decimal, now, eventStart time.Time) decimal.Decimal {
	pct := RefundPercent(now, eventStart)
	return total.Mul(decimal.NewFromInt(int64(pct))).Div(hundred).Round(2)
}
