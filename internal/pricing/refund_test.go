package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefundPercentBoundaries(t *testing.T) {
	start := now.Add(72 * time.Hour)

	tests := []struct {
		hoursBefore float64
		want        int
	}{
		{72, 100},
		{48, 100},
		{47.99, 50},
		{30, 50},
		{24, 50},
		{23.5, 0},
		{10, 0},
		{-5, 0},
	}
	for _, tt := range tests {
		at := start.Add(-time.Duration(tt.hoursBefore * float64(time.Hour)))
		assert.Equal(t, tt.want, RefundPercent(at, start), "hours before: %v", tt.hoursBefore)
	}
}

func TestRefundAmount(t *testing.T) {
	start := now.Add(30 * time.Hour)
	assertAmount(t, 175, RefundAmount(dec(350), now, start))
	assertAmount(t, 350, RefundAmount(dec(350), now, now.Add(48*time.Hour)))
	assertAmount(t, 0, RefundAmount(dec(350), now, now.Add(10*time.Hour)))
}
