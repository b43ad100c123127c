package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/pricing"
	"ticket-service/internal/store"

	"github.com/shopspring/decimal"
)

// CouponService decides whether a coupon can be applied for a purchaser.
type CouponService struct {
	repo store.Repository
	now  func() time.Time
}

// NewCouponService creates a new coupon service
func NewCouponService(repo store.Repository) *CouponService {
	return &CouponService{repo: repo, now: time.Now}
}

// ValidateCouponRequest asks for a discount preview.
type ValidateCouponRequest struct {
	Code     string          `json:"code" binding:"required"`
	EventID  string          `json:"eventId" binding:"required"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Items    []CartItem      `json:"items,omitempty"`
}

// ValidateCouponResponse is the preview result. Reason is set when Valid is
// false.
type ValidateCouponResponse struct {
	Valid       bool            `json:"valid"`
	Reason      string          `json:"reason,omitempty"`
	Discount    decimal.Decimal `json:"discount"`
	FinalAmount decimal.Decimal `json:"finalAmount"`
}

func rejectCoupon(code, reason string) *models.CouponError {
	return &models.CouponError{Code: code, Reason: reason}
}

// Eligibility checks coupon against the event, the purchaser's redemption
// history and the order subtotal.
func (s *CouponService) Eligibility(ctx context.Context, coupon *models.Coupon, eventID, userID string, subtotal decimal.Decimal, now time.Time) error {
	switch {
	case !coupon.Active:
		return rejectCoupon(coupon.Code, models.CouponReasonInactive)
	case now.Before(coupon.ValidFrom):
		return rejectCoupon(coupon.Code, models.CouponReasonNotStarted)
	case !now.Before(coupon.ValidUntil):
		return rejectCoupon(coupon.Code, models.CouponReasonExpired)
	case !coupon.AppliesToEvent(eventID):
		return rejectCoupon(coupon.Code, models.CouponReasonEventMismatch)
	case coupon.MinOrderAmount != nil && subtotal.LessThan(*coupon.MinOrderAmount):
		return rejectCoupon(coupon.Code, models.CouponReasonBelowMinimum)
	case coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit:
		return rejectCoupon(coupon.Code, models.CouponReasonUsageExhausted)
	}

	if coupon.PerUserLimit != nil {
		used, err := s.repo.CountCouponRedemptions(ctx, coupon.Code, userID)
		if err != nil {
			return fmt.Errorf("failed to count redemptions: %w", err)
		}
		if used >= *coupon.PerUserLimit {
			return rejectCoupon(coupon.Code, models.CouponReasonUserLimitReached)
		}
	}
	return nil
}

// Resolve loads code and returns it only if it is eligible.
func (s *CouponService) Resolve(ctx context.Context, code, eventID, userID string, subtotal decimal.Decimal, now time.Time) (*models.Coupon, error) {
	coupon, err := s.repo.GetCoupon(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, rejectCoupon(code, models.CouponReasonNotFound)
		}
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}

	if err := s.Eligibility(ctx, coupon, eventID, userID, subtotal, now); err != nil {
		return nil, err
	}
	return coupon, nil
}

// Validate previews a coupon. With items the cart is priced against the
// catalog; without them Subtotal is treated as a single unit.
func (s *CouponService) Validate(ctx context.Context, userID string, req *ValidateCouponRequest) (*ValidateCouponResponse, error) {
	if req.Code == "" || req.EventID == "" {
		return nil, models.NewValidationError("coupon", "code and eventId are required")
	}

	var lines []pricing.LineItem
	if len(req.Items) > 0 {
		items, err := mergeCart(req.Items)
		if err != nil {
			return nil, err
		}
		types, err := loadCart(ctx, s.repo, req.EventID, items)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			lines = append(lines, pricing.LineItem{UnitPrice: types[it.TicketTypeID].Price, Quantity: it.Quantity})
		}
	} else {
		if req.Subtotal.IsNegative() {
			return nil, models.NewValidationError("subtotal", "must not be negative")
		}
		lines = []pricing.LineItem{{UnitPrice: req.Subtotal, Quantity: 1}}
	}

	now := s.now()
	subtotal := pricing.Subtotal(lines)

	coupon, err := s.Resolve(ctx, req.Code, req.EventID, userID, subtotal, now)
	if err != nil {
		var cerr *models.CouponError
		if errors.As(err, &cerr) {
			return &ValidateCouponResponse{
				Valid:       false,
				Reason:      cerr.Reason,
				Discount:    decimal.Zero,
				FinalAmount: subtotal,
			}, nil
		}
		return nil, err
	}

	quote := pricing.Price(lines, coupon, now)
	return &ValidateCouponResponse{
		Valid:       true,
		Discount:    quote.Discount,
		FinalAmount: quote.Total(),
	}, nil
}
