package discount

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
)

// DiscountService validates and calculates discounts against a cart subtotal.
type DiscountService struct {
	logger *logger.Logger
	now    func() time.Time
}

func NewDiscountService(log *logger.Logger) *DiscountService {
	return &DiscountService{logger: log, now: time.Now}
}

// WithClock replaces the clock used for the active window.
func (s *DiscountService) WithClock(now func() time.Time) *DiscountService {
	s.now = now
	return s
}

// ApplyDiscountResult represents the result of applying a discount
type ApplyDiscountResult struct {
	IsValid        bool   // Whether the discount is valid and applicable
	DiscountAmount int64  // Minor units to take off the subtotal
	Reason         string // Why the discount was not applied
}

// ValidateAndCalculateDiscount checks the discount against the subtotal in minor units.
// A nil discount is a valid zero discount.
func (s *DiscountService) ValidateAndCalculateDiscount(discount *models.Discount, subtotal int64) (*ApplyDiscountResult, error) {
	result := &ApplyDiscountResult{}

	if discount == nil {
		result.IsValid = true
		return result, nil
	}

	if !discount.Active {
		result.Reason = "Discount is not active"
		return result, nil
	}

	now := s.now()
	if discount.ActiveFrom != nil && now.Before(*discount.ActiveFrom) {
		result.Reason = "Discount is not yet active"
		return result, nil
	}
	if discount.ExpiresAt != nil && !now.Before(*discount.ExpiresAt) {
		result.Reason = "Discount has expired"
		return result, nil
	}

	if discount.MaxUsage != nil && discount.UsageCount >= *discount.MaxUsage {
		result.Reason = "Discount usage limit has been reached"
		return result, nil
	}

	if discount.MinSubtotal != nil && subtotal < *discount.MinSubtotal {
		result.Reason = fmt.Sprintf("Cart subtotal does not meet minimum spend requirement of %d", *discount.MinSubtotal)
		return result, nil
	}

	var amount int64
	switch discount.Type {
	case models.FLAT_OFF:
		if discount.Amount <= 0 {
			return nil, fmt.Errorf("discount %s: amount is required for FLAT_OFF", discount.ID)
		}
		amount = discount.Amount

	case models.PERCENTAGE:
		pct := discount.Percentage
		if !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("discount %s: percentage %s out of range", discount.ID, pct)
		}
		// fractional minor units are dropped
		amount = decimal.NewFromInt(subtotal).Mul(pct).Div(decimal.NewFromInt(100)).Floor().IntPart()
		if discount.MaxDiscount != nil && amount > *discount.MaxDiscount {
			amount = *discount.MaxDiscount
		}

	default:
		return nil, fmt.Errorf("unsupported discount type: %s", discount.Type)
	}

	// discount cannot exceed the cart subtotal
	if amount > subtotal {
		amount = subtotal
	}

	result.IsValid = true
	result.DiscountAmount = amount
	s.logger.Debug("DISCOUNT", fmt.Sprintf("Discount %s applies %d off %d", discount.Code, amount, subtotal))
	return result, nil
}
