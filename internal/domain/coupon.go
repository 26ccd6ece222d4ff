package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixedAmount  DiscountType = "fixed_amount"
	DiscountFreeShipping DiscountType = "free_shipping"
)

type CouponStatus string

const (
	CouponStatusActive   CouponStatus = "active"
	CouponStatusInactive CouponStatus = "inactive"
	CouponStatusExpired  CouponStatus = "expired"
)

type Coupon struct {
	ID            int64
	Code          string
	DiscountType  DiscountType
	Value         decimal.Decimal
	MaxDiscount   *decimal.Decimal
	MinOrderValue *decimal.Decimal
	UsageLimit    *int
	PerUserLimit  *int
	UsedCount     int
	ValidFrom     *time.Time
	ValidTo       *time.Time
	Status        CouponStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type CouponRedemption struct {
	ID             int64
	CouponID       int64
	UserID         int64
	OrderID        int64
	DiscountAmount decimal.Decimal
	RedeemedAt     time.Time
}

// ValidateCoupon checks every eligibility rule and returns all violations,
// not just the first. priorUserRedemptions is the count of existing
// redemptions by the candidate user; pass hasUser=false when no user is
// known (the per-user rule is then skipped).
func ValidateCoupon(c Coupon, orderValue decimal.Decimal, priorUserRedemptions int, hasUser bool, now time.Time) []string {
	var violations []string

	if c.Status != CouponStatusActive {
		violations = append(violations, fmt.Sprintf("coupon is %s", c.Status))
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		violations = append(violations, "coupon is not valid yet")
	}
	if c.ValidTo != nil && now.After(*c.ValidTo) {
		violations = append(violations, "coupon validity window has ended")
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		violations = append(violations, "usage limit reached")
	}
	if c.MinOrderValue != nil && orderValue.LessThan(*c.MinOrderValue) {
		violations = append(violations, fmt.Sprintf("order value %s is below the minimum %s", orderValue.StringFixed(2), c.MinOrderValue.StringFixed(2)))
	}
	if hasUser && c.PerUserLimit != nil && priorUserRedemptions >= *c.PerUserLimit {
		violations = append(violations, "per-user limit exceeded")
	}

	return violations
}

// CalculateDiscount computes the discount amount for the coupon against the
// order value, rounded to 2 decimal places. Free-shipping coupons always
// yield zero; the shipping effect is applied downstream.
func CalculateDiscount(c Coupon, orderValue decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal

	switch c.DiscountType {
	case DiscountPercentage:
		discount = orderValue.Mul(c.Value).Div(decimal.NewFromInt(100))
		if c.MaxDiscount != nil && discount.GreaterThan(*c.MaxDiscount) {
			discount = *c.MaxDiscount
		}
	case DiscountFixedAmount:
		discount = c.Value
		if discount.GreaterThan(orderValue) {
			discount = orderValue
		}
	case DiscountFreeShipping:
		discount = decimal.Zero
	}

	return discount.Round(2)
}
