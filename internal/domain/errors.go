package domain

import (
	"errors"
	"strings"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrVariantNotFound    = errors.New("product variant not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrAddressNotFound    = errors.New("address not found")
	ErrCouponNotFound     = errors.New("coupon not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrRedemptionNotFound = errors.New("coupon redemption not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrConflict           = errors.New("concurrent modification")
	ErrInvalidInput       = errors.New("invalid input")
	ErrCouponNotUsable    = errors.New("coupon not usable")
)

// CouponValidationError carries every rule the coupon failed, so callers can
// show the full list instead of the first violation only.
type CouponValidationError struct {
	Code       string
	Violations []string
}

func (e *CouponValidationError) Error() string {
	return "coupon " + e.Code + " not usable: " + strings.Join(e.Violations, "; ")
}

func (e *CouponValidationError) Unwrap() error {
	return ErrCouponNotUsable
}
