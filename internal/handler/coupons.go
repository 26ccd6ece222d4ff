package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oakmart/storefront/internal/domain"
	"github.com/oakmart/storefront/internal/service"
)

type validateCouponRequest struct {
	Code       string          `json:"code"`
	OrderValue decimal.Decimal `json:"order_value"`
	UserID     *int64          `json:"user_id,omitempty"`
}

type validateCouponResponse struct {
	Valid      bool            `json:"valid"`
	Violations []string        `json:"violations,omitempty"`
	Discount   decimal.Decimal `json:"discount"`
}

func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	violations, discount, err := h.coupons.Preview(r.Context(), req.Code, req.OrderValue, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, validateCouponResponse{
		Valid:      len(violations) == 0,
		Violations: violations,
		Discount:   discount,
	})
}

type redeemCouponRequest struct {
	Code       string          `json:"code"`
	UserID     int64           `json:"user_id"`
	OrderID    int64           `json:"order_id"`
	OrderValue decimal.Decimal `json:"order_value"`
}

type redeemCouponResponse struct {
	RedemptionID   int64           `json:"redemption_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	RedeemedAt     time.Time       `json:"redeemed_at"`
}

func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	var req redeemCouponRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	redemption, discount, err := h.coupons.Redeem(r.Context(), req.Code, req.UserID, req.OrderID, req.OrderValue)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, redeemCouponResponse{
		RedemptionID:   redemption.ID,
		DiscountAmount: discount,
		FinalAmount:    req.OrderValue.Sub(discount).Round(2),
		RedeemedAt:     redemption.RedeemedAt,
	})
}

type revertCouponRequest struct {
	Code         string `json:"code"`
	RedemptionID *int64 `json:"redemption_id,omitempty"`
	UserID       *int64 `json:"user_id,omitempty"`
	OrderID      *int64 `json:"order_id,omitempty"`
}

func (h *Handler) RevertCoupon(w http.ResponseWriter, r *http.Request) {
	var req revertCouponRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.coupons.Revert(r.Context(), req.Code, service.RevertKey{
		RedemptionID: req.RedemptionID,
		UserID:       req.UserID,
		OrderID:      req.OrderID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "reverted"})
}

type createCouponRequest struct {
	Code          string           `json:"code"`
	DiscountType  string           `json:"discount_type"`
	Value         decimal.Decimal  `json:"value"`
	MaxDiscount   *decimal.Decimal `json:"max_discount,omitempty"`
	MinOrderValue *decimal.Decimal `json:"min_order_value,omitempty"`
	UsageLimit    *int             `json:"usage_limit,omitempty"`
	PerUserLimit  *int             `json:"per_user_limit,omitempty"`
	ValidFrom     *time.Time       `json:"valid_from,omitempty"`
	ValidTo       *time.Time       `json:"valid_to,omitempty"`
}

type couponResponse struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	DiscountType string          `json:"discount_type"`
	Value        decimal.Decimal `json:"value"`
	Status       string          `json:"status"`
	UsedCount    int             `json:"used_count"`
}

func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	coupon, err := h.coupons.Create(r.Context(), service.CreateCouponInput{
		Code:          req.Code,
		DiscountType:  domain.DiscountType(req.DiscountType),
		Value:         req.Value,
		MaxDiscount:   req.MaxDiscount,
		MinOrderValue: req.MinOrderValue,
		UsageLimit:    req.UsageLimit,
		PerUserLimit:  req.PerUserLimit,
		ValidFrom:     req.ValidFrom,
		ValidTo:       req.ValidTo,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, couponResponse{
		ID:           coupon.ID,
		Code:         coupon.Code,
		DiscountType: string(coupon.DiscountType),
		Value:        coupon.Value,
		Status:       string(coupon.Status),
		UsedCount:    coupon.UsedCount,
	})
}
