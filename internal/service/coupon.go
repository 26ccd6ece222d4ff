package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/oakmart/storefront/internal/domain"
	"github.com/oakmart/storefront/internal/repository"
)

// DB is what services need from the connection pool: run queries directly or
// open a transaction. *pgxpool.Pool satisfies it.
type DB interface {
	repository.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type CouponStore interface {
	GetCouponByCode(ctx context.Context, q repository.Querier, code string) (*domain.Coupon, error)
	LockCouponByCode(ctx context.Context, q repository.Querier, code string) (*domain.Coupon, error)
	InsertCoupon(ctx context.Context, q repository.Querier, c *domain.Coupon) error
	IncrementUsedCount(ctx context.Context, q repository.Querier, couponID int64) error
	DecrementUsedCount(ctx context.Context, q repository.Querier, couponID int64) error
	CountUserRedemptions(ctx context.Context, q repository.Querier, couponID, userID int64) (int, error)
	InsertRedemption(ctx context.Context, q repository.Querier, r *domain.CouponRedemption) error
	LockRedemptionByID(ctx context.Context, q repository.Querier, id int64) (*domain.CouponRedemption, error)
	LockRedemptionByUserOrder(ctx context.Context, q repository.Querier, couponID, userID, orderID int64) (*domain.CouponRedemption, error)
	DeleteRedemption(ctx context.Context, q repository.Querier, id int64) (bool, error)
}

// CouponService owns coupon eligibility, discount math and the redemption
// ledger. used_count only ever changes here, always in the same transaction
// as the redemption row it mirrors.
type CouponService struct {
	db    DB
	store CouponStore
}

func NewCouponService(db DB, store CouponStore) *CouponService {
	return &CouponService{db: db, store: store}
}

// Preview validates a coupon against an order value without consuming
// anything. Violations come back as a list; an empty list means eligible and
// discount holds the amount that would apply.
func (s *CouponService) Preview(ctx context.Context, code string, orderValue decimal.Decimal, userID *int64) ([]string, decimal.Decimal, error) {
	c, err := s.store.GetCouponByCode(ctx, s.db, normalizeCode(code))
	if err != nil {
		return nil, decimal.Zero, err
	}

	prior := 0
	if userID != nil {
		prior, err = s.store.CountUserRedemptions(ctx, s.db, c.ID, *userID)
		if err != nil {
			return nil, decimal.Zero, err
		}
	}

	violations := domain.ValidateCoupon(*c, orderValue, prior, userID != nil, time.Now().UTC())
	if len(violations) > 0 {
		return violations, decimal.Zero, nil
	}
	return nil, domain.CalculateDiscount(*c, orderValue), nil
}

// PrepareRedemption locks the coupon row, re-runs validation against the
// locked state and computes the discount. It must run inside the same
// transaction that later calls FinalizeRedemption.
func (s *CouponService) PrepareRedemption(ctx context.Context, q repository.Querier, code string, userID int64, orderValue decimal.Decimal) (*domain.Coupon, decimal.Decimal, error) {
	c, err := s.store.LockCouponByCode(ctx, q, normalizeCode(code))
	if err != nil {
		return nil, decimal.Zero, err
	}

	prior, err := s.store.CountUserRedemptions(ctx, q, c.ID, userID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	violations := domain.ValidateCoupon(*c, orderValue, prior, true, time.Now().UTC())
	if len(violations) > 0 {
		return nil, decimal.Zero, &domain.CouponValidationError{Code: c.Code, Violations: violations}
	}

	return c, domain.CalculateDiscount(*c, orderValue), nil
}

// FinalizeRedemption increments used_count and records the redemption row.
// Both writes share the transaction q so the count can never drift from the
// ledger.
func (s *CouponService) FinalizeRedemption(ctx context.Context, q repository.Querier, c *domain.Coupon, userID, orderID int64, amount decimal.Decimal) (*domain.CouponRedemption, error) {
	if err := s.store.IncrementUsedCount(ctx, q, c.ID); err != nil {
		return nil, err
	}
	r := &domain.CouponRedemption{
		CouponID:       c.ID,
		UserID:         userID,
		OrderID:        orderID,
		DiscountAmount: amount,
	}
	if err := s.store.InsertRedemption(ctx, q, r); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("coupon already redeemed for this order: %w", domain.ErrInvalidInput)
		}
		// The standalone redeem path takes the order id from the request, so
		// a dangling reference surfaces here as a foreign-key violation.
		if repository.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("order %d: %w", orderID, domain.ErrOrderNotFound)
		}
		return nil, err
	}
	return r, nil
}

// Redeem validates and consumes a coupon for an existing order as one
// transaction.
func (s *CouponService) Redeem(ctx context.Context, code string, userID, orderID int64, orderValue decimal.Decimal) (*domain.CouponRedemption, decimal.Decimal, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, discount, err := s.PrepareRedemption(ctx, tx, code, userID, orderValue)
	if err != nil {
		return nil, decimal.Zero, err
	}

	r, err := s.FinalizeRedemption(ctx, tx, c, userID, orderID, discount)
	if err != nil {
		return nil, decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, decimal.Zero, fmt.Errorf("commit: %w", err)
	}
	return r, discount, nil
}

// RevertKey identifies the redemption to revert: by id, or by the unique
// (coupon, user, order) combination.
type RevertKey struct {
	RedemptionID *int64
	UserID       *int64
	OrderID      *int64
}

// Revert deletes a redemption and decrements used_count in one transaction.
// A second revert of the same redemption finds no row and fails; the count
// is never decremented twice.
func (s *CouponService) Revert(ctx context.Context, code string, key RevertKey) error {
	if key.RedemptionID == nil && (key.UserID == nil || key.OrderID == nil) {
		return fmt.Errorf("revert needs a redemption id or a user and order: %w", domain.ErrInvalidInput)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.store.LockCouponByCode(ctx, tx, normalizeCode(code))
	if err != nil {
		return err
	}

	var r *domain.CouponRedemption
	if key.RedemptionID != nil {
		r, err = s.store.LockRedemptionByID(ctx, tx, *key.RedemptionID)
		if err == nil && r.CouponID != c.ID {
			return fmt.Errorf("redemption %d does not belong to coupon %s: %w", r.ID, c.Code, domain.ErrRedemptionNotFound)
		}
	} else {
		r, err = s.store.LockRedemptionByUserOrder(ctx, tx, c.ID, *key.UserID, *key.OrderID)
	}
	if err != nil {
		return err
	}

	deleted, err := s.store.DeleteRedemption(ctx, tx, r.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrRedemptionNotFound
	}

	if err := s.store.DecrementUsedCount(ctx, tx, c.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CreateCouponInput is the admin creation payload.
type CreateCouponInput struct {
	Code          string
	DiscountType  domain.DiscountType
	Value         decimal.Decimal
	MaxDiscount   *decimal.Decimal
	MinOrderValue *decimal.Decimal
	UsageLimit    *int
	PerUserLimit  *int
	ValidFrom     *time.Time
	ValidTo       *time.Time
}

func (s *CouponService) Create(ctx context.Context, in CreateCouponInput) (*domain.Coupon, error) {
	code := normalizeCode(in.Code)
	if code == "" {
		return nil, fmt.Errorf("coupon code is required: %w", domain.ErrInvalidInput)
	}

	switch in.DiscountType {
	case domain.DiscountPercentage:
		if in.Value.LessThanOrEqual(decimal.Zero) || in.Value.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("percentage value must be in (0, 100]: %w", domain.ErrInvalidInput)
		}
	case domain.DiscountFixedAmount:
		if in.Value.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("fixed amount must be positive: %w", domain.ErrInvalidInput)
		}
	case domain.DiscountFreeShipping:
		// Free shipping carries no amount of its own.
		in.Value = decimal.Zero
	default:
		return nil, fmt.Errorf("unknown discount type %q: %w", in.DiscountType, domain.ErrInvalidInput)
	}

	if in.ValidFrom != nil && in.ValidTo != nil && in.ValidTo.Before(*in.ValidFrom) {
		return nil, fmt.Errorf("valid_to is before valid_from: %w", domain.ErrInvalidInput)
	}

	c := &domain.Coupon{
		Code:          code,
		DiscountType:  in.DiscountType,
		Value:         in.Value,
		MaxDiscount:   in.MaxDiscount,
		MinOrderValue: in.MinOrderValue,
		UsageLimit:    in.UsageLimit,
		PerUserLimit:  in.PerUserLimit,
		ValidFrom:     in.ValidFrom,
		ValidTo:       in.ValidTo,
		Status:        domain.CouponStatusActive,
	}
	if err := s.store.InsertCoupon(ctx, s.db, c); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("coupon code %s already exists: %w", code, domain.ErrInvalidInput)
		}
		return nil, err
	}
	return c, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
