package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oakmart/storefront/internal/domain"
)

const couponColumns = `id, code, discount_type, value, max_discount, min_order_value,
	usage_limit, per_user_limit, used_count, valid_from, valid_to, status, created_at, updated_at`

func scanCoupon(row pgx.Row) (*domain.Coupon, error) {
	var c domain.Coupon
	err := row.Scan(
		&c.ID, &c.Code, &c.DiscountType, &c.Value, &c.MaxDiscount, &c.MinOrderValue,
		&c.UsageLimit, &c.PerUserLimit, &c.UsedCount, &c.ValidFrom, &c.ValidTo,
		&c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCouponNotFound
		}
		return nil, fmt.Errorf("scan coupon: %w", err)
	}
	return &c, nil
}

func (s *Store) GetCouponByCode(ctx context.Context, q Querier, code string) (*domain.Coupon, error) {
	return scanCoupon(q.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
}

// LockCouponByCode reads the coupon under FOR UPDATE so used_count checks and
// increments in the same transaction cannot race another redemption.
func (s *Store) LockCouponByCode(ctx context.Context, q Querier, code string) (*domain.Coupon, error) {
	return scanCoupon(q.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1 FOR UPDATE`, code))
}

func (s *Store) InsertCoupon(ctx context.Context, q Querier, c *domain.Coupon) error {
	err := q.QueryRow(ctx, `
		INSERT INTO coupons (code, discount_type, value, max_discount, min_order_value, usage_limit, per_user_limit, valid_from, valid_to, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, used_count, created_at, updated_at`,
		c.Code, c.DiscountType, c.Value, c.MaxDiscount, c.MinOrderValue,
		c.UsageLimit, c.PerUserLimit, c.ValidFrom, c.ValidTo, c.Status,
	).Scan(&c.ID, &c.UsedCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

func (s *Store) IncrementUsedCount(ctx context.Context, q Querier, couponID int64) error {
	_, err := q.Exec(ctx, `
		UPDATE coupons SET used_count = used_count + 1, updated_at = now()
		WHERE id = $1`, couponID)
	if err != nil {
		return fmt.Errorf("increment used count: %w", err)
	}
	return nil
}

func (s *Store) DecrementUsedCount(ctx context.Context, q Querier, couponID int64) error {
	_, err := q.Exec(ctx, `
		UPDATE coupons SET used_count = used_count - 1, updated_at = now()
		WHERE id = $1 AND used_count > 0`, couponID)
	if err != nil {
		return fmt.Errorf("decrement used count: %w", err)
	}
	return nil
}

func (s *Store) CountUserRedemptions(ctx context.Context, q Querier, couponID, userID int64) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM coupon_redemptions
		WHERE coupon_id = $1 AND user_id = $2`, couponID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user redemptions: %w", err)
	}
	return n, nil
}

func (s *Store) InsertRedemption(ctx context.Context, q Querier, r *domain.CouponRedemption) error {
	err := q.QueryRow(ctx, `
		INSERT INTO coupon_redemptions (coupon_id, user_id, order_id, discount_amount)
		VALUES ($1, $2, $3, $4)
		RETURNING id, redeemed_at`,
		r.CouponID, r.UserID, r.OrderID, r.DiscountAmount,
	).Scan(&r.ID, &r.RedeemedAt)
	if err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}

// LockRedemptionByID reads a redemption under FOR UPDATE so a concurrent
// revert of the same redemption blocks until this transaction finishes.
func (s *Store) LockRedemptionByID(ctx context.Context, q Querier, id int64) (*domain.CouponRedemption, error) {
	return scanRedemption(q.QueryRow(ctx, `
		SELECT id, coupon_id, user_id, order_id, discount_amount, redeemed_at
		FROM coupon_redemptions
		WHERE id = $1
		FOR UPDATE`, id))
}

func (s *Store) LockRedemptionByUserOrder(ctx context.Context, q Querier, couponID, userID, orderID int64) (*domain.CouponRedemption, error) {
	return scanRedemption(q.QueryRow(ctx, `
		SELECT id, coupon_id, user_id, order_id, discount_amount, redeemed_at
		FROM coupon_redemptions
		WHERE coupon_id = $1 AND user_id = $2 AND order_id = $3
		FOR UPDATE`, couponID, userID, orderID))
}

func scanRedemption(row pgx.Row) (*domain.CouponRedemption, error) {
	var r domain.CouponRedemption
	err := row.Scan(&r.ID, &r.CouponID, &r.UserID, &r.OrderID, &r.DiscountAmount, &r.RedeemedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("scan redemption: %w", err)
	}
	return &r, nil
}

func (s *Store) DeleteRedemption(ctx context.Context, q Querier, id int64) (bool, error) {
	tag, err := q.Exec(ctx, `DELETE FROM coupon_redemptions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete redemption: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
