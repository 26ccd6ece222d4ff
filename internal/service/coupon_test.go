package service

import (
	"context"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/storefront/internal/domain"
	"github.com/oakmart/storefront/internal/repository"
	"github.com/oakmart/storefront/internal/testutil"
)

func intPtr(v int) *int                         { return &v }
func i64Ptr(v int64) *int64                     { return &v }
func decPtr(v decimal.Decimal) *decimal.Decimal { return &v }

func seedCoupon(store *testutil.MemStore, mutate func(*domain.Coupon)) int64 {
	c := domain.Coupon{
		Code:         "SAVE10",
		DiscountType: domain.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		Status:       domain.CouponStatusActive,
	}
	if mutate != nil {
		mutate(&c)
	}
	return store.AddCoupon(c)
}

func TestRedeem_RecordsRedemptionAndIncrementsCount(t *testing.T) {
	store := testutil.NewMemStore()
	couponID := seedCoupon(store, nil)
	svc := NewCouponService(store, store)

	r, discount, err := svc.Redeem(context.Background(), "save10", 7, 42, decimal.NewFromInt(200))

	require.NoError(t, err)
	assert.True(t, discount.Equal(decimal.NewFromInt(20)), "got %s", discount)
	assert.Equal(t, couponID, r.CouponID)
	assert.Equal(t, int64(7), r.UserID)
	assert.Equal(t, int64(42), r.OrderID)
	assert.Equal(t, 1, store.CouponUsedCount(couponID))
	assert.Equal(t, 1, store.RedemptionCount())
}

func TestRedeem_UnknownCode(t *testing.T) {
	store := testutil.NewMemStore()
	svc := NewCouponService(store, store)

	_, _, err := svc.Redeem(context.Background(), "NOPE", 1, 1, decimal.NewFromInt(100))

	require.ErrorIs(t, err, domain.ErrCouponNotFound)
}

func TestRedeem_UsageLimitNeverExceeded(t *testing.T) {
	store := testutil.NewMemStore()
	couponID := seedCoupon(store, func(c *domain.Coupon) {
		c.UsageLimit = intPtr(2)
	})
	svc := NewCouponService(store, store)
	ctx := context.Background()

	_, _, err := svc.Redeem(ctx, "SAVE10", 1, 101, decimal.NewFromInt(100))
	require.NoError(t, err)
	_, _, err = svc.Redeem(ctx, "SAVE10", 2, 102, decimal.NewFromInt(100))
	require.NoError(t, err)

	_, _, err = svc.Redeem(ctx, "SAVE10", 3, 103, decimal.NewFromInt(100))
	require.ErrorIs(t, err, domain.ErrCouponNotUsable)

	var vErr *domain.CouponValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Violations, "usage limit reached")
	assert.Equal(t, 2, store.CouponUsedCount(couponID))
}

func TestRedeem_ConcurrentRedemptionsHonorUsageLimit(t *testing.T) {
	store := testutil.NewMemStore()
	couponID := seedCoupon(store, func(c *domain.Coupon) {
		c.UsageLimit = intPtr(1)
	})
	svc := NewCouponService(store, store)

	const callers = 6
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.Redeem(context.Background(), "SAVE10", int64(i+1), int64(100+i), decimal.NewFromInt(100))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, store.CouponUsedCount(couponID))
}

func TestRedeem_PerUserLimitRejectsSecondUse(t *testing.T) {
	store := testutil.NewMemStore()
	couponID := seedCoupon(store, func(c *domain.Coupon) {
		c.PerUserLimit = intPtr(1)
	})
	svc := NewCouponService(store, store)
	ctx := context.Background()

	_, _, err := svc.Redeem(ctx, "SAVE10", 7, 101, decimal.NewFromInt(100))
	require.NoError(t, err)

	_, _, err = svc.Redeem(ctx, "SAVE10", 7, 102, decimal.NewFromInt(100))
	require.ErrorIs(t, err, domain.ErrCouponNotUsable)

	var vErr *domain.CouponValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Violations, "per-user limit exceeded")
	assert.Equal(t, 1, store.CouponUsedCount(couponID), "rejected attempt must not bump the count")

	// A different user may still redeem.
	_, _, err = svc.Redeem(ctx, "SAVE10", 8, 103, decimal.NewFromInt(100))
	require.NoError(t, err)
}

// danglingOrderStore reports the foreign-key violation Postgres raises when a
// redemption references an order row that does not exist.
type danglingOrderStore struct {
	*testutil.MemStore
}

func (s *danglingOrderStore) InsertRedemption(context.Context, repository.Querier, *domain.CouponRedemption) error {
	return &pgconn.PgError{Code: "23503", ConstraintName: "coupon_redemptions_order_id_fkey"}
}

func TestRedeem_UnknownOrderRollsBack(t *testing.T) {
	store := testutil.NewMemStore()
	couponID := seedCoupon(store, nil)
	svc := NewCouponService(store, &danglingOrderStore{MemStore: store})

	_, _, err := svc.Redeem(context.Background(), "SAVE10", 7, 999, decimal.NewFromInt(100))

	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Equal(t, 0, store.CouponUsedCount(couponID), "failed redemption must not keep the count bump")
	assert.Equal(t, 0, store.RedemptionCount())
}

func TestRevert_RestoresCountAndRejectsSecondRevert(t *testing.T) {
	store := testutil.NewMemStore()
	couponID := seedCoupon(store, nil)
	svc := NewCouponService(store, store)
	ctx := context.Background()

	r, _, err := svc.Redeem(ctx, "SAVE10", 7, 42, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.Equal(t, 1, store.CouponUsedCount(couponID))

	require.NoError(t, svc.Revert(ctx, "SAVE10", RevertKey{RedemptionID: &r.ID}))
	assert.Equal(t, 0, store.CouponUsedCount(couponID))
	assert.Equal(t, 0, store.RedemptionCount())

	err = svc.Revert(ctx, "SAVE10", RevertKey{RedemptionID: &r.ID})
	require.ErrorIs(t, err, domain.ErrRedemptionNotFound)
	assert.Equal(t, 0, store.CouponUsedCount(couponID), "second revert must not decrement again")
}

func TestRevert_ByUserAndOrder(t *testing.T) {
	store := testutil.NewMemStore()
	couponID := seedCoupon(store, nil)
	svc := NewCouponService(store, store)
	ctx := context.Background()

	_, _, err := svc.Redeem(ctx, "SAVE10", 7, 42, decimal.NewFromInt(100))
	require.NoError(t, err)

	require.NoError(t, svc.Revert(ctx, "SAVE10", RevertKey{UserID: i64Ptr(7), OrderID: i64Ptr(42)}))
	assert.Equal(t, 0, store.CouponUsedCount(couponID))
}

func TestRevert_RequiresAKey(t *testing.T) {
	store := testutil.NewMemStore()
	seedCoupon(store, nil)
	svc := NewCouponService(store, store)

	err := svc.Revert(context.Background(), "SAVE10", RevertKey{UserID: i64Ptr(7)})

	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPreview_ReportsViolationsWithoutConsuming(t *testing.T) {
	store := testutil.NewMemStore()
	couponID := seedCoupon(store, func(c *domain.Coupon) {
		c.MinOrderValue = decPtr(decimal.NewFromInt(100))
	})
	svc := NewCouponService(store, store)

	violations, discount, err := svc.Preview(context.Background(), "SAVE10", decimal.NewFromInt(50), nil)

	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.True(t, discount.IsZero())
	assert.Equal(t, 0, store.CouponUsedCount(couponID))
}

func TestCreate_FreeShippingForcesZeroValue(t *testing.T) {
	store := testutil.NewMemStore()
	svc := NewCouponService(store, store)

	c, err := svc.Create(context.Background(), CreateCouponInput{
		Code:         "ship-free",
		DiscountType: domain.DiscountFreeShipping,
		Value:        decimal.NewFromInt(99),
	})

	require.NoError(t, err)
	assert.Equal(t, "SHIP-FREE", c.Code)
	assert.True(t, c.Value.IsZero())
	assert.Equal(t, domain.CouponStatusActive, c.Status)
}

func TestCreate_RejectsBadValueCombinations(t *testing.T) {
	store := testutil.NewMemStore()
	svc := NewCouponService(store, store)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateCouponInput
	}{
		{name: "percentage over 100", in: CreateCouponInput{Code: "A", DiscountType: domain.DiscountPercentage, Value: decimal.NewFromInt(150)}},
		{name: "percentage zero", in: CreateCouponInput{Code: "B", DiscountType: domain.DiscountPercentage, Value: decimal.Zero}},
		{name: "fixed amount negative", in: CreateCouponInput{Code: "C", DiscountType: domain.DiscountFixedAmount, Value: decimal.NewFromInt(-5)}},
		{name: "unknown type", in: CreateCouponInput{Code: "D", DiscountType: "bogus", Value: decimal.NewFromInt(5)}},
		{name: "empty code", in: CreateCouponInput{Code: "  ", DiscountType: domain.DiscountPercentage, Value: decimal.NewFromInt(5)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.in)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestCreate_DuplicateCode(t *testing.T) {
	store := testutil.NewMemStore()
	svc := NewCouponService(store, store)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateCouponInput{Code: "TWICE", DiscountType: domain.DiscountFixedAmount, Value: decimal.NewFromInt(5)})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateCouponInput{Code: "twice", DiscountType: domain.DiscountFixedAmount, Value: decimal.NewFromInt(5)})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
