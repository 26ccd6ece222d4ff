package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmart/storefront/internal/domain"
	"github.com/oakmart/storefront/internal/testutil"
)

type orderFixture struct {
	store     *testutil.MemStore
	publisher *testutil.CollectPublisher
	orders    *OrderService
	coupons   *CouponService
}

func newOrderFixture(t *testing.T, threshold int64) *orderFixture {
	t.Helper()
	store := testutil.NewMemStore()
	store.AddUser(7)
	store.AddAddress(3, 7)

	publisher := &testutil.CollectPublisher{}
	ledger := NewStockLedger(store, threshold)
	coupons := NewCouponService(store, store)
	orders := NewOrderService(store, store, ledger, coupons, publisher, nil)

	return &orderFixture{store: store, publisher: publisher, orders: orders, coupons: coupons}
}

func TestPlaceOrder_HappyPath(t *testing.T) {
	f := newOrderFixture(t, 5)
	f.store.AddProduct(1, 10)
	f.store.AddVariant(11, 1, decimal.NewFromInt(25), 10)

	order, err := f.orders.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:    7,
		AddressID: 3,
		Lines:     []ReserveLine{{ProductID: 1, VariantID: 11, Quantity: 4}},
	})

	require.NoError(t, err)
	assert.NotEmpty(t, order.OrderNumber)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.PaymentStatusUnpaid, order.PaymentStatus)
	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(100)), "subtotal %s", order.Subtotal)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(100)))
	assert.Nil(t, order.CouponID)
	require.Len(t, order.Items, 1)
	assert.True(t, order.Items[0].UnitPrice.Equal(decimal.NewFromInt(25)))
	assert.True(t, order.Items[0].LineTotal.Equal(decimal.NewFromInt(100)))

	assert.Equal(t, int64(6), f.store.VariantStock(11))
	assert.Equal(t, int64(6), f.store.ProductStock(1))
	assert.Equal(t, 1, f.store.OrderCount())
	assert.Equal(t, 1, f.store.OrderItemCount())

	// Stock 6 is not below threshold 5: no event.
	f.orders.DrainPublishes()
	assert.Empty(t, f.publisher.Events())
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	f := newOrderFixture(t, 100)
	f.store.AddProduct(1, 5)
	f.store.AddVariant(11, 1, decimal.NewFromInt(25), 5)

	_, err := f.orders.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:    7,
		AddressID: 3,
		Lines:     []ReserveLine{{ProductID: 1, VariantID: 11, Quantity: 8}},
	})

	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, int64(5), f.store.VariantStock(11))
	assert.Equal(t, 0, f.store.OrderCount())
	assert.Equal(t, 0, f.store.OrderItemCount())
}

func TestPlaceOrder_PublishesLowStockEventAfterCommit(t *testing.T) {
	f := newOrderFixture(t, 100)
	f.store.AddProduct(1, 10)
	f.store.AddVariant(11, 1, decimal.NewFromInt(25), 10)

	_, err := f.orders.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:    7,
		AddressID: 3,
		Lines:     []ReserveLine{{ProductID: 1, VariantID: 11, Quantity: 4}},
	})
	require.NoError(t, err)

	f.orders.DrainPublishes()

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, int64(11), events[0].VariantID)
	assert.Equal(t, int64(6), events[0].AvailableQuantity)
}

func TestPlaceOrder_WithCoupon(t *testing.T) {
	f := newOrderFixture(t, 0)
	f.store.AddProduct(1, 50)
	f.store.AddVariant(11, 1, decimal.NewFromInt(100), 50)
	maxDiscount := decimal.NewFromInt(50)
	couponID := f.store.AddCoupon(domain.Coupon{
		Code:         "SAVE10",
		DiscountType: domain.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		MaxDiscount:  &maxDiscount,
		Status:       domain.CouponStatusActive,
	})

	order, err := f.orders.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:     7,
		AddressID:  3,
		CouponCode: "SAVE10",
		Lines:      []ReserveLine{{ProductID: 1, VariantID: 11, Quantity: 10}},
	})

	require.NoError(t, err)
	// 10% of 1000 is 100, capped at 50.
	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(1000)))
	assert.True(t, order.DiscountTotal.Equal(decimal.NewFromInt(50)), "discount %s", order.DiscountTotal)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(950)))
	require.NotNil(t, order.CouponID)
	assert.Equal(t, couponID, *order.CouponID)
	assert.Equal(t, 1, f.store.CouponUsedCount(couponID))
	assert.Equal(t, 1, f.store.RedemptionCount())
}

func TestPlaceOrder_IneligibleCouponAbortsEverything(t *testing.T) {
	f := newOrderFixture(t, 0)
	f.store.AddProduct(1, 50)
	f.store.AddVariant(11, 1, decimal.NewFromInt(10), 50)
	minOrder := decimal.NewFromInt(10000)
	couponID := f.store.AddCoupon(domain.Coupon{
		Code:          "BIGSPEND",
		DiscountType:  domain.DiscountFixedAmount,
		Value:         decimal.NewFromInt(20),
		MinOrderValue: &minOrder,
		Status:        domain.CouponStatusActive,
	})

	_, err := f.orders.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:     7,
		AddressID:  3,
		CouponCode: "BIGSPEND",
		Lines:      []ReserveLine{{ProductID: 1, VariantID: 11, Quantity: 2}},
	})

	require.ErrorIs(t, err, domain.ErrCouponNotUsable)
	// The reserve already ran inside the transaction; it must be undone.
	assert.Equal(t, int64(50), f.store.VariantStock(11))
	assert.Equal(t, 0, f.store.OrderCount())
	assert.Equal(t, 0, f.store.CouponUsedCount(couponID))
}

func TestPlaceOrder_UnknownCoupon(t *testing.T) {
	f := newOrderFixture(t, 0)
	f.store.AddProduct(1, 50)
	f.store.AddVariant(11, 1, decimal.NewFromInt(10), 50)

	_, err := f.orders.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:     7,
		AddressID:  3,
		CouponCode: "NOPE",
		Lines:      []ReserveLine{{ProductID: 1, VariantID: 11, Quantity: 1}},
	})

	require.ErrorIs(t, err, domain.ErrCouponNotFound)
	assert.Equal(t, int64(50), f.store.VariantStock(11))
}

func TestPlaceOrder_ItemInsertFailureRollsBackStockAndCoupon(t *testing.T) {
	f := newOrderFixture(t, 0)
	f.store.AddProduct(1, 50)
	f.store.AddVariant(11, 1, decimal.NewFromInt(10), 50)
	couponID := f.store.AddCoupon(domain.Coupon{
		Code:         "SAVE10",
		DiscountType: domain.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		Status:       domain.CouponStatusActive,
	})
	f.store.FailOrderItems = true

	_, err := f.orders.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:     7,
		AddressID:  3,
		CouponCode: "SAVE10",
		Lines:      []ReserveLine{{ProductID: 1, VariantID: 11, Quantity: 5}},
	})

	require.Error(t, err)
	assert.Equal(t, int64(50), f.store.VariantStock(11), "stock decrement must roll back with the failed item insert")
	assert.Equal(t, int64(50), f.store.ProductStock(1))
	assert.Equal(t, 0, f.store.OrderCount())
	assert.Equal(t, 0, f.store.OrderItemCount())
	assert.Equal(t, 0, f.store.CouponUsedCount(couponID))
	assert.Equal(t, 0, f.store.RedemptionCount())
}

func TestPlaceOrder_UnknownUserAndAddress(t *testing.T) {
	f := newOrderFixture(t, 0)
	f.store.AddProduct(1, 50)
	f.store.AddVariant(11, 1, decimal.NewFromInt(10), 50)

	_, err := f.orders.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:    999,
		AddressID: 3,
		Lines:     []ReserveLine{{ProductID: 1, VariantID: 11, Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = f.orders.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:    7,
		AddressID: 999,
		Lines:     []ReserveLine{{ProductID: 1, VariantID: 11, Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrAddressNotFound)
}

func TestPlaceOrder_EmptyLines(t *testing.T) {
	f := newOrderFixture(t, 0)

	_, err := f.orders.PlaceOrder(context.Background(), PlaceOrderInput{UserID: 7, AddressID: 3})

	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPlaceOrder_ConcurrentBuyersNeverOversell(t *testing.T) {
	const (
		initialStock = 10
		perOrder     = 4
		buyers       = 6
	)

	f := newOrderFixture(t, 0)
	f.store.AddProduct(1, initialStock)
	f.store.AddVariant(11, 1, decimal.NewFromInt(10), initialStock)

	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orders.PlaceOrder(context.Background(), PlaceOrderInput{
				UserID:    7,
				AddressID: 3,
				Lines:     []ReserveLine{{ProductID: 1, VariantID: 11, Quantity: perOrder}},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, domain.ErrInsufficientStock)
		}
	}

	assert.Equal(t, 2, succeeded, "stock 10 fits exactly two orders of 4")
	assert.Equal(t, int64(initialStock-2*perOrder), f.store.VariantStock(11))
	assert.Equal(t, succeeded, f.store.OrderCount())
}

func TestGetOrder_ReturnsItems(t *testing.T) {
	f := newOrderFixture(t, 0)
	f.store.AddProduct(1, 50)
	f.store.AddVariant(11, 1, decimal.NewFromInt(10), 50)

	placed, err := f.orders.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:    7,
		AddressID: 3,
		Lines:     []ReserveLine{{ProductID: 1, VariantID: 11, Quantity: 2}},
	})
	require.NoError(t, err)

	got, err := f.orders.GetOrder(context.Background(), placed.OrderNumber)

	require.NoError(t, err)
	assert.Equal(t, placed.OrderNumber, got.OrderNumber)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
}

func TestGetOrder_Unknown(t *testing.T) {
	f := newOrderFixture(t, 0)

	// A well-formed order number with no matching row.
	_, err := f.orders.GetOrder(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	// A malformed order number must not reach the database as a uuid
	// parameter; it maps to the same not-found result.
	_, err = f.orders.GetOrder(context.Background(), "no-such-order")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}
