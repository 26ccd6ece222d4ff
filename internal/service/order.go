package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oakmart/storefront/internal/config"
	"github.com/oakmart/storefront/internal/domain"
	"github.com/oakmart/storefront/internal/metrics"
	"github.com/oakmart/storefront/internal/notify"
	"github.com/oakmart/storefront/internal/repository"
)

type OrderStore interface {
	GetUser(ctx context.Context, q repository.Querier, id int64) (*domain.User, error)
	GetAddress(ctx context.Context, q repository.Querier, id, userID int64) (*domain.Address, error)
	InsertOrder(ctx context.Context, q repository.Querier, o *domain.Order) error
	InsertOrderItem(ctx context.Context, q repository.Querier, it *domain.OrderItem) error
	GetOrderByNumber(ctx context.Context, q repository.Querier, orderNumber string) (*domain.Order, error)
	ListOrderItems(ctx context.Context, q repository.Querier, orderID int64) ([]domain.OrderItem, error)
}

// PlaceOrderInput is one checkout request.
type PlaceOrderInput struct {
	UserID     int64
	AddressID  int64
	CouponCode string
	Lines      []ReserveLine
}

// OrderService coordinates the order-placement transaction: stock reserve,
// coupon redemption, order and item rows all commit or roll back as one
// unit. Low-stock events buffered by the ledger are published only after the
// commit succeeds.
type OrderService struct {
	db        DB
	store     OrderStore
	ledger    *StockLedger
	coupons   *CouponService
	publisher notify.Publisher
	metrics   *metrics.Metrics

	// publishWG tracks in-flight event publishes so shutdown and tests can
	// drain them.
	publishWG sync.WaitGroup
}

func NewOrderService(db DB, store OrderStore, ledger *StockLedger, coupons *CouponService, publisher notify.Publisher, m *metrics.Metrics) *OrderService {
	return &OrderService{
		db:        db,
		store:     store,
		ledger:    ledger,
		coupons:   coupons,
		publisher: publisher,
		metrics:   m,
	}
}

func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*domain.Order, error) {
	if len(in.Lines) == 0 {
		return nil, fmt.Errorf("order has no lines: %w", domain.ErrInvalidInput)
	}
	if len(in.Lines) > config.MaxOrderLines {
		return nil, fmt.Errorf("order exceeds %d lines: %w", config.MaxOrderLines, domain.ErrInvalidInput)
	}

	if _, err := s.store.GetUser(ctx, s.db, in.UserID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetAddress(ctx, s.db, in.AddressID, in.UserID); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := s.ledger.Reserve(ctx, tx, in.Lines)
	if err != nil {
		s.countRejected(err)
		return nil, err
	}

	subtotal := decimal.Zero
	for _, line := range in.Lines {
		v := res.Variants[line.VariantID]
		subtotal = subtotal.Add(v.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	subtotal = subtotal.Round(2)

	var coupon *domain.Coupon
	discount := decimal.Zero
	if in.CouponCode != "" {
		coupon, discount, err = s.coupons.PrepareRedemption(ctx, tx, in.CouponCode, in.UserID, subtotal)
		if err != nil {
			s.countRejected(err)
			return nil, err
		}
	}

	order := &domain.Order{
		OrderNumber:   uuid.NewString(),
		UserID:        in.UserID,
		AddressID:     in.AddressID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Subtotal:      subtotal,
		DiscountTotal: discount,
		Total:         subtotal.Sub(discount).Round(2),
	}
	if coupon != nil {
		order.CouponID = &coupon.ID
	}
	if err := s.store.InsertOrder(ctx, tx, order); err != nil {
		return nil, err
	}

	for _, line := range in.Lines {
		v := res.Variants[line.VariantID]
		item := &domain.OrderItem{
			OrderID:   order.ID,
			ProductID: v.ProductID,
			VariantID: v.ID,
			Quantity:  line.Quantity,
			UnitPrice: v.Price,
			LineTotal: v.Price.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2),
		}
		if err := s.store.InsertOrderItem(ctx, tx, item); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, *item)
	}

	if coupon != nil {
		if _, err := s.coupons.FinalizeRedemption(ctx, tx, coupon, in.UserID, order.ID, discount); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if s.metrics != nil {
		s.metrics.OrdersPlaced.Inc()
	}
	s.publishLowStock(order.OrderNumber, res.Events)

	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	// order_number is a uuid column; a malformed value can never match a row
	// and would only fail the parameter cast.
	if _, err := uuid.Parse(orderNumber); err != nil {
		return nil, fmt.Errorf("order number %q: %w", orderNumber, domain.ErrOrderNotFound)
	}

	order, err := s.store.GetOrderByNumber(ctx, s.db, orderNumber)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListOrderItems(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

// publishLowStock pushes events on a detached context so a slow or failing
// gateway can never affect the already-committed order.
func (s *OrderService) publishLowStock(orderNumber string, events []domain.LowStockEvent) {
	if len(events) == 0 {
		return
	}
	s.publishWG.Add(1)
	go func() {
		defer s.publishWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), config.PublishTimeout)
		defer cancel()
		for _, event := range events {
			if err := s.publisher.Publish(ctx, event); err != nil {
				slog.Error("publish low-stock event",
					"order_number", orderNumber,
					"variant_id", event.VariantID,
					"error", err,
				)
				continue
			}
			if s.metrics != nil {
				s.metrics.LowStockEvents.Inc()
			}
		}
	}()
}

// DrainPublishes blocks until every in-flight low-stock publish has
// finished.
func (s *OrderService) DrainPublishes() {
	s.publishWG.Wait()
}

func (s *OrderService) countRejected(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		s.metrics.OrdersRejected.WithLabelValues("insufficient_stock").Inc()
	case errors.Is(err, domain.ErrCouponNotUsable), errors.Is(err, domain.ErrCouponNotFound):
		s.metrics.OrdersRejected.WithLabelValues("coupon").Inc()
	default:
		s.metrics.OrdersRejected.WithLabelValues("other").Inc()
	}
}
