package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oakmart/storefront/internal/domain"
)

func (s *Store) InsertOrder(ctx context.Context, q Querier, o *domain.Order) error {
	err := q.QueryRow(ctx, `
		INSERT INTO orders (order_number, user_id, address_id, coupon_id, status, payment_status, subtotal, discount_total, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		o.OrderNumber, o.UserID, o.AddressID, o.CouponID, o.Status, o.PaymentStatus,
		o.Subtotal, o.DiscountTotal, o.Total,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Store) InsertOrderItem(ctx context.Context, q Querier, it *domain.OrderItem) error {
	err := q.QueryRow(ctx, `
		INSERT INTO order_items (order_id, product_id, variant_id, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		it.OrderID, it.ProductID, it.VariantID, it.Quantity, it.UnitPrice, it.LineTotal,
	).Scan(&it.ID)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func (s *Store) GetOrderByNumber(ctx context.Context, q Querier, orderNumber string) (*domain.Order, error) {
	var o domain.Order
	err := q.QueryRow(ctx, `
		SELECT id, order_number, user_id, address_id, coupon_id, status, payment_status,
		       subtotal, discount_total, total, created_at, updated_at
		FROM orders
		WHERE order_number = $1`, orderNumber).Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.AddressID, &o.CouponID, &o.Status, &o.PaymentStatus,
		&o.Subtotal, &o.DiscountTotal, &o.Total, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

func (s *Store) ListOrderItems(ctx context.Context, q Querier, orderID int64) ([]domain.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, variant_id, quantity, unit_price, line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
