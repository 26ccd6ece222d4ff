package repository

import (
	"context"
	"fmt"

	"github.com/oakmart/storefront/internal/domain"
)

// VariantsForUpdate locks the referenced variant rows and returns them keyed
// by id. Rows are locked in ascending id order so concurrent reserves that
// touch overlapping variants cannot deadlock. Missing ids are simply absent
// from the result; the caller decides what that means.
func (s *Store) VariantsForUpdate(ctx context.Context, q Querier, variantIDs []int64) (map[int64]domain.LockedVariant, error) {
	rows, err := q.Query(ctx, `
		SELECT id, product_id, price, stock
		FROM product_variants
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, variantIDs)
	if err != nil {
		return nil, fmt.Errorf("lock variants: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]domain.LockedVariant, len(variantIDs))
	for rows.Next() {
		var v domain.LockedVariant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Price, &v.Stock); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		out[v.ID] = v
	}
	return out, rows.Err()
}

// DecrementVariantStock decrements conditionally: zero rows affected means
// the guard `stock >= qty` failed and nothing changed.
func (s *Store) DecrementVariantStock(ctx context.Context, q Querier, variantID, qty int64) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE product_variants
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, variantID, qty)
	if err != nil {
		return false, fmt.Errorf("decrement variant stock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DecrementProductStock(ctx context.Context, q Querier, productID, qty int64) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, productID, qty)
	if err != nil {
		return false, fmt.Errorf("decrement product stock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) IncrementVariantStock(ctx context.Context, q Querier, variantID, qty int64) error {
	_, err := q.Exec(ctx, `
		UPDATE product_variants
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1`, variantID, qty)
	if err != nil {
		return fmt.Errorf("increment variant stock: %w", err)
	}
	return nil
}

func (s *Store) IncrementProductStock(ctx context.Context, q Querier, productID, qty int64) error {
	_, err := q.Exec(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1`, productID, qty)
	if err != nil {
		return fmt.Errorf("increment product stock: %w", err)
	}
	return nil
}
