package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/oakmart/storefront/internal/domain"
	"github.com/oakmart/storefront/internal/repository"
)

// ReserveLine is one cart line handed to the ledger.
type ReserveLine struct {
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

// ReserveResult carries the locked variant reads (for pricing) and the
// low-stock events the caller must publish after its transaction commits.
type ReserveResult struct {
	Variants map[int64]domain.LockedVariant
	Events   []domain.LowStockEvent
}

// StockStore is the slice of the repository the ledger needs.
type StockStore interface {
	VariantsForUpdate(ctx context.Context, q repository.Querier, variantIDs []int64) (map[int64]domain.LockedVariant, error)
	DecrementVariantStock(ctx context.Context, q repository.Querier, variantID, qty int64) (bool, error)
	DecrementProductStock(ctx context.Context, q repository.Querier, productID, qty int64) (bool, error)
	IncrementVariantStock(ctx context.Context, q repository.Querier, variantID, qty int64) error
	IncrementProductStock(ctx context.Context, q repository.Querier, productID, qty int64) error
}

// StockLedger owns every stock mutation. All decrements happen under row
// locks plus a conditional update, so concurrent reserves of the same
// variant serialize instead of overselling.
type StockLedger struct {
	store             StockStore
	lowStockThreshold int64
}

func NewStockLedger(store StockStore, lowStockThreshold int64) *StockLedger {
	return &StockLedger{store: store, lowStockThreshold: lowStockThreshold}
}

// Reserve checks and decrements stock for every line as one unit inside the
// caller's transaction q. If any line cannot be satisfied the whole call
// fails and, once the caller rolls back, no stock has changed.
func (l *StockLedger) Reserve(ctx context.Context, q repository.Querier, lines []ReserveLine) (*ReserveResult, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("no lines to reserve: %w", domain.ErrInvalidInput)
	}

	// Duplicate cart lines for the same variant are checked against their sum.
	needed := make(map[int64]int64, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("variant %d: quantity must be positive: %w", line.VariantID, domain.ErrInvalidInput)
		}
		if _, seen := needed[line.VariantID]; !seen {
			ids = append(ids, line.VariantID)
		}
		needed[line.VariantID] += int64(line.Quantity)
	}

	variants, err := l.store.VariantsForUpdate(ctx, q, ids)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		v, ok := variants[line.VariantID]
		if !ok {
			return nil, fmt.Errorf("variant %d: %w", line.VariantID, domain.ErrVariantNotFound)
		}
		if v.ProductID != line.ProductID {
			return nil, fmt.Errorf("product %d: %w", line.ProductID, domain.ErrProductNotFound)
		}
	}

	// Check every variant before touching any row.
	perProduct := make(map[int64]int64)
	for _, id := range ids {
		v := variants[id]
		if needed[id] > v.Stock {
			return nil, fmt.Errorf("variant %d: requested %d, available %d: %w",
				id, needed[id], v.Stock, domain.ErrInsufficientStock)
		}
		perProduct[v.ProductID] += needed[id]
	}

	var events []domain.LowStockEvent
	for _, id := range ids {
		v := variants[id]
		ok, err := l.store.DecrementVariantStock(ctx, q, id, needed[id])
		if err != nil {
			return nil, err
		}
		if !ok {
			// Unreachable while the row lock is held; kept as a second guard.
			return nil, fmt.Errorf("variant %d: %w", id, domain.ErrConflict)
		}

		remaining := v.Stock - needed[id]
		if remaining < l.lowStockThreshold {
			events = append(events, domain.LowStockEvent{
				ProductID:         v.ProductID,
				VariantID:         v.ID,
				AvailableQuantity: remaining,
				Message:           fmt.Sprintf("variant %d is low on stock: %d remaining", v.ID, remaining),
			})
		}
	}

	// Product rows are not covered by the variant locks above, so decrement
	// them in ascending id order to keep concurrent reserves that share
	// products from deadlocking.
	productIDs := make([]int64, 0, len(perProduct))
	for productID := range perProduct {
		productIDs = append(productIDs, productID)
	}
	slices.Sort(productIDs)

	for _, productID := range productIDs {
		ok, err := l.store.DecrementProductStock(ctx, q, productID, perProduct[productID])
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("product %d: %w", productID, domain.ErrConflict)
		}
	}

	return &ReserveResult{Variants: variants, Events: events}, nil
}

// Release restores stock previously taken by Reserve, for cancellation and
// refund flows. It runs inside the caller's transaction q.
func (l *StockLedger) Release(ctx context.Context, q repository.Querier, lines []ReserveLine) error {
	for _, line := range lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("variant %d: quantity must be positive: %w", line.VariantID, domain.ErrInvalidInput)
		}
		if err := l.store.IncrementVariantStock(ctx, q, line.VariantID, int64(line.Quantity)); err != nil {
			return err
		}
		if err := l.store.IncrementProductStock(ctx, q, line.ProductID, int64(line.Quantity)); err != nil {
			return err
		}
	}
	return nil
}
