package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	Stock     int64 // denormalized sum of variant stock
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ProductVariant struct {
	ID        int64
	ProductID int64
	SKU       string
	Name      string
	Price     decimal.Decimal
	Stock     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LockedVariant is the slice of a variant read under FOR UPDATE during a
// reserve: everything the ledger needs to check and price a cart line.
type LockedVariant struct {
	ID        int64
	ProductID int64
	Price     decimal.Decimal
	Stock     int64
}

// LowStockEvent is pushed to the realtime gateway when a decrement leaves a
// variant below the replenishment threshold.
type LowStockEvent struct {
	ProductID         int64  `json:"product_id"`
	VariantID         int64  `json:"variant_id"`
	AvailableQuantity int64  `json:"available_quantity"`
	Message           string `json:"message"`
}
