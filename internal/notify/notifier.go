package notify

import (
	"context"
	"log/slog"

	"github.com/oakmart/storefront/internal/domain"
)

// Publisher is the outbound port to the realtime gateway. Delivery is
// best-effort: errors are surfaced for logging only and must never fail the
// transaction that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event domain.LowStockEvent) error
}

// LogPublisher is the fallback used when no broker is configured: events are
// only visible in the service logs.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event domain.LowStockEvent) error {
	slog.Warn("low stock",
		"product_id", event.ProductID,
		"variant_id", event.VariantID,
		"available_quantity", event.AvailableQuantity,
		"message", event.Message,
	)
	return nil
}
