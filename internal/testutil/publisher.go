package testutil

import (
	"context"
	"sync"

	"github.com/oakmart/storefront/internal/domain"
)

// CollectPublisher records published low-stock events for assertions.
type CollectPublisher struct {
	mu     sync.Mutex
	events []domain.LowStockEvent
}

func (p *CollectPublisher) Publish(_ context.Context, event domain.LowStockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *CollectPublisher) Events() []domain.LowStockEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.LowStockEvent(nil), p.events...)
}
