package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

var variantCols = []string{"id", "shoe_id", "shoe_name", "size", "color",
	"stock_management", "stock", "in_stock", "price", "original_price", "discount"}

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.New(sqlx.NewDb(db, "postgres")), mock
}

type fakePublisher struct {
	mu        sync.Mutex
	placed    []*models.OrderPlacedEvent
	cancelled []*models.OrderCancelledEvent
	removed   []*models.OrderItemRemovedEvent
}

func (p *fakePublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, e)
	return nil
}

func (p *fakePublisher) PublishOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

func (p *fakePublisher) PublishOrderItemRemoved(_ context.Context, e *models.OrderItemRemovedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, e)
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// staticCart serves a fixed set of lines and records Clear calls
type staticCart struct {
	entries []CartEntry
	cleared bool
}

func (c *staticCart) Kind() string { return "static" }

func (c *staticCart) Lines(context.Context) ([]CartEntry, error) { return c.entries, nil }

func (c *staticCart) Add(context.Context, int64) error { return nil }

func (c *staticCart) Increment(context.Context, int64) error { return nil }

func (c *staticCart) Decrement(context.Context, int64) error { return nil }

func (c *staticCart) Remove(context.Context, int64) error { return nil }

func (c *staticCart) Clear(context.Context) error {
	c.cleared = true
	return nil
}
