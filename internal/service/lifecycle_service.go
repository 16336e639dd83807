package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var knownStatuses = map[string]bool{
	models.OrderStatusPending:    true,
	models.OrderStatusProcessing: true,
	models.OrderStatusShipped:    true,
	models.OrderStatusDelivered:  true,
	models.OrderStatusCancelled:  true,
}

// LifecycleService applies order status changes and line item deletions,
// keeping stock and order totals consistent.
type LifecycleService struct {
	store     *store.Store
	ledger    *InventoryLedger
	publisher EventPublisher
	logger    *zap.Logger
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(store *store.Store, ledger *InventoryLedger, publisher EventPublisher) *LifecycleService {
	return &LifecycleService{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

type transition struct {
	order    *models.Order
	from     string
	to       string
	released bool
	restock  []models.OrderItemData
}

func (t *transition) changed() bool {
	return t.from != t.to
}

// CancelOrder moves an order to cancelled
func (ls *LifecycleService) CancelOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return ls.ChangeStatus(ctx, orderID, models.OrderStatusCancelled)
}

// CancelCustomerOrder cancels one of the customer's own orders. Only pending
// orders can be cancelled; cancelling a cancelled order is a no-op.
func (ls *LifecycleService) CancelCustomerOrder(ctx context.Context, customerID, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.CancelCustomerOrder")
	defer span.End()

	guard := func(order *models.Order) error {
		if order.CustomerID != customerID {
			return ErrOrderNotFound
		}
		switch models.NormalizeStatus(order.Status) {
		case models.OrderStatusPending, models.OrderStatusCancelled:
			return nil
		}
		return fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, orderID, order.Status)
	}

	var t *transition
	err := ls.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		t, err = ls.apply(ctx, tx, orderID, models.OrderStatusCancelled, guard)
		return err
	})
	if err != nil {
		return nil, err
	}
	ls.after(ctx, t)
	return t.order, nil
}

// ChangeStatus sets an order's status under its row lock. The first
// pending to cancelled transition returns every item to stock; saving the
// same status again changes nothing.
func (ls *LifecycleService) ChangeStatus(ctx context.Context, orderID int64, status string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.ChangeStatus")
	defer span.End()

	status = models.NormalizeStatus(status)
	if !knownStatuses[status] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var t *transition
	err := ls.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		t, err = ls.apply(ctx, tx, orderID, status, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	ls.after(ctx, t)
	return t.order, nil
}

// HandleStatusChanged applies a status change reported by fulfilment.
// Events are applied at most once by event id.
func (ls *LifecycleService) HandleStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	ctx, span := util.StartSpan(ctx, "LifecycleService.HandleStatusChanged")
	defer span.End()

	if strings.TrimSpace(event.EventID) == "" {
		ls.logger.Warn("Ignoring status change without event id",
			zap.Int64("order_id", event.OrderID),
			zap.String("status", event.Status))
		return nil
	}

	status := models.NormalizeStatus(event.Status)
	if !knownStatuses[status] {
		ls.logger.Warn("Ignoring status change with unknown status",
			zap.String("event_id", event.EventID),
			zap.Int64("order_id", event.OrderID),
			zap.String("status", event.Status))
		return nil
	}

	var t *transition
	err := ls.store.WithTx(ctx, func(tx *store.Tx) error {
		processed, err := tx.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return fmt.Errorf("failed to check event processed: %w", err)
		}
		if processed {
			ls.logger.Info("Event already processed", zap.String("event_id", event.EventID))
			return nil
		}

		t, err = ls.apply(ctx, tx, event.OrderID, status, nil)
		if errors.Is(err, ErrOrderNotFound) {
			ls.logger.Warn("Status change for unknown order",
				zap.String("event_id", event.EventID),
				zap.Int64("order_id", event.OrderID))
		} else if err != nil {
			return err
		}

		return tx.MarkEventProcessed(ctx, event.EventID, event.EventType)
	})
	if err != nil {
		return err
	}
	if t != nil {
		ls.after(ctx, t)
	}
	return nil
}

func (ls *LifecycleService) apply(ctx context.Context, tx *store.Tx, orderID int64, status string, guard func(*models.Order) error) (*transition, error) {
	order, err := tx.LockOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if guard != nil {
		if err := guard(order); err != nil {
			return nil, err
		}
	}

	t := &transition{order: order, from: models.NormalizeStatus(order.Status), to: status}
	if !t.changed() {
		return t, nil
	}

	if t.from == models.OrderStatusPending && status == models.OrderStatusCancelled && !order.StockReleased {
		items, err := tx.GetOrderItems(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("failed to get order items: %w", err)
		}
		for _, item := range items {
			if err := ls.ledger.Restock(ctx, tx, item.VariantID, item.Quantity); err != nil {
				return nil, err
			}
			t.restock = append(t.restock, models.OrderItemData{
				VariantID: item.VariantID,
				Quantity:  item.Quantity,
				Price:     item.Price,
			})
		}
		if err := tx.MarkStockReleased(ctx, orderID); err != nil {
			return nil, fmt.Errorf("failed to mark stock released: %w", err)
		}
		order.StockReleased = true
		t.released = true
	}

	if err := tx.UpdateOrderStatus(ctx, orderID, status); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	order.Status = status
	return t, nil
}

func (ls *LifecycleService) after(ctx context.Context, t *transition) {
	if !t.changed() {
		return
	}

	util.OrderStatusChangesTotal.WithLabelValues(t.from, t.to).Inc()
	ls.logger.Info("Order status changed",
		zap.Int64("order_id", t.order.ID),
		zap.String("from", t.from),
		zap.String("to", t.to),
		zap.Bool("restocked", t.released))

	if !t.released {
		return
	}
	util.OrdersCancelledTotal.Inc()

	if ls.publisher == nil {
		return
	}
	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: time.Now(),
		},
		OrderID:    t.order.ID,
		CustomerID: t.order.CustomerID,
		Restocked:  t.restock,
	}
	if err := ls.publisher.PublishOrderCancelled(ctx, event); err != nil {
		ls.logger.Error("Failed to publish OrderCancelled event",
			zap.Int64("order_id", t.order.ID),
			zap.Error(err))
	}
}

// DeleteOrderItem removes a line from an order and recomputes the order's
// subtotal from the remaining items. Stock is not touched.
func (ls *LifecycleService) DeleteOrderItem(ctx context.Context, orderID, itemID int64) (decimal.Decimal, error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.DeleteOrderItem")
	defer span.End()

	var subtotal decimal.Decimal
	err := ls.store.WithTx(ctx, func(tx *store.Tx) error {
		item, err := tx.GetOrderItem(ctx, itemID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrderItemNotFound
		}
		if err != nil {
			return err
		}
		if item.OrderID != orderID {
			return ErrOrderItemNotFound
		}

		if _, err := tx.LockOrder(ctx, orderID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if err := tx.DeleteOrderItem(ctx, itemID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrOrderItemNotFound
			}
			return err
		}

		subtotal, err = tx.UpdateOrderSubtotal(ctx, orderID)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	util.OrderItemsRemovedTotal.Inc()
	ls.logger.Info("Order item removed",
		zap.Int64("order_id", orderID),
		zap.Int64("item_id", itemID),
		zap.String("subtotal", subtotal.StringFixed(2)))

	if ls.publisher != nil {
		event := &models.OrderItemRemovedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderItemRemoved,
				Timestamp: time.Now(),
			},
			OrderID:  orderID,
			ItemID:   itemID,
			Subtotal: subtotal,
		}
		if err := ls.publisher.PublishOrderItemRemoved(ctx, event); err != nil {
			ls.logger.Error("Failed to publish OrderItemRemoved event",
				zap.Int64("order_id", orderID),
				zap.Error(err))
		}
	}
	return subtotal, nil
}
