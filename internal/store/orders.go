package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

const orderColumns = `id, customer_id, status, subtotal, discount_amount, shipping_cost, total_price,
	shipping_address_id, billing_address_id, payment_method_id, stock_released, created_at, updated_at`

// CreateOrder inserts an order and fills in its id and timestamps
func (t *Tx) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (customer_id, status, subtotal, discount_amount, shipping_cost, total_price,
			shipping_address_id, billing_address_id, payment_method_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return t.tx.GetContext(ctx, order, query,
		order.CustomerID, order.Status, order.Subtotal, order.DiscountAmount, order.ShippingCost,
		order.TotalPrice, order.ShippingAddressID, order.BillingAddressID, order.PaymentMethodID)
}

// CreateOrderItem creates a new order item
func (t *Tx) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, variant_id, quantity, price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	return t.tx.GetContext(ctx, &item.ID, query,
		item.OrderID, item.VariantID, item.Quantity, item.Price)
}

// CreateNotification creates a customer notification
func (t *Tx) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (customer_id, message, related_order_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	return t.tx.GetContext(ctx, n, query, n.CustomerID, n.Message, n.RelatedOrderID)
}

// LockOrder reads an order holding an exclusive row lock
func (t *Tx) LockOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &order, nil
}

// UpdateOrderStatus updates order status
func (t *Tx) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// MarkStockReleased records that an order's items were returned to stock
func (t *Tx) MarkStockReleased(ctx context.Context, orderID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET stock_released = TRUE WHERE id = $1", orderID)
	return err
}

// GetOrderItems retrieves all items for an order inside the transaction
func (t *Tx) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := t.tx.SelectContext(ctx, &items,
		"SELECT id, order_id, variant_id, quantity, price FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetOrderItem retrieves a single order item
func (t *Tx) GetOrderItem(ctx context.Context, itemID int64) (*models.OrderItem, error) {
	var item models.OrderItem
	err := t.tx.GetContext(ctx, &item,
		"SELECT id, order_id, variant_id, quantity, price FROM order_items WHERE id = $1", itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order item %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteOrderItem removes an order item
func (t *Tx) DeleteOrderItem(ctx context.Context, itemID int64) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM order_items WHERE id = $1", itemID)
	if err != nil {
		return fmt.Errorf("failed to delete order item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order item %d: %w", itemID, ErrNotFound)
	}
	return nil
}

// UpdateOrderSubtotal recomputes an order's subtotal from its remaining items
func (t *Tx) UpdateOrderSubtotal(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	var subtotal decimal.Decimal
	err := t.tx.GetContext(ctx, &subtotal, `
		UPDATE orders
		SET subtotal = COALESCE((SELECT SUM(price * quantity) FROM order_items WHERE order_id = $1), 0),
			updated_at = NOW()
		WHERE id = $1
		RETURNING subtotal`, orderID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to update subtotal: %w", err)
	}
	return subtotal, nil
}

// IsEventProcessed checks if an event has been processed
func (t *Tx) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (t *Tx) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByCustomer retrieves orders for a customer, newest first
func (s *Store) GetOrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE customer_id = $1 ORDER BY created_at DESC", customerID)
	return orders, err
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT id, order_id, variant_id, quantity, price FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// ListNotifications retrieves a customer's notifications, newest first
func (s *Store) ListNotifications(ctx context.Context, customerID int64) ([]models.Notification, error) {
	var notifications []models.Notification
	err := s.db.SelectContext(ctx, &notifications, `
		SELECT id, customer_id, message, related_order_id, is_read, created_at
		FROM notifications WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
	return notifications, err
}
