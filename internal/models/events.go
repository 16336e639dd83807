package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypeOrderItemRemoved   = "ORDER_ITEM_REMOVED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published once the order and its items are committed
type OrderPlacedEvent struct {
	BaseEvent
	OrderID        int64           `json:"order_id"`
	CustomerID     int64           `json:"customer_id"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	CashOnDelivery bool            `json:"cash_on_delivery"`
	Items          []OrderItemData `json:"items"`
}

// OrderCancelledEvent published after a pending order was cancelled and restocked
type OrderCancelledEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	CustomerID int64           `json:"customer_id"`
	Restocked  []OrderItemData `json:"restocked"`
}

// OrderItemRemovedEvent published when a line item is deleted from an order
type OrderItemRemovedEvent struct {
	BaseEvent
	OrderID  int64           `json:"order_id"`
	ItemID   int64           `json:"item_id"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// OrderStatusChangedEvent is consumed from the fulfilment topic
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	VariantID int64           `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}
