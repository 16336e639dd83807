package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Stock management modes
const (
	StockManagementQuantity = "quantity"
	StockManagementBoolean  = "boolean"
)

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Payment types
const (
	PaymentTypeCard  = "card"
	PaymentTypeMpesa = "mpesa"
)

// NormalizeStatus lower-cases and trims a status so "Pending" and "pending"
// compare equal.
func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// Customer is the read-only profile of an authenticated shopper
type Customer struct {
	ID       int64  `db:"id" json:"id"`
	FullName string `db:"full_name" json:"full_name"`
	Email    string `db:"email" json:"email"`
	Phone    string `db:"phone" json:"phone"`
}

// Shoe is the product a variant belongs to
type Shoe struct {
	ID            int64           `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Price         decimal.Decimal `db:"price" json:"price"`
	OriginalPrice decimal.Decimal `db:"original_price" json:"original_price"`
	Discount      decimal.Decimal `db:"discount" json:"discount"`
}

// Variant is a purchasable size/color of a shoe, joined with its pricing
type Variant struct {
	ID              int64           `db:"id" json:"id"`
	ShoeID          int64           `db:"shoe_id" json:"shoe_id"`
	ShoeName        string          `db:"shoe_name" json:"shoe_name"`
	Size            string          `db:"size" json:"size"`
	Color           string          `db:"color" json:"color"`
	StockManagement string          `db:"stock_management" json:"stock_management"`
	Stock           int             `db:"stock" json:"stock"`
	InStock         bool            `db:"in_stock" json:"in_stock"`
	Price           decimal.Decimal `db:"price" json:"price"`
	OriginalPrice   decimal.Decimal `db:"original_price" json:"original_price"`
	Discount        decimal.Decimal `db:"discount" json:"discount"`
}

// EffectivePrice is the current sale price after discount.
func (v *Variant) EffectivePrice() decimal.Decimal {
	return v.Price
}

// StockLevel is the locked view of a variant used by the inventory ledger
type StockLevel struct {
	VariantID       int64  `db:"id"`
	StockManagement string `db:"stock_management"`
	Stock           int    `db:"stock"`
	InStock         bool   `db:"in_stock"`
}

// CartLine is a persisted cart entry, unique per (customer, variant)
type CartLine struct {
	ID         int64     `db:"id" json:"id"`
	CustomerID int64     `db:"customer_id" json:"customer_id"`
	VariantID  int64     `db:"variant_id" json:"variant_id"`
	Quantity   int       `db:"quantity" json:"quantity"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Address is a shipping or billing destination. CustomerID is nil for
// order-only addresses.
type Address struct {
	ID         int64  `db:"id" json:"id"`
	CustomerID *int64 `db:"customer_id" json:"customer_id,omitempty"`
	FirstName  string `db:"first_name" json:"first_name"`
	LastName   string `db:"last_name" json:"last_name"`
	Street     string `db:"street" json:"street"`
	City       string `db:"city" json:"city"`
	ZipCode    string `db:"zip_code" json:"zip_code"`
}

// PaymentMethod describes a card or M-Pesa payment. The CVV never reaches
// this type.
type PaymentMethod struct {
	ID          int64      `db:"id" json:"id"`
	CustomerID  *int64     `db:"customer_id" json:"customer_id,omitempty"`
	PaymentType string     `db:"payment_type" json:"payment_type"`
	CardNum     string     `db:"card_num" json:"card_num,omitempty"`
	ExpDate     *time.Time `db:"exp_date" json:"exp_date,omitempty"`
	HolderName  string     `db:"holder_name" json:"holder_name,omitempty"`
	CardType    string     `db:"card_type" json:"card_type,omitempty"`
	MpesaPhone  string     `db:"mpesa_phone" json:"mpesa_phone,omitempty"`
}

// Order represents a customer order
type Order struct {
	ID                int64           `db:"id" json:"id"`
	CustomerID        int64           `db:"customer_id" json:"customer_id"`
	Status            string          `db:"status" json:"status"`
	Subtotal          decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountAmount    decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	ShippingCost      decimal.Decimal `db:"shipping_cost" json:"shipping_cost"`
	TotalPrice        decimal.Decimal `db:"total_price" json:"total_price"`
	ShippingAddressID int64           `db:"shipping_address_id" json:"shipping_address_id"`
	BillingAddressID  int64           `db:"billing_address_id" json:"billing_address_id"`
	PaymentMethodID   *int64          `db:"payment_method_id" json:"payment_method_id,omitempty"`
	StockReleased     bool            `db:"stock_released" json:"-"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// AmountDue is what the customer is charged: total price plus shipping.
func (o *Order) AmountDue() decimal.Decimal {
	return o.TotalPrice.Add(o.ShippingCost)
}

// IsCashOnDelivery reports whether the order has no payment method attached.
func (o *Order) IsCashOnDelivery() bool {
	return o.PaymentMethodID == nil
}

// OrderItem snapshots the variant's effective price at purchase time
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	VariantID int64           `db:"variant_id" json:"variant_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Price     decimal.Decimal `db:"price" json:"price"`
}

// LineTotal is price × quantity.
func (i *OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Notification is an informational message for a customer
type Notification struct {
	ID             int64     `db:"id" json:"id"`
	CustomerID     int64     `db:"customer_id" json:"customer_id"`
	Message        string    `db:"message" json:"message"`
	RelatedOrderID *int64    `db:"related_order_id" json:"related_order_id,omitempty"`
	IsRead         bool      `db:"is_read" json:"is_read"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// CompanySettings is the storefront-wide settings record
type CompanySettings struct {
	ID            int64           `db:"id" json:"id"`
	CompanyName   string          `db:"company_name" json:"company_name"`
	ContactEmail  string          `db:"contact_email" json:"contact_email"`
	ContactPhone  string          `db:"contact_phone" json:"contact_phone"`
	BusinessHours string          `db:"business_hours" json:"business_hours"`
	Address       string          `db:"address" json:"address"`
	ShippingFee   decimal.Decimal `db:"shipping_fee" json:"shipping_fee"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
