package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Selection keywords
const (
	ChoiceNew  = "new"
	ChoiceSame = "same"
	ChoiceCOD  = "cod"
)

// EventPublisher publishes order domain events
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderItemRemoved(ctx context.Context, event *models.OrderItemRemovedEvent) error
}

// Locker guards a key for a bounded time
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// OrderService turns a cart into a persisted order
type OrderService struct {
	store     *store.Store
	carts     *CartService
	settings  *CompanySettingsService
	ledger    *InventoryLedger
	publisher EventPublisher
	locker    Locker
	lockTTL   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderService creates a new order service. locker may be nil.
func NewOrderService(
	store *store.Store,
	carts *CartService,
	settings *CompanySettingsService,
	ledger *InventoryLedger,
	publisher EventPublisher,
	locker Locker,
	lockTTL time.Duration,
) *OrderService {
	return &OrderService{
		store:     store,
		carts:     carts,
		settings:  settings,
		ledger:    ledger,
		publisher: publisher,
		locker:    locker,
		lockTTL:   lockTTL,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// AddressSelection is an owned address id, "new" with inline fields, or
// "same" for billing.
type AddressSelection struct {
	Choice  string       `json:"choice"`
	Address AddressInput `json:"address"`
}

// PaymentSelection is an owned payment method id, "new" with inline fields,
// or "cod".
type PaymentSelection struct {
	Choice string       `json:"choice"`
	Method PaymentInput `json:"method"`
}

// PlaceOrderRequest is one checkout submission
type PlaceOrderRequest struct {
	CustomerID int64            `json:"-"`
	Cart       CartSource       `json:"-"`
	Contact    ContactInput     `json:"contact"`
	Shipping   AddressSelection `json:"shipping"`
	Billing    AddressSelection `json:"billing"`
	Payment    PaymentSelection `json:"payment"`
}

func (r *PlaceOrderRequest) selections() Selections {
	sel := Selections{
		Shipping: strings.TrimSpace(r.Shipping.Choice),
		Billing:  strings.TrimSpace(r.Billing.Choice),
		Payment:  strings.TrimSpace(r.Payment.Choice),
	}
	if sel.Shipping == "" {
		sel.Shipping = ChoiceNew
	}
	if sel.Billing == "" {
		sel.Billing = ChoiceSame
	}
	if sel.Payment == "" {
		sel.Payment = ChoiceNew
	}
	return sel
}

// PlacedOrder is a committed order with its items
type PlacedOrder struct {
	Order *models.Order      `json:"order"`
	Items []models.OrderItem `json:"items"`
}

// OrderDetail is an order as shown to its customer
type OrderDetail struct {
	Order     *models.Order      `json:"order"`
	Items     []models.OrderItem `json:"items"`
	AmountDue decimal.Decimal    `json:"amount_due"`
}

// CheckoutForm is everything needed to render the checkout page
type CheckoutForm struct {
	Contact        ContactInput           `json:"contact"`
	Addresses      []models.Address       `json:"addresses"`
	PaymentMethods []models.PaymentMethod `json:"payment_methods"`
	Cart           *CartSummary           `json:"cart"`
	Selections     Selections             `json:"selections"`
}

type orderTotals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// computeTotals prices the order from list price and per-unit discount.
// Items keep the effective price separately.
func computeTotals(lines []LineItem) orderTotals {
	t := orderTotals{Subtotal: decimal.Zero, Discount: decimal.Zero}
	for _, line := range lines {
		qty := decimal.NewFromInt(int64(line.Quantity))
		t.Subtotal = t.Subtotal.Add(line.Variant.OriginalPrice.Mul(qty))
		t.Discount = t.Discount.Add(line.Variant.Discount.Mul(qty))
	}
	t.Total = t.Subtotal.Sub(t.Discount)
	return t
}

// CheckoutForm prefills contact details from the customer profile and lists
// the customer's reusable addresses and payment methods.
func (s *OrderService) CheckoutForm(ctx context.Context, customerID int64, src CartSource) (*CheckoutForm, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CheckoutForm")
	defer span.End()

	customer, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	addresses, err := s.store.ListCustomerAddresses(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	payments, err := s.store.ListCustomerPaymentMethods(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	summary, err := s.carts.Summary(ctx, src)
	if err != nil {
		return nil, err
	}

	return &CheckoutForm{
		Contact: ContactInput{
			FullName: customer.FullName,
			Email:    customer.Email,
			Phone:    customer.Phone,
		},
		Addresses:      addresses,
		PaymentMethods: payments,
		Cart:           summary,
		Selections:     Selections{Shipping: ChoiceNew, Billing: ChoiceSame, Payment: ChoiceNew},
	}, nil
}

// PlaceOrder validates the whole submission, then creates the order, its
// items and stock reservations in one transaction. Validation problems are
// returned together as a *CheckoutError.
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlacedOrder, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	unlock, err := s.lockCheckout(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cerr := &CheckoutError{Selections: req.selections()}

	req.Contact.Normalize()
	cerr.add(ValidateContact(&req.Contact)...)

	shipping, problems, err := s.resolveAddress(ctx, req.CustomerID, SectionShipping, req.Shipping)
	if err != nil {
		return nil, err
	}
	cerr.add(problems...)

	var billing *models.Address
	if cerr.Selections.Billing == ChoiceSame {
		billing = shipping
	} else {
		billing, problems, err = s.resolveAddress(ctx, req.CustomerID, SectionBilling, req.Billing)
		if err != nil {
			return nil, err
		}
		cerr.add(problems...)
	}

	payment, problems, err := s.resolvePayment(ctx, req.CustomerID, req.Payment)
	if err != nil {
		return nil, err
	}
	cerr.add(problems...)

	lines, err := s.carts.Lines(ctx, req.Cart)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		cerr.add(Problem{Section: SectionOrder, Message: "Your cart is empty.", Code: ErrEmptyCart})
	}

	if !cerr.empty() {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		s.logger.Info("Checkout rejected",
			zap.Int64("customer_id", req.CustomerID),
			zap.Int("problems", len(cerr.Problems)))
		return nil, cerr
	}

	fee, err := s.settings.ShippingFee(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve shipping fee: %w", err)
	}

	placed, err := s.createOrder(ctx, req.CustomerID, shipping, billing, payment, lines, fee)
	if err != nil {
		var stockErr *StockError
		if errors.As(err, &stockErr) {
			util.OrdersFailedTotal.WithLabelValues("out_of_stock").Inc()
			cerr.add(Problem{Section: SectionOrder, Message: stockErr.Error(), Code: ErrOutOfStock})
			return nil, cerr
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", placed.Order.ID),
		zap.Int64("customer_id", req.CustomerID),
		zap.String("total_price", placed.Order.TotalPrice.StringFixed(2)))

	if err := req.Cart.Clear(ctx); err != nil {
		s.logger.Error("Failed to clear cart after order",
			zap.Int64("order_id", placed.Order.ID),
			zap.String("source", req.Cart.Kind()),
			zap.Error(err))
	}

	s.publishPlaced(ctx, placed)
	return placed, nil
}

// createOrder writes detached records, the order, its items and the
// notification. Lines are reserved in ascending variant order.
func (s *OrderService) createOrder(
	ctx context.Context,
	customerID int64,
	shipping, billing *models.Address,
	payment *models.PaymentMethod,
	lines []LineItem,
	fee decimal.Decimal,
) (*PlacedOrder, error) {
	sorted := make([]LineItem, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Variant.ID < sorted[j].Variant.ID })

	totals := computeTotals(sorted)
	placed := &PlacedOrder{}

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if shipping.ID == 0 {
			if err := tx.CreateAddress(ctx, shipping); err != nil {
				return fmt.Errorf("failed to save shipping address: %w", err)
			}
		}
		if billing.ID == 0 {
			if err := tx.CreateAddress(ctx, billing); err != nil {
				return fmt.Errorf("failed to save billing address: %w", err)
			}
		}
		var paymentID *int64
		if payment != nil {
			if payment.ID == 0 {
				if err := tx.CreatePaymentMethod(ctx, payment); err != nil {
					return fmt.Errorf("failed to save payment method: %w", err)
				}
			}
			paymentID = &payment.ID
		}

		order := &models.Order{
			CustomerID:        customerID,
			Status:            models.OrderStatusPending,
			Subtotal:          totals.Subtotal,
			DiscountAmount:    totals.Discount,
			ShippingCost:      fee,
			TotalPrice:        totals.Total,
			ShippingAddressID: shipping.ID,
			BillingAddressID:  billing.ID,
			PaymentMethodID:   paymentID,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		items := make([]models.OrderItem, 0, len(sorted))
		for _, line := range sorted {
			item := models.OrderItem{
				OrderID:   order.ID,
				VariantID: line.Variant.ID,
				Quantity:  line.Quantity,
				Price:     line.UnitPrice,
			}
			if err := tx.CreateOrderItem(ctx, &item); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
			if err := s.ledger.Reserve(ctx, tx, order.Status, item.VariantID, item.Quantity); err != nil {
				return err
			}
			items = append(items, item)
		}

		notification := &models.Notification{
			CustomerID:     customerID,
			Message:        fmt.Sprintf("Your order #%d has been confirmed!", order.ID),
			RelatedOrderID: &order.ID,
		}
		if err := tx.CreateNotification(ctx, notification); err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}

		placed.Order = order
		placed.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

func (s *OrderService) resolveAddress(ctx context.Context, customerID int64, section string, sel AddressSelection) (*models.Address, []Problem, error) {
	choice := strings.TrimSpace(sel.Choice)
	if choice == "" || choice == ChoiceNew {
		if problems := ValidateAddress(section, &sel.Address); len(problems) > 0 {
			return nil, problems, nil
		}
		return sel.Address.ToModel(), nil, nil
	}

	notFound := []Problem{{
		Section: section,
		Message: fmt.Sprintf("Selected %s address not found.", section),
		Code:    ErrAddressNotFound,
	}}
	id, err := strconv.ParseInt(choice, 10, 64)
	if err != nil {
		return nil, notFound, nil
	}
	addr, err := s.store.GetCustomerAddress(ctx, customerID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load %s address: %w", section, err)
	}
	return addr, nil, nil
}

func (s *OrderService) resolvePayment(ctx context.Context, customerID int64, sel PaymentSelection) (*models.PaymentMethod, []Problem, error) {
	choice := strings.ToLower(strings.TrimSpace(sel.Choice))
	switch choice {
	case "":
		return nil, []Problem{{Section: SectionPayment, Message: "Please select a payment method.", Code: ErrNoPaymentSelected}}, nil
	case ChoiceCOD:
		return nil, nil, nil
	case ChoiceNew:
		if problems := ValidatePayment(&sel.Method, s.now()); len(problems) > 0 {
			return nil, problems, nil
		}
		return sel.Method.ToModel(), nil, nil
	}

	notFound := []Problem{{Section: SectionPayment, Message: "Selected payment method not found.", Code: ErrPaymentNotFound}}
	id, err := strconv.ParseInt(choice, 10, 64)
	if err != nil {
		return nil, notFound, nil
	}
	pm, err := s.store.GetCustomerPaymentMethod(ctx, customerID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load payment method: %w", err)
	}
	return pm, nil, nil
}

// lockCheckout serialises checkouts per customer. When the lock backend is
// down the row locks still protect stock, so checkout proceeds.
func (s *OrderService) lockCheckout(ctx context.Context, customerID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	key := fmt.Sprintf("checkout:%d", customerID)
	ok, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		s.logger.Warn("Checkout lock unavailable, continuing without it",
			zap.Int64("customer_id", customerID),
			zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		util.OrdersFailedTotal.WithLabelValues("checkout_in_progress").Inc()
		return nil, ErrCheckoutInProgress
	}

	return func() {
		if err := s.locker.ReleaseLock(context.Background(), key); err != nil {
			s.logger.Warn("Failed to release checkout lock",
				zap.Int64("customer_id", customerID),
				zap.Error(err))
		}
	}, nil
}

func (s *OrderService) publishPlaced(ctx context.Context, placed *PlacedOrder) {
	if s.publisher == nil {
		return
	}

	items := make([]models.OrderItemData, 0, len(placed.Items))
	for _, item := range placed.Items {
		items = append(items, models.OrderItemData{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	order := placed.Order
	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		TotalPrice:     order.TotalPrice,
		ShippingCost:   order.ShippingCost,
		CashOnDelivery: order.IsCashOnDelivery(),
		Items:          items,
	}

	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

// GetOrder retrieves one of the customer's orders with its items
func (s *OrderService) GetOrder(ctx context.Context, customerID, orderID int64) (*OrderDetail, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, ErrOrderNotFound
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &OrderDetail{Order: order, Items: items, AmountDue: order.AmountDue()}, nil
}

// ListOrders retrieves the customer's orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, customerID int64) ([]models.Order, error) {
	return s.store.GetOrdersByCustomer(ctx, customerID)
}

// ListNotifications retrieves the customer's notifications, newest first
func (s *OrderService) ListNotifications(ctx context.Context, customerID int64) ([]models.Notification, error) {
	return s.store.ListNotifications(ctx, customerID)
}
