package service

import (
	"errors"
	"fmt"
	"strings"

	"storefront/internal/models"
)

var (
	ErrContactInvalid     = errors.New("contact details invalid")
	ErrAddressInvalid     = errors.New("address invalid")
	ErrAddressNotFound    = errors.New("address not found")
	ErrPaymentInvalid     = errors.New("payment method invalid")
	ErrPaymentNotFound    = errors.New("payment method not found")
	ErrNoPaymentSelected  = errors.New("no payment method selected")
	ErrOutOfStock         = errors.New("insufficient stock")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrVariantNotFound    = errors.New("variant not found")
	ErrCartLineNotFound   = errors.New("cart line not found")
	ErrInvalidCartAction  = errors.New("invalid cart action")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderItemNotFound  = errors.New("order item not found")
	ErrInvalidStatus      = errors.New("invalid order status")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrCheckoutInProgress = errors.New("checkout already in progress")
)

// ErrInsufficientStock is the order-level name of ErrOutOfStock.
var ErrInsufficientStock = ErrOutOfStock

// StockError describes a rejected reservation
type StockError struct {
	VariantID int64
	Mode      string
	Available int
	Requested int
}

func (e *StockError) Error() string {
	if e.Mode == models.StockManagementBoolean {
		return fmt.Sprintf("Item %d is out of stock.", e.VariantID)
	}
	return fmt.Sprintf("Insufficient stock for item %d. Available %d, requested %d.",
		e.VariantID, e.Available, e.Requested)
}

func (e *StockError) Unwrap() error {
	return ErrOutOfStock
}

// Checkout sections a problem can belong to
const (
	SectionContact  = "contact"
	SectionShipping = "shipping"
	SectionBilling  = "billing"
	SectionPayment  = "payment"
	SectionOrder    = "order"
)

// Problem is one checkout failure. An empty Field marks a form-level error.
type Problem struct {
	Section string `json:"section"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    error  `json:"-"`
}

// Selections echoes the choices to re-render after a failed checkout
type Selections struct {
	Shipping string `json:"shipping"`
	Billing  string `json:"billing"`
	Payment  string `json:"payment"`
}

// CheckoutError carries every problem found in one checkout attempt.
// errors.Is matches any of the accumulated problem codes.
type CheckoutError struct {
	Problems   []Problem  `json:"problems"`
	Selections Selections `json:"selections"`
}

func (e *CheckoutError) Error() string {
	seen := make(map[error]bool)
	var parts []string
	for _, p := range e.Problems {
		if p.Code == nil || seen[p.Code] {
			continue
		}
		seen[p.Code] = true
		parts = append(parts, p.Code.Error())
	}
	return "checkout failed: " + strings.Join(parts, "; ")
}

func (e *CheckoutError) Is(target error) bool {
	for _, p := range e.Problems {
		if p.Code == target {
			return true
		}
	}
	return false
}

// FieldErrors groups field-level messages by "section.field"
func (e *CheckoutError) FieldErrors() map[string][]string {
	out := make(map[string][]string)
	for _, p := range e.Problems {
		if p.Field == "" {
			continue
		}
		key := p.Section + "." + p.Field
		out[key] = append(out[key], p.Message)
	}
	return out
}

// FormErrors groups form-level messages by section
func (e *CheckoutError) FormErrors() map[string][]string {
	out := make(map[string][]string)
	for _, p := range e.Problems {
		if p.Field != "" {
			continue
		}
		out[p.Section] = append(out[p.Section], p.Message)
	}
	return out
}

func (e *CheckoutError) add(problems ...Problem) {
	e.Problems = append(e.Problems, problems...)
}

func (e *CheckoutError) empty() bool {
	return len(e.Problems) == 0
}
