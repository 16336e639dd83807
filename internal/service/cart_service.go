package service

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Quantity actions accepted by UpdateQuantity
const (
	CartActionIncrement = "increment"
	CartActionDecrement = "decrement"
)

// LineItem is a cart entry resolved against its variant
type LineItem struct {
	Variant   *models.Variant `json:"variant"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// CartSummary is the priced view of a cart
type CartSummary struct {
	Source      string          `json:"source"`
	Lines       []LineItem      `json:"lines"`
	ItemCount   int             `json:"item_count"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	ShippingFee decimal.Decimal `json:"shipping_fee"`
	Total       decimal.Decimal `json:"total"`
}

// CartService prices and mutates carts from either source
type CartService struct {
	store    *store.Store
	settings *CompanySettingsService
	logger   *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store *store.Store, settings *CompanySettingsService) *CartService {
	return &CartService{
		store:    store,
		settings: settings,
		logger:   util.GetLogger(),
	}
}

// Lines resolves every entry of the source to its variant. Entries whose
// variant no longer exists are skipped.
func (cs *CartService) Lines(ctx context.Context, src CartSource) ([]LineItem, error) {
	entries, err := src.Lines(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.VariantID
	}
	variants, err := cs.store.GetVariantsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load variants: %w", err)
	}

	lines := make([]LineItem, 0, len(entries))
	for _, e := range entries {
		variant, ok := variants[e.VariantID]
		if !ok {
			cs.logger.Warn("Skipping cart line for unknown variant",
				zap.String("source", src.Kind()),
				zap.Int64("variant_id", e.VariantID))
			continue
		}
		price := variant.EffectivePrice()
		lines = append(lines, LineItem{
			Variant:   variant,
			Quantity:  e.Quantity,
			UnitPrice: price,
			LineTotal: price.Mul(decimal.NewFromInt(int64(e.Quantity))),
		})
	}
	return lines, nil
}

// Summary prices the cart and adds the shipping fee
func (cs *CartService) Summary(ctx context.Context, src CartSource) (*CartSummary, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Summary")
	defer span.End()

	lines, err := cs.Lines(ctx, src)
	if err != nil {
		return nil, err
	}
	fee, err := cs.settings.ShippingFee(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve shipping fee: %w", err)
	}

	summary := &CartSummary{
		Source:      src.Kind(),
		Lines:       lines,
		Subtotal:    decimal.Zero,
		ShippingFee: fee,
	}
	if summary.Lines == nil {
		summary.Lines = []LineItem{}
	}
	for _, line := range lines {
		summary.Subtotal = summary.Subtotal.Add(line.LineTotal)
		summary.ItemCount += line.Quantity
	}
	summary.Total = summary.Subtotal.Add(fee)
	return summary, nil
}

// Add puts one unit of an existing variant into the cart
func (cs *CartService) Add(ctx context.Context, src CartSource, variantID int64) (*CartSummary, error) {
	if _, err := cs.store.GetVariant(ctx, variantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrVariantNotFound
		}
		return nil, err
	}
	if err := src.Add(ctx, variantID); err != nil {
		return nil, fmt.Errorf("failed to add to cart: %w", err)
	}
	cs.record(src, "add", variantID)
	return cs.Summary(ctx, src)
}

// Remove drops a line from the cart
func (cs *CartService) Remove(ctx context.Context, src CartSource, variantID int64) (*CartSummary, error) {
	if err := src.Remove(ctx, variantID); err != nil {
		return nil, fmt.Errorf("failed to remove from cart: %w", err)
	}
	cs.record(src, "remove", variantID)
	return cs.Summary(ctx, src)
}

// UpdateQuantity increments or decrements an existing line
func (cs *CartService) UpdateQuantity(ctx context.Context, src CartSource, variantID int64, action string) (*CartSummary, error) {
	var err error
	switch action {
	case CartActionIncrement:
		err = src.Increment(ctx, variantID)
	case CartActionDecrement:
		err = src.Decrement(ctx, variantID)
	default:
		return nil, ErrInvalidCartAction
	}
	if err != nil {
		return nil, err
	}
	cs.record(src, action, variantID)
	return cs.Summary(ctx, src)
}

func (cs *CartService) record(src CartSource, action string, variantID int64) {
	util.CartMutationsTotal.WithLabelValues(src.Kind(), action).Inc()
	cs.logger.Debug("Cart updated",
		zap.String("source", src.Kind()),
		zap.String("action", action),
		zap.Int64("variant_id", variantID))
}
