package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// InventoryLedger checks and adjusts variant stock inside the caller's
// transaction. Every check holds the variant's row lock until commit.
type InventoryLedger struct {
	logger *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger() *InventoryLedger {
	return &InventoryLedger{logger: util.GetLogger()}
}

// Reserve takes quantity units of a variant for a line of an order in the
// given status. Only pending orders reserve stock; other statuses are a no-op.
func (l *InventoryLedger) Reserve(ctx context.Context, tx *store.Tx, orderStatus string, variantID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Reserve")
	defer span.End()

	if models.NormalizeStatus(orderStatus) != models.OrderStatusPending {
		l.logger.Debug("Skipping reservation for non-pending order",
			zap.String("status", orderStatus),
			zap.Int64("variant_id", variantID))
		return nil
	}
	if quantity < 1 {
		return fmt.Errorf("invalid quantity %d for variant %d", quantity, variantID)
	}

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	level, err := tx.LockVariant(ctx, variantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("variant %d: %w", variantID, ErrVariantNotFound)
		}
		return fmt.Errorf("failed to lock variant %d: %w", variantID, err)
	}

	switch level.StockManagement {
	case models.StockManagementBoolean:
		if !level.InStock {
			util.StockReservationsFailed.WithLabelValues(models.StockManagementBoolean).Inc()
			return &StockError{VariantID: variantID, Mode: models.StockManagementBoolean, Requested: quantity}
		}
		return nil

	default:
		if level.Stock < quantity {
			util.StockReservationsFailed.WithLabelValues(models.StockManagementQuantity).Inc()
			return &StockError{
				VariantID: variantID,
				Mode:      models.StockManagementQuantity,
				Available: level.Stock,
				Requested: quantity,
			}
		}
		if err := tx.DecrementStock(ctx, variantID, quantity); err != nil {
			return fmt.Errorf("failed to decrement stock for variant %d: %w", variantID, err)
		}
		l.logger.Debug("Stock reserved",
			zap.Int64("variant_id", variantID),
			zap.Int("quantity", quantity),
			zap.Int("remaining", level.Stock-quantity))
		return nil
	}
}

// Restock returns quantity units to a variant's counter unconditionally.
// For boolean-managed variants only the unused counter moves.
func (l *InventoryLedger) Restock(ctx context.Context, tx *store.Tx, variantID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Restock")
	defer span.End()

	if err := tx.IncrementStock(ctx, variantID, quantity); err != nil {
		return fmt.Errorf("failed to restock variant %d: %w", variantID, err)
	}
	util.StockRestockedUnits.Add(float64(quantity))
	l.logger.Debug("Stock restored",
		zap.Int64("variant_id", variantID),
		zap.Int("quantity", quantity))
	return nil
}
