package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"
)

// LockVariant reads a variant's stock state holding an exclusive row lock
// until the transaction ends.
func (t *Tx) LockVariant(ctx context.Context, variantID int64) (*models.StockLevel, error) {
	var level models.StockLevel
	err := t.tx.GetContext(ctx, &level,
		"SELECT id, stock_management, stock, in_stock FROM shoe_variants WHERE id = $1 FOR UPDATE", variantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("variant %d: %w", variantID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock variant: %w", err)
	}
	return &level, nil
}

// DecrementStock subtracts quantity from a variant's stock counter
func (t *Tx) DecrementStock(ctx context.Context, variantID int64, quantity int) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE shoe_variants SET stock = stock - $1 WHERE id = $2", quantity, variantID)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	return nil
}

// IncrementStock adds quantity back to a variant's stock counter
func (t *Tx) IncrementStock(ctx context.Context, variantID int64, quantity int) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE shoe_variants SET stock = stock + $1 WHERE id = $2", quantity, variantID)
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	return nil
}
