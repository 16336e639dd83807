package store

import (
	"context"
	"fmt"

	"storefront/internal/models"
)

// ListCartLines retrieves a customer's cart in insertion order
func (s *Store) ListCartLines(ctx context.Context, customerID int64) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT id, customer_id, variant_id, quantity, created_at FROM cart_items WHERE customer_id = $1 ORDER BY id",
		customerID)
	return lines, err
}

// AddCartLine creates the (customer, variant) line at quantity 1 or bumps it by one
func (s *Store) AddCartLine(ctx context.Context, customerID, variantID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (customer_id, variant_id, quantity)
		VALUES ($1, $2, 1)
		ON CONFLICT (customer_id, variant_id)
		DO UPDATE SET quantity = cart_items.quantity + 1`,
		customerID, variantID)
	if err != nil {
		return fmt.Errorf("failed to add cart line: %w", err)
	}
	return nil
}

// IncrementCartLine raises an existing line's quantity by one
func (s *Store) IncrementCartLine(ctx context.Context, customerID, variantID int64) error {
	return s.execCartLine(ctx,
		"UPDATE cart_items SET quantity = quantity + 1 WHERE customer_id = $1 AND variant_id = $2",
		customerID, variantID)
}

// DecrementCartLine lowers an existing line's quantity by one, never below 1
func (s *Store) DecrementCartLine(ctx context.Context, customerID, variantID int64) error {
	return s.execCartLine(ctx,
		"UPDATE cart_items SET quantity = GREATEST(quantity - 1, 1) WHERE customer_id = $1 AND variant_id = $2",
		customerID, variantID)
}

// RemoveCartLine deletes a line entirely
func (s *Store) RemoveCartLine(ctx context.Context, customerID, variantID int64) error {
	return s.execCartLine(ctx,
		"DELETE FROM cart_items WHERE customer_id = $1 AND variant_id = $2",
		customerID, variantID)
}

// ClearCart deletes every line of a customer's cart
func (s *Store) ClearCart(ctx context.Context, customerID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE customer_id = $1", customerID)
	return err
}

func (s *Store) execCartLine(ctx context.Context, query string, customerID, variantID int64) error {
	res, err := s.db.ExecContext(ctx, query, customerID, variantID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("cart line for variant %d: %w", variantID, ErrNotFound)
	}
	return nil
}
