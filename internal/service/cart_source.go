package service

import (
	"context"
	"errors"
	"sort"

	"storefront/internal/redisclient"
	"storefront/internal/store"
)

// Cart source kinds
const (
	CartKindEphemeral = "ephemeral"
	CartKindPersisted = "persisted"
)

// CartEntry is one (variant, quantity) pair as stored by a cart source
type CartEntry struct {
	VariantID int64
	Quantity  int
}

// CartSource is where a shopper's lines live: a Redis session hash for
// anonymous shoppers or the cart_items table for signed-in customers.
type CartSource interface {
	Kind() string
	Lines(ctx context.Context) ([]CartEntry, error)
	Add(ctx context.Context, variantID int64) error
	Increment(ctx context.Context, variantID int64) error
	Decrement(ctx context.Context, variantID int64) error
	Remove(ctx context.Context, variantID int64) error
	Clear(ctx context.Context) error
}

// SessionCart keeps lines in a Redis hash keyed by the session id
type SessionCart struct {
	redis     *redisclient.Client
	sessionID string
}

func NewSessionCart(redis *redisclient.Client, sessionID string) *SessionCart {
	return &SessionCart{redis: redis, sessionID: sessionID}
}

func (c *SessionCart) Kind() string { return CartKindEphemeral }

// Lines returns the session lines ordered by variant id
func (c *SessionCart) Lines(ctx context.Context) ([]CartEntry, error) {
	cart, err := c.redis.GetCart(ctx, c.sessionID)
	if err != nil {
		return nil, err
	}
	entries := make([]CartEntry, 0, len(cart))
	for variantID, quantity := range cart {
		entries = append(entries, CartEntry{VariantID: variantID, Quantity: quantity})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].VariantID < entries[j].VariantID })
	return entries, nil
}

func (c *SessionCart) Add(ctx context.Context, variantID int64) error {
	_, err := c.redis.AddCartLine(ctx, c.sessionID, variantID)
	return err
}

func (c *SessionCart) Increment(ctx context.Context, variantID int64) error {
	_, err := c.redis.IncrementCartLine(ctx, c.sessionID, variantID)
	if errors.Is(err, redisclient.ErrLineNotFound) {
		return ErrCartLineNotFound
	}
	return err
}

func (c *SessionCart) Decrement(ctx context.Context, variantID int64) error {
	_, err := c.redis.DecrementCartLine(ctx, c.sessionID, variantID)
	if errors.Is(err, redisclient.ErrLineNotFound) {
		return ErrCartLineNotFound
	}
	return err
}

func (c *SessionCart) Remove(ctx context.Context, variantID int64) error {
	return c.redis.RemoveCartLine(ctx, c.sessionID, variantID)
}

func (c *SessionCart) Clear(ctx context.Context) error {
	return c.redis.ClearCart(ctx, c.sessionID)
}

// CustomerCart keeps lines in the cart_items table
type CustomerCart struct {
	store      *store.Store
	customerID int64
}

func NewCustomerCart(store *store.Store, customerID int64) *CustomerCart {
	return &CustomerCart{store: store, customerID: customerID}
}

func (c *CustomerCart) Kind() string { return CartKindPersisted }

// Lines returns the persisted lines in insertion order
func (c *CustomerCart) Lines(ctx context.Context) ([]CartEntry, error) {
	lines, err := c.store.ListCartLines(ctx, c.customerID)
	if err != nil {
		return nil, err
	}
	entries := make([]CartEntry, 0, len(lines))
	for _, line := range lines {
		entries = append(entries, CartEntry{VariantID: line.VariantID, Quantity: line.Quantity})
	}
	return entries, nil
}

func (c *CustomerCart) Add(ctx context.Context, variantID int64) error {
	return c.store.AddCartLine(ctx, c.customerID, variantID)
}

func (c *CustomerCart) Increment(ctx context.Context, variantID int64) error {
	return lineErr(c.store.IncrementCartLine(ctx, c.customerID, variantID))
}

func (c *CustomerCart) Decrement(ctx context.Context, variantID int64) error {
	return lineErr(c.store.DecrementCartLine(ctx, c.customerID, variantID))
}

// Remove is idempotent: a missing line is not an error
func (c *CustomerCart) Remove(ctx context.Context, variantID int64) error {
	err := c.store.RemoveCartLine(ctx, c.customerID, variantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (c *CustomerCart) Clear(ctx context.Context) error {
	return c.store.ClearCart(ctx, c.customerID)
}

func lineErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrCartLineNotFound
	}
	return err
}
