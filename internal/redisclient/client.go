package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/increment_cart_line.lua
var incrementCartLineScript string

//go:embed scripts/decrement_cart_line.lua
var decrementCartLineScript string

// ErrLineNotFound is returned when a session cart has no line for a variant.
var ErrLineNotFound = errors.New("cart line not found")

// ErrInvalidTTL is returned for a lock without a positive expiry
var ErrInvalidTTL = errors.New("lock ttl must be positive")

// DefaultCartTTL applies when Wrap is given a non-positive cart ttl
const DefaultCartTTL = 14 * 24 * time.Hour

type Client struct {
	rdb             *redis.Client
	cartTTL         time.Duration
	incrementScript *redis.Script
	decrementScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int, cartTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return Wrap(rdb, cartTTL), nil
}

// Wrap builds a Client around an existing connection
func Wrap(rdb *redis.Client, cartTTL time.Duration) *Client {
	if cartTTL <= 0 {
		cartTTL = DefaultCartTTL
	}
	return &Client{
		rdb:             rdb,
		cartTTL:         cartTTL,
		incrementScript: redis.NewScript(incrementCartLineScript),
		decrementScript: redis.NewScript(decrementCartLineScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func cartKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

// AddCartLine adds one unit of a variant to a session cart
func (c *Client) AddCartLine(ctx context.Context, sessionID string, variantID int64) (int, error) {
	key := cartKey(sessionID)

	pipe := c.rdb.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, strconv.FormatInt(variantID, 10), 1)
	pipe.Expire(ctx, key, c.cartTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("add cart line failed: %w", err)
	}
	return int(incr.Val()), nil
}

// IncrementCartLine raises an existing line by one
func (c *Client) IncrementCartLine(ctx context.Context, sessionID string, variantID int64) (int, error) {
	return c.runLineScript(ctx, c.incrementScript, sessionID, variantID)
}

// DecrementCartLine lowers an existing line by one, never below 1
func (c *Client) DecrementCartLine(ctx context.Context, sessionID string, variantID int64) (int, error) {
	return c.runLineScript(ctx, c.decrementScript, sessionID, variantID)
}

func (c *Client) runLineScript(ctx context.Context, script *redis.Script, sessionID string, variantID int64) (int, error) {
	result, err := script.Run(ctx, c.rdb, []string{cartKey(sessionID)},
		strconv.FormatInt(variantID, 10), int(c.cartTTL.Seconds())).Result()
	if err != nil {
		return 0, fmt.Errorf("cart line script failed: %w", err)
	}

	quantity, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type")
	}
	if quantity < 0 {
		return 0, ErrLineNotFound
	}
	return int(quantity), nil
}

// RemoveCartLine deletes a line from a session cart
func (c *Client) RemoveCartLine(ctx context.Context, sessionID string, variantID int64) error {
	return c.rdb.HDel(ctx, cartKey(sessionID), strconv.FormatInt(variantID, 10)).Err()
}

// GetCart returns variant id → quantity. Malformed entries are skipped.
func (c *Client) GetCart(ctx context.Context, sessionID string) (map[int64]int, error) {
	result, err := c.rdb.HGetAll(ctx, cartKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}

	cart := make(map[int64]int, len(result))
	for field, value := range result {
		variantID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		quantity, err := strconv.Atoi(value)
		if err != nil || quantity < 1 {
			continue
		}
		cart[variantID] = quantity
	}
	return cart, nil
}

// ClearCart drops a session cart
func (c *Client) ClearCart(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, cartKey(sessionID)).Err()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
