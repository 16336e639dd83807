package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// New wraps an existing connection
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Migrate creates missing tables
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Tx is a unit of work. All stock checks, order writes and restocks that
// must be atomic go through it.
type Tx struct {
	tx *sqlx.Tx
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const variantColumns = `v.id, v.shoe_id, s.name AS shoe_name, v.size, v.color,
	v.stock_management, v.stock, v.in_stock, s.price, s.original_price, s.discount`

// GetVariant retrieves a variant with its shoe pricing
func (s *Store) GetVariant(ctx context.Context, id int64) (*models.Variant, error) {
	var variant models.Variant
	err := s.db.GetContext(ctx, &variant,
		"SELECT "+variantColumns+" FROM shoe_variants v JOIN shoes s ON s.id = v.shoe_id WHERE v.id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("variant %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

// GetVariantsByIDs retrieves the variants that exist among ids, keyed by id
func (s *Store) GetVariantsByIDs(ctx context.Context, ids []int64) (map[int64]*models.Variant, error) {
	out := make(map[int64]*models.Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(
		"SELECT "+variantColumns+" FROM shoe_variants v JOIN shoes s ON s.id = v.shoe_id WHERE v.id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var variants []models.Variant
	if err := s.db.SelectContext(ctx, &variants, query, args...); err != nil {
		return nil, err
	}

	for i := range variants {
		out[variants[i].ID] = &variants[i]
	}
	return out, nil
}

// GetCompanySettings returns the first settings record, or nil when none exists
func (s *Store) GetCompanySettings(ctx context.Context) (*models.CompanySettings, error) {
	var settings models.CompanySettings
	err := s.db.GetContext(ctx, &settings, `
		SELECT id, company_name, contact_email, contact_phone, business_hours, address, shipping_fee
		FROM company_settings ORDER BY id LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}
