package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"
)

const (
	addressColumns = "id, customer_id, first_name, last_name, street, city, zip_code"
	paymentColumns = "id, customer_id, payment_type, card_num, exp_date, holder_name, card_type, mpesa_phone"
)

// GetCustomer retrieves a customer profile
func (s *Store) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.GetContext(ctx, &customer, "SELECT id, full_name, email, phone FROM customers WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetCustomerAddress retrieves an address only if the customer owns it
func (s *Store) GetCustomerAddress(ctx context.Context, customerID, addressID int64) (*models.Address, error) {
	var addr models.Address
	err := s.db.GetContext(ctx, &addr,
		"SELECT "+addressColumns+" FROM addresses WHERE id = $1 AND customer_id = $2", addressID, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("address %d: %w", addressID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// ListCustomerAddresses retrieves a customer's reusable addresses
func (s *Store) ListCustomerAddresses(ctx context.Context, customerID int64) ([]models.Address, error) {
	var addrs []models.Address
	err := s.db.SelectContext(ctx, &addrs,
		"SELECT "+addressColumns+" FROM addresses WHERE customer_id = $1 ORDER BY id", customerID)
	return addrs, err
}

// GetCustomerPaymentMethod retrieves a payment method only if the customer owns it
func (s *Store) GetCustomerPaymentMethod(ctx context.Context, customerID, paymentID int64) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	err := s.db.GetContext(ctx, &pm,
		"SELECT "+paymentColumns+" FROM payment_methods WHERE id = $1 AND customer_id = $2", paymentID, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment method %d: %w", paymentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

// ListCustomerPaymentMethods retrieves a customer's saved payment methods
func (s *Store) ListCustomerPaymentMethods(ctx context.Context, customerID int64) ([]models.PaymentMethod, error) {
	var pms []models.PaymentMethod
	err := s.db.SelectContext(ctx, &pms,
		"SELECT "+paymentColumns+" FROM payment_methods WHERE customer_id = $1 ORDER BY id", customerID)
	return pms, err
}

// CreateAddress inserts an address; a nil CustomerID keeps it order-only
func (t *Tx) CreateAddress(ctx context.Context, addr *models.Address) error {
	return t.tx.GetContext(ctx, &addr.ID, `
		INSERT INTO addresses (customer_id, first_name, last_name, street, city, zip_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		addr.CustomerID, addr.FirstName, addr.LastName, addr.Street, addr.City, addr.ZipCode)
}

// CreatePaymentMethod inserts a payment method; a nil CustomerID keeps it order-only
func (t *Tx) CreatePaymentMethod(ctx context.Context, pm *models.PaymentMethod) error {
	return t.tx.GetContext(ctx, &pm.ID, `
		INSERT INTO payment_methods (customer_id, payment_type, card_num, exp_date, holder_name, card_type, mpesa_phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		pm.CustomerID, pm.PaymentType, pm.CardNum, pm.ExpDate, pm.HolderName, pm.CardType, pm.MpesaPhone)
}
