package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrderService(t *testing.T) (*OrderService, *store.Store, sqlmock.Sqlmock, *fakePublisher, *fakeLocker) {
	t.Helper()
	s, mock := newMockStore(t)
	settings := NewCompanySettingsService(s, decimal.RequireFromString("150.00"))
	publisher := &fakePublisher{}
	locker := newFakeLocker()
	svc := NewOrderService(s, NewCartService(s, settings), settings, NewInventoryLedger(), publisher, locker, time.Minute)
	svc.now = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }
	return svc, s, mock, publisher, locker
}

func validRequest(s *store.Store) *PlaceOrderRequest {
	return &PlaceOrderRequest{
		CustomerID: 1,
		Cart:       NewCustomerCart(s, 1),
		Contact:    ContactInput{FullName: "Jane Doe", Email: "jane@gmail.com", Phone: "0712 345 678"},
		Shipping: AddressSelection{
			Choice:  ChoiceNew,
			Address: AddressInput{FirstName: "Jane", LastName: "Doe", Street: "Moi Avenue", City: "Nairobi", ZipCode: "00100"},
		},
		Billing: AddressSelection{Choice: ChoiceSame},
		Payment: PaymentSelection{Choice: ChoiceCOD},
	}
}

func expectCartLines(mock sqlmock.Sqlmock, variantID int64, qty int) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM cart_items WHERE customer_id = $1 ORDER BY id")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "variant_id", "quantity", "created_at"}).
			AddRow(int64(1), int64(1), variantID, qty, time.Now()))
}

func expectVariant(mock sqlmock.Sqlmock, variantID int64, price, original, discount string) {
	mock.ExpectQuery(regexp.QuoteMeta("WHERE v.id IN ($1)")).
		WithArgs(variantID).
		WillReturnRows(sqlmock.NewRows(variantCols).
			AddRow(variantID, int64(1), "Runner", "42", "black", "quantity", 5, true, price, original, discount))
}

func expectLockVariant(mock sqlmock.Sqlmock, variantID int64, stock int) {
	mock.ExpectQuery(regexp.QuoteMeta(lockVariantSQL)).
		WithArgs(variantID).
		WillReturnRows(sqlmock.NewRows(stockCols).AddRow(variantID, "quantity", stock, true))
}

func TestPlaceOrderReservesStock(t *testing.T) {
	svc, s, mock, publisher, locker := newTestOrderService(t)
	now := time.Now()

	expectCartLines(mock, 5, 3)
	expectVariant(mock, 5, "1000.00", "1000.00", "0.00")
	expectNoCompanySettings(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO addresses")).
		WithArgs(nil, "Jane", "Doe", "Moi Avenue", "Nairobi", "00100").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs(int64(1), models.OrderStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), int64(11), int64(11), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(77), now, now))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs(int64(77), int64(5), 3, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(501)))
	expectLockVariant(mock, 5, 5)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE shoe_variants SET stock = stock - $1 WHERE id = $2")).
		WithArgs(3, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO notifications")).
		WithArgs(int64(1), "Your order #77 has been confirmed!", int64(77)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(900), now))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cart_items WHERE customer_id = $1")).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	placed, err := svc.PlaceOrder(context.Background(), validRequest(s))
	require.NoError(t, err)

	order := placed.Order
	assert.Equal(t, int64(77), order.ID)
	assert.Equal(t, "3000.00", order.Subtotal.StringFixed(2))
	assert.True(t, order.DiscountAmount.IsZero())
	assert.Equal(t, "3000.00", order.TotalPrice.StringFixed(2))
	assert.Equal(t, "150.00", order.ShippingCost.StringFixed(2))
	assert.True(t, order.Subtotal.Sub(order.DiscountAmount).Equal(order.TotalPrice))
	assert.Equal(t, "3150.00", order.AmountDue().StringFixed(2))
	assert.True(t, order.IsCashOnDelivery())

	require.Len(t, placed.Items, 1)
	assert.Equal(t, int64(501), placed.Items[0].ID)
	assert.Equal(t, "1000.00", placed.Items[0].Price.StringFixed(2))

	require.Len(t, publisher.placed, 1)
	assert.Equal(t, models.EventTypeOrderPlaced, publisher.placed[0].EventType)
	assert.True(t, publisher.placed[0].CashOnDelivery)
	assert.Empty(t, locker.held)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderOutOfStockRollsBack(t *testing.T) {
	svc, s, mock, publisher, locker := newTestOrderService(t)
	now := time.Now()

	expectCartLines(mock, 5, 3)
	expectVariant(mock, 5, "1000.00", "1000.00", "0.00")
	expectNoCompanySettings(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO addresses")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(78), now, now))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO order_items")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(502)))
	expectLockVariant(mock, 5, 2)
	mock.ExpectRollback()

	placed, err := svc.PlaceOrder(context.Background(), validRequest(s))
	assert.Nil(t, placed)
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	var cerr *CheckoutError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.FormErrors()[SectionOrder][0], "Available 2, requested 3")
	assert.Equal(t, Selections{Shipping: ChoiceNew, Billing: ChoiceSame, Payment: ChoiceCOD}, cerr.Selections)

	assert.Empty(t, publisher.placed)
	assert.Empty(t, locker.held)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderSecondLineShortRollsBackFirstReservation(t *testing.T) {
	svc, s, mock, publisher, _ := newTestOrderService(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM cart_items WHERE customer_id = $1 ORDER BY id")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "variant_id", "quantity", "created_at"}).
			AddRow(int64(1), int64(1), int64(9), 1, now).
			AddRow(int64(2), int64(1), int64(5), 2, now))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE v.id IN ($1, $2)")).
		WithArgs(int64(9), int64(5)).
		WillReturnRows(sqlmock.NewRows(variantCols).
			AddRow(int64(9), int64(2), "Trail", "40", "red", "quantity", 0, true, "500.00", "500.00", "0.00").
			AddRow(int64(5), int64(1), "Runner", "42", "black", "quantity", 5, true, "1000.00", "1000.00", "0.00"))
	expectNoCompanySettings(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO addresses")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(79), now, now))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs(int64(79), int64(5), 2, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(601)))
	expectLockVariant(mock, 5, 5)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE shoe_variants SET stock = stock - $1 WHERE id = $2")).
		WithArgs(2, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs(int64(79), int64(9), 1, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(602)))
	expectLockVariant(mock, 9, 0)
	mock.ExpectRollback()

	placed, err := svc.PlaceOrder(context.Background(), validRequest(s))
	assert.Nil(t, placed)
	require.ErrorIs(t, err, ErrOutOfStock)

	var cerr *CheckoutError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"Insufficient stock for item 9. Available 0, requested 1."}, cerr.FormErrors()[SectionOrder])
	assert.Empty(t, publisher.placed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderAccumulatesProblems(t *testing.T) {
	svc, s, mock, _, _ := newTestOrderService(t)

	req := validRequest(s)
	req.Contact.Phone = "0812345678"
	req.Shipping = AddressSelection{Choice: "42"}
	req.Billing = AddressSelection{Choice: ChoiceNew, Address: AddressInput{FirstName: "Jane"}}
	req.Payment = PaymentSelection{}

	mock.ExpectQuery(regexp.QuoteMeta("FROM addresses WHERE id = $1 AND customer_id = $2")).
		WithArgs(int64(42), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	expectCartLines(mock, 5, 1)
	expectVariant(mock, 5, "1000.00", "1000.00", "0.00")

	_, err := svc.PlaceOrder(context.Background(), req)

	var cerr *CheckoutError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, ErrContactInvalid)
	assert.ErrorIs(t, err, ErrAddressNotFound)
	assert.ErrorIs(t, err, ErrAddressInvalid)
	assert.ErrorIs(t, err, ErrNoPaymentSelected)
	assert.NotErrorIs(t, err, ErrOutOfStock)

	fields := cerr.FieldErrors()
	assert.Equal(t, []string{msgPhone}, fields["contact.phone"])
	assert.Contains(t, fields, "billing.street")
	assert.Contains(t, fields, "billing.city")

	forms := cerr.FormErrors()
	assert.Equal(t, []string{"Selected shipping address not found."}, forms[SectionShipping])
	assert.Equal(t, []string{"Please select a payment method."}, forms[SectionPayment])
	assert.Equal(t, Selections{Shipping: "42", Billing: ChoiceNew, Payment: ChoiceNew}, cerr.Selections)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderRejectsEmptyCart(t *testing.T) {
	svc, s, mock, _, _ := newTestOrderService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM cart_items WHERE customer_id = $1 ORDER BY id")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "variant_id", "quantity", "created_at"}))

	_, err := svc.PlaceOrder(context.Background(), validRequest(s))
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderRejectsConcurrentCheckout(t *testing.T) {
	svc, s, mock, _, locker := newTestOrderService(t)
	locker.held["checkout:1"] = true

	_, err := svc.PlaceOrder(context.Background(), validRequest(s))
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderWritesDetachedRecordsAndKeepsPriceBases(t *testing.T) {
	svc, s, mock, publisher, _ := newTestOrderService(t)
	now := time.Now()

	req := validRequest(s)
	req.Billing = AddressSelection{
		Choice:  ChoiceNew,
		Address: AddressInput{FirstName: "Acme", LastName: "Ltd", Street: "Kenyatta Avenue", City: "Nairobi"},
	}
	req.Payment = PaymentSelection{
		Choice: ChoiceNew,
		Method: PaymentInput{
			PaymentType: "card",
			CardNum:     "4111111111111111",
			ExpDate:     "2030-12-31",
			HolderName:  "Jane Doe",
			CardType:    "visa",
			CVV:         "123",
		},
	}

	expectCartLines(mock, 5, 2)
	expectVariant(mock, 5, "900.00", "1000.00", "100.00")
	expectNoCompanySettings(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO addresses")).
		WithArgs(nil, "Jane", "Doe", "Moi Avenue", "Nairobi", "00100").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO addresses")).
		WithArgs(nil, "Acme", "Ltd", "Kenyatta Avenue", "Nairobi", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO payment_methods")).
		WithArgs(nil, "card", "4111111111111111", sqlmock.AnyArg(), "Jane Doe", "visa", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(21)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO orders")).
		WithArgs(int64(1), models.OrderStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), int64(11), int64(12), int64(21)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(79), now, now))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs(int64(79), int64(5), 2, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(503)))
	expectLockVariant(mock, 5, 5)
	mock.ExpectExec(regexp.QuoteMeta("SET stock = stock - $1")).
		WithArgs(2, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(901), now))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cart_items WHERE customer_id = $1")).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	placed, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	order := placed.Order
	assert.Equal(t, "2000.00", order.Subtotal.StringFixed(2))
	assert.Equal(t, "200.00", order.DiscountAmount.StringFixed(2))
	assert.Equal(t, "1800.00", order.TotalPrice.StringFixed(2))
	require.NotNil(t, order.PaymentMethodID)
	assert.Equal(t, int64(21), *order.PaymentMethodID)
	assert.Equal(t, "900.00", placed.Items[0].Price.StringFixed(2))

	require.Len(t, publisher.placed, 1)
	assert.False(t, publisher.placed[0].CashOnDelivery)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrderInvalidPaymentWritesNothing(t *testing.T) {
	svc, s, mock, _, _ := newTestOrderService(t)

	req := validRequest(s)
	req.Payment = PaymentSelection{
		Choice: ChoiceNew,
		Method: PaymentInput{PaymentType: "card", CardNum: "4111111111111111", ExpDate: "2030-12-31", HolderName: "Jane"},
	}

	expectCartLines(mock, 5, 1)
	expectVariant(mock, 5, "1000.00", "1000.00", "0.00")

	_, err := svc.PlaceOrder(context.Background(), req)

	var cerr *CheckoutError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, ErrPaymentInvalid)
	assert.Equal(t, []string{msgCVVRequired}, cerr.FieldErrors()["payment.cvv"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderChecksOwnership(t *testing.T) {
	svc, _, mock, _, _ := newTestOrderService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1")).
		WithArgs(int64(77)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "status"}).
			AddRow(int64(77), int64(2), models.OrderStatusPending))

	_, err := svc.GetOrder(context.Background(), 1, 77)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutFormDefaults(t *testing.T) {
	svc, s, mock, _, _ := newTestOrderService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM customers WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "email", "phone"}).
			AddRow(int64(1), "Jane Doe", "jane@gmail.com", "0712345678"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM addresses WHERE customer_id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "first_name", "last_name", "street", "city", "zip_code"}).
			AddRow(int64(4), int64(1), "Jane", "Doe", "Moi Avenue", "Nairobi", ""))
	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_methods WHERE customer_id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payment_type"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM cart_items WHERE customer_id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "variant_id", "quantity", "created_at"}))
	expectNoCompanySettings(mock)

	form, err := svc.CheckoutForm(context.Background(), 1, NewCustomerCart(s, 1))
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe", form.Contact.FullName)
	assert.Equal(t, "0712345678", form.Contact.Phone)
	require.Len(t, form.Addresses, 1)
	assert.Empty(t, form.PaymentMethods)
	assert.Equal(t, Selections{Shipping: ChoiceNew, Billing: ChoiceSame, Payment: ChoiceNew}, form.Selections)
	assert.Equal(t, "150.00", form.Cart.Total.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}
