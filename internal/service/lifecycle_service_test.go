package service

import (
	"context"
	"regexp"
	"testing"

	"storefront/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderLockCols = []string{"id", "customer_id", "status", "stock_released"}

const lockOrderSQL = "FROM orders WHERE id = $1 FOR UPDATE"

func newTestLifecycle(t *testing.T) (*LifecycleService, sqlmock.Sqlmock, *fakePublisher) {
	t.Helper()
	s, mock := newMockStore(t)
	publisher := &fakePublisher{}
	return NewLifecycleService(s, NewInventoryLedger(), publisher), mock, publisher
}

func expectLockOrder(mock sqlmock.Sqlmock, customerID int64, status string, released bool) {
	mock.ExpectQuery(regexp.QuoteMeta(lockOrderSQL)).
		WithArgs(int64(77)).
		WillReturnRows(sqlmock.NewRows(orderLockCols).AddRow(int64(77), customerID, status, released))
}

func expectStatusUpdate(mock sqlmock.Sqlmock, status string) {
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = $1")).
		WithArgs(status, int64(77)).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestCancelOrderRestocksOnce(t *testing.T) {
	ls, mock, publisher := newTestLifecycle(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectLockOrder(mock, 1, models.OrderStatusPending, false)
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items WHERE order_id = $1")).
		WithArgs(int64(77)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "variant_id", "quantity", "price"}).
			AddRow(int64(501), int64(77), int64(5), 3, "1000.00").
			AddRow(int64(502), int64(77), int64(8), 1, "500.00"))
	mock.ExpectExec(regexp.QuoteMeta("SET stock = stock + $1")).
		WithArgs(3, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET stock = stock + $1")).
		WithArgs(1, int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET stock_released = TRUE")).
		WithArgs(int64(77)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectStatusUpdate(mock, models.OrderStatusCancelled)
	mock.ExpectCommit()

	mock.ExpectBegin()
	expectLockOrder(mock, 1, models.OrderStatusCancelled, true)
	mock.ExpectCommit()

	order, err := ls.CancelOrder(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)

	_, err = ls.CancelOrder(ctx, 77)
	require.NoError(t, err)

	require.Len(t, publisher.cancelled, 1)
	assert.Len(t, publisher.cancelled[0].Restocked, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReopenedOrderIsNotRestockedAgain(t *testing.T) {
	ls, mock, publisher := newTestLifecycle(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectLockOrder(mock, 1, models.OrderStatusCancelled, true)
	expectStatusUpdate(mock, models.OrderStatusPending)
	mock.ExpectCommit()

	mock.ExpectBegin()
	expectLockOrder(mock, 1, models.OrderStatusPending, true)
	expectStatusUpdate(mock, models.OrderStatusCancelled)
	mock.ExpectCommit()

	_, err := ls.ChangeStatus(ctx, 77, "Pending")
	require.NoError(t, err)
	_, err = ls.ChangeStatus(ctx, 77, models.OrderStatusCancelled)
	require.NoError(t, err)

	assert.Empty(t, publisher.cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelFromNonPendingDoesNotRestock(t *testing.T) {
	ls, mock, publisher := newTestLifecycle(t)

	mock.ExpectBegin()
	expectLockOrder(mock, 1, models.OrderStatusShipped, false)
	expectStatusUpdate(mock, models.OrderStatusCancelled)
	mock.ExpectCommit()

	_, err := ls.CancelOrder(context.Background(), 77)
	require.NoError(t, err)
	assert.Empty(t, publisher.cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeStatusRejectsUnknownStatus(t *testing.T) {
	ls, mock, _ := newTestLifecycle(t)

	_, err := ls.ChangeStatus(context.Background(), 77, "lost")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelCustomerOrderGuards(t *testing.T) {
	t.Run("other customer", func(t *testing.T) {
		ls, mock, _ := newTestLifecycle(t)

		mock.ExpectBegin()
		expectLockOrder(mock, 2, models.OrderStatusPending, false)
		mock.ExpectRollback()

		_, err := ls.CancelCustomerOrder(context.Background(), 1, 77)
		assert.ErrorIs(t, err, ErrOrderNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already shipped", func(t *testing.T) {
		ls, mock, _ := newTestLifecycle(t)

		mock.ExpectBegin()
		expectLockOrder(mock, 1, models.OrderStatusShipped, false)
		mock.ExpectRollback()

		_, err := ls.CancelCustomerOrder(context.Background(), 1, 77)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing order", func(t *testing.T) {
		ls, mock, _ := newTestLifecycle(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockOrderSQL)).
			WithArgs(int64(77)).
			WillReturnRows(sqlmock.NewRows(orderLockCols))
		mock.ExpectRollback()

		_, err := ls.CancelCustomerOrder(context.Background(), 1, 77)
		assert.ErrorIs(t, err, ErrOrderNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeleteOrderItemRecomputesSubtotal(t *testing.T) {
	ls, mock, publisher := newTestLifecycle(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items WHERE id = $1")).
		WithArgs(int64(502)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "variant_id", "quantity", "price"}).
			AddRow(int64(502), int64(77), int64(8), 1, "500.00"))
	expectLockOrder(mock, 1, models.OrderStatusPending, false)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM order_items WHERE id = $1")).
		WithArgs(int64(502)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SET subtotal = COALESCE((SELECT SUM(price * quantity) FROM order_items WHERE order_id = $1), 0)")).
		WithArgs(int64(77)).
		WillReturnRows(sqlmock.NewRows([]string{"subtotal"}).AddRow("3000.00"))
	mock.ExpectCommit()

	subtotal, err := ls.DeleteOrderItem(context.Background(), 77, 502)
	require.NoError(t, err)
	assert.Equal(t, "3000.00", subtotal.StringFixed(2))

	require.Len(t, publisher.removed, 1)
	assert.Equal(t, int64(502), publisher.removed[0].ItemID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOrderItemFromOtherOrder(t *testing.T) {
	ls, mock, publisher := newTestLifecycle(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items WHERE id = $1")).
		WithArgs(int64(502)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "variant_id", "quantity", "price"}).
			AddRow(int64(502), int64(78), int64(8), 1, "500.00"))
	mock.ExpectRollback()

	_, err := ls.DeleteOrderItem(context.Background(), 77, 502)
	assert.ErrorIs(t, err, ErrOrderItemNotFound)
	assert.Empty(t, publisher.removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleStatusChangedIsIdempotent(t *testing.T) {
	ls, mock, _ := newTestLifecycle(t)
	ctx := context.Background()

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{EventID: uuid.New().String(), EventType: models.EventTypeOrderStatusChanged},
		OrderID:   77,
		Status:    "Shipped",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)")).
		WithArgs(event.EventID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	expectLockOrder(mock, 1, models.OrderStatusProcessing, false)
	expectStatusUpdate(mock, models.OrderStatusShipped)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_events")).
		WithArgs(event.EventID, models.EventTypeOrderStatusChanged).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(event.EventID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	require.NoError(t, ls.HandleStatusChanged(ctx, event))
	require.NoError(t, ls.HandleStatusChanged(ctx, event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleStatusChangedIgnoresUnknownStatus(t *testing.T) {
	ls, mock, _ := newTestLifecycle(t)

	err := ls.HandleStatusChanged(context.Background(), &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-x", EventType: models.EventTypeOrderStatusChanged},
		OrderID:   77,
		Status:    "teleported",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleStatusChangedSkipsEventWithoutID(t *testing.T) {
	ls, mock, _ := newTestLifecycle(t)

	for _, id := range []string{"", "  "} {
		err := ls.HandleStatusChanged(context.Background(), &models.OrderStatusChangedEvent{
			BaseEvent: models.BaseEvent{EventID: id, EventType: models.EventTypeOrderStatusChanged},
			OrderID:   77,
			Status:    models.OrderStatusCancelled,
		})
		assert.NoError(t, err)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}
