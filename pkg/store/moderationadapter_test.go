package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/peycheff/crewledger/pkg/moderation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModerationStore_ListPendingItems(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT id, 'task' AS kind").
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "actor_name", "summary", "amount", "currency", "created_at", "status"}).
			AddRow(1, "task", "worker:1", "hour_electric", "1600.00", "ILS", now, "pending"))

	a := NewModerationStore(db)
	items, err := a.ListPendingItems(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, moderation.KindTask, items[0].Kind)
	assert.Equal(t, "1600.00", items[0].Amount)
}

func TestModerationStore_ItemStatus_Task(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT id, shift_id, rate_code, qty, amount, worker, created_at, status FROM tasks").
		WillReturnRows(sqlmock.NewRows([]string{"id", "shift_id", "rate_code", "qty", "amount", "worker", "created_at", "status"}).
			AddRow(5, 1, "hour_electric", "2.0", "1600.00", "worker:1", now, "pending"))

	a := NewModerationStore(db)
	status, err := a.ItemStatus(context.Background(), moderation.KindTask, 5)
	require.NoError(t, err)
	assert.Equal(t, "pending", status)
}

func TestModerationStore_ItemStatus_Expense(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT id, worker_id, shift_id, category, amount, currency, photo_ref, ocr_status, status, date, created_at FROM expenses").
		WillReturnRows(sqlmock.NewRows([]string{"id", "worker_id", "shift_id", "category", "amount", "currency", "photo_ref", "ocr_status", "status", "date", "created_at"}).
			AddRow(9, 1, nil, "fuel", "120.00", "ILS", nil, "none", "needs_approval", now, now))

	a := NewModerationStore(db)
	status, err := a.ItemStatus(context.Background(), moderation.KindExpense, 9)
	require.NoError(t, err)
	assert.Equal(t, "needs_approval", status)
}

func TestModerationStore_ItemStatus_UnknownKind(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a := NewModerationStore(db)
	_, err = a.ItemStatus(context.Background(), moderation.Kind("bogus"), 1)
	require.Error(t, err)
}

func TestModerationStore_SetItemStatus_Task(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE tasks SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	a := NewModerationStore(db)
	require.NoError(t, a.SetItemStatus(context.Background(), moderation.KindTask, 5, "approved"))
}

func TestModerationStore_SetItemStatus_Expense(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE expenses SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	a := NewModerationStore(db)
	require.NoError(t, a.SetItemStatus(context.Background(), moderation.KindExpense, 9, "rejected"))
}

func TestModerationStore_SetItemStatus_UnknownKind(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a := NewModerationStore(db)
	err = a.SetItemStatus(context.Background(), moderation.Kind("bogus"), 1, "approved")
	require.Error(t, err)
}
