package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/peycheff/crewledger/pkg/forbidden"
	"github.com/peycheff/crewledger/pkg/invoice"
	"github.com/peycheff/crewledger/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceStore_ApprovedItems(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	from, to := time.Now().AddDate(0, 0, -30), time.Now()
	mock.ExpectQuery("SELECT t.id, 'task' AS kind").
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "rate_code", "qty", "amount", "worker"}).
			AddRow(1, "task", "hour_electric", "2.0", "1600.00", "worker:1"))

	a := NewInvoiceStore(db)
	items, err := a.ApprovedItems(context.Background(), 3, from, to)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "task", items[0].Kind)
	assert.True(t, items[0].Amount.Equal(money.FromMinor(160000)))
}

func TestInvoiceStore_CreateInvoiceAndGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	subtotal, _ := money.Parse("1600.00")
	total, _ := money.Parse("1600.00")
	mock.ExpectQuery("INSERT INTO invoices").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	a := NewInvoiceStore(db)
	id, err := a.CreateInvoice(context.Background(), invoice.Invoice{
		ClientID: 3, PeriodFrom: time.Now(), PeriodTo: time.Now(),
		Currency: "ILS", Subtotal: subtotal, Total: total,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	now := time.Now()
	mock.ExpectQuery("SELECT id, client_id, period_from, period_to, currency, subtotal, tax, total, status, version, created_at FROM invoices").
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "period_from", "period_to", "currency", "subtotal", "tax", "total", "status", "version", "created_at"}).
			AddRow(7, 3, now, now, "ILS", "1600.00", "0.00", "1600.00", "draft", 1, now))

	inv, err := a.GetInvoice(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "draft", inv.Status)
	assert.True(t, inv.Total.Equal(money.FromMinor(160000)))
}

func TestInvoiceStore_InsertAndGetSuggestions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO suggestions").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))

	a := NewInvoiceStore(db)
	id, err := a.InsertSuggestion(context.Background(), invoice.Suggestion{
		InvoiceID: 7, Kind: forbidden.Kind("add_item"), Payload: map[string]any{"amount": "50.00"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)

	now := time.Now()
	mock.ExpectQuery("SELECT id, invoice_id, kind, payload_json, status, created_at FROM suggestions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_id", "kind", "payload_json", "status", "created_at"}).
			AddRow(4, 7, "add_item", `{"amount":"50.00"}`, "pending", now))

	suggestions, err := a.GetSuggestions(context.Background(), []int64{4})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, forbidden.Kind("add_item"), suggestions[0].Kind)
	assert.Equal(t, "50.00", suggestions[0].Payload["amount"])
}
