package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/peycheff/crewledger/pkg/forbidden"
	"github.com/peycheff/crewledger/pkg/invoice"
	"github.com/peycheff/crewledger/pkg/money"
)

// InvoiceStore adapts InvoiceRepo + DomainRepo's persisted row shapes
// to the narrower invoice.Store seam pkg/invoice depends on, so the
// domain package never imports database/sql directly.
type InvoiceStore struct {
	invoices *InvoiceRepo
	exec     Execer
}

// NewInvoiceStore builds an adapter bound to a single Execer (pool or
// an in-flight Session's Tx), matching the rest of this package's
// per-request binding convention.
func NewInvoiceStore(exec Execer) *InvoiceStore {
	return &InvoiceStore{invoices: NewInvoiceRepo(exec), exec: exec}
}

// ApprovedItems collects approved tasks and expenses for a client
// within [from, to], joined through shifts for the client scope.
func (a *InvoiceStore) ApprovedItems(ctx context.Context, clientID int64, from, to time.Time) ([]invoice.ApprovedItem, error) {
	queryable, ok := a.exec.(interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	})
	if !ok {
		return nil, fmt.Errorf("store: approved items listing requires a QueryContext-capable executor")
	}

	rows, err := queryable.QueryContext(ctx, `
		SELECT t.id, 'task' AS kind, t.rate_code, t.qty, t.amount, t.worker
		FROM tasks t
		JOIN shifts s ON s.id = t.shift_id
		WHERE s.client_id = $1 AND t.status = 'approved' AND t.created_at >= $2 AND t.created_at <= $3
		UNION ALL
		SELECT e.id, 'expense' AS kind, e.category, '1' AS qty, e.amount, CAST(e.worker_id AS TEXT) AS worker
		FROM expenses e
		JOIN shifts s ON s.id = e.shift_id
		WHERE s.client_id = $1 AND e.status = 'approved' AND e.date >= $2 AND e.date <= $3`,
		clientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("store: approved items: %w", err)
	}
	defer rows.Close()

	var out []invoice.ApprovedItem
	for rows.Next() {
		var (
			id                     int64
			kind, rateCode, worker string
			qtyStr, amountStr      string
		)
		if err := rows.Scan(&id, &kind, &rateCode, &qtyStr, &amountStr, &worker); err != nil {
			return nil, err
		}
		qty, err := money.Parse(qtyStr)
		if err != nil {
			return nil, fmt.Errorf("store: approved item %d qty: %w", id, err)
		}
		amt, err := money.Parse(amountStr)
		if err != nil {
			return nil, fmt.Errorf("store: approved item %d amount: %w", id, err)
		}
		out = append(out, invoice.ApprovedItem{Kind: kind, ID: id, RateCode: rateCode, Qty: qty, Amount: amt, Worker: worker})
	}
	return out, rows.Err()
}

func (a *InvoiceStore) CreateInvoice(ctx context.Context, inv invoice.Invoice) (int64, error) {
	return a.invoices.CreateInvoice(ctx, Invoice{
		ClientID:   inv.ClientID,
		PeriodFrom: inv.PeriodFrom,
		PeriodTo:   inv.PeriodTo,
		Currency:   inv.Currency,
		Subtotal:   inv.Subtotal.Decimal(),
		Tax:        money.Zero().Decimal(),
		Total:      inv.Total.Decimal(),
	})
}

func (a *InvoiceStore) GetInvoice(ctx context.Context, invoiceID int64) (invoice.Invoice, error) {
	row, err := a.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return invoice.Invoice{}, err
	}
	return rowToInvoice(row)
}

func rowToInvoice(row Invoice) (invoice.Invoice, error) {
	subtotal, err := money.Parse(row.Subtotal)
	if err != nil {
		return invoice.Invoice{}, err
	}
	tax, err := money.Parse(row.Tax)
	if err != nil {
		return invoice.Invoice{}, err
	}
	total, err := money.Parse(row.Total)
	if err != nil {
		return invoice.Invoice{}, err
	}
	return invoice.Invoice{
		ID:         row.ID,
		ClientID:   row.ClientID,
		PeriodFrom: row.PeriodFrom,
		PeriodTo:   row.PeriodTo,
		Currency:   row.Currency,
		Subtotal:   subtotal,
		Tax:        tax,
		Total:      total,
		Status:     row.Status,
		Version:    row.Version,
	}, nil
}

func (a *InvoiceStore) InsertItem(ctx context.Context, invoiceID int64, item invoice.Item) (int64, error) {
	return a.invoices.InsertItem(ctx, InvoiceItem{
		InvoiceID:   invoiceID,
		Type:        item.Type,
		Description: item.Description,
		Quantity:    item.Quantity,
		UnitPrice:   item.UnitPrice,
		Amount:      item.Amount.Decimal(),
		Worker:      item.Worker,
		Site:        item.Site,
	})
}

func (a *InvoiceStore) ListItems(ctx context.Context, invoiceID int64) ([]invoice.Item, error) {
	rows, err := a.invoices.ListItems(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	out := make([]invoice.Item, 0, len(rows))
	for _, r := range rows {
		amt, err := money.Parse(r.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, invoice.Item{ID: r.ID, Type: r.Type, Description: r.Description, Quantity: r.Quantity, UnitPrice: r.UnitPrice, Amount: amt, Worker: r.Worker, Site: r.Site})
	}
	return out, nil
}

func (a *InvoiceStore) UpdateTotals(ctx context.Context, invoiceID int64, subtotal, total money.Amount, version int) error {
	return a.invoices.UpdateTotals(ctx, invoiceID, subtotal.Decimal(), total.Decimal(), version)
}

func (a *InvoiceStore) SetInvoiceStatus(ctx context.Context, invoiceID int64, status string) error {
	return a.invoices.SetInvoiceStatus(ctx, invoiceID, status)
}

func (a *InvoiceStore) IssuePreviewToken(ctx context.Context, invoiceID int64, tokenHash string) error {
	return a.invoices.IssuePreviewToken(ctx, tokenHash, invoiceID)
}

func (a *InvoiceStore) ConsumePreviewToken(ctx context.Context, tokenHash string) (int64, bool, error) {
	return a.invoices.ConsumePreviewToken(ctx, tokenHash)
}

func (a *InvoiceStore) InsertSuggestion(ctx context.Context, s invoice.Suggestion) (int64, error) {
	payload, err := json.Marshal(s.Payload)
	if err != nil {
		return 0, fmt.Errorf("store: marshal suggestion payload: %w", err)
	}
	return a.invoices.InsertSuggestion(ctx, Suggestion{InvoiceID: s.InvoiceID, Kind: string(s.Kind), PayloadJSON: string(payload)})
}

func (a *InvoiceStore) GetSuggestions(ctx context.Context, ids []int64) ([]invoice.Suggestion, error) {
	rows, err := a.invoices.GetSuggestions(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]invoice.Suggestion, 0, len(rows))
	for _, r := range rows {
		var payload map[string]any
		if r.PayloadJSON != "" {
			if err := json.Unmarshal([]byte(r.PayloadJSON), &payload); err != nil {
				return nil, fmt.Errorf("store: unmarshal suggestion %d payload: %w", r.ID, err)
			}
		}
		out = append(out, invoice.Suggestion{ID: r.ID, InvoiceID: r.InvoiceID, Kind: forbidden.Kind(r.Kind), Payload: payload, Status: r.Status})
	}
	return out, nil
}

func (a *InvoiceStore) SetSuggestionStatus(ctx context.Context, suggestionID int64, status string) error {
	return a.invoices.SetSuggestionStatus(ctx, suggestionID, status)
}

func (a *InvoiceStore) InsertVersion(ctx context.Context, invoiceID int64, version int, diffJSON, sha string) error {
	_, err := a.invoices.InsertVersion(ctx, InvoiceVersion{InvoiceID: invoiceID, Version: version, DiffJSON: diffJSON, SHA: sha})
	return err
}

var _ invoice.Store = (*InvoiceStore)(nil)
