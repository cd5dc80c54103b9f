package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Invoice mirrors the Invoice entity.
type Invoice struct {
	ID         int64
	ClientID   int64
	PeriodFrom time.Time
	PeriodTo   time.Time
	Currency   string
	Subtotal   string
	Tax        string
	Total      string
	Status     string
	Version    int
	CreatedAt  time.Time
}

// InvoiceItem mirrors InvoiceItem.
type InvoiceItem struct {
	ID          int64
	InvoiceID   int64
	Type        string
	Description string
	Quantity    string
	UnitPrice   string
	Amount      string
	Worker      string
	Site        string
}

// Suggestion mirrors Suggestion.
type Suggestion struct {
	ID          int64
	InvoiceID   int64
	Kind        string
	PayloadJSON string
	Status      string
	CreatedAt   time.Time
}

// InvoiceVersion mirrors InvoiceVersion.
type InvoiceVersion struct {
	ID        int64
	InvoiceID int64
	Version   int
	DiffJSON  string
	SHA       string
	CreatedAt time.Time
}

// InvoiceRepo groups invoice-lifecycle persistence, bound to a single
// Execer per the same pattern as DomainRepo.
type InvoiceRepo struct {
	exec Execer
}

// NewInvoiceRepo builds a repo bound to exec.
func NewInvoiceRepo(exec Execer) *InvoiceRepo {
	return &InvoiceRepo{exec: exec}
}

// CreateInvoice inserts a draft invoice.
func (r *InvoiceRepo) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	row := r.exec.QueryRowContext(ctx, `
		INSERT INTO invoices (client_id, period_from, period_to, currency, subtotal, tax, total, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'draft', 1) RETURNING id`,
		inv.ClientID, inv.PeriodFrom, inv.PeriodTo, inv.Currency, inv.Subtotal, inv.Tax, inv.Total)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: create invoice: %w", err)
	}
	return id, nil
}

// GetInvoice fetches an invoice by ID.
func (r *InvoiceRepo) GetInvoice(ctx context.Context, invoiceID int64) (Invoice, error) {
	row := r.exec.QueryRowContext(ctx, "SELECT id, client_id, period_from, period_to, currency, subtotal, tax, total, status, version, created_at FROM invoices WHERE id = $1", invoiceID)
	var inv Invoice
	if err := row.Scan(&inv.ID, &inv.ClientID, &inv.PeriodFrom, &inv.PeriodTo, &inv.Currency, &inv.Subtotal, &inv.Tax, &inv.Total, &inv.Status, &inv.Version, &inv.CreatedAt); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// ListByPeriod returns every invoice whose period overlaps [from, to],
// newest first, for the invoices/export admin report.
func (r *InvoiceRepo) ListByPeriod(ctx context.Context, from, to time.Time) ([]Invoice, error) {
	queryable, ok := r.exec.(interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	})
	if !ok {
		return nil, fmt.Errorf("store: period listing requires a QueryContext-capable executor")
	}
	rows, err := queryable.QueryContext(ctx, `
		SELECT id, client_id, period_from, period_to, currency, subtotal, tax, total, status, version, created_at
		FROM invoices WHERE period_from <= $2 AND period_to >= $1
		ORDER BY period_from DESC, id DESC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("store: list invoices by period: %w", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.ClientID, &inv.PeriodFrom, &inv.PeriodTo, &inv.Currency, &inv.Subtotal, &inv.Tax, &inv.Total, &inv.Status, &inv.Version, &inv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// InsertItem adds one line item to an invoice.
func (r *InvoiceRepo) InsertItem(ctx context.Context, item InvoiceItem) (int64, error) {
	row := r.exec.QueryRowContext(ctx, `
		INSERT INTO invoice_items (invoice_id, type, description, quantity, unit_price, amount, worker, site)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		item.InvoiceID, item.Type, item.Description, item.Quantity, item.UnitPrice, item.Amount, nullableString(item.Worker), nullableString(item.Site))
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert invoice item: %w", err)
	}
	return id, nil
}

// ListItems returns every item belonging to an invoice.
func (r *InvoiceRepo) ListItems(ctx context.Context, invoiceID int64) ([]InvoiceItem, error) {
	queryable, ok := r.exec.(interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	})
	if !ok {
		return nil, fmt.Errorf("store: list items requires a QueryContext-capable executor")
	}
	rows, err := queryable.QueryContext(ctx, "SELECT id, invoice_id, type, description, quantity, unit_price, amount, worker, site FROM invoice_items WHERE invoice_id = $1", invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []InvoiceItem
	for rows.Next() {
		var it InvoiceItem
		var worker, site sql.NullString
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Type, &it.Description, &it.Quantity, &it.UnitPrice, &it.Amount, &worker, &site); err != nil {
			return nil, err
		}
		it.Worker, it.Site = worker.String, site.String
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateTotals rewrites an invoice's subtotal/total after an apply.
func (r *InvoiceRepo) UpdateTotals(ctx context.Context, invoiceID int64, subtotal, total string, version int) error {
	_, err := r.exec.ExecContext(ctx, "UPDATE invoices SET subtotal = $1, total = $2, version = $3 WHERE id = $4", subtotal, total, version, invoiceID)
	return err
}

// SetInvoiceStatus transitions an invoice's lifecycle status.
func (r *InvoiceRepo) SetInvoiceStatus(ctx context.Context, invoiceID int64, status string) error {
	_, err := r.exec.ExecContext(ctx, "UPDATE invoices SET status = $1 WHERE id = $2", status, invoiceID)
	return err
}

// IssuePreviewToken stores a one-time preview token's SHA-256 hash;
// the plaintext token itself is never persisted. Any still-unused
// token issued earlier for the same invoice is marked used first, so
// only the newest token can be consumed.
func (r *InvoiceRepo) IssuePreviewToken(ctx context.Context, tokenHash string, invoiceID int64) error {
	if _, err := r.exec.ExecContext(ctx, "UPDATE invoice_preview_tokens SET used_at = $1 WHERE invoice_id = $2 AND used_at IS NULL", time.Now().UTC(), invoiceID); err != nil {
		return err
	}
	_, err := r.exec.ExecContext(ctx, "INSERT INTO invoice_preview_tokens (token, invoice_id) VALUES ($1, $2)", tokenHash, invoiceID)
	return err
}

// ConsumePreviewToken marks a token used, returning false if it was
// already used or never issued (one-time semantics).
func (r *InvoiceRepo) ConsumePreviewToken(ctx context.Context, tokenHash string) (invoiceID int64, ok bool, err error) {
	row := r.exec.QueryRowContext(ctx, "SELECT invoice_id FROM invoice_preview_tokens WHERE token = $1 AND used_at IS NULL", tokenHash)
	if scanErr := row.Scan(&invoiceID); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, scanErr
	}
	if _, err := r.exec.ExecContext(ctx, "UPDATE invoice_preview_tokens SET used_at = $1 WHERE token = $2", time.Now().UTC(), tokenHash); err != nil {
		return 0, false, err
	}
	return invoiceID, true, nil
}

// InsertSuggestion inserts a suggestion row. Callers must reject
// forbidden kinds before calling.
func (r *InvoiceRepo) InsertSuggestion(ctx context.Context, s Suggestion) (int64, error) {
	row := r.exec.QueryRowContext(ctx, `
		INSERT INTO suggestions (invoice_id, kind, payload_json, status)
		VALUES ($1, $2, $3, 'open') RETURNING id`, s.InvoiceID, s.Kind, s.PayloadJSON)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert suggestion: %w", err)
	}
	return id, nil
}

// GetSuggestions fetches suggestions by ID for an apply batch.
func (r *InvoiceRepo) GetSuggestions(ctx context.Context, ids []int64) ([]Suggestion, error) {
	queryable, ok := r.exec.(interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	})
	if !ok {
		return nil, fmt.Errorf("store: get suggestions requires a QueryContext-capable executor")
	}
	var out []Suggestion
	for _, id := range ids {
		rows, err := queryable.QueryContext(ctx, "SELECT id, invoice_id, kind, payload_json, status, created_at FROM suggestions WHERE id = $1", id)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var s Suggestion
			if err := rows.Scan(&s.ID, &s.InvoiceID, &s.Kind, &s.PayloadJSON, &s.Status, &s.CreatedAt); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, s)
		}
		rows.Close()
	}
	return out, nil
}

// SetSuggestionStatus transitions a suggestion to applied/rejected.
func (r *InvoiceRepo) SetSuggestionStatus(ctx context.Context, suggestionID int64, status string) error {
	_, err := r.exec.ExecContext(ctx, "UPDATE suggestions SET status = $1 WHERE id = $2", status, suggestionID)
	return err
}

// InsertVersion appends a new immutable invoice version row.
func (r *InvoiceRepo) InsertVersion(ctx context.Context, v InvoiceVersion) (int64, error) {
	row := r.exec.QueryRowContext(ctx, `
		INSERT INTO invoice_versions (invoice_id, version, diff_json, sha)
		VALUES ($1, $2, $3, $4) RETURNING id`, v.InvoiceID, v.Version, v.DiffJSON, v.SHA)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert invoice version: %w", err)
	}
	return id, nil
}
