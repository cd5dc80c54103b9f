package store

import (
	"context"
	"fmt"

	"github.com/peycheff/crewledger/pkg/moderation"
)

// ModerationStore adapts DomainRepo (tasks/expenses) and InvoiceRepo
// (suggestions, the pending_change kind) to moderation.ItemSource so
// the moderation package never imports database/sql, mirroring
// InvoiceStore's adapter pattern.
type ModerationStore struct {
	domain   *DomainRepo
	invoices *InvoiceRepo
}

// NewModerationStore builds a ModerationStore bound to exec.
func NewModerationStore(exec Execer) *ModerationStore {
	return &ModerationStore{domain: NewDomainRepo(exec), invoices: NewInvoiceRepo(exec)}
}

func (a *ModerationStore) ListPendingItems(ctx context.Context, limit, offset int) ([]moderation.Item, error) {
	rows, err := a.domain.ListPendingItems(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]moderation.Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, moderation.Item{
			ID:        r.ID,
			Kind:      moderation.Kind(r.Kind),
			ActorName: r.ActorName,
			Summary:   r.Summary,
			Amount:    r.Amount,
			Currency:  r.Currency,
			CreatedAt: r.CreatedAt,
			Status:    r.Status,
		})
	}
	return out, nil
}

func (a *ModerationStore) ItemStatus(ctx context.Context, kind moderation.Kind, id int64) (string, error) {
	switch kind {
	case moderation.KindTask:
		t, err := a.domain.GetTask(ctx, id)
		if err != nil {
			return "", err
		}
		return t.Status, nil
	case moderation.KindExpense:
		e, err := a.domain.GetExpense(ctx, id)
		if err != nil {
			return "", err
		}
		return e.Status, nil
	case moderation.KindPendingChange:
		rows, err := a.invoices.GetSuggestions(ctx, []int64{id})
		if err != nil {
			return "", err
		}
		if len(rows) == 0 {
			return "", fmt.Errorf("store: suggestion %d not found", id)
		}
		return rows[0].Status, nil
	default:
		return "", fmt.Errorf("store: unknown moderation kind %q", kind)
	}
}

func (a *ModerationStore) SetItemStatus(ctx context.Context, kind moderation.Kind, id int64, status string) error {
	switch kind {
	case moderation.KindTask:
		return a.domain.SetTaskStatus(ctx, id, status, "")
	case moderation.KindExpense:
		return a.domain.SetExpenseStatus(ctx, id, status)
	case moderation.KindPendingChange:
		return a.invoices.SetSuggestionStatus(ctx, id, status)
	default:
		return fmt.Errorf("store: unknown moderation kind %q", kind)
	}
}

var _ moderation.ItemSource = (*ModerationStore)(nil)
