// Package invoice implements CrewLedger's invoice lifecycle: build
// from approved tasks/expenses, one-time preview tokens, the
// two-layer forbidden-operation suggestion/apply flow, and the
// draft -> issued -> paid (-> cancelled) status machine.
//
// Build runs under an idempotency guard; the other workflows take none.
// Every applied change records an audit entry, and all but
// PreviewIssue also record a metric; forbidden-operation rejections
// record both. Not-found and stale-state rejections, and PreviewFetch's
// token consumption, record neither. Persistence uses the
// same thin-repo idiom as the rest of pkg/store; the pricing and money
// arithmetic reuse pkg/pricing and pkg/money exactly as the moderation
// core does.
package invoice

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/peycheff/crewledger/pkg/audit"
	"github.com/peycheff/crewledger/pkg/canon"
	"github.com/peycheff/crewledger/pkg/forbidden"
	"github.com/peycheff/crewledger/pkg/idempotency"
	"github.com/peycheff/crewledger/pkg/metrics"
	"github.com/peycheff/crewledger/pkg/money"
	"github.com/peycheff/crewledger/pkg/pricing"
)

// Sentinel domain errors, mapped by the HTTP layer to their canonical
// problem codes.
var (
	ErrNotFound    = errors.New("invoice: not found")
	ErrGone        = errors.New("invoice: preview token already used")
	ErrForbiddenOp = errors.New("invoice: forbidden operation")
	ErrStaleState  = errors.New("invoice: invalid status transition")
)

// ApprovedItem is one approved task or expense the build step folds
// into invoice line items. Kind is "task" or "expense".
type ApprovedItem struct {
	Kind     string
	ID       int64
	RateCode string // task: rate_code; expense: category
	Qty      money.Amount
	Amount   money.Amount // expense: the pinned amount; task: ignored, priced fresh
	Worker   string
	Site     string
}

// Invoice is the lifecycle-bearing view this package operates over;
// pkg/store.Invoice is its persisted shape.
type Invoice struct {
	ID         int64
	ClientID   int64
	PeriodFrom time.Time
	PeriodTo   time.Time
	Currency   string
	Subtotal   money.Amount
	Tax        money.Amount
	Total      money.Amount
	Status     string
	Version    int
}

// Item is one persisted invoice line.
type Item struct {
	ID          int64
	Type        string
	Description string
	Quantity    string
	UnitPrice   string
	Amount      money.Amount
	Worker      string
	Site        string
}

// Suggestion is one persisted invoice-change suggestion.
type Suggestion struct {
	ID        int64
	InvoiceID int64
	Kind      forbidden.Kind
	Payload   map[string]any
	Status    string
}

// Store is the persistence seam this package needs, narrowed from
// pkg/store's InvoiceRepo/DomainRepo so this package stays testable
// against fakes without importing database/sql.
type Store interface {
	ApprovedItems(ctx context.Context, clientID int64, from, to time.Time) ([]ApprovedItem, error)
	CreateInvoice(ctx context.Context, inv Invoice) (int64, error)
	GetInvoice(ctx context.Context, invoiceID int64) (Invoice, error)
	InsertItem(ctx context.Context, invoiceID int64, item Item) (int64, error)
	ListItems(ctx context.Context, invoiceID int64) ([]Item, error)
	UpdateTotals(ctx context.Context, invoiceID int64, subtotal, total money.Amount, version int) error
	SetInvoiceStatus(ctx context.Context, invoiceID int64, status string) error
	IssuePreviewToken(ctx context.Context, invoiceID int64, tokenHash string) error
	ConsumePreviewToken(ctx context.Context, tokenHash string) (invoiceID int64, ok bool, err error)
	InsertSuggestion(ctx context.Context, s Suggestion) (int64, error)
	GetSuggestions(ctx context.Context, ids []int64) ([]Suggestion, error)
	SetSuggestionStatus(ctx context.Context, suggestionID int64, status string) error
	InsertVersion(ctx context.Context, invoiceID int64, version int, diffJSON, sha string) error
}

// BuildRequest is the body of invoice.build.
type BuildRequest struct {
	ClientID   int64
	PeriodFrom time.Time
	PeriodTo   time.Time
	Currency   string
}

// Build assembles approved tasks/expenses in [period_from, period_to]
// into a new draft invoice, pricing every item through pkg/pricing,
// idempotent on the (client_id, period_from, period_to) scope.
func Build(ctx context.Context, st Store, rules *pricing.Rules, guard *idempotency.Guard, logger *audit.Logger, sink *metrics.Sink, actor, idempotencyKey string, req BuildRequest) (Invoice, error) {
	scope := map[string]any{
		"client_id":   req.ClientID,
		"period_from": req.PeriodFrom.Format(time.RFC3339),
		"period_to":   req.PeriodTo.Format(time.RFC3339),
	}
	if err := guard.Ensure(ctx, idempotencyKey, scope, time.Now().UTC()); err != nil {
		return Invoice{}, err
	}

	approved, err := st.ApprovedItems(ctx, req.ClientID, req.PeriodFrom, req.PeriodTo)
	if err != nil {
		return Invoice{}, err
	}

	currency := req.Currency
	if currency == "" {
		currency = money.Currency
	}

	invID, err := st.CreateInvoice(ctx, Invoice{
		ClientID:   req.ClientID,
		PeriodFrom: req.PeriodFrom,
		PeriodTo:   req.PeriodTo,
		Currency:   currency,
		Subtotal:   money.Zero(),
		Total:      money.Zero(),
		Status:     "draft",
		Version:    1,
	})
	if err != nil {
		return Invoice{}, err
	}

	subtotal := money.Zero()
	for _, it := range approved {
		var priced money.Amount
		var unitPrice string
		switch it.Kind {
		case "task":
			res, err := pricing.PriceTask(rules, it.RateCode, it.Qty)
			if err != nil {
				return Invoice{}, err
			}
			priced = res.Total
			unitPrice = it.Qty.Decimal()
		case "expense":
			res, err := pricing.PriceExpense(rules, it.RateCode, it.Amount)
			if err != nil {
				return Invoice{}, err
			}
			priced = res.Total
			unitPrice = it.Amount.Decimal()
		default:
			return Invoice{}, fmt.Errorf("invoice: unknown approved item kind %q", it.Kind)
		}

		if _, err := st.InsertItem(ctx, invID, Item{
			Type:        it.Kind,
			Description: it.RateCode,
			Quantity:    it.Qty.Decimal(),
			UnitPrice:   unitPrice,
			Amount:      priced,
			Worker:      it.Worker,
			Site:        it.Site,
		}); err != nil {
			return Invoice{}, err
		}
		subtotal = subtotal.Add(priced)
	}

	if err := st.UpdateTotals(ctx, invID, subtotal, subtotal, 1); err != nil {
		return Invoice{}, err
	}

	inv, err := st.GetInvoice(ctx, invID)
	if err != nil {
		return Invoice{}, err
	}

	_, _ = logger.Record(ctx, actor, "invoice.build", "invoice", &invID, req, audit.OutcomeApplied, "")
	_ = sink.Record("invoice.build", map[string]any{"invoice_id": invID, "item_count": len(approved)})
	return inv, nil
}

// PreviewIssue generates a cryptographically random token, stores
// only its SHA-256 hash, and returns the raw token once. A previous
// token is implicitly invalidated: ConsumePreviewToken only ever
// matches the most recently issued hash.
func PreviewIssue(ctx context.Context, st Store, logger *audit.Logger, actor string, invoiceID int64) (token string, err error) {
	if _, err := st.GetInvoice(ctx, invoiceID); err != nil {
		return "", fmt.Errorf("%w: invoice %d", ErrNotFound, invoiceID)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("invoice: generate preview token: %w", err)
	}
	token = hex.EncodeToString(raw)
	hash := hashToken(token)

	if err := st.IssuePreviewToken(ctx, invoiceID, hash); err != nil {
		return "", err
	}
	_, _ = logger.Record(ctx, actor, "invoice.preview_issue", "invoice", &invoiceID, nil, audit.OutcomeApplied, "")
	return token, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// PreviewFetch validates token, enforces one-time-use semantics, and
// returns the rendered invoice with its items. A reused token returns
// ErrGone.
func PreviewFetch(ctx context.Context, st Store, token string) (Invoice, []Item, error) {
	hash := hashToken(token)
	invoiceID, ok, err := st.ConsumePreviewToken(ctx, hash)
	if err != nil {
		return Invoice{}, nil, err
	}
	if !ok {
		return Invoice{}, nil, ErrGone
	}

	inv, err := st.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, nil, err
	}
	items, err := st.ListItems(ctx, invoiceID)
	if err != nil {
		return Invoice{}, nil, err
	}
	return inv, items, nil
}

// SuggestRequest is the body of invoice.suggest_change.
type SuggestRequest struct {
	InvoiceID int64
	Kind      forbidden.Kind
	Payload   map[string]any
}

// SuggestChange enters the forbidden-operation guard's first layer: a
// forbidden kind is rejected before any Suggestion row is ever
// created.
func SuggestChange(ctx context.Context, st Store, logger *audit.Logger, sink *metrics.Sink, actor string, req SuggestRequest) (Suggestion, error) {
	if forbidden.IsForbidden(req.Kind) {
		_, _ = logger.Record(ctx, actor, "invoice.suggest_change", "invoice", &req.InvoiceID, req, audit.OutcomeRejected, "forbidden_op:"+string(req.Kind))
		_ = sink.Record("suggest.forbidden", map[string]any{"invoice_id": req.InvoiceID, "kind": req.Kind})
		return Suggestion{}, fmt.Errorf("%w: %s", ErrForbiddenOp, req.Kind)
	}

	if _, err := st.GetInvoice(ctx, req.InvoiceID); err != nil {
		return Suggestion{}, fmt.Errorf("%w: invoice %d", ErrNotFound, req.InvoiceID)
	}

	id, err := st.InsertSuggestion(ctx, Suggestion{InvoiceID: req.InvoiceID, Kind: req.Kind, Payload: req.Payload, Status: "open"})
	if err != nil {
		return Suggestion{}, err
	}

	_, _ = logger.Record(ctx, actor, "invoice.suggest_change", "invoice", &req.InvoiceID, req, audit.OutcomeApplied, "")
	_ = sink.Record("suggest.create", map[string]any{"invoice_id": req.InvoiceID, "suggestion_id": id, "kind": req.Kind})
	return Suggestion{ID: id, InvoiceID: req.InvoiceID, Kind: req.Kind, Payload: req.Payload, Status: "open"}, nil
}

// ApplyRequest is the body of invoice.apply_suggestions.
type ApplyRequest struct {
	InvoiceID     int64
	SuggestionIDs []int64
}

// ApplyResult mirrors the response shape
// apply_suggestions: {applied[], new_version}.
type ApplyResult struct {
	Applied    []int64
	NewVersion int
}

// kindAddItem is the one non-forbidden suggestion kind this v1 build
// understands: adding a new line item to the invoice.
const kindAddItem forbidden.Kind = "add_item"

// ApplySuggestions enters the second forbidden-operation layer: every
// referenced suggestion is loaded and scanned before any mutation
// happens. If even one is forbidden, the whole batch is rejected, no
// partial apply, each with its own rejected audit entry.
func ApplySuggestions(ctx context.Context, st Store, logger *audit.Logger, sink *metrics.Sink, actor string, req ApplyRequest) (ApplyResult, error) {
	suggestions, err := st.GetSuggestions(ctx, req.SuggestionIDs)
	if err != nil {
		return ApplyResult{}, err
	}
	if len(suggestions) != len(req.SuggestionIDs) {
		return ApplyResult{}, fmt.Errorf("%w: one or more suggestions not found", ErrNotFound)
	}

	kinds := make([]forbidden.Kind, len(suggestions))
	for i, s := range suggestions {
		kinds[i] = s.Kind
	}
	if badKind, ok := forbidden.CheckAll(kinds); !ok {
		for _, s := range suggestions {
			_, _ = logger.Record(ctx, actor, "invoice.apply_suggestions", "suggestion", &s.ID, s, audit.OutcomeRejected, "forbidden_op:"+string(badKind))
		}
		_ = sink.Record("suggest.apply_blocked", map[string]any{"invoice_id": req.InvoiceID, "kind": badKind})
		return ApplyResult{}, fmt.Errorf("%w: %s", ErrForbiddenOp, badKind)
	}

	inv, err := st.GetInvoice(ctx, req.InvoiceID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("%w: invoice %d", ErrNotFound, req.InvoiceID)
	}

	items, err := st.ListItems(ctx, req.InvoiceID)
	if err != nil {
		return ApplyResult{}, err
	}
	before := snapshotItems(items)

	applied := make([]int64, 0, len(suggestions))
	subtotal := inv.Subtotal
	for _, s := range suggestions {
		if s.Kind != kindAddItem {
			// Unrecognized, non-forbidden kinds are accepted as no-op
			// annotations in this build; v1 only mutates line items for
			// add_item. A future kind gets its own case here.
			applied = append(applied, s.ID)
			if err := st.SetSuggestionStatus(ctx, s.ID, "applied"); err != nil {
				return ApplyResult{}, err
			}
			continue
		}

		item, amt, err := itemFromSuggestionPayload(s.Payload)
		if err != nil {
			return ApplyResult{}, err
		}
		if _, err := st.InsertItem(ctx, req.InvoiceID, item); err != nil {
			return ApplyResult{}, err
		}
		subtotal = subtotal.Add(amt)
		applied = append(applied, s.ID)
		if err := st.SetSuggestionStatus(ctx, s.ID, "applied"); err != nil {
			return ApplyResult{}, err
		}
	}

	newVersion := inv.Version + 1
	if err := st.UpdateTotals(ctx, req.InvoiceID, subtotal, subtotal, newVersion); err != nil {
		return ApplyResult{}, err
	}

	after, err := st.ListItems(ctx, req.InvoiceID)
	if err != nil {
		return ApplyResult{}, err
	}
	diff := map[string]any{"before": before, "after": snapshotItems(after)}
	sha, err := canon.SHA256Hex(diff)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("invoice: hash version diff: %w", err)
	}
	diffJSON, err := canon.JSON(diff)
	if err != nil {
		return ApplyResult{}, err
	}
	if err := st.InsertVersion(ctx, req.InvoiceID, newVersion, string(diffJSON), sha); err != nil {
		return ApplyResult{}, err
	}

	_, _ = logger.Record(ctx, actor, "invoice.apply_suggestions", "invoice", &req.InvoiceID, req, audit.OutcomeApplied, "")
	_ = sink.Record("suggest.apply", map[string]any{"invoice_id": req.InvoiceID, "applied": len(applied), "new_version": newVersion})
	return ApplyResult{Applied: applied, NewVersion: newVersion}, nil
}

func snapshotItems(items []Item) []map[string]any {
	out := make([]map[string]any, len(items))
	for i, it := range items {
		out[i] = map[string]any{"type": it.Type, "description": it.Description, "amount": it.Amount.Decimal()}
	}
	return out
}

func itemFromSuggestionPayload(payload map[string]any) (Item, money.Amount, error) {
	desc, _ := payload["description"].(string)
	amountStr, _ := payload["amount"].(string)
	amt, err := money.Parse(amountStr)
	if err != nil {
		return Item{}, money.Amount{}, fmt.Errorf("invoice: suggestion payload amount: %w", err)
	}
	worker, _ := payload["worker"].(string)
	site, _ := payload["site"].(string)
	return Item{Type: "adjustment", Description: desc, Amount: amt, Worker: worker, Site: site}, amt, nil
}

func isTerminal(status string) bool {
	return status == "paid" || status == "cancelled"
}

// SetStatus drives the invoice status machine: draft -> issued ->
// paid, or -> cancelled from any non-terminal state. Re-issuing an
// already-issued invoice or re-paying an already-paid invoice is a
// no-op (idempotent transitions); any other attempted
// transition is ErrStaleState.
func SetStatus(ctx context.Context, st Store, logger *audit.Logger, sink *metrics.Sink, actor string, invoiceID int64, target string) (Invoice, bool, error) {
	inv, err := st.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, false, fmt.Errorf("%w: invoice %d", ErrNotFound, invoiceID)
	}

	if inv.Status == target {
		_, _ = logger.Record(ctx, actor, "invoice.status", "invoice", &invoiceID, map[string]any{"to": target}, audit.OutcomeNoop, "")
		return inv, false, nil
	}

	switch target {
	case "cancelled":
		if isTerminal(inv.Status) {
			return Invoice{}, false, fmt.Errorf("%w: invoice %d already %s", ErrStaleState, invoiceID, inv.Status)
		}
	case "issued":
		if inv.Status != "draft" {
			return Invoice{}, false, fmt.Errorf("%w: invoice %d is %s, not draft", ErrStaleState, invoiceID, inv.Status)
		}
	case "paid":
		if inv.Status != "issued" {
			return Invoice{}, false, fmt.Errorf("%w: invoice %d is %s, not issued", ErrStaleState, invoiceID, inv.Status)
		}
	default:
		return Invoice{}, false, fmt.Errorf("%w: unknown target status %q", ErrStaleState, target)
	}

	if err := st.SetInvoiceStatus(ctx, invoiceID, target); err != nil {
		return Invoice{}, false, err
	}
	inv.Status = target

	_, _ = logger.Record(ctx, actor, "invoice.status", "invoice", &invoiceID, map[string]any{"to": target}, audit.OutcomeApplied, "")
	_ = sink.Record("invoice.status", map[string]any{"invoice_id": invoiceID, "status": target})
	return inv, true, nil
}
