package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/peycheff/crewledger/pkg/auth"
	"github.com/peycheff/crewledger/pkg/forbidden"
	"github.com/peycheff/crewledger/pkg/invoice"
	"github.com/peycheff/crewledger/pkg/store"
)

// registerInvoiceRoutes wires the invoice lifecycle:
// build, one-time preview issue/fetch, the two-layer forbidden-op
// suggest/apply flow, and status transitions.
func registerInvoiceRoutes(mux *http.ServeMux, d *Deps) {
	adminOnly := auth.RequireRole(probs, auth.RoleAdmin)

	mux.Handle("POST /api/invoice.build", adminOnly(handleInvoiceBuild(d)))
	mux.Handle("POST /api/invoice.preview/{id}/issue", adminOnly(handleInvoicePreviewIssue(d)))
	mux.HandleFunc("GET /api/invoice.preview/{id}", handleInvoicePreviewFetch(d))
	mux.Handle("POST /api/invoice.suggest_change", adminOnly(handleInvoiceSuggest(d)))
	mux.Handle("POST /api/invoice.apply_suggestions", adminOnly(handleInvoiceApply(d)))
	mux.Handle("POST /api/invoice.status", adminOnly(handleInvoiceStatus(d)))
}

type invoiceBuildRequest struct {
	ClientID   int64  `json:"client_id"`
	PeriodFrom string `json:"period_from"`
	PeriodTo   string `json:"period_to"`
	Currency   string `json:"currency"`
}

func handleInvoiceBuild(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idemKey := r.Header.Get("X-Idempotency-Key")
		if idemKey == "" {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "X-Idempotency-Key header is required")
			return
		}
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "could not read request body")
			return
		}
		var req invoiceBuildRequest
		if !validateBody(w, raw, invoiceBuildSchema, &req) {
			return
		}
		from, err := time.Parse("2006-01-02", req.PeriodFrom)
		if err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "invalid period_from")
			return
		}
		to, err := time.Parse("2006-01-02", req.PeriodTo)
		if err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "invalid period_to")
			return
		}
		currency := req.Currency
		if currency == "" {
			currency = "ILS"
		}

		withTxn(w, r, d, store.ModeReadWrite, true, func(t *txn) error {
			inv, err := invoice.Build(r.Context(), t.invoice, d.Pricing.Current(), t.guard, t.logger, d.Metrics, actorFrom(r), idemKey, invoice.BuildRequest{
				ClientID:   req.ClientID,
				PeriodFrom: from,
				PeriodTo:   to,
				Currency:   currency,
			})
			if err != nil {
				mapDomainError(w, err, nil, nil, nil, nil)
				return err
			}
			writeJSON(w, http.StatusCreated, inv)
			return nil
		})
	}
}

func handleInvoicePreviewIssue(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathInt64(w, r, "id")
		if !ok {
			return
		}
		withTxn(w, r, d, store.ModeReadWrite, true, func(t *txn) error {
			token, err := invoice.PreviewIssue(r.Context(), t.invoice, t.logger, actorFrom(r), id)
			if err != nil {
				mapDomainError(w, err, invoice.ErrNotFound, nil, nil, nil)
				return err
			}
			writeJSON(w, http.StatusOK, map[string]any{"token": token})
			return nil
		})
	}
}

func handleInvoicePreviewFetch(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "token query parameter is required")
			return
		}
		withTxn(w, r, d, store.ModeReadWrite, false, func(t *txn) error {
			inv, items, err := invoice.PreviewFetch(r.Context(), t.invoice, token)
			if err != nil {
				mapDomainError(w, err, invoice.ErrNotFound, nil, nil, invoice.ErrGone)
				return err
			}
			writeJSON(w, http.StatusOK, map[string]any{"invoice": inv, "items": items})
			return nil
		})
	}
}

type suggestChangeRequest struct {
	InvoiceID int64          `json:"invoice_id"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload"`
}

func handleInvoiceSuggest(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req suggestChangeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		withTxn(w, r, d, store.ModeReadWrite, true, func(t *txn) error {
			sug, err := invoice.SuggestChange(r.Context(), t.invoice, t.logger, d.Metrics, actorFrom(r), invoice.SuggestRequest{
				InvoiceID: req.InvoiceID,
				Kind:      forbidden.Kind(req.Kind),
				Payload:   req.Payload,
			})
			if err != nil {
				mapDomainError(w, err, invoice.ErrNotFound, nil, invoice.ErrForbiddenOp, nil)
				return err
			}
			writeJSON(w, http.StatusCreated, sug)
			return nil
		})
	}
}

type applySuggestionsRequest struct {
	InvoiceID     int64   `json:"invoice_id"`
	SuggestionIDs []int64 `json:"suggestion_ids"`
}

func handleInvoiceApply(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req applySuggestionsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		withTxn(w, r, d, store.ModeReadWrite, true, func(t *txn) error {
			res, err := invoice.ApplySuggestions(r.Context(), t.invoice, t.logger, d.Metrics, actorFrom(r), invoice.ApplyRequest{
				InvoiceID:     req.InvoiceID,
				SuggestionIDs: req.SuggestionIDs,
			})
			if err != nil {
				mapDomainError(w, err, invoice.ErrNotFound, nil, invoice.ErrForbiddenOp, nil)
				return err
			}
			writeJSON(w, http.StatusOK, res)
			return nil
		})
	}
}

type invoiceStatusRequest struct {
	InvoiceID int64  `json:"invoice_id"`
	Status    string `json:"status"`
}

func handleInvoiceStatus(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req invoiceStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		withTxn(w, r, d, store.ModeReadWrite, true, func(t *txn) error {
			inv, changed, err := invoice.SetStatus(r.Context(), t.invoice, t.logger, d.Metrics, actorFrom(r), req.InvoiceID, req.Status)
			if err != nil {
				mapDomainError(w, err, invoice.ErrNotFound, invoice.ErrStaleState, nil, nil)
				return err
			}
			writeJSON(w, http.StatusOK, map[string]any{"invoice": inv, "changed": changed})
			return nil
		})
	}
}
