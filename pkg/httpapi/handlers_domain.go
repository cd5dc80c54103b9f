package httpapi

import (
	"net/http"
	"time"

	"github.com/peycheff/crewledger/pkg/audit"
	"github.com/peycheff/crewledger/pkg/auth"
	"github.com/peycheff/crewledger/pkg/money"
	"github.com/peycheff/crewledger/pkg/pricing"
	"github.com/peycheff/crewledger/pkg/store"
)

// registerDomainRoutes wires the worker-facing shift/task/expense
// capture endpoints: each mutates inside a
// single Session so its domain write and audit entry commit together.
func registerDomainRoutes(mux *http.ServeMux, d *Deps) {
	anyRole := auth.RequireRole(probs, auth.RoleAdmin, auth.RoleForeman, auth.RoleWorker)

	mux.Handle("POST /api/v1/shift/start", anyRole(handleShiftStart(d)))
	mux.Handle("POST /api/v1/shift/end", anyRole(handleShiftEnd(d)))
	mux.Handle("POST /api/task.add", anyRole(handleTaskAdd(d)))
	mux.Handle("POST /api/expense.add", anyRole(handleExpenseAdd(d)))
}

type shiftStartRequest struct {
	ClientID    *int64 `json:"client_id"`
	WorkAddress string `json:"work_address"`
}

func handleShiftStart(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := auth.MustFromContext(r.Context())
		var req shiftStartRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		var shiftID int64
		withTxn(w, r, d, store.ModeReadWrite, true, func(t *txn) error {
			id, err := t.domain.CreateShift(r.Context(), principal.UserID, req.ClientID, req.WorkAddress)
			if err != nil {
				writeProblem(w, http.StatusInternalServerError, "internal_error", "could not start shift")
				return err
			}
			shiftID = id
			_, _ = t.logger.Record(r.Context(), actorFrom(r), "shift.start", "shift", &id, req, audit.OutcomeApplied, "")
			writeJSON(w, http.StatusCreated, map[string]any{"id": shiftID, "status": "open"})
			return nil
		})
	}
}

type shiftEndRequest struct {
	ShiftID int64 `json:"shift_id"`
}

func handleShiftEnd(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req shiftEndRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		withTxn(w, r, d, store.ModeReadWrite, true, func(t *txn) error {
			now := time.Now().UTC()
			if err := t.domain.CloseShift(r.Context(), req.ShiftID, now); err != nil {
				writeProblem(w, http.StatusConflict, "stale_state", "shift already closed or not found")
				return err
			}
			_, _ = t.logger.Record(r.Context(), actorFrom(r), "shift.end", "shift", &req.ShiftID, req, audit.OutcomeApplied, "")
			writeJSON(w, http.StatusOK, map[string]any{"id": req.ShiftID, "status": "closed", "ended_at": now})
			return nil
		})
	}
}

type taskAddRequest struct {
	ShiftID  int64  `json:"shift_id"`
	RateCode string `json:"rate_code"`
	Qty      string `json:"qty"`
	Worker   string `json:"worker"`
}

func handleTaskAdd(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idemKey := r.Header.Get("Idempotency-Key")

		var req taskAddRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		qty, err := money.Parse(req.Qty)
		if err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "invalid qty")
			return
		}

		rules := d.Pricing.Current()
		priced, err := pricing.PriceTask(rules, req.RateCode, qty)
		if err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "unknown rate_code or pricing failure")
			return
		}

		withTxn(w, r, d, store.ModeReadWrite, true, func(t *txn) error {
			if idemKey != "" {
				if existing, found, err := t.domain.FindTaskByIdempotencyKey(r.Context(), idemKey); err != nil {
					writeProblem(w, http.StatusInternalServerError, "internal_error", "could not check idempotency key")
					return err
				} else if found {
					_, _ = t.logger.Record(r.Context(), actorFrom(r), "task.add", "task", &existing.ID, req, audit.OutcomeNoop, "replayed idempotency key")
					writeJSON(w, http.StatusOK, map[string]any{"id": existing.ID, "amount": existing.Amount, "status": existing.Status})
					return nil
				}
			}

			id, err := t.domain.CreateTask(r.Context(), store.Task{
				ShiftID:        req.ShiftID,
				RateCode:       req.RateCode,
				Qty:            qty.Decimal(),
				Amount:         priced.Amount.Decimal(),
				Worker:         req.Worker,
				IdempotencyKey: idemKey,
			})
			if err != nil {
				writeProblem(w, http.StatusInternalServerError, "internal_error", "could not create task")
				return err
			}
			_, _ = t.logger.Record(r.Context(), actorFrom(r), "task.add", "task", &id, req, audit.OutcomeApplied, "")
			_ = d.Metrics.Record("task.add", map[string]any{"id": id, "amount": priced.Amount.Decimal()})
			writeJSON(w, http.StatusCreated, map[string]any{"id": id, "amount": priced.Amount.Decimal(), "status": "pending"})
			return nil
		})
	}
}

type expenseAddRequest struct {
	WorkerID int64   `json:"worker_id"`
	ShiftID  *int64  `json:"shift_id"`
	Category string  `json:"category"`
	Amount   string  `json:"amount"`
	Currency string  `json:"currency"`
	PhotoRef string  `json:"photo_ref"`
	Date     string  `json:"date"`
}

func handleExpenseAdd(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idemKey := r.Header.Get("Idempotency-Key")

		var req expenseAddRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		amount, err := money.Parse(req.Amount)
		if err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "invalid amount")
			return
		}
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "invalid date, expected YYYY-MM-DD")
			return
		}

		threshold, _ := money.Parse(d.ExpensePhotoThreshold)
		if amount.Cmp(threshold) > 0 && req.PhotoRef == "" {
			writeProblem(w, http.StatusUnprocessableEntity, "photo_required", "a photo is required for expenses over the receipt threshold")
			return
		}

		// ocr_status is informational only (it never gates approval): "off"
		// when OCR isn't engaged at all (disabled, or no photo attached),
		// "abstain" once a photo is captured for OCR but no confident
		// extraction has been recorded yet. "ok" is reserved for a future
		// OCR pipeline's successful-extraction outcome.
		ocrStatus := "off"
		if d.OCREnabled && req.PhotoRef != "" {
			ocrStatus = "abstain"
		}

		withTxn(w, r, d, store.ModeReadWrite, true, func(t *txn) error {
			if idemKey != "" {
				if existing, found, err := t.domain.FindExpenseByIdempotencyKey(r.Context(), idemKey); err != nil {
					writeProblem(w, http.StatusInternalServerError, "internal_error", "could not check idempotency key")
					return err
				} else if found {
					_, _ = t.logger.Record(r.Context(), actorFrom(r), "expense.add", "expense", &existing.ID, req, audit.OutcomeNoop, "replayed idempotency key")
					writeJSON(w, http.StatusOK, map[string]any{"id": existing.ID, "status": existing.Status})
					return nil
				}
			}

			id, err := t.domain.CreateExpense(r.Context(), store.Expense{
				WorkerID:       req.WorkerID,
				ShiftID:        req.ShiftID,
				Category:       req.Category,
				Amount:         amount.Decimal(),
				Currency:       req.Currency,
				PhotoRef:       req.PhotoRef,
				OCRStatus:      ocrStatus,
				Date:           date,
				IdempotencyKey: idemKey,
			})
			if err != nil {
				writeProblem(w, http.StatusInternalServerError, "internal_error", "could not create expense")
				return err
			}
			_, _ = t.logger.Record(r.Context(), actorFrom(r), "expense.add", "expense", &id, req, audit.OutcomeApplied, "")
			_ = d.Metrics.Record("expense.add", map[string]any{"id": id, "amount": amount.Decimal()})
			writeJSON(w, http.StatusCreated, map[string]any{"id": id, "status": "needs_approval"})
			return nil
		})
	}
}
