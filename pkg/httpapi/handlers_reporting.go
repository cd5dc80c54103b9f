package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/peycheff/crewledger/pkg/auth"
	"github.com/peycheff/crewledger/pkg/money"
	"github.com/peycheff/crewledger/pkg/reporting"
	"github.com/peycheff/crewledger/pkg/store"
)

// registerReportingRoutes wires the CSV export surface: the
// monthly report, the filtered expense/invoice exports, and the
// per-worker JSON report.
func registerReportingRoutes(mux *http.ServeMux, d *Deps) {
	adminOnly := auth.RequireRole(probs, auth.RoleAdmin)
	adminOrForeman := auth.RequireRole(probs, auth.RoleAdmin, auth.RoleForeman)

	mux.Handle("GET /api/reports/monthly.csv", adminOnly(handleMonthlyReport(d)))
	mux.Handle("GET /api/admin/expenses/export", adminOnly(handleExpensesExport(d)))
	mux.Handle("GET /api/admin/invoices/export", adminOnly(handleInvoicesExport(d)))
	mux.Handle("GET /api/report.worker/{user_id}", adminOrForeman(handleWorkerReport(d)))
}

func parsePeriodQuery(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	month := r.URL.Query().Get("month")
	if month != "" {
		from, err := time.Parse("2006-01", month)
		if err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "invalid month, expected YYYY-MM")
			return time.Time{}, time.Time{}, false
		}
		return from, from.AddDate(0, 1, 0).Add(-time.Second), true
	}

	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")
	if fromStr == "" || toStr == "" {
		writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "from and to query parameters are required")
		return time.Time{}, time.Time{}, false
	}
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "invalid from date")
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "invalid to date")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func writeExportCSV(w http.ResponseWriter, src reporting.RowSource) {
	if err := reporting.CheckLimit(src.Count()); err != nil {
		var limitErr *reporting.ExportLimitError
		if errors.As(err, &limitErr) {
			writeProblem(w, http.StatusUnprocessableEntity, "export_limit_exceeded", limitErr.Error())
			return
		}
		writeProblem(w, http.StatusInternalServerError, "internal_error", "export failed")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment")
	w.WriteHeader(http.StatusOK)
	_ = reporting.WriteCSV(w, src.Header(), src.Rows())
}

func reportRowsToMonthly(rows []store.ReportRow) reporting.MonthlySource {
	items := make([]reporting.MonthlyRow, len(rows))
	for i, r := range rows {
		amount := r.Amount
		if a, err := money.Parse(r.Amount); err == nil {
			amount = a.Format()
		}
		items[i] = reporting.MonthlyRow{
			Date:        r.Date.Format("2006-01-02"),
			Kind:        r.Kind,
			Worker:      r.Worker,
			Description: r.Description,
			Amount:      amount,
			Currency:    r.Currency,
			Status:      r.Status,
		}
	}
	return reporting.MonthlySource{Items: items}
}

func handleMonthlyReport(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, ok := parsePeriodQuery(w, r)
		if !ok {
			return
		}
		withTxn(w, r, d, store.ModeRead, false, func(t *txn) error {
			rows, err := t.domain.ReportRows(r.Context(), from, to)
			if err != nil {
				writeProblem(w, http.StatusInternalServerError, "internal_error", "report query failed")
				return err
			}
			writeExportCSV(w, reportRowsToMonthly(rows))
			return nil
		})
	}
}

func handleExpensesExport(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, ok := parsePeriodQuery(w, r)
		if !ok {
			return
		}
		withTxn(w, r, d, store.ModeRead, false, func(t *txn) error {
			rows, err := t.domain.ReportRows(r.Context(), from, to)
			if err != nil {
				writeProblem(w, http.StatusInternalServerError, "internal_error", "report query failed")
				return err
			}
			expenseOnly := make([]store.ReportRow, 0, len(rows))
			for _, row := range rows {
				if row.Kind == "expense" {
					expenseOnly = append(expenseOnly, row)
				}
			}
			writeExportCSV(w, reportRowsToMonthly(expenseOnly))
			return nil
		})
	}
}

var invoiceExportHeader = []string{"id", "client_id", "period_from", "period_to", "currency", "subtotal", "tax", "total", "status", "version"}

type invoiceExportSource struct {
	rows []store.Invoice
}

func (s invoiceExportSource) Header() []string { return invoiceExportHeader }
func (s invoiceExportSource) Count() int       { return len(s.rows) }
func (s invoiceExportSource) Rows() [][]string {
	formatAmount := func(s string) string {
		if a, err := money.Parse(s); err == nil {
			return a.Format()
		}
		return s
	}
	out := make([][]string, len(s.rows))
	for i, inv := range s.rows {
		out[i] = []string{
			strconv.FormatInt(inv.ID, 10),
			strconv.FormatInt(inv.ClientID, 10),
			inv.PeriodFrom.Format("2006-01-02"),
			inv.PeriodTo.Format("2006-01-02"),
			inv.Currency, formatAmount(inv.Subtotal), formatAmount(inv.Tax), formatAmount(inv.Total), inv.Status,
			strconv.Itoa(inv.Version),
		}
	}
	return out
}

func handleInvoicesExport(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, ok := parsePeriodQuery(w, r)
		if !ok {
			return
		}
		withTxn(w, r, d, store.ModeRead, false, func(t *txn) error {
			invoiceRepo := store.NewInvoiceRepo(t.sess.Tx())
			rows, err := invoiceRepo.ListByPeriod(r.Context(), from, to)
			if err != nil {
				writeProblem(w, http.StatusInternalServerError, "internal_error", "report query failed")
				return err
			}
			writeExportCSV(w, invoiceExportSource{rows: rows})
			return nil
		})
	}
}

func handleWorkerReport(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		worker := r.PathValue("user_id")
		from, to, ok := parsePeriodQuery(w, r)
		if !ok {
			return
		}
		withTxn(w, r, d, store.ModeRead, false, func(t *txn) error {
			rows, err := t.domain.WorkerReportRows(r.Context(), worker, from, to)
			if err != nil {
				writeProblem(w, http.StatusInternalServerError, "internal_error", "report query failed")
				return err
			}
			writeJSON(w, http.StatusOK, map[string]any{"worker": worker, "rows": rows})
			return nil
		})
	}
}
