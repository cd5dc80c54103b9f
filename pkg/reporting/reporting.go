// Package reporting implements CrewLedger's CSV export surface: the
// monthly report and the filtered resource exports (expenses/export,
// invoices/export), sharing one writer that emits a UTF-8 BOM, CRLF
// line endings, and RFC 4180 quoting, and enforces the 10,000-row
// export cap before a single byte is written.
//
// A response is always fully resolved before the writer is touched,
// so a failed precondition never emits a partial body. This package
// uses the standard library's encoding/csv rather than a third-party
// CSV library, since no export here needs anything csv.Writer lacks.
package reporting

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// MaxExportRows is the hard cap on rows returned by any filtered
// export and the monthly report.
const MaxExportRows = 10000

// ErrExportLimitExceeded is the sentinel wrapped by ExportLimitError,
// for callers that only need errors.Is.
var ErrExportLimitExceeded = errors.New("reporting: export_limit_exceeded")

// ExportLimitError carries the {total, limit} the HTTP layer echoes
// in its 422 body.
type ExportLimitError struct {
	Total int
	Limit int
}

func (e *ExportLimitError) Error() string {
	return fmt.Sprintf("reporting: %d rows exceeds export limit %d", e.Total, e.Limit)
}

func (e *ExportLimitError) Unwrap() error { return ErrExportLimitExceeded }

// CheckLimit rejects a row count over MaxExportRows before any
// streaming begins.
func CheckLimit(total int) error {
	if total > MaxExportRows {
		return &ExportLimitError{Total: total, Limit: MaxExportRows}
	}
	return nil
}

// WriteCSV streams header + rows to w as RFC 4180 CSV with a leading
// UTF-8 BOM and CRLF line endings. Every monetary
// column must already be rendered via money.Amount.Format by the
// caller before it reaches rows.
func WriteCSV(w io.Writer, header []string, rows [][]string) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("reporting: write BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("reporting: write header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("reporting: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// RowSource is the narrow seam this package needs from a caller's
// filtered query: Count determines the limit check up front, Rows
// supplies the already-formatted cells (monetary columns pre-rendered
// through pkg/money.Amount.Format).
type RowSource interface {
	Header() []string
	Count() int
	Rows() [][]string
}

// Export enforces the row cap and, only if it passes, writes the full
// CSV body. No partial file is ever emitted on a rejected export.
func Export(w io.Writer, src RowSource) error {
	if err := CheckLimit(src.Count()); err != nil {
		return err
	}
	return WriteCSV(w, src.Header(), src.Rows())
}

// MonthlyReportHeader is the fixed column set for the monthly report,
// one row per priced task/expense in the month.
var MonthlyReportHeader = []string{"date", "kind", "worker", "description", "amount", "currency", "status"}

// MonthlyRow is one line of the monthly report, pre-formatted by the
// caller (money columns already through pkg/money.Amount.Format).
type MonthlyRow struct {
	Date        string
	Kind        string
	Worker      string
	Description string
	Amount      string
	Currency    string
	Status      string
}

// MonthlySource adapts a slice of MonthlyRow to RowSource.
type MonthlySource struct {
	Items []MonthlyRow
}

func (s MonthlySource) Header() []string { return MonthlyReportHeader }
func (s MonthlySource) Count() int       { return len(s.Items) }
func (s MonthlySource) Rows() [][]string {
	out := make([][]string, len(s.Items))
	for i, r := range s.Items {
		out[i] = []string{r.Date, r.Kind, r.Worker, r.Description, r.Amount, r.Currency, r.Status}
	}
	return out
}
