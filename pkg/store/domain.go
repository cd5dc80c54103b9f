package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Shift mirrors the Shift entity.
type Shift struct {
	ID          int64
	UserID      int64
	ClientID    *int64
	WorkAddress string
	Status      string
	CreatedAt   time.Time
	EndedAt     *time.Time
}

// Task mirrors the Task entity. Qty/Amount are the decimal
// string forms money.Amount round-trips through MarshalJSON/Decimal.
// IdempotencyKey is the optional Idempotency-Key header value a
// resource-add request was submitted with, recorded so a replay can
// be answered with the original row instead of a fresh insert.
type Task struct {
	ID             int64
	ShiftID        int64
	RateCode       string
	Qty            string
	Amount         string
	Worker         string
	CreatedAt      time.Time
	Status         string
	IdempotencyKey string
}

// Expense mirrors the Expense entity.
type Expense struct {
	ID             int64
	WorkerID       int64
	ShiftID        *int64
	Category       string
	Amount         string
	Currency       string
	PhotoRef       string
	OCRStatus      string
	Status         string
	Date           time.Time
	CreatedAt      time.Time
	IdempotencyKey string
}

// DomainRepo groups the Shift/Task/Expense/Client CRUD the moderation
// and reporting cores need, bound to a single Execer (either the pool
// for reads or a Session's Tx for request-scoped writes), following the
// same thin-query-wrapper idiom as the rest of pkg/store.
type DomainRepo struct {
	exec Execer
}

// NewDomainRepo builds a repo bound to exec.
func NewDomainRepo(exec Execer) *DomainRepo {
	return &DomainRepo{exec: exec}
}

// CreateShift opens a new shift.
func (r *DomainRepo) CreateShift(ctx context.Context, userID int64, clientID *int64, workAddress string) (int64, error) {
	row := r.exec.QueryRowContext(ctx, `
		INSERT INTO shifts (user_id, client_id, work_address, status)
		VALUES ($1, $2, $3, 'open') RETURNING id`, userID, clientID, workAddress)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: create shift: %w", err)
	}
	return id, nil
}

// CloseShift closes a shift, enforcing ended_at >= created_at at the
// query layer is the caller's job (invariant checked by the domain
// package before calling this).
func (r *DomainRepo) CloseShift(ctx context.Context, shiftID int64, endedAt time.Time) error {
	res, err := r.exec.ExecContext(ctx, "UPDATE shifts SET status = 'closed', ended_at = $1 WHERE id = $2 AND status = 'open'", endedAt, shiftID)
	if err != nil {
		return fmt.Errorf("store: close shift: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("store: shift %d not found or already closed", shiftID)
	}
	return nil
}

// GetShift fetches a shift by ID.
func (r *DomainRepo) GetShift(ctx context.Context, shiftID int64) (Shift, error) {
	row := r.exec.QueryRowContext(ctx, "SELECT id, user_id, client_id, work_address, status, created_at, ended_at FROM shifts WHERE id = $1", shiftID)
	var s Shift
	var clientID sql.NullInt64
	var endedAt sql.NullTime
	if err := row.Scan(&s.ID, &s.UserID, &clientID, &s.WorkAddress, &s.Status, &s.CreatedAt, &endedAt); err != nil {
		return Shift{}, err
	}
	if clientID.Valid {
		v := clientID.Int64
		s.ClientID = &v
	}
	if endedAt.Valid {
		v := endedAt.Time
		s.EndedAt = &v
	}
	return s, nil
}

// CreateTask inserts a pending task row with its pinned amount.
func (r *DomainRepo) CreateTask(ctx context.Context, t Task) (int64, error) {
	row := r.exec.QueryRowContext(ctx, `
		INSERT INTO tasks (shift_id, rate_code, qty, amount, worker, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6) RETURNING id`,
		t.ShiftID, t.RateCode, t.Qty, t.Amount, t.Worker, nullableString(t.IdempotencyKey))
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: create task: %w", err)
	}
	return id, nil
}

// GetTask fetches a task by ID.
func (r *DomainRepo) GetTask(ctx context.Context, taskID int64) (Task, error) {
	row := r.exec.QueryRowContext(ctx, "SELECT id, shift_id, rate_code, qty, amount, worker, created_at, status FROM tasks WHERE id = $1", taskID)
	var t Task
	if err := row.Scan(&t.ID, &t.ShiftID, &t.RateCode, &t.Qty, &t.Amount, &t.Worker, &t.CreatedAt, &t.Status); err != nil {
		return Task{}, err
	}
	return t, nil
}

// FindTaskByIdempotencyKey looks up a previously-created task by the
// Idempotency-Key header it was submitted with, so task.add can answer
// a replay with the original result instead of inserting a duplicate.
func (r *DomainRepo) FindTaskByIdempotencyKey(ctx context.Context, key string) (Task, bool, error) {
	row := r.exec.QueryRowContext(ctx, "SELECT id, shift_id, rate_code, qty, amount, worker, created_at, status FROM tasks WHERE idempotency_key = $1", key)
	var t Task
	if err := row.Scan(&t.ID, &t.ShiftID, &t.RateCode, &t.Qty, &t.Amount, &t.Worker, &t.CreatedAt, &t.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, false, nil
		}
		return Task{}, false, fmt.Errorf("store: find task by idempotency key: %w", err)
	}
	return t, true, nil
}

// SetTaskStatus transitions a task's status, re-pinning amount when
// non-empty for apply-time re-pricing.
func (r *DomainRepo) SetTaskStatus(ctx context.Context, taskID int64, status, newAmount string) error {
	if newAmount != "" {
		_, err := r.exec.ExecContext(ctx, "UPDATE tasks SET status = $1, amount = $2 WHERE id = $3", status, newAmount, taskID)
		return err
	}
	_, err := r.exec.ExecContext(ctx, "UPDATE tasks SET status = $1 WHERE id = $2", status, taskID)
	return err
}

// CreateExpense inserts an expense. Callers must enforce the
// photo_ref-above-threshold invariant before calling.
func (r *DomainRepo) CreateExpense(ctx context.Context, e Expense) (int64, error) {
	row := r.exec.QueryRowContext(ctx, `
		INSERT INTO expenses (worker_id, shift_id, category, amount, currency, photo_ref, ocr_status, status, date, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'needs_approval', $8, $9) RETURNING id`,
		e.WorkerID, e.ShiftID, e.Category, e.Amount, e.Currency, nullableString(e.PhotoRef), e.OCRStatus, e.Date, nullableString(e.IdempotencyKey))
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: create expense: %w", err)
	}
	return id, nil
}

// GetExpense fetches an expense by ID.
func (r *DomainRepo) GetExpense(ctx context.Context, expenseID int64) (Expense, error) {
	row := r.exec.QueryRowContext(ctx, "SELECT id, worker_id, shift_id, category, amount, currency, photo_ref, ocr_status, status, date, created_at FROM expenses WHERE id = $1", expenseID)
	e, err := r.scanExpense(row)
	if err != nil {
		return Expense{}, err
	}
	return e, nil
}

// FindExpenseByIdempotencyKey looks up a previously-created expense by
// the Idempotency-Key header it was submitted with, so expense.add can
// answer a replay with the original result instead of inserting a
// duplicate.
func (r *DomainRepo) FindExpenseByIdempotencyKey(ctx context.Context, key string) (Expense, bool, error) {
	row := r.exec.QueryRowContext(ctx, "SELECT id, worker_id, shift_id, category, amount, currency, photo_ref, ocr_status, status, date, created_at FROM expenses WHERE idempotency_key = $1", key)
	e, err := r.scanExpense(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Expense{}, false, nil
		}
		return Expense{}, false, fmt.Errorf("store: find expense by idempotency key: %w", err)
	}
	return e, true, nil
}

func (r *DomainRepo) scanExpense(row interface{ Scan(...any) error }) (Expense, error) {
	var e Expense
	var shiftID sql.NullInt64
	var photoRef sql.NullString
	if err := row.Scan(&e.ID, &e.WorkerID, &shiftID, &e.Category, &e.Amount, &e.Currency, &photoRef, &e.OCRStatus, &e.Status, &e.Date, &e.CreatedAt); err != nil {
		return Expense{}, err
	}
	if shiftID.Valid {
		v := shiftID.Int64
		e.ShiftID = &v
	}
	e.PhotoRef = photoRef.String
	return e, nil
}

// SetExpenseStatus transitions an expense's moderation status.
func (r *DomainRepo) SetExpenseStatus(ctx context.Context, expenseID int64, status string) error {
	_, err := r.exec.ExecContext(ctx, "UPDATE expenses SET status = $1 WHERE id = $2", status, expenseID)
	return err
}

// PendingItem is the flattened view that merges pending tasks
// and expenses into one inbox feed.
type PendingItem struct {
	ID        int64
	Kind      string // task | expense
	ActorName string
	Summary   string
	Amount    string
	Currency  string
	CreatedAt time.Time
	Status    string
}

// ReportRow is one flattened task/expense row for the monthly report
// and the filtered expense export, unfiltered by status so
// rejected/approved items are both visible to admins.
type ReportRow struct {
	Date        time.Time
	Kind        string
	Worker      string
	Description string
	Amount      string
	Currency    string
	Status      string
}

// ReportRows returns every task and expense whose date falls in
// [from, to], across every client, for exports and the monthly report.
func (r *DomainRepo) ReportRows(ctx context.Context, from, to time.Time) ([]ReportRow, error) {
	queryable, ok := r.exec.(interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	})
	if !ok {
		return nil, fmt.Errorf("store: report listing requires a QueryContext-capable executor")
	}
	rows, err := queryable.QueryContext(ctx, `
		SELECT created_at AS date, 'task' AS kind, worker, rate_code AS description, amount, 'ILS' AS currency, status
		FROM tasks WHERE created_at >= $1 AND created_at <= $2
		UNION ALL
		SELECT date, 'expense' AS kind, CAST(worker_id AS TEXT) AS worker, category AS description, amount, currency, status
		FROM expenses WHERE date >= $1 AND date <= $2
		ORDER BY date ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("store: report rows: %w", err)
	}
	defer rows.Close()

	var out []ReportRow
	for rows.Next() {
		var rr ReportRow
		if err := rows.Scan(&rr.Date, &rr.Kind, &rr.Worker, &rr.Description, &rr.Amount, &rr.Currency, &rr.Status); err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

// WorkerReportRows narrows ReportRows to the rows whose Worker column
// equals worker (a task's free-text Worker field, or an expense's
// worker_id as text) for GET /api/report.worker/{user_id}.
func (r *DomainRepo) WorkerReportRows(ctx context.Context, worker string, from, to time.Time) ([]ReportRow, error) {
	rows, err := r.ReportRows(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]ReportRow, 0, len(rows))
	for _, rr := range rows {
		if rr.Worker == worker {
			out = append(out, rr)
		}
	}
	return out, nil
}

// ListPendingItems returns open tasks and expenses ordered
// created_at DESC, id DESC, newest first, paginated with
// a simple offset/limit (crew-scale data volumes make keyset pagination
// unnecessary here).
func (r *DomainRepo) ListPendingItems(ctx context.Context, limit, offset int) ([]PendingItem, error) {
	queryable, ok := r.exec.(interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	})
	if !ok {
		return nil, fmt.Errorf("store: pending item listing requires a QueryContext-capable executor")
	}
	rows, err := queryable.QueryContext(ctx, `
		SELECT id, 'task' AS kind, worker AS actor_name, rate_code AS summary, amount, 'ILS' AS currency, created_at, status
		FROM tasks WHERE status = 'pending'
		UNION ALL
		SELECT id, 'expense' AS kind, CAST(worker_id AS TEXT) AS actor_name, category AS summary, amount, currency, created_at, status
		FROM expenses WHERE status = 'needs_approval'
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list pending items: %w", err)
	}
	defer rows.Close()

	var items []PendingItem
	for rows.Next() {
		var it PendingItem
		if err := rows.Scan(&it.ID, &it.Kind, &it.ActorName, &it.Summary, &it.Amount, &it.Currency, &it.CreatedAt, &it.Status); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
