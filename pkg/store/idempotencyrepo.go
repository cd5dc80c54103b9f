package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/peycheff/crewledger/pkg/idempotency"
)

// IdempotencyRepo implements idempotency.Store against the relational
// schema's idempotency_keys table. Insert/Get run against whatever
// *sql.DB or *sql.Tx is handed in, so callers can bind it to a
// Session's transaction.
type IdempotencyRepo struct {
	exec Execer
}

// Execer is the subset of *sql.DB / *sql.Tx the repo needs, so the
// same repo type works whether bound to a live transaction (normal
// request path) or the pool directly (tests).
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewIdempotencyRepo builds a repo bound to exec (a *sql.DB or the Tx
// of an in-flight Session).
func NewIdempotencyRepo(exec Execer) *IdempotencyRepo {
	return &IdempotencyRepo{exec: exec}
}

// Insert writes a new idempotency key row, translating the schema's
// unique-constraint violation into the sentinel idempotency.ErrKeyExists.
func (r *IdempotencyRepo) Insert(ctx context.Context, key, scopeHash string, now time.Time) error {
	_, err := r.exec.ExecContext(ctx, "INSERT INTO idempotency_keys (key, scope_hash, status, created_at) VALUES ($1, $2, 'applied', $3)", key, scopeHash, now)
	if err != nil && isUniqueViolation(err) {
		return idempotency.ErrKeyExists
	}
	return err
}

// Get reads back a stored key's scope hash.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (idempotency.Record, bool, error) {
	row := r.exec.QueryRowContext(ctx, "SELECT key, scope_hash, status, created_at FROM idempotency_keys WHERE key = $1", key)
	var rec idempotency.Record
	err := row.Scan(&rec.Key, &rec.ScopeHash, &rec.Status, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return idempotency.Record{}, false, nil
	}
	if err != nil {
		return idempotency.Record{}, false, err
	}
	return rec, true, nil
}

// isUniqueViolation reports whether err looks like a unique/primary
// key constraint violation, across both the Postgres (lib/pq) and
// SQLite (modernc.org/sqlite) drivers this store supports. Both
// drivers surface the violation as a plain string-formatted error
// rather than a shared typed sentinel, so a substring check is the
// only dialect-portable option.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sub := range []string{
		"duplicate key value violates unique constraint", // lib/pq
		"UNIQUE constraint failed",                       // modernc.org/sqlite
	} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
