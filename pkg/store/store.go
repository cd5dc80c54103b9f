// Package store implements CrewLedger's transactional session
// abstraction and relational schema: begin/commit/rollback,
// nested save-points for per-request read-modify-write, forward-only
// numbered migrations with a revision table, and explicit read /
// read-write session modes.
//
// The dual-mode wiring (Postgres-if-DATABASE_URL-else-local-SQLite
// "Lite Mode") and the plain database/sql idiom work unmodified against
// both lib/pq and modernc.org/sqlite since both accept the same
// placeholder syntax. CrewLedger generalizes a single obligations
// table into the full domain schema, plus a commit-hook invariant the
// simpler single-table case does not need: every Session that performs
// a domain write must also append an audit entry before Commit, or
// Commit fails.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Dialect identifies which SQL dialect a Store's migrations/queries
// must target. Only placeholder style differs in practice ($N works
// for both the lib/pq and modernc.org/sqlite drivers), but call sites
// branch on Dialect for engine-specific DDL (e.g. AUTOINCREMENT).
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store wraps a *sql.DB plus the dialect it was opened against.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
}

// Open connects to Postgres when dsn is non-empty, otherwise opens a
// local-first SQLite database at sqlitePath ("Lite Mode" fallback).
func Open(ctx context.Context, dsn, sqlitePath string) (*Store, error) {
	if dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("store: ping postgres: %w", err)
		}
		return &Store{DB: db, Dialect: DialectPostgres}, nil
	}

	db, err := sql.Open("sqlite", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("store: enable sqlite foreign keys: %w", err)
	}
	return &Store{DB: db, Dialect: DialectSQLite}, nil
}

// Mode is the explicit read/read-write session mode
type Mode int

const (
	ModeRead Mode = iota
	ModeReadWrite
)

// ErrMissingAuditEntry is returned by Commit when a read-write Session
// performed a domain mutation but never recorded an audit entry for
// it, enforcing the store's declared invariant.
var ErrMissingAuditEntry = errors.New("store: mutating session committed without an audit entry")

// Session is one transactional unit of work. Nested calls to Savepoint
// implement the "nested save-points" requirement for per-request
// read-modify-write without needing a new outer transaction.
type Session struct {
	tx           *sql.Tx
	mode         Mode
	mutated      bool
	auditWritten bool
	spCounter    int
}

// Begin starts a new session in the given mode.
func (s *Store) Begin(ctx context.Context, mode Mode) (*Session, error) {
	opts := &sql.TxOptions{ReadOnly: mode == ModeRead}
	tx, err := s.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	return &Session{tx: tx, mode: mode}, nil
}

// Tx exposes the underlying transaction for repositories to issue
// queries against.
func (sess *Session) Tx() *sql.Tx {
	return sess.tx
}

// MarkMutated flags that this session performed a domain write, so
// Commit can enforce the audit invariant.
func (sess *Session) MarkMutated() {
	sess.mutated = true
}

// MarkAuditWritten flags that an AuditEntry was appended in this
// session. Called by audit.Logger.Record via a Writer adapter bound to
// this session.
func (sess *Session) MarkAuditWritten() {
	sess.auditWritten = true
}

// AuditWritten reports whether an audit entry has been appended in
// this session so far. Callers use it to decide whether a rejected
// domain call (forbidden op, stale state) should still commit -- the
// rejection's audit trail must survive even though the attempted
// mutation itself did not happen.
func (sess *Session) AuditWritten() bool {
	return sess.auditWritten
}

// Savepoint opens a nested savepoint and returns a release function
// that releases it on success or rolls back to it on failure; callers
// use it for per-item recovery inside a bulk operation without
// aborting sibling items.
func (sess *Session) Savepoint(ctx context.Context) (name string, release func(commit bool) error, err error) {
	sess.spCounter++
	name = fmt.Sprintf("sp_%d", sess.spCounter)
	if _, err := sess.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return "", nil, fmt.Errorf("store: savepoint %s: %w", name, err)
	}
	release = func(commit bool) error {
		if commit {
			_, err := sess.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
			return err
		}
		_, err := sess.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
		return err
	}
	return name, release, nil
}

// Commit commits the session, rejecting the commit if the session
// mutated domain tables without also writing an audit entry.
func (sess *Session) Commit() error {
	if sess.mode == ModeReadWrite && sess.mutated && !sess.auditWritten {
		_ = sess.tx.Rollback()
		return ErrMissingAuditEntry
	}
	return sess.tx.Commit()
}

// Rollback aborts the session.
func (sess *Session) Rollback() error {
	return sess.tx.Rollback()
}
