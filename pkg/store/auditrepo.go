package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/peycheff/crewledger/pkg/audit"
)

// AuditRepo implements audit.Writer and audit.Reader against the
// audit_entries table: an append-only entry shape simplified to a flat
// per-entry payload_hash rather than a hash-chained ledger (see
// DESIGN.md).
type AuditRepo struct {
	exec    Execer
	session *Session
}

// NewAuditRepo builds a repo bound to a Session's transaction. session
// may be nil when used outside a mutating request (e.g. a read-only
// query helper), in which case MarkAuditWritten is a no-op.
func NewAuditRepo(exec Execer, session *Session) *AuditRepo {
	return &AuditRepo{exec: exec, session: session}
}

// Append writes one audit row and, if bound to a Session, flags that
// session as having recorded its audit entry (the commit-hook
// invariant of.
func (r *AuditRepo) Append(ctx context.Context, e audit.Entry) (int64, error) {
	row := r.exec.QueryRowContext(ctx, `
		INSERT INTO audit_entries (actor, action, target_kind, target_id, payload_hash, outcome, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		e.Actor, e.Action, e.TargetKind, e.TargetID, e.PayloadHash, e.Outcome, nullableString(e.Reason), e.CreatedAt)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: append audit entry: %w", err)
	}
	if r.session != nil {
		r.session.MarkAuditWritten()
	}
	return id, nil
}

// ByTarget returns every entry recorded against a target, oldest first.
func (r *AuditRepo) ByTarget(ctx context.Context, targetKind string, targetID int64) ([]audit.Entry, error) {
	rows, err := r.queryRows(ctx, "SELECT id, actor, action, target_kind, target_id, payload_hash, outcome, reason, created_at FROM audit_entries WHERE target_kind = $1 AND target_id = $2 ORDER BY id ASC", targetKind, targetID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ByActor returns the most recent entries for an actor, newest first,
// capped at limit.
func (r *AuditRepo) ByActor(ctx context.Context, actor string, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.queryRows(ctx, "SELECT id, actor, action, target_kind, target_id, payload_hash, outcome, reason, created_at FROM audit_entries WHERE actor = $1 ORDER BY id DESC LIMIT $2", actor, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// queryRows requires a *sql.DB-shaped Execer with QueryContext; Execer
// only promises QueryRowContext, so AuditRepo's Reader methods take a
// *sql.DB or *sql.Tx directly rather than the narrower interface.
func (r *AuditRepo) queryRows(ctx context.Context, query string, args ...any) ([]audit.Entry, error) {
	queryable, ok := r.exec.(interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	})
	if !ok {
		return nil, fmt.Errorf("store: audit reader requires a QueryContext-capable executor")
	}
	rows, err := queryable.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var targetID sql.NullInt64
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.TargetKind, &targetID, &e.PayloadHash, &e.Outcome, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		if targetID.Valid {
			v := targetID.Int64
			e.TargetID = &v
		}
		e.Reason = reason.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
