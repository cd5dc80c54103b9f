// Package audit implements CrewLedger's append-only audit log: every
// mutating action is recorded with the actor, the action name, the
// target it touched, a SHA-256 hash of its canonical-JSON payload, and
// an outcome. Entries are never updated or deleted.
//
// The append-only entry shape (Query/QueryFilter) and the Logger
// interface/Record signature follow this codebase's general
// audit-ledger idiom, simplified from a hash-chained security-evidence
// ledger down to a per-entry payload hash: entries are not chained to
// one another, and no entry carries a previous-hash field.
package audit

import (
	"context"
	"time"

	"github.com/peycheff/crewledger/pkg/canon"
)

// Outcome is the result recorded against an audit entry.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
	OutcomeNoop     Outcome = "noop"
)

// Entry mirrors the AuditEntry data model.
type Entry struct {
	ID          int64
	Actor       string
	Action      string
	TargetKind  string
	TargetID    *int64
	PayloadHash string
	Outcome     Outcome
	Reason      string
	CreatedAt   time.Time
}

// Writer is the store-backed append operation. Implementations must
// run Append inside the caller's transaction:
// domain mutation and its audit entry to commit atomically together.
type Writer interface {
	Append(ctx context.Context, e Entry) (int64, error)
}

// Reader supports querying entries by target or actor.
type Reader interface {
	ByTarget(ctx context.Context, targetKind string, targetID int64) ([]Entry, error)
	ByActor(ctx context.Context, actor string, limit int) ([]Entry, error)
}

// Logger is the narrow surface domain packages depend on: compute the
// payload hash and append one row.
type Logger struct {
	writer Writer
}

// NewLogger builds a Logger over a transactional Writer.
func NewLogger(writer Writer) *Logger {
	return &Logger{writer: writer}
}

// Record computes payload_hash = SHA-256(canonical_json(payload)) and
// appends one audit row. targetID is nil for actions with no single
// row target (e.g. bulk operations logged per-item by the caller).
func (l *Logger) Record(ctx context.Context, actor, action, targetKind string, targetID *int64, payload interface{}, outcome Outcome, reason string) (Entry, error) {
	hash, err := canon.SHA256Hex(payload)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{
		Actor:       actor,
		Action:      action,
		TargetKind:  targetKind,
		TargetID:    targetID,
		PayloadHash: hash,
		Outcome:     outcome,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}
	id, err := l.writer.Append(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id
	return entry, nil
}
