package httpapi

import (
	"context"
	"net/http"

	"github.com/peycheff/crewledger/pkg/audit"
	"github.com/peycheff/crewledger/pkg/idempotency"
	"github.com/peycheff/crewledger/pkg/store"
)

// txn bundles the per-request transactional dependencies a mutating
// handler needs: the Session itself (so the handler can MarkMutated),
// a Logger/Guard bound to the same transaction, and the store
// adapters that write through it. Built fresh per request so the
// idempotency insert, the domain write and the audit entry all commit
// or roll back together.
type txn struct {
	sess    *store.Session
	logger  *audit.Logger
	guard   *idempotency.Guard
	invoice *store.InvoiceStore
	mod     *store.ModerationStore
	domain  *store.DomainRepo
}

func beginTxn(ctx context.Context, d *Deps, mode store.Mode) (*txn, error) {
	sess, err := d.Store.Begin(ctx, mode)
	if err != nil {
		return nil, err
	}
	tx := sess.Tx()
	return &txn{
		sess:    sess,
		logger:  audit.NewLogger(store.NewAuditRepo(tx, sess)),
		guard:   idempotency.New(store.NewIdempotencyRepo(tx), d.Cache, d.CacheTTL),
		invoice: store.NewInvoiceStore(tx),
		mod:     store.NewModerationStore(tx),
		domain:  store.NewDomainRepo(tx),
	}, nil
}

// finish commits on success (marking the session mutated first so the
// store's audit-invariant check applies). On a handler error it still
// commits if an audit entry was already appended -- a rejected
// forbidden-op or stale-state attempt must leave its audit trail even
// though the attempted mutation never happened -- and only rolls back
// when nothing was ever logged (a pure infrastructure failure).
func (t *txn) finish(mutated bool, handlerErr error) error {
	if handlerErr != nil {
		if t.sess.AuditWritten() {
			t.sess.MarkMutated()
			return t.sess.Commit()
		}
		_ = t.sess.Rollback()
		return handlerErr
	}
	if mutated {
		t.sess.MarkMutated()
	}
	return t.sess.Commit()
}

// withTxn begins a session, invokes fn, and commits/rolls back based
// on fn's outcome. mutated tells the session whether fn performed a
// domain write (and must therefore also have logged an audit entry).
func withTxn(w http.ResponseWriter, r *http.Request, d *Deps, mode store.Mode, mutated bool, fn func(t *txn) error) {
	t, err := beginTxn(r.Context(), d, mode)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "internal_error", "could not start transaction")
		return
	}
	handlerErr := fn(t)
	if commitErr := t.finish(mutated, handlerErr); commitErr != nil && handlerErr == nil {
		writeProblem(w, http.StatusInternalServerError, "internal_error", "could not commit transaction")
	}
}
