// Package moderation implements CrewLedger's moderation core: a
// pending-item inbox with filter/list, single approve/reject
// idempotent-by-natural-key, and bulk approve/reject flowing through
// the idempotency guard with per-item recovery.
//
// The bulk-operation shape (per-item result arrays with partial
// success) and the dual idempotency-store pattern follow this
// codebase's general job-handling conventions, adapted from generic
// job-queue semantics to CrewLedger's task/expense/pending_change
// pending-item state machine.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/peycheff/crewledger/pkg/audit"
	"github.com/peycheff/crewledger/pkg/auth"
	"github.com/peycheff/crewledger/pkg/idempotency"
	"github.com/peycheff/crewledger/pkg/metrics"
)

// Kind identifies the three pending-item domains.
type Kind string

const (
	KindTask          Kind = "task"
	KindExpense       Kind = "expense"
	KindPendingChange Kind = "pending_change"
)

// Action is the moderation verb.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Item is the PendingItem view, as already shaped by
// pkg/store.DomainRepo.ListPendingItems.
type Item struct {
	ID        int64
	Kind      Kind
	ActorName string
	Summary   string
	Amount    string
	Currency  string
	CreatedAt time.Time
	Status    string
}

// Filter narrows the inbox listing.
type Filter struct {
	Kind     Kind
	Worker   string // case-insensitive partial match against ActorName
	DateFrom *time.Time
	DateTo   *time.Time // inclusive
	Status   string
	Limit    int
	Offset   int
}

// ItemSource lists pending items and fetches single-item status (task,
// expense or pending_change) for the terminality checks below.
type ItemSource interface {
	ListPendingItems(ctx context.Context, limit, offset int) ([]Item, error)
	ItemStatus(ctx context.Context, kind Kind, id int64) (status string, err error)
	SetItemStatus(ctx context.Context, kind Kind, id int64, status string) error
}

var ErrItemNotFound = errors.New("moderation: item not found")

// rawBatchSize is how many raw rows List reads from ItemSource per
// round when it needs to keep scanning past a batch with no filtered
// survivors.
const rawBatchSize = 200

// List applies Filter over ItemSource's raw listing, reading it in
// batches and accumulating filtered matches until limit is reached or
// the source is exhausted. Offset counts filtered results, not raw
// rows, so paging stays correct under any combination of filters. A
// store-level WHERE clause would scale further, but crew-scale data
// volumes (tens to low hundreds of open items) make this the simpler,
// still-correct option.
func List(ctx context.Context, src ItemSource, f Filter) ([]Item, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	matches := func(it Item) bool {
		if f.Kind != "" && it.Kind != f.Kind {
			return false
		}
		if f.Worker != "" && !strings.Contains(strings.ToLower(it.ActorName), strings.ToLower(f.Worker)) {
			return false
		}
		if f.DateFrom != nil && it.CreatedAt.Before(*f.DateFrom) {
			return false
		}
		if f.DateTo != nil && it.CreatedAt.After(*f.DateTo) {
			return false
		}
		if f.Status != "" && it.Status != f.Status {
			return false
		}
		return true
	}

	out := make([]Item, 0, limit)
	skipped := 0
	for rawOffset := 0; ; rawOffset += rawBatchSize {
		raw, err := src.ListPendingItems(ctx, rawBatchSize, rawOffset)
		if err != nil {
			return nil, err
		}
		for _, it := range raw {
			if !matches(it) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, it)
			if len(out) >= limit {
				return out, nil
			}
		}
		if len(raw) < rawBatchSize {
			return out, nil
		}
	}
}

// Result is the outcome of a single moderation action.
type Result struct {
	Kind   Kind
	ID     int64
	Status string // applied | noop | error
	Error  *ItemError
}

// ItemError is the per-item error shape of a bulk response.
type ItemError struct {
	Code    string
	Message string
}

// terminalFor reports the terminal status an action drives an item
// to. Rejection is always "rejected"; approval is "applied" for
// pending_change (a Suggestion moving into its applied state) and
// "approved" for every other kind.
func terminalFor(kind Kind, action Action) string {
	if action != ActionApprove {
		return "rejected"
	}
	if kind == KindPendingChange {
		return "applied"
	}
	return "approved"
}

func isTerminalStatus(status string) bool {
	return status == "approved" || status == "rejected" || status == "applied"
}

// Single performs one approve/reject, idempotent by natural key: if
// the item is already terminal, the response is {status:"noop"} with
// no error and no state change.
func Single(ctx context.Context, src ItemSource, logger *audit.Logger, sink *metrics.Sink, actor string, kind Kind, id int64, action Action) (Result, error) {
	status, err := src.ItemStatus(ctx, kind, id)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s %d", ErrItemNotFound, kind, id)
	}

	target := terminalFor(kind, action)
	if isTerminalStatus(status) {
		res := Result{Kind: kind, ID: id, Status: "noop"}
		_, _ = logger.Record(ctx, actor, modAction(action), string(kind), &id, map[string]any{"kind": kind, "id": id}, audit.OutcomeNoop, "")
		_ = sink.Record(modMetric(action), map[string]any{"kind": kind, "id": id, "status": "noop"})
		return res, nil
	}

	if err := src.SetItemStatus(ctx, kind, id, target); err != nil {
		return Result{}, err
	}
	_, _ = logger.Record(ctx, actor, modAction(action), string(kind), &id, map[string]any{"kind": kind, "id": id}, audit.OutcomeApplied, "")
	_ = sink.Record(modMetric(action), map[string]any{"kind": kind, "id": id, "status": "applied"})
	return Result{Kind: kind, ID: id, Status: "applied"}, nil
}

func modAction(a Action) string {
	if a == ActionApprove {
		return "mod.approve"
	}
	return "mod.reject"
}

func modMetric(a Action) string { return modAction(a) }

// BulkItem is one entry of a bulk request body.
type BulkItem struct {
	Kind Kind
	ID   int64
}

// BulkRequest is the body of bulk.approve/bulk.reject.
type BulkRequest struct {
	Items  []BulkItem
	Reason string
}

// BulkResponse is the response shape of bulk.approve/bulk.reject:
// per-item results plus aggregate ok/failed counts.
type BulkResponse struct {
	OK      int
	Failed  int
	Results []Result
}

// Bulk performs per-item moderation inside a single transaction
// (caller supplies a Session-scoped ItemSource/Guard pair so the
// surrounding transaction owns the idempotency insert, every item's
// state change, every audit entry and every metric). On any per-item
// domain error the others still "commit" (recorded in Results);
// infrastructure errors abort the whole call.
//
// guard may be nil: the admin bulk.approve/bulk.reject endpoints pass
// one, keyed by the caller's X-Idempotency-Key header, so a replayed
// request gets a 409 before any item is touched; the bot surface
// passes nil and relies on the per-item terminal-status noop below, since
// Telegram retries carry no idempotency key of their own.
func Bulk(ctx context.Context, src ItemSource, guard *idempotency.Guard, logger *audit.Logger, sink *metrics.Sink, actor, idempotencyKey string, req BulkRequest, action Action, allowedKinds map[Kind]bool) (BulkResponse, error) {
	if guard != nil {
		if err := guard.Ensure(ctx, idempotencyKey, req, time.Now().UTC()); err != nil {
			return BulkResponse{}, err
		}
	}

	resp := BulkResponse{Results: make([]Result, 0, len(req.Items))}
	for _, item := range req.Items {
		if allowedKinds != nil && !allowedKinds[item.Kind] {
			resp.Failed++
			resp.Results = append(resp.Results, Result{Kind: item.Kind, ID: item.ID, Status: "error", Error: &ItemError{Code: "forbidden_role", Message: "caller may not moderate this item kind"}})
			continue
		}

		status, err := src.ItemStatus(ctx, item.Kind, item.ID)
		if err != nil {
			resp.Failed++
			resp.Results = append(resp.Results, Result{Kind: item.Kind, ID: item.ID, Status: "error", Error: &ItemError{Code: "not_found", Message: "item does not exist"}})
			continue
		}

		target := terminalFor(item.Kind, action)
		switch {
		case isTerminalStatus(status):
			if status == target {
				resp.OK++
				resp.Results = append(resp.Results, Result{Kind: item.Kind, ID: item.ID, Status: "noop"})
				_, _ = logger.Record(ctx, actor, modAction(action), string(item.Kind), &item.ID, item, audit.OutcomeNoop, "")
			} else {
				resp.Failed++
				resp.Results = append(resp.Results, Result{Kind: item.Kind, ID: item.ID, Status: "error", Error: &ItemError{Code: "stale_state", Message: "item already resolved with a different outcome"}})
				_, _ = logger.Record(ctx, actor, modAction(action), string(item.Kind), &item.ID, item, audit.OutcomeRejected, "stale_state")
			}
		default:
			if err := src.SetItemStatus(ctx, item.Kind, item.ID, target); err != nil {
				return BulkResponse{}, err // infrastructure error: abort whole call
			}
			resp.OK++
			resp.Results = append(resp.Results, Result{Kind: item.Kind, ID: item.ID, Status: "applied"})
			_, _ = logger.Record(ctx, actor, modAction(action), string(item.Kind), &item.ID, item, audit.OutcomeApplied, "")
		}
		_ = sink.Record(modMetric(action), map[string]any{"kind": item.Kind, "id": item.ID})
	}

	return resp, nil
}

// AllowedKindsFor reports which pending-item kinds a role may
// moderate: foremen are authorized only for the domains their role
// allows, admins for all. CrewLedger's crews have no per-domain
// foreman restriction beyond role itself, so both roles that pass
// RequireRole(admin, foreman) may moderate every kind; this helper
// exists as the single seam a future per-domain restriction would
// extend.
func AllowedKindsFor(role auth.Role) map[Kind]bool {
	if role == auth.RoleAdmin || role == auth.RoleForeman {
		return map[Kind]bool{KindTask: true, KindExpense: true, KindPendingChange: true}
	}
	return map[Kind]bool{}
}
