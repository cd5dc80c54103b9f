package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/peycheff/crewledger/pkg/auth"
	"github.com/peycheff/crewledger/pkg/moderation"
	"github.com/peycheff/crewledger/pkg/store"
)

func registerModerationRoutes(mux *http.ServeMux, d *Deps) {
	modRole := auth.RequireRole(probs, auth.RoleAdmin, auth.RoleForeman)

	mux.Handle("GET /api/admin/pending", modRole(handlePendingList(d)))
	mux.Handle("POST /api/admin/tasks/{id}/approve", modRole(handleSingle(d, moderation.KindTask, moderation.ActionApprove)))
	mux.Handle("POST /api/admin/tasks/{id}/reject", modRole(handleSingle(d, moderation.KindTask, moderation.ActionReject)))
	mux.Handle("POST /api/admin/expenses/{id}/approve", modRole(handleSingle(d, moderation.KindExpense, moderation.ActionApprove)))
	mux.Handle("POST /api/admin/expenses/{id}/reject", modRole(handleSingle(d, moderation.KindExpense, moderation.ActionReject)))
	mux.Handle("POST /api/admin/pending/bulk.approve", modRole(handleBulk(d, moderation.ActionApprove)))
	mux.Handle("POST /api/admin/pending/bulk.reject", modRole(handleBulk(d, moderation.ActionReject)))
}

func handlePendingList(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := moderation.Filter{
			Kind:   moderation.Kind(q.Get("kind")),
			Worker: q.Get("worker"),
			Status: q.Get("status"),
		}
		if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
			f.Limit = limit
		}
		if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
			f.Offset = offset
		}
		if from, err := time.Parse("2006-01-02", q.Get("date_from")); err == nil {
			f.DateFrom = &from
		}
		if to, err := time.Parse("2006-01-02", q.Get("date_to")); err == nil {
			f.DateTo = &to
		}

		var items []moderation.Item
		withTxn(w, r, d, store.ModeRead, false, func(t *txn) error {
			list, err := moderation.List(r.Context(), t.mod, f)
			if err != nil {
				writeProblem(w, http.StatusInternalServerError, "internal_error", "could not list pending items")
				return err
			}
			items = list
			return nil
		})
		if items == nil {
			items = []moderation.Item{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func handleSingle(d *Deps, kind moderation.Kind, action moderation.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathInt64(w, r, "id")
		if !ok {
			return
		}
		principal := auth.MustFromContext(r.Context())
		allowed := moderation.AllowedKindsFor(principal.Role)
		if !allowed[kind] {
			writeProblem(w, http.StatusForbidden, "forbidden_role", "caller may not moderate this item kind")
			return
		}

		withTxn(w, r, d, store.ModeReadWrite, true, func(t *txn) error {
			res, err := moderation.Single(r.Context(), t.mod, t.logger, d.Metrics, actorFrom(r), kind, id, action)
			if err != nil {
				writeProblem(w, http.StatusNotFound, "not_found", "item not found")
				return err
			}
			writeJSON(w, http.StatusOK, res)
			return nil
		})
	}
}

type bulkRequest struct {
	Items []struct {
		Kind string `json:"kind"`
		ID   int64  `json:"id"`
	} `json:"items"`
	Reason string `json:"reason"`
}

func handleBulk(d *Deps, action moderation.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idemKey := r.Header.Get("X-Idempotency-Key")
		if idemKey == "" {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "X-Idempotency-Key header is required")
			return
		}
		var req bulkRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		principal := auth.MustFromContext(r.Context())
		allowed := moderation.AllowedKindsFor(principal.Role)

		items := make([]moderation.BulkItem, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, moderation.BulkItem{Kind: moderation.Kind(it.Kind), ID: it.ID})
		}

		withTxn(w, r, d, store.ModeReadWrite, true, func(t *txn) error {
			resp, err := moderation.Bulk(r.Context(), t.mod, t.guard, t.logger, d.Metrics, actorFrom(r), idemKey, moderation.BulkRequest{Items: items, Reason: req.Reason}, action, allowed)
			if err != nil {
				mapDomainError(w, err, nil, nil, nil, nil)
				return err
			}
			writeJSON(w, http.StatusOK, resp)
			return nil
		})
	}
}
