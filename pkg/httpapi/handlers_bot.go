package httpapi

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/peycheff/crewledger/pkg/audit"
	"github.com/peycheff/crewledger/pkg/auth"
	"github.com/peycheff/crewledger/pkg/money"
	"github.com/peycheff/crewledger/pkg/moderation"
	"github.com/peycheff/crewledger/pkg/pricing"
	"github.com/peycheff/crewledger/pkg/store"
)

// registerBotRoutes wires the Telegram bot's HTTP surface. Unlike
// every other handler in this package, these three routes carry no
// bearer token: the bot authenticates each call by resolving the
// caller's telegram_id to a User, so they must be listed in
// NewRouter's public path set and perform their own role check
// instead of relying on auth.RequireRole.
func registerBotRoutes(mux *http.ServeMux, d *Deps) {
	mux.HandleFunc("POST /api/bot/approve", handleBotApprove(d))
	mux.HandleFunc("GET /api/bot/inbox", handleBotInbox(d))
	mux.HandleFunc("GET /api/bot/item.details", handleBotItemDetails(d))
}

// registerBotMenuRoutes wires the admin-facing bot-menu configuration
// endpoints. These stay bearer/admin-secret protected like the rest
// of /api/admin -- only the bot's own approve/inbox/item.details calls
// use telegram_id auth.
func registerBotMenuRoutes(mux *http.ServeMux, d *Deps) {
	adminOnly := auth.RequireRole(probs, auth.RoleAdmin)

	mux.Handle("GET /api/admin/bot-menu", adminOnly(handleBotMenuGet(d)))
	mux.Handle("PATCH /api/admin/bot-menu", adminOnly(handleBotMenuPatch(d)))
	mux.Handle("POST /api/admin/bot-menu/apply", adminOnly(handleBotMenuApply(d)))
}

// resolveBotCaller looks up the User behind a telegram_id and
// confirms their role is authorized to moderate (admin or foreman);
// workers may use the bot to capture shifts/tasks/expenses but never
// to approve them. Writes the problem response itself on failure.
func resolveBotCaller(w http.ResponseWriter, r *http.Request, d *Deps, telegramID int64) (auth.User, bool) {
	if telegramID == 0 {
		writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "telegram_id is required")
		return auth.User{}, false
	}
	users := store.NewUserRepo(d.Store.DB)
	u, err := users.FindByTelegramID(r.Context(), telegramID)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "unauthorized", "telegram_id not linked to any user")
		return auth.User{}, false
	}
	if u.Status != "active" {
		writeProblem(w, http.StatusForbidden, "user_inactive", "user account is inactive")
		return auth.User{}, false
	}
	if !moderation.AllowedKindsFor(u.Role)[moderation.KindExpense] {
		writeProblem(w, http.StatusForbidden, "forbidden_role", "caller's role does not permit moderation")
		return auth.User{}, false
	}
	return u, true
}

func botActor(u auth.User) string {
	return "bot:" + string(u.Role) + ":" + strconv.FormatInt(u.ID, 10)
}

type botApproveRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Reason     string `json:"reason"`
	Items      []struct {
		Kind string `json:"kind"`
		ID   int64  `json:"id"`
	} `json:"items"`
}

// handleBotApprove bulk-approves task/expense/pending_change items on
// behalf of a Telegram-identified admin or foreman, delegating to the
// same moderation.Bulk core the admin bulk.approve endpoint uses. It
// passes a nil guard: Telegram retries carry no idempotency key, so
// repeat-safety here comes from Bulk's own per-item terminal-status
// noop instead of the key+scope-hash guard.
func handleBotApprove(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req botApproveRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		caller, ok := resolveBotCaller(w, r, d, req.TelegramID)
		if !ok {
			return
		}

		items := make([]moderation.BulkItem, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, moderation.BulkItem{Kind: moderation.Kind(it.Kind), ID: it.ID})
		}
		allowed := moderation.AllowedKindsFor(caller.Role)

		withTxn(w, r, d, store.ModeReadWrite, true, func(t *txn) error {
			resp, err := moderation.Bulk(r.Context(), t.mod, nil, t.logger, d.Metrics, botActor(caller), "", moderation.BulkRequest{Items: items, Reason: req.Reason}, moderation.ActionApprove, allowed)
			if err != nil {
				mapDomainError(w, err, nil, nil, nil, nil)
				return err
			}
			writeJSON(w, http.StatusOK, resp)
			return nil
		})
	}
}

// handleBotInbox lists pending items for a Telegram-identified
// admin/foreman, reusing moderation.List exactly as
// GET /api/admin/pending does.
func handleBotInbox(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		telegramID, _ := strconv.ParseInt(q.Get("telegram_id"), 10, 64)
		caller, ok := resolveBotCaller(w, r, d, telegramID)
		if !ok {
			return
		}

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
		_ = d.Metrics.Record("bot.inbox.list", map[string]any{"caller": botActor(caller), "count": len(items)})
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

// handleBotItemDetails re-runs the pricing engine for one task or
// expense and returns its full explanation: the determinism check the
// bot (and its tests) rely on -- the same rate_code/qty or
// category/amount against the currently loaded rules must always
// reprice to the same pricing_sha. Read-only and unauthenticated: it
// exposes no state that a bearer-protected write would need to guard.
func handleBotItemDetails(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		kind := q.Get("kind")
		id, err := strconv.ParseInt(q.Get("id"), 10, 64)
		if err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "invalid id")
			return
		}

		rules := d.Pricing.Current()
		withTxn(w, r, d, store.ModeRead, false, func(t *txn) error {
			var result pricing.Result
			switch kind {
			case "task":
				task, err := t.domain.GetTask(r.Context(), id)
				if err != nil {
					writeProblem(w, http.StatusNotFound, "not_found", "task not found")
					return err
				}
				qty, err := money.Parse(task.Qty)
				if err != nil {
					writeProblem(w, http.StatusInternalServerError, "internal_error", "stored qty is not a valid decimal")
					return err
				}
				result, err = pricing.PriceTask(rules, task.RateCode, qty)
				if err != nil {
					writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "could not price task")
					return err
				}
			case "expense":
				expense, err := t.domain.GetExpense(r.Context(), id)
				if err != nil {
					writeProblem(w, http.StatusNotFound, "not_found", "expense not found")
					return err
				}
				amount, err := money.Parse(expense.Amount)
				if err != nil {
					writeProblem(w, http.StatusInternalServerError, "internal_error", "stored amount is not a valid decimal")
					return err
				}
				result, err = pricing.PriceExpense(rules, expense.Category, amount)
				if err != nil {
					writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "could not price expense")
					return err
				}
			default:
				writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "kind must be task or expense")
				return fmt.Errorf("httpapi: unknown item.details kind %q", kind)
			}

			_ = d.Metrics.Record("bot.item.details", map[string]any{"kind": kind, "id": id, "pricing_sha": result.PricingSHA})
			writeJSON(w, http.StatusOK, map[string]any{
				"pricing_sha": result.PricingSHA,
				"rules_sha":   result.RulesSHA,
				"total":       result.Total.Decimal(),
				"currency":    money.Currency,
				"fmt_total":   result.Total.Format(),
				"steps":       result.Steps,
			})
			return nil
		})
	}
}

// botMenuCommandView is the wire shape of one bot_commands row.
type botMenuCommandView struct {
	CommandKey      string `json:"command_key"`
	TelegramCommand string `json:"telegram_command"`
	Label           string `json:"label"`
	Description     string `json:"description"`
	Enabled         bool   `json:"enabled"`
	IsCore          bool   `json:"is_core"`
	Position        int    `json:"position"`
	CommandType     string `json:"command_type"`
}

func commandViews(rows []store.BotCommand) []botMenuCommandView {
	out := make([]botMenuCommandView, 0, len(rows))
	for _, c := range rows {
		out = append(out, botMenuCommandView{
			CommandKey:      c.CommandKey,
			TelegramCommand: c.TelegramCommand,
			Label:           c.Label,
			Description:     c.Description,
			Enabled:         c.Enabled,
			IsCore:          c.IsCore,
			Position:        c.Position,
			CommandType:     c.CommandType,
		})
	}
	return out
}

func botMenuRole(r *http.Request) string {
	role := r.URL.Query().Get("role")
	if role == "" {
		role = string(auth.RoleWorker)
	}
	return role
}

// handleBotMenuGet returns a role's current menu config and its full
// command list, for the admin console's bot-menu editor.
func handleBotMenuGet(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := botMenuRole(r)
		menu := store.NewBotMenuRepo(d.Store.DB)

		cfg, err := menu.GetMenuConfig(r.Context(), role)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "internal_error", "could not load bot menu config")
			return
		}
		commands, err := menu.ListCommands(r.Context(), role)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "internal_error", "could not load bot commands")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"role":     role,
			"version":  cfg.Version,
			"config":   cfg,
			"commands": commandViews(commands),
		})
	}
}

type botMenuPatchRequest struct {
	Role            string                `json:"role"`
	ExpectedVersion int                   `json:"expected_version"`
	Commands        []botMenuCommandView `json:"commands"`
}

// handleBotMenuPatch rewrites a role's command set and bumps its menu
// version under optimistic locking: a caller editing a stale copy gets
// 409 stale_state rather than silently clobbering a concurrent edit.
func handleBotMenuPatch(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req botMenuPatchRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		role := req.Role
		if role == "" {
			role = string(auth.RoleWorker)
		}

		menu := store.NewBotMenuRepo(d.Store.DB)
		cfg, err := menu.UpdateMenuConfig(r.Context(), role, req.ExpectedVersion, actorFrom(r), time.Now().UTC())
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeProblem(w, http.StatusConflict, "stale_state", "bot menu was edited by someone else; reload and retry")
				return
			}
			writeProblem(w, http.StatusInternalServerError, "internal_error", "could not update bot menu config")
			return
		}
		for _, c := range req.Commands {
			err := menu.UpsertCommand(r.Context(), store.BotCommand{
				Role:            role,
				CommandKey:      c.CommandKey,
				TelegramCommand: c.TelegramCommand,
				Label:           c.Label,
				Description:     c.Description,
				Enabled:         c.Enabled,
				IsCore:          c.IsCore,
				Position:        c.Position,
				CommandType:     c.CommandType,
			})
			if err != nil {
				writeProblem(w, http.StatusInternalServerError, "internal_error", "could not save bot command "+c.CommandKey)
				return
			}
		}

		commands, err := menu.ListCommands(r.Context(), role)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "internal_error", "could not reload bot commands")
			return
		}

		logger := audit.NewLogger(store.NewAuditRepo(d.Store.DB, nil))
		_, _ = logger.Record(r.Context(), actorFrom(r), "bot_menu.update", "bot_menu_config", nil, map[string]any{"role": role, "version": cfg.Version}, audit.OutcomeApplied, "")
		writeJSON(w, http.StatusOK, map[string]any{
			"role":     role,
			"version":  cfg.Version,
			"config":   cfg,
			"commands": commandViews(commands),
		})
	}
}

type botMenuApplyRequest struct {
	Role string `json:"role"`
}

// handleBotMenuApply records that the currently edited menu was pushed
// to Telegram; it does not itself talk to the Telegram API, since that
// delivery step lives in the bot process, not this HTTP surface.
func handleBotMenuApply(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req botMenuApplyRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		role := req.Role
		if role == "" {
			role = string(auth.RoleWorker)
		}

		menu := store.NewBotMenuRepo(d.Store.DB)
		cfg, err := menu.MarkApplied(r.Context(), role, actorFrom(r), time.Now().UTC())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "internal_error", "could not mark bot menu applied")
			return
		}

		logger := audit.NewLogger(store.NewAuditRepo(d.Store.DB, nil))
		_, _ = logger.Record(r.Context(), actorFrom(r), "bot_menu.apply", "bot_menu_config", nil, map[string]any{"role": role}, audit.OutcomeApplied, "")
		writeJSON(w, http.StatusOK, map[string]any{"role": role, "config": cfg})
	}
}
