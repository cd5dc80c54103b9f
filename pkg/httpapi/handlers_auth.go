package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/peycheff/crewledger/pkg/audit"
	"github.com/peycheff/crewledger/pkg/auth"
	"github.com/peycheff/crewledger/pkg/store"
)

func registerAuthRoutes(mux *http.ServeMux, d *Deps) {
	mux.HandleFunc("POST /api/auth/login", handleLogin(d))
	mux.HandleFunc("POST /api/auth/refresh", handleRefresh(d))
	mux.HandleFunc("GET /api/auth/me", handleMe(d))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	PINCode  string `json:"pin_code"`
	Channel  string `json:"channel"`
}

func handleLogin(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "could not read request body")
			return
		}
		var req loginRequest
		if !validateBody(w, raw, loginSchema, &req) {
			return
		}

		channel := auth.ChannelAPI
		switch req.Channel {
		case "web":
			channel = auth.ChannelWeb
		case "bot":
			channel = auth.ChannelBot
		}

		resp, err := d.Auth.Login(r.Context(), channel, auth.LoginRequest{
			Username: req.Username,
			Password: req.Password,
			PINCode:  req.PINCode,
		})
		if err != nil {
			writeLoginError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrAccessDeniedWeb):
		writeProblem(w, http.StatusForbidden, "forbidden_role", err.Error())
	case errors.Is(err, auth.ErrUserInactive):
		writeProblem(w, http.StatusForbidden, "user_inactive", err.Error())
	default:
		writeProblem(w, http.StatusUnauthorized, "invalid_credentials", "invalid username/password or PIN")
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func handleRefresh(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := d.Auth.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			if errors.Is(err, auth.ErrRefreshReused) {
				writeProblem(w, http.StatusConflict, "refresh_reused", err.Error())
				return
			}
			writeProblem(w, http.StatusUnauthorized, "invalid_credentials", "invalid or expired refresh token")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleMe(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := auth.FromContext(r.Context())
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":     principal.UserID,
			"role":        principal.Role,
			"origin":      principal.Origin,
			"telegram_id": principal.TelegramID,
		})
	}
}

// registerUserRoutes wires admin-only user provisioning directly
// against the pooled *sql.DB rather than through the Session/txn
// machinery: these are low-frequency administrative writes, not part
// of the core domain-mutation-plus-audit-entry transaction the store
// package's commit invariant protects, so each step below records its
// own audit entry immediately rather than batching one per request.
func registerUserRoutes(mux *http.ServeMux, d *Deps) {
	adminOnly := auth.RequireRole(probs, auth.RoleAdmin)

	mux.Handle("GET /api/users", adminOnly(handleListUsers(d)))
	mux.Handle("POST /api/users", adminOnly(handleCreateUser(d)))
	mux.Handle("PATCH /api/users/{id}", adminOnly(handlePatchUser(d)))
	mux.Handle("POST /api/users/{id}/activate", adminOnly(handleSetUserStatus(d, "active")))
	mux.Handle("POST /api/users/{id}/deactivate", adminOnly(handleSetUserStatus(d, "inactive")))
}

func handleListUsers(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		if page < 1 {
			page = 1
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		if limit <= 0 {
			limit = 50
		}

		users := store.NewUserRepo(d.Store.DB)
		items, err := users.ListUsers(r.Context(), limit, (page-1)*limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "internal_error", "could not list users")
			return
		}
		total, err := users.CountUsers(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "internal_error", "could not count users")
			return
		}
		if items == nil {
			items = []auth.User{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total, "page": page, "limit": limit})
	}
}

type patchUserRequest struct {
	Name      *string `json:"name"`
	Role      *string `json:"role"`
	DailyRate *string `json:"daily_rate"`
}

func handlePatchUser(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathInt64(w, r, "id")
		if !ok {
			return
		}
		var req patchUserRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		patch := store.UserPatch{Name: req.Name, DailyRate: req.DailyRate}
		if req.Role != nil {
			role := auth.Role(*req.Role)
			patch.Role = &role
		}

		users := store.NewUserRepo(d.Store.DB)
		u, err := users.UpdateUser(r.Context(), id, patch)
		if err != nil {
			writeProblem(w, http.StatusNotFound, "not_found", "user not found")
			return
		}

		logger := audit.NewLogger(store.NewAuditRepo(d.Store.DB, nil))
		_, _ = logger.Record(r.Context(), actorFrom(r), "user.update", "user", &id, map[string]any{"patch": req}, audit.OutcomeApplied, "")
		writeJSON(w, http.StatusOK, u)
	}
}

type createUserRequest struct {
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	Password   string  `json:"password"`
	TelegramID *int64  `json:"telegram_id"`
	DailyRate  *string `json:"daily_rate"`
}

func handleCreateUser(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createUserRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "internal_error", "could not hash password")
			return
		}

		users := store.NewUserRepo(d.Store.DB)
		id, err := users.CreateUser(r.Context(), auth.User{
			Name:       req.Name,
			Role:       auth.Role(req.Role),
			TelegramID: req.TelegramID,
			DailyRate:  req.DailyRate,
		}, hash)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "internal_error", "could not create user")
			return
		}

		logger := audit.NewLogger(store.NewAuditRepo(d.Store.DB, nil))
		_, _ = logger.Record(r.Context(), actorFrom(r), "user.create", "user", &id, map[string]any{"name": req.Name, "role": req.Role}, audit.OutcomeApplied, "")
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	}
}

func handleSetUserStatus(d *Deps, status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathInt64(w, r, "id")
		if !ok {
			return
		}
		users := store.NewUserRepo(d.Store.DB)
		if err := users.SetStatus(r.Context(), id, status); err != nil {
			writeProblem(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		logger := audit.NewLogger(store.NewAuditRepo(d.Store.DB, nil))
		_, _ = logger.Record(r.Context(), actorFrom(r), "user."+status, "user", &id, map[string]any{"status": status}, audit.OutcomeApplied, "")
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
	}
}

func actorFrom(r *http.Request) string {
	principal, err := auth.FromContext(r.Context())
	if err != nil {
		return "admin_secret"
	}
	return string(principal.Role) + ":" + strconv.FormatInt(principal.UserID, 10)
}

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "invalid "+name+" path parameter")
		return 0, false
	}
	return v, true
}
