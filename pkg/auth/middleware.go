package auth

import (
	"net/http"
	"strings"
)

// ProblemWriter lets pkg/auth write problem error bodies without
// importing the httpapi package (which itself depends on auth for
// Principal extraction); callers inject the concrete writer.
type ProblemWriter interface {
	WriteUnauthorized(w http.ResponseWriter, r *http.Request, code, detail string)
	WriteForbidden(w http.ResponseWriter, r *http.Request, code, detail string)
}

// NewBearerMiddleware builds JWT bearer-auth middleware. Requests
// carrying a valid X-Admin-Secret header are authorized identically
// to an admin JWT; requests carrying neither are rejected
// fail-closed.
func NewBearerMiddleware(issuer *TokenIssuer, adminSecret string, problems ProblemWriter, publicPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if secretHeader := r.Header.Get("X-Admin-Secret"); secretHeader != "" || adminHeaderPresent(r) {
				if adminSecret == "" {
					problems.WriteUnauthorized(w, r, "unauthorized", "admin automation is not configured")
					return
				}
				if secretHeader == "" {
					problems.WriteUnauthorized(w, r, "unauthorized", "missing admin secret")
					return
				}
				if !ConstantTimeEqual(secretHeader, adminSecret) {
					problems.WriteForbidden(w, r, "forbidden_role", "invalid admin secret")
					return
				}
				principal := Principal{Role: RoleAdmin, Origin: OriginAdminSecret}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				problems.WriteUnauthorized(w, r, "unauthorized", "Missing Authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				problems.WriteUnauthorized(w, r, "unauthorized", "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			claims, err := issuer.Validate(parts[1], "access")
			if err != nil {
				problems.WriteUnauthorized(w, r, "unauthorized", "Invalid or expired token")
				return
			}

			principal := Principal{
				UserID:     parseSubject(claims.Subject),
				Role:       claims.Role,
				TelegramID: claims.TelegramID,
				Origin:     OriginJWT,
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// adminHeaderPresent distinguishes "header present but empty" (missing
// secret -> 401) from "header entirely absent" (fall through to JWT).
func adminHeaderPresent(r *http.Request) bool {
	_, ok := r.Header["X-Admin-Secret"]
	return ok
}

// RequireRole builds middleware that rejects callers whose Principal
// role is not among allowed. Must run after the bearer-auth
// middleware.
func RequireRole(problems ProblemWriter, allowed ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := FromContext(r.Context())
			if err != nil {
				problems.WriteUnauthorized(w, r, "unauthorized", "Authentication required")
				return
			}
			if !principal.HasRole(allowed...) {
				problems.WriteForbidden(w, r, "forbidden_role", "caller's role does not permit this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
