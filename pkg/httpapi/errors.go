// Package httpapi implements CrewLedger's HTTP surface:
// the JSON envelope, auth/role middleware wiring, and the handlers for
// auth, moderation, invoice, domain (shift/task/expense), reporting,
// and backup.
//
// Handlers stay thin: decode, call a domain function, write a uniform
// envelope, with the bearer/role chain wrapping pkg/auth's middleware
// around each route. Routing uses the standard library's
// method-and-path ServeMux patterns (Go 1.22+) rather than a
// third-party router, since stdlib routing is sufficient for this
// surface's needs.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/peycheff/crewledger/pkg/idempotency"
)

// Problem is the RFC 7807-flavoured error body:
// {detail: {code, message, ...}}.
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Detail Problem `json:"detail"`
}

// writeProblem writes {detail:{code,message}} at the given status.
func writeProblem(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Detail: Problem{Code: code, Message: message}})
}

// problems implements auth.ProblemWriter for this package's envelope.
type problems struct{}

func (problems) WriteUnauthorized(w http.ResponseWriter, _ *http.Request, code, detail string) {
	writeProblem(w, http.StatusUnauthorized, code, detail)
}

func (problems) WriteForbidden(w http.ResponseWriter, _ *http.Request, code, detail string) {
	writeProblem(w, http.StatusForbidden, code, detail)
}

// writeJSON writes v as the success body at status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into v, writing a 422
// validation_error problem and returning false on any decode failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "validation_error", "malformed request body")
		return false
	}
	return true
}

// mapDomainError maps a domain package's sentinel errors to their
// canonical status+code pairs; anything unrecognized falls back to 500
// internal_error with a redacted detail (the full reason is the
// caller's responsibility to log).
func mapDomainError(w http.ResponseWriter, err error, notFound, staleState, forbidden, gone error) {
	var dup *idempotency.ErrDuplicateKey
	switch {
	case errors.As(err, &dup):
		writeProblem(w, http.StatusConflict, "duplicate_idempotency_key", dup.Error())
	case notFound != nil && errors.Is(err, notFound):
		writeProblem(w, http.StatusNotFound, "not_found", "resource not found")
	case staleState != nil && errors.Is(err, staleState):
		writeProblem(w, http.StatusConflict, "stale_state", err.Error())
	case forbidden != nil && errors.Is(err, forbidden):
		writeProblem(w, http.StatusForbidden, "forbidden_op", err.Error())
	case gone != nil && errors.Is(err, gone):
		writeProblem(w, http.StatusGone, "gone", "preview token already used")
	default:
		writeProblem(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
