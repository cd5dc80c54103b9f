package httpapi

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/peycheff/crewledger/pkg/idempotency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteProblem_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	writeProblem(w, 409, "stale_state", "already terminal")

	assert.Equal(t, 409, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "stale_state", body.Detail.Code)
	assert.Equal(t, "already terminal", body.Detail.Message)
}

func TestMapDomainError_DuplicateIdempotencyKey(t *testing.T) {
	w := httptest.NewRecorder()
	err := &idempotency.ErrDuplicateKey{Key: "req-1", StoredScopeHash: "abc123"}
	mapDomainError(w, err, nil, nil, nil, nil)

	assert.Equal(t, 409, w.Code)
	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "duplicate_idempotency_key", body.Detail.Code)
}

func TestMapDomainError_NotFound(t *testing.T) {
	sentinel := errors.New("item not found")
	w := httptest.NewRecorder()
	mapDomainError(w, sentinel, sentinel, nil, nil, nil)
	assert.Equal(t, 404, w.Code)
}

func TestMapDomainError_StaleState(t *testing.T) {
	sentinel := errors.New("already terminal")
	w := httptest.NewRecorder()
	mapDomainError(w, sentinel, nil, sentinel, nil, nil)
	assert.Equal(t, 409, w.Code)
}

func TestMapDomainError_ForbiddenOp(t *testing.T) {
	sentinel := errors.New("forbidden op")
	w := httptest.NewRecorder()
	mapDomainError(w, sentinel, nil, nil, sentinel, nil)
	assert.Equal(t, 403, w.Code)
}

func TestMapDomainError_Gone(t *testing.T) {
	sentinel := errors.New("token used")
	w := httptest.NewRecorder()
	mapDomainError(w, sentinel, nil, nil, nil, sentinel)
	assert.Equal(t, 410, w.Code)
}

func TestMapDomainError_UnrecognizedFallsBackToInternalError(t *testing.T) {
	w := httptest.NewRecorder()
	mapDomainError(w, errors.New("boom"), nil, nil, nil, nil)

	assert.Equal(t, 500, w.Code)
	var body envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body.Detail.Code, "infrastructure failures must never leak their raw reason")
}
