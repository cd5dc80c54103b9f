package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peycheff/crewledger/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_BurstThenThrottle(t *testing.T) {
	rl := newRateLimiter(1, 2)
	handler := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/anything", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "request %d within burst", i)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "third immediate request exceeds burst")
}

func TestRateLimiter_PerCallerIsolation(t *testing.T) {
	rl := newRateLimiter(1, 1)
	handler := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	reqA := httptest.NewRequest("GET", "/anything", nil)
	reqA.RemoteAddr = "10.0.0.1:1"
	reqB := httptest.NewRequest("GET", "/anything", nil)
	reqB.RemoteAddr = "10.0.0.2:1"

	wA := httptest.NewRecorder()
	handler.ServeHTTP(wA, reqA)
	assert.Equal(t, http.StatusOK, wA.Code)

	wB := httptest.NewRecorder()
	handler.ServeHTTP(wB, reqB)
	assert.Equal(t, http.StatusOK, wB.Code, "a different caller must have its own bucket")
}

func TestWithRequestID_GeneratesWhenAbsent(t *testing.T) {
	handler := withRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/x", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestWithRequestID_PreservesIncoming(t *testing.T) {
	handler := withRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(requestIDHeader, "caller-supplied-id")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "caller-supplied-id", w.Header().Get(requestIDHeader))
}

func TestPathInt64_RejectsNonNumeric(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/admin/tasks/notanumber/approve", nil)
	req.SetPathValue("id", "notanumber")
	w := httptest.NewRecorder()

	_, ok := pathInt64(w, req, "id")
	assert.False(t, ok)
	assert.Equal(t, 422, w.Code)
}

func TestPathInt64_ParsesValid(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/admin/tasks/42/approve", nil)
	req.SetPathValue("id", "42")
	w := httptest.NewRecorder()

	id, ok := pathInt64(w, req, "id")
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestActorFrom_FallsBackToAdminSecretWithoutPrincipal(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/users", nil)
	assert.Equal(t, "admin_secret", actorFrom(req))
}

func TestActorFrom_UsesPrincipalRoleAndID(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/users", nil)
	ctx := auth.WithPrincipal(req.Context(), auth.Principal{UserID: 7, Role: auth.RoleForeman})
	req = req.WithContext(ctx)
	assert.Equal(t, "foreman:7", actorFrom(req))
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	rl := newRateLimiter(20, 1)
	handler := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/x", nil)
	req.RemoteAddr = "10.0.0.9:1"

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req)
	assert.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)

	time.Sleep(60 * time.Millisecond)

	w3 := httptest.NewRecorder()
	handler.ServeHTTP(w3, req)
	assert.Equal(t, http.StatusOK, w3.Code, "token bucket refills at 20 rps after ~50ms")
}
