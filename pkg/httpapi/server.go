package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/peycheff/crewledger/pkg/audit"
	"github.com/peycheff/crewledger/pkg/auth"
	"github.com/peycheff/crewledger/pkg/backup"
	"github.com/peycheff/crewledger/pkg/idempotency"
	"github.com/peycheff/crewledger/pkg/metrics"
	"github.com/peycheff/crewledger/pkg/pricing"
	"github.com/peycheff/crewledger/pkg/store"
)

// tracer emits one span per request, exported through
// metrics.SpanExporter into the same JSONL sink every other metric
// rides; cmd/crewledger wires the TracerProvider this draws from via
// otel.SetTracerProvider at startup.
var tracer = otel.Tracer("crewledger/httpapi")

// Deps bundles everything a handler needs. One Deps is built once at
// startup and shared across requests; per-request transactional state
// (Session, audit Logger, idempotency Guard) is built fresh by
// withTxn for every mutating call.
type Deps struct {
	Store       *store.Store
	Auth        *auth.Service
	Issuer      *auth.TokenIssuer
	AdminSecret string
	Cache       idempotency.Cache // optional, may be nil
	CacheTTL    time.Duration
	Metrics     *metrics.Sink
	Pricing     *pricing.Store
	Backup      *backup.Manager

	OCREnabled            bool
	ExpensePhotoThreshold string
}

var probs problems

// NewRouter builds CrewLedger's HTTP surface: bearer
// auth, per-role gating, a per-caller rate limiter, and the handlers
// for auth, users, moderation, domain writes, invoices, reporting
// exports, and backup/restore.
//
// The server wiring uses stdlib ServeMux with a middleware chain built
// from ordinary function composition rather than a router-specific
// Use() API.
func NewRouter(d *Deps) http.Handler {
	mux := http.NewServeMux()

	public := map[string]bool{
		"/health":               true,
		"/api/auth/login":       true,
		"/api/auth/refresh":     true,
		"/api/bot/approve":      true,
		"/api/bot/inbox":        true,
		"/api/bot/item.details": true,
	}

	registerHealth(mux, d)
	registerAuthRoutes(mux, d)
	registerUserRoutes(mux, d)
	registerModerationRoutes(mux, d)
	registerDomainRoutes(mux, d)
	registerInvoiceRoutes(mux, d)
	registerReportingRoutes(mux, d)
	registerBackupRoutes(mux, d)
	registerBotRoutes(mux, d)
	registerBotMenuRoutes(mux, d)

	limiter := newRateLimiter(20, 40)
	chain := withRequestID(
		withTracing(
			limiter.middleware(
				auth.NewBearerMiddleware(d.Issuer, d.AdminSecret, probs, public)(mux),
			),
		),
	)
	return chain
}

// withTracing starts one span per request and records its outcome;
// spans flow through the globally registered TracerProvider, which
// cmd/crewledger points at metrics.NewSpanExporter so tracing needs no
// separate collector.
func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", sw.status))
		if sw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	})
}

// statusWriter captures the status code a handler writes so
// withTracing can attach it to the span after the handler returns.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

func registerHealth(mux *http.ServeMux, d *Deps) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status, err := d.Backup.Status()
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "internal_error", "health check failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"backup_count": status.BackupCount,
		})
	})
}

// requestIDHeader is the header CrewLedger stamps on every response for
// log/trace correlation.
const requestIDHeader = "X-Request-Id"

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// rateLimiter hands out a token-bucket limiter per caller, keyed by the
// request's remote address (it runs ahead of bearer auth, so the
// authenticated principal is not part of the key), bounding the burst
// any single caller can throw at bulk/export endpoints.
type rateLimiter struct {
	rps      rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{rps: rate.Limit(rps), burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (rl *rateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rl.rps, rl.burst)
	rl.limiters[key] = l
	return l
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if !rl.limiterFor(key).Allow() {
			writeProblem(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
