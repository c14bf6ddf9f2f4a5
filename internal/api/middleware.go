package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/geethx/workshop/internal/apperr"
	"github.com/geethx/workshop/internal/auth"
	"github.com/geethx/workshop/internal/identity"
	"github.com/geethx/workshop/internal/model"
	"github.com/geethx/workshop/internal/observability"
)

type contextKey string

const (
	userKey      contextKey = "user"
	claimsKey    contextKey = "claims"
	requestIDKey contextKey = "request_id"
)

// RequestIDMiddleware tags each request with the caller's X-Request-Id or a
// new one and echoes it in the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestID returns the id set by RequestIDMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// AuthMiddleware resolves the bearer token to the current user. Deleted or
// deactivated accounts and revoked tokens are rejected.
func AuthMiddleware(ids *identity.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, r, apperr.New(apperr.KindUnauthorized, "missing or invalid authorization header"))
				return
			}

			user, claims, err := ids.Principal(r.Context(), strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				writeError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability rejects authenticated users whose role lacks c.
func RequireCapability(c auth.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.Require(CurrentUser(r.Context()), c); err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CurrentUser returns the user resolved by AuthMiddleware.
func CurrentUser(ctx context.Context) *model.User {
	user, _ := ctx.Value(userKey).(*model.User)
	return user
}

// GetClaims returns the token claims resolved by AuthMiddleware.
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs one line per request and records request metrics
// under the matched route pattern. It must wrap the ServeMux directly so the
// pattern is visible once the request has been served.
func LoggingMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			if metrics != nil {
				metrics.InFlight.WithLabelValues(r.Method).Inc()
				defer metrics.InFlight.WithLabelValues(r.Method).Dec()
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if p := recover(); p != nil {
					slog.ErrorContext(r.Context(), "panic serving request", "req_id", RequestID(r.Context()),
						"method", r.Method, "path", r.URL.Path, "panic", fmt.Sprint(p))
					writeError(rec, r, fmt.Errorf("panic: %v", p))
				}

				route := r.Pattern
				if route == "" {
					route = "unmatched"
				}
				d := time.Since(start)
				metrics.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), d)
				slog.InfoContext(r.Context(), "http_request",
					"req_id", RequestID(r.Context()),
					"method", r.Method,
					"route", route,
					"path", r.URL.Path,
					"status", rec.status,
					"duration", d.Round(time.Millisecond),
				)
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

// RateLimiter throttles requests per client IP with a token bucket each.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	trusted []netip.Prefix

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

// NewRateLimiter allows perMinute requests per minute per client, with
// bursts of up to burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:       rate.Limit(float64(perMinute) / 60),
		burst:       burst,
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

// TrustProxies lets peers inside prefixes supply the client address via
// X-Forwarded-For. Without it the header is ignored.
func (rl *RateLimiter) TrustProxies(prefixes ...netip.Prefix) *RateLimiter {
	rl.trusted = append(rl.trusted, prefixes...)
	return rl
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Idle limiters refill to a full bucket and can be dropped.
	if time.Since(rl.lastCleanup) > 5*time.Minute {
		for k, l := range rl.limiters {
			if l.Tokens() >= float64(rl.burst) {
				delete(rl.limiters, k)
			}
		}
		rl.lastCleanup = time.Now()
	}

	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.clientIP(r)
		l := rl.limiter(key)
		if !l.Allow() {
			res := l.Reserve()
			delay := res.Delay()
			res.Cancel()

			w.Header().Set("Retry-After", strconv.Itoa(max(int(delay.Seconds()), 1)))
			slog.WarnContext(r.Context(), "rate limit exceeded", "client", key, "path", r.URL.Path)
			writeError(w, r, apperr.New(apperr.KindRateLimited, "too many requests, try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the direct peer address. X-Forwarded-For is only consulted
// when the peer is a trusted proxy; the result is then the right-most hop
// that is not itself a trusted proxy.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	peer := remoteIP(r.RemoteAddr)
	if !rl.trusts(peer) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			return peer
		}
		if !rl.trusts(hop) {
			return hop
		}
	}
	return peer
}

func (rl *RateLimiter) trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteIP(remoteAddr string) string {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return ip
}
