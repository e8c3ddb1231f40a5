package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"custody/pkg/platform/httputil"
	"custody/pkg/requestcontext"
)

// Middleware admits requests per client IP against a fixed limit.
type Middleware struct {
	store    Store
	logger   *slog.Logger
	limit    int
	window   time.Duration
	disabled bool
}

// Option configures the Middleware.
type Option func(*Middleware)

// WithDisabled turns admission checks off, e.g. for local demos.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(store Store, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		logger: logger,
		limit:  limit,
		window: window,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled && logger != nil {
		logger.Info("rate limiting disabled")
	}
	return m
}

type exceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// Handler wraps next with the per-IP check. Store failures fail open.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)
		result, err := m.store.Allow(ctx, "ip:"+ip, m.limit, m.window)
		if err != nil {
			if m.logger != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit", "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		addHeaders(w, result)
		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			httputil.WriteJSON(w, http.StatusTooManyRequests, &exceededResponse{
				Error:      "rate_limit_exceeded",
				Message:    "Too many requests from this IP address. Please try again later.",
				RetryAfter: result.RetryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func addHeaders(w http.ResponseWriter, result *Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
