package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ignite/abuse-guard/internal/pkg/httputil"
	"github.com/ignite/abuse-guard/internal/service/ratelimit"
)

type decisionKey struct{}

// decisionFrom returns the verdict the RateLimit middleware stored on ctx.
func decisionFrom(ctx context.Context) (ratelimit.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(ratelimit.Decision)
	return d, ok
}

// RateLimit enforces the tenant's budget before next runs. tenantOf names the
// tenant a request counts against; a request with no tenant is rejected.
// Throttled and blocked requests get a 429 with Retry-After; a warn verdict
// passes with X-RateLimit-Warning set.
func (h *Handlers) RateLimit(tenantOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := tenantOf(r)
			if tenantID == "" {
				httputil.ErrorCode(w, http.StatusBadRequest, "invalid_input", "tenant is required")
				return
			}

			d := h.limiter.Check(r.Context(), tenantID)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				code := "throttled"
				if d.Action == ratelimit.ActionBlock {
					code = "blocked"
				}
				httputil.TooManyRequests(w, code, d.RetryAfterSeconds())
				return
			}
			if d.Warning {
				w.Header().Set("X-RateLimit-Warning", "budget exceeded for level "+d.Level.String())
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey{}, d)))
		})
	}
}

// RateLimitVerdict reports the verdict the middleware reached, for callers
// that ask before doing the work themselves.
//
//	POST /api/v1/tenants/{tenantID}/ratelimit/check
func (h *Handlers) RateLimitVerdict(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(r.Context())
	if !ok {
		d = h.limiter.Check(r.Context(), tenantFromPath(r))
	}
	httputil.OK(w, d)
}
