package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/abuse-guard/internal/pkg/logger"
)

// SetupRoutes configures all API routes. health may be nil in tests that
// only exercise the abuse endpoints.
func SetupRoutes(h *Handlers, health *HealthChecker, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", actorIDHeader, actorRoleHeader},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Warning"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/signals", h.RecordSignal)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Get("/policy", h.GetPolicy)
			r.Get("/events", h.ListEvents)
			r.With(h.RateLimit(tenantFromPath)).Post("/ratelimit/check", h.RateLimitVerdict)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/events/{eventID}/dismiss", h.DismissEvent)
			r.Post("/tenants/{tenantID}/suspend", h.ForceSuspend)
			r.Post("/tenants/{tenantID}/unlock", h.ForceUnlock)
			r.Post("/tenants/{tenantID}/reset", h.ResetScore)
		})
	})

	return r
}

// requestLogger logs one line per request through the structured logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Microsecond).String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
