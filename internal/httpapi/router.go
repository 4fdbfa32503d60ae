package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hearthlabs/memoryd/internal/engineerr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter builds the chi router implementing the HTTP Coordinator
// Surface. A nil metricsHandler serves promhttp.Handler() (the default
// Prometheus registry) at /metrics. authToken, when
// non-empty, gates every /api/ route behind the bearer check (spec
// §6.2); empty leaves the surface unauthenticated.
func NewRouter(h *Handler, metricsHandler http.Handler, logger zerolog.Logger, authToken string) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(authToken))
		mountAPI(r, h)
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func mountAPI(r chi.Router, h *Handler) {
	r.Get("/health", h.Health)
	r.Get("/health/detailed", h.HealthDetailed)

	r.Route("/memories", func(r chi.Router) {
		r.Post("/", h.StoreMemory)
		r.Get("/", h.ListMemories)
		r.Post("/cleanup-duplicates", h.CleanupDuplicates)
		r.Delete("/by-tag/{tag}", h.DeleteByTag)
		r.Delete("/{hash}", h.DeleteMemory)
		r.Patch("/{hash}", h.UpdateMetadata)
	})

	r.Route("/search", func(r chi.Router) {
		r.Post("/", h.RetrieveMemory)
		r.Post("/by-tag", h.SearchByTag)
		r.Post("/by-time", h.SearchByTime)
		r.Post("/similar", h.SearchSimilar)
	})

	if h.events != nil {
		r.Get("/events", h.events.ServeSSE)
	}
}

// bearerAuth rejects requests missing "Authorization: Bearer <token>"
// with Unauthorized when token is configured. An empty token disables
// the check entirely, matching §6.2's "optional bearer token".
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, prefix) || header[len(prefix):] != token {
				writeError(w, engineerr.New(engineerr.Unauthorized, "missing or invalid bearer token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
