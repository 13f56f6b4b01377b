// Package httpserver is the HTTP front-end: it translates inbound HTTP
// into a call to the router and the router's Result back into an HTTP
// response, and mounts the admin surface and the Prometheus scrape
// endpoint alongside it.
package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lbproxy/lbproxy/internal/admin"
	"github.com/lbproxy/lbproxy/internal/router"
)

// requestIDHeader is the header checked for a caller-supplied request
// id before one is generated.
const requestIDHeader = "X-Request-Id"

type requestIDCtxKey struct{}

// requestID is chi-middleware shaped: it stamps every request with a
// UUID (reusing one supplied via requestIDHeader when present and
// well-formed), echoes it in the response header, and stores it in the
// request context so requestLogger can tag the request's log line with
// it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		} else if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDCtxKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey{}).(string)
	return id
}

// New builds the top-level chi.Mux: request logging and panic recovery
// wrap every route, `/{path...}` proxies through rtr, `/health` is the
// load balancer's own liveness check, `/admin` mounts the admin surface,
// and `/metrics` serves the Prometheus exposition format.
func New(rtr *router.Router, adm *admin.Surface, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/health", healthHandler)
	r.Route("/admin", adm.Routes)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/*", proxyHandler(rtr))

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// proxyHandler drives the router for every request not matched by a
// more specific route above, translating its Result into the
// corresponding HTTP status and body.
func proxyHandler(rtr *router.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		result := rtr.Handle(r.Context(), r.URL.Path, r.Method, r.Header, body)

		switch result.Kind {
		case router.KindSuccess:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(result.Body)
		case router.KindNoAvailableNodes:
			writeError(w, http.StatusServiceUnavailable, "No available nodes")
		case router.KindSelectionFailed:
			writeError(w, http.StatusInternalServerError, "Failed to select node")
		default:
			writeError(w, http.StatusBadGateway, result.Err)
		}
	}
}

// requestLogger is a chi middleware logging one structured line per
// request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestIDFromContext(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
