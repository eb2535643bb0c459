package router

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/handlers"
	"github.com/cx-tal-miterani/flight-surety/internal/metrics"
	"github.com/cx-tal-miterani/flight-surety/internal/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request ID in and out.
const RequestIDHeader = "X-Request-ID"

// Options configures the router middleware.
type Options struct {
	AllowedOrigins []string
	// Limiter is nil when rate limiting is disabled.
	Limiter *RateLimiter
	Metrics *metrics.Metrics
	Logger  logrus.FieldLogger
}

// SetupRouter creates and configures the HTTP router
func SetupRouter(h *handlers.Handler, hub *websocket.Hub, opts Options) *mux.Router {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	r := mux.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(corsMiddleware(opts.AllowedOrigins))
	r.Use(loggingMiddleware(opts.Logger, opts.Metrics))

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	if opts.Limiter != nil {
		api.Use(opts.Limiter.Middleware(opts.Metrics))
	}
	h.Register(api)

	// WebSocket for real-time flight updates
	api.HandleFunc("/flights/{airline}/{code}/{departure:[0-9]+}/ws", hub.HandleWebSocket)

	// Health check
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/metrics", metricsHandler(opts.Metrics)).Methods(http.MethodGet)

	return r
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(handlers.WithRequestID(r.Context(), id)))
	})
}

func corsMiddleware(allowed []string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := allowOrigin(allowed, r.Header.Get("Origin")); origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+handlers.PrincipalHeader+", "+RequestIDHeader)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allowOrigin(allowed []string, origin string) string {
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(a, origin) {
			return origin
		}
	}
	return ""
}

// statusRecorder captures the response status. It keeps Hijack so websocket
// upgrades pass through.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func loggingMiddleware(log logrus.FieldLogger, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			m.IncrementHTTPRequests()
			if rec.status >= http.StatusInternalServerError {
				m.IncrementHTTPErrors()
			}
			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"principal":  r.Header.Get(handlers.PrincipalHeader),
				"request_id": handlers.RequestID(r.Context()),
				"duration":   time.Since(start).String(),
			}).Debug("Request handled")
		})
	}
}

func metricsHandler(m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(m.GetSnapshot())
	}
}
