// Package httpapi assembles the top-level HTTP router: the WebSocket
// upgrade endpoint, a liveness probe and the Prometheus scrape
// endpoint, wrapped in the same logging/CORS middleware shape the rest
// of this codebase uses for its HTTP surface.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Config bundles router construction parameters.
type Config struct {
	WSHandler      http.Handler
	MetricsHandler http.Handler
	TrustedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// Server is the top-level HTTP entry point for tickerfan.
type Server struct {
	router *mux.Router
	http   *http.Server
}

// NewServer builds the router and wraps it in an http.Server bound to addr.
func NewServer(addr string, cfg Config) *Server {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(requestLoggingMiddleware)
	router.Use(corsMiddleware(cfg.TrustedOrigins))

	router.Handle("/ws", cfg.WSHandler)
	router.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)
	if cfg.MetricsHandler != nil {
		router.Handle("/metrics", cfg.MetricsHandler)
	}
	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)

	return &Server{
		router: router,
		http: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  orDefault(cfg.ReadTimeout, 10*time.Second),
			WriteTimeout: orDefault(cfg.WriteTimeout, 0), // WebSocket connections are long-lived
			IdleTimeout:  orDefault(cfg.IdleTimeout, 60*time.Second),
		},
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// ListenAndServe starts serving HTTP on the server's bound address.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.http.Addr).Msg("httpapi: listening")
	return s.http.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Info().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("httpapi: request")
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// corsMiddleware allows only configured origins; an empty allow-list
// permits any origin, matching wsfront's own CheckOrigin default.
func corsMiddleware(trusted []string) mux.MiddlewareFunc {
	allowAll := len(trusted) == 0
	allowed := make(map[string]struct{}, len(trusted))
	for _, o := range trusted {
		allowed[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowed[origin]; allowAll || ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
