package api

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kredo-protocol/kredo/store"
)

// requestMeta extracts the audit fields for the current request.
func requestMeta(r *http.Request, actorPubkey string) store.RequestMeta {
	return store.RequestMeta{
		ActorPubkey: actorPubkey,
		SourceIP:    clientIP(r),
		UserAgent:   r.UserAgent(),
	}
}

// clientIP strips the port from RemoteAddr. middleware.RealIP has already
// folded in X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bodyLimit bounds request bodies before any handler reads them.
func bodyLimit(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// cors emits CORS headers for the configured origins. An empty allow list
// means same-origin only and adds no headers.
func cors(allowOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowOrigins))
	allowAll := false
	for _, origin := range allowOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				h := w.Header()
				if allowAll {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// observe logs each request through zap and feeds the Prometheus counters,
// labeled by the chi route pattern so pubkeys do not explode cardinality.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.observe(route, r.Method, ww.Status(), elapsed)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", elapsed),
			zap.String("ip", clientIP(r)))
	})
}
