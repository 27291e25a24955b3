package httpapi

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// requestIDMiddleware assigns a fresh request ID to every inbound request
// and stamps it on the response header, so client and server logs can be
// correlated even when the response body is never inspected.
func requestIDMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := withRequestID(r.Context(), id)
		next(w, r.WithContext(ctx))
	}
}

// corsMiddleware reflects the Origin header when it is present in the
// configured allow-list, and answers preflight requests directly.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// bodyLimitMiddleware caps request body size. Image-bearing endpoints get
// a larger ceiling than plain JSON ones.
func bodyLimitMiddleware(limit int64, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next(w, r)
	}
}

// adminAuthMiddleware guards the /trace and /historial endpoints behind a
// bearer token. If no admin token is configured, access is refused
// entirely rather than left open.
func (s *Server) adminAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := requestIDFrom(r.Context())
		if s.cfg.AdminToken == "" {
			writeError(w, http.StatusUnauthorized, ErrUnauthorized, "admin access is not configured", requestID)
			return
		}
		token := extractBearerToken(r)
		if token == "" || token != s.cfg.AdminToken {
			writeError(w, http.StatusUnauthorized, ErrUnauthorized, "invalid or missing admin token", requestID)
			return
		}
		next(w, r)
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

// ipRateLimitMiddleware rejects requests once the caller's IP has
// exhausted its bucket for this endpoint.
func ipRateLimitMiddleware(limiter *ipLimiters, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !limiter.Allow(ip) {
			requestID := requestIDFrom(r.Context())
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, ErrRateLimited, "too many requests, slow down", requestID)
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		return host[:idx]
	}
	return host
}
