// Package middleware provides HTTP middleware for the compile service
package middleware

import (
	"net/http"
	"strings"
)

// Default CORS policy: any origin, the two service verbs plus preflight, and
// the headers a browser needs to post JSON.
var (
	DefaultAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	DefaultAllowedHeaders = []string{"Accept", "Content-Type"}
)

// CORSMiddleware handles Cross-Origin Resource Sharing
type CORSMiddleware struct {
	allowedOrigins []string
	allowAll       bool
	methods        string
	headers        string
}

// NewCORSMiddleware creates a new CORS middleware. "*" in allowedOrigins
// permits every origin.
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
	}

	return &CORSMiddleware{
		allowedOrigins: allowedOrigins,
		allowAll:       allowAll,
		methods:        strings.Join(DefaultAllowedMethods, ", "),
		headers:        strings.Join(DefaultAllowedHeaders, ", "),
	}
}

// Handler returns the CORS middleware handler. It must wrap the router so
// preflight requests are answered before method matching.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		switch {
		case m.allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && m.isOriginAllowed(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", m.methods)
		w.Header().Set("Access-Control-Allow-Headers", m.headers)
		w.Header().Set("Access-Control-Expose-Headers", "X-Trace-ID, X-Model-Name")

		// Handle preflight requests
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed checks if an origin is in the allowed list
func (m *CORSMiddleware) isOriginAllowed(origin string) bool {
	for _, allowed := range m.allowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}
