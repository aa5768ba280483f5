package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORSMiddleware allows cross-origin reads of the JSON API.
// If origins is empty, no CORS headers are added.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         86400,
	})
}

// SecurityHeadersMiddleware adds security headers to all responses.
// scriptOrigins are extra origins allowed to serve scripts, such as the
// Mermaid bundle used for in-browser diagram rendering.
func SecurityHeadersMiddleware(scriptOrigins ...string) func(http.Handler) http.Handler {
	// Mermaid needs unsafe-eval. connect-src 'self' covers the live channel.
	script := append([]string{"script-src", "'self'", "'unsafe-inline'", "'unsafe-eval'"}, scriptOrigins...)
	csp := strings.Join([]string{
		"default-src 'self'",
		strings.Join(script, " "),
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data: https:",
		"font-src 'self' data:",
		"connect-src 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	headers := [][2]string{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Referrer-Policy", "strict-origin-when-cross-origin"},
		{"Content-Security-Policy", csp},
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range headers {
				w.Header().Set(h[0], h[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}
