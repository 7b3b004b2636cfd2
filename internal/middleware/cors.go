// Package middleware contains HTTP middleware functions
package middleware

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// allowedOrigins stores allowed origins for quick lookups.
var allowedOrigins map[string]bool

// InitCORS initializes the CORS configuration.
func InitCORS(origins []string) {
	allowedOrigins = make(map[string]bool)
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "*" {
			allowedOrigins = map[string]bool{"*": true}
			logrus.Info("CORS initialized: allowing all origins (*)")
			return
		}
		if trimmed != "" {
			allowedOrigins[trimmed] = true
		}
	}
	logrus.Infof("CORS initialized: allowing origins %v", origins)
}

// CORS handles Cross-Origin Resource Sharing headers.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowValue := ""

		if allowedOrigins["*"] {
			allowValue = "*"
		} else if origin != "" && allowedOrigins[origin] {
			allowValue = origin
			w.Header().Add("Vary", "Origin")
		}

		if allowValue != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowValue)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
