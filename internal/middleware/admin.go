package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
)

// AdminKeyHeader is checked before the Authorization bearer token
const AdminKeyHeader = "X-Admin-Key"

// RequireAPIKey protects operator endpoints with a shared key. An empty key
// disables the endpoints entirely.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				WriteError(w, r, http.StatusForbidden, ErrorBody{
					Code:    "admin_disabled",
					Message: "Admin endpoints are disabled.",
				})
				return
			}

			provided := r.Header.Get(AdminKeyHeader)
			if provided == "" {
				provided = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				log.Printf("Admin: rejected %s %s from %s", r.Method, r.URL.Path, getClientIP(r))
				WriteError(w, r, http.StatusUnauthorized, ErrorBody{
					Code:    "unauthorized",
					Message: "A valid admin API key is required.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
