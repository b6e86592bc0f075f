package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// Auth guards API routes with a shared key, accepted either as a bearer
// token in the Authorization header or in the X-API-Key header. An empty
// key disables the check.
func Auth(apiKey string) func(http.Handler) http.Handler {
	expect := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := credential(r)
			if got == "" {
				unauthorized(w, "missing authentication token")
				return
			}
			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(got), expect) != 1 {
				unauthorized(w, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// credential pulls the shared key from either accepted header.
func credential(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > len(bearerPrefix) && strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(auth[len(bearerPrefix):])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
