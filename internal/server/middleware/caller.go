package middleware

import (
	"context"
	"net/http"
	"strings"
)

// callerHeader carries the acting account on every request. The API gateway
// in front of wagerd authenticates chat users and stamps this header; the
// engine then runs its own owner and administrator checks against it.
const callerHeader = "X-Caller-Account"

type callerKey struct{}

// Caller returns middleware that extracts the acting account from the
// request header into the context. Requests without the header still pass;
// mutating handlers reject them when they find no caller.
func Caller() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if account := strings.TrimSpace(r.Header.Get(callerHeader)); account != "" {
				r = r.WithContext(context.WithValue(r.Context(), callerKey{}, account))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerFrom returns the acting account stored in the context, if any.
func CallerFrom(ctx context.Context) (string, bool) {
	account, ok := ctx.Value(callerKey{}).(string)
	return account, ok
}
