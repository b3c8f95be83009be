package middleware

import (
	"net/http"
	"strings"

	"github.com/rpattn/metacat/internal/auth"
)

// CallerMiddleware lifts the authenticated principal from request headers
// into the context. The gateway in front of this service performs the actual
// authentication; requests without a caller header stay anonymous and are
// rejected by the authorization checks downstream.
func CallerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSpace(r.Header.Get("X-Caller-Name"))
		if name != "" {
			caller := auth.Caller{
				Name:  name,
				Admin: strings.EqualFold(r.Header.Get("X-Caller-Admin"), "true"),
			}
			r = r.WithContext(auth.ContextWithCaller(r.Context(), caller))
		}
		next.ServeHTTP(w, r)
	})
}
