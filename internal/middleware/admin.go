package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
)

// AdminHeaderName carries the caller's user ID on admin routes.
const AdminHeaderName = "X-Admin-ID"

type contextKey int

const adminIDKey contextKey = iota

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// AdminIDFromContext returns the admin user ID set by RequireAdmin.
func AdminIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(adminIDKey).(string); ok {
		return v
	}
	return ""
}

func adminIDFromRequest(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(AdminHeaderName))
	if !userIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// RequireAdmin rejects requests whose X-Admin-ID is not on the allow-list.
func RequireAdmin(isAdmin func(userID string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := adminIDFromRequest(r)
			if id == "" {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"missing admin identity"}`, http.StatusUnauthorized)
				return
			}
			if !isAdmin(id) {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), adminIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
