package httpapi

import (
	"context"
	"net/http"
	"strings"

	"danmuoverlay/dove/backend/service/auth"
	"danmuoverlay/dove/backend/store"
)

type contextKey string

const adminUserContextKey contextKey = "adminUser"

func AdminUserFromContext(ctx context.Context) *store.AdminUser {
	user, _ := ctx.Value(adminUserContextKey).(*store.AdminUser)
	return user
}

func AuthRequired(authSvc *auth.Service, apiBase string) func(http.Handler) http.Handler {
	loginPath := apiBase + "/auth/login"
	statusPath := apiBase + "/auth/status"
	healthPath := apiBase + "/health"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path

			// Skip auth for non-API paths (static files, etc.).
			if !strings.HasPrefix(path, apiBase+"/") {
				next.ServeHTTP(w, r)
				return
			}
			// Skip auth for login, status and health endpoints.
			if path == loginPath || path == statusPath || path == healthPath {
				next.ServeHTTP(w, r)
				return
			}

			token := ExtractToken(r)
			if token == "" {
				Error(w, -401, "unauthorized", http.StatusUnauthorized)
				return
			}
			user, err := authSvc.Validate(r.Context(), token)
			if err != nil || user == nil {
				Error(w, -401, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), adminUserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ExtractToken(r *http.Request) string {
	// 1. Authorization: Bearer <token>
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
	}
	// 2. Cookie fallback
	if cookie, err := r.Cookie("dove_session"); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
