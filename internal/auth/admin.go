// Package auth guards the admin routes.
package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

const Realm = "haxstats admin"

// AdminConfig holds the admin credentials.
type AdminConfig struct {
	User     string
	Password string
}

// Enabled reports whether admin access is configured. Without a password the
// admin routes are switched off entirely.
func (c AdminConfig) Enabled() bool {
	return c.Password != ""
}

// AdminMiddleware creates middleware that requires admin access.
func AdminMiddleware(cfg AdminConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled() {
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Admin access is disabled", http.StatusForbidden)
			})
		}
	}
	return middleware.BasicAuth(Realm, map[string]string{cfg.User: cfg.Password})
}
