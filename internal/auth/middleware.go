// Package auth handles accounts, passwords and sessions. RequireUser is the
// capability check in front of every account route: it resolves the
// session cookie to a user ID and carries it in the request context.
package auth

import (
	"context"
	"net/http"
)

// CookieName is the session cookie.
const CookieName = "stocktrak_session"

type ctxKey struct{}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the authenticated user ID from ctx, or "" if none.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// RequireUser redirects (303) to /login unless the request carries a
// valid session cookie.
func RequireUser(sessions SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(CookieName)
			if err != nil || c.Value == "" {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			userID, err := sessions.Lookup(r.Context(), c.Value)
			if err != nil {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
