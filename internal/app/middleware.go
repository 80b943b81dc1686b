package app

import "net/http"

// requireAuth rejects requests whose session is not authenticated. The check
// itself may transparently refresh an expired access token.
func (a *Application) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := a.sessionID(r)
		if sid == "" || !a.Auth.IsAuthenticated(r.Context(), sid) {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
