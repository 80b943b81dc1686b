package app

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/google/uuid"

	"bjpass-go/internal/auth"
	"bjpass-go/internal/token"
)

const sessionCookieName = "bjpass_sid"

// handleLogin starts an authorization attempt for the caller's session and
// returns the URL (plus correlators) the frontend should open in the popup.
func (a *Application) handleLogin(w http.ResponseWriter, r *http.Request) {
	sid := a.ensureSession(w, r)

	req, err := a.Auth.BeginAuthorization(r.Context(), sid, r.URL.Query().Get("scope"))
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, req)
}

// callbackPage posts the raw callback query back to the opener window and
// closes itself. The target origin comes from configuration; "*" is only
// suitable for development.
var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>Authentication</title></head>
<body>
<p>Completing sign-in&hellip; You can close this window.</p>
<script>
if (window.opener) {
  window.opener.postMessage({
    type: "auth-response",
    status: {{.Status}},
    query: {{.Query}},
    timestamp: Date.now()
  }, {{.Origin}});
  window.close();
}
</script>
</body>
</html>`))

// handleCallback is the provider's redirect target. It never processes the
// code itself; it relays the query string across the window boundary.
func (a *Application) handleCallback(w http.ResponseWriter, r *http.Request) {
	status := "success"
	if r.URL.Query().Get("error") != "" {
		status = "error"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := callbackPage.Execute(w, map[string]string{
		"Status": status,
		"Query":  r.URL.RawQuery,
		"Origin": a.Config.Flow.FrontendOrigin,
	})
	if err != nil {
		a.Logger.Warn("failed to render callback page", "error", err)
	}
}

// handleExchange completes the flow server-side: code + state in, verified
// user and token summary out.
func (a *Application) handleExchange(w http.ResponseWriter, r *http.Request) {
	sid := a.ensureSession(w, r)

	var body struct {
		Code  string `json:"code"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" || body.State == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	res, err := a.Auth.CompleteAuthorization(r.Context(), sid, body.Code, body.State)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, res)
}

// handleStatus reports whether the caller's session is authenticated.
func (a *Application) handleStatus(w http.ResponseWriter, r *http.Request) {
	sid := a.sessionID(r)
	authenticated := sid != "" && a.Auth.IsAuthenticated(r.Context(), sid)
	a.writeJSON(w, http.StatusOK, map[string]bool{"authenticated": authenticated})
}

// handleUser returns the verified claims of the authenticated user.
func (a *Application) handleUser(w http.ResponseWriter, r *http.Request) {
	user := a.Auth.GetUserInfo(r.Context(), a.sessionID(r))
	if user == nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	a.writeJSON(w, http.StatusOK, user)
}

// handleLogout destroys the caller's session. Local logout always succeeds,
// whatever the provider said about revocation.
func (a *Application) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sid := a.sessionID(r); sid != "" {
		a.Auth.Logout(r.Context(), sid)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	a.writeJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}

// handleIntrospect reports the provider's view of an opaque token. Failures
// surface as inactive.
func (a *Application) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}

	res := a.Auth.Introspect(r.Context(), body.Token)
	if res == nil {
		a.writeJSON(w, http.StatusOK, map[string]bool{"active": false})
		return
	}
	a.writeJSON(w, http.StatusOK, res.Claims)
}

// sessionID returns the caller's session ID, or "" when no cookie is set.
func (a *Application) sessionID(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ensureSession returns the caller's session ID, minting a new cookie when
// none exists yet.
func (a *Application) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if sid := a.sessionID(r); sid != "" {
		return sid
	}

	sid := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sid,
		Path:     "/",
		Expires:  time.Now().Add(a.Config.Session.Lifetime.Duration),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sid
}

func (a *Application) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Warn("failed to encode response", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Provider failures
// are bad gateways; everything protocol-level is the client's 4xx.
func (a *Application) writeError(w http.ResponseWriter, err error) {
	var (
		authErr *auth.AuthenticationError
		cfgErr  *auth.ConfigurationError
		tokErr  *token.InvalidTokenError
		exErr   *token.CodeExchangeError
	)

	switch {
	case errors.As(err, &authErr):
		a.writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             authErr.Code,
			"error_description": authErr.Description,
		})
	case errors.As(err, &tokErr):
		a.writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "invalid_token",
			"error_description": tokErr.Reason,
		})
	case errors.As(err, &exErr):
		a.writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":             "code_exchange_failed",
			"error_description": exErr.ProviderMessage,
		})
	case errors.As(err, &cfgErr):
		http.Error(w, cfgErr.Error(), http.StatusInternalServerError)
	default:
		a.Logger.Error("unexpected error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
