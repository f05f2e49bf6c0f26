package web

import (
	"crypto/subtle"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"campusevents/internal/auth"
	appLog "campusevents/internal/log"
)

const (
	sessionCookie = "ce_session"
	stateCookie   = "ce_oauth_state"
)

func (s *Server) secureCookies() bool {
	return strings.HasPrefix(s.cfg.BaseURL, "https://")
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
}

// currentIdentity restores the session from its cookie, running the same
// gate as sign-in. A session that no longer passes the domain policy is
// revoked and its cookie cleared.
func (s *Server) currentIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, string) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return nil, ""
	}
	id, ok := s.sessions.Lookup(c.Value)
	if !ok {
		s.clearCookie(w, sessionCookie)
		return nil, ""
	}
	if _, err := s.gate.Handle(r.Context(), c.Value, &id, auth.PathRestore); err != nil {
		s.clearCookie(w, sessionCookie)
		if !errors.Is(err, auth.ErrDomainRejected) {
			appLog.Error("session restore failed", err)
		}
		return nil, ""
	}
	return &id, c.Value
}

// requireIdentity writes 401 and returns nil when the request is not signed
// in.
func (s *Server) requireIdentity(w http.ResponseWriter, r *http.Request) *auth.Identity {
	id, _ := s.currentIdentity(w, r)
	if id == nil {
		writeError(w, http.StatusUnauthorized, auth.ErrNoSession.Error())
	}
	return id
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	s.setCookie(w, stateCookie, state, 10*time.Minute)
	http.Redirect(w, r, s.provider.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) checkState(w http.ResponseWriter, r *http.Request, got string) bool {
	c, err := r.Cookie(stateCookie)
	if err != nil || got == "" || subtle.ConstantTimeCompare([]byte(c.Value), []byte(got)) != 1 {
		writeError(w, http.StatusBadRequest, "sign-in state mismatch; please try again")
		return false
	}
	s.clearCookie(w, stateCookie)
	return true
}

// handleCallback completes the provider redirect.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !s.checkState(w, r, q.Get("state")) {
		return
	}
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusUnauthorized, "sign-in cancelled: "+e)
		return
	}
	id, err := s.provider.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		appLog.Error("sign-in exchange failed", err)
		writeError(w, http.StatusBadGateway, "sign-in failed")
		return
	}
	s.finishSignIn(w, r, id, auth.PathRedirect)
}

// finishSignIn creates a session and runs it through the gate. On rejection
// the session is already revoked and no cookie is set.
func (s *Server) finishSignIn(w http.ResponseWriter, r *http.Request, id *auth.Identity, path string) {
	sid := s.sessions.Create(*id)
	_, err := s.gate.Handle(r.Context(), sid, id, path)
	switch {
	case errors.Is(err, auth.ErrDomainRejected):
		writeError(w, http.StatusForbidden, "Please use your @"+s.gate.Policy.Domain+" email address")
		return
	case err != nil:
		s.sessions.Revoke(sid)
		appLog.Error("sign-in failed", err, "uid", id.UID)
		writeError(w, http.StatusInternalServerError, "sign-in failed")
		return
	}
	s.setCookie(w, sessionCookie, sid, s.cfg.SessionTTL())
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if _, err := s.gate.Handle(r.Context(), c.Value, nil, auth.PathSignOut); err != nil {
			appLog.Error("sign-out failed", err)
		}
	}
	s.clearCookie(w, sessionCookie)
	w.WriteHeader(http.StatusNoContent)
}

var devFormTmpl = template.Must(template.New("dev").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Sign in (development)</title></head>
<body>
<h1>Development sign-in</h1>
<form method="post" action="/auth/dev">
  <input type="hidden" name="state" value="{{.State}}">
  <label>E-mail <input type="email" name="email" required placeholder="uniqname@{{.Domain}}"></label>
  <button type="submit">Sign in</button>
</form>
</body></html>
`))

func (s *Server) handleDevForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct{ State, Domain string }{r.URL.Query().Get("state"), s.gate.Policy.Domain}
	if err := devFormTmpl.Execute(w, data); err != nil {
		appLog.Error("dev form render failed", err)
	}
}

func (s *Server) handleDevSignIn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	if !s.checkState(w, r, r.PostForm.Get("state")) {
		return
	}
	id, err := s.provider.Exchange(r.Context(), r.PostForm.Get("email"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.finishSignIn(w, r, id, auth.PathInteractive)
}
