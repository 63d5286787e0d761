// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nimbusfs/gateway/lib/jwtauth"
	"github.com/nimbusfs/gateway/lib/oidcrelay"
	"github.com/nimbusfs/gateway/lib/pwauth"
)

func sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		l.Warnln("encode response:", err)
	}
}

type authRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// postAuth handles POST /api/auth/auth: {name, password} -> a signed
// internal-kind session cookie on success, 401 on any credential
// mismatch.
func (s *Service) postAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	id, err := s.pwState.Login(s.loginStore, req.Name, req.Password)
	if errors.Is(err, pwauth.ErrInvalidCredentials) {
		loginAttempts.WithLabelValues("failure").Inc()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if err != nil {
		loginAttempts.WithLabelValues("error").Inc()
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	token, err := s.jwtState.CreateToken(id, jwtauth.AuthTypeInternal)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, s.jwtState.IssueCookie(jwtauth.CookieName, token))
	loginAttempts.WithLabelValues("success").Inc()
	sendJSON(w, map[string]bool{"ok": true})
}

// postLogout handles POST /api/auth/logout: invalidates whatever
// session token the request carries and clears the cookie.
func (s *Service) postLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := jwtauth.ExtractToken(r); ok {
		if claims, err := s.jwtState.ValidateToken(token); err == nil {
			_ = s.jwtGC.Invalidate(token, claims.ExpiresAt.Time)
		}
	}
	http.SetCookie(w, &http.Cookie{Name: jwtauth.CookieName, Value: "", MaxAge: -1, Path: "/"})
	sendJSON(w, map[string]bool{"ok": true})
}

// getKey handles GET /api/auth/key: the password transport public key,
// PKCS#1 PEM, so a client can encrypt the password it submits to
// postAuth.
func (s *Service) getKey(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, map[string]string{"key": s.pwState.PublicKeyPEM()})
}

// getTestToken handles GET /api/auth/test_token: true if a valid
// session cookie is present, else the cookie is cleared and false is
// returned.
func (s *Service) getTestToken(w http.ResponseWriter, r *http.Request) {
	_, err := jwtauth.Authenticate(r, s.jwtState, s.jwtGC, false)
	if err != nil {
		http.SetCookie(w, &http.Cookie{Name: jwtauth.CookieName, Value: "", MaxAge: -1, Path: "/"})
		sendJSON(w, false)
		return
	}
	sendJSON(w, true)
}

// getOidcURL handles GET /api/auth/oidc_url: mints a fresh state/nonce
// pair and returns the authorization URL to redirect the browser to,
// or 400 if OIDC is not configured.
func (s *Service) getOidcURL(w http.ResponseWriter, r *http.Request) {
	if s.oidcState == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	authURL, cookie, err := s.oidcState.BeginLogin()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, cookie)
	sendJSON(w, map[string]string{"url": authURL})
}

// getOidcCallback handles GET /api/auth/oidc_callback: completes the
// authorization-code exchange and redirects to "/" on success, or to
// "/login?error=…" on any failure.
func (s *Service) getOidcCallback(w http.ResponseWriter, r *http.Request) {
	if s.oidcState == nil {
		http.Redirect(w, r, "/login?error=oidc_not_configured", http.StatusFound)
		return
	}

	var cookieState string
	if c, err := r.Cookie(oidcrelay.StateCookieName); err == nil {
		cookieState = c.Value
	}
	http.SetCookie(w, &http.Cookie{Name: oidcrelay.StateCookieName, Value: "", MaxAge: -1, Path: "/"})

	q := r.URL.Query()
	sub, err := s.oidcState.Callback(r.Context(), oidcrelay.CallbackParams{
		Code:        q.Get("code"),
		State:       q.Get("state"),
		Error:       q.Get("error"),
		StateCookie: cookieState,
	})
	if err != nil {
		l.Warnln("oidc callback:", err)
		http.Redirect(w, r, "/login?error="+loginErrorCode(err), http.StatusFound)
		return
	}

	token, err := s.jwtState.CreateToken(sub, jwtauth.AuthTypeOidc)
	if err != nil {
		http.Redirect(w, r, "/login?error=internal", http.StatusFound)
		return
	}
	http.SetCookie(w, s.jwtState.IssueCookie(jwtauth.CookieName, token))
	http.Redirect(w, r, "/", http.StatusFound)
}

func loginErrorCode(err error) string {
	switch {
	case errors.Is(err, oidcrelay.ErrUnknownState), errors.Is(err, oidcrelay.ErrStateMismatch):
		return "invalid_state"
	case errors.Is(err, oidcrelay.ErrMissingCode):
		return "missing_code"
	case errors.Is(err, oidcrelay.ErrInvalidNonce):
		return "invalid_nonce"
	default:
		return "login_failed"
	}
}

// getSSOConfig handles GET /api/auth/sso_config: what kind of SSO is
// available and whether the frontend should redirect to it instantly.
func (s *Service) getSSOConfig(w http.ResponseWriter, r *http.Request) {
	ssoType := "None"
	if s.sso.Configured() {
		ssoType = "Oidc"
	}
	instant, _ := s.sso.SSOInstantRedirect.Get()
	sendJSON(w, map[string]any{
		"sso_type":         ssoType,
		"instant_redirect": instant,
	})
}

// getHealth handles GET /health.
func (s *Service) getHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "OK")
}
