// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package oidcrelay drives the authorization-code half of third-party
// login: fetching a provider's discovery document and JWKS once at
// configuration time, minting the per-attempt state/nonce pair a login
// redirect needs, and validating the ID token a provider's callback
// hands back.
package oidcrelay

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// StateCookieName is the cookie the callback compares its state query
// parameter against, guarding against a forged redirect.
const StateCookieName = "oidc_state"

// stateCookieMaxAge is the max-age of the state cookie BeginLogin
// issues. The in-flight state/nonce entries themselves are not expired
// by time; they leave their sets only when a callback consumes them.
const stateCookieMaxAge = 10 * time.Minute

var (
	// ErrUnknownState is returned when a callback's state parameter was
	// never minted by BeginLogin, or was already consumed.
	ErrUnknownState = errors.New("oidcrelay: unknown or already-used state")
	// ErrStateMismatch is returned when the callback's state cookie does
	// not match its state query parameter.
	ErrStateMismatch = errors.New("oidcrelay: state cookie does not match callback state")
	// ErrMissingCode is returned when a callback carries neither an
	// error parameter nor an authorization code.
	ErrMissingCode = errors.New("oidcrelay: callback carries no authorization code")
	// ErrInvalidNonce is returned when an ID token's nonce claim is
	// absent, malformed, or does not match an in-flight nonce.
	ErrInvalidNonce = errors.New("oidcrelay: id token nonce missing or unrecognized")
	// ErrUnsupportedAlgorithm is returned for any ID token not signed
	// with RS256 — the only algorithm this package verifies.
	ErrUnsupportedAlgorithm = errors.New("oidcrelay: only RS256 id tokens are supported")
	// ErrKeyNotFound is returned when an ID token's kid does not match
	// any key in the configured JWKS.
	ErrKeyNotFound = errors.New("oidcrelay: signing key not found in jwk set")
)

type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jsonWebKeySet struct {
	Keys []jsonWebKey `json:"keys"`
}

// State holds one provider's resolved endpoints, signing keys, and the
// in-flight state/nonce bookkeeping for a process lifetime.
type State struct {
	issuer           string
	userinfoEndpoint string
	keys             jsonWebKeySet
	oauth2Config     oauth2.Config
	httpClient       *http.Client

	states *uuidSet
	nonces *uuidSet
}

// uuidSet is a mutex-guarded set of in-flight identifiers. states and
// nonces each get their own instance rather than sharing one lock, so a
// callback racing a fresh login attempt never blocks on unrelated
// bookkeeping.
type uuidSet struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func newUUIDSet() *uuidSet {
	return &uuidSet{m: make(map[string]struct{})}
}

func (s *uuidSet) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = struct{}{}
}

// remove reports whether id was present, deleting it either way.
func (s *uuidSet) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[id]
	delete(s.m, id)
	return ok
}

// Configure fetches discoveryURL's discovery document and the JWKS it
// points to, returning a State ready to drive login attempts. scope is
// appended to the "openid" scope every request carries; an empty scope
// requests only "openid".
func Configure(ctx context.Context, httpClient *http.Client, discoveryURL, clientID, clientSecret, redirectURL, scope string) (*State, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	doc, err := fetchJSON[discoveryDocument](ctx, httpClient, discoveryURL)
	if err != nil {
		return nil, fmt.Errorf("oidcrelay: fetch discovery document: %w", err)
	}
	keys, err := fetchJSON[jsonWebKeySet](ctx, httpClient, doc.JWKSURI)
	if err != nil {
		return nil, fmt.Errorf("oidcrelay: fetch jwk set: %w", err)
	}

	scopes := []string{"openid"}
	if scope != "" {
		scopes = append(scopes, strings.Fields(scope)...)
	}

	return &State{
		issuer:           doc.Issuer,
		userinfoEndpoint: doc.UserinfoEndpoint,
		keys:             keys,
		httpClient:       httpClient,
		oauth2Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  doc.AuthorizationEndpoint,
				TokenURL: doc.TokenEndpoint,
			},
		},
		states: newUUIDSet(),
		nonces: newUUIDSet(),
	}, nil
}

func fetchJSON[T any](ctx context.Context, client *http.Client, url string) (T, error) {
	var zero T
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return zero, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return zero, err
	}
	return out, nil
}

// BeginLogin mints a fresh state/nonce pair, records both as in-flight,
// and returns the authorization URL to redirect the browser to plus the
// cookie that must accompany that redirect so the callback can confirm
// it owns the state it comes back with.
func (s *State) BeginLogin() (authURL string, cookie *http.Cookie, err error) {
	state := uuid.NewString()
	nonce := uuid.NewString()
	s.states.add(state)
	s.nonces.add(nonce)

	authURL = s.oauth2Config.AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce))
	cookie = &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   int(stateCookieMaxAge.Seconds()),
	}
	return authURL, cookie, nil
}

// CallbackParams is the query string plus state cookie a provider's
// redirect back to the gateway carries.
type CallbackParams struct {
	Code        string
	State       string
	Error       string
	StateCookie string
}

// Callback validates a provider's redirect and returns the subject
// claim from its ID token. A state that was never minted (or already
// consumed), a state/cookie mismatch, a provider-reported error, or a
// failed token exchange/validation all return a distinct error so a
// caller can log the specific cause even though every one of them
// ultimately sends the browser back to a generic login failure page.
func (s *State) Callback(ctx context.Context, p CallbackParams) (subject string, err error) {
	if !s.states.remove(p.State) {
		return "", ErrUnknownState
	}
	if p.StateCookie != p.State {
		return "", ErrStateMismatch
	}
	if p.Error != "" {
		return "", fmt.Errorf("oidcrelay: provider reported error: %s", p.Error)
	}
	if p.Code == "" {
		return "", ErrMissingCode
	}

	token, err := s.oauth2Config.Exchange(ctx, p.Code)
	if err != nil {
		return "", fmt.Errorf("oidcrelay: exchange authorization code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", fmt.Errorf("oidcrelay: token response carries no id_token")
	}

	claims, err := s.validateIDToken(rawIDToken)
	if err != nil {
		return "", err
	}

	nonce, _ := claims["nonce"].(string)
	if nonce == "" || !s.nonces.remove(nonce) {
		return "", ErrInvalidNonce
	}

	return s.fetchUserInfo(ctx, rawIDToken)
}

// validateIDToken verifies an RS256 ID token's signature, audience, and
// issuer against the configured JWKS. Expiry is deliberately not
// checked, matching this relay's decided validation posture.
func (s *State) validateIDToken(rawIDToken string) (jwt.MapClaims, error) {
	var claims jwt.MapClaims
	_, err := jwt.ParseWithClaims(rawIDToken, &claims, s.keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(s.oauth2Config.ClientID),
		jwt.WithIssuer(s.issuer),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("oidcrelay: validate id token: %w", err)
	}
	// WithoutClaimsValidation skips every registered-claim check, so the
	// issuer and audience are compared here instead.
	if iss, _ := claims.GetIssuer(); iss != s.issuer {
		return nil, fmt.Errorf("oidcrelay: validate id token: issuer %q does not match %q", iss, s.issuer)
	}
	aud, _ := claims.GetAudience()
	for _, a := range aud {
		if a == s.oauth2Config.ClientID {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("oidcrelay: validate id token: audience does not include client id %q", s.oauth2Config.ClientID)
}

func (s *State) keyfunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != "RS256" {
		return nil, ErrUnsupportedAlgorithm
	}
	kid, _ := t.Header["kid"].(string)
	for _, k := range s.keys.Keys {
		if k.Kid != kid || k.Kty != "RSA" {
			continue
		}
		return jwkToRSAPublicKey(k)
	}
	return nil, ErrKeyNotFound
}

func jwkToRSAPublicKey(k jsonWebKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("oidcrelay: decode jwk modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("oidcrelay: decode jwk exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

type userInfoResponse struct {
	Sub string `json:"sub"`
}

func (s *State) fetchUserInfo(ctx context.Context, idToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userinfoEndpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+idToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("oidcrelay: fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("oidcrelay: userinfo returned status %d: %s", resp.StatusCode, body)
	}

	var info userInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("oidcrelay: decode userinfo: %w", err)
	}
	if info.Sub == "" {
		return "", fmt.Errorf("oidcrelay: userinfo response carries no sub claim")
	}
	return info.Sub, nil
}
