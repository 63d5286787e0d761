// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package oidcrelay_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nimbusfs/gateway/lib/oidcrelay"
)

const testKeyBits = 512
const testKid = "test-kid"
const testClientID = "test-client"
const testClientSecret = "test-secret"

// fakeProvider serves a minimal discovery document, JWKS, token
// endpoint, and userinfo endpoint backed by one RSA keypair, mimicking
// just enough of an OpenID provider to exercise Configure and Callback.
type fakeProvider struct {
	server *httptest.Server
	key    *rsa.PrivateKey
	sub    string
	nonce  string // read by the token handler when it mints the id_token
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, testKeyBits)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	p := &fakeProvider{key: key, sub: "user-123"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 base,
			"authorization_endpoint": base + "/authorize",
			"token_endpoint":         base + "/token",
			"userinfo_endpoint":      base + "/userinfo",
			"jwks_uri":               base + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": testKid,
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(encodeExponent(key.PublicKey.E)),
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		idToken := p.signIDToken(t, "http://"+r.Host, p.nonce)
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "access-token-value",
			"token_type":   "Bearer",
			"id_token":     idToken,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"sub": p.sub})
	})

	p.server = httptest.NewServer(mux)
	return p
}

func encodeExponent(e int) []byte {
	b := []byte{byte(e >> 16), byte(e >> 8), byte(e)}
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	return b
}

func (p *fakeProvider) signIDToken(t *testing.T, issuer, nonce string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   issuer,
		"aud":   testClientID,
		"sub":   p.sub,
		"nonce": nonce,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKid
	signed, err := token.SignedString(p.key)
	if err != nil {
		t.Fatalf("sign id token: %v", err)
	}
	return signed
}

func configureAgainst(t *testing.T, p *fakeProvider) *oidcrelay.State {
	t.Helper()
	state, err := oidcrelay.Configure(context.Background(), p.server.Client(),
		p.server.URL+"/.well-known/openid-configuration",
		testClientID, testClientSecret, "http://gateway.example/callback", "profile email")
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return state
}

func TestBeginLoginReturnsAuthURLAndCookie(t *testing.T) {
	p := newFakeProvider(t)
	defer p.server.Close()
	state := configureAgainst(t, p)

	authURL, cookie, err := state.BeginLogin()
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if authURL == "" {
		t.Fatal("expected a non-empty authorization URL")
	}
	if cookie.Name != oidcrelay.StateCookieName || cookie.Value == "" {
		t.Fatalf("unexpected state cookie: %+v", cookie)
	}
}

func TestCallbackSucceedsForValidExchange(t *testing.T) {
	p := newFakeProvider(t)
	defer p.server.Close()
	state := configureAgainst(t, p)

	authURL, cookie, err := state.BeginLogin()
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := parsed.Query()
	p.nonce = q.Get("nonce")
	stateParam := q.Get("state")

	sub, err := state.Callback(context.Background(), oidcrelay.CallbackParams{
		Code:        "auth-code",
		State:       stateParam,
		StateCookie: cookie.Value,
	})
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if sub != p.sub {
		t.Fatalf("Callback sub = %q, want %q", sub, p.sub)
	}
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	p := newFakeProvider(t)
	defer p.server.Close()
	state := configureAgainst(t, p)

	_, err := state.Callback(context.Background(), oidcrelay.CallbackParams{
		Code:        "auth-code",
		State:       "never-minted",
		StateCookie: "never-minted",
	})
	if err != oidcrelay.ErrUnknownState {
		t.Fatalf("Callback error = %v, want ErrUnknownState", err)
	}
}

func TestCallbackRejectsStateCookieMismatch(t *testing.T) {
	p := newFakeProvider(t)
	defer p.server.Close()
	state := configureAgainst(t, p)

	_, cookie, err := state.BeginLogin()
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}

	_, err = state.Callback(context.Background(), oidcrelay.CallbackParams{
		Code:        "auth-code",
		State:       cookie.Value,
		StateCookie: "a-different-value",
	})
	if err != oidcrelay.ErrStateMismatch {
		t.Fatalf("Callback error = %v, want ErrStateMismatch", err)
	}
}

func TestCallbackPropagatesProviderError(t *testing.T) {
	p := newFakeProvider(t)
	defer p.server.Close()
	state := configureAgainst(t, p)

	_, cookie, err := state.BeginLogin()
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}

	_, err = state.Callback(context.Background(), oidcrelay.CallbackParams{
		State:       cookie.Value,
		StateCookie: cookie.Value,
		Error:       "access_denied",
	})
	if err == nil {
		t.Fatal("expected a provider-reported error to surface")
	}
}

func TestCallbackRejectsMissingCode(t *testing.T) {
	p := newFakeProvider(t)
	defer p.server.Close()
	state := configureAgainst(t, p)

	_, cookie, err := state.BeginLogin()
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}

	_, err = state.Callback(context.Background(), oidcrelay.CallbackParams{
		State:       cookie.Value,
		StateCookie: cookie.Value,
	})
	if err != oidcrelay.ErrMissingCode {
		t.Fatalf("Callback error = %v, want ErrMissingCode", err)
	}
}
