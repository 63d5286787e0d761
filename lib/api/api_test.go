// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package api_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nimbusfs/gateway/lib/api"
	"github.com/nimbusfs/gateway/lib/config"
	"github.com/nimbusfs/gateway/lib/jwtauth"
	"github.com/nimbusfs/gateway/lib/pwauth"
)

const testKeyBits = 512

type memKeyStore struct {
	id, name, pem string
	has           bool
}

func (s *memKeyStore) GetKeyByName(name string) (string, string, error) {
	if !s.has || s.name != name {
		return "", "", jwtauth.ErrKeyNotFound
	}
	return s.id, s.pem, nil
}

func (s *memKeyStore) CreateKey(id, name, pem string) error {
	s.id, s.name, s.pem, s.has = id, name, pem, true
	return nil
}

type memPwKeyStore struct{ memKeyStore }

func (s *memPwKeyStore) GetKeyByName(name string) (string, string, error) {
	if !s.has || s.name != name {
		return "", "", pwauth.ErrKeyNotFound
	}
	return s.id, s.pem, nil
}

type memUser struct{ id, name, hash, salt string }

type memUserStore struct{ users []memUser }

func (s *memUserStore) GetUserForLogin(name string) (string, string, string, bool, error) {
	for _, u := range s.users {
		if u.name == name {
			return u.id, u.hash, u.salt, true, nil
		}
	}
	return "", "", "", false, nil
}

type memInvalidationStore struct {
	invalid map[string]bool
}

func (s *memInvalidationStore) InvalidateToken(token string, _ time.Time) error {
	if s.invalid == nil {
		s.invalid = map[string]bool{}
	}
	s.invalid[token] = true
	return nil
}
func (s *memInvalidationStore) IsTokenValid(token string) (bool, error) { return !s.invalid[token], nil }
func (s *memInvalidationStore) RemoveExpired() error                   { return nil }

func encryptFor(t *testing.T, pubPEM, password string) string {
	t.Helper()
	block, _ := pem.Decode([]byte(pubPEM))
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		t.Fatalf("ParsePKCS1PublicKey: %v", err)
	}
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		t.Fatalf("EncryptPKCS1v15: %v", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext)
}

type testHarness struct {
	server     *httptest.Server
	pwState    *pwauth.State
	users      *memUserStore
	jwtState   *jwtauth.State
	jwtGC      *jwtauth.InvalidationGC
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	jwtState, err := jwtauth.Init(&memKeyStore{}, testKeyBits, "nimbusfs", time.Hour)
	if err != nil {
		t.Fatalf("jwtauth.Init: %v", err)
	}
	jwtGC := jwtauth.NewInvalidationGC(&memInvalidationStore{})

	pwState, err := pwauth.Init(&memPwKeyStore{}, testKeyBits, "pepper")
	if err != nil {
		t.Fatalf("pwauth.Init: %v", err)
	}

	salt, err := pwauth.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	hash, err := pwState.HashRaw(salt, "changeit")
	if err != nil {
		t.Fatalf("HashRaw: %v", err)
	}
	users := &memUserStore{users: []memUser{{id: "user-1", name: "admin", hash: hash, salt: salt}}}

	svc := api.New("127.0.0.1:0", jwtState, jwtGC, pwState, users, nil, config.SSO{}, nil)
	server := httptest.NewServer(apiTestRouter(t, svc))

	return &testHarness{server: server, pwState: pwState, users: users, jwtState: jwtState, jwtGC: jwtGC}
}

// apiTestRouter exposes Service's router for direct testing. Service
// itself only serves via Serve(ctx) against a real listener, so tests
// drive the handler through httptest.NewServer wrapping the exported
// Handler method instead of a live socket.
func apiTestRouter(t *testing.T, svc *api.Service) http.Handler {
	t.Helper()
	return svc.Handler()
}

func TestPostAuthSucceedsWithCorrectPassword(t *testing.T) {
	h := newHarness(t)
	defer h.server.Close()

	encrypted := encryptFor(t, h.pwState.PublicKeyPEM(), "changeit")
	body, _ := json.Marshal(map[string]string{"name": "admin", "password": encrypted})

	resp, err := http.Post(h.server.URL+"/api/auth/auth", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("POST /api/auth/auth: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == jwtauth.CookieName {
			found = true
		}
	}
	if !found {
		t.Fatal("expected auth_token cookie to be set")
	}
}

func TestPostAuthRejectsWrongPassword(t *testing.T) {
	h := newHarness(t)
	defer h.server.Close()

	encrypted := encryptFor(t, h.pwState.PublicKeyPEM(), "wrong")
	body, _ := json.Marshal(map[string]string{"name": "admin", "password": encrypted})

	resp, err := http.Post(h.server.URL+"/api/auth/auth", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("POST /api/auth/auth: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestGetKeyReturnsPublicKey(t *testing.T) {
	h := newHarness(t)
	defer h.server.Close()

	resp, err := http.Get(h.server.URL + "/api/auth/key")
	if err != nil {
		t.Fatalf("GET /api/auth/key: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(body["key"], "RSA PUBLIC KEY") {
		t.Fatalf("key = %q, want a PEM-encoded RSA public key", body["key"])
	}
}

func TestGetTestTokenFalseWithoutCookie(t *testing.T) {
	h := newHarness(t)
	defer h.server.Close()

	resp, err := http.Get(h.server.URL + "/api/auth/test_token")
	if err != nil {
		t.Fatalf("GET /api/auth/test_token: %v", err)
	}
	defer resp.Body.Close()

	var ok bool
	if err := json.NewDecoder(resp.Body).Decode(&ok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok {
		t.Fatal("expected test_token to report false without a cookie")
	}
}

func TestGetHealthReturnsOK(t *testing.T) {
	h := newHarness(t)
	defer h.server.Close()

	resp, err := http.Get(h.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var buf [2]byte
	n, _ := resp.Body.Read(buf[:])
	if string(buf[:n]) != "OK" {
		t.Fatalf("body = %q, want OK", string(buf[:n]))
	}
}

func TestGetSSOConfigReportsNoneWhenUnconfigured(t *testing.T) {
	h := newHarness(t)
	defer h.server.Close()

	resp, err := http.Get(h.server.URL + "/api/auth/sso_config")
	if err != nil {
		t.Fatalf("GET /api/auth/sso_config: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["sso_type"] != "None" {
		t.Fatalf("sso_type = %v, want None", body["sso_type"])
	}
}

func TestGetOidcURLReturnsBadRequestWhenUnconfigured(t *testing.T) {
	h := newHarness(t)
	defer h.server.Close()

	resp, err := http.Get(h.server.URL + "/api/auth/oidc_url")
	if err != nil {
		t.Fatalf("GET /api/auth/oidc_url: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
