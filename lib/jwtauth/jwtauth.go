// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package jwtauth issues and validates the RS256 session tokens the
// gateway's management API hands out on successful login, whether
// internal (username/password) or relayed through OIDC.
package jwtauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName is the cookie the management API reads a session token
// from when no bearer Authorization header is present.
const CookieName = "auth_token"

const keyName = "jwt"

// AuthType distinguishes a token minted from a local username/password
// login from one relayed through an OIDC provider. Internal-only
// endpoints reject Oidc-kind tokens.
type AuthType string

const (
	AuthTypeInternal AuthType = "Internal"
	AuthTypeOidc     AuthType = "Oidc"
)

// Claims is the token payload: standard exp/iss/sub plus the AuthType
// discriminant.
type Claims struct {
	jwt.RegisteredClaims
	Type AuthType `json:"type"`
}

// KeyStore is the persistence seam for the signing key: look it up by
// name, or persist a freshly generated one.
type KeyStore interface {
	GetKeyByName(name string) (id, privateKeyPEM string, err error)
	CreateKey(id, name, privateKeyPEM string) error
}

// ErrKeyNotFound is returned by KeyStore implementations when no key
// row exists yet, signaling State to generate and persist one.
var ErrKeyNotFound = errors.New("jwtauth: key not found")

// InvalidationStore tracks revoked tokens until they expire on their
// own.
type InvalidationStore interface {
	InvalidateToken(token string, exp time.Time) error
	IsTokenValid(token string) (bool, error)
	RemoveExpired() error
}

// State holds the signing/verification keypair and issuance
// parameters for one process lifetime.
type State struct {
	kid        string
	privateKey *rsa.PrivateKey
	issuer     string
	exp        time.Duration
}

// KeyBits is the RSA modulus size Init generates a fresh signing
// key at. Production code should leave this at its default; tests that
// mint many keys can shrink it to keep key generation fast.
const KeyBits = 4096

// Init loads the named "jwt" key from store, generating and persisting
// a new RSA keypair of size bits on first run. issuer and exp configure
// claim issuance; exp also becomes the session cookie's max-age.
func Init(store KeyStore, bits int, issuer string, exp time.Duration) (*State, error) {
	if bits <= 0 {
		bits = KeyBits
	}

	id, privatePEM, err := store.GetKeyByName(keyName)
	if errors.Is(err, ErrKeyNotFound) {
		key, genErr := rsa.GenerateKey(rand.Reader, bits)
		if genErr != nil {
			return nil, fmt.Errorf("jwtauth: generate signing key: %w", genErr)
		}
		id = uuid.NewString()
		privatePEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
		if err := store.CreateKey(id, keyName, privatePEM); err != nil {
			return nil, fmt.Errorf("jwtauth: persist signing key: %w", err)
		}
		return &State{kid: id, privateKey: key, issuer: issuer, exp: exp}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jwtauth: load signing key: %w", err)
	}

	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, fmt.Errorf("jwtauth: stored signing key is not valid PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwtauth: parse stored signing key: %w", err)
	}

	return &State{kid: id, privateKey: key, issuer: issuer, exp: exp}, nil
}

// CreateToken mints a signed token for subject (the user's ID, or the
// OIDC subject claim) of the given AuthType.
func (s *State) CreateToken(subject string, kind AuthType) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.exp)),
			Issuer:    s.issuer,
			Subject:   subject,
		},
		Type: kind,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("jwtauth: sign token: %w", err)
	}
	return signed, nil
}

// IssueCookie wraps a signed token in the session cookie the management API
// sets on login: http-only, secure, SameSite=Lax, path "/", with a
// max-age matching the token's own expiry.
func (s *State) IssueCookie(name, token string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    token,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   int(s.exp.Seconds()),
	}
}

// ValidateToken parses and verifies a token's signature and expiry.
// Audience is never checked and issuer is not constrained at decode
// time, matching the signer's own validation posture.
func (s *State) ValidateToken(tokenString string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return &s.privateKey.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return Claims{}, fmt.Errorf("jwtauth: validate token: %w", err)
	}
	return claims, nil
}

// InvalidationGC wraps an InvalidationStore with an in-process "sweep
// expired rows every 1000 invalidations" counter so a single
// long-lived process doesn't call RemoveExpired on every logout.
type InvalidationGC struct {
	store InvalidationStore

	mu    sync.Mutex
	count int
}

// NewInvalidationGC wraps store with a zeroed invalidation counter.
func NewInvalidationGC(store InvalidationStore) *InvalidationGC {
	return &InvalidationGC{store: store}
}

// Invalidate records token as revoked and, every 1000th call, sweeps
// expired rows out of the store.
func (g *InvalidationGC) Invalidate(token string, exp time.Time) error {
	if err := g.store.InvalidateToken(token, exp); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.count++
	if g.count >= 1000 {
		g.count = 0
		return g.store.RemoveExpired()
	}
	return nil
}

// IsValid reports whether token has not been invalidated.
func (g *InvalidationGC) IsValid(token string) (bool, error) {
	return g.store.IsTokenValid(token)
}

// ExtractToken pulls the session token from a request: the bearer
// Authorization header takes priority, falling back to the session
// cookie.
func ExtractToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
			return auth[len(prefix):], true
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value, true
	}
	return "", false
}

// Authenticate extracts, validates, and checks the invalidation list
// for a request's session token. internalOnly rejects Oidc-kind
// tokens.
func Authenticate(r *http.Request, state *State, gc *InvalidationGC, internalOnly bool) (Claims, error) {
	token, ok := ExtractToken(r)
	if !ok {
		return Claims{}, fmt.Errorf("jwtauth: no auth token found")
	}

	valid, err := gc.IsValid(token)
	if err != nil {
		return Claims{}, fmt.Errorf("jwtauth: check token validity: %w", err)
	}
	if !valid {
		return Claims{}, fmt.Errorf("jwtauth: token is invalidated")
	}

	claims, err := state.ValidateToken(token)
	if err != nil {
		return Claims{}, err
	}

	if internalOnly && claims.Type != AuthTypeInternal {
		return Claims{}, fmt.Errorf("jwtauth: token is not for internal use")
	}

	return claims, nil
}
