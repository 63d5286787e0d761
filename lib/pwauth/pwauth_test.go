// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package pwauth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"strings"
	"testing"

	"github.com/nimbusfs/gateway/lib/pwauth"
)

// testKeyBits is small enough to keep key generation fast in tests;
// production callers should pass pwauth.KeyBits (or 0 to default to it).
const testKeyBits = 512

type memKeyStore struct {
	id, name, pem string
	has           bool
}

func (s *memKeyStore) GetKeyByName(name string) (string, string, error) {
	if !s.has || s.name != name {
		return "", "", pwauth.ErrKeyNotFound
	}
	return s.id, s.pem, nil
}

func (s *memKeyStore) CreateKey(id, name, pem string) error {
	s.id, s.name, s.pem, s.has = id, name, pem, true
	return nil
}

type memUser struct {
	id, name, hash, salt string
}

type memUserStore struct {
	users []memUser
}

func (s *memUserStore) UserCount() (int, error) { return len(s.users), nil }

func (s *memUserStore) GetUserIDByName(name string) (string, bool, error) {
	for _, u := range s.users {
		if u.name == name {
			return u.id, true, nil
		}
	}
	return "", false, nil
}

func (s *memUserStore) DeleteUser(id string) error {
	for i, u := range s.users {
		if u.id == id {
			s.users = append(s.users[:i], s.users[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memUserStore) CreateUser(id, name, hash, salt string) error {
	s.users = append(s.users, memUser{id: id, name: name, hash: hash, salt: salt})
	return nil
}

func (s *memUserStore) GetUserForLogin(name string) (string, string, string, bool, error) {
	for _, u := range s.users {
		if u.name == name {
			return u.id, u.hash, u.salt, true, nil
		}
	}
	return "", "", "", false, nil
}

// encryptForState simulates a client encrypting its submitted password
// under the transport public key, the way a login request body does.
func encryptForState(t *testing.T, pubPEM, password string) string {
	t.Helper()
	block, _ := pem.Decode([]byte(pubPEM))
	if block == nil {
		t.Fatalf("PublicKeyPEM did not return valid PEM")
	}
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

func TestInitGeneratesAndPersistsKey(t *testing.T) {
	ks := &memKeyStore{}
	state, err := pwauth.Init(ks, testKeyBits, "pepper")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !ks.has {
		t.Fatal("expected Init to persist a freshly generated key")
	}

	reloaded, err := pwauth.Init(ks, testKeyBits, "pepper")
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if reloaded.PublicKeyPEM() != state.PublicKeyPEM() {
		t.Fatal("expected the reloaded state to expose the same public key")
	}
}

func TestInitRejectsOversizedPepper(t *testing.T) {
	pepper := strings.Repeat("p", pwauth.MaxPepperLen+1)
	if _, err := pwauth.Init(&memKeyStore{}, testKeyBits, pepper); err == nil {
		t.Fatal("expected an oversized pepper to be rejected")
	}
}

func TestHashPasswordRoundTrip(t *testing.T) {
	state, err := pwauth.Init(&memKeyStore{}, testKeyBits, "pepper")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	salt, err := pwauth.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}

	encrypted := encryptForState(t, state.PublicKeyPEM(), "mysecretpassword")
	hash, err := state.HashPassword(salt, encrypted)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("hash = %q, want a $argon2id$ prefix", hash)
	}

	ok, err := state.VerifyPassword(salt, encrypted, hash)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Fatal("expected the freshly computed hash to verify")
	}
}

func TestVerifyPasswordRejectsWrongPassword(t *testing.T) {
	state, err := pwauth.Init(&memKeyStore{}, testKeyBits, "pepper")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	salt, err := pwauth.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}

	stored, err := state.HashPassword(salt, encryptForState(t, state.PublicKeyPEM(), "correct-password"))
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	ok, err := state.VerifyPassword(salt, encryptForState(t, state.PublicKeyPEM(), "wrong-password"), stored)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if ok {
		t.Fatal("expected a wrong password to fail verification")
	}
}

func TestHashRawDeterministicForSameSaltAndPepper(t *testing.T) {
	state, err := pwauth.Init(&memKeyStore{}, testKeyBits, "pepper")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	salt, err := pwauth.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}

	a, err := state.HashRaw(salt, "mysecretpassword")
	if err != nil {
		t.Fatalf("HashRaw: %v", err)
	}
	b, err := state.HashRaw(salt, "mysecretpassword")
	if err != nil {
		t.Fatalf("HashRaw: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical salt+password to hash identically, got %q vs %q", a, b)
	}
}

func TestLoginSucceedsWithCorrectPassword(t *testing.T) {
	state, err := pwauth.Init(&memKeyStore{}, testKeyBits, "pepper")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	us := &memUserStore{}
	if err := state.EnsureInitialUser(us, "admin", "changeit", false); err != nil {
		t.Fatalf("EnsureInitialUser: %v", err)
	}

	encrypted := encryptForState(t, state.PublicKeyPEM(), "changeit")
	id, err := state.Login(us, "admin", encrypted)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if id != us.users[0].id {
		t.Fatalf("Login returned id %q, want %q", id, us.users[0].id)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	state, err := pwauth.Init(&memKeyStore{}, testKeyBits, "pepper")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	us := &memUserStore{}
	if err := state.EnsureInitialUser(us, "admin", "changeit", false); err != nil {
		t.Fatalf("EnsureInitialUser: %v", err)
	}

	encrypted := encryptForState(t, state.PublicKeyPEM(), "wrong")
	if _, err := state.Login(us, "admin", encrypted); !errors.Is(err, pwauth.ErrInvalidCredentials) {
		t.Fatalf("Login error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	state, err := pwauth.Init(&memKeyStore{}, testKeyBits, "pepper")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	encrypted := encryptForState(t, state.PublicKeyPEM(), "changeit")
	if _, err := state.Login(&memUserStore{}, "nobody", encrypted); !errors.Is(err, pwauth.ErrInvalidCredentials) {
		t.Fatalf("Login error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginRejectsUndecryptableCiphertext(t *testing.T) {
	state, err := pwauth.Init(&memKeyStore{}, testKeyBits, "pepper")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	us := &memUserStore{}
	if err := state.EnsureInitialUser(us, "admin", "changeit", false); err != nil {
		t.Fatalf("EnsureInitialUser: %v", err)
	}

	garbage := base64.StdEncoding.EncodeToString([]byte("not rsa ciphertext"))
	if _, err := state.Login(us, "admin", garbage); !errors.Is(err, pwauth.ErrInvalidCredentials) {
		t.Fatalf("Login error = %v, want ErrInvalidCredentials", err)
	}
}

func TestEnsureInitialUserCreatesOnEmptyTable(t *testing.T) {
	state, err := pwauth.Init(&memKeyStore{}, testKeyBits, "pepper")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	us := &memUserStore{}

	if err := state.EnsureInitialUser(us, "admin", "changeit", false); err != nil {
		t.Fatalf("EnsureInitialUser: %v", err)
	}
	if len(us.users) != 1 || us.users[0].name != "admin" {
		t.Fatalf("unexpected users: %+v", us.users)
	}
}

func TestEnsureInitialUserSkipsWhenUsersExistAndNotOverwriting(t *testing.T) {
	state, err := pwauth.Init(&memKeyStore{}, testKeyBits, "pepper")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	us := &memUserStore{users: []memUser{{id: "existing", name: "someone"}}}

	if err := state.EnsureInitialUser(us, "admin", "changeit", false); err != nil {
		t.Fatalf("EnsureInitialUser: %v", err)
	}
	if len(us.users) != 1 {
		t.Fatalf("expected no new user to be created, got %+v", us.users)
	}
}

func TestEnsureInitialUserOverwritesExistingSameName(t *testing.T) {
	state, err := pwauth.Init(&memKeyStore{}, testKeyBits, "pepper")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	us := &memUserStore{users: []memUser{{id: "old-id", name: "admin", hash: "stale"}}}

	if err := state.EnsureInitialUser(us, "admin", "changeit", true); err != nil {
		t.Fatalf("EnsureInitialUser: %v", err)
	}
	if len(us.users) != 1 || us.users[0].id == "old-id" {
		t.Fatalf("expected the existing admin row to be replaced, got %+v", us.users)
	}
}
