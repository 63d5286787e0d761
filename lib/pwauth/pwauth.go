// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package pwauth hashes the username/password credentials the
// management API's local login endpoint accepts. The password travels
// the wire RSA-encrypted under a gateway-held keypair so it is never
// exposed in plaintext, and is hashed with Argon2id salted with a
// per-user salt plus a server-wide pepper before being compared
// against (or stored as) the value in the user table.
package pwauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

const keyName = "password"

// KeyBits is the RSA modulus size Init generates a fresh password
// transport key at. Production code should leave this at its default;
// tests that mint many keys can shrink it to keep key generation fast.
const KeyBits = 4096

// MaxPepperLen is the largest pepper, in bytes, Init accepts; a longer
// pepper makes Init return an error. The pepper is appended to every
// salt before hashing.
const MaxPepperLen = 32

// Argon2id parameters, matching the RustCrypto argon2 crate's default
// Params (m=19456 KiB, t=2, p=1, 32-byte output) since no configuration
// knob for these exists on the source side either.
const (
	argonMemoryKiB  = 19456
	argonIterations = 2
	argonThreads    = 1
	argonKeyLen     = 32
)

// KeyStore is the persistence seam for the RSA transport keypair.
type KeyStore interface {
	GetKeyByName(name string) (id, privateKeyPEM string, err error)
	CreateKey(id, name, privateKeyPEM string) error
}

// ErrKeyNotFound is returned by KeyStore implementations when no key
// row exists yet, signaling State to generate and persist one.
var ErrKeyNotFound = errors.New("pwauth: key not found")

// UserStore is the persistence seam EnsureInitialUser uses to bootstrap
// the gateway's first local account.
type UserStore interface {
	UserCount() (int, error)
	GetUserIDByName(name string) (id string, ok bool, err error)
	DeleteUser(id string) error
	CreateUser(id, name, passwordHash, salt string) error
}

// LoginLookup is the persistence seam Login uses to fetch the stored
// credential for a login attempt.
type LoginLookup interface {
	GetUserForLogin(name string) (id, passwordHash, salt string, ok bool, err error)
}

// ErrInvalidCredentials is returned by Login for any of: unknown user,
// an RSA-decryption failure, or a hash mismatch. These are
// deliberately indistinguishable to the caller, matching the source's
// single generic 401.
var ErrInvalidCredentials = errors.New("pwauth: invalid credentials")

// State holds the RSA transport keypair and pepper for one process
// lifetime.
type State struct {
	privateKey   *rsa.PrivateKey
	publicKeyPEM string
	pepper       []byte
}

// Init loads the named "password" key from store, generating and
// persisting a new RSA keypair of size bits on first run. pepper is
// appended to every salt before hashing and must not exceed
// MaxPepperLen bytes.
func Init(store KeyStore, bits int, pepper string) (*State, error) {
	if bits <= 0 {
		bits = KeyBits
	}
	if len(pepper) > MaxPepperLen {
		return nil, fmt.Errorf("pwauth: pepper exceeds %d bytes", MaxPepperLen)
	}

	_, privatePEM, err := store.GetKeyByName(keyName)
	var key *rsa.PrivateKey
	if errors.Is(err, ErrKeyNotFound) {
		key, err = rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, fmt.Errorf("pwauth: generate transport key: %w", err)
		}
		encoded := string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
		if err := store.CreateKey(uuid.NewString(), keyName, encoded); err != nil {
			return nil, fmt.Errorf("pwauth: persist transport key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("pwauth: load transport key: %w", err)
	} else {
		block, _ := pem.Decode([]byte(privatePEM))
		if block == nil {
			return nil, fmt.Errorf("pwauth: stored transport key is not valid PEM")
		}
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("pwauth: parse stored transport key: %w", err)
		}
	}

	pubPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey),
	}))

	return &State{privateKey: key, publicKeyPEM: pubPEM, pepper: []byte(pepper)}, nil
}

// PublicKeyPEM returns the PKCS1 PEM encoding of the transport
// keypair's public half, served at the key-exposure endpoint so
// clients can encrypt the password they submit at login.
func (s *State) PublicKeyPEM() string {
	return s.publicKeyPEM
}

// GenerateSalt returns a fresh random salt, unpadded standard base64
// encoded, suitable for passing to HashRaw or HashPassword.
func GenerateSalt() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("pwauth: generate salt: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(raw), nil
}

// HashPassword decrypts an RSA-encrypted, standard-base64-encoded
// password and hashes it against salt. This is what login handlers
// call with the value a client submits.
func (s *State) HashPassword(salt, encryptedPasswordB64 string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedPasswordB64)
	if err != nil {
		return "", fmt.Errorf("pwauth: decode submitted password: %w", err)
	}
	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, s.privateKey, ciphertext)
	if err != nil {
		return "", fmt.Errorf("pwauth: decrypt submitted password: %w", err)
	}
	return s.HashRaw(salt, string(plaintext))
}

// HashRaw hashes password directly (no RSA decryption step), used for
// bootstrapping the initial user's password from configuration. salt
// is unpadded standard base64, matching GenerateSalt's output.
func (s *State) HashRaw(salt, password string) (string, error) {
	saltBytes, err := base64.RawStdEncoding.DecodeString(salt)
	if err != nil {
		return "", fmt.Errorf("pwauth: decode salt: %w", err)
	}
	saltBytes = append(saltBytes, s.pepper...)

	hash := argon2.IDKey([]byte(password), saltBytes, argonIterations, argonMemoryKiB, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemoryKiB, argonIterations, argonThreads,
		base64.RawStdEncoding.EncodeToString(saltBytes),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword reports whether the RSA-encrypted, base64-encoded
// password the client submitted hashes to storedHash under salt.
func (s *State) VerifyPassword(salt, encryptedPasswordB64, storedHash string) (bool, error) {
	computed, err := s.HashPassword(salt, encryptedPasswordB64)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1, nil
}

// Login looks up name, decrypts and hashes the submitted password, and
// compares it to the stored hash. An unknown user, a failed RSA
// decryption, and a hash mismatch all return the same
// ErrInvalidCredentials so a caller cannot distinguish them.
func (s *State) Login(store LoginLookup, name, encryptedPasswordB64 string) (userID string, err error) {
	id, storedHash, salt, ok, err := store.GetUserForLogin(name)
	if err != nil {
		return "", fmt.Errorf("pwauth: look up user: %w", err)
	}
	if !ok {
		return "", ErrInvalidCredentials
	}

	computed, err := s.HashPassword(salt, encryptedPasswordB64)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) != 1 {
		return "", ErrInvalidCredentials
	}
	return id, nil
}

// EnsureInitialUser creates the configured initial user when the user
// table is empty, or unconditionally replaces any existing user of the
// same name when overwrite is set.
func (s *State) EnsureInitialUser(store UserStore, username, password string, overwrite bool) error {
	count, err := store.UserCount()
	if err != nil {
		return fmt.Errorf("pwauth: count users: %w", err)
	}
	if count != 0 && !overwrite {
		return nil
	}

	salt, err := GenerateSalt()
	if err != nil {
		return err
	}
	hash, err := s.HashRaw(salt, password)
	if err != nil {
		return fmt.Errorf("pwauth: hash initial password: %w", err)
	}

	if id, ok, err := store.GetUserIDByName(username); err != nil {
		return fmt.Errorf("pwauth: look up initial user: %w", err)
	} else if ok {
		if err := store.DeleteUser(id); err != nil {
			return fmt.Errorf("pwauth: delete existing initial user: %w", err)
		}
	}

	if err := store.CreateUser(uuid.NewString(), username, hash, salt); err != nil {
		return fmt.Errorf("pwauth: create initial user: %w", err)
	}
	return nil
}
