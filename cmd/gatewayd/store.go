// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"errors"
	"time"

	"github.com/nimbusfs/gateway/internal/store"
	"github.com/nimbusfs/gateway/lib/jwtauth"
	"github.com/nimbusfs/gateway/lib/pwauth"
)

// These adapters mirror lib/api/store.go's — that package's versions
// are unexported and scoped to wiring api.New, so the daemon needs its
// own instances to hand the same *store.Store to jwtauth/pwauth.Init.

type jwtKeyStoreAdapter struct{ s *store.Store }

func (a jwtKeyStoreAdapter) GetKeyByName(name string) (string, string, error) {
	k, err := a.s.GetKeyByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return "", "", jwtauth.ErrKeyNotFound
	}
	if err != nil {
		return "", "", err
	}
	return k.ID, k.PrivateKey, nil
}

func (a jwtKeyStoreAdapter) CreateKey(id, name, privateKeyPEM string) error {
	return a.s.CreateKey(store.Key{ID: id, Name: name, PrivateKey: privateKeyPEM})
}

type pwKeyStoreAdapter struct{ s *store.Store }

func (a pwKeyStoreAdapter) GetKeyByName(name string) (string, string, error) {
	k, err := a.s.GetKeyByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return "", "", pwauth.ErrKeyNotFound
	}
	if err != nil {
		return "", "", err
	}
	return k.ID, k.PrivateKey, nil
}

func (a pwKeyStoreAdapter) CreateKey(id, name, privateKeyPEM string) error {
	return a.s.CreateKey(store.Key{ID: id, Name: name, PrivateKey: privateKeyPEM})
}

type pwUserStoreAdapter struct{ s *store.Store }

func (a pwUserStoreAdapter) UserCount() (int, error) { return a.s.UserCount() }

func (a pwUserStoreAdapter) GetUserIDByName(name string) (string, bool, error) {
	return a.s.GetUserIDByName(name)
}

func (a pwUserStoreAdapter) DeleteUser(id string) error { return a.s.DeleteUser(id) }

func (a pwUserStoreAdapter) CreateUser(id, name, passwordHash, salt string) error {
	return a.s.CreateUser(store.User{ID: id, Name: name, Password: passwordHash, Salt: salt})
}

type pwLoginLookupAdapter struct{ s *store.Store }

func (a pwLoginLookupAdapter) GetUserForLogin(name string) (string, string, string, bool, error) {
	u, err := a.s.GetUserByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return "", "", "", false, nil
	}
	if err != nil {
		return "", "", "", false, err
	}
	return u.ID, u.Password, u.Salt, true, nil
}

type jwtInvalidationStoreAdapter struct{ s *store.Store }

func (a jwtInvalidationStoreAdapter) InvalidateToken(token string, exp time.Time) error {
	return a.s.InvalidateToken(token, exp)
}

func (a jwtInvalidationStoreAdapter) IsTokenValid(token string) (bool, error) {
	return a.s.IsTokenValid(token)
}

func (a jwtInvalidationStoreAdapter) RemoveExpired() error { return a.s.RemoveExpired() }
