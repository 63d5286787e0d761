// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"errors"
	"time"

	"github.com/nimbusfs/gateway/internal/store"
	"github.com/nimbusfs/gateway/lib/jwtauth"
	"github.com/nimbusfs/gateway/lib/pwauth"
)

// jwtKeyStore adapts *store.Store to jwtauth.KeyStore, translating
// store.ErrNotFound to jwtauth's own sentinel.
type jwtKeyStore struct{ s *store.Store }

func (a jwtKeyStore) GetKeyByName(name string) (string, string, error) {
	k, err := a.s.GetKeyByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return "", "", jwtauth.ErrKeyNotFound
	}
	if err != nil {
		return "", "", err
	}
	return k.ID, k.PrivateKey, nil
}

func (a jwtKeyStore) CreateKey(id, name, privateKeyPEM string) error {
	return a.s.CreateKey(store.Key{ID: id, Name: name, PrivateKey: privateKeyPEM})
}

// pwKeyStore adapts *store.Store to pwauth.KeyStore, the same way
// jwtKeyStore does for jwtauth — kept as a distinct type since the two
// packages define distinct ErrKeyNotFound sentinels.
type pwKeyStore struct{ s *store.Store }

func (a pwKeyStore) GetKeyByName(name string) (string, string, error) {
	k, err := a.s.GetKeyByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return "", "", pwauth.ErrKeyNotFound
	}
	if err != nil {
		return "", "", err
	}
	return k.ID, k.PrivateKey, nil
}

func (a pwKeyStore) CreateKey(id, name, privateKeyPEM string) error {
	return a.s.CreateKey(store.Key{ID: id, Name: name, PrivateKey: privateKeyPEM})
}

// pwUserStore adapts *store.Store to pwauth.UserStore.
type pwUserStore struct{ s *store.Store }

func (a pwUserStore) UserCount() (int, error) { return a.s.UserCount() }

func (a pwUserStore) GetUserIDByName(name string) (string, bool, error) {
	return a.s.GetUserIDByName(name)
}

func (a pwUserStore) DeleteUser(id string) error { return a.s.DeleteUser(id) }

func (a pwUserStore) CreateUser(id, name, passwordHash, salt string) error {
	return a.s.CreateUser(store.User{ID: id, Name: name, Password: passwordHash, Salt: salt})
}

// pwLoginLookup adapts *store.Store to pwauth.LoginLookup.
type pwLoginLookup struct{ s *store.Store }

func (a pwLoginLookup) GetUserForLogin(name string) (string, string, string, bool, error) {
	u, err := a.s.GetUserByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return "", "", "", false, nil
	}
	if err != nil {
		return "", "", "", false, err
	}
	return u.ID, u.Password, u.Salt, true, nil
}

// jwtInvalidationStore adapts *store.Store to jwtauth.InvalidationStore.
type jwtInvalidationStore struct{ s *store.Store }

func (a jwtInvalidationStore) InvalidateToken(token string, exp time.Time) error {
	return a.s.InvalidateToken(token, exp)
}

func (a jwtInvalidationStore) IsTokenValid(token string) (bool, error) {
	return a.s.IsTokenValid(token)
}

func (a jwtInvalidationStore) RemoveExpired() error { return a.s.RemoveExpired() }
