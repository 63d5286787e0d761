// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package store_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimbusfs/gateway/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKeyCreateAndGet(t *testing.T) {
	s := openTestStore(t)

	id := uuid.NewString()
	if err := s.CreateKey(store.Key{ID: id, Name: "jwt", PrivateKey: "pem-bytes"}); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	got, err := s.GetKeyByName("jwt")
	if err != nil {
		t.Fatalf("GetKeyByName: %v", err)
	}
	if got.ID != id || got.PrivateKey != "pem-bytes" {
		t.Fatalf("unexpected key: %+v", got)
	}

	if _, err := s.GetKeyByName("missing"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserLifecycle(t *testing.T) {
	s := openTestStore(t)

	id := uuid.NewString()
	u := store.User{ID: id, Name: "admin", Password: "hashed", Salt: "salt"}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	byName, err := s.GetUserByName("admin")
	if err != nil {
		t.Fatalf("GetUserByName: %v", err)
	}
	if byName.ID != id {
		t.Fatalf("unexpected user: %+v", byName)
	}

	byID, err := s.GetUser(id)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if byID.Name != "admin" {
		t.Fatalf("unexpected user: %+v", byID)
	}

	users, err := s.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}

	if err := s.DeleteUser(id); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := s.DeleteUser(id); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestInvalidJWT(t *testing.T) {
	s := openTestStore(t)

	const token = "abc.def.ghi"
	valid, err := s.IsTokenValid(token)
	if err != nil {
		t.Fatalf("IsTokenValid: %v", err)
	}
	if !valid {
		t.Fatal("expected an unseen token to be valid")
	}

	if err := s.InvalidateToken(token, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("InvalidateToken: %v", err)
	}

	valid, err = s.IsTokenValid(token)
	if err != nil {
		t.Fatalf("IsTokenValid: %v", err)
	}
	if valid {
		t.Fatal("expected the invalidated token to be invalid")
	}
}

func TestInvalidJWTRemoveExpired(t *testing.T) {
	s := openTestStore(t)

	const token = "expired-token"
	if err := s.InvalidateToken(token, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("InvalidateToken: %v", err)
	}
	if err := s.RemoveExpired(); err != nil {
		t.Fatalf("RemoveExpired: %v", err)
	}

	valid, err := s.IsTokenValid(token)
	if err != nil {
		t.Fatalf("IsTokenValid: %v", err)
	}
	if !valid {
		t.Fatal("expected the expired invalidation row to have been removed")
	}
}

type testConfig struct {
	Value string `json:"value"`
}

func TestConfigRoundTrip(t *testing.T) {
	s := openTestStore(t)

	var cfg testConfig
	if err := s.GetConfig(&cfg); err != nil {
		t.Fatalf("GetConfig (initial): %v", err)
	}
	if cfg.Value != "" {
		t.Fatalf("expected zero-valued config, got %+v", cfg)
	}

	cfg.Value = "updated"
	if err := s.SaveConfig(&cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	var reloaded testConfig
	if err := s.GetConfig(&reloaded); err != nil {
		t.Fatalf("GetConfig (reloaded): %v", err)
	}
	if reloaded.Value != "updated" {
		t.Fatalf("unexpected config after save: %+v", reloaded)
	}
}
