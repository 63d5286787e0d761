// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Key is a named signing key: an ID (used as the JWT "kid" when the
// name is "jwt") and its PEM-encoded private key.
type Key struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	PrivateKey string `db:"private_key"`
}

// ErrNotFound is returned by the lookup methods when no row matches.
var ErrNotFound = errors.New("store: not found")

// GetKeyByName looks up a key by its name ("jwt", "password", ...).
func (s *Store) GetKeyByName(name string) (Key, error) {
	var k Key
	err := s.db.Get(&k, `SELECT id, name, private_key FROM key WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return Key{}, ErrNotFound
	}
	if err != nil {
		return Key{}, fmt.Errorf("store: get key %q: %w", name, err)
	}
	return k, nil
}

// CreateKey inserts a new key row.
func (s *Store) CreateKey(k Key) error {
	_, err := s.db.Exec(`INSERT INTO key (id, name, private_key) VALUES (?, ?, ?)`, k.ID, k.Name, k.PrivateKey)
	if err != nil {
		return fmt.Errorf("store: create key %q: %w", k.Name, err)
	}
	return nil
}
