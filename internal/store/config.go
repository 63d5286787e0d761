// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// GetConfig decodes the single saved-configuration row into v,
// creating and persisting a zero-valued row on first use.
func (s *Store) GetConfig(v any) error {
	var raw string
	err := s.db.Get(&raw, `SELECT config FROM config LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.SaveConfig(v); err != nil {
			return err
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: get config: %w", err)
	}
	return json.Unmarshal([]byte(raw), v)
}

// SaveConfig replaces the single saved-configuration row with the
// JSON encoding of v.
func (s *Store) SaveConfig(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal config: %w", err)
	}

	var id string
	err = s.db.Get(&id, `SELECT id FROM config LIMIT 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec(`INSERT INTO config (id, config) VALUES (?, ?)`, uuid.NewString(), string(raw))
	case err == nil:
		_, err = s.db.Exec(`UPDATE config SET config = ? WHERE id = ?`, string(raw), id)
	}
	if err != nil {
		return fmt.Errorf("store: save config: %w", err)
	}
	return nil
}
