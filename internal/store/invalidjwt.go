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
	"time"

	"github.com/google/uuid"
)

// InvalidateToken records token as revoked until exp. Callers that
// invalidate many tokens per process lifetime should periodically call
// RemoveExpired themselves — this method does not GC on its own.
func (s *Store) InvalidateToken(token string, exp time.Time) error {
	_, err := s.db.Exec(`INSERT INTO invalid_jwt (id, token, exp) VALUES (?, ?, ?)`,
		uuid.NewString(), token, exp.Unix())
	if err != nil {
		return fmt.Errorf("store: invalidate token: %w", err)
	}
	return nil
}

// IsTokenValid reports whether token has not been invalidated.
func (s *Store) IsTokenValid(token string) (bool, error) {
	var id string
	err := s.db.Get(&id, `SELECT id FROM invalid_jwt WHERE token = ? LIMIT 1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: check token validity: %w", err)
	}
	return false, nil
}

// RemoveExpired deletes every invalidation row whose expiry has
// passed.
func (s *Store) RemoveExpired() error {
	_, err := s.db.Exec(`DELETE FROM invalid_jwt WHERE exp < ?`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: remove expired invalidations: %w", err)
	}
	return nil
}
