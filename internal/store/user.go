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

// User is one local login identity: a peppered, RSA-unwrapped password
// hash and the salt it was hashed with.
type User struct {
	ID       string `db:"id"`
	Name     string `db:"name"`
	Password string `db:"password"`
	Salt     string `db:"salt"`
}

// GetUser looks up a user by ID.
func (s *Store) GetUser(id string) (User, error) {
	var u User
	err := s.db.Get(&u, `SELECT id, name, password, salt FROM user WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: get user %q: %w", id, err)
	}
	return u, nil
}

// GetUserByName looks up a user by its unique name.
func (s *Store) GetUserByName(name string) (User, error) {
	var u User
	err := s.db.Get(&u, `SELECT id, name, password, salt FROM user WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: get user by name %q: %w", name, err)
	}
	return u, nil
}

// CreateUser inserts a new user row.
func (s *Store) CreateUser(u User) error {
	_, err := s.db.Exec(`INSERT INTO user (id, name, password, salt) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.Password, u.Salt)
	if err != nil {
		return fmt.Errorf("store: create user %q: %w", u.Name, err)
	}
	return nil
}

// UserCount returns the number of rows in the user table.
func (s *Store) UserCount() (int, error) {
	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM user`); err != nil {
		return 0, fmt.Errorf("store: count users: %w", err)
	}
	return n, nil
}

// GetUserIDByName looks up a user's ID by name, reporting whether a
// row was found rather than returning ErrNotFound.
func (s *Store) GetUserIDByName(name string) (string, bool, error) {
	var id string
	err := s.db.Get(&id, `SELECT id FROM user WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get user id by name %q: %w", name, err)
	}
	return id, true, nil
}

// ListUsers returns every user row.
func (s *Store) ListUsers() ([]User, error) {
	var users []User
	if err := s.db.Select(&users, `SELECT id, name, password, salt FROM user`); err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	return users, nil
}

// DeleteUser removes a user by ID. Returns ErrNotFound if no row
// matched.
func (s *Store) DeleteUser(id string) error {
	res, err := s.db.Exec(`DELETE FROM user WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete user %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete user %q: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
