// Copyright (C) 2025 The Nimbusfs Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package store is the sqlite-backed persistence layer: credentials,
// JWT signing keys, the JWT invalidation list, and the saved runtime
// configuration. Migrations run in filename order on every Open.
package store

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

const dbDriver = "sqlite"

//go:embed sql/*.sql
var migrations embed.FS

// Store wraps a sqlite connection and the four table accessors the
// gateway's auth stack needs.
type Store struct {
	db *sqlx.DB
}

// Open connects to the sqlite database at path (use ":memory:" for an
// ephemeral store) and applies every embedded migration in filename
// order.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open(dbDriver, "file:"+path+"?_pragma=foreign_keys(1)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		return nil, fmt.Errorf("store: PRAGMA journal_mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	names, err := fs.Glob(migrations, "sql/*.sql")
	if err != nil {
		return fmt.Errorf("store: glob migrations: %w", err)
	}
	sort.Strings(names)

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("store: begin migration tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, name := range names {
		bs, err := fs.ReadFile(migrations, name)
		if err != nil {
			return fmt.Errorf("store: read %s: %w", name, err)
		}
		for _, stmt := range strings.Split(string(bs), ";\n") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("store: apply %s: %w", name, err)
			}
		}
	}
	return tx.Commit()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
