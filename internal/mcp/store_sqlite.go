// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps one row per service in a SQLite database.
//
// Args and env are stored as JSON text so a row round-trips exactly.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	connStr := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS services (
			name TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			args_json TEXT NOT NULL DEFAULT '[]',
			env_json TEXT NOT NULL DEFAULT '{}',
			cwd TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Location returns the database path.
func (s *SQLiteStore) Location() string { return s.path }

// Load reads every service row.
func (s *SQLiteStore) Load(ctx context.Context) (Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, command, args_json, env_json, cwd FROM services ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	doc := Document{}
	for rows.Next() {
		var (
			cfg      ServiceConfig
			argsJSON string
			envJSON  string
		)
		if err := rows.Scan(&cfg.Name, &cfg.Command, &argsJSON, &envJSON, &cfg.Cwd); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		if err := json.Unmarshal([]byte(argsJSON), &cfg.Args); err != nil {
			return nil, fmt.Errorf("service %q: invalid args: %w", cfg.Name, err)
		}
		if err := json.Unmarshal([]byte(envJSON), &cfg.Env); err != nil {
			return nil, fmt.Errorf("service %q: invalid env: %w", cfg.Name, err)
		}
		doc[cfg.Name] = cfg.Clone()
	}
	return doc, rows.Err()
}

// Save replaces all rows in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, doc Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM services`); err != nil {
		return fmt.Errorf("failed to clear services: %w", err)
	}

	for _, cfg := range doc.Configs() {
		argsJSON, err := json.Marshal(cfg.Args)
		if err != nil {
			return err
		}
		envJSON, err := json.Marshal(cfg.Env)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO services (name, command, args_json, env_json, cwd, updated_at)
			 VALUES (?, ?, ?, ?, ?, datetime('now'))`,
			cfg.Name, cfg.Command, string(argsJSON), string(envJSON), cfg.Cwd)
		if err != nil {
			return fmt.Errorf("failed to insert service %q: %w", cfg.Name, err)
		}
	}

	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
