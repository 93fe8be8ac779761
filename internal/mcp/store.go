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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store persists the registry document. Only configuration is durable;
// runtime state is never written.
type Store interface {
	// Load returns the persisted document, empty when nothing was saved yet.
	Load(ctx context.Context) (Document, error)

	// Save replaces the persisted document.
	Save(ctx context.Context, doc Document) error

	// Location describes where the document lives.
	Location() string
}

// OpenStore picks a store from the path extension: .db and .sqlite use
// SQLite, everything else a JSON or YAML file.
func OpenStore(path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return NewSQLiteStore(path)
	default:
		return NewFileStore(path), nil
	}
}

// FileStore keeps the document in a single JSON or YAML file.
type FileStore struct {
	path   string
	format Format

	// mu serializes writers within this process
	mu sync.Mutex
}

// NewFileStore creates a file store. The format follows the extension.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:   path,
		format: FormatForPath(path),
	}
}

// Location returns the file path.
func (s *FileStore) Location() string { return s.path }

// Load reads the document. A missing file is an empty registry.
func (s *FileStore) Load(_ context.Context) (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, nil
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	return ParseDocument(data, s.format)
}

// Save writes the document atomically with owner-only permissions.
func (s *FileStore) Save(_ context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	data, err := doc.Marshal(s.format)
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save registry: %w", err)
	}

	return nil
}

// MemoryStore keeps the document in memory. It is used when no persistence
// location is configured.
type MemoryStore struct {
	mu  sync.Mutex
	doc Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{doc: Document{}}
}

// Location returns a fixed description.
func (s *MemoryStore) Location() string { return "memory" }

// Load returns a copy of the stored document.
func (s *MemoryStore) Load(_ context.Context) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DocumentFrom(s.doc.Configs()), nil
}

// Save replaces the stored document with a copy.
func (s *MemoryStore) Save(_ context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = DocumentFrom(doc.Configs())
	return nil
}
