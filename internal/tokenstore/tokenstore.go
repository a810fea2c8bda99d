// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tokenstore persists the single bearer token issued by the research
// backend.
//
// Stores never fail from the caller's point of view. A store that cannot read
// or write its slot degrades to "no token" and logs the cause, so the same
// code path runs whether or not local storage is usable.
//
// SECURITY: Tokens are never logged. Use Fingerprint for log correlation.
package tokenstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-research/internal/util"
)

// Key is the well-known name of the persisted token slot.
const Key = "auth_token"

// Store is the synchronous get/set/clear contract over one token slot.
// No validation of token shape is performed.
type Store interface {
	// Get returns the cached token and whether one is present.
	Get() (string, bool)
	// Set replaces the cached token.
	Set(token string)
	// Clear removes the cached token.
	Clear()
}

// Fingerprint returns a short SHA-256 fingerprint of token for logging.
// SECURITY: Never exposes any fragment of the token itself.
func Fingerprint(token string) string {
	if token == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:4])
}

// Open returns a FileStore at path, or Unavailable when no storage location
// could be resolved (path is empty).
func Open(path string, logger *zap.Logger) Store {
	if path == "" {
		return Unavailable{}
	}
	return NewFileStore(path, logger)
}

// =============================================================================
// UNAVAILABLE
// =============================================================================

// Unavailable is the store used when there is no local storage. Get always
// reports absent and Set/Clear do nothing.
type Unavailable struct{}

// Get implements Store.
func (Unavailable) Get() (string, bool) { return "", false }

// Set implements Store.
func (Unavailable) Set(string) {}

// Clear implements Store.
func (Unavailable) Clear() {}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore keeps the token in process memory only.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore returns a MemoryStore seeded with token ("" for empty).
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

// Get implements Store.
func (m *MemoryStore) Get() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.token != ""
}

// Set implements Store.
func (m *MemoryStore) Set(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

// Clear implements Store.
func (m *MemoryStore) Clear() {
	m.Set("")
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps the token in a single file readable only by the owner.
type FileStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileStore creates a FileStore. The file is not touched until first use.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger.Named("tokenstore")}
}

// Path returns the file backing the store.
func (s *FileStore) Path() string {
	return s.path
}

// Get implements Store. A missing or unreadable file reports absent.
func (s *FileStore) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("read token file", zap.String("path", s.path), zap.Error(err))
		}
		return "", false
	}
	token := strings.TrimSpace(string(data))
	return token, token != ""
}

// Set implements Store. An empty token behaves like Clear.
// SECURITY: File written 0600 inside a 0700 directory.
func (s *FileStore) Set(token string) {
	if token == "" {
		s.Clear()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := util.AtomicWriteFileWithDir(s.path, []byte(token), 0600, 0700); err != nil {
		s.logger.Warn("write token file", zap.String("path", s.path), zap.Error(err))
		return
	}
	s.logger.Debug("token stored", zap.String("fingerprint", Fingerprint(token)))
}

// Clear implements Store.
func (s *FileStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("remove token file", zap.String("path", s.path), zap.Error(err))
		return
	}
	s.logger.Debug("token cleared")
}
