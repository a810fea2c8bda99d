// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jeranaias/rigrun-research/internal/util"
)

// Modes record which endpoint produced an answer.
const (
	ModeAnswer    = "answer"
	ModeMultiStep = "multistep"
)

// DefaultMaxEntries caps the history unless configured otherwise.
const DefaultMaxEntries = 500

const schema = `
CREATE TABLE IF NOT EXISTS answers (
    id TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_answers_updated ON answers(updated_at DESC);
`

// =============================================================================
// ENTRY TYPES
// =============================================================================

// Entry is one question and the answer received for it.
type Entry struct {
	ID        string          `json:"id"`
	Question  string          `json:"question"`
	Mode      string          `json:"mode"`
	Answer    string          `json:"answer"`
	Sources   json.RawMessage `json:"sources,omitempty"`
	Similar   []string        `json:"similar,omitempty"`
	Username  string          `json:"username,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	// Statistics
	Fragments   int   `json:"fragments,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`
	FirstTextMs int64 `json:"first_text_ms,omitempty"`
}

// Meta is the listing view of an Entry.
type Meta struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Preview   string    `json:"preview"` // Question truncated
}

// Markdown renders the entry as a markdown document.
func (e *Entry) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# " + util.FirstLine(e.Question) + "\n\n")
	sb.WriteString(fmt.Sprintf("*%s · %s*\n\n", e.Mode, e.CreatedAt.Format("2006-01-02 15:04")))
	sb.WriteString(e.Answer)
	if !strings.HasSuffix(e.Answer, "\n") {
		sb.WriteString("\n")
	}
	if len(e.Similar) > 0 {
		sb.WriteString("\n## Related questions\n\n")
		for _, q := range e.Similar {
			sb.WriteString("- " + q + "\n")
		}
	}
	return sb.String()
}

func (e *Entry) meta() Meta {
	return Meta{
		ID:        e.ID,
		Mode:      e.Mode,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		Preview:   util.TruncateRunes(util.FirstLine(e.Question), 60),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrEntryNotFound is returned when an entry does not exist.
// Use errors.Is(err, ErrEntryNotFound) to check for this error.
var ErrEntryNotFound = &HistoryError{Message: "history entry not found"}

// HistoryError represents a history-related error.
type HistoryError struct {
	Message string
}

// Error implements the error interface.
func (e *HistoryError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing history errors.
func (e *HistoryError) Is(target error) bool {
	t, ok := target.(*HistoryError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// HISTORY STORE
// =============================================================================

// HistoryStore persists entries in SQLite.
type HistoryStore struct {
	db *sql.DB
	mu sync.Mutex

	// MaxEntries limits stored entries (0 = unlimited)
	MaxEntries int
}

// OpenHistory opens or creates the database at path.
func OpenHistory(path string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &HistoryStore{db: db, MaxEntries: DefaultMaxEntries}, nil
}

// Close releases the database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// Save inserts or updates entry and returns its ID. A new ID is assigned
// when entry.ID is empty; CreatedAt is kept from the first save.
func (s *HistoryStore) Save(ctx context.Context, entry *Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to encode entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO answers (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		entry.ID, string(data), entry.CreatedAt.UnixMilli(), entry.UpdatedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to save entry: %w", err)
	}

	if err := s.enforceLimit(ctx); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// enforceLimit removes the least recently updated entries over MaxEntries.
func (s *HistoryStore) enforceLimit(ctx context.Context) error {
	if s.MaxEntries <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM answers WHERE id NOT IN (
			SELECT id FROM answers ORDER BY updated_at DESC, id LIMIT ?
		)`, s.MaxEntries)
	if err != nil {
		return fmt.Errorf("failed to enforce history limit: %w", err)
	}
	return nil
}

// Get loads one entry.
func (s *HistoryStore) Get(ctx context.Context, id string) (*Entry, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM answers WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry: %w", err)
	}
	return decodeEntry(data)
}

// GetByIndex loads the entry at position index (0 = most recent).
func (s *HistoryStore) GetByIndex(ctx context.Context, index int) (*Entry, error) {
	if index < 0 {
		return nil, ErrEntryNotFound
	}
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM answers ORDER BY updated_at DESC, id LIMIT 1 OFFSET ?`, index).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry: %w", err)
	}
	return decodeEntry(data)
}

// List returns up to limit entries, most recently updated first (0 = all).
func (s *HistoryStore) List(ctx context.Context, limit int) ([]Meta, error) {
	return s.query(ctx, `SELECT data FROM answers ORDER BY updated_at DESC, id LIMIT ?`, listLimit(limit))
}

// Search returns entries whose question or answer contains query,
// case-insensitively, most recently updated first.
func (s *HistoryStore) Search(ctx context.Context, query string, limit int) ([]Meta, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.query(ctx, `
		SELECT data FROM answers
		WHERE lower(json_extract(data, '$.question')) LIKE ? ESCAPE '\'
		   OR lower(json_extract(data, '$.answer')) LIKE ? ESCAPE '\'
		ORDER BY updated_at DESC, id LIMIT ?`, pattern, pattern, listLimit(limit))
}

// Delete removes one entry.
func (s *HistoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM answers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Clear removes every entry.
func (s *HistoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM answers`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

func (s *HistoryStore) query(ctx context.Context, q string, args ...any) ([]Meta, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to read entry: %w", err)
		}
		entry, err := decodeEntry(data)
		if err != nil {
			// Skip corrupted rows
			continue
		}
		metas = append(metas, entry.meta())
	}
	return metas, rows.Err()
}

func decodeEntry(data string) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &entry, nil
}

// listLimit maps 0 to SQLite's "no limit".
func listLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// previewWidth keeps a listed row within 80 terminal cells.
const previewWidth = 38

// FormatList formats entries as a table for terminal output.
func FormatList(metas []Meta) string {
	if len(metas) == 0 {
		return "No history entries found."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-4s %-8s %-10s %-16s %s\n", "#", "ID", "Mode", "Updated", "Question"))
	sb.WriteString(strings.Repeat("-", 72) + "\n")
	for i, m := range metas {
		id := m.ID
		if len(id) > 8 {
			id = id[:8]
		}
		sb.WriteString(fmt.Sprintf("%-4d %-8s %-10s %-16s %s\n",
			i, id, m.Mode, m.UpdatedAt.Local().Format("2006-01-02 15:04"),
			util.TruncateWidth(m.Preview, previewWidth)))
	}
	return sb.String()
}
