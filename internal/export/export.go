// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-research/internal/storage"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts an entry to one output format.
type Exporter interface {
	// Export converts an entry to the target format and returns the content.
	Export(entry *storage.Entry) ([]byte, error)

	// FileExtension returns the appropriate file extension (e.g., ".md", ".html").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files will be saved.
	OutputDir string

	// IncludeMetadata includes the header (mode, dates, stream statistics).
	IncludeMetadata bool

	// Theme for HTML export ("light" or "dark").
	Theme string
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:       ".",
		IncludeMetadata: true,
		Theme:           "dark",
	}
}

// Formats lists the names accepted by ForFormat.
var Formats = []string{"md", "json", "html"}

// ForFormat returns the exporter for a format name.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(format) {
	case "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "html":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

// ExportToFile exports entry into opts.OutputDir and returns the file path.
func ExportToFile(entry *storage.Entry, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(entry)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	filename := fmt.Sprintf("answer_%s_%s%s",
		sanitizeFilename(entry.Question),
		entry.CreatedAt.Local().Format("20060102_150405"),
		exporter.FileExtension(),
	)

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	outputPath := filepath.Join(opts.OutputDir, filename)
	if err := os.WriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// validate rejects entries that cannot be exported meaningfully.
func validate(entry *storage.Entry) error {
	if entry == nil {
		return errors.New("entry is nil")
	}
	if entry.CreatedAt.IsZero() {
		return errors.New("entry has invalid creation timestamp")
	}
	return nil
}

// =============================================================================
// SOURCES
// =============================================================================

// source is the display form of one opaque source record.
type source struct {
	Title string
	URL   string
}

// sources extracts titles and links from the entry's source records. The
// records are backend-defined, so unknown shapes are shown as raw JSON.
func sources(entry *storage.Entry) []source {
	if len(entry.Sources) == 0 {
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(entry.Sources, &raw); err != nil {
		return nil
	}

	out := make([]source, 0, len(raw))
	for _, r := range raw {
		var fields map[string]any
		if err := json.Unmarshal(r, &fields); err != nil {
			out = append(out, source{Title: string(r)})
			continue
		}
		s := source{
			Title: firstString(fields, "title", "name"),
			URL:   firstString(fields, "url", "href", "link"),
		}
		if s.Title == "" && s.URL == "" {
			s.Title = string(r)
		}
		out = append(out, s)
	}
	return out
}

func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > 50 {
		runes = runes[:50]
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			result = append(result, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			result = append(result, '_')
		case r < 32 || r == 127:
			result = append(result, '-')
		default:
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "answer"
	}
	return string(result)
}

// formatDuration formats a duration in milliseconds to a human-readable string.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	if seconds < 60 {
		return fmt.Sprintf("%.2fs", seconds)
	}
	minutes := int(seconds / 60)
	return fmt.Sprintf("%dm %ds", minutes, int(seconds)%60)
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
