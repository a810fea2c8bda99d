// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-research/internal/storage"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports entries to Markdown with optional YAML frontmatter.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts an entry to Markdown.
func (e *MarkdownExporter) Export(entry *storage.Entry) ([]byte, error) {
	if err := validate(entry); err != nil {
		return nil, err
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "question: %s\n", escapeYAML(entry.Question))
		fmt.Fprintf(&sb, "mode: %s\n", entry.Mode)
		fmt.Fprintf(&sb, "date: %s\n", entry.CreatedAt.Format(time.RFC3339))
		if entry.Username != "" {
			fmt.Fprintf(&sb, "user: %s\n", escapeYAML(entry.Username))
		}
		if entry.DurationMs > 0 {
			fmt.Fprintf(&sb, "duration: %s\n", formatDuration(entry.DurationMs))
		}
		fmt.Fprintf(&sb, "exported: %s\n", time.Now().Format(time.RFC3339))
		sb.WriteString("generator: research\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(entry.Question))
	sb.WriteString(strings.TrimRight(entry.Answer, "\n"))
	sb.WriteString("\n")

	if srcs := sources(entry); len(srcs) > 0 {
		sb.WriteString("\n## Sources\n\n")
		for i, s := range srcs {
			switch {
			case s.URL != "" && s.Title != "":
				fmt.Fprintf(&sb, "%d. [%s](%s)\n", i+1, escapeMarkdown(s.Title), s.URL)
			case s.URL != "":
				fmt.Fprintf(&sb, "%d. <%s>\n", i+1, s.URL)
			default:
				fmt.Fprintf(&sb, "%d. %s\n", i+1, s.Title)
			}
		}
	}

	if len(entry.Similar) > 0 {
		sb.WriteString("\n## Related questions\n\n")
		for _, q := range entry.Similar {
			fmt.Fprintf(&sb, "- %s\n", q)
		}
	}

	if e.options.IncludeMetadata {
		if stats := formatStats(entry); stats != "" {
			sb.WriteString("\n---\n\n")
			sb.WriteString(stats)
			sb.WriteString("\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// formatStats formats stream statistics as a small footer.
func formatStats(entry *storage.Entry) string {
	var parts []string
	if entry.Fragments > 0 {
		parts = append(parts, fmt.Sprintf("%d fragments", entry.Fragments))
	}
	if entry.FirstTextMs > 0 {
		parts = append(parts, "first text "+formatDuration(entry.FirstTextMs))
	}
	if entry.DurationMs > 0 {
		parts = append(parts, "total "+formatDuration(entry.DurationMs))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("<sub>Stats: %s</sub>", strings.Join(parts, " | "))
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only escape characters that would break formatting in titles/headings
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes values containing YAML special characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
