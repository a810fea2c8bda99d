// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/jeranaias/rigrun-research/internal/storage"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports entries to a standalone HTML page with embedded CSS.
type HTMLExporter struct {
	options  *Options
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{
		options:  opts,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		// SECURITY: Answers are server-generated text; strip scripts and
		// event handlers before embedding them in a page.
		policy: bluemonday.UGCPolicy(),
	}
}

// Export converts an entry to HTML.
func (e *HTMLExporter) Export(entry *storage.Entry) ([]byte, error) {
	if err := validate(entry); err != nil {
		return nil, err
	}

	body, err := e.renderAnswer(entry.Answer)
	if err != nil {
		return nil, err
	}

	theme := e.options.Theme
	if theme != "light" {
		theme = "dark"
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", html.EscapeString(entry.Question))
	sb.WriteString("    <meta name=\"generator\" content=\"research\">\n")
	fmt.Fprintf(&sb, "    <meta name=\"date\" content=\"%s\">\n", entry.CreatedAt.Format(time.RFC3339))
	sb.WriteString(css)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n", theme)
	sb.WriteString("    <div class=\"container\">\n")

	sb.WriteString("        <header class=\"header\">\n")
	fmt.Fprintf(&sb, "            <h1>%s</h1>\n", html.EscapeString(entry.Question))
	if e.options.IncludeMetadata {
		sb.WriteString(e.renderMetadata(entry))
	}
	sb.WriteString("        </header>\n")

	sb.WriteString("        <main class=\"answer\">\n")
	sb.WriteString(body)
	sb.WriteString("        </main>\n")

	sb.WriteString(e.renderSources(entry))
	sb.WriteString(e.renderSimilar(entry))

	sb.WriteString("        <footer class=\"footer\">\n")
	fmt.Fprintf(&sb, "            <p>Exported on %s</p>\n", time.Now().Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("        </footer>\n")
	sb.WriteString("    </div>\n")
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

// renderAnswer converts the answer Markdown to sanitized HTML.
func (e *HTMLExporter) renderAnswer(answer string) (string, error) {
	var buf bytes.Buffer
	if err := e.markdown.Convert([]byte(answer), &buf); err != nil {
		return "", fmt.Errorf("render answer: %w", err)
	}
	return string(e.policy.SanitizeBytes(buf.Bytes())), nil
}

func (e *HTMLExporter) renderMetadata(entry *storage.Entry) string {
	var sb strings.Builder
	sb.WriteString("            <div class=\"metadata\">\n")
	fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Mode:</strong> %s</span>\n", html.EscapeString(entry.Mode))
	fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Asked:</strong> %s</span>\n", formatTimestamp(entry.CreatedAt))
	if entry.Username != "" {
		fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>User:</strong> %s</span>\n", html.EscapeString(entry.Username))
	}
	if entry.DurationMs > 0 {
		fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Duration:</strong> %s</span>\n", formatDuration(entry.DurationMs))
	}
	sb.WriteString("            </div>\n")
	return sb.String()
}

func (e *HTMLExporter) renderSources(entry *storage.Entry) string {
	srcs := sources(entry)
	if len(srcs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("        <section class=\"sources\">\n")
	sb.WriteString("            <h2>Sources</h2>\n")
	sb.WriteString("            <ol>\n")
	for _, s := range srcs {
		title := s.Title
		if title == "" {
			title = s.URL
		}
		if s.URL != "" && isWebURL(s.URL) {
			fmt.Fprintf(&sb, "                <li><a href=\"%s\" rel=\"noopener noreferrer\">%s</a></li>\n",
				html.EscapeString(s.URL), html.EscapeString(title))
		} else {
			fmt.Fprintf(&sb, "                <li>%s</li>\n", html.EscapeString(title))
		}
	}
	sb.WriteString("            </ol>\n")
	sb.WriteString("        </section>\n")
	return sb.String()
}

func (e *HTMLExporter) renderSimilar(entry *storage.Entry) string {
	if len(entry.Similar) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("        <section class=\"similar\">\n")
	sb.WriteString("            <h2>Related questions</h2>\n")
	sb.WriteString("            <ul>\n")
	for _, q := range entry.Similar {
		fmt.Fprintf(&sb, "                <li>%s</li>\n", html.EscapeString(q))
	}
	sb.WriteString("            </ul>\n")
	sb.WriteString("        </section>\n")
	return sb.String()
}

// isWebURL reports whether u is safe to use as a link target.
// SECURITY: Rejects javascript: and data: URLs from untrusted source records.
func isWebURL(u string) bool {
	lower := strings.ToLower(strings.TrimSpace(u))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// =============================================================================
// STYLES
// =============================================================================

const css = `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        :root {
            --font-sans: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
            --font-mono: "SF Mono", "Monaco", "Inconsolata", "Fira Code", "Source Code Pro", monospace;
        }

        .dark-theme {
            --bg-primary: #1a1b26;
            --bg-secondary: #24283b;
            --text-primary: #c0caf5;
            --text-secondary: #9aa5ce;
            --accent: #7aa2f7;
            --border: #414868;
        }

        .light-theme {
            --bg-primary: #ffffff;
            --bg-secondary: #f5f5f5;
            --text-primary: #1a1b26;
            --text-secondary: #565f89;
            --accent: #2e5cb8;
            --border: #d0d0d0;
        }

        body {
            font-family: var(--font-sans);
            background: var(--bg-primary);
            color: var(--text-primary);
            line-height: 1.6;
        }

        .container { max-width: 860px; margin: 0 auto; padding: 2rem 1rem; }
        .header { border-bottom: 1px solid var(--border); padding-bottom: 1rem; margin-bottom: 1.5rem; }
        .header h1 { font-size: 1.6rem; margin-bottom: 0.5rem; }
        .metadata { display: flex; flex-wrap: wrap; gap: 1rem; color: var(--text-secondary); font-size: 0.9rem; }
        .answer p, .answer ul, .answer ol, .answer pre { margin-bottom: 1rem; }
        .answer ul, .answer ol, section ul, section ol { padding-left: 1.5rem; }
        .answer pre { background: var(--bg-secondary); padding: 1rem; border-radius: 6px; overflow-x: auto; }
        code { font-family: var(--font-mono); font-size: 0.9em; }
        a { color: var(--accent); }
        section { margin-top: 1.5rem; padding-top: 1rem; border-top: 1px solid var(--border); }
        section h2 { font-size: 1.1rem; margin-bottom: 0.5rem; }
        .footer { margin-top: 2rem; color: var(--text-secondary); font-size: 0.8rem; text-align: center; }
    </style>
`
