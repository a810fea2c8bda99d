// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/jeranaias/rigrun-research/internal/storage"
)

// JSONExporter exports entries as indented JSON.
// NOTE: JSON exports always include the complete entry so they can be
// re-imported; options do not filter fields.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts an entry to JSON.
func (e *JSONExporter) Export(entry *storage.Entry) ([]byte, error) {
	if err := validate(entry); err != nil {
		return nil, err
	}
	return json.MarshalIndent(entry, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
