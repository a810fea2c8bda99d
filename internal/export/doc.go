// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes saved answers to Markdown, JSON or standalone HTML.
//
// # Usage
//
//	exporter, err := export.ForFormat("html", export.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	path, err := export.ExportToFile(entry, exporter, opts)
package export
