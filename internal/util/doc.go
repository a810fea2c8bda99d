// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the research client packages.
//
// # Key Functions
//
//   - AtomicWriteFile, AtomicWriteFileWithDir: crash-safe file writes with fsync
//   - TruncateRunes: UTF-8 safe truncation with ellipsis for previews
//   - FirstLine: the first non-empty line of a block of text
package util
