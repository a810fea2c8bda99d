// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse turns a chunked byte stream into server-sent events.
//
// The pipeline has three stages, each usable on its own:
//
//   - Decoder: bytes to text, holding back multi-byte characters split
//     across chunk boundaries
//   - Parser: text to events, buffering partial lines and partial events
//   - Reader: pull-based Next over an io.Reader using both
//
// Framing follows the event-stream format: records separated by blank lines,
// "data:" lines joined with "\n", "event:", "id:" and "retry:" fields, ":"
// comments, and CR, LF or CRLF line endings.
package sse
