// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage keeps a local history of asked questions and their answers.
//
// Entries live in a single SQLite table (id, data, created_at, updated_at)
// where data is the JSON-encoded Entry and timestamps are Unix milliseconds.
// Listing is newest-updated first.
//
// # Usage
//
//	store, err := storage.OpenHistory(path)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	id, err := store.Save(ctx, &storage.Entry{Question: q, Answer: a, Mode: storage.ModeAnswer})
package storage
