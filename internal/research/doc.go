// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package research consumes the answer endpoints of the research backend.
//
// An answer is produced in two phases: a source lookup that returns a
// SourceSet, then an answer request carrying the question and those sources.
// The answer arrives either as a single non-streamed body (HTTP 202) or as an
// event stream whose "data:" payloads are JSON objects with a "text" field.
// Both shapes are exposed through Stream, a pull-based sequence of fragments.
//
// The multi-step endpoint performs retrieval on the server, so it skips the
// source lookup and never takes the non-streamed shortcut.
//
// Usage:
//
//	stream, err := client.Answer(ctx, "What is a bearer token?")
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    fragment, err := stream.Next()
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(fragment)
//	}
package research
