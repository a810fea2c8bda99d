// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"errors"
	"io"
	"time"
)

const readChunkSize = 4096

// Reader pulls events from a byte stream one at a time.
type Reader struct {
	r       io.Reader
	buf     []byte
	decoder *Decoder
	parser  Parser
	queue   []Event
	done    bool
	err     error
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:       r,
		buf:     make([]byte, readChunkSize),
		decoder: NewDecoder(),
	}
}

// Next returns the next event. It returns io.EOF once r is exhausted and any
// other read error as is. Events completed before an error are returned first.
func (r *Reader) Next() (Event, error) {
	for {
		if len(r.queue) > 0 {
			ev := r.queue[0]
			r.queue = r.queue[1:]
			return ev, nil
		}
		if r.done {
			return Event{}, r.err
		}

		n, err := r.r.Read(r.buf)
		if n > 0 {
			r.queue = append(r.queue, r.parser.Feed(r.decoder.Write(r.buf[:n]))...)
		}
		if err != nil {
			r.done = true
			r.err = err
			if errors.Is(err, io.EOF) {
				r.err = io.EOF
				r.queue = append(r.queue, r.parser.Feed(r.decoder.Flush())...)
			}
		}
	}
}

// Truncated reports whether the stream ended in the middle of an event.
// Only meaningful after Next has returned io.EOF.
func (r *Reader) Truncated() bool {
	return r.parser.Pending() || r.decoder.Pending() > 0
}

// Retry returns the last retry delay announced on the stream.
func (r *Reader) Retry() time.Duration {
	return r.parser.Retry()
}
