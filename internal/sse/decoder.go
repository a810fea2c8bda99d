// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const decodeBufferSize = 4096

// Decoder converts UTF-8 chunks to text without corrupting characters that
// straddle chunk boundaries. Invalid sequences become U+FFFD and a leading
// byte order mark is dropped.
type Decoder struct {
	t       transform.Transformer
	pending []byte
	dst     []byte
}

// NewDecoder returns a Decoder at the start of a stream.
func NewDecoder() *Decoder {
	return &Decoder{
		t:   unicode.UTF8BOM.NewDecoder(),
		dst: make([]byte, decodeBufferSize),
	}
}

// Write decodes chunk and returns all text that is complete so far.
// Trailing bytes of an incomplete character are kept for the next call.
func (d *Decoder) Write(chunk []byte) string {
	return d.decode(chunk, false)
}

// Flush decodes whatever is still held back, at end of stream.
// A truncated trailing character becomes U+FFFD.
func (d *Decoder) Flush() string {
	out := d.decode(nil, true)
	d.t.Reset()
	return out
}

// Pending reports how many bytes are held back waiting for more input.
func (d *Decoder) Pending() int {
	return len(d.pending)
}

func (d *Decoder) decode(chunk []byte, atEOF bool) string {
	src := chunk
	if len(d.pending) > 0 {
		src = append(d.pending, chunk...)
		d.pending = nil
	}

	var out strings.Builder
	for {
		nDst, nSrc, err := d.t.Transform(d.dst, src, atEOF)
		out.Write(d.dst[:nDst])
		src = src[nSrc:]

		switch err {
		case nil:
			return out.String()
		case transform.ErrShortDst:
			continue
		case transform.ErrShortSrc:
			d.pending = append([]byte(nil), src...)
			return out.String()
		default:
			// Decoders replace bad input rather than fail; skip a byte if one ever does
			if len(src) == 0 {
				return out.String()
			}
			out.WriteRune(utf8.RuneError)
			src = src[1:]
		}
	}
}
