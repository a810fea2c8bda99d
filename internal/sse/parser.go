// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"strconv"
	"strings"
	"time"
)

// DefaultEventType is the type of events that carry no "event:" field.
const DefaultEventType = "message"

// Event is one dispatched record.
type Event struct {
	Type string
	Data string
	// ID is the last event ID seen on the stream, which persists across events.
	ID string
}

// Parser frames decoded text into events. Text may be fed in arbitrary
// pieces; a line or event split across pieces is buffered until complete.
type Parser struct {
	line      strings.Builder
	sawCR     bool
	data      strings.Builder
	hasData   bool
	eventType string
	lastID    string
	retry     time.Duration
}

// Feed consumes text and returns the events completed by it, in order.
func (p *Parser) Feed(text string) []Event {
	var events []Event
	for len(text) > 0 {
		// CRLF split across two feeds
		if p.sawCR {
			p.sawCR = false
			if text[0] == '\n' {
				text = text[1:]
				continue
			}
		}

		i := strings.IndexAny(text, "\r\n")
		if i < 0 {
			p.line.WriteString(text)
			break
		}
		p.line.WriteString(text[:i])
		if text[i] == '\r' {
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
			} else if i+1 == len(text) {
				p.sawCR = true
			}
		}
		text = text[i+1:]

		line := p.line.String()
		p.line.Reset()
		if ev, ok := p.processLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Pending reports whether an unterminated line or event is buffered.
// Anything pending when the stream ends is discarded.
func (p *Parser) Pending() bool {
	return p.line.Len() > 0 || p.hasData
}

// Retry returns the reconnection delay last announced by the server, or 0.
func (p *Parser) Retry() time.Duration {
	return p.retry
}

// Reset returns the parser to its initial state.
func (p *Parser) Reset() {
	*p = Parser{}
}

func (p *Parser) processLine(line string) (Event, bool) {
	if line == "" {
		return p.dispatch()
	}
	if line[0] == ':' {
		return Event{}, false
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "data":
		if p.hasData {
			p.data.WriteByte('\n')
		}
		p.data.WriteString(value)
		p.hasData = true
	case "event":
		p.eventType = value
	case "id":
		if !strings.ContainsRune(value, 0) {
			p.lastID = value
		}
	case "retry":
		if ms, err := strconv.ParseUint(value, 10, 32); err == nil {
			p.retry = time.Duration(ms) * time.Millisecond
		}
	}
	return Event{}, false
}

func (p *Parser) dispatch() (Event, bool) {
	eventType := p.eventType
	p.eventType = ""
	if !p.hasData {
		return Event{}, false
	}

	ev := Event{Type: eventType, Data: p.data.String(), ID: p.lastID}
	if ev.Type == "" {
		ev.Type = DefaultEventType
	}
	p.data.Reset()
	p.hasData = false
	return ev, true
}
