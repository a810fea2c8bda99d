// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package research

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-research/internal/apierr"
	"github.com/jeranaias/rigrun-research/internal/metrics"
	"github.com/jeranaias/rigrun-research/internal/sse"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("stream closed")

// StreamStats holds statistics collected while a stream is consumed.
type StreamStats struct {
	FirstFragment time.Duration // Time until the first fragment
	TotalTime     time.Duration // Set once the stream has ended
	Fragments     int
	Malformed     int // Events skipped because their payload was not valid JSON
}

// StreamError preserves the text received before a stream failed.
type StreamError struct {
	Partial string // Content received before error
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// fragment is the JSON payload of one event.
type fragment struct {
	Text *string `json:"text"`
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is a lazy, finite, non-restartable sequence of answer fragments.
// Next and Close may be called from different goroutines; Next itself is not
// safe for concurrent use.
type Stream struct {
	body    io.ReadCloser
	events  *sse.Reader
	logger  *zap.Logger
	metrics *metrics.Metrics

	final    string
	hasFinal bool

	start    time.Time
	mu       sync.Mutex
	stats    StreamStats
	closed   bool
	endOnce  sync.Once
	closeErr error
}

// NewStream consumes body as an event stream. The Stream owns body.
func NewStream(body io.ReadCloser, logger *zap.Logger, m *metrics.Metrics) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	m.StreamOpened()
	return &Stream{
		body:    body,
		events:  sse.NewReader(body),
		logger:  logger,
		metrics: m,
		start:   time.Now(),
	}
}

// newFinalStream holds a complete non-streamed answer and no fragments.
func newFinalStream(text string) *Stream {
	s := &Stream{final: text, hasFinal: true, logger: zap.NewNop()}
	s.endOnce.Do(func() {})
	return s
}

// Final returns the non-streamed answer when the server sent one.
// A Stream with a final answer never yields fragments.
func (s *Stream) Final() (string, bool) {
	return s.final, s.hasFinal
}

// Next returns the next fragment, io.EOF once the stream has ended normally,
// ErrClosed after Close, or an *apierr.TransportError if the connection
// failed. Fragments may be empty strings.
func (s *Stream) Next() (string, error) {
	if s.hasFinal {
		return "", io.EOF
	}

	for {
		if s.isClosed() {
			return "", ErrClosed
		}

		ev, err := s.events.Next()
		if err != nil {
			if s.isClosed() {
				return "", ErrClosed
			}
			if errors.Is(err, io.EOF) {
				if s.events.Truncated() {
					s.logger.Debug("stream ended inside an event; discarding partial event")
				}
				s.end()
				return "", io.EOF
			}
			s.end()
			return "", &apierr.TransportError{Op: "read answer stream", Err: err}
		}

		var frame fragment
		if err := json.Unmarshal([]byte(ev.Data), &frame); err != nil {
			s.logger.Warn("skipping malformed stream event", zap.Int("bytes", len(ev.Data)), zap.Error(err))
			s.metrics.MalformedFrame()
			s.mu.Lock()
			s.stats.Malformed++
			s.mu.Unlock()
			continue
		}

		text := ""
		if frame.Text != nil {
			text = *frame.Text
		}
		s.metrics.Fragment()
		s.mu.Lock()
		if s.stats.Fragments == 0 {
			s.stats.FirstFragment = time.Since(s.start)
		}
		s.stats.Fragments++
		s.mu.Unlock()
		return text, nil
	}
}

// Stats returns a snapshot of the stream's statistics.
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close releases the underlying connection. Close is the cancellation
// primitive: a Next blocked in another goroutine returns ErrClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.end()
	return s.closeErr
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) end() {
	s.endOnce.Do(func() {
		s.closeErr = s.body.Close()
		s.metrics.StreamClosed()
		s.mu.Lock()
		s.stats.TotalTime = time.Since(s.start)
		stats := s.stats
		s.mu.Unlock()
		s.logger.Debug("stream finished",
			zap.Int("fragments", stats.Fragments),
			zap.Int("malformed", stats.Malformed),
			zap.Duration("first_fragment", stats.FirstFragment),
			zap.Duration("total", stats.TotalTime),
		)
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// Collect drains s and returns the full answer: the final text for a
// non-streamed response, otherwise the concatenated fragments. A failure
// mid-stream returns a *StreamError carrying what was received.
func Collect(s *Stream) (string, error) {
	defer s.Close()

	if text, ok := s.Final(); ok {
		return text, nil
	}

	var sb strings.Builder
	for {
		text, err := s.Next()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return "", &StreamError{Partial: sb.String(), Err: err}
		}
		sb.WriteString(text)
	}
}

// Each calls fn with every fragment until the stream ends. For a
// non-streamed answer fn is called once with the final text.
func Each(s *Stream, fn func(fragment string) error) error {
	if text, ok := s.Final(); ok {
		return fn(text)
	}
	for {
		text, err := s.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(text); err != nil {
			return err
		}
	}
}
