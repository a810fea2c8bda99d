// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jeranaias/rigrun-research/internal/apierr"
	"github.com/jeranaias/rigrun-research/internal/gateway"
	"github.com/jeranaias/rigrun-research/internal/metrics"
	"github.com/jeranaias/rigrun-research/internal/tokenstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// TEST HELPERS
// =============================================================================

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// chunkBody delivers one chunk per Read call, then an optional error.
type chunkBody struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
	closed bool
}

func chunks(parts ...string) *chunkBody {
	b := &chunkBody{}
	for _, p := range parts {
		b.chunks = append(b.chunks, []byte(p))
	}
	return b
}

func (b *chunkBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	b.chunks[0] = b.chunks[0][n:]
	if len(b.chunks[0]) == 0 {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkBody) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *chunkBody) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func respond(status int, body io.ReadCloser) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     http.Header{},
		Body:       body,
	}
}

func jsonBody(v any) io.ReadCloser {
	data, _ := json.Marshal(v)
	return io.NopCloser(strings.NewReader(string(data)))
}

// backend records calls by path and answers with the handler for that path.
type backend struct {
	mu       sync.Mutex
	calls    []string
	bodies   map[string]string
	auth     map[string]string
	handlers map[string]func() *http.Response
}

func newBackend() *backend {
	return &backend{
		bodies:   map[string]string{},
		auth:     map[string]string{},
		handlers: map[string]func() *http.Response{},
	}
}

func (b *backend) RoundTrip(r *http.Request) (*http.Response, error) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		r.Body.Close()
	}
	b.mu.Lock()
	b.calls = append(b.calls, r.URL.Path)
	b.bodies[r.URL.Path] = string(body)
	b.auth[r.URL.Path] = r.Header.Get("Authorization")
	h, ok := b.handlers[r.URL.Path]
	b.mu.Unlock()
	if !ok {
		return respond(http.StatusNotFound, http.NoBody), nil
	}
	return h(), nil
}

func (b *backend) called() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func newClient(t *testing.T, rt http.RoundTripper, opts ...gateway.Option) *Client {
	t.Helper()
	opts = append([]gateway.Option{gateway.WithHTTPClient(&http.Client{Transport: rt})}, opts...)
	gw, err := gateway.New("http://backend", tokenstore.NewMemoryStore("tok"), opts...)
	require.NoError(t, err)
	return New(gw, Endpoints{})
}

func withSources(b *backend) *backend {
	b.handlers["/api/getSources"] = func() *http.Response {
		return respond(http.StatusOK, jsonBody([]map[string]string{{"url": "https://a"}, {"url": "https://b"}}))
	}
	return b
}

func drain(t *testing.T, s *Stream) []string {
	t.Helper()
	var got []string
	for {
		text, err := s.Next()
		if errors.Is(err, io.EOF) {
			return got
		}
		require.NoError(t, err)
		got = append(got, text)
	}
}

// =============================================================================
// ANSWER
// =============================================================================

func TestAnswer_FragmentSplitAcrossChunks(t *testing.T) {
	b := withSources(newBackend())
	body := chunks(`data: {"text":"Hel`, "lo\"}\n\n")
	b.handlers["/api/getAnswer"] = func() *http.Response { return respond(http.StatusOK, body) }

	stream, err := newClient(t, b).Answer(context.Background(), "greeting?")
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{"Hello"}, drain(t, stream))
	_, isFinal := stream.Final()
	assert.False(t, isFinal)
	assert.True(t, body.isClosed(), "body closed at end of stream")
}

func TestAnswer_SendsQuestionSourcesAndToken(t *testing.T) {
	b := withSources(newBackend())
	b.handlers["/api/getAnswer"] = func() *http.Response { return respond(http.StatusOK, chunks()) }

	stream, err := newClient(t, b).Answer(context.Background(), "why?")
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	assert.Equal(t, []string{"/api/getSources", "/api/getAnswer"}, b.called())
	assert.JSONEq(t, `{"question":"why?"}`, b.bodies["/api/getSources"])
	assert.JSONEq(t, `{"question":"why?","sources":[{"url":"https://a"},{"url":"https://b"}]}`, b.bodies["/api/getAnswer"])
	assert.Equal(t, "Bearer tok", b.auth["/api/getSources"])
	assert.Equal(t, "Bearer tok", b.auth["/api/getAnswer"])
}

func TestAnswer_MalformedFrameSkipped(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	b := withSources(newBackend())
	b.handlers["/api/getAnswer"] = func() *http.Response {
		return respond(http.StatusOK, chunks("data: {not json}\n\n", `data: {"text":"ok"}`+"\n\n"))
	}

	stream, err := newClient(t, b, gateway.WithLogger(zap.New(core)), gateway.WithMetrics(m)).
		Answer(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, []string{"ok"}, drain(t, stream))
	stats := stream.Stats()
	assert.Equal(t, 1, stats.Fragments)
	assert.Equal(t, 1, stats.Malformed)
	assert.Equal(t, 1, logs.FilterMessage("skipping malformed stream event").Len())
	expected := `
# HELP research_stream_malformed_frames_total Stream events skipped because their payload was not valid JSON.
# TYPE research_stream_malformed_frames_total counter
research_stream_malformed_frames_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "research_stream_malformed_frames_total"))
}

func TestAnswer_TextFieldDefaultsToEmpty(t *testing.T) {
	b := withSources(newBackend())
	b.handlers["/api/getAnswer"] = func() *http.Response {
		return respond(http.StatusOK, chunks(
			"data: {}\n\n",
			"data: null\n\n",
			`data: {"text":"x","extra":1}`+"\n\n",
		))
	}

	stream, err := newClient(t, b).Answer(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"", "", "x"}, drain(t, stream))
}

func TestAnswer_NonStreamed(t *testing.T) {
	b := withSources(newBackend())
	b.handlers["/api/getAnswer"] = func() *http.Response {
		return respond(http.StatusAccepted, io.NopCloser(strings.NewReader("Full answer text")))
	}

	stream, err := newClient(t, b).Answer(context.Background(), "q")
	require.NoError(t, err)

	final, ok := stream.Final()
	require.True(t, ok)
	assert.Equal(t, "Full answer text", final)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF, "no fragments for a non-streamed answer")
	assert.Zero(t, stream.Stats().Fragments)

	text, err := Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "Full answer text", text)
}

func TestAnswer_NonSuccessFailsWithStatusText(t *testing.T) {
	b := withSources(newBackend())
	body := chunks(`data: {"text":"never"}` + "\n\n")
	b.handlers["/api/getAnswer"] = func() *http.Response {
		resp := respond(http.StatusServiceUnavailable, body)
		resp.Status = "503 Upstream Busy"
		return resp
	}

	stream, err := newClient(t, b).Answer(context.Background(), "q")
	require.Nil(t, stream)
	require.ErrorIs(t, err, apierr.ErrStatus)

	var statusErr *apierr.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "Upstream Busy", statusErr.StatusText)
	assert.True(t, body.isClosed())
}

func TestAnswer_Unauthorized(t *testing.T) {
	b := newBackend()
	b.handlers["/api/getSources"] = func() *http.Response {
		return respond(http.StatusUnauthorized, jsonBody(map[string]string{"detail": "Not authenticated"}))
	}

	_, err := newClient(t, b).Answer(context.Background(), "q")
	require.ErrorIs(t, err, apierr.ErrAuth)
	assert.Equal(t, []string{"/api/getSources"}, b.called(), "answer never requested after failed lookup")
}

func TestAnswer_SourcesNotAList(t *testing.T) {
	b := newBackend()
	b.handlers["/api/getSources"] = func() *http.Response {
		return respond(http.StatusOK, jsonBody(map[string]string{"unexpected": "shape"}))
	}

	_, err := newClient(t, b).Answer(context.Background(), "q")
	assert.ErrorIs(t, err, apierr.ErrProtocol)
}

func TestAnswer_TransportFailure(t *testing.T) {
	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	_, err := newClient(t, rt).Answer(context.Background(), "q")
	assert.ErrorIs(t, err, apierr.ErrTransport)
}

// =============================================================================
// MULTI-STEP
// =============================================================================

func TestMultiStep_SkipsSourcesAndStreams202(t *testing.T) {
	b := newBackend()
	b.handlers["/api/generateLanggraph"] = func() *http.Response {
		return respond(http.StatusAccepted, chunks("data: {\"text\":\"step \"}\n\ndata: {\"text\":\"done\"}\n\n"))
	}

	stream, err := newClient(t, b).MultiStep(context.Background(), "plan it")
	require.NoError(t, err)

	_, isFinal := stream.Final()
	assert.False(t, isFinal, "multi-step never takes the non-streamed path")

	text, err := Collect(stream)
	require.NoError(t, err)
	assert.Equal(t, "step done", text)
	assert.Equal(t, []string{"/api/generateLanggraph"}, b.called())
	assert.JSONEq(t, `{"question":"plan it"}`, b.bodies["/api/generateLanggraph"])
}

func TestMultiStep_NonSuccess(t *testing.T) {
	b := newBackend()
	b.handlers["/api/generateLanggraph"] = func() *http.Response {
		return respond(http.StatusInternalServerError, http.NoBody)
	}

	_, err := newClient(t, b).MultiStep(context.Background(), "q")
	require.ErrorIs(t, err, apierr.ErrStatus)
	assert.Contains(t, err.Error(), "Internal Server Error")
}

// =============================================================================
// SIMILAR QUESTIONS
// =============================================================================

func TestSimilarQuestions(t *testing.T) {
	b := newBackend()
	b.handlers["/api/getSimilarQuestions"] = func() *http.Response {
		return respond(http.StatusOK, jsonBody([]string{"What is SSE?", "How do tokens expire?"}))
	}

	got, err := newClient(t, b).SimilarQuestions(context.Background(), "tokens")
	require.NoError(t, err)
	assert.Equal(t, []string{"What is SSE?", "How do tokens expire?"}, got)
	assert.JSONEq(t, `{"question":"tokens"}`, b.bodies["/api/getSimilarQuestions"])
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestEmptyQuestion_NoNetworkCall(t *testing.T) {
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Errorf("unexpected request to %s", r.URL.Path)
		return nil, errors.New("unexpected")
	})
	c := newClient(t, rt)
	ctx := context.Background()

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := c.Sources(ctx, q)
		assert.ErrorIs(t, err, apierr.ErrValidation)
		_, err = c.Answer(ctx, q)
		assert.ErrorIs(t, err, apierr.ErrValidation)
		_, err = c.AnswerWithSources(ctx, q, nil)
		assert.ErrorIs(t, err, apierr.ErrValidation)
		_, err = c.MultiStep(ctx, q)
		assert.ErrorIs(t, err, apierr.ErrValidation)
		_, err = c.SimilarQuestions(ctx, q)
		assert.ErrorIs(t, err, apierr.ErrValidation)
	}
}

// =============================================================================
// STREAM
// =============================================================================

func TestNewStream_MultiByteSplitAcrossChunks(t *testing.T) {
	raw := []byte(`data: {"text":"日本語"}` + "\n\n")
	// Split inside the second character
	split := strings.Index(string(raw), "本") + 1
	body := &chunkBody{chunks: [][]byte{raw[:split], raw[split:]}}

	s := NewStream(body, nil, nil)
	assert.Equal(t, []string{"日本語"}, drain(t, s))
}

func TestNewStream_ManyFragments(t *testing.T) {
	var parts []string
	var want strings.Builder
	for i := 0; i < 50; i++ {
		text := fmt.Sprintf("word%d ", i)
		want.WriteString(text)
		parts = append(parts, fmt.Sprintf(`data: {"text":%q}`+"\n\n", text))
	}
	// Re-chunk at an awkward size
	joined := strings.Join(parts, "")
	var rechunked []string
	for len(joined) > 0 {
		n := min(7, len(joined))
		rechunked = append(rechunked, joined[:n])
		joined = joined[n:]
	}

	s := NewStream(chunks(rechunked...), nil, nil)
	text, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, want.String(), text)
	assert.Equal(t, 50, s.Stats().Fragments)
}

func TestStream_TransportErrorMidStream(t *testing.T) {
	body := chunks(`data: {"text":"partial "}` + "\n\n")
	body.err = errors.New("connection reset by peer")

	text, err := Collect(NewStream(body, nil, nil))
	assert.Empty(t, text)
	require.ErrorIs(t, err, apierr.ErrTransport)

	var streamErr *StreamError
	require.True(t, errors.As(err, &streamErr))
	assert.Equal(t, "partial ", streamErr.Partial)
}

func TestStream_CloseUnblocksNext(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewStream(pr, nil, nil)

	go func() {
		_, _ = pw.Write([]byte(`data: {"text":"first"}` + "\n\n"))
	}()
	text, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "first", text)

	result := make(chan error, 1)
	go func() {
		_, err := s.Next()
		result <- err
	}()

	require.NoError(t, s.Close())
	assert.ErrorIs(t, <-result, ErrClosed)

	_, err = s.Next()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStream_EOFIsSticky(t *testing.T) {
	s := NewStream(chunks(), nil, nil)
	_, err := s.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, s.Close())
}

func TestEach(t *testing.T) {
	var got []string
	err := Each(NewStream(chunks("data: {\"text\":\"a\"}\n\ndata: {\"text\":\"b\"}\n\n"), nil, nil), func(f string) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	stop := errors.New("stop")
	err = Each(newFinalStream("whole"), func(f string) error {
		assert.Equal(t, "whole", f)
		return stop
	})
	assert.ErrorIs(t, err, stop)
}
