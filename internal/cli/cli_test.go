// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-research/internal/apierr"
	"github.com/jeranaias/rigrun-research/internal/config"
	"github.com/jeranaias/rigrun-research/internal/storage"
)

// =============================================================================
// FAKE BACKEND
// =============================================================================

type fakeServer struct {
	*httptest.Server

	mu          sync.Mutex
	authEnabled bool
	calls       []string
	auth        map[string]string // path -> Authorization header
	wsToken     string
	logouts     int
}

func newFakeServer(t *testing.T, authEnabled bool) *fakeServer {
	t.Helper()
	f := &fakeServer{authEnabled: authEnabled, auth: map[string]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		enabled := f.authEnabled
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]bool{"auth_enabled": enabled})
	})
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Username, Password string }
		json.NewDecoder(r.Body).Decode(&body)
		if body.Username != "alice" || body.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid username or password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": "tok-alice", "username": "alice"})
	})
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-alice" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid or expired token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"username": "alice"})
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logouts++
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{})
	})
	mux.HandleFunc("POST /api/getSources", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]string{{"url": "https://example.com/tides"}})
	})
	mux.HandleFunc("POST /api/getAnswer", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"text\":\"Hello \"}\n\ndata: not json\n\ndata: {\"text\":\"world\"}\n\n")
	})
	mux.HandleFunc("POST /api/generateLanggraph", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"text\":\"deep answer\"}\n\n")
	})
	mux.HandleFunc("POST /api/getSimilarQuestions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []string{"Why are there two tides a day?", "What is a neap tide?"})
	})
	mux.HandleFunc("/api/reports/{id}/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			writeJSON(w, http.StatusOK, map[string]string{"reply": "re: " + body["message"]})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"report": r.PathValue("id"), "messages": []string{}})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.wsToken = r.URL.Query().Get("token")
		f.mu.Unlock()
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("first"))
		conn.WriteMessage(websocket.TextMessage, []byte("second"))
		conn.ReadMessage()
	})

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.auth[r.URL.Path] = r.Header.Get("Authorization")
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServer) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeServer) authFor(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auth[path]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// =============================================================================
// HELPERS
// =============================================================================

// testEnv isolates the config directory and points the client at srv.
func testEnv(t *testing.T, srv *fakeServer) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("RESEARCH_HOME", home)
	t.Setenv("RESEARCH_SERVER_URL", srv.URL)
	t.Setenv("RESEARCH_TOKEN_FILE", "")
	t.Setenv("RESEARCH_TIMEOUT", "")
	t.Setenv("RESEARCH_METRICS_ADDR", "")
	t.Setenv("RESEARCH_LOG_LEVEL", "error")
	return home
}

type result struct {
	stdout string
	stderr string
	code   int
}

func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return result{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

// =============================================================================
// AUTH COMMANDS
// =============================================================================

func TestStatus_AuthDisabled(t *testing.T) {
	srv := newFakeServer(t, false)
	testEnv(t, srv)

	res := run(t, "", "status")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, srv.URL)
	assert.Contains(t, res.stdout, "disabled")
	assert.Contains(t, res.stdout, "anonymous")
}

func TestStatus_UnreachableServerFailsOpen(t *testing.T) {
	srv := newFakeServer(t, true)
	testEnv(t, srv)
	srv.Close()

	res := run(t, "", "status")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "disabled")
}

func TestGuard_BlocksProtectedCommandWithoutLogin(t *testing.T) {
	srv := newFakeServer(t, true)
	testEnv(t, srv)

	res := run(t, "", "ask", "What", "is", "SSE?")
	assert.Equal(t, ExitAuthError, res.code)
	assert.Contains(t, res.stderr, "research login")
	assert.False(t, srv.called("POST /api/getSources"))
}

func TestLoginAskHistoryLogout(t *testing.T) {
	srv := newFakeServer(t, true)
	home := testEnv(t, srv)

	res := run(t, "secret\n", "login", "alice", "--password-stdin")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Logged in as alice")

	data, err := os.ReadFile(filepath.Join(home, "token"))
	require.NoError(t, err)
	assert.Equal(t, "tok-alice", strings.TrimSpace(string(data)))

	res = run(t, "", "whoami")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "alice\n", res.stdout)

	res = run(t, "", "ask", "How do tides work?")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "Hello world\n", res.stdout)
	assert.Contains(t, res.stderr, "Found 1 sources")
	assert.Equal(t, "Bearer tok-alice", srv.authFor("/api/getAnswer"))

	res = run(t, "", "history")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "How do tides work?")

	res = run(t, "", "history", "show", "0")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "# How do tides work?")
	assert.Contains(t, res.stdout, "Hello world")

	res = run(t, "", "logout")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Logged out")
	_, err = os.Stat(filepath.Join(home, "token"))
	assert.True(t, os.IsNotExist(err))

	res = run(t, "", "whoami")
	assert.Equal(t, ExitAuthError, res.code)
}

func TestLogin_WrongPassword(t *testing.T) {
	srv := newFakeServer(t, true)
	home := testEnv(t, srv)

	res := run(t, "nope\n", "login", "alice", "--password-stdin")
	assert.Equal(t, ExitAuthError, res.code)
	assert.Contains(t, res.stderr, "Invalid username or password")
	_, err := os.Stat(filepath.Join(home, "token"))
	assert.True(t, os.IsNotExist(err))
}

func TestLogin_AuthDisabled(t *testing.T) {
	srv := newFakeServer(t, false)
	testEnv(t, srv)

	res := run(t, "secret\n", "login", "alice", "--password-stdin")
	assert.Equal(t, ExitAuthError, res.code)
	assert.Contains(t, res.stderr, "disabled")
	assert.False(t, srv.called("POST /api/auth/login"))
}

func TestExpiredTokenIsCleared(t *testing.T) {
	srv := newFakeServer(t, true)
	home := testEnv(t, srv)
	require.NoError(t, os.WriteFile(filepath.Join(home, "token"), []byte("stale"), 0600))

	res := run(t, "", "ask", "anything")
	assert.Equal(t, ExitAuthError, res.code)
	_, err := os.Stat(filepath.Join(home, "token"))
	assert.True(t, os.IsNotExist(err))
}

// =============================================================================
// RESEARCH COMMANDS
// =============================================================================

func TestDeep_SkipsSources(t *testing.T) {
	srv := newFakeServer(t, false)
	testEnv(t, srv)

	res := run(t, "", "deep", "--no-save", "Explain tides")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "deep answer\n", res.stdout)
	assert.False(t, srv.called("POST /api/getSources"))
}

func TestAsk_WithSimilar(t *testing.T) {
	srv := newFakeServer(t, false)
	testEnv(t, srv)

	res := run(t, "", "ask", "--similar", "--no-save", "How do tides work?")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Hello world")
	assert.Contains(t, res.stdout, "What is a neap tide?")

	res = run(t, "", "history")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "No history entries found.")
}

func TestSimilar(t *testing.T) {
	srv := newFakeServer(t, false)
	testEnv(t, srv)

	res := run(t, "", "similar", "tides")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "Why are there two tides a day?\nWhat is a neap tide?\n", res.stdout)
}

func TestHistoryExport(t *testing.T) {
	srv := newFakeServer(t, false)
	testEnv(t, srv)

	res := run(t, "", "ask", "How do tides work?")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	dir := t.TempDir()
	res = run(t, "", "history", "export", "#0", "--format", "html", "--out", dir)
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Exported to ")

	matches, err := filepath.Glob(filepath.Join(dir, "answer_How_do_tides_work-_*.html"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	page, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(page), "<title>How do tides work?</title>")
	assert.Contains(t, string(page), "Hello world")

	res = run(t, "", "history", "export", "0", "-f", "json", "-o", "-")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"question": "How do tides work?"`)

	res = run(t, "", "history", "export", "0", "--format", "pdf")
	assert.Equal(t, ExitUsageError, res.code)
}

func TestReportChat(t *testing.T) {
	srv := newFakeServer(t, false)
	testEnv(t, srv)

	res := run(t, "", "report", "chat", "r1")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"report": "r1"`)

	res = run(t, "", "report", "chat", "r1", "summarise", "please")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"reply": "re: summarise please"`)
}

func TestTail(t *testing.T) {
	srv := newFakeServer(t, true)
	home := testEnv(t, srv)
	require.NoError(t, os.WriteFile(filepath.Join(home, "token"), []byte("tok-alice"), 0600))

	res := run(t, "", "tail", "/ws", "--count", "2")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "first\nsecond\n", res.stdout)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "tok-alice", srv.wsToken)
}

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

func TestConfig_NeedsNoServer(t *testing.T) {
	srv := newFakeServer(t, true)
	home := testEnv(t, srv)
	srv.Close()
	t.Setenv("RESEARCH_SERVER_URL", "")

	res := run(t, "", "config", "get", "server.url")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, config.DefaultServerURL+"\n", res.stdout)

	res = run(t, "", "config", "set", "server.url", "https://research.example.com")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	_, err := os.Stat(filepath.Join(home, "config.toml"))
	require.NoError(t, err)

	res = run(t, "", "config", "get", "server.url")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "https://research.example.com\n", res.stdout)

	res = run(t, "", "config", "set", "logging.level", "loud")
	assert.Equal(t, ExitConfigError, res.code)

	res = run(t, "", "config", "get", "nope")
	assert.Equal(t, ExitUsageError, res.code)
}

func TestInvalidServerFlag(t *testing.T) {
	srv := newFakeServer(t, false)
	testEnv(t, srv)

	res := run(t, "", "--server", "ftp://example.com", "status")
	assert.Equal(t, ExitConfigError, res.code)
	assert.Contains(t, res.stderr, "server.url")
}

// =============================================================================
// CHAT SESSION
// =============================================================================

type scriptedInput struct {
	lines []string
}

func (s *scriptedInput) ReadInput(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func newChatApp(t *testing.T, srv *fakeServer) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Server.URL = srv.URL
	cfg.History.Enabled = false
	a := &App{cfg: cfg, logger: zap.NewNop()}
	require.NoError(t, a.connect())
	a.session.Init(context.Background())
	return a
}

func TestChatSession(t *testing.T) {
	srv := newFakeServer(t, false)
	a := newChatApp(t, srv)

	var w, ew bytes.Buffer
	s := &chatSession{app: a, w: &w, ew: &ew}
	err := s.run(context.Background(), &scriptedInput{lines: []string{
		"", "How do tides work?", "/deep Explain tides", "/similar", "/bogus", "/history", "/whoami", "/quit", "never asked",
	}})
	require.NoError(t, err)

	out := w.String()
	assert.Contains(t, out, "Hello world")
	assert.Contains(t, out, "deep answer")
	assert.Contains(t, out, "Related questions on")
	assert.Contains(t, out, "History is disabled.")
	assert.Contains(t, out, "anonymous")
	assert.Contains(t, out, "2 questions asked")
	assert.Contains(t, ew.String(), "unknown command /bogus")
	assert.Equal(t, 2, s.asks)
}

func TestChatSession_EOFEnds(t *testing.T) {
	srv := newFakeServer(t, false)
	a := newChatApp(t, srv)

	var w bytes.Buffer
	s := &chatSession{app: a, w: &w, ew: io.Discard}
	require.NoError(t, s.run(context.Background(), &scriptedInput{}))
	assert.Zero(t, s.asks)
}

func TestChatSession_ResyncAfterTokenChange(t *testing.T) {
	srv := newFakeServer(t, false)
	a := newChatApp(t, srv)

	var w bytes.Buffer
	s := &chatSession{app: a, w: &w, ew: io.Discard}
	s.tokenChanged.Store(true)
	require.NoError(t, s.run(context.Background(), &scriptedInput{lines: []string{"/whoami", "/quit"}}))
	assert.Contains(t, w.String(), "Session refreshed (anonymous)")
	assert.False(t, s.tokenChanged.Load())
}

func TestChatSession_EndsWhenLoggedOutElsewhere(t *testing.T) {
	srv := newFakeServer(t, true)
	a := newChatApp(t, srv)

	var w bytes.Buffer
	s := &chatSession{app: a, w: &w, ew: io.Discard}
	s.tokenChanged.Store(true)
	err := s.run(context.Background(), &scriptedInput{lines: []string{"How do tides work?"}})
	require.ErrorIs(t, err, ErrLoginRequired)
	assert.False(t, srv.called("POST /api/getAnswer"))
}

func TestChatSession_DeepNeedsQuestion(t *testing.T) {
	s := &chatSession{w: io.Discard, ew: io.Discard}
	cont, err := s.handleLine(context.Background(), "/deep")
	assert.True(t, cont)
	var usage *UsageError
	assert.True(t, errors.As(err, &usage))
}

// =============================================================================
// ERRORS
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"login required", ErrLoginRequired, ExitAuthError},
		{"auth", &apierr.AuthError{Status: 401}, ExitAuthError},
		{"transport", &apierr.TransportError{Op: "GET /", Err: io.ErrUnexpectedEOF}, ExitNetworkError},
		{"timeout", &apierr.TransportError{Op: "GET /", Err: context.DeadlineExceeded}, ExitTimeoutError},
		{"validation", apierr.Required("question"), ExitUsageError},
		{"config", &ConfigError{Err: errors.New("bad")}, ExitConfigError},
		{"not found", storage.ErrEntryNotFound, ExitNotFoundError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestCommandPath(t *testing.T) {
	root := NewRootCommand(&App{})
	cmd, _, err := root.Find([]string{"report", "chat"})
	require.NoError(t, err)
	assert.Equal(t, "/report/chat", commandPath(cmd))
	assert.Equal(t, "/", commandPath(root))

	cfgCmd, _, err := root.Find([]string{"config", "get"})
	require.NoError(t, err)
	assert.False(t, needsSession(cfgCmd))
	assert.True(t, needsSession(cmd))
}
