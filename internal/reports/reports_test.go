// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reports

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-research/internal/apierr"
	"github.com/jeranaias/rigrun-research/internal/gateway"
	"github.com/jeranaias/rigrun-research/internal/tokenstore"
)

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw, err := gateway.New(srv.URL, tokenstore.NewMemoryStore("tok-1"))
	require.NoError(t, err)
	return New(gw)
}

func TestHistory(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/reports/r%2F1/chat", r.URL.EscapedPath())
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	})

	out, err := c.History(context.Background(), "r/1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"messages":[{"role":"user","content":"hi"}]}`, string(out))
}

func TestSend(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "summarise", body["message"])
		w.Write([]byte(`{"reply":"done"}`))
	})

	out, err := c.Send(context.Background(), "abc", "summarise")
	require.NoError(t, err)
	assert.JSONEq(t, `{"reply":"done"}`, string(out))
}

func TestMissingIDMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := c.History(context.Background(), "  ")
	assert.ErrorIs(t, err, apierr.ErrValidation)
	_, err = c.Send(context.Background(), "", "hello")
	assert.ErrorIs(t, err, apierr.ErrValidation)
	_, err = c.Send(context.Background(), "abc", "")
	assert.ErrorIs(t, err, apierr.ErrValidation)
	assert.Zero(t, calls.Load())
}

func TestErrorStatusForwarded(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Report not found"}`))
	})

	_, err := c.History(context.Background(), "nope")
	require.ErrorIs(t, err, apierr.ErrStatus)
	assert.Equal(t, "Report not found", apierr.Detail(err))
}
