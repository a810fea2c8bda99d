// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-research/internal/apierr"
	"github.com/jeranaias/rigrun-research/internal/metrics"
	"github.com/jeranaias/rigrun-research/internal/tokenstore"
)

// MaxResponseSize bounds every non-streamed response body.
// SECURITY: Response size limit prevents memory exhaustion.
const MaxResponseSize = 10 * 1024 * 1024

// RequestIDHeader correlates client and server logs.
const RequestIDHeader = "X-Request-ID"

// =============================================================================
// CLIENT
// =============================================================================

// Client sends decorated requests to one backend.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
	store   tokenstore.Store
	base    *zap.Logger
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used to send requests. Streaming callers
// should pass one without a Timeout and rely on the context instead.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.base = logger }
}

// WithMetrics enables request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, store tokenstore.Store, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	if store == nil {
		store = tokenstore.Unavailable{}
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{},
		dialer:  websocket.DefaultDialer,
		store:   store,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.base == nil {
		c.base = zap.NewNop()
	}
	c.logger = c.base.Named("gateway")
	return c, nil
}

// Store returns the token store the client decorates from.
func (c *Client) Store() tokenstore.Store {
	return c.store
}

// Logger returns the client's logger for packages built on top of it.
func (c *Client) Logger() *zap.Logger {
	return c.base
}

// Metrics returns the client's metrics, possibly nil.
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// URL resolves path against the base URL.
func (c *Client) URL(path string) string {
	return c.baseURL.String() + "/" + strings.TrimLeft(path, "/")
}

// NewRequest builds a request for path. A non-nil body is encoded as JSON.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do decorates and sends req. Failures below HTTP are returned as
// *apierr.TransportError. The caller owns the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	decorated := Decorate(c.store, req)
	if decorated == req {
		decorated = req.Clone(req.Context())
	}
	req = decorated
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}

	op := req.Method + " " + req.URL.Path
	c.logRequest(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.metrics.ObserveRequest(req.URL.Path, 0, duration)
		c.logger.Debug("api request failed", zap.String("op", op), zap.Duration("duration", duration), zap.Error(err))
		return nil, &apierr.TransportError{Op: op, Err: err}
	}

	c.metrics.ObserveRequest(req.URL.Path, resp.StatusCode, duration)
	c.logResponse(req, resp, duration)
	return resp, nil
}

// DoJSON sends method to path with in as the JSON body (nil for none) and
// decodes a 2xx response into out (nil to discard). Non-2xx responses are
// returned as *apierr.AuthError or *apierr.StatusError.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	req, err := c.NewRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := ReadBody(resp)
	if err != nil {
		return &apierr.TransportError{Op: method + " " + req.URL.Path, Err: err}
	}
	if !apierr.IsSuccess(resp.StatusCode) {
		return apierr.FromResponse(resp, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &apierr.ProtocolError{Op: method + " " + req.URL.Path, Detail: "invalid JSON response", Err: err}
	}
	return nil
}

// ReadBody reads resp.Body up to MaxResponseSize.
func ReadBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// =============================================================================
// WEBSOCKET
// =============================================================================

// WebSocketURL resolves path against the base URL with a ws or wss scheme
// and the token appended as a query parameter.
func (c *Client) WebSocketURL(path string) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return AppendToken(c.store, u.String()+"/"+strings.TrimLeft(path, "/"))
}

// DialWebSocket opens a websocket to path. Browsers and proxies on this route
// cannot carry headers, so the token travels in the query string.
func (c *Client) DialWebSocket(ctx context.Context, path string) (*websocket.Conn, error) {
	target := c.WebSocketURL(path)
	header := http.Header{}
	header.Set(RequestIDHeader, uuid.NewString())

	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		op := "WS /" + strings.TrimLeft(path, "/")
		if resp != nil && !apierr.IsSuccess(resp.StatusCode) {
			defer resp.Body.Close()
			body, _ := ReadBody(resp)
			return nil, apierr.FromResponse(resp, body)
		}
		if resp != nil {
			resp.Body.Close()
			return nil, &apierr.ProtocolError{Op: op, Detail: "server did not upgrade the connection", Err: err}
		}
		return nil, &apierr.TransportError{Op: op, Err: err}
	}
	c.logger.Debug("websocket connected", zap.String("path", path))
	return conn, nil
}

// =============================================================================
// LOGGING
// =============================================================================

// logRequest logs method and path only.
// SECURITY: Headers may contain the token and bodies may contain credentials.
func (c *Client) logRequest(req *http.Request) {
	c.logger.Debug("api request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("request_id", req.Header.Get(RequestIDHeader)),
	)
}

func (c *Client) logResponse(req *http.Request, resp *http.Response, duration time.Duration) {
	c.logger.Debug("api response",
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
	)
}
