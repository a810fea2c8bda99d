// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reports talks to the per-report chat endpoint. Replies are passed
// through untouched since their shape belongs to the backend.
package reports

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-research/internal/apierr"
	"github.com/jeranaias/rigrun-research/internal/gateway"
)

// Client reads and extends a report's chat.
type Client struct {
	gw     *gateway.Client
	logger *zap.Logger
}

// New creates a Client sending through gw.
func New(gw *gateway.Client) *Client {
	return &Client{gw: gw, logger: gw.Logger().Named("reports")}
}

// chatPath returns the chat route for id.
func chatPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apierr.Required("report id")
	}
	return "/api/reports/" + url.PathEscape(id) + "/chat", nil
}

// History returns the chat for report id.
func (c *Client) History(ctx context.Context, id string) (json.RawMessage, error) {
	path, err := chatPath(id)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := c.gw.DoJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Send posts message to the chat for report id and returns the reply.
func (c *Client) Send(ctx context.Context, id, message string) (json.RawMessage, error) {
	path, err := chatPath(id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		return nil, apierr.Required("message")
	}

	c.logger.Debug("sending report chat message", zap.String("report", id), zap.Int("length", len(message)))
	var out json.RawMessage
	if err := c.gw.DoJSON(ctx, http.MethodPost, path, map[string]string{"message": message}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
