// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway attaches the cached bearer token to outbound requests.
//
// Decorate and AppendToken are pure decorators: they read the token store and
// never send anything. Client layers request IDs, logging, metrics and size
// limited decoding on top of them for the packages that talk to the backend.
//
// SECURITY: Headers and bodies are never logged.
package gateway

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/jeranaias/rigrun-research/internal/tokenstore"
)

// TokenParam is the query parameter used when headers cannot be set.
const TokenParam = "token"

// Decorate returns req with "Authorization: Bearer <token>" when the store
// holds a token and the caller has not set Authorization. Otherwise req is
// returned as is. The original request is never mutated.
func Decorate(store tokenstore.Store, req *http.Request) *http.Request {
	if len(req.Header.Values("Authorization")) > 0 {
		return req
	}
	token, ok := store.Get()
	if !ok {
		return req
	}
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return out
}

// AppendToken adds the cached token to rawURL as a "token" query parameter,
// joined with "&" when the URL already carries a query and "?" otherwise.
// Any existing token parameter is replaced. Without a token rawURL is
// returned unchanged.
func AppendToken(store tokenstore.Store, rawURL string) string {
	token, ok := store.Get()
	if !ok {
		return rawURL
	}

	base, fragment, hasFragment := strings.Cut(rawURL, "#")
	path, query, _ := strings.Cut(base, "?")

	var params []string
	for _, p := range strings.Split(query, "&") {
		if p == "" {
			continue
		}
		name, _, _ := strings.Cut(p, "=")
		if unescaped, err := url.QueryUnescape(name); err == nil && unescaped == TokenParam {
			continue
		}
		params = append(params, p)
	}
	params = append(params, TokenParam+"="+url.QueryEscape(token))

	out := path + "?" + strings.Join(params, "&")
	if hasFragment {
		out += "#" + fragment
	}
	return out
}
