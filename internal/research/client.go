// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package research

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-research/internal/apierr"
	"github.com/jeranaias/rigrun-research/internal/gateway"
)

// =============================================================================
// ENDPOINTS
// =============================================================================

// Endpoints are the backend paths used by Client.
type Endpoints struct {
	Sources          string
	Answer           string
	MultiStep        string
	SimilarQuestions string
}

// DefaultEndpoints returns the paths served by the research backend.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Sources:          "/api/getSources",
		Answer:           "/api/getAnswer",
		MultiStep:        "/api/generateLanggraph",
		SimilarQuestions: "/api/getSimilarQuestions",
	}
}

// SourceSet is the ordered list of source references returned by the
// lookup call. Entries are passed back to the answer endpoint untouched.
type SourceSet []json.RawMessage

type questionRequest struct {
	Question string `json:"question"`
}

type answerRequest struct {
	Question string    `json:"question"`
	Sources  SourceSet `json:"sources"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client issues research requests through an authenticated gateway.
type Client struct {
	gw        *gateway.Client
	endpoints Endpoints
	logger    *zap.Logger
}

// New creates a Client. Empty endpoint fields fall back to the defaults.
func New(gw *gateway.Client, endpoints Endpoints) *Client {
	defaults := DefaultEndpoints()
	if endpoints.Sources == "" {
		endpoints.Sources = defaults.Sources
	}
	if endpoints.Answer == "" {
		endpoints.Answer = defaults.Answer
	}
	if endpoints.MultiStep == "" {
		endpoints.MultiStep = defaults.MultiStep
	}
	if endpoints.SimilarQuestions == "" {
		endpoints.SimilarQuestions = defaults.SimilarQuestions
	}
	return &Client{
		gw:        gw,
		endpoints: endpoints,
		logger:    gw.Logger().Named("research"),
	}
}

// Sources runs the source lookup for question.
func (c *Client) Sources(ctx context.Context, question string) (SourceSet, error) {
	if err := validateQuestion(question); err != nil {
		return nil, err
	}

	var sources SourceSet
	if err := c.gw.DoJSON(ctx, http.MethodPost, c.endpoints.Sources, questionRequest{Question: question}, &sources); err != nil {
		return nil, err
	}
	c.logger.Debug("sources retrieved", zap.Int("count", len(sources)))
	return sources, nil
}

// Answer looks up sources for question, then requests the answer.
// Errors from either exchange fail the whole operation.
func (c *Client) Answer(ctx context.Context, question string) (*Stream, error) {
	sources, err := c.Sources(ctx, question)
	if err != nil {
		return nil, err
	}
	return c.AnswerWithSources(ctx, question, sources)
}

// AnswerWithSources requests the answer for question using an existing
// SourceSet. A 202 response yields a Stream holding only the final text.
func (c *Client) AnswerWithSources(ctx context.Context, question string, sources SourceSet) (*Stream, error) {
	if err := validateQuestion(question); err != nil {
		return nil, err
	}
	if sources == nil {
		sources = SourceSet{}
	}
	return c.openStream(ctx, c.endpoints.Answer, answerRequest{Question: question, Sources: sources}, true)
}

// MultiStep requests an answer from the multi-step reasoning endpoint.
// There is no source lookup and a 202 is streamed like any other success.
func (c *Client) MultiStep(ctx context.Context, question string) (*Stream, error) {
	if err := validateQuestion(question); err != nil {
		return nil, err
	}
	return c.openStream(ctx, c.endpoints.MultiStep, questionRequest{Question: question}, false)
}

// SimilarQuestions returns suggested follow-up questions.
func (c *Client) SimilarQuestions(ctx context.Context, question string) ([]string, error) {
	if err := validateQuestion(question); err != nil {
		return nil, err
	}

	var questions []string
	if err := c.gw.DoJSON(ctx, http.MethodPost, c.endpoints.SimilarQuestions, questionRequest{Question: question}, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// openStream posts body to path and wraps the response. When
// acceptNonStreamed is set, a 202 body is read whole as the final answer.
func (c *Client) openStream(ctx context.Context, path string, body any, acceptNonStreamed bool) (*Stream, error) {
	req, err := c.gw.NewRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.gw.Do(req)
	if err != nil {
		return nil, err
	}

	if !apierr.IsSuccess(resp.StatusCode) {
		defer resp.Body.Close()
		data, _ := gateway.ReadBody(resp)
		return nil, apierr.FromResponse(resp, data)
	}

	if acceptNonStreamed && resp.StatusCode == http.StatusAccepted {
		defer resp.Body.Close()
		data, err := gateway.ReadBody(resp)
		if err != nil {
			return nil, &apierr.TransportError{Op: "POST " + req.URL.Path, Err: err}
		}
		c.logger.Debug("non-streamed answer", zap.Int("bytes", len(data)))
		return newFinalStream(string(data)), nil
	}

	return NewStream(resp.Body, c.logger, c.gw.Metrics()), nil
}

func validateQuestion(question string) error {
	if strings.TrimSpace(question) == "" {
		return apierr.Required("question")
	}
	return nil
}
