// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fetch populates the store from the backend: an HTTP client for
// the progressive stream and calendar endpoints, a line-oriented stream
// ingester, and a single-flight coordinator that deduplicates concurrent
// fetch requests.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/compass/services/sync/datatypes"
)

var tracer = otel.Tracer("compass.sync.fetch")

// DefaultRequestTimeout bounds every request end to end, including reading
// a streamed body. A stalled stream therefore surfaces as a read error
// rather than hanging a section in loading forever.
const DefaultRequestTimeout = 2 * time.Minute

// Client talks to the backend's read endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  func() string
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client (for tests or custom
// transports).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAuthToken supplies a bearer-token source consulted per request.
func WithAuthToken(token func() string) ClientOption {
	return func(c *Client) { c.authToken = token }
}

// WithClientLogger sets the structured logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OpenStream opens the primary progressive-fetch stream. The caller owns
// the returned body and must close it.
func (c *Client) OpenStream(ctx context.Context) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "Client.OpenStream")
	defer span.End()

	endpoint := c.baseURL + "/api/main-tree/stream"
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if err := c.checkStatus(resp, endpoint); err != nil {
		resp.Body.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp.Body, nil
}

// FetchCalendar fetches the secondary calendar section.
func (c *Client) FetchCalendar(ctx context.Context) (*datatypes.Calendar, error) {
	ctx, span := tracer.Start(ctx, "Client.FetchCalendar")
	defer span.End()

	endpoint := c.baseURL + "/api/calendar"
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if err := c.checkStatus(resp, endpoint); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var payload struct {
		Calendar datatypes.Calendar `json:"calendar"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Error("failed to parse calendar response", "error", err)
		return nil, &TransientError{Endpoint: endpoint, Err: fmt.Errorf("decoding calendar: %w", err)}
	}
	return &payload.Calendar, nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransientError{Endpoint: endpoint, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != nil {
		if token := c.authToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("backend request failed", "endpoint", endpoint, "error", err)
		return nil, &TransientError{Endpoint: endpoint, Err: err}
	}
	return resp, nil
}

// checkStatus maps response codes onto the error taxonomy: 401 becomes
// ErrAuthExpired, any other non-2xx a TransientError.
func (c *Client) checkStatus(resp *http.Response, endpoint string) error {
	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("session expired", "endpoint", endpoint)
		return ErrAuthExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("backend returned an error",
			"endpoint", endpoint,
			"status_code", resp.StatusCode,
		)
		return &TransientError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	return nil
}
