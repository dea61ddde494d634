// Package search talks to the external full-text engine over its JSON
// HTTP API and builds the nested more-like-this queries the similarity
// pipeline issues.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a document or index does not exist.
var ErrNotFound = errors.New("not found")

// QueryError reports a non-2xx response from the engine.
type QueryError struct {
	Status int
	Body   string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("search engine returned %d: %s", e.Status, e.Body)
}

// Client is a bounded-concurrency client for the search engine.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sem        chan struct{}
	logger     *zap.Logger
}

// NewClient creates a search client. maxConns bounds in-flight
// requests.
func NewClient(baseURL string, timeout time.Duration, maxConns int, logger *zap.Logger) *Client {
	if maxConns <= 0 {
		maxConns = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		sem:        make(chan struct{}, maxConns),
		logger:     logger,
	}
}

// do performs one JSON request under the concurrency bound.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &QueryError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// CreateIndex creates an index with the given JSON mapping. An
// already-existing index is not an error.
func (c *Client) CreateIndex(ctx context.Context, index, mapping string) error {
	var body map[string]any
	if err := json.Unmarshal([]byte(mapping), &body); err != nil {
		return fmt.Errorf("invalid mapping: %w", err)
	}
	err := c.do(ctx, http.MethodPut, "/"+url.PathEscape(index), body, nil)
	var qe *QueryError
	if errors.As(err, &qe) && strings.Contains(qe.Body, "resource_already_exists_exception") {
		c.logger.Debug("index already exists", zap.String("index", index))
		return nil
	}
	return err
}

// DeleteIndex deletes an index. A missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context, index string) error {
	err := c.do(ctx, http.MethodDelete, "/"+url.PathEscape(index), nil, nil)
	if errors.Is(err, ErrNotFound) {
		c.logger.Debug("no index to delete", zap.String("index", index))
		return nil
	}
	return err
}

// IndexDoc stores doc under the given id, replacing any previous
// document with that id.
func (c *Client) IndexDoc(ctx context.Context, index, id string, doc any) error {
	path := fmt.Sprintf("/%s/_doc/%s", url.PathEscape(index), url.PathEscape(id))
	return c.do(ctx, http.MethodPut, path, doc, nil)
}

// GetDoc fetches the _source of a document by id. Returns ErrNotFound
// when it does not exist.
func (c *Client) GetDoc(ctx context.Context, index, id string) (map[string]any, error) {
	path := fmt.Sprintf("/%s/_doc/%s", url.PathEscape(index), url.PathEscape(id))
	var envelope struct {
		Found  bool           `json:"found"`
		Source map[string]any `json:"_source"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	if !envelope.Found {
		return nil, ErrNotFound
	}
	return envelope.Source, nil
}

// Exists reports whether a document with the given id exists.
func (c *Client) Exists(ctx context.Context, index, id string) (bool, error) {
	_, err := c.GetDoc(ctx, index, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Search runs a query against an index.
func (c *Client) Search(ctx context.Context, index string, query map[string]any) (*SearchResponse, error) {
	path := fmt.Sprintf("/%s/_search", url.PathEscape(index))
	var resp SearchResponse
	if err := c.do(ctx, http.MethodPost, path, query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Count returns the number of documents in an index.
func (c *Client) Count(ctx context.Context, index string) (int, error) {
	path := fmt.Sprintf("/%s/_count", url.PathEscape(index))
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Refresh makes recent writes visible to search.
func (c *Client) Refresh(ctx context.Context, index string) error {
	path := fmt.Sprintf("/%s/_refresh", url.PathEscape(index))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}
