// Package vector is an HTTP client for the Qdrant-compatible vector store:
// point counts, scroll pagination, batched deletes and collection management.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Client talks to the vector store's REST API.
type Client struct {
	http    *http.Client
	baseURL *url.URL
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a vector store client.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{http: http.DefaultClient, baseURL: u}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Point is one indexed record with its payload.
type Point struct {
	ID      any            `json:"id"`
	Payload map[string]any `json:"payload"`
}

// envelope is Qdrant's standard response wrapper.
type envelope struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
}

func (c *Client) do(ctx context.Context, method, p string, body any, result any) error {
	u := *c.baseURL
	u.Path = p

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("vector store %s %s: status %d: %s", method, p, resp.StatusCode, string(data))
	}
	if result == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode vector store response: %w", err)
	}
	return json.Unmarshal(env.Result, result)
}

// Count returns the exact number of points in collection.
func (c *Client) Count(ctx context.Context, collection string) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	body := map[string]any{"exact": true}
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/count", body, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// Scroll fetches one page of points. offset nil starts from the beginning;
// the returned nextOffset is nil once the collection is exhausted.
func (c *Client) Scroll(ctx context.Context, collection string, offset any, limit int) ([]Point, any, error) {
	if limit <= 0 {
		limit = 100
	}
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if offset != nil {
		body["offset"] = offset
	}
	var result struct {
		Points     []Point `json:"points"`
		NextOffset any     `json:"next_page_offset"`
	}
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body, &result); err != nil {
		return nil, nil, err
	}
	return result.Points, result.NextOffset, nil
}

// DeletePoints removes the identified points in a single batched call.
func (c *Client) DeletePoints(ctx context.Context, collection string, ids []any) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	return c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete", body, nil)
}

// ListCollections returns the names of all collections.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := c.do(ctx, http.MethodGet, "/collections", nil, &result); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Collections))
	for _, col := range result.Collections {
		names = append(names, col.Name)
	}
	return names, nil
}

// CreateCollection creates a collection with a cosine-distance dense vector
// of the given dimension.
func (c *Client) CreateCollection(ctx context.Context, name string, dim int) error {
	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	return c.do(ctx, http.MethodPut, "/collections/"+name, body, nil)
}

// DeleteCollection drops a collection and all its points.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/collections/"+name, nil, nil)
}

// Health probes the store's readiness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil)
}
