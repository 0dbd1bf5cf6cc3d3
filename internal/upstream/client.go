// Package upstream provides the HTTP clients for the query, collections and
// ingestion engines. Every request carries a bearer service token and the
// inter-service header.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
)

// ServiceHeader identifies the calling service on every outbound request.
const ServiceHeader = "X-Internal-Service"

// TokenSource supplies the bearer credential for outbound calls.
type TokenSource interface {
	Token() (string, error)
}

// StatusError is returned when an upstream responds with a non-2xx status.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.StatusCode, e.Body)
}

// Client talks to one upstream engine.
type Client struct {
	http        *http.Client
	baseURL     *url.URL
	name        string
	serviceName string
	tokens      TokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTokenSource attaches the service credential source.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// New creates a client for the named upstream at baseURL.
func New(name, baseURL, serviceName string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		http:        http.DefaultClient,
		baseURL:     u,
		name:        name,
		serviceName: serviceName,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Name returns the upstream's registry name.
func (c *Client) Name() string { return c.name }

// BaseURL returns the upstream's base URL.
func (c *Client) BaseURL() string { return c.baseURL.String() }

func (c *Client) newReq(ctx context.Context, method, p string, q map[string]string, body any) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, p)
	if len(q) > 0 {
		qq := u.Query()
		for k, v := range q {
			qq.Set(k, v)
		}
		u.RawQuery = qq.Encode()
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(ServiceHeader, c.serviceName)
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("issue service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, p string, q map[string]string, body any) (json.RawMessage, error) {
	req, err := c.newReq(ctx, method, p, q, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Service: c.name, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return json.RawMessage(data), nil
}

// Search performs a GET /search against the engine.
func (c *Client) Search(ctx context.Context, query string, maxResults int, collection string, scoreThreshold float64) (json.RawMessage, error) {
	q := map[string]string{
		"query":           query,
		"max_results":     strconv.Itoa(maxResults),
		"score_threshold": strconv.FormatFloat(scoreThreshold, 'f', -1, 64),
	}
	if collection != "" {
		q["collection"] = collection
	}
	return c.doJSON(ctx, http.MethodGet, "/search", q, nil)
}

// QueryRequest is the POST /query body.
type QueryRequest struct {
	Query          string  `json:"query"`
	MaxResults     int     `json:"max_results"`
	Collection     string  `json:"collection,omitempty"`
	ScoreThreshold float64 `json:"score_threshold"`
}

// Query asks the engine for an answer with sources.
func (c *Client) Query(ctx context.Context, req QueryRequest) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodPost, "/query", nil, req)
}

// GPUPolicy fetches the engine's GPU scheduling policy.
func (c *Client) GPUPolicy(ctx context.Context) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodGet, "/gpu/policy", nil, nil)
}

// Health probes the engine's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
	return err
}

// IngestRequest triggers a (re-)ingestion run on the ingestion engine.
type IngestRequest struct {
	Collection string `json:"collection"`
	Model      string `json:"model,omitempty"`
	ChunkSize  int    `json:"chunk_size,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// TriggerIngestion starts an ingestion run.
func (c *Client) TriggerIngestion(ctx context.Context, req IngestRequest) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodPost, "/ingest", nil, req)
}
