package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAPIURL = "https://api.github.com"

// APIError is a non-2xx response from the GitHub API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API error (status %d): %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TokenSource returns the API token for an organization.
type TokenSource interface {
	Token(ctx context.Context, organizationID string) (string, error)
}

// StaticToken uses one token for every organization.
type StaticToken string

func (s StaticToken) Token(context.Context, string) (string, error) {
	if s == "" {
		return "", errors.New("no GitHub token configured")
	}
	return string(s), nil
}

// OrgTokens maps organizations to tokens, falling back to Default.
type OrgTokens struct {
	Default string
	ByOrg   map[string]string
}

func (o OrgTokens) Token(_ context.Context, organizationID string) (string, error) {
	if tok := o.ByOrg[organizationID]; tok != "" {
		return tok, nil
	}
	if o.Default != "" {
		return o.Default, nil
	}
	return "", fmt.Errorf("no GitHub token for organization %q", organizationID)
}

// Client provides access to the GitHub REST API.
type Client struct {
	apiURL     string
	tokens     TokenSource
	httpCli    *http.Client
	maxRetries int
	backoff    time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIURL overrides the API root (GitHub Enterprise, tests).
func WithAPIURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.apiURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.httpCli = h
		}
	}
}

// WithRetry sets how many times a retryable failure is repeated and the
// initial backoff, which doubles on every attempt.
func WithRetry(maxRetries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewClient creates a REST client.
func NewClient(tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		apiURL:     defaultAPIURL,
		tokens:     tokens,
		httpCli:    &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do implements Transport. 429 and 5xx responses are retried with
// exponential backoff.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	if c.tokens == nil {
		return nil, errors.New("no GitHub token source configured")
	}
	token, err := c.tokens.Token(ctx, req.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}

	var payload []byte
	if req.Body != nil {
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	var body []byte
	err = retryWithBackoff(ctx, c.maxRetries, c.backoff, func() error {
		body, err = c.do(ctx, req.Method, req.Path, token, payload)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, payload []byte) ([]byte, error) {
	url := c.apiURL + "/" + strings.TrimPrefix(path, "/")

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
