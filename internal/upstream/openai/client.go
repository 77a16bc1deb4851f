package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 4 << 20

type ObserverFunc func(endpoint string, status int, duration time.Duration)

type Option func(*Client)

// Client talks to an OpenAI-compatible Responses API (OpenRouter by default).
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	observer     ObserverFunc
	maxRetries   int
	retryBackoff time.Duration
}

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithRetries retries transport failures and 429/5xx statuses up to
// maxRetries extra times, doubling backoff after each attempt.
func WithRetries(maxRetries int, backoff time.Duration) Option {
	return func(c *Client) {
		if maxRetries < 0 {
			maxRetries = 0
		}
		c.maxRetries = maxRetries
		c.retryBackoff = backoff
	}
}

func New(baseURL, apiKey string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

func (c *Client) CreateResponse(ctx context.Context, reqPayload ResponseRequest) (Response, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return Response{}, err
	}

	payload, err := json.Marshal(reqPayload)
	if err != nil {
		return Response{}, fmt.Errorf("encode responses request: %w", err)
	}

	var respBody []byte
	for attempt := 0; ; attempt++ {
		respBody, err = c.do(ctx, "responses", http.MethodPost, "/responses", payload, apiKey)
		if err == nil || attempt >= c.maxRetries || !retryable(ctx, err) {
			break
		}
		if waitErr := sleepContext(ctx, c.retryBackoff<<attempt); waitErr != nil {
			break
		}
	}
	if err != nil {
		return Response{}, err
	}

	return parseResponse(respBody)
}

func (c *Client) CheckModels(ctx context.Context) error {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, "models", http.MethodGet, "/models", nil, apiKey)
	return err
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, payload []byte, apiKey string) ([]byte, error) {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe(endpoint, statusCode, time.Since(started)) }()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &RequestError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &RequestError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: truncateBody(string(respBody))}
	}
	return respBody, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if key := RequestAPIKeyFromContext(ctx); key != "" {
		return key, nil
	}
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	return "", ErrMissingCredential
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(endpoint, status, duration)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4096 {
		return s
	}
	return s[:4096] + "..."
}
