package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether the failure is server-side and may clear on
// its own. 429 is excluded: throttling is reported, not retried.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// errorMessage prefers the message a provider puts in its JSON error body.
func errorMessage(status int, body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if msg := strings.TrimSpace(envelope.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(envelope.Error); msg != "" {
			return msg
		}
	}
	return http.StatusText(status)
}

// endpoint is a request path relative to the client's base URL.
type endpoint struct {
	path  string
	query url.Values
}

func (ep endpoint) url(base string) string {
	if len(ep.query) == 0 {
		return base + ep.path
	}
	return base + ep.path + "?" + ep.query.Encode()
}

// authorizer attaches a credential to an outgoing request.
type authorizer func(req *http.Request, key string)

// get performs one GET and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, name string, ep endpoint, key string, auth authorizer) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.url(c.baseURL), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if key != "" && auth != nil {
		auth(req, key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			Provider:   name,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, body),
			Body:       body,
		}
	}
	return body, nil
}

// retryable reports whether err is worth another attempt: 5xx responses and
// transport failures, but never cancellation of the caller's context.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return true
}

// getWithRetry waits for the rate limiter, then retries transient failures
// with jittered exponential backoff.
func (c *Client) getWithRetry(ctx context.Context, name string, ep endpoint, key string, auth authorizer) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	backoff := c.retryBackoff
	for attempt := 0; ; attempt++ {
		body, err := c.get(ctx, name, ep, key, auth)
		if err == nil {
			return body, nil
		}
		if !retryable(ctx, err) {
			return nil, err
		}
		if attempt >= c.maxRetries {
			if attempt == 0 {
				return nil, err
			}
			return nil, fmt.Errorf("max retries exceeded: %w", err)
		}

		// backoff * [0.5, 1.5)
		wait := backoff
		if backoff > 0 {
			wait = backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
		}
		c.logger.Debug("retrying request",
			"provider", name,
			"attempt", attempt+1,
			"backoff", wait,
			"path", ep.path,
			"err", err,
		)
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}
