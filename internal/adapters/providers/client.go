package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
)

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return domain.ErrProviderUnavailable }

// apiClient is the outbound HTTP client shared by the remote adapters.
// Idempotent requests are retried with exponential backoff on transport
// errors and 5xx answers; nothing is retried on 4xx.
type apiClient struct {
	http    *http.Client
	retries uint64
	base    time.Duration
}

func newAPIClient(c *http.Client) *apiClient {
	if c == nil {
		c = &http.Client{Timeout: 30 * time.Second}
	}
	return &apiClient{http: c, retries: 2, base: 200 * time.Millisecond}
}

type requestFunc func(ctx context.Context) (*http.Request, error)

func (c *apiClient) send(ctx context.Context, newReq requestFunc, idempotent bool, out any) error {
	attempts := uint64(0)
	if idempotent {
		attempts = c.retries
	}
	backoff := retry.WithMaxRetries(attempts, retry.NewExponential(c.base))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := newReq(ctx)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err))
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: read body: %v", domain.ErrProviderUnavailable, err))
		}
		if resp.StatusCode >= 500 {
			return retry.RetryableError(&StatusError{Code: resp.StatusCode, Body: truncate(body)})
		}
		if resp.StatusCode >= 300 {
			return &StatusError{Code: resp.StatusCode, Body: truncate(body)}
		}
		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrProviderUnavailable, err)
		}
		return nil
	})
}

func (c *apiClient) getJSON(ctx context.Context, endpoint, token string, out any) error {
	return c.send(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, true, out)
}

func (c *apiClient) postJSON(ctx context.Context, endpoint, token string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.send(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, false, out)
}

func (c *apiClient) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	encoded := form.Encode()
	return c.send(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, false, out)
}

// tokenResponse is the common OAuth token answer.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (t tokenResponse) token(now time.Time) (Token, error) {
	if t.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: empty access token", domain.ErrProviderUnavailable)
	}
	ttl := time.Duration(t.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return Token{AccessToken: t.AccessToken, ExpiresAt: now.Add(ttl)}, nil
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
