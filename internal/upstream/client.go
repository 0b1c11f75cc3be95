// Package upstream is the HTTP client for the external identity
// authority. It performs login, token refresh and logout. It never
// retries inline; bounding per-request latency is the edge layer's job.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrUnavailable marks transport failures and 5xx responses: the
	// authority itself is unreachable. Callers treat the session the same
	// as a rejection, but the distinction matters for observability.
	ErrUnavailable = errors.New("identity authority unavailable")
	// ErrRejected marks an explicit refusal (4xx) from the authority.
	ErrRejected = errors.New("identity authority rejected request")
)

type LoginResult struct {
	UserID          string  `json:"userId"`
	Token           string  `json:"token"`
	LastMobileDigit string  `json:"lastMobileDigit,omitempty"`
	FirstName       string  `json:"firstName,omitempty"`
	LastName        string  `json:"lastName,omitempty"`
	Address         *string `json:"address,omitempty"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
	Token       string `json:"token"`
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker *Breaker
	log     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, breaker *Breaker, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		log:     log,
	}
}

// Login exchanges credentials for an access token and identity fields.
func (c *Client) Login(ctx context.Context, mobile, password string) (*LoginResult, error) {
	body, err := c.post(ctx, "/auth/login", map[string]string{
		"mobile":   mobile,
		"password": password,
	}, "")
	if err != nil {
		return nil, err
	}
	var res LoginResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if res.Token == "" || res.UserID == "" {
		return nil, fmt.Errorf("%w: login response missing token or userId", ErrRejected)
	}
	return &res, nil
}

// Refresh exchanges an expired access token for a fresh one. Exactly one
// attempt; any failure means the caller tears the session down.
func (c *Client) Refresh(ctx context.Context, accessToken string) (string, error) {
	body, err := c.post(ctx, "/auth/refresh", map[string]string{"token": accessToken}, accessToken)
	if err != nil {
		return "", err
	}
	var res refreshResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if res.AccessToken != "" {
		return res.AccessToken, nil
	}
	if res.Token != "" {
		return res.Token, nil
	}
	return "", fmt.Errorf("%w: refresh response carried no token", ErrRejected)
}

// Logout invalidates the token at the authority. Fire-and-forget: errors
// are logged, never surfaced, since the local cookie is already cleared.
func (c *Client) Logout(ctx context.Context, accessToken string) {
	if _, err := c.post(ctx, "/auth/logout", nil, accessToken); err != nil {
		c.log.Warn().Err(err).Msg("token invalidation failed")
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, bearer string) ([]byte, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		// The authority answered; it just said no. Breaker stays healthy.
		c.breaker.RecordSuccess()
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	c.breaker.RecordSuccess()
	return raw, nil
}
