// Package authclient is a Go client for the auth service HTTP API.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/utafrali/projectflow/pkg/logger"
)

const correlationHeader = "X-Correlation-ID"

// Config holds HTTP client configuration.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	MaxConnsPerHost int
}

// DefaultConfig returns defaults for calling the auth service at baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		RetryWaitMin:    200 * time.Millisecond,
		RetryWaitMax:    2 * time.Second,
		MaxConnsPerHost: 100,
	}
}

// TokenPair is the body returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type messageResponse struct {
	Message string `json:"message"`
	Revoked int64  `json:"revoked"`
}

// Client calls the auth API.
//
// Refresh is never retried: replaying a refresh token the server already
// rotated counts as reuse and revokes every session of the user. Login is
// retried only when the connection could not be established.
type Client struct {
	httpClient *http.Client
	config     Config
	baseURL    string
}

// New creates a client with connection pooling.
func New(cfg Config) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		config:  cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// retryPolicy says which failures a call may be repeated after.
type retryPolicy int

const (
	retryNever retryPolicy = iota
	// retryDial repeats only when no connection was made, so the server
	// cannot have seen the request.
	retryDial
	// retryIdempotent also repeats on network errors and 502/503/504.
	retryIdempotent
)

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	var pair TokenPair
	body := map[string]string{"email": email, "password": password}
	if err := c.post(ctx, "/auth/login", "", body, &pair, retryDial); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Refresh rotates refreshToken into a new pair. The old token is spent
// once this returns, whatever the outcome.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var pair TokenPair
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.post(ctx, "/auth/refresh", "", body, &pair, retryNever); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Logout revokes refreshToken.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refreshToken": refreshToken}
	return c.post(ctx, "/auth/logout", "", body, &messageResponse{}, retryIdempotent)
}

// LogoutAll revokes every session of the access token's user and returns
// how many refresh tokens were revoked.
func (c *Client) LogoutAll(ctx context.Context, accessToken string) (int64, error) {
	var resp messageResponse
	if err := c.post(ctx, "/auth/logout-all", accessToken, nil, &resp, retryIdempotent); err != nil {
		return 0, err
	}
	return resp.Revoked, nil
}

func (c *Client) post(ctx context.Context, path, bearer string, body, out any, policy retryPolicy) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal %s request: %w", path, err)
		}
	}

	resp, err := c.do(ctx, policy, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create %s request: %w", path, err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		if id := logger.CorrelationIDFromContext(ctx); id != "" {
			req.Header.Set(correlationHeader, id)
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
		return req, nil
	})
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ParseResponseError(resp)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// do executes the request built by newReq, retrying per policy with
// exponential backoff.
func (c *Client) do(ctx context.Context, policy retryPolicy, newReq func() (*http.Request, error)) (*http.Response, error) {
	maxRetries := c.config.MaxRetries
	if policy == retryNever {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.config.RetryWaitMin * time.Duration(1<<uint(attempt-1))
			if wait > c.config.RetryWaitMax {
				wait = c.config.RetryWaitMax
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries && retryable(policy, err) {
				continue
			}
			return nil, fmt.Errorf("auth request failed after %d attempts: %w", attempt+1, err)
		}

		if policy == retryIdempotent && attempt < maxRetries && retryableStatus(resp.StatusCode) {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("auth service returned %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func retryable(policy retryPolicy, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch policy {
	case retryDial:
		var opErr *net.OpError
		return errors.As(err, &opErr) && opErr.Op == "dial"
	case retryIdempotent:
		var netErr net.Error
		return errors.As(err, &netErr)
	default:
		return false
	}
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
