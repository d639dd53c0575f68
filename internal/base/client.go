// Package base provides the HTTP transport behind the MediaWiki API client:
// connection reuse, cookies, request pacing, retries and circuit breaking.
package base

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/olgasafonova/mediawiki-api-go/internal/infra"
	"github.com/olgasafonova/mediawiki-api-go/metrics"
)

const (
	// DefaultTimeout for API requests
	DefaultTimeout = 30 * time.Second

	// MaxConcurrentRequests limits parallel API calls
	MaxConcurrentRequests = 3

	// MaxResponseSize caps a response body (32 MiB)
	MaxResponseSize = 32 << 20
)

// Client executes HTTP requests with rate limiting, retries and circuit breaking.
type Client struct {
	HTTPClient     *http.Client
	Logger         *slog.Logger
	CircuitBreaker *infra.CircuitBreaker
	Limiter        *rate.Limiter // nil means unpaced
	Semaphore      chan struct{}
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.HTTPClient = c
	}
}

// WithLogger sets a custom logger
func WithLogger(l *slog.Logger) ClientOption {
	return func(client *Client) {
		client.Logger = l
	}
}

// WithTimeout replaces the default HTTP client with one using timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		if timeout > 0 {
			client.HTTPClient = newHTTPClient(timeout)
		}
	}
}

// WithRateLimit paces requests to rps per second. Zero or negative disables pacing.
func WithRateLimit(rps float64) ClientOption {
	return func(client *Client) {
		if rps <= 0 {
			client.Limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		client.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker sets a custom circuit breaker
func WithCircuitBreaker(cb *infra.CircuitBreaker) ClientOption {
	return func(client *Client) {
		client.CircuitBreaker = cb
	}
}

// NewClient creates a new transport with default settings
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		HTTPClient:     newHTTPClient(DefaultTimeout),
		Logger:         slog.Default(),
		CircuitBreaker: infra.NewCircuitBreaker(),
		Semaphore:      make(chan struct{}, MaxConcurrentRequests),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CircuitBreakerStats returns the current circuit breaker state
func (c *Client) CircuitBreakerStats() infra.CircuitBreakerStats {
	return c.CircuitBreaker.Stats()
}

// ResetCookies drops every session cookie.
func (c *Client) ResetCookies() {
	if jar, ok := c.HTTPClient.Jar.(*sessionJar); ok {
		jar.reset()
		return
	}
	c.HTTPClient.Jar = newSessionJar()
}

// sessionJar is a cookie jar that can be emptied while requests are in flight.
type sessionJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newSessionJar() *sessionJar {
	jar, _ := cookiejar.New(nil)
	return &sessionJar{jar: jar}
}

func (s *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.jar.SetCookies(u, cookies)
}

func (s *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jar.Cookies(u)
}

func (s *sessionJar) reset() {
	jar, _ := cookiejar.New(nil)
	s.mu.Lock()
	s.jar = jar
	s.mu.Unlock()
}

// AcquireSlot blocks until a request slot is available or context is canceled
func (c *Client) AcquireSlot(ctx context.Context) error {
	select {
	case c.Semaphore <- struct{}{}:
		return nil
	default:
	}

	metrics.RateLimitWaits.Inc()
	select {
	case c.Semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context canceled while waiting for rate limiter: %w", ctx.Err())
	}
}

// ReleaseSlot releases a request slot
func (c *Client) ReleaseSlot() {
	<-c.Semaphore
}

// CheckCircuitBreaker returns nil if requests are allowed, or an error if the circuit is open
func (c *Client) CheckCircuitBreaker() error {
	if !c.CircuitBreaker.Allow() {
		stats := c.CircuitBreaker.Stats()
		return &infra.ErrCircuitOpen{
			State:    stats.State,
			RetryAt:  stats.LastFailure.Add(c.CircuitBreaker.ResetTimeout()),
			Failures: stats.ConsecutiveFails,
		}
	}
	return nil
}

// RequestConfig configures a single HTTP request
type RequestConfig struct {
	Method    string // GET (default) or POST
	URL       string
	Form      url.Values // query string for GET, form body for POST
	UserAgent string
	Retries   int    // extra attempts after the first one
	Label     string // metrics label, usually the API action
}

// StatusError is returned when the server kept answering with a retryable
// status until the retries ran out.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// DoRequest performs an HTTP request with circuit breaker, rate limiting and
// retries. Network failures, 5xx and 429 responses are retried; any other
// status is returned to the caller together with the body.
//
// A POST may already have been applied when the server fails, so it is only
// retried on 429 or when the connection could not be opened.
func (c *Client) DoRequest(ctx context.Context, cfg RequestConfig) ([]byte, int, error) {
	if err := c.CheckCircuitBreaker(); err != nil {
		return nil, 0, err
	}

	if err := c.AcquireSlot(ctx); err != nil {
		return nil, 0, err
	}
	defer c.ReleaseSlot()

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	idempotent := method != http.MethodPost

	var lastErr error
attempts:
	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		if attempt > 0 {
			metrics.APIRetries.WithLabelValues(cfg.Label).Inc()
			backoff := time.Duration(attempt*attempt) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, 0, fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			}
		}

		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, 0, fmt.Errorf("rate limiter: %w", err)
			}
		}

		// request body is consumed on send, so build a fresh one per attempt
		req, err := newRequest(ctx, method, cfg)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if !idempotent && !notSent(err) {
				c.Logger.Warn("API request failed after sending, not retrying",
					"method", method,
					"action", cfg.Label,
					"error", err)
				break attempts
			}
			c.Logger.Warn("API request failed, retrying",
				"attempt", attempt+1,
				"max_retries", cfg.Retries,
				"action", cfg.Label,
				"error", err)
			continue
		}

		body, err := readAndClose(resp)
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			if !idempotent {
				break attempts
			}
			continue
		}

		// Handle rate limiting with Retry-After header
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" && attempt < cfg.Retries {
				if seconds, parseErr := strconv.Atoi(retryAfter); parseErr == nil {
					c.Logger.Warn("Rate limited, waiting",
						"retry_after", seconds,
						"attempt", attempt+1)
					select {
					case <-time.After(time.Duration(seconds) * time.Second):
					case <-ctx.Done():
						return nil, 0, ctx.Err()
					}
				}
			}
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
			c.Logger.Warn("API returned server error",
				"status", resp.StatusCode,
				"attempt", attempt+1,
				"action", cfg.Label)
			if !idempotent {
				break attempts
			}
			continue
		}

		c.CircuitBreaker.RecordSuccess()
		return body, resp.StatusCode, nil
	}

	c.CircuitBreaker.RecordFailure()
	return nil, 0, lastErr
}

// notSent reports whether err happened before any byte of the request left,
// which makes a retry safe for any method.
func notSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func newRequest(ctx context.Context, method string, cfg RequestConfig) (*http.Request, error) {
	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, cfg.URL, strings.NewReader(cfg.Form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		target := cfg.URL
		if len(cfg.Form) > 0 {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + cfg.Form.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return nil, err
		}
	}

	req.Header.Set("Accept", "application/json")
	if cfg.UserAgent != "" {
		req.Header.Set("User-Agent", cfg.UserAgent)
	} else {
		req.Header.Set("User-Agent", "mediawiki-api-go/1.0")
	}
	return req, nil
}

// readAndClose reads at most MaxResponseSize bytes of the body and closes it
func readAndClose(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeds %d bytes", MaxResponseSize)
	}
	return body, nil
}

// truncate shortens a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// newHTTPClient creates an HTTP client with a cookie jar for login sessions
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		DisableCompression:    false,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		Jar:       newSessionJar(),
	}
}
