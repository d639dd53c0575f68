package wiki

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/olgasafonova/mediawiki-api-go/internal/base"
	"github.com/olgasafonova/mediawiki-api-go/internal/infra"
	"github.com/olgasafonova/mediawiki-api-go/metrics"
	"github.com/olgasafonova/mediawiki-api-go/tracing"
)

// writeActions are always sent as POST.
var writeActions = map[string]bool{
	"edit":        true,
	"login":       true,
	"clientlogin": true,
	"upload":      true,
	"move":        true,
	"delete":      true,
	"undelete":    true,
	"protect":     true,
	"rollback":    true,
	"purge":       true,
	"watch":       true,
	"options":     true,
}

// tokenTTL bounds how long a fetched token is reused.
const tokenTTL = 30 * time.Minute

// Client handles communication with one MediaWiki API endpoint. It is the
// HTTP implementation of Caller and is safe for concurrent use.
type Client struct {
	config    *Config
	transport *base.Client
	logger    *slog.Logger

	// Authentication state
	loginMu  sync.Mutex
	pending  *credentials // set while login is postponed to the first call
	loggedIn string

	tokens     *infra.Cache[string]
	tokenDedup *infra.Deduplicator[string]
}

type credentials struct {
	user     string
	password string
}

// NewClient creates a new MediaWiki API client. When config carries
// credentials the client logs in on demand before its first call.
func NewClient(config *Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		config: config,
		transport: base.NewClient(
			base.WithLogger(logger),
			base.WithTimeout(config.Timeout),
			base.WithRateLimit(config.RateLimit),
		),
		logger:     logger,
		tokens:     infra.NewCache[string](tokenTTL),
		tokenDedup: infra.NewDeduplicator[string](),
	}

	if config.HasCredentials() {
		c.pending = &credentials{user: config.Username, password: config.Password}
	}
	return c
}

// Close releases background resources held by the client
func (c *Client) Close() {
	c.tokens.Close()
}

// Config returns the client's configuration
func (c *Client) Config() *Config {
	return c.config
}

// CircuitBreakerStats reports the state of the transport's circuit breaker
func (c *Client) CircuitBreakerStats() infra.CircuitBreakerStats {
	return c.transport.CircuitBreakerStats()
}

// CallOption adjusts a single Call.
type CallOption func(*Request)

// WithPost sends the call as a form-encoded POST.
func WithPost() CallOption {
	return func(r *Request) { r.Post = true }
}

// WithHTTPS forces the https scheme for the call.
func WithHTTPS() CallOption {
	return func(r *Request) { r.ForceHTTPS = true }
}

// Call encodes params and performs a single API call. The whole response is
// returned; continuation is left to the caller.
func (c *Client) Call(ctx context.Context, action string, params Params, opts ...CallOption) (Object, error) {
	encoded, err := EncodeParams(action, params)
	if err != nil {
		return nil, err
	}
	req := Request{Action: action, Params: encoded}
	for _, opt := range opts {
		opt(&req)
	}
	return c.Do(ctx, req)
}

// Iterate runs a continuation-style action against this client.
func (c *Client) Iterate(ctx context.Context, action string, params Params) iter.Seq2[Object, error] {
	return Iterate(ctx, c, action, params)
}

// Query is Iterate for action=query.
func (c *Client) Query(ctx context.Context, params Params) iter.Seq2[Object, error] {
	return Iterate(ctx, c, "query", params)
}

// QueryPages yields every page of a query once, fully merged. See the
// package-level QueryPages for the completion and conflict rules.
func (c *Client) QueryPages(ctx context.Context, params Params) iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		logger := c.logger.With("session", uuid.NewString())
		logger.Debug("Query pages started")

		count := 0
		outcome := "complete"
		for page, err := range QueryPages(ctx, c, params) {
			if err != nil {
				var conflict *ModificationConflictError
				if errors.As(err, &conflict) {
					outcome = "conflict"
					logger.Warn("Pages modified during query", "pages", len(conflict.Pages))
				} else {
					outcome = "error"
					logger.Warn("Query pages failed", "error", err)
				}
			} else {
				count++
			}
			if !yield(page, err) {
				if err == nil {
					outcome = "stopped"
				}
				break
			}
		}

		metrics.QuerySessions.WithLabelValues(outcome).Inc()
		logger.Debug("Query pages finished", "pages", count, "outcome", outcome)
	}
}

// Do performs one API call. A postponed login runs first unless the call is
// itself a login.
func (c *Client) Do(ctx context.Context, req Request) (Object, error) {
	if req.Action != "login" {
		if err := c.ensureLogin(ctx); err != nil {
			return nil, err
		}
	}
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req Request) (Object, error) {
	method := http.MethodGet
	if req.Post || writeActions[req.Action] {
		method = http.MethodPost
	}

	endpoint := c.config.BaseURL
	if req.ForceHTTPS || (req.Action == "login" && !c.config.InsecureLogin) {
		endpoint = upgradeScheme(endpoint)
	}

	form := make(url.Values, len(req.Params)+2)
	for k, v := range req.Params {
		form.Set(k, v)
	}
	if !form.Has("action") {
		form.Set("action", req.Action)
	}
	if c.config.MaxLag > 0 && !form.Has("maxlag") {
		form.Set("maxlag", strconv.Itoa(c.config.MaxLag))
	}

	ctx, span := tracing.StartSpan(ctx, "mediawiki.api."+req.Action)
	defer span.End()
	tracing.AddAPIAttributes(span, req.Action, method, len(form))

	start := time.Now()
	resp, err := c.send(ctx, span, req.Action, method, endpoint, form)
	duration := time.Since(start).Seconds()
	if err != nil {
		tracing.RecordError(span, err)
		metrics.RecordAPICall(req.Action, duration, false, errorCodeOf(err))
		return nil, err
	}
	metrics.RecordAPICall(req.Action, duration, true, "")
	return resp, nil
}

// send executes the HTTP exchange and maps the response onto the error types.
func (c *Client) send(ctx context.Context, span trace.Span, action, method, endpoint string, form url.Values) (Object, error) {
	body, status, err := c.transport.DoRequest(ctx, base.RequestConfig{
		Method:    method,
		URL:       endpoint,
		Form:      form,
		UserAgent: c.config.UserAgent,
		Retries:   c.config.MaxRetries,
		Label:     action,
	})
	if err != nil {
		var statusErr *base.StatusError
		if errors.As(err, &statusErr) {
			return nil, &TransportError{Action: action, URL: endpoint, StatusCode: statusErr.StatusCode, Body: statusErr.Body}
		}
		return nil, &TransportError{Action: action, URL: endpoint, Err: err}
	}
	tracing.AddResponseAttributes(span, status, len(body))

	if status < 200 || status > 299 {
		return nil, &TransportError{Action: action, URL: endpoint, StatusCode: status, Body: string(body)}
	}

	data, err := decodeObject(body)
	if err != nil {
		return nil, &TransportError{Action: action, URL: endpoint, StatusCode: status, Body: truncate(string(body), 500), Err: err}
	}

	if raw, ok := data["error"]; ok {
		return nil, newServerError(action, raw)
	}
	if warnings, ok := data["warnings"]; ok {
		metrics.APIWarnings.WithLabelValues(action).Inc()
		c.logger.Warn("Server warnings", "action", action, "warnings", warnings)
	}
	return data, nil
}

func newServerError(action string, raw any) *ServerError {
	payload, ok := asObject(raw)
	if !ok {
		payload = Object{"info": raw}
	}
	return &ServerError{
		Action:  action,
		Code:    payload.Str("code"),
		Info:    payload.Str("info"),
		Payload: payload,
	}
}

// labelledServerCodes are the server error codes that get their own metrics
// label. Anything else the server sends is counted under CodeServer.
var labelledServerCodes = map[string]bool{
	"maxlag":             true,
	"ratelimited":        true,
	"readonly":           true,
	"badtoken":           true,
	"notoken":            true,
	"permissiondenied":   true,
	"assertuserfailed":   true,
	"assertbotfailed":    true,
	"missingtitle":       true,
	"invalidtitle":       true,
	"editconflict":       true,
	"protectedpage":      true,
	"badvalue":           true,
	"toomanyvalues":      true,
	"internal_api_error": true,
}

// errorCodeOf picks the metrics label for a failed call: well-known server
// codes as sent, the structured code otherwise.
func errorCodeOf(err error) string {
	var serverErr *ServerError
	if errors.As(err, &serverErr) && labelledServerCodes[serverErr.Code] {
		return serverErr.Code
	}
	var coded interface{ ErrorCode() ErrorCode }
	if errors.As(err, &coded) {
		return string(coded.ErrorCode())
	}
	return "unknown"
}

// upgradeScheme rewrites the endpoint to https, leaving it unchanged when it
// does not parse.
func upgradeScheme(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "https" {
		return endpoint
	}
	u.Scheme = "https"
	return u.String()
}
