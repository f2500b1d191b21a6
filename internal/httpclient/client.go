// Package httpclient provides the retrying JSON client shared by every registry source.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response size (100MB)
	MaxResponseSize = 100 * 1024 * 1024

	// MaxErrorBodySize bounds how much of an error response is kept in the error message
	MaxErrorBodySize = 200

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "toolhive-registry-aggregator/1.0"
)

// Client fetches JSON documents from a registry API
type Client interface {
	// GetJSON performs a GET request with the given query parameters and
	// returns the response body, which is guaranteed to be valid JSON.
	// Failures are reported as *FetchError.
	GetJSON(ctx context.Context, rawURL string, params url.Values) ([]byte, error)
}

// Option configures a Client
type Option func(*clientConfig)

type clientConfig struct {
	timeout     time.Duration
	transport   http.RoundTripper
	tokenSource oauth2.TokenSource
	userAgent   string
	retry       RetryPolicy
	notify      RetryNotify
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *clientConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithTransport sets the base round tripper (primarily for tests)
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *clientConfig) {
		cfg.transport = rt
	}
}

// WithBearerToken authenticates every request with a static bearer token
func WithBearerToken(token string) Option {
	return func(cfg *clientConfig) {
		if token != "" {
			cfg.tokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		}
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) Option {
	return func(cfg *clientConfig) {
		if ua != "" {
			cfg.userAgent = ua
		}
	}
}

// WithRetryPolicy sets the retry budget and base delay
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(cfg *clientConfig) {
		cfg.retry = policy
	}
}

// WithRetryNotify registers a callback invoked before every backoff sleep
func WithRetryNotify(fn RetryNotify) Option {
	return func(cfg *clientConfig) {
		cfg.notify = fn
	}
}

// New creates a Client that applies the retry policy to every request
func New(opts ...Option) Client {
	cfg := &clientConfig{
		timeout:   DefaultTimeout,
		userAgent: UserAgent,
		retry:     DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &retryingClient{
		next:   newDefaultClient(cfg),
		policy: cfg.retry,
		notify: cfg.notify,
	}
}

// NewDefaultClient creates a single-attempt client with the specified timeout.
// If timeout is 0, uses DefaultTimeout.
func NewDefaultClient(timeout time.Duration) Client {
	return newDefaultClient(&clientConfig{timeout: timeout, userAgent: UserAgent})
}

// defaultClient performs exactly one request per call
type defaultClient struct {
	client    *http.Client
	userAgent string
}

func newDefaultClient(cfg *clientConfig) *defaultClient {
	timeout := cfg.timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	base := cfg.transport
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.tokenSource != nil {
		base = &oauth2.Transport{Source: cfg.tokenSource, Base: base}
	}

	return &defaultClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
		userAgent: cfg.userAgent,
	}
}

// GetJSON implements Client
func (c *defaultClient) GetJSON(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	target, err := withParams(rawURL, params)
	if err != nil {
		return nil, &FetchError{Kind: KindClientError, URL: rawURL, Message: "invalid URL", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindClientError, URL: target, Message: "failed to create request", Err: err}
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindNetworkError, URL: target, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		return nil, newStatusError(resp.StatusCode, target, strings.TrimSpace(string(snippet)))
	}

	if resp.ContentLength > MaxResponseSize {
		return nil, &FetchError{
			Kind:    KindProtocolError,
			URL:     target,
			Message: fmt.Sprintf("response size %d bytes exceeds maximum allowed size of %d bytes", resp.ContentLength, MaxResponseSize),
		}
	}

	// +1 to detect if limit exceeded
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, &FetchError{Kind: KindNetworkError, URL: target, Message: "failed to read response body", Err: err}
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, &FetchError{
			Kind:    KindProtocolError,
			URL:     target,
			Message: fmt.Sprintf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize),
		}
	}

	if !gjson.ValidBytes(body) {
		return nil, &FetchError{Kind: KindProtocolError, URL: target, Message: "response body is not valid JSON"}
	}

	return body, nil
}

// withParams merges params into the URL's existing query string
func withParams(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL must be absolute: %s", rawURL)
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
