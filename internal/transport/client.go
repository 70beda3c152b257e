// Package transport is the JSON client for the storefront API. Non-2xx answers
// come back as *Error; a 204 leaves dest untouched; a dest that implements
// Validator is checked after decoding.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	applog "storefront/internal/log"
)

// Requester is what the resource backends depend on.
type Requester interface {
	Request(ctx context.Context, method, path string, body, dest any) error
}

// Validator is the schema check for decoded responses.
type Validator interface {
	Validate() error
}

var _ Requester = (*Client)(nil)

const (
	defaultUserAgent = "storefront-bff/1.0"
	defaultTimeout   = 8 * time.Second
	maxErrorBody     = 64 << 10
)

// Client talks to the storefront API. WithToken copies share the HTTP client
// and the circuit breaker.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	token     string
	breaker   *gobreaker.CircuitBreaker[struct{}]
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option { return func(c *Client) { c.http.Timeout = d } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

// WithHTTPClient replaces the underlying client; its Timeout is kept.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithBreaker overrides the breaker settings. Name and IsSuccessful are always
// set by the client.
func WithBreaker(st gobreaker.Settings) Option {
	return func(c *Client) { c.breaker = newBreaker(st) }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL: base,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: defaultUserAgent,
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = newBreaker(gobreaker.Settings{})
	}
	return c, nil
}

func newBreaker(st gobreaker.Settings) *gobreaker.CircuitBreaker[struct{}] {
	st.Name = "storefront-api"
	if st.Timeout == 0 {
		st.Timeout = 15 * time.Second
	}
	if st.ReadyToTrip == nil {
		st.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 5 }
	}
	if st.OnStateChange == nil {
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			applog.Warn(nil, "upstream.breaker", nil, map[string]any{"name": name, "from": from.String(), "to": to.String()})
		}
	}
	st.IsSuccessful = func(err error) bool {
		var te *Error
		if errors.As(err, &te) {
			return te.Status != 0 && te.Status < 500
		}
		return err == nil
	}
	return gobreaker.NewCircuitBreaker[struct{}](st)
}

// WithToken returns a copy that sends token as a bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Request sends body as JSON and decodes the answer into dest. dest may be nil.
func (c *Client) Request(ctx context.Context, method, path string, body, dest any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	start := time.Now()
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.do(ctx, method, path, body, dest)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &Error{Code: CodeUnavailable, Message: "The store is temporarily unavailable. Please try again shortly.", Status: http.StatusServiceUnavailable, cause: err}
	}
	fields := map[string]any{"method": method, "path": path}
	var te *Error
	if errors.As(err, &te) {
		fields["code"] = te.Code
		fields["status"] = te.Status
	}
	applog.Timed(nil, "upstream.request", start, err, fields)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	rel, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return fmt.Errorf("parse path: %w", err)
	}
	reqURL := c.baseURL.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Code: CodeNetwork, Message: "Network error. Check your connection and try again.", cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &Error{Code: CodeDecode, Message: "Unexpected response from the store.", Status: resp.StatusCode, cause: err}
	}
	if v, ok := dest.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &Error{Code: CodeInvalidResponse, Message: "Unexpected response from the store.", Status: resp.StatusCode, cause: err}
		}
	}
	return nil
}
