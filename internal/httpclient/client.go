// Package httpclient wraps outbound HTTP requests with a shared cookie
// session, a fixed crawler identity and a fixed-interval retry policy.
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/net/publicsuffix"
)

// DefaultUserAgent impersonates a search engine crawler, which the source
// site serves without its anti-bot interstitial.
const DefaultUserAgent = "Googlebot/2.1 (+http://www.google.com/bot.html)"

const maxBodySize = 16 * 1024 * 1024

// ErrNoResponse is returned when every attempt of a request failed.
var ErrNoResponse = errors.New("no response")

// Config controls timeouts and the retry policy.
type Config struct {
	Timeout       time.Duration
	Retries       int
	RetryInterval time.Duration
	UserAgent     string
}

// DefaultConfig returns the policy used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Timeout:       15 * time.Second,
		Retries:       4,
		RetryInterval: time.Second,
		UserAgent:     DefaultUserAgent,
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// Client performs requests through a single cookie session.
type Client struct {
	http *http.Client
	cfg  Config
	log  *slog.Logger
}

// New creates a Client with its own cookie jar.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	cfg = withDefaults(cfg)
	return NewWithHTTPClient(&http.Client{Jar: jar, Timeout: cfg.Timeout}, cfg, log), nil
}

// NewWithHTTPClient creates a Client around an existing http.Client (useful
// for testing). The http.Client's jar, if any, holds the session.
func NewWithHTTPClient(hc *http.Client, cfg Config, log *slog.Logger) *Client {
	return &Client{http: hc, cfg: withDefaults(cfg), log: log}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryInterval < 0 {
		cfg.RetryInterval = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	return cfg
}

// Cookies returns the session cookies stored for u.
func (c *Client) Cookies(u string) []*http.Cookie {
	if c.http.Jar == nil {
		return nil
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return nil
	}
	return c.http.Jar.Cookies(parsed)
}

type call struct {
	header   http.Header
	query    url.Values
	form     url.Values
	status   int
	retries  int
	interval time.Duration
}

// Option customizes a single request.
type Option func(*call)

// WithHeader sets a request header. The User-Agent is always overwritten.
func WithHeader(key, value string) Option {
	return func(c *call) { c.header.Set(key, value) }
}

// WithQuery merges values into the URL query string.
func WithQuery(v url.Values) Option {
	return func(c *call) { c.query = v }
}

// WithForm sends v as an application/x-www-form-urlencoded body.
func WithForm(v url.Values) Option {
	return func(c *call) { c.form = v }
}

// WithStatus sets the status code that counts as success (default 200).
func WithStatus(code int) Option {
	return func(c *call) { c.status = code }
}

// WithRetry overrides the retry count and interval for one request.
func WithRetry(retries int, interval time.Duration) Option {
	return func(c *call) {
		c.retries = retries
		c.interval = interval
	}
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, rawURL string, opts ...Option) (*Response, error) {
	return c.Request(ctx, http.MethodGet, rawURL, opts...)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, rawURL string, opts ...Option) (*Response, error) {
	return c.Request(ctx, http.MethodPost, rawURL, opts...)
}

// Request sends method to rawURL, retrying network failures and unexpected
// status codes with a fixed pause between attempts. When all attempts fail
// the returned error wraps ErrNoResponse.
func (c *Client) Request(ctx context.Context, method, rawURL string, opts ...Option) (*Response, error) {
	cl := call{
		header:   http.Header{},
		status:   http.StatusOK,
		retries:  c.cfg.Retries,
		interval: c.cfg.RetryInterval,
	}
	for _, opt := range opts {
		opt(&cl)
	}

	target, err := buildURL(rawURL, cl.query)
	if err != nil {
		return nil, err
	}

	backoff := retry.WithMaxRetries(uint64(max(cl.retries, 0)), retry.NewConstant(max(cl.interval, time.Nanosecond)))

	var (
		resp    *Response
		attempt int
	)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempt > 0 {
			c.log.Error("retry", "attempt", fmt.Sprintf("#%d", attempt), "method", method, "url", target)
		}
		attempt++

		r, err := c.do(ctx, method, target, &cl)
		if err != nil {
			c.log.Error("http request", "method", method, "url", target, "error", err)
			return retry.RetryableError(err)
		}
		if r.StatusCode != cl.status {
			c.log.Error("unexpected status", "method", method, "url", target,
				"status", r.StatusCode, "reason", http.StatusText(r.StatusCode))
			return retry.RetryableError(fmt.Errorf("unexpected status %d", r.StatusCode))
		}
		resp = r
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, target, ctx.Err())
		}
		return nil, fmt.Errorf("%s %s after %d attempts: %w: %w", method, target, attempt, ErrNoResponse, err)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, target string, cl *call) (*Response, error) {
	var body io.Reader = http.NoBody
	if cl.form != nil {
		body = strings.NewReader(cl.form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range cl.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if cl.form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func buildURL(rawURL string, query url.Values) (string, error) {
	if len(query) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
