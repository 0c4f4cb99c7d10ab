package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	maxIdleConns     = 10
	timeoutInSeconds = 30

	// UserAgent is the browser identity presented on every outbound call.
	UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

var defaultHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
}

// Config is the explicit, injectable HTTP configuration shared by all
// pipeline stages. Zero value gets browser-like defaults.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	ProxyURL  string
	Headers   map[string]string
}

// Client wraps http.Client with browser-like headers and optional
// request/response debug logging.
type Client struct {
	hc      *http.Client
	cfg     Config
	headers map[string]string
}

// New creates a Client from the given config. An invalid proxy URL is a
// configuration error, not a network error.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = timeoutInSeconds * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	if cfg.ProxyURL != "" {
		p, err := url.Parse(cfg.ProxyURL)
		if err != nil || p.Scheme == "" || p.Host == "" {
			return nil, errors.Errorf("invalid proxy URL: %s", cfg.ProxyURL)
		}
		transport.Proxy = http.ProxyURL(p)
	}

	headers := make(map[string]string, len(defaultHeaders)+len(cfg.Headers))
	for k, v := range defaultHeaders {
		headers[k] = v
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &Client{
		hc: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		cfg:     cfg,
		headers: headers,
	}, nil
}

// Response is the fully-read result of a single HTTP exchange. Callers
// decide what a non-2xx status means for their stage.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transient reports whether the status looks like a server-side hiccup
// worth an immediate retry.
func (r *Response) Transient() bool {
	return r.StatusCode >= 500
}

func (c *Client) Get(ctx context.Context, target string) (*Response, error) {
	return c.do(ctx, http.MethodGet, target, "", nil)
}

// PostForm sends an application/x-www-form-urlencoded POST.
func (c *Client) PostForm(ctx context.Context, target string, form url.Values) (*Response, error) {
	return c.do(ctx, http.MethodPost, target, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
}

// PostJSON sends an application/json POST with the marshaled payload.
func (c *Client) PostJSON(ctx context.Context, target string, payload any) (*Response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request payload")
	}
	return c.do(ctx, http.MethodPost, target, "application/json", bytes.NewReader(b))
}

func (c *Client) do(ctx context.Context, method, target, contentType string, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s request: %s", method, target)
	}

	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	slog.Debug("<Request>", "method", method, "url", target)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s failed", method, target)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read response from: %s", target)
	}

	slog.Debug("<Response>", "status", resp.StatusCode, "bytes", len(b))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       b,
	}, nil
}
