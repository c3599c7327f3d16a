package boatrace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultPacing         = time.Second
	DefaultCacheWindow    = 5 * time.Minute
	DefaultRequestTimeout = 30 * time.Second
)

// Client is a paced JSON client for the prediction API. Successful GET
// bodies are cached per URL and served back when a later request to the same
// URL fails within the cache window.
type Client struct {
	client      *http.Client
	baseURL     string
	headers     map[string]string
	pacing      time.Duration
	cacheWindow time.Duration

	limiter *rate.Limiter
	cache   *responseCache
	conn    *Connectivity
	metrics *Metrics
	logger  zerolog.Logger
	now     func() time.Time

	issuedMu    sync.Mutex
	lastRequest time.Time

	queueMu  sync.Mutex
	queue    []*RequestRecord
	draining bool
}

type Option func(*Client)

// WithTimeout sets custom timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

// WithHeader adds custom header
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithPacing sets the minimum spacing between outbound requests. Zero
// disables pacing.
func WithPacing(d time.Duration) Option {
	return func(c *Client) {
		c.pacing = d
	}
}

// WithCacheWindow sets the maximum age of a cached body that may still be
// served after a failure.
func WithCacheWindow(d time.Duration) Option {
	return func(c *Client) {
		c.cacheWindow = d
	}
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.client.Transport = rt
	}
}

// WithConnectivity shares connectivity state with other components.
func WithConnectivity(conn *Connectivity) Option {
	return func(c *Client) {
		c.conn = conn
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a new client with default configurations
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		client: &http.Client{
			Timeout: DefaultRequestTimeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: map[string]string{
			"Content-Type": "application/json",
		},
		pacing:      DefaultPacing,
		cacheWindow: DefaultCacheWindow,
		cache:       newResponseCache(),
		logger:      zerolog.Nop(),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.conn == nil {
		c.conn = NewConnectivity(true)
	}
	c.limiter = rate.NewLimiter(rate.Every(c.pacing), 1)
	c.conn.Subscribe(func(online bool) {
		if online {
			c.drainQueue()
		}
	})

	return c
}

// RequestOptions overrides the defaults of a single request.
type RequestOptions struct {
	Method string            // GET when empty
	Header map[string]string // merged over the client headers
	Body   any               // encoded as JSON; []byte and json.RawMessage are sent as is
}

func (o *RequestOptions) method() string {
	if o == nil || o.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(o.Method)
}

// Request issues a request to endpoint, relative to the base URL, and
// returns the JSON body. Failed requests fall back to a cached body for the
// same URL if it is within the cache window.
func (c *Client) Request(ctx context.Context, endpoint string, opts *RequestOptions) (json.RawMessage, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	method := opts.method()
	url := c.baseURL + endpoint

	if !c.conn.Online() {
		c.metrics.observeRequest(method, outcomeOffline)
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, ErrNetworkUnavailable)
	}

	if err := c.pace(ctx); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}

	// Connectivity may have changed while waiting for the slot.
	if !c.conn.Online() {
		c.metrics.observeRequest(method, outcomeOffline)
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, ErrNetworkUnavailable)
	}

	payload, err := encodeBody(opts.Body)
	if err != nil {
		c.metrics.observeRequest(method, outcomeFailed)
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	body, err := c.send(ctx, method, url, opts.Header, payload)
	if err != nil {
		// A caller that gave up gets its own error, not stale data.
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.metrics.observeRequest(method, outcomeFailed)
			return nil, fmt.Errorf("%s %s: %w", method, endpoint, ctxErr)
		}
		now := c.now()
		if entry, ok := c.cache.fresh(url, c.cacheWindow, now); ok {
			c.logger.Warn().Err(err).Str("url", url).Dur("age", entry.Age(now)).Msg("Serving cached response after failure.")
			c.metrics.observeRequest(method, outcomeFallback)
			return entry.Data, nil
		}
		c.metrics.observeRequest(method, outcomeFailed)
		return nil, err
	}

	if method == http.MethodGet {
		c.cache.put(url, body, c.now())
	}
	c.metrics.observeRequest(method, outcomeOK)
	return body, nil
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.Request(ctx, path, nil)
}

// Post performs a POST request
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.Request(ctx, path, &RequestOptions{Method: http.MethodPost, Body: body})
}

// LastRequestAt returns when the most recent request was released by the
// pacer. It never moves backwards.
func (c *Client) LastRequestAt() time.Time {
	c.issuedMu.Lock()
	defer c.issuedMu.Unlock()
	return c.lastRequest
}

// Connectivity returns the state the client consults before every request.
func (c *Client) Connectivity() *Connectivity {
	return c.conn
}

// pace blocks until the limiter grants the next slot. The slot time is
// recorded as the last request time even if ctx ends first.
func (c *Client) pace(ctx context.Context) error {
	now := c.now()
	r := c.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	c.markIssued(now.Add(delay))
	c.metrics.observePacing(delay)

	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func (c *Client) markIssued(at time.Time) {
	c.issuedMu.Lock()
	if at.After(c.lastRequest) {
		c.lastRequest = at
	}
	c.issuedMu.Unlock()
}

// send performs one round trip and classifies the outcome.
func (c *Client) send(ctx context.Context, method, url string, header map[string]string, payload []byte) (json.RawMessage, error) {
	resp, err := c.doRequest(ctx, method, url, header, payload)
	if err != nil {
		return nil, &RequestFailedError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestFailedError{URL: url, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var statusErr error
		if text := http.StatusText(resp.StatusCode); text != "" {
			statusErr = errors.New(text)
		}
		return nil, &RequestFailedError{URL: url, StatusCode: resp.StatusCode, Err: statusErr}
	}

	if !json.Valid(data) {
		return nil, &MalformedResponseError{URL: url, Err: errors.New("body is not valid JSON")}
	}

	return json.RawMessage(data), nil
}

// doRequest performs the HTTP request
func (c *Client) doRequest(ctx context.Context, method, url string, header map[string]string, payload []byte) (*http.Response, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	return c.client.Do(req)
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	default:
		return json.Marshal(body)
	}
}
