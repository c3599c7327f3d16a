package boatrace

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
)

// Connectivity is the online/offline state shared by every component that
// holds the same pointer. Subscribers are told about transitions only.
type Connectivity struct {
	online atomic.Bool

	mu   sync.Mutex
	subs []func(online bool)
}

func NewConnectivity(online bool) *Connectivity {
	c := &Connectivity{}
	c.online.Store(online)
	return c
}

func (c *Connectivity) Online() bool {
	return c.online.Load()
}

// Set records the new state and notifies subscribers in registration order
// when it differs from the old one.
func (c *Connectivity) Set(online bool) {
	if c.online.Swap(online) == online {
		return
	}
	c.mu.Lock()
	subs := append([]func(bool){}, c.subs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

func (c *Connectivity) Subscribe(fn func(online bool)) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

// RequestRecord is a request deferred while offline.
type RequestRecord struct {
	ID       uuid.UUID
	Endpoint string
	Options  *RequestOptions
	QueuedAt time.Time

	pending *Pending
}

// Pending is the eventual result of a request made with RequestWhenOnline.
type Pending struct {
	done chan struct{}
	body json.RawMessage
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(body json.RawMessage, err error) {
	p.body, p.err = body, err
	close(p.done)
}

// Done is closed once the result is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the request has completed or ctx ends. Abandoning the
// wait does not withdraw a queued request.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.body, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RequestWhenOnline dispatches the request now if the client is online and
// otherwise queues it until the next offline-to-online transition. Queued
// requests are replayed in FIFO order, each exactly once.
func (c *Client) RequestWhenOnline(endpoint string, opts *RequestOptions) *Pending {
	rec := &RequestRecord{
		ID:       uuid.New(),
		Endpoint: endpoint,
		Options:  opts,
		pending:  newPending(),
	}
	if c.conn.Online() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout+c.pacing)
			defer cancel()
			body, err := c.Request(ctx, endpoint, opts)
			if errors.Is(err, ErrNetworkUnavailable) {
				// Went offline before dispatch.
				c.enqueue(rec)
				return
			}
			rec.pending.resolve(body, err)
		}()
		return rec.pending
	}

	c.enqueue(rec)
	return rec.pending
}

// enqueue appends rec to the offline queue and starts a drain if the client
// is already back online.
func (c *Client) enqueue(rec *RequestRecord) {
	rec.QueuedAt = c.now()
	c.queueMu.Lock()
	c.queue = append(c.queue, rec)
	depth := len(c.queue)
	c.queueMu.Unlock()
	c.metrics.setQueueDepth(depth)
	c.logger.Debug().Str("id", rec.ID.String()).Str("endpoint", rec.Endpoint).Int("depth", depth).Msg("Queued request while offline.")

	// Connectivity may have returned between the check and the append.
	if c.conn.Online() {
		c.drainQueue()
	}
}

// QueueLen reports how many requests are waiting for connectivity.
func (c *Client) QueueLen() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.queue)
}

// drainQueue starts replaying queued requests unless a drain is running.
func (c *Client) drainQueue() {
	c.queueMu.Lock()
	if c.draining || len(c.queue) == 0 {
		c.queueMu.Unlock()
		return
	}
	c.draining = true
	c.queueMu.Unlock()

	go c.replay()
}

func (c *Client) replay() {
	for {
		c.queueMu.Lock()
		if len(c.queue) == 0 || !c.conn.Online() {
			c.draining = false
			c.queueMu.Unlock()
			return
		}
		rec := c.queue[0]
		c.queue = c.queue[1:]
		depth := len(c.queue)
		c.queueMu.Unlock()
		c.metrics.setQueueDepth(depth)

		ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout+c.pacing)
		body, err := c.Request(ctx, rec.Endpoint, rec.Options)
		cancel()

		if errors.Is(err, ErrNetworkUnavailable) {
			// Went offline before dispatch: keep the record at the head.
			c.queueMu.Lock()
			c.queue = append([]*RequestRecord{rec}, c.queue...)
			c.draining = false
			depth = len(c.queue)
			c.queueMu.Unlock()
			c.metrics.setQueueDepth(depth)
			// Online again already; the transition callback saw draining set.
			if c.conn.Online() {
				c.drainQueue()
			}
			return
		}

		c.logger.Debug().Str("id", rec.ID.String()).Str("endpoint", rec.Endpoint).Err(err).Msg("Replayed queued request.")
		rec.pending.resolve(body, err)
	}
}

// Prober derives connectivity from whether the API host accepts TCP
// connections. Dials honour ALL_PROXY and NO_PROXY.
type Prober struct {
	conn     *Connectivity
	address  string
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewProber builds a prober for the host of baseURL.
func NewProber(conn *Connectivity, baseURL string, interval time.Duration, logger zerolog.Logger) (*Prober, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, errors.New("base URL has no host")
	}
	if interval <= 0 {
		return nil, errors.New("probe interval must be positive")
	}
	host, port := u.Hostname(), u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	timeout := 5 * time.Second
	if interval < timeout {
		timeout = interval
	}
	return &Prober{
		conn:     conn,
		address:  net.JoinHostPort(host, port),
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Probe dials once and updates the connectivity state.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := proxy.Dial(ctx, "tcp", p.address)
	if err != nil {
		if p.conn.Online() {
			p.logger.Warn().Err(err).Str("address", p.address).Msg("API host unreachable, going offline.")
		}
		p.conn.Set(false)
		return false
	}
	_ = conn.Close()
	if !p.conn.Online() {
		p.logger.Info().Str("address", p.address).Msg("API host reachable, back online.")
	}
	p.conn.Set(true)
	return true
}

// Run probes immediately and then on every interval until ctx ends.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}
