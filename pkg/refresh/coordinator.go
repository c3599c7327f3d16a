// Package refresh decides when the prediction API is polled: on a timer in
// automatic mode, or only on explicit request in manual mode.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultInitAttempts = 3
	DefaultRetryDelay   = 2 * time.Second
)

var (
	// ErrInitFailed wraps the last error once every startup attempt failed.
	ErrInitFailed = errors.New("initial load failed")
	ErrStopped    = errors.New("coordinator stopped")
)

type Mode int

const (
	Manual Mode = iota
	Automatic
)

func (m Mode) String() string {
	if m == Automatic {
		return "automatic"
	}
	return "manual"
}

// ParseMode accepts "automatic"/"auto" and "manual".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "automatic", "auto":
		return Automatic, nil
	case "manual":
		return Manual, nil
	}
	return Manual, fmt.Errorf("unknown refresh mode %q", s)
}

type State int32

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "idle"
}

type Trigger string

const (
	TriggerInit   Trigger = "init"
	TriggerTimer  Trigger = "timer"
	TriggerManual Trigger = "manual"
)

// Config selects the refresh policy.
type Config struct {
	Mode Mode
	// Interval between automatic refreshes. Intervals under a minute run on
	// a ticker, longer ones on the cron scheduler.
	Interval time.Duration
	// CronSpec, when set, replaces Interval in automatic mode.
	CronSpec string
	// InitAttempts is the total number of startup attempts.
	InitAttempts int
	RetryDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Mode == Automatic && c.Interval == 0 && c.CronSpec == "" {
		c.Interval = DefaultInterval
	}
	if c.InitAttempts == 0 {
		c.InitAttempts = DefaultInitAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Validate checks a config after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.Interval < 0 {
		return fmt.Errorf("refresh interval must not be negative")
	}
	if c.InitAttempts < 1 {
		return fmt.Errorf("init attempts must be at least 1")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative")
	}
	if c.CronSpec != "" {
		if _, err := cron.ParseStandard(c.CronSpec); err != nil {
			return fmt.Errorf("invalid cron spec %q: %w", c.CronSpec, err)
		}
	}
	return nil
}

// Result is the outcome of one refresh attempt, handed to the renderer.
type Result struct {
	ID       uuid.UUID
	Trigger  Trigger
	Snapshot *Snapshot
	Err      error
	// Skipped is set when another refresh was already in flight; nothing
	// was loaded and Err is nil.
	Skipped bool
	At      time.Time
}

type Option func(*Coordinator)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithSession shares a session with the view layer.
func WithSession(s *Session) Option {
	return func(c *Coordinator) {
		c.session = s
	}
}

// WithResultBuffer sets how many undelivered results are kept before new
// ones are dropped.
func WithResultBuffer(n int) Option {
	return func(c *Coordinator) {
		c.bufSize = n
	}
}

// Coordinator runs refreshes under exactly one policy at a time and never
// lets two refreshes overlap.
type Coordinator struct {
	loader  Loader
	session *Session
	logger  zerolog.Logger
	metrics *Metrics
	bufSize int

	mu          sync.Mutex
	cfg         Config
	state       State
	started     bool
	initialized bool
	stopped     bool
	closed      bool
	gen         uint64
	stopTimer   func()
	cron        *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	inFlight atomic.Bool
	wg       sync.WaitGroup
	results  chan Result
}

// New creates an idle coordinator. Nothing is loaded until Start.
func New(loader Loader, cfg Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		loader:  loader,
		cfg:     cfg.withDefaults(),
		logger:  zerolog.Nop(),
		bufSize: 16,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.session == nil {
		c.session = NewSession()
	}
	c.results = make(chan Result, c.bufSize)
	c.cron = cron.New(
		cron.WithLogger(cronLogger{logger: c.logger}),
		cron.WithChain(cron.Recover(cronLogger{logger: c.logger})),
	)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Results delivers the outcome of startup attempts and timer refreshes. It
// is closed by Stop.
func (c *Coordinator) Results() <-chan Result {
	return c.results
}

func (c *Coordinator) Session() *Session {
	return c.session
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// InFlight reports whether a refresh is running.
func (c *Coordinator) InFlight() bool {
	return c.inFlight.Load()
}

// Start runs the startup load, retrying up to the configured number of
// attempts with a fixed delay between them. On success the refresh policy is
// installed. After the last failure the coordinator stays Failed and only
// Refresh can load again.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	c.started = true
	attempts, delay := c.cfg.InitAttempts, c.cfg.RetryDelay
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= attempts; {
		if lastErr != nil {
			c.logger.Warn().Err(lastErr).Int("attempt", attempt).Int("of", attempts).Dur("delay", delay).Msg("Initial load failed, retrying.")
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}
		if c.isInitialized() {
			// A manual refresh got there first.
			return nil
		}

		res := c.run(ctx, TriggerInit)
		if res.Skipped {
			// Another refresh holds the flag. Its outcome decides whether
			// this attempt is still needed; the attempt is not used up.
			if err := c.waitIdle(ctx); err != nil {
				return err
			}
			if c.isInitialized() {
				return nil
			}
			continue
		}
		c.publish(res)
		if res.Err == nil {
			c.logger.Info().Int("attempt", attempt).Msg("Initial load complete.")
			return nil
		}
		lastErr = res.Err
		attempt++
	}

	c.logger.Error().Err(lastErr).Int("attempts", attempts).Msg("Initial load failed, giving up.")
	return fmt.Errorf("%w after %d attempts: %w", ErrInitFailed, attempts, lastErr)
}

// Refresh loads now. If a refresh is already in flight it returns a
// Skipped result without calling the loader. Refresh works in both modes and
// is the only way out of a failed startup.
func (c *Coordinator) Refresh(ctx context.Context) Result {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return Result{ID: uuid.New(), Trigger: TriggerManual, Err: ErrStopped, At: time.Now()}
	}
	return c.run(ctx, TriggerManual)
}

// SetMode swaps the refresh policy. Any pending timer is cancelled before the
// new policy is installed; refreshes already running are left to finish.
func (c *Coordinator) SetMode(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	c.cfg = cfg.withDefaults()
	c.installLocked()
	c.logger.Info().Str("mode", c.cfg.Mode.String()).Dur("interval", c.cfg.Interval).Str("cron", c.cfg.CronSpec).Msg("Refresh mode set.")
	return nil
}

// Stop cancels timers and running loads, waits for them to return and closes
// Results.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.cancelPolicyLocked()
	c.cancel()
	c.mu.Unlock()

	<-c.cron.Stop().Done()
	c.wg.Wait()

	c.mu.Lock()
	c.closed = true
	close(c.results)
	c.mu.Unlock()
}

func (c *Coordinator) isInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// run performs one guarded refresh.
func (c *Coordinator) run(ctx context.Context, trigger Trigger) Result {
	res := Result{ID: uuid.New(), Trigger: trigger}
	if !c.inFlight.CompareAndSwap(false, true) {
		res.Skipped = true
		res.At = time.Now()
		c.metrics.observe(trigger, "skipped")
		c.logger.Debug().Str("trigger", string(trigger)).Msg("Refresh already in flight, skipping.")
		return res
	}
	defer c.inFlight.Store(false)

	c.mu.Lock()
	initialized := c.initialized
	c.state = StateLoading
	c.mu.Unlock()

	sel := c.session.Selection()
	start := time.Now()
	if initialized {
		res.Snapshot, res.Err = c.loader.LoadLatest(ctx, sel)
	} else {
		res.Snapshot, res.Err = c.loader.LoadInitial(ctx, sel)
	}
	res.At = time.Now()

	c.mu.Lock()
	if res.Err != nil {
		c.state = StateFailed
	} else {
		c.state = StateReady
		if !c.initialized {
			c.initialized = true
			c.installLocked()
		}
	}
	c.mu.Unlock()

	if res.Err != nil {
		c.metrics.observe(trigger, "failed")
		c.logger.Error().Err(res.Err).Str("trigger", string(trigger)).Str("id", res.ID.String()).Msg("Refresh failed.")
		return res
	}
	c.session.Remember(res.Snapshot)
	c.metrics.observe(trigger, "ok")
	c.logger.Debug().Str("trigger", string(trigger)).Str("id", res.ID.String()).Dur("took", res.At.Sub(start)).Msg("Refresh complete.")
	return res
}

// installLocked replaces the current timer with the one cfg asks for. Only
// an initialized coordinator in automatic mode gets a timer.
func (c *Coordinator) installLocked() {
	c.cancelPolicyLocked()
	if c.stopped || !c.initialized || c.cfg.Mode != Automatic {
		return
	}
	gen := c.gen

	spec := c.cfg.CronSpec
	if spec == "" && c.cfg.Interval < time.Minute {
		ticker := time.NewTicker(c.cfg.Interval)
		stop := make(chan struct{})
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.wg.Add(1)
					go func() {
						defer c.wg.Done()
						c.tick(gen)
					}()
				case <-stop:
					return
				}
			}
		}()
		c.stopTimer = func() { close(stop) }
		return
	}

	if spec == "" {
		spec = "@every " + c.cfg.Interval.String()
	}
	id, err := c.cron.AddFunc(spec, func() { c.tick(gen) })
	if err != nil {
		c.logger.Error().Err(err).Str("spec", spec).Msg("Failed to schedule refreshes.")
		return
	}
	c.cron.Start()
	c.stopTimer = func() { c.cron.Remove(id) }
}

// cancelPolicyLocked removes the timer, if any. Ticks from older timers are
// ignored afterwards.
func (c *Coordinator) cancelPolicyLocked() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
	c.gen++
}

func (c *Coordinator) tick(gen uint64) {
	c.mu.Lock()
	current := gen == c.gen && !c.stopped
	c.mu.Unlock()
	if !current {
		return
	}
	c.publish(c.run(c.ctx, TriggerTimer))
}

// publish hands res to Results without blocking.
func (c *Coordinator) publish(res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.results <- res:
	default:
		c.logger.Warn().Str("trigger", string(res.Trigger)).Msg("Result buffer full, dropping refresh result.")
	}
}

// waitIdle returns once no refresh is in flight.
func (c *Coordinator) waitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for c.inFlight.Load() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrStopped
		}
	}
	return nil
}

// sleep waits for d, ctx or Stop, whichever comes first.
func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrStopped
	}
}
