package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/logging"
)

// #region controller-struct
// Controller wraps a Driver with bounds checks, a background safety sampler,
// exclusive configuration sessions, and an always-available emergency stop.
type Controller struct {
	driver Driver
	caps   Capabilities
	cfg    Config
	logger *slog.Logger

	applyMu sync.Mutex // serializes driver.Apply for configure
	stopMu  sync.Mutex // serializes emergency stops; never waits on applyMu

	mu       sync.Mutex
	settings map[string]float64
	safeMode bool
	session  *Session

	triggered  atomic.Bool
	reason     atomic.Value // string
	lastSample atomic.Int64 // unix nanos
	lastHealth atomic.Pointer[Health]

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewController creates a controller. Call Start to begin background sampling.
func NewController(driver Driver, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * cfg.PollInterval
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.StopRetries < 0 {
		cfg.StopRetries = 0
	}
	caps := driver.Capabilities()
	return &Controller{
		driver:   driver,
		caps:     caps,
		cfg:      cfg,
		logger:   logging.New("hardware"),
		settings: caps.NominalSettings(),
	}
}

// #endregion controller-struct

// #region monitor
// Start launches the health sampler. It samples once before returning so the
// trigger flag is never uninitialised.
func (c *Controller) Start(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	c.stopCh = make(chan struct{})
	c.sample(ctx)

	c.wg.Add(1)
	go c.monitor(ctx)
	c.logger.Debug("safety sampler started", slog.Duration("interval", c.cfg.PollInterval))
}

// Stop halts the sampler and waits for it to exit.
func (c *Controller) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Controller) monitor(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample(ctx)
		}
	}
}

// sample reads driver health once. A failed read counts as a trigger.
func (c *Controller) sample(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()

	h, err := c.driver.Health(hctx)
	if err != nil {
		c.setTriggered(true, fmt.Sprintf("health read failed: %v", err))
		c.lastSample.Store(time.Now().UnixNano())
		return true
	}
	if h.SampledAt.IsZero() {
		h.SampledAt = time.Now()
	}
	tripped, why := c.cfg.Limits.Exceeded(h)
	c.setTriggered(tripped, why)
	c.lastHealth.Store(&h)
	c.lastSample.Store(time.Now().UnixNano())
	return tripped
}

func (c *Controller) setTriggered(v bool, why string) {
	was := c.triggered.Swap(v)
	c.reason.Store(why)
	if v && !was {
		c.logger.Warn("safety trigger raised", slog.String("reason", why))
	}
}

// SafetyTriggered polls the health signal. With the sampler running it never
// blocks; a stale sample counts as triggered. Without the sampler it reads
// the driver directly, bounded by OpTimeout.
func (c *Controller) SafetyTriggered() bool {
	if !c.running.Load() {
		return c.sample(context.Background())
	}
	if c.triggered.Load() {
		return true
	}
	last := time.Unix(0, c.lastSample.Load())
	if time.Since(last) > c.cfg.StaleAfter {
		c.setTriggered(true, "health sample stale")
		return true
	}
	return false
}

// TriggerReason describes the most recent trigger.
func (c *Controller) TriggerReason() string {
	s, _ := c.reason.Load().(string)
	return s
}

// #endregion monitor

// #region configure
// Configure applies settings. It is refused while a session holds
// configuration rights.
func (c *Controller) Configure(ctx context.Context, settings map[string]float64) error {
	c.mu.Lock()
	busy := c.session != nil
	c.mu.Unlock()
	if busy {
		return ErrBusy
	}
	return c.apply(ctx, settings)
}

func (c *Controller) apply(ctx context.Context, settings map[string]float64) error {
	if err := c.caps.Check(settings); err != nil {
		return err
	}

	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	opctx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()
	if err := c.driver.Apply(opctx, settings); err != nil {
		if errors.Is(opctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: configure", ErrOperationTimeout)
		}
		return fmt.Errorf("configure: %w", err)
	}

	c.mu.Lock()
	for k, v := range settings {
		c.settings[k] = v
	}
	c.safeMode = false
	c.mu.Unlock()

	c.logger.Info("configured", slog.Any("settings", settings))
	return nil
}

// #endregion configure

// #region stress-test
// StressTest runs load for at most d. Cancelling ctx preempts it; partial
// metrics are returned with the context error. Exceeding d+OpTimeout
// returns ErrOperationTimeout.
func (c *Controller) StressTest(ctx context.Context, d time.Duration, load []string) (map[string]float64, error) {
	if d <= 0 {
		return nil, &experiment.ConfigurationError{Msg: fmt.Sprintf("stress duration must be > 0, got %s", d)}
	}
	for _, l := range load {
		if !c.caps.HasLoad(l) {
			return nil, &experiment.ConfigurationError{Msg: fmt.Sprintf("unknown load generator %q", l)}
		}
	}

	opctx, cancel := context.WithTimeout(ctx, d+c.cfg.OpTimeout)
	defer cancel()

	metrics, err := c.driver.RunLoad(opctx, load, d)
	if err != nil {
		if ctx.Err() != nil {
			return metrics, fmt.Errorf("stress test preempted: %w", ctx.Err())
		}
		if errors.Is(opctx.Err(), context.DeadlineExceeded) {
			return metrics, fmt.Errorf("%w: stress test exceeded %s", ErrOperationTimeout, d+c.cfg.OpTimeout)
		}
		return metrics, fmt.Errorf("stress test: %w", err)
	}
	return metrics, nil
}

// #endregion stress-test

// #region status
// Status returns a copy of the controller state.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	settings := make(map[string]float64, len(c.settings))
	for k, v := range c.settings {
		settings[k] = v
	}
	safe := c.safeMode
	c.mu.Unlock()

	snap := Snapshot{
		Capabilities: c.caps,
		Settings:     settings,
		SafeMode:     safe,
		Triggered:    c.triggered.Load(),
	}
	if h := c.lastHealth.Load(); h != nil {
		snap.LastHealth = *h
	}
	return snap
}

// #endregion status

// #region emergency-stop
// EmergencyStop drives the hardware to its safe configuration. It ignores
// sessions and the caller's cancellation, retries up to StopRetries times,
// and is idempotent. A returned error wraps experiment.ErrEmergencyStopFailed.
func (c *Controller) EmergencyStop(ctx context.Context) error {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	safe := c.caps.SafeSettings()
	base := context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.StopRetries; attempt++ {
		opctx, cancel := context.WithTimeout(base, c.cfg.StopTimeout)
		lastErr = c.driver.Apply(opctx, safe)
		cancel()
		if lastErr == nil {
			c.mu.Lock()
			c.settings = safe
			c.safeMode = true
			c.mu.Unlock()
			c.logger.Warn("emergency stop applied", slog.Int("attempt", attempt+1))
			return nil
		}
		c.logger.Error("emergency stop attempt failed", slog.Int("attempt", attempt+1), slog.Any("error", lastErr))
	}
	return fmt.Errorf("%w: %v", experiment.ErrEmergencyStopFailed, lastErr)
}

// #endregion emergency-stop

// #region session
// Session holds exclusive configuration rights for one experiment cycle.
type Session struct {
	ID string
	c  *Controller
}

// Begin opens a session. Only one may be open at a time.
func (c *Controller) Begin(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil, ErrBusy
	}
	s := &Session{ID: uuid.New().String(), c: c}
	c.session = s
	return s, nil
}

// Configure applies settings under this session's rights.
func (s *Session) Configure(ctx context.Context, settings map[string]float64) error {
	s.c.mu.Lock()
	held := s.c.session == s
	s.c.mu.Unlock()
	if !held {
		return ErrSessionClosed
	}
	return s.c.apply(ctx, settings)
}

// Close releases configuration rights. Safe to call more than once.
func (s *Session) Close() {
	s.c.mu.Lock()
	if s.c.session == s {
		s.c.session = nil
	}
	s.c.mu.Unlock()
}

// #endregion session
