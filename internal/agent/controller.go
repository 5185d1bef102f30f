package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jharju/weft/internal/contextstore"
	"github.com/jharju/weft/internal/domain"
	"github.com/jharju/weft/internal/eventlog"
)

// State is the controller lifecycle state.
type State string

const (
	StateStarting State = "starting"
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultActivityWindow = 20
)

// RetryPolicy governs backend failure handling.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries per run, including the first.
	MaxAttempts int
	// Backoff is the delay before the first retry.
	Backoff time.Duration
	// Multiplier scales the delay for each further retry.
	Multiplier float64
	// MaxBackoff caps the delay.
	MaxBackoff time.Duration
}

// DefaultRetry mirrors the scheduler defaults: three attempts, exponential
// backoff from one second, capped at two minutes.
var DefaultRetry = RetryPolicy{
	MaxAttempts: 3,
	Backoff:     time.Second,
	Multiplier:  2,
	MaxBackoff:  2 * time.Minute,
}

// delay returns the wait before retry attempt (2-based): backoff scaled by
// multiplier^(attempt-2), capped.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Backoff
	for i := 2; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if p.MaxBackoff > 0 && d > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// ControllerConfig configures one controller.
type ControllerConfig struct {
	Workflow     string
	ProjectDir   string
	SystemPrompt string
	// PollInterval is the inbox liveness floor. Zero means the 500ms default.
	PollInterval time.Duration
	// SendTimeout bounds one backend invocation. Zero means no controller
	// timeout (the backend may still impose its own).
	SendTimeout time.Duration
	Retry       RetryPolicy
	// ActivityWindow is how many recent public messages the prompt carries.
	ActivityWindow int
}

// Controller drives one agent: it watches the inbox, assembles prompts, and
// invokes the backend with retry. One goroutine per controller; Wake is safe
// from any goroutine.
type Controller struct {
	name    string
	backend Backend
	store   *contextstore.Store
	events  *eventlog.Log
	logger  *log.Logger
	cfg     ControllerConfig

	mu      sync.Mutex
	state   State
	pending bool
	wakeCh  chan struct{}
	done    chan struct{}
}

// NewController creates a controller for the named agent.
func NewController(name string, backend Backend, store *contextstore.Store, events *eventlog.Log, logger *log.Logger, cfg ControllerConfig) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ActivityWindow <= 0 {
		cfg.ActivityWindow = defaultActivityWindow
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetry
	}
	return &Controller{
		name:    name,
		backend: backend,
		store:   store,
		events:  events,
		logger:  logger,
		cfg:     cfg,
		state:   StateStarting,
		wakeCh:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Name returns the agent name.
func (c *Controller) Name() string { return c.name }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wake requests one run. Edge-triggered: wakes during a run coalesce into a
// single extra iteration. Wakes after stop begins are discarded.
func (c *Controller) Wake() {
	c.mu.Lock()
	switch c.state {
	case StateStopping, StateStopped, StateFailed:
		c.mu.Unlock()
		return
	}
	c.pending = true
	c.mu.Unlock()
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// takePending consumes and clears the pending-wake bit.
func (c *Controller) takePending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	c.pending = false
	return p
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start launches the controller loop. The loop exits when ctx is cancelled or
// the controller fails terminally.
func (c *Controller) Start(ctx context.Context) {
	go c.loop(ctx)
}

// Done is closed when the controller loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)
	c.setState(StateIdle)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.setState(StateStopping)
			c.setState(StateStopped)
			return
		case <-c.wakeCh:
		case <-ticker.C:
		}
		if !c.iterate(ctx) {
			return
		}
		// A wake that arrived mid-run left the pending bit set; run once
		// more rather than waiting for the next tick.
		c.mu.Lock()
		again := c.pending
		c.mu.Unlock()
		if again {
			select {
			case c.wakeCh <- struct{}{}:
			default:
			}
		}
	}
}

// iterate performs one run-loop step. Returns false when the controller has
// reached a terminal state.
func (c *Controller) iterate(ctx context.Context) bool {
	inbox, err := c.store.GetInbox(c.name)
	if err != nil {
		c.logger.Printf("Controller %s: inbox read: %v", c.name, err)
		return true
	}
	pending := c.takePending()
	if len(inbox) == 0 && !pending {
		c.setState(StateIdle)
		return true
	}

	c.setState(StateRunning)
	tentativeAck := ""
	if len(inbox) > 0 {
		tentativeAck = inbox[len(inbox)-1].ID
		// Seen marks delivery; the read cursor only advances after a
		// successful run.
		if err := c.store.MarkInboxSeen(c.name, tentativeAck); err != nil {
			c.logger.Printf("Controller %s: mark seen: %v", c.name, err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.cfg.Retry.delay(attempt)
			c.logger.Printf("Controller %s: retry %d/%d in %s", c.name, attempt, c.cfg.Retry.MaxAttempts, delay)
			select {
			case <-ctx.Done():
				c.setState(StateStopped)
				return false
			case <-time.After(delay):
			}
		}

		prompt, err := c.buildPrompt(inbox, attempt)
		if err != nil {
			c.logger.Printf("Controller %s: prompt assembly: %v", c.name, err)
			lastErr = err
			continue
		}

		sendCtx := ctx
		var cancel context.CancelFunc
		if c.cfg.SendTimeout > 0 {
			sendCtx, cancel = context.WithTimeout(ctx, c.cfg.SendTimeout)
		}
		res, err := c.backend.Send(sendCtx, prompt, SendOptions{System: c.cfg.SystemPrompt})
		if cancel != nil {
			cancel()
		}
		if err == nil {
			if res != nil && res.Content != "" {
				c.events.Output(c.name, res.Content)
			}
			if tentativeAck != "" {
				if err := c.store.AckInbox(c.name, tentativeAck); err != nil {
					c.logger.Printf("Controller %s: ack: %v", c.name, err)
				}
			}
			c.setState(StateIdle)
			return true
		}
		if ctx.Err() != nil {
			c.setState(StateStopped)
			return false
		}
		lastErr = err
		c.logger.Printf("Controller %s: attempt %d failed: %v", c.name, attempt, err)
	}

	c.logger.Printf("Controller %s: failed after %d attempts", c.name, c.cfg.Retry.MaxAttempts)
	c.events.System(domain.SenderSystem,
		fmt.Sprintf("Agent %s failed after %d attempts: %v", c.name, c.cfg.Retry.MaxAttempts, lastErr))
	c.setState(StateFailed)
	return false
}
