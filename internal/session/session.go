// Package session owns the capture session lifecycle: starting and stopping
// the transcript feed and flushing its fragments to the bus.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/relay/internal/fsm"
)

// Outcome describes the effect of a Start or Stop call.
type Outcome string

const (
	OutcomeStarted        Outcome = "started"
	OutcomeAlreadyRunning Outcome = "already running"
	OutcomeFailed         Outcome = "failed"
	OutcomeStopped        Outcome = "stopped"
	OutcomeNotRunning     Outcome = "not running"
)

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	ShowListening(context.Context)
	ShowError(context.Context, string)
	CueStart(context.Context)
	CueStop(context.Context)
	Hide(context.Context)
}

// noopIndicator preserves session flow when no indicator is wired.
type noopIndicator struct{}

func (noopIndicator) ShowListening(context.Context)     {}
func (noopIndicator) ShowError(context.Context, string) {}
func (noopIndicator) CueStart(context.Context)          {}
func (noopIndicator) CueStop(context.Context)           {}
func (noopIndicator) Hide(context.Context)              {}

// Options configures a Controller.
type Options struct {
	StatusTopic  string
	PollInterval time.Duration
	Aggregator   AggregatorConfig
	// Now overrides the aggregator clock in tests.
	Now func() time.Time
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State     fsm.State
	SessionID string
	StartedAt time.Time
	Stats     AggregatorStats
}

// Failure notices relayed on the transcript topic.
const (
	NoticeStartFailed = "❌ Failed to start speech service: "
	NoticeFeedFailed  = "❌ Speech service stopped: "
	NoticeStopFailed  = "❌ Error stopping speech service: "
)

type run struct {
	id        string
	feed      Feed
	cancel    context.CancelFunc
	startedAt time.Time
}

// Controller is the capture session state machine. Start and Stop hold the
// session lock for the whole transition.
type Controller struct {
	logger      *slog.Logger
	source      FeedSource
	publisher   Publisher
	indicator   Indicator
	agg         *Aggregator
	statusTopic string
	poll        time.Duration

	mu      sync.Mutex
	current *run

	// stateMu guards state and the identity of the session being started
	// or running, so Snapshot never waits on a provider connect.
	stateMu   sync.RWMutex
	state     fsm.State
	sessionID string
	startedAt time.Time

	tasks sync.WaitGroup
}

// NewController constructs a session controller with safe default fallbacks.
func NewController(
	logger *slog.Logger,
	source FeedSource,
	publisher Publisher,
	indicator Indicator,
	opts Options,
) *Controller {
	if publisher == nil {
		publisher = PublishFunc(func(context.Context, string, string) error { return nil })
	}
	if indicator == nil {
		indicator = noopIndicator{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}

	return &Controller{
		logger:      logger,
		source:      source,
		publisher:   publisher,
		indicator:   indicator,
		agg:         NewAggregator(opts.Aggregator, publisher, logger, opts.Now),
		statusTopic: opts.StatusTopic,
		poll:        opts.PollInterval,
		state:       fsm.StateStopped,
	}
}

// Aggregator exposes the owned transcript aggregator.
func (c *Controller) Aggregator() *Aggregator {
	return c.agg
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Snapshot returns state plus session and buffer details.
func (c *Controller) Snapshot() Snapshot {
	c.stateMu.RLock()
	snap := Snapshot{State: c.state, SessionID: c.sessionID, StartedAt: c.startedAt}
	c.stateMu.RUnlock()

	snap.Stats = c.agg.Stats()
	return snap
}

func (c *Controller) setActive(r *run) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if r == nil {
		c.sessionID, c.startedAt = "", time.Time{}
		return
	}
	c.sessionID, c.startedAt = r.id, r.startedAt
}

func (c *Controller) transition(event fsm.Event) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

// Start opens the transcript feed and launches the feed and monitor tasks.
// Starting while running is a no-op. ctx bounds the provider connect only.
func (c *Controller) Start(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == fsm.StateRunning {
		c.warn("start ignored; session already running", "session_id", c.current.id)
		return OutcomeAlreadyRunning, nil
	}
	if err := c.transition(fsm.EventStart); err != nil {
		return OutcomeFailed, err
	}
	if c.source == nil {
		_ = c.transition(fsm.EventFail)
		return OutcomeFailed, fmt.Errorf("%w: no transcript source configured", ErrProviderConnect)
	}

	r := &run{id: uuid.NewString(), startedAt: time.Now()}
	c.setActive(r)
	c.publishStatus(ctx, StatusStarted)

	feed, err := c.source.Open(ctx)
	if err != nil {
		_ = c.transition(fsm.EventFail)
		c.setActive(nil)
		c.publishStatus(ctx, StatusStopped)
		c.notify(ctx, NoticeStartFailed+err.Error())
		c.indicator.ShowError(ctx, "Speech provider unavailable")
		c.warn("session start failed", "session_id", r.id, "error", err.Error())
		return OutcomeFailed, fmt.Errorf("%w: %v", ErrProviderConnect, err)
	}
	r.feed = feed

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	c.agg.Activate()
	if err := c.transition(fsm.EventConnected); err != nil {
		cancel()
		_ = feed.Close()
		c.setActive(nil)
		return OutcomeFailed, err
	}
	c.current = r

	c.tasks.Add(2)
	go c.feedLoop(runCtx, r)
	go c.monitorLoop(runCtx, r)

	c.indicator.CueStart(ctx)
	c.indicator.ShowListening(ctx)
	c.info("session started", "session_id", r.id)
	return OutcomeStarted, nil
}

// Stop releases the running session. Stopping while stopped is a no-op.
// Stop does not wait for the session tasks to exit; see Shutdown.
func (c *Controller) Stop(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(ctx, "requested")
}

// Shutdown stops any running session and waits for all session tasks.
func (c *Controller) Shutdown(ctx context.Context) error {
	if _, err := c.Stop(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for session tasks: %w", ctx.Err())
	}
}

func (c *Controller) stopLocked(ctx context.Context, reason string) (Outcome, error) {
	if c.State() != fsm.StateRunning {
		return OutcomeNotRunning, nil
	}
	if err := c.transition(fsm.EventStop); err != nil {
		return OutcomeFailed, err
	}

	r := c.current
	c.current = nil
	c.setActive(nil)

	c.agg.Deactivate()
	r.cancel()
	c.publishStatus(ctx, StatusStopped)
	if err := r.feed.Close(); err != nil {
		c.warn("close transcript feed failed", "session_id", r.id, "error", err.Error())
		c.notify(ctx, NoticeStopFailed+err.Error())
	}

	if err := c.transition(fsm.EventReleased); err != nil {
		return OutcomeFailed, err
	}

	c.indicator.CueStop(ctx)
	c.indicator.Hide(ctx)
	stats := c.agg.Stats()
	c.info("session stopped",
		"session_id", r.id,
		"reason", reason,
		"duration_ms", time.Since(r.startedAt).Milliseconds(),
		"buffered_bytes", stats.Buffered,
		"sent_bytes", stats.Sent,
	)
	return OutcomeStopped, nil
}

// autoStop stops r if it is still the current session.
func (c *Controller) autoStop(r *run, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != r {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = c.stopLocked(ctx, reason)
}

func (c *Controller) feedLoop(ctx context.Context, r *run) {
	defer c.tasks.Done()

	events := r.feed.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.autoStop(r, "feed closed")
				return
			}
			switch ev.Kind {
			case EventOpen:
				c.info("provider session open", "session_id", r.id, "provider_session_id", ev.ProviderSessionID)
			case EventFragment:
				if !ev.Final {
					c.debug("partial transcript", "session_id", r.id, "text", ev.Text)
					continue
				}
				c.agg.Append(ev.Text)
			case EventError:
				msg := "unknown provider error"
				if ev.Err != nil {
					msg = ev.Err.Error()
				}
				c.warn("transcript feed error", "session_id", r.id, "error", msg)
				c.indicator.ShowError(ctx, "Speech provider error")
				c.notify(ctx, NoticeFeedFailed+msg)
				c.autoStop(r, "feed error")
				return
			case EventClose:
				c.autoStop(r, "provider closed")
				return
			}
		}
	}
}

func (c *Controller) monitorLoop(ctx context.Context, r *run) {
	defer c.tasks.Done()

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.agg.Due(c.agg.now()) {
				continue
			}
			if res, ok := c.agg.Flush(ctx); ok {
				c.debug("flushed transcript", "session_id", r.id, "bytes", len(res.Text), "directive", res.Directive)
			}
		}
	}
}

func (c *Controller) publishStatus(ctx context.Context, status string) {
	if c.statusTopic == "" {
		return
	}
	if err := c.publisher.Publish(ctx, c.statusTopic, status); err != nil {
		c.warn("publish status failed", "status", status, "error", err.Error())
	}
}

// notify relays a failure notice on the transcript topic so remote readers
// see why dictation ended.
func (c *Controller) notify(ctx context.Context, text string) {
	if c.agg.cfg.Topic == "" {
		return
	}
	if err := c.publisher.Publish(ctx, c.agg.cfg.Topic, text); err != nil {
		c.warn("publish notice failed", "error", err.Error())
	}
}

func (c *Controller) info(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Controller) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Controller) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
