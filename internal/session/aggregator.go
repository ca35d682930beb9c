package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/relay/internal/transcript"
)

// AggregatorConfig tunes flushing and directive re-injection.
type AggregatorConfig struct {
	Topic            string
	SilenceThreshold time.Duration
	WordThreshold    int
	Directive        string
	DirectiveEvery   int
}

// Aggregator buffers final transcript fragments and publishes the unsent
// suffix when the flush policy fires. The buffer only grows; sent marks how
// much of it has been published.
type Aggregator struct {
	cfg       AggregatorConfig
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	// flushMu serializes flush publishes against Deactivate.
	flushMu sync.Mutex

	mu         sync.Mutex
	active     bool
	buffer     strings.Builder
	sent       int
	lastUpdate time.Time
	counter    int
	flushes    int
}

// FlushResult describes one completed flush.
type FlushResult struct {
	Text      string
	Directive bool
}

// AggregatorStats is a point-in-time view of aggregator state.
type AggregatorStats struct {
	Buffered int
	Sent     int
	Counter  int
	Flushes  int
}

// NewAggregator builds an inactive aggregator. now defaults to time.Now.
func NewAggregator(cfg AggregatorConfig, publisher Publisher, logger *slog.Logger, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	if publisher == nil {
		publisher = PublishFunc(func(context.Context, string, string) error { return nil })
	}
	return &Aggregator{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		now:       now,
	}
}

// Activate clears the buffer for a new session and starts accepting fragments.
// The directive counter carries over between sessions.
func (a *Aggregator) Activate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buffer.Reset()
	a.sent = 0
	a.lastUpdate = a.now()
	a.active = true
}

// Deactivate stops accepting fragments and flushes. It waits for an in-flight
// flush to finish publishing, so nothing is published once it returns.
func (a *Aggregator) Deactivate() {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	a.active = false
	a.mu.Unlock()
}

// Append adds one final fragment. It reports whether the fragment was kept.
func (a *Aggregator) Append(text string) bool {
	fragment := transcript.Fragment(text)
	if fragment == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return false
	}
	a.buffer.WriteString(fragment)
	a.lastUpdate = a.now()
	return true
}

// Due reports whether the flush policy fires at now: unsent text that has
// been quiet for longer than the silence threshold, or unsent text holding at
// least WordThreshold words.
func (a *Aggregator) Due(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return false
	}
	unsent := a.buffer.String()[a.sent:]
	if unsent == "" {
		return false
	}
	if now.Sub(a.lastUpdate) > a.cfg.SilenceThreshold {
		return true
	}
	return a.cfg.WordThreshold > 0 && transcript.WordCount(unsent) >= a.cfg.WordThreshold
}

// Flush publishes the unsent suffix, preceded by the directive when the
// counter reaches DirectiveEvery. It is a no-op when nothing is unsent.
func (a *Aggregator) Flush(ctx context.Context) (FlushResult, bool) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return FlushResult{}, false
	}
	buffered := a.buffer.String()
	if a.sent >= len(buffered) {
		a.mu.Unlock()
		return FlushResult{}, false
	}

	result := FlushResult{Text: buffered[a.sent:]}
	a.sent = len(buffered)
	a.lastUpdate = a.now()
	a.flushes++
	a.counter++
	if a.cfg.DirectiveEvery > 0 && a.counter >= a.cfg.DirectiveEvery {
		a.counter = 0
		result.Directive = strings.TrimSpace(a.cfg.Directive) != ""
	}
	a.mu.Unlock()

	if result.Directive {
		a.publish(ctx, a.cfg.Directive, "directive")
	}
	a.publish(ctx, result.Text, "transcript")
	return result, true
}

// PublishDirective publishes the directive outside the flush cadence.
func (a *Aggregator) PublishDirective(ctx context.Context) bool {
	if strings.TrimSpace(a.cfg.Directive) == "" {
		return false
	}
	a.publish(ctx, a.cfg.Directive, "directive")
	return true
}

// Stats returns a snapshot of buffer and counter state.
func (a *Aggregator) Stats() AggregatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AggregatorStats{
		Buffered: a.buffer.Len(),
		Sent:     a.sent,
		Counter:  a.counter,
		Flushes:  a.flushes,
	}
}

func (a *Aggregator) publish(ctx context.Context, payload string, kind string) {
	if err := a.publisher.Publish(ctx, a.cfg.Topic, payload); err != nil {
		if a.logger != nil {
			a.logger.Warn("publish failed", "kind", kind, "topic", a.cfg.Topic, "error", err.Error())
		}
		return
	}
	if a.logger != nil {
		a.logger.Debug("published", "kind", kind, "topic", a.cfg.Topic, "bytes", len(payload))
	}
}
