package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/relay/internal/fsm"
)

type published struct {
	topic   string
	payload string
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (r *recorder) Publish(_ context.Context, topic string, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, published{topic: topic, payload: payload})
	return r.err
}

func (r *recorder) on(topic string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, msg := range r.msgs {
		if msg.topic == topic {
			out = append(out, msg.payload)
		}
	}
	return out
}

func (r *recorder) count(topic string, payload string) int {
	n := 0
	for _, got := range r.on(topic) {
		if got == payload {
			n++
		}
	}
	return n
}

type fakeFeed struct {
	events   chan Event
	closeErr error
	closes   atomic.Int32
	once     sync.Once
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan Event, 16)}
}

func (f *fakeFeed) Events() <-chan Event { return f.events }

func (f *fakeFeed) Close() error {
	f.closes.Add(1)
	f.once.Do(func() { close(f.events) })
	return f.closeErr
}

type fakeSource struct {
	mu    sync.Mutex
	feeds []*fakeFeed
	err   error
	opens atomic.Int32
}

func (s *fakeSource) Open(context.Context) (Feed, error) {
	s.opens.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	feed := newFakeFeed()
	s.mu.Lock()
	s.feeds = append(s.feeds, feed)
	s.mu.Unlock()
	return feed, nil
}

func (s *fakeSource) last() *fakeFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeds[len(s.feeds)-1]
}

type fakeIndicator struct {
	startCues atomic.Int32
	stopCues  atomic.Int32
	errors    atomic.Int32
}

func (*fakeIndicator) ShowListening(context.Context)       {}
func (f *fakeIndicator) ShowError(context.Context, string) { f.errors.Add(1) }
func (f *fakeIndicator) CueStart(context.Context)          { f.startCues.Add(1) }
func (f *fakeIndicator) CueStop(context.Context)           { f.stopCues.Add(1) }
func (*fakeIndicator) Hide(context.Context)                {}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

func waitForState(t *testing.T, ctrl *Controller, desired fsm.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl.State() == desired {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s (current=%s)", desired, ctrl.State())
}

func waitForPublish(t *testing.T, rec *recorder, topic string, payload string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.count(topic, payload) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q on %s (got %q)", payload, topic, rec.on(topic))
}
