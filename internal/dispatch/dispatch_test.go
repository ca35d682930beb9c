package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/rbright/relay/internal/bus"
	"github.com/rbright/relay/internal/capture"
	"github.com/rbright/relay/internal/config"
	"github.com/rbright/relay/internal/fsm"
	"github.com/rbright/relay/internal/ipc"
	"github.com/rbright/relay/internal/session"
	"github.com/rbright/relay/internal/weblink"
)

const (
	relayTopic = "realtime:channel"
	linkTopic  = "url_channel"
)

type fakeSession struct {
	mu     sync.Mutex
	calls  []string
	state  fsm.State
	err    error
	result session.Outcome
}

func (s *fakeSession) Start(context.Context) (session.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "start")
	s.state = fsm.StateRunning
	if s.result != "" {
		return s.result, s.err
	}
	return session.OutcomeStarted, s.err
}

func (s *fakeSession) Stop(context.Context) (session.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "stop")
	s.state = fsm.StateStopped
	return session.OutcomeStopped, nil
}

func (s *fakeSession) Snapshot() session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	if state == "" {
		state = fsm.StateStopped
	}
	id := ""
	if state == fsm.StateRunning {
		id = "session-1"
	}
	return session.Snapshot{State: state, SessionID: id}
}

func (s *fakeSession) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fakeCapturer struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context) (capture.Result, error)
}

func (c *fakeCapturer) Capture(ctx context.Context) (capture.Result, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()
	if c.fn != nil {
		return c.fn(ctx)
	}
	return capture.Result{ID: "capture_1_1", Published: n%2 == 0, Pending: n % 2}, nil
}

func (c *fakeCapturer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeClipboard struct {
	text string
	err  error
}

func (c fakeClipboard) Read(context.Context) (string, error) {
	return c.text, c.err
}

type publishRecorder struct {
	mu       sync.Mutex
	payloads []string
	err      error
}

func (p *publishRecorder) Publish(_ context.Context, topic string, payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, topic+"|"+payload)
	return nil
}

func (p *publishRecorder) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.payloads...)
}

func newTestDispatcher(sess Session, capturer Capturer, clip ClipboardReader, pub session.Publisher) *Dispatcher {
	return New(Config{
		Commands:       config.Default().Commands,
		RelayTopic:     relayTopic,
		CommandTimeout: 200 * time.Millisecond,
	}, sess, capturer, clip, nil, pub, nil)
}

type fakeLinks struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, raw string) (weblink.Page, error)
}

func (l *fakeLinks) Fetch(ctx context.Context, raw string) (weblink.Page, error) {
	l.mu.Lock()
	l.calls = append(l.calls, raw)
	l.mu.Unlock()
	if l.fn != nil {
		return l.fn(ctx, raw)
	}
	return weblink.Page{URL: raw, Text: "page of " + raw, Lines: 1}, nil
}

func (l *fakeLinks) fetched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func newLinkDispatcher(sess Session, links LinkReader, pub session.Publisher) *Dispatcher {
	return New(Config{
		Commands:       config.Default().Commands,
		RelayTopic:     relayTopic,
		LinkTopic:      linkTopic,
		CommandTimeout: 200 * time.Millisecond,
	}, sess, &fakeCapturer{}, fakeClipboard{}, links, pub, nil)
}

func TestNormalizeTrimsAndFolds(t *testing.T) {
	require.Equal(t, "start speech", Normalize("  START Speech\n"))
	require.Equal(t, Normalize("Straße"), Normalize("STRASSE"))
	require.Empty(t, Normalize("   "))
}

func TestDispatchMatchesVocabulary(t *testing.T) {
	sess := &fakeSession{}
	capturer := &fakeCapturer{}
	d := newTestDispatcher(sess, capturer, fakeClipboard{text: "copied"}, &publishRecorder{})

	res := d.Dispatch(context.Background(), " Start Speech ")
	require.True(t, res.Matched)
	require.Equal(t, ActionStart, res.Action)
	require.Equal(t, string(session.OutcomeStarted), res.Outcome)

	res = d.Dispatch(context.Background(), "STOP SPEECH")
	require.Equal(t, ActionStop, res.Action)

	res = d.Dispatch(context.Background(), "screenshot")
	require.Equal(t, ActionCapture, res.Action)
	require.NoError(t, res.Err)
	require.Contains(t, res.Outcome, "pending")

	require.Equal(t, []string{"start", "stop"}, sess.recorded())
	require.Equal(t, 1, capturer.count())
}

func TestDispatchIgnoresUnknownCommands(t *testing.T) {
	sess := &fakeSession{}
	d := newTestDispatcher(sess, &fakeCapturer{}, fakeClipboard{}, &publishRecorder{})

	for _, raw := range []string{"", "start", "start speech now", "hello"} {
		res := d.Dispatch(context.Background(), raw)
		require.False(t, res.Matched, raw)
		require.NoError(t, res.Err)
	}
	require.Empty(t, sess.recorded())
}

func TestClipboardPublishesNonBlankText(t *testing.T) {
	pub := &publishRecorder{}
	d := newTestDispatcher(&fakeSession{}, &fakeCapturer{}, fakeClipboard{text: "  some copied text\n"}, pub)

	res := d.Dispatch(context.Background(), "clipboard")
	require.NoError(t, res.Err)
	require.Equal(t, "clipboard relayed", res.Outcome)
	require.Equal(t, []string{relayTopic + "|  some copied text\n"}, pub.all())
}

func TestClipboardBlankIsIgnored(t *testing.T) {
	pub := &publishRecorder{}
	d := newTestDispatcher(&fakeSession{}, &fakeCapturer{}, fakeClipboard{text: " \n\t"}, pub)

	res := d.Dispatch(context.Background(), "clipboard")
	require.NoError(t, res.Err)
	require.Equal(t, "clipboard empty", res.Outcome)
	require.Empty(t, pub.all())
}

func TestClipboardPublishFailureIsSwallowed(t *testing.T) {
	pub := &publishRecorder{err: errors.New("bus down")}
	d := newTestDispatcher(&fakeSession{}, &fakeCapturer{}, fakeClipboard{text: "text"}, pub)

	res := d.Dispatch(context.Background(), "clipboard")
	require.NoError(t, res.Err)
	require.Equal(t, "clipboard publish failed", res.Outcome)
}

func TestClipboardReadErrorIsReported(t *testing.T) {
	d := newTestDispatcher(&fakeSession{}, &fakeCapturer{}, fakeClipboard{err: errors.New("wl-paste missing")}, &publishRecorder{})

	res := d.Dispatch(context.Background(), "clipboard")
	require.True(t, res.Matched)
	require.EqualError(t, res.Err, "wl-paste missing")
}

func TestCaptureIsBoundedByCommandTimeout(t *testing.T) {
	capturer := &fakeCapturer{fn: func(ctx context.Context) (capture.Result, error) {
		<-ctx.Done()
		return capture.Result{}, ctx.Err()
	}}
	d := newTestDispatcher(&fakeSession{}, capturer, fakeClipboard{}, &publishRecorder{})

	started := time.Now()
	res := d.Dispatch(context.Background(), "screenshot")
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
	require.Less(t, time.Since(started), 2*time.Second)
}

func TestMissingCapturerFails(t *testing.T) {
	d := newTestDispatcher(&fakeSession{}, nil, nil, &publishRecorder{})

	require.Error(t, d.Dispatch(context.Background(), "screenshot").Err)
	require.Error(t, d.Dispatch(context.Background(), "clipboard").Err)
}

func TestRunProcessesMessagesInOrder(t *testing.T) {
	sess := &fakeSession{}
	d := newTestDispatcher(sess, &fakeCapturer{}, fakeClipboard{}, &publishRecorder{})

	messages := make(chan bus.Message, 4)
	messages <- bus.Message{Payload: "start speech"}
	messages <- bus.Message{Payload: "noise"}
	messages <- bus.Message{Payload: "stop speech"}
	messages <- bus.Message{Payload: "start speech"}
	close(messages)

	require.NoError(t, d.Run(context.Background(), messages))
	require.Equal(t, []string{"start", "stop", "start"}, sess.recorded())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	d := newTestDispatcher(&fakeSession{}, &fakeCapturer{}, fakeClipboard{}, &publishRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, make(chan bus.Message)) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunConsumesBusSubscription(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := bus.Dial(context.Background(), bus.Options{Addr: mr.Addr(), DialTimeout: time.Second}, nil)
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.Subscribe(context.Background(), "realtime:alerts")
	require.NoError(t, err)
	defer sub.Close()

	capturer := &fakeCapturer{}
	d := newTestDispatcher(&fakeSession{}, capturer, fakeClipboard{}, &publishRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx, sub.Messages()) }()

	require.NoError(t, client.Publish(context.Background(), "realtime:alerts", "Screenshot"))
	require.NoError(t, client.Publish(context.Background(), "realtime:alerts", "screenshot"))
	require.Eventually(t, func() bool { return capturer.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandleStatusAndCommands(t *testing.T) {
	sess := &fakeSession{}
	pub := &publishRecorder{}
	d := newTestDispatcher(sess, &fakeCapturer{}, fakeClipboard{text: "hi"}, pub)

	resp := d.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, resp.OK)
	require.Equal(t, "stopped", resp.State)

	resp = d.Handle(context.Background(), ipc.Request{Command: ipc.CommandStart})
	require.True(t, resp.OK)
	require.Equal(t, "running", resp.State)
	require.Equal(t, "session-1", resp.SessionID)
	require.Equal(t, "started", resp.Message)

	resp = d.Handle(context.Background(), ipc.Request{Command: ipc.CommandClipboard})
	require.True(t, resp.OK)
	require.Equal(t, []string{relayTopic + "|hi"}, pub.all())

	resp = d.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.True(t, resp.OK)
	require.Equal(t, "stopped", resp.State)
}

func TestHandleReportsErrors(t *testing.T) {
	sess := &fakeSession{err: session.ErrProviderConnect, result: session.OutcomeFailed}
	d := newTestDispatcher(sess, &fakeCapturer{}, fakeClipboard{}, &publishRecorder{})

	resp := d.Handle(context.Background(), ipc.Request{Command: ipc.CommandStart})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "provider connect")

	resp = d.Handle(context.Background(), ipc.Request{Command: "reboot"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command")
}

func TestRelayLinkPublishesPageText(t *testing.T) {
	links := &fakeLinks{}
	pub := &publishRecorder{}
	d := newLinkDispatcher(&fakeSession{}, links, pub)

	res := d.RelayLink(context.Background(), "  https://example.com/a \n")
	require.NoError(t, res.Err)
	require.Equal(t, ActionLink, res.Action)
	require.Equal(t, "link relayed (1 lines)", res.Outcome)
	require.Equal(t, []string{"https://example.com/a"}, links.fetched())
	require.Equal(t, []string{relayTopic + "|page of https://example.com/a"}, pub.all())
}

func TestRelayLinkRejectsNonHTTPLinks(t *testing.T) {
	links := &fakeLinks{}
	pub := &publishRecorder{}
	d := newLinkDispatcher(&fakeSession{}, links, pub)

	for _, raw := range []string{"start speech", "ftp://example.com/file", ""} {
		res := d.RelayLink(context.Background(), raw)
		require.ErrorIs(t, res.Err, weblink.ErrUnsupportedURL, raw)
		require.Equal(t, "invalid link", res.Outcome)
	}
	require.Empty(t, links.fetched())
	require.Empty(t, pub.all())
}

func TestRelayLinkSkipsEmptyPagesAndFetchErrors(t *testing.T) {
	pub := &publishRecorder{}
	empty := newLinkDispatcher(&fakeSession{}, &fakeLinks{fn: func(context.Context, string) (weblink.Page, error) {
		return weblink.Page{Text: "  "}, nil
	}}, pub)
	res := empty.RelayLink(context.Background(), "https://example.com")
	require.NoError(t, res.Err)
	require.Equal(t, "page empty", res.Outcome)

	failing := newLinkDispatcher(&fakeSession{}, &fakeLinks{fn: func(context.Context, string) (weblink.Page, error) {
		return weblink.Page{}, errors.New("status 500")
	}}, pub)
	res = failing.RelayLink(context.Background(), "https://example.com")
	require.EqualError(t, res.Err, "status 500")
	require.Empty(t, pub.all())
}

func TestRelayLinkPublishFailureIsSwallowed(t *testing.T) {
	d := newLinkDispatcher(&fakeSession{}, &fakeLinks{}, &publishRecorder{err: errors.New("bus down")})

	res := d.RelayLink(context.Background(), "https://example.com")
	require.NoError(t, res.Err)
	require.Equal(t, "link publish failed", res.Outcome)
}

func TestRelayLinkIsBoundedByCommandTimeout(t *testing.T) {
	links := &fakeLinks{fn: func(ctx context.Context, _ string) (weblink.Page, error) {
		<-ctx.Done()
		return weblink.Page{}, ctx.Err()
	}}
	d := newLinkDispatcher(&fakeSession{}, links, &publishRecorder{})

	started := time.Now()
	res := d.RelayLink(context.Background(), "https://example.com")
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
	require.Less(t, time.Since(started), 2*time.Second)
}

func TestRelayLinkWithoutReaderFails(t *testing.T) {
	d := newTestDispatcher(&fakeSession{}, &fakeCapturer{}, fakeClipboard{}, &publishRecorder{})

	res := d.RelayLink(context.Background(), "https://example.com")
	require.Error(t, res.Err)
}

func TestRunRoutesLinkTopicSeparately(t *testing.T) {
	sess := &fakeSession{}
	links := &fakeLinks{}
	pub := &publishRecorder{}
	d := newLinkDispatcher(sess, links, pub)

	messages := make(chan bus.Message, 3)
	messages <- bus.Message{Topic: linkTopic, Payload: "start speech"}
	messages <- bus.Message{Topic: linkTopic, Payload: "https://example.com"}
	messages <- bus.Message{Topic: "realtime:alerts", Payload: "https://example.com"}
	close(messages)

	require.NoError(t, d.Run(context.Background(), messages))
	require.Empty(t, sess.recorded())
	require.Equal(t, []string{"https://example.com"}, links.fetched())
	require.Equal(t, []string{relayTopic + "|page of https://example.com"}, pub.all())
}

func TestRunRelaysLinkPagesFromBus(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		for i := 1; i <= 120; i++ {
			fmt.Fprintf(w, "<p>line %d</p>\n", i)
		}
	}))
	defer page.Close()

	mr := miniredis.RunT(t)
	client, err := bus.Dial(context.Background(), bus.Options{Addr: mr.Addr(), DialTimeout: time.Second}, nil)
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.Subscribe(context.Background(), "realtime:alerts", linkTopic)
	require.NoError(t, err)
	defer sub.Close()
	relayed, err := client.Subscribe(context.Background(), relayTopic)
	require.NoError(t, err)
	defer relayed.Close()

	d := New(Config{
		Commands:       config.Default().Commands,
		RelayTopic:     relayTopic,
		LinkTopic:      linkTopic,
		CommandTimeout: 2 * time.Second,
	}, &fakeSession{}, &fakeCapturer{}, fakeClipboard{}, weblink.NewFetcher(page.Client(), 0), client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx, sub.Messages()) }()

	require.NoError(t, client.Publish(context.Background(), linkTopic, page.URL))

	select {
	case msg := <-relayed.Messages():
		lines := strings.Split(msg.Payload, "\n")
		require.Len(t, lines, weblink.DefaultMaxLines)
		require.Equal(t, "line 1", lines[0])
		require.Equal(t, "line 100", lines[len(lines)-1])
	case <-time.After(3 * time.Second):
		t.Fatal("link text was not relayed")
	}
}
