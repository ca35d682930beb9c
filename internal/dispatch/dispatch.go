// Package dispatch maps control commands from the bus and the local socket
// onto session, capture, and clipboard actions, and relays links posted to
// the link topic.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/rbright/relay/internal/bus"
	"github.com/rbright/relay/internal/capture"
	"github.com/rbright/relay/internal/config"
	"github.com/rbright/relay/internal/ipc"
	"github.com/rbright/relay/internal/session"
	"github.com/rbright/relay/internal/weblink"
)

// Action is a dispatchable command kind.
type Action string

const (
	ActionStart     Action = "start"
	ActionStop      Action = "stop"
	ActionCapture   Action = "capture"
	ActionClipboard Action = "clipboard"
	ActionLink      Action = "link"
)

// Session is the controller surface used by the dispatcher.
type Session interface {
	Start(ctx context.Context) (session.Outcome, error)
	Stop(ctx context.Context) (session.Outcome, error)
	Snapshot() session.Snapshot
}

// Capturer takes one screen capture.
type Capturer interface {
	Capture(ctx context.Context) (capture.Result, error)
}

// ClipboardReader returns the current clipboard text.
type ClipboardReader interface {
	Read(ctx context.Context) (string, error)
}

// LinkReader extracts the text behind a link.
type LinkReader interface {
	Fetch(ctx context.Context, raw string) (weblink.Page, error)
}

// Config wires vocabulary and limits.
type Config struct {
	Commands   config.CommandsConfig
	RelayTopic string
	// LinkTopic messages are links, not commands. Empty disables link relay.
	LinkTopic      string
	CommandTimeout time.Duration
}

// Result describes one dispatched message.
type Result struct {
	Command string
	Action  Action
	Matched bool
	Outcome string
	Err     error
}

// Dispatcher executes control commands one at a time.
type Dispatcher struct {
	cfg       Config
	vocab     map[string]Action
	session   Session
	capturer  Capturer
	clipboard ClipboardReader
	links     LinkReader
	publisher session.Publisher
	logger    *slog.Logger
}

// New constructs a dispatcher. Blank vocabulary entries never match.
func New(
	cfg Config,
	sess Session,
	capturer Capturer,
	clipboard ClipboardReader,
	links LinkReader,
	publisher session.Publisher,
	logger *slog.Logger,
) *Dispatcher {
	vocab := make(map[string]Action, 4)
	for raw, action := range map[string]Action{
		cfg.Commands.Start:     ActionStart,
		cfg.Commands.Stop:      ActionStop,
		cfg.Commands.Capture:   ActionCapture,
		cfg.Commands.Clipboard: ActionClipboard,
	} {
		if key := Normalize(raw); key != "" {
			vocab[key] = action
		}
	}

	return &Dispatcher{
		cfg:       cfg,
		vocab:     vocab,
		session:   sess,
		capturer:  capturer,
		clipboard: clipboard,
		links:     links,
		publisher: publisher,
		logger:    logger,
	}
}

// Normalize trims and case-folds a command token.
func Normalize(raw string) string {
	return cases.Fold().String(strings.TrimSpace(raw))
}

// Run dispatches messages in arrival order until ctx ends or messages closes.
func (d *Dispatcher) Run(ctx context.Context, messages <-chan bus.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if d.cfg.LinkTopic != "" && msg.Topic == d.cfg.LinkTopic {
				d.RelayLink(ctx, msg.Payload)
				continue
			}
			d.Dispatch(ctx, msg.Payload)
		}
	}
}

// Dispatch matches raw against the vocabulary and runs the action.
// Unmatched input is ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, raw string) Result {
	command := Normalize(raw)
	action, ok := d.vocab[command]
	if !ok {
		d.debug("ignoring unknown command", "command", command)
		return Result{Command: command}
	}

	d.info("command received", "command", command, "action", string(action))
	outcome, err := d.run(ctx, action)
	if err != nil {
		d.warn("command failed", "action", string(action), "error", err.Error())
	}
	return Result{
		Command: command,
		Action:  action,
		Matched: true,
		Outcome: outcome,
		Err:     err,
	}
}

// RelayLink fetches the page behind raw and publishes its text to the relay
// topic. Only http and https links are fetched.
func (d *Dispatcher) RelayLink(ctx context.Context, raw string) Result {
	link := strings.TrimSpace(raw)
	result := Result{Command: link, Action: ActionLink, Matched: true}
	if d.links == nil {
		result.Err = errors.New("link relay is not configured")
		return result
	}
	if _, err := weblink.ParseLink(link); err != nil {
		d.warn("ignoring invalid link", "link", link)
		result.Outcome = "invalid link"
		result.Err = err
		return result
	}

	fetchCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	d.info("link received", "link", link)
	page, err := d.links.Fetch(fetchCtx, link)
	if err != nil {
		d.warn("fetch link failed", "link", link, "error", err.Error())
		result.Err = err
		return result
	}
	if strings.TrimSpace(page.Text) == "" {
		d.info("link has no text, nothing relayed", "link", link)
		result.Outcome = "page empty"
		return result
	}

	if err := d.publisher.Publish(ctx, d.cfg.RelayTopic, page.Text); err != nil {
		d.warn("publish link text failed", "topic", d.cfg.RelayTopic, "error", err.Error())
		result.Outcome = "link publish failed"
		return result
	}
	d.info("link relayed",
		"topic", d.cfg.RelayTopic,
		"link", page.URL,
		"lines", page.Lines,
		"truncated", page.Truncated,
	)
	result.Outcome = fmt.Sprintf("link relayed (%d lines)", page.Lines)
	return result
}

// Handle serves local socket requests.
func (d *Dispatcher) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	var action Action
	switch strings.TrimSpace(req.Command) {
	case ipc.CommandStatus:
		return d.statusResponse("")
	case ipc.CommandStart:
		action = ActionStart
	case ipc.CommandStop:
		action = ActionStop
	case ipc.CommandCapture:
		action = ActionCapture
	case ipc.CommandClipboard:
		action = ActionClipboard
	default:
		return ipc.Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}

	outcome, err := d.run(ctx, action)
	resp := d.statusResponse(outcome)
	if err != nil {
		resp.OK = false
		resp.Error = err.Error()
	}
	return resp
}

func (d *Dispatcher) statusResponse(message string) ipc.Response {
	snapshot := d.session.Snapshot()
	return ipc.Response{
		OK:        true,
		State:     string(snapshot.State),
		SessionID: snapshot.SessionID,
		Message:   message,
	}
}

func (d *Dispatcher) run(ctx context.Context, action Action) (string, error) {
	switch action {
	case ActionStart:
		outcome, err := d.session.Start(ctx)
		return string(outcome), err
	case ActionStop:
		outcome, err := d.session.Stop(ctx)
		return string(outcome), err
	case ActionCapture:
		return d.capture(ctx)
	case ActionClipboard:
		return d.relayClipboard(ctx)
	default:
		return "", fmt.Errorf("unsupported action %q", action)
	}
}

func (d *Dispatcher) capture(ctx context.Context) (string, error) {
	if d.capturer == nil {
		return "", errors.New("screen capture is not configured")
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	result, err := d.capturer.Capture(ctx)
	if err != nil {
		return "", err
	}
	if result.Published {
		return "published " + result.ID, nil
	}
	return fmt.Sprintf("stored %s (%d pending)", result.ID, result.Pending), nil
}

func (d *Dispatcher) relayClipboard(ctx context.Context) (string, error) {
	if d.clipboard == nil {
		return "", errors.New("clipboard is not configured")
	}
	readCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	text, err := d.clipboard.Read(readCtx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		d.info("clipboard empty, nothing relayed")
		return "clipboard empty", nil
	}

	if err := d.publisher.Publish(ctx, d.cfg.RelayTopic, text); err != nil {
		d.warn("publish clipboard failed", "topic", d.cfg.RelayTopic, "error", err.Error())
		return "clipboard publish failed", nil
	}
	d.info("clipboard relayed", "topic", d.cfg.RelayTopic, "bytes", len(text))
	return "clipboard relayed", nil
}

func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.CommandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.CommandTimeout)
}

func (d *Dispatcher) info(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Info(msg, args...)
	}
}

func (d *Dispatcher) warn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}

func (d *Dispatcher) debug(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}
