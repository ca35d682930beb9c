package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/relay/internal/audio"
	"github.com/rbright/relay/internal/bus"
	"github.com/rbright/relay/internal/config"
	"github.com/rbright/relay/internal/doctor"
	"github.com/rbright/relay/internal/ipc"
	"github.com/rbright/relay/internal/weblink"
)

const forwardTimeout = 20 * time.Second

func (r Runner) commandDevices(ctx context.Context) error {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return errors.New("no audio devices found")
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r Runner) commandDoctor(ctx context.Context, loaded config.Loaded) error {
	report := doctor.Run(ctx, loaded)
	fmt.Fprintln(r.Stdout, report.String())
	if !report.OK() {
		return errors.New("doctor checks failed")
	}
	return nil
}

// commandStatus prints the daemon state, or "not running" when no daemon
// owns the socket.
func (r Runner) commandStatus(ctx context.Context) error {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "not running")
		return nil
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus, time.Second)
	if !handled {
		fmt.Fprintln(r.Stdout, "not running")
		return nil
	}
	if err != nil {
		return err
	}

	state := resp.State
	if state == "" {
		state = "unknown"
	}
	if resp.SessionID != "" {
		fmt.Fprintf(r.Stdout, "%s session=%s\n", state, resp.SessionID)
		return nil
	}
	fmt.Fprintln(r.Stdout, state)
	return nil
}

func (r Runner) forwardOrFail(ctx context.Context, command string) error {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return err
	}

	resp, handled, err := tryForward(ctx, socketPath, command, forwardTimeout)
	if !handled {
		return errors.New("relay daemon is not running")
	}
	if err != nil {
		return err
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return nil
}

// publishCommand sends one token to the control topic.
func (r Runner) publishCommand(ctx context.Context, cfg config.Config, logger *slog.Logger, token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("command text is empty")
	}
	return r.publish(ctx, cfg, logger, cfg.Topics.Control, token)
}

// publishLink sends one link to the link topic after validating it locally.
func (r Runner) publishLink(ctx context.Context, cfg config.Config, logger *slog.Logger, raw string) error {
	if cfg.Topics.URL == "" {
		return errors.New("link relay is disabled (topics.url is empty)")
	}
	link, err := weblink.ParseLink(raw)
	if err != nil {
		return err
	}
	return r.publish(ctx, cfg, logger, cfg.Topics.URL, link.String())
}

func (r Runner) publish(ctx context.Context, cfg config.Config, logger *slog.Logger, topic string, payload string) error {
	client, err := bus.Dial(ctx, bus.OptionsFromConfig(cfg.Bus), logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.Publish(ctx, topic, payload); err != nil {
		return err
	}
	logger.Info("published", "topic", topic, "payload", payload)
	fmt.Fprintf(r.Stdout, "published %q to %s\n", payload, topic)
	return nil
}

// tryForward reports handled=false when no daemon owns the socket.
func tryForward(ctx context.Context, socketPath string, command string, timeout time.Duration) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, timeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}
	if ipc.IsNotRunning(err) {
		return ipc.Response{}, false, nil
	}
	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}
