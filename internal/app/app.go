// Package app executes relay commands: it loads config, sets up logging,
// and wires the bus, session, capture, and dispatch components.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rbright/relay/internal/capture"
	"github.com/rbright/relay/internal/cli"
	"github.com/rbright/relay/internal/config"
	"github.com/rbright/relay/internal/logging"
	"github.com/rbright/relay/internal/session"
	"github.com/rbright/relay/internal/version"
)

// Runner executes one CLI invocation.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// Optional serve collaborators. Nil selects the real microphone feed,
	// screen capture, and desktop indicator.
	FeedSource    session.FeedSource
	CaptureSource capture.Source
	Indicator     session.Indicator
	// HTTPClient fetches relayed links. Nil uses a default client.
	HTTPClient *http.Client
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

// Execute returns the process exit code: 0 ok, 1 failure, 2 usage error.
func (r Runner) Execute(ctx context.Context, args []string) int {
	err := cli.Run(ctx, args, r.Stdout, r.Stderr, r.run)
	switch {
	case err == nil:
		return 0
	case cli.IsUsage(err):
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		fmt.Fprintln(r.Stderr, "Usage: relay [--config PATH] <command>  (see relay --help)")
		return 2
	default:
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
}

func (r Runner) run(ctx context.Context, inv cli.Invocation) error {
	switch inv.Command {
	case cli.CommandVersion:
		fmt.Fprintln(r.Stdout, version.String())
		return nil
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	}

	loaded, err := config.Load(inv.ConfigPath)
	if err != nil {
		return err
	}

	console := io.Writer(nil)
	if inv.Command == cli.CommandServe && loaded.Config.Log.Console {
		console = r.Stderr
	}
	logRuntime, err := logging.New(logging.Options{Level: loaded.Config.Log.Level, Console: console})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	// Client commands only log warnings so their stdout/stderr stay scriptable.
	showWarnings := inv.Command == cli.CommandServe || inv.Command == cli.CommandDoctor
	for _, w := range loaded.Warnings {
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
		if !showWarnings {
			continue
		}
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
	}

	logger.Info("command start",
		"command", string(inv.Command),
		"config", loaded.Path,
		"log", logRuntime.Path,
	)

	cfg := loaded.Config
	switch inv.Command {
	case cli.CommandServe:
		return r.serve(ctx, cfg, logger)
	case cli.CommandDoctor:
		return r.commandDoctor(ctx, loaded)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStart, cli.CommandStop, cli.CommandCapture, cli.CommandClipboard:
		if inv.Local {
			return r.forwardOrFail(ctx, string(inv.Command))
		}
		return r.publishCommand(ctx, cfg, logger, controlToken(cfg.Commands, inv.Command))
	case cli.CommandSend:
		return r.publishCommand(ctx, cfg, logger, strings.Join(inv.Args, " "))
	case cli.CommandLink:
		return r.publishLink(ctx, cfg, logger, inv.Args[0])
	case cli.CommandInspect:
		pattern := cfg.Capture.KeyPrefix + "*"
		if len(inv.Args) > 0 {
			pattern = inv.Args[0]
		}
		return r.commandInspect(ctx, cfg, logger, pattern, inv.Limit)
	default:
		return fmt.Errorf("unsupported command %q", inv.Command)
	}
}

// controlToken maps a CLI command to its configured control-topic token.
func controlToken(commands config.CommandsConfig, command cli.Command) string {
	switch command {
	case cli.CommandStart:
		return commands.Start
	case cli.CommandStop:
		return commands.Stop
	case cli.CommandCapture:
		return commands.Capture
	case cli.CommandClipboard:
		return commands.Clipboard
	default:
		return ""
	}
}
