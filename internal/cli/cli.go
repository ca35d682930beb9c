// Package cli declares the relay command tree. Commands resolve into an
// Invocation that the app package executes.
package cli

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rbright/relay/internal/version"
)

type Command string

const (
	CommandServe     Command = "serve"
	CommandStatus    Command = "status"
	CommandStart     Command = "start"
	CommandStop      Command = "stop"
	CommandCapture   Command = "capture"
	CommandClipboard Command = "clipboard"
	CommandSend      Command = "send"
	CommandLink      Command = "link"
	CommandInspect   Command = "inspect"
	CommandDevices   Command = "devices"
	CommandDoctor    Command = "doctor"
	CommandVersion   Command = "version"
)

const defaultInspectLimit = 100

// Invocation is one parsed command line.
type Invocation struct {
	Command    Command
	ConfigPath string
	// Args holds positional arguments (send text, link, inspect pattern).
	Args []string
	// Local routes start/stop/capture/clipboard through the daemon socket
	// instead of the control topic.
	Local bool
	Limit int
}

// RunFunc executes a parsed invocation.
type RunFunc func(context.Context, Invocation) error

// UsageError reports arguments that never reached RunFunc.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// IsUsage reports whether err is a UsageError.
func IsUsage(err error) bool {
	var usage *UsageError
	return errors.As(err, &usage)
}

// Run parses args and executes the selected command through run.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer, run RunFunc) error {
	invoked := false
	root := NewRoot(func(ctx context.Context, inv Invocation) error {
		invoked = true
		return run(ctx, inv)
	})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	_, err := root.ExecuteContextC(ctx)
	if err != nil && !invoked {
		return &UsageError{Err: err}
	}
	return err
}

// NewRoot builds the command tree.
func NewRoot(run RunFunc) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "relay",
		Short:         "Relay speech, screen captures, and clipboard text onto a Redis bus",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: $XDG_CONFIG_HOME/relay/config.jsonc)")

	invoke := func(cmd *cobra.Command, name Command, args []string, mutate func(*Invocation)) error {
		inv := Invocation{Command: name, ConfigPath: configPath, Args: args}
		if mutate != nil {
			mutate(&inv)
		}
		return run(cmd.Context(), inv)
	}

	simple := func(name Command, short string) *cobra.Command {
		return &cobra.Command{
			Use:   string(name),
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return invoke(cmd, name, args, nil)
			},
		}
	}

	relayed := func(name Command, short string) *cobra.Command {
		var local bool
		cmd := &cobra.Command{
			Use:   string(name),
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return invoke(cmd, name, args, func(inv *Invocation) { inv.Local = local })
			},
		}
		cmd.Flags().BoolVar(&local, "local", false, "send through the local daemon socket instead of the control topic")
		return cmd
	}

	send := &cobra.Command{
		Use:   "send <text>",
		Short: "Publish raw text to the control topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd, CommandSend, []string{strings.Join(args, " ")}, nil)
		},
	}

	link := &cobra.Command{
		Use:   "link <url>",
		Short: "Publish a link whose page text the daemon relays",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd, CommandLink, args, nil)
		},
	}

	var limit int
	inspect := &cobra.Command{
		Use:   "inspect [pattern]",
		Short: "List stored keys with type, TTL, and size",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd, CommandInspect, args, func(inv *Invocation) { inv.Limit = limit })
		},
	}
	inspect.Flags().IntVar(&limit, "limit", defaultInspectLimit, "maximum number of keys to list (0 for all)")

	root.AddCommand(
		simple(CommandServe, "Run the relay daemon"),
		simple(CommandStatus, "Print the daemon session state"),
		relayed(CommandStart, "Start speech capture"),
		relayed(CommandStop, "Stop speech capture"),
		relayed(CommandCapture, "Take a screen capture"),
		relayed(CommandClipboard, "Relay the current clipboard text"),
		send,
		link,
		inspect,
		simple(CommandDevices, "List available input devices"),
		simple(CommandDoctor, "Run configuration and environment checks"),
		simple(CommandVersion, "Print version information"),
	)
	return root
}
