package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func runArgs(t *testing.T, args ...string) (Invocation, string, error) {
	t.Helper()

	var (
		got Invocation
		out bytes.Buffer
	)
	err := Run(context.Background(), args, &out, &out, func(_ context.Context, inv Invocation) error {
		got = inv
		return nil
	})
	return got, out.String(), err
}

func TestRunCommandWithConfig(t *testing.T) {
	inv, _, err := runArgs(t, "--config", "/tmp/relay.jsonc", "doctor")
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, inv.Command)
	require.Equal(t, "/tmp/relay.jsonc", inv.ConfigPath)
}

func TestRunArgMatrix(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantCmd Command
		want    func(t *testing.T, inv Invocation)
	}{
		{name: "serve", args: []string{"serve"}, wantCmd: CommandServe},
		{name: "status", args: []string{"status"}, wantCmd: CommandStatus},
		{
			name:    "start over bus",
			args:    []string{"start"},
			wantCmd: CommandStart,
			want:    func(t *testing.T, inv Invocation) { require.False(t, inv.Local) },
		},
		{
			name:    "stop local",
			args:    []string{"stop", "--local"},
			wantCmd: CommandStop,
			want:    func(t *testing.T, inv Invocation) { require.True(t, inv.Local) },
		},
		{name: "capture", args: []string{"capture"}, wantCmd: CommandCapture},
		{name: "clipboard", args: []string{"clipboard"}, wantCmd: CommandClipboard},
		{
			name:    "send joins words",
			args:    []string{"send", "start", "speech"},
			wantCmd: CommandSend,
			want:    func(t *testing.T, inv Invocation) { require.Equal(t, []string{"start speech"}, inv.Args) },
		},
		{
			name:    "link",
			args:    []string{"link", "https://example.com"},
			wantCmd: CommandLink,
			want:    func(t *testing.T, inv Invocation) { require.Equal(t, []string{"https://example.com"}, inv.Args) },
		},
		{
			name:    "inspect default limit",
			args:    []string{"inspect"},
			wantCmd: CommandInspect,
			want: func(t *testing.T, inv Invocation) {
				require.Empty(t, inv.Args)
				require.Equal(t, defaultInspectLimit, inv.Limit)
			},
		},
		{
			name:    "inspect pattern",
			args:    []string{"inspect", "image:*", "--limit", "5"},
			wantCmd: CommandInspect,
			want: func(t *testing.T, inv Invocation) {
				require.Equal(t, []string{"image:*"}, inv.Args)
				require.Equal(t, 5, inv.Limit)
			},
		},
		{name: "devices", args: []string{"devices"}, wantCmd: CommandDevices},
		{name: "version", args: []string{"version"}, wantCmd: CommandVersion},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inv, _, err := runArgs(t, tc.args...)
			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, inv.Command)
			if tc.want != nil {
				tc.want(t, inv)
			}
		})
	}
}

func TestRunUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"not-a-command"},
		{"send"},
		{"link"},
		{"link", "a", "b"},
		{"status", "extra"},
		{"inspect", "a", "b"},
		{"serve", "--bogus"},
		{"--config"},
	} {
		_, _, err := runArgs(t, args...)
		require.Error(t, err, args)
		require.True(t, IsUsage(err), args)
	}
}

func TestRunPropagatesRuntimeErrors(t *testing.T) {
	boom := errors.New("bus unavailable")
	err := Run(context.Background(), []string{"serve"}, &bytes.Buffer{}, &bytes.Buffer{}, func(context.Context, Invocation) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, IsUsage(err))
}

func TestHelpAndVersionFlagsDoNotInvoke(t *testing.T) {
	called := false
	run := func(context.Context, Invocation) error {
		called = true
		return nil
	}

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), []string{"--help"}, &out, &out, run))
	require.Contains(t, out.String(), "Usage:")
	require.Contains(t, out.String(), "inspect")

	out.Reset()
	require.NoError(t, Run(context.Background(), []string{"--version"}, &out, &out, run))
	require.Contains(t, out.String(), "relay ")
	require.False(t, called)
}
