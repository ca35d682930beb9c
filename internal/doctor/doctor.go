// Package doctor runs readiness diagnostics for config, tools, audio, and the bus.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/relay/internal/audio"
	"github.com/rbright/relay/internal/bus"
	"github.com/rbright/relay/internal/config"
)

const busPingTimeout = 3 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	checks = append(checks, checkAPIKey(cfg.Provider))
	checks = append(checks, checkBus(ctx, cfg.Bus))

	checks = append(checks, checkCommand(cfg.Capture.Cmd.Argv, "capture.cmd"))
	checks = append(checks, checkCommand(cfg.Clipboard.Argv, "clipboard_cmd"))

	if cfg.Capture.FocusedMonitor || cfg.Indicator.Enable {
		checks = append(checks, checkEnv("HYPRLAND_INSTANCE_SIGNATURE", func(v string) bool {
			return strings.TrimSpace(v) != ""
		}, "Hyprland session detected", "HYPRLAND_INSTANCE_SIGNATURE is empty"))
		checks = append(checks, checkBinary("hyprctl", "monitor geometry and notifications"))
	}

	checks = append(checks, checkAudioSelection(ctx, cfg))
	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	if !loaded.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found, using defaults", loaded.Path)}
	}
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if n := len(loaded.Warnings); n > 0 {
		message = fmt.Sprintf("%s (%d warnings)", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

func checkAPIKey(cfg config.ProviderConfig) Check {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Check{
			Name:    "provider.api_key",
			Pass:    false,
			Message: fmt.Sprintf("api key is empty (set provider.api_key or %s)", config.EnvProviderAPIKey),
		}
	}
	return Check{Name: "provider.api_key", Pass: true, Message: "api key configured"}
}

// checkBus dials and pings the configured Redis.
func checkBus(ctx context.Context, cfg config.BusConfig) Check {
	ctx, cancel := context.WithTimeout(ctx, busPingTimeout)
	defer cancel()

	client, err := bus.Dial(ctx, bus.OptionsFromConfig(cfg), nil)
	if err != nil {
		return Check{Name: "bus", Pass: false, Message: err.Error()}
	}
	defer client.Close()
	return Check{Name: "bus", Pass: true, Message: fmt.Sprintf("reachable at %s", cfg.Addr)}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}
