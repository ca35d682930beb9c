package config

import (
	"fmt"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Bus.Addr) == "" {
		return nil, fmt.Errorf("bus.addr must not be empty")
	}
	if cfg.Bus.DB < 0 {
		return nil, fmt.Errorf("bus.db must be >= 0")
	}
	if cfg.Bus.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("bus.dial_timeout_ms must be > 0")
	}

	for key, topic := range map[string]string{
		"topics.relay":   cfg.Topics.Relay,
		"topics.control": cfg.Topics.Control,
		"topics.status":  cfg.Topics.Status,
	} {
		if strings.TrimSpace(topic) == "" {
			return nil, fmt.Errorf("%s must not be empty", key)
		}
	}
	if cfg.Topics.Control == cfg.Topics.Relay {
		return nil, fmt.Errorf("topics.control must differ from topics.relay")
	}
	if url := cfg.Topics.URL; url != "" {
		if url == cfg.Topics.Relay || url == cfg.Topics.Control {
			return nil, fmt.Errorf("topics.url must differ from topics.relay and topics.control")
		}
		if cfg.Link.MaxLines <= 0 {
			return nil, fmt.Errorf("link.max_lines must be > 0")
		}
	}

	if err := validateCommands(cfg.Commands); err != nil {
		return nil, err
	}

	switch cfg.Provider.APIVersion {
	case "v2", "v3":
	default:
		return nil, fmt.Errorf("provider.api_version must be one of: v2, v3")
	}
	if cfg.Provider.SampleRate <= 0 {
		return nil, fmt.Errorf("provider.sample_rate must be > 0")
	}
	if cfg.Provider.EndUtteranceSilenceMS < 0 {
		return nil, fmt.Errorf("provider.end_utterance_silence_ms must be >= 0")
	}
	if cfg.Provider.ConnectTimeoutMS <= 0 {
		return nil, fmt.Errorf("provider.connect_timeout_ms must be > 0")
	}
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("provider.api_key is empty; set it in the config or via %s", EnvProviderAPIKey)})
	}

	if cfg.Flush.SilenceThresholdMS <= 0 {
		return nil, fmt.Errorf("flush.silence_threshold_ms must be > 0")
	}
	if cfg.Flush.WordThreshold <= 0 {
		return nil, fmt.Errorf("flush.word_threshold must be > 0")
	}
	if cfg.Flush.PollIntervalMS <= 0 {
		return nil, fmt.Errorf("flush.poll_interval_ms must be > 0")
	}
	if cfg.Flush.PollIntervalMS > cfg.Flush.SilenceThresholdMS {
		warnings = append(warnings, Warning{Message: "flush.poll_interval_ms exceeds flush.silence_threshold_ms; silence flushes will lag"})
	}

	if cfg.Directive.Every <= 0 {
		return nil, fmt.Errorf("directive.every must be > 0")
	}
	if strings.TrimSpace(cfg.Directive.Text) == "" {
		warnings = append(warnings, Warning{Message: "directive.text is empty; directive publishing is disabled"})
	}

	if len(cfg.Capture.Cmd.Argv) == 0 {
		return nil, fmt.Errorf("capture.cmd must not be empty")
	}
	if cfg.Capture.CropTop < 0 || cfg.Capture.CropBottom < 0 {
		return nil, fmt.Errorf("capture.crop_top and capture.crop_bottom must be >= 0")
	}
	if cfg.Capture.BatchSize <= 0 {
		return nil, fmt.Errorf("capture.batch_size must be > 0")
	}
	if cfg.Capture.TTLSeconds <= 0 {
		return nil, fmt.Errorf("capture.ttl_seconds must be > 0")
	}
	if strings.TrimSpace(cfg.Capture.IDPrefix) == "" {
		return nil, fmt.Errorf("capture.id_prefix must not be empty")
	}

	if len(cfg.Clipboard.Argv) == 0 {
		return nil, fmt.Errorf("clipboard_cmd must not be empty")
	}
	if cfg.Dispatch.CommandTimeoutMS <= 0 {
		return nil, fmt.Errorf("dispatch.command_timeout_ms must be > 0")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}
	if cfg.Indicator.SoundVolume <= 0 || cfg.Indicator.SoundVolume > 1 {
		return nil, fmt.Errorf("indicator.sound_volume must be in (0, 1]")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}

func validateCommands(cmds CommandsConfig) error {
	seen := make(map[string]string, 4)
	for _, entry := range []struct {
		key   string
		value string
	}{
		{"commands.start", cmds.Start},
		{"commands.stop", cmds.Stop},
		{"commands.capture", cmds.Capture},
		{"commands.clipboard", cmds.Clipboard},
	} {
		token := strings.ToLower(strings.TrimSpace(entry.value))
		if token == "" {
			return fmt.Errorf("%s must not be empty", entry.key)
		}
		if other, ok := seen[token]; ok {
			return fmt.Errorf("%s duplicates %s (%q)", entry.key, other, token)
		}
		seen[token] = entry.key
	}
	return nil
}
