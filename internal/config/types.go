// Package config resolves, parses, validates, and defaults relay configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by relay.
type Config struct {
	Bus       BusConfig
	Topics    TopicsConfig
	Commands  CommandsConfig
	Provider  ProviderConfig
	Audio     AudioConfig
	Flush     FlushConfig
	Directive DirectiveConfig
	Capture   CaptureConfig
	Clipboard CommandConfig
	Dispatch  DispatchConfig
	Link      LinkConfig
	Indicator IndicatorConfig
	Log       LogConfig
	Debug     DebugConfig
}

// BusConfig controls the Redis connection used for pub/sub and artifact storage.
type BusConfig struct {
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	DialTimeoutMS int
}

// TopicsConfig names the bus channels.
type TopicsConfig struct {
	Relay   string
	Control string
	Status  string
	// URL carries page links to relay as text. Empty disables link relay.
	URL string
}

// CommandsConfig is the control vocabulary matched after normalization.
type CommandsConfig struct {
	Start     string
	Stop      string
	Capture   string
	Clipboard string
}

// ProviderConfig controls the streaming speech-to-text connection.
type ProviderConfig struct {
	APIKey                string
	URL                   string
	APIVersion            string
	SampleRate            int
	EndUtteranceSilenceMS int
	ConnectTimeoutMS      int
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// FlushConfig tunes the transcript flush policy.
type FlushConfig struct {
	SilenceThresholdMS int
	WordThreshold      int
	PollIntervalMS     int
}

// DirectiveConfig controls periodic re-injection of the system directive.
type DirectiveConfig struct {
	Text             string
	Every            int
	PublishOnConnect bool
}

// CaptureConfig controls screen capture and batching.
type CaptureConfig struct {
	Cmd            CommandConfig
	FocusedMonitor bool
	CropTop        int
	CropBottom     int
	BatchSize      int
	TTLSeconds     int
	KeyPrefix      string
	IDPrefix       string
}

// DispatchConfig bounds command handling.
type DispatchConfig struct {
	CommandTimeoutMS int
}

// LinkConfig bounds the page text relayed for a link.
type LinkConfig struct {
	MaxLines int
}

// IndicatorConfig controls the local listening indicator and audio cues.
type IndicatorConfig struct {
	Enable         bool
	SoundEnable    bool
	SoundStartFile string
	SoundStopFile  string
	SoundErrorFile string
	// SoundVolume scales synthesized cues, in (0, 1].
	SoundVolume    float64
	ErrorTimeoutMS int
}

// LogConfig controls runtime logging.
type LogConfig struct {
	Level   string
	Console bool
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

func (c FlushConfig) SilenceThreshold() time.Duration {
	return time.Duration(c.SilenceThresholdMS) * time.Millisecond
}

func (c FlushConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c CaptureConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c BusConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMS) * time.Millisecond
}

func (c ProviderConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func (c DispatchConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMS) * time.Millisecond
}
