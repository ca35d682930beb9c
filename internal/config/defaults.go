package config

// DefaultDirective is published on connect and every Directive.Every flushes.
const DefaultDirective = "You are receiving a live transcript of a conversation in short fragments, " +
	"interleaved with references to screen captures. Keep track of the context and wait " +
	"for a complete question before answering."

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	clipboard := "wl-paste --no-newline"
	capture := "grim"

	return Config{
		Bus: BusConfig{
			Addr:          "127.0.0.1:6379",
			DialTimeoutMS: 5000,
		},
		Topics: TopicsConfig{
			Relay:   "realtime:channel",
			Control: "realtime:alerts",
			Status:  "speech:status",
			URL:     "url_channel",
		},
		Commands: CommandsConfig{
			Start:     "start speech",
			Stop:      "stop speech",
			Capture:   "screenshot",
			Clipboard: "clipboard",
		},
		Provider: ProviderConfig{
			APIVersion:            "v2",
			SampleRate:            44100,
			EndUtteranceSilenceMS: 950,
			ConnectTimeoutMS:      10000,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Flush: FlushConfig{
			SilenceThresholdMS: 400,
			WordThreshold:      7,
			PollIntervalMS:     100,
		},
		Directive: DirectiveConfig{
			Text:             DefaultDirective,
			Every:            5,
			PublishOnConnect: true,
		},
		Capture: CaptureConfig{
			Cmd:            CommandConfig{Raw: capture, Argv: mustParseArgv(capture)},
			FocusedMonitor: true,
			CropTop:        84,
			CropBottom:     80,
			BatchSize:      2,
			TTLSeconds:     60,
			KeyPrefix:      "image:",
			IDPrefix:       "capture",
		},
		Clipboard: CommandConfig{Raw: clipboard, Argv: mustParseArgv(clipboard)},
		Dispatch:  DispatchConfig{CommandTimeoutMS: 15000},
		Link:      LinkConfig{MaxLines: 100},
		Indicator: IndicatorConfig{
			Enable:         true,
			SoundEnable:    true,
			SoundVolume:    0.18,
			ErrorTimeoutMS: 1600,
		},
		Log: LogConfig{Level: "info", Console: true},
	}
}
