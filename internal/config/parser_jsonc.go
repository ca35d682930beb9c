package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Bus       *jsoncBus       `json:"bus"`
	Topics    *jsoncTopics    `json:"topics"`
	Commands  *jsoncCommands  `json:"commands"`
	Provider  *jsoncProvider  `json:"provider"`
	Audio     *jsoncAudio     `json:"audio"`
	Flush     *jsoncFlush     `json:"flush"`
	Directive *jsoncDirective `json:"directive"`
	Capture   *jsoncCapture   `json:"capture"`
	Dispatch  *jsoncDispatch  `json:"dispatch"`
	Link      *jsoncLink      `json:"link"`
	Indicator *jsoncIndicator `json:"indicator"`
	Log       *jsoncLog       `json:"log"`
	Debug     *jsoncDebug     `json:"debug"`

	ClipboardCmd *string `json:"clipboard_cmd"`
}

type jsoncBus struct {
	Addr          *string `json:"addr"`
	Username      *string `json:"username"`
	Password      *string `json:"password"`
	DB            *int    `json:"db"`
	TLS           *bool   `json:"tls"`
	DialTimeoutMS *int    `json:"dial_timeout_ms"`
}

type jsoncTopics struct {
	Relay   *string `json:"relay"`
	Control *string `json:"control"`
	Status  *string `json:"status"`
	URL     *string `json:"url"`
}

type jsoncCommands struct {
	Start     *string `json:"start"`
	Stop      *string `json:"stop"`
	Capture   *string `json:"capture"`
	Clipboard *string `json:"clipboard"`
}

type jsoncProvider struct {
	APIKey                *string `json:"api_key"`
	URL                   *string `json:"url"`
	APIVersion            *string `json:"api_version"`
	SampleRate            *int    `json:"sample_rate"`
	EndUtteranceSilenceMS *int    `json:"end_utterance_silence_ms"`
	ConnectTimeoutMS      *int    `json:"connect_timeout_ms"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncFlush struct {
	SilenceThresholdMS *int `json:"silence_threshold_ms"`
	WordThreshold      *int `json:"word_threshold"`
	PollIntervalMS     *int `json:"poll_interval_ms"`
}

type jsoncDirective struct {
	Text             *string `json:"text"`
	Every            *int    `json:"every"`
	PublishOnConnect *bool   `json:"publish_on_connect"`
}

type jsoncCapture struct {
	Cmd            *string `json:"cmd"`
	FocusedMonitor *bool   `json:"focused_monitor"`
	CropTop        *int    `json:"crop_top"`
	CropBottom     *int    `json:"crop_bottom"`
	BatchSize      *int    `json:"batch_size"`
	TTLSeconds     *int    `json:"ttl_seconds"`
	KeyPrefix      *string `json:"key_prefix"`
	IDPrefix       *string `json:"id_prefix"`
}

type jsoncDispatch struct {
	CommandTimeoutMS *int `json:"command_timeout_ms"`
}

type jsoncIndicator struct {
	Enable         *bool    `json:"enable"`
	SoundEnable    *bool    `json:"sound_enable"`
	SoundStartFile *string  `json:"sound_start_file"`
	SoundStopFile  *string  `json:"sound_stop_file"`
	SoundErrorFile *string  `json:"sound_error_file"`
	SoundVolume    *float64 `json:"sound_volume"`
	ErrorTimeoutMS *int     `json:"error_timeout_ms"`
}

type jsoncLog struct {
	Level   *string `json:"level"`
	Console *bool   `json:"console"`
}

type jsoncLink struct {
	MaxLines *int `json:"max_lines"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) error {
	if b := payload.Bus; b != nil {
		setString(&cfg.Bus.Addr, b.Addr)
		setString(&cfg.Bus.Username, b.Username)
		if b.Password != nil {
			cfg.Bus.Password = *b.Password
		}
		setInt(&cfg.Bus.DB, b.DB)
		setBool(&cfg.Bus.TLS, b.TLS)
		setInt(&cfg.Bus.DialTimeoutMS, b.DialTimeoutMS)
	}

	if t := payload.Topics; t != nil {
		setString(&cfg.Topics.Relay, t.Relay)
		setString(&cfg.Topics.Control, t.Control)
		setString(&cfg.Topics.Status, t.Status)
		setString(&cfg.Topics.URL, t.URL)
	}

	if c := payload.Commands; c != nil {
		setString(&cfg.Commands.Start, c.Start)
		setString(&cfg.Commands.Stop, c.Stop)
		setString(&cfg.Commands.Capture, c.Capture)
		setString(&cfg.Commands.Clipboard, c.Clipboard)
	}

	if p := payload.Provider; p != nil {
		setString(&cfg.Provider.APIKey, p.APIKey)
		setString(&cfg.Provider.URL, p.URL)
		if p.APIVersion != nil {
			cfg.Provider.APIVersion = strings.ToLower(strings.TrimSpace(*p.APIVersion))
		}
		setInt(&cfg.Provider.SampleRate, p.SampleRate)
		setInt(&cfg.Provider.EndUtteranceSilenceMS, p.EndUtteranceSilenceMS)
		setInt(&cfg.Provider.ConnectTimeoutMS, p.ConnectTimeoutMS)
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
	}

	if f := payload.Flush; f != nil {
		setInt(&cfg.Flush.SilenceThresholdMS, f.SilenceThresholdMS)
		setInt(&cfg.Flush.WordThreshold, f.WordThreshold)
		setInt(&cfg.Flush.PollIntervalMS, f.PollIntervalMS)
	}

	if d := payload.Directive; d != nil {
		setString(&cfg.Directive.Text, d.Text)
		setInt(&cfg.Directive.Every, d.Every)
		setBool(&cfg.Directive.PublishOnConnect, d.PublishOnConnect)
	}

	if c := payload.Capture; c != nil {
		if c.Cmd != nil {
			cmd, err := parseCommand("capture.cmd", *c.Cmd)
			if err != nil {
				return err
			}
			cfg.Capture.Cmd = cmd
		}
		setBool(&cfg.Capture.FocusedMonitor, c.FocusedMonitor)
		setInt(&cfg.Capture.CropTop, c.CropTop)
		setInt(&cfg.Capture.CropBottom, c.CropBottom)
		setInt(&cfg.Capture.BatchSize, c.BatchSize)
		setInt(&cfg.Capture.TTLSeconds, c.TTLSeconds)
		setString(&cfg.Capture.KeyPrefix, c.KeyPrefix)
		setString(&cfg.Capture.IDPrefix, c.IDPrefix)
	}

	if payload.ClipboardCmd != nil {
		cmd, err := parseCommand("clipboard_cmd", *payload.ClipboardCmd)
		if err != nil {
			return err
		}
		cfg.Clipboard = cmd
	}

	if d := payload.Dispatch; d != nil {
		setInt(&cfg.Dispatch.CommandTimeoutMS, d.CommandTimeoutMS)
	}

	if l := payload.Link; l != nil {
		setInt(&cfg.Link.MaxLines, l.MaxLines)
	}

	if i := payload.Indicator; i != nil {
		setBool(&cfg.Indicator.Enable, i.Enable)
		setBool(&cfg.Indicator.SoundEnable, i.SoundEnable)
		setString(&cfg.Indicator.SoundStartFile, i.SoundStartFile)
		setString(&cfg.Indicator.SoundStopFile, i.SoundStopFile)
		setString(&cfg.Indicator.SoundErrorFile, i.SoundErrorFile)
		setFloat(&cfg.Indicator.SoundVolume, i.SoundVolume)
		setInt(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
	}

	if l := payload.Log; l != nil {
		if l.Level != nil {
			cfg.Log.Level = strings.ToLower(strings.TrimSpace(*l.Level))
		}
		setBool(&cfg.Log.Console, l.Console)
	}

	if payload.Debug != nil {
		setBool(&cfg.Debug.EnableAudioDump, payload.Debug.AudioDump)
	}

	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func parseCommand(key string, raw string) (CommandConfig, error) {
	argv, err := parseArgv(raw)
	if err != nil {
		return CommandConfig{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return CommandConfig{Raw: raw, Argv: argv}, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
