// Package assemblyai streams PCM audio to the AssemblyAI realtime API and
// reports transcripts as session feed events.
package assemblyai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/relay/internal/session"
)

const (
	DefaultV2URL = "wss://api.assemblyai.com/v2/realtime/ws"
	DefaultV3URL = "wss://streaming.assemblyai.com/v3/ws"

	writeTimeout = 5 * time.Second
	closeTimeout = time.Second
)

// ErrClosed is returned when sending on a closed stream.
var ErrClosed = errors.New("assemblyai stream closed")

// Config describes one realtime connection.
type Config struct {
	APIKey string
	// URL overrides the endpoint for Version.
	URL string
	// Version is "v2" (JSON audio frames) or "v3" (binary audio frames).
	Version             string
	SampleRate          int
	EndUtteranceSilence time.Duration
	HandshakeTimeout    time.Duration
}

// Stream is one open realtime session.
type Stream struct {
	conn    *websocket.Conn
	version string
	logger  *slog.Logger

	events   chan session.Event
	done     chan struct{}
	readDone chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Dial opens a realtime session and starts reading provider messages.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Stream, error) {
	version := strings.ToLower(strings.TrimSpace(cfg.Version))
	if version == "" {
		version = "v2"
	}
	if version != "v2" && version != "v3" {
		return nil, fmt.Errorf("unsupported assemblyai api version %q", cfg.Version)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("assemblyai api key is empty")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}

	endpoint, err := buildURL(cfg, version)
	if err != nil {
		return nil, err
	}

	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	header := http.Header{}
	header.Set("Authorization", cfg.APIKey)

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial assemblyai: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial assemblyai: %w", err)
	}

	s := &Stream{
		conn:     conn,
		version:  version,
		logger:   logger,
		events:   make(chan session.Event, 32),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}

	if version == "v2" && cfg.EndUtteranceSilence > 0 {
		msg := map[string]int64{"end_utterance_silence_threshold": cfg.EndUtteranceSilence.Milliseconds()}
		if err := s.writeJSON(msg); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("configure end utterance silence: %w", err)
		}
	}

	go s.readLoop()
	return s, nil
}

func buildURL(cfg Config, version string) (string, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		raw = DefaultV2URL
		if version == "v3" {
			raw = DefaultV3URL
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse assemblyai url: %w", err)
	}

	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	if version == "v3" {
		q.Set("encoding", "pcm_s16le")
		q.Set("format_turns", "true")
		if cfg.EndUtteranceSilence > 0 {
			q.Set("min_end_of_turn_silence_when_confident", strconv.FormatInt(cfg.EndUtteranceSilence.Milliseconds(), 10))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Events returns provider events. The channel closes when the connection ends.
func (s *Stream) Events() <-chan session.Event {
	return s.events
}

// SendAudio streams one chunk of 16-bit little-endian mono PCM.
func (s *Stream) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if s.version == "v3" {
		return s.write(websocket.BinaryMessage, pcm)
	}
	return s.writeJSON(audioMessage(pcm))
}

// Close terminates the provider session and closes the connection.
// It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		close(s.done)
		deadline := time.Now().Add(closeTimeout)
		_ = s.conn.SetWriteDeadline(deadline)
		if payload, err := terminateMessage(s.version); err == nil {
			_ = s.conn.WriteMessage(websocket.TextMessage, payload)
		}
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		s.writeMu.Unlock()

		s.closeErr = s.conn.Close()
		<-s.readDone
	})
	return s.closeErr
}

func (s *Stream) writeJSON(v any) error {
	payload, err := marshal(v)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, payload)
}

func (s *Stream) write(messageType int, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(messageType, payload); err != nil {
		return fmt.Errorf("write assemblyai frame: %w", err)
	}
	return nil
}

func (s *Stream) readLoop() {
	defer close(s.events)
	defer close(s.readDone)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.emit(session.Event{Kind: session.EventClose})
				return
			}
			s.emit(session.Event{Kind: session.EventError, Err: fmt.Errorf("read assemblyai: %w", err)})
			return
		}

		events, err := decode(s.version, data)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("ignoring undecodable assemblyai message", "error", err.Error())
			}
			continue
		}
		for _, ev := range events {
			if !s.emit(ev) {
				return
			}
		}
	}
}

func (s *Stream) emit(ev session.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}
