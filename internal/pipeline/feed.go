// Package pipeline joins microphone capture to the streaming speech provider
// and exposes the result as a session feed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/relay/internal/assemblyai"
	"github.com/rbright/relay/internal/audio"
	"github.com/rbright/relay/internal/config"
	"github.com/rbright/relay/internal/session"
)

type streamClient interface {
	Events() <-chan session.Event
	SendAudio(pcm []byte) error
	Close() error
}

type captureClient interface {
	Chunks() <-chan []byte
	Stop() error
	RawPCM() []byte
	BytesCaptured() int64
}

// FeedSource opens capture-backed provider feeds.
type FeedSource struct {
	cfg    config.Config
	logger *slog.Logger

	selectDevice func(context.Context, string, string) (audio.Selection, error)
	dialStream   func(context.Context, assemblyai.Config) (streamClient, error)
	startCapture func(device audio.Device, sampleRate int, retainRaw bool) (captureClient, error)
}

// NewFeedSource constructs a feed source from runtime config.
func NewFeedSource(cfg config.Config, logger *slog.Logger) *FeedSource {
	return &FeedSource{
		cfg:          cfg,
		logger:       logger,
		selectDevice: audio.SelectDevice,
		dialStream: func(ctx context.Context, streamCfg assemblyai.Config) (streamClient, error) {
			return assemblyai.Dial(ctx, streamCfg, logger)
		},
		startCapture: func(device audio.Device, sampleRate int, retainRaw bool) (captureClient, error) {
			return audio.StartCapture(device, sampleRate, retainRaw)
		},
	}
}

// Open selects an input device, connects the provider, and starts streaming audio.
func (s *FeedSource) Open(ctx context.Context) (session.Feed, error) {
	selection, err := s.selectDevice(ctx, s.cfg.Audio.Input, s.cfg.Audio.Fallback)
	if err != nil {
		return nil, fmt.Errorf("select audio device: %w", err)
	}
	if selection.Warning != "" {
		s.logWarn(selection.Warning)
	}

	dialCtx := ctx
	if timeout := s.cfg.Provider.ConnectTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stream, err := s.dialStream(dialCtx, assemblyai.Config{
		APIKey:              s.cfg.Provider.APIKey,
		URL:                 s.cfg.Provider.URL,
		Version:             s.cfg.Provider.APIVersion,
		SampleRate:          s.cfg.Provider.SampleRate,
		EndUtteranceSilence: time.Duration(s.cfg.Provider.EndUtteranceSilenceMS) * time.Millisecond,
		HandshakeTimeout:    s.cfg.Provider.ConnectTimeout(),
	})
	if err != nil {
		return nil, err
	}

	capture, err := s.startCapture(selection.Device, s.cfg.Provider.SampleRate, s.cfg.Debug.EnableAudioDump)
	if err != nil {
		_ = stream.Close()
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("audio capture started",
			"device", describeDevice(selection.Device),
			"sample_rate", s.cfg.Provider.SampleRate,
			"fallback", selection.Fallback,
		)
	}

	feed := &Feed{
		source:  s,
		capture: capture,
		stream:  stream,
		events:  make(chan session.Event, 32),
		done:    make(chan struct{}),
	}
	feed.wg.Add(2)
	go feed.sendLoop()
	go feed.forward()
	return feed, nil
}

func (s *FeedSource) logWarn(message string) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(message)
}

// Feed is one open capture plus provider stream.
type Feed struct {
	source  *FeedSource
	capture captureClient
	stream  streamClient

	events chan session.Event
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Events returns provider events. It closes after Close returns.
func (f *Feed) Events() <-chan session.Event {
	return f.events
}

// Close stops capture, terminates the provider stream, and waits for
// forwarding to finish.
func (f *Feed) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		_ = f.capture.Stop()
		f.closeErr = f.stream.Close()
		f.wg.Wait()
		close(f.events)

		if f.source.cfg.Debug.EnableAudioDump {
			f.source.writeDebugAudio(f.capture.RawPCM())
		}
		if f.source.logger != nil {
			f.source.logger.Debug("audio capture stopped", "bytes_captured", f.capture.BytesCaptured())
		}
	})
	return f.closeErr
}

// sendLoop forwards capture chunks to the provider and reports the first
// send failure as an error event.
func (f *Feed) sendLoop() {
	defer f.wg.Done()

	for chunk := range f.capture.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		select {
		case <-f.done:
			continue
		default:
		}
		if err := f.stream.SendAudio(chunk); err != nil {
			if errors.Is(err, assemblyai.ErrClosed) {
				return
			}
			_ = f.capture.Stop()
			f.emit(session.Event{Kind: session.EventError, Err: fmt.Errorf("send audio stream: %w", err)})
			return
		}
	}
}

func (f *Feed) forward() {
	defer f.wg.Done()

	for ev := range f.stream.Events() {
		if !f.emit(ev) {
			return
		}
	}
}

func (f *Feed) emit(ev session.Event) bool {
	select {
	case f.events <- ev:
		return true
	case <-f.done:
		return false
	}
}

// describeDevice formats device metadata for logs.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}
