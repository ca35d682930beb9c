// Package indicator shows the listening state on the desktop and plays
// audio cues for session start, stop, and failure.
package indicator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/relay/internal/config"
	"github.com/rbright/relay/internal/hypr"
)

const (
	listeningText    = "Listening…"
	defaultErrorText = "Speech capture error"
)

// HyprNotify drives Hyprland notifications and local cue playback.
type HyprNotify struct {
	cfg    config.IndicatorConfig
	logger *slog.Logger

	notify  func(ctx context.Context, icon int, timeoutMS int, color string, text string) error
	dismiss func(ctx context.Context) error
	cue     func(kind cueKind, cfg config.IndicatorConfig) error

	soundMu sync.Mutex
	cues    sync.WaitGroup
}

// NewHyprNotify creates an indicator from config.
func NewHyprNotify(cfg config.IndicatorConfig, logger *slog.Logger) *HyprNotify {
	return &HyprNotify{
		cfg:     cfg,
		logger:  logger,
		notify:  hypr.Notify,
		dismiss: hypr.DismissNotify,
		cue:     emitCue,
	}
}

// ShowListening displays a persistent listening notification.
func (h *HyprNotify) ShowListening(ctx context.Context) {
	if !h.cfg.Enable {
		return
	}
	h.run(ctx, func(ctx context.Context) error {
		return h.notify(ctx, 1, 300000, "rgb(89b4fa)", listeningText)
	})
}

// ShowError plays the error cue and displays a short-lived error
// notification.
func (h *HyprNotify) ShowError(ctx context.Context, text string) {
	h.playCue(cueError)
	if !h.cfg.Enable {
		return
	}
	if text == "" {
		text = defaultErrorText
	}
	timeout := h.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	h.run(ctx, func(ctx context.Context) error {
		return h.notify(ctx, 3, timeout, "rgb(f38ba8)", text)
	})
}

// CueStart emits the start cue.
func (h *HyprNotify) CueStart(context.Context) {
	h.playCue(cueStart)
}

// CueStop emits the stop cue.
func (h *HyprNotify) CueStop(context.Context) {
	h.playCue(cueStop)
}

// Hide dismisses the listening notification.
func (h *HyprNotify) Hide(ctx context.Context) {
	if !h.cfg.Enable {
		return
	}
	h.run(ctx, h.dismiss)
}

// Wait blocks until queued cues finish playing.
func (h *HyprNotify) Wait() {
	h.cues.Wait()
}

// run executes an indicator operation with a bounded timeout.
func (h *HyprNotify) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		h.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (h *HyprNotify) playCue(kind cueKind) {
	if !h.cfg.SoundEnable {
		return
	}
	h.cues.Add(1)
	go func() {
		defer h.cues.Done()
		h.soundMu.Lock()
		defer h.soundMu.Unlock()
		if err := h.cue(kind, h.cfg); err != nil {
			h.log("indicator audio cue failed", err, "cue", kind.String())
		}
	}()
}

func (h *HyprNotify) log(message string, err error, attrs ...any) {
	if h.logger == nil || err == nil {
		return
	}
	h.logger.Debug(message, append([]any{"error", err.Error()}, attrs...)...)
}
