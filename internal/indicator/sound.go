package indicator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jfreymuth/pulse"

	"github.com/rbright/relay/internal/config"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueError
)

func (k cueKind) String() string {
	switch k {
	case cueStart:
		return "start"
	case cueStop:
		return "stop"
	case cueError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	cueSampleRate = 16000
	cueGap        = 25 * time.Millisecond
	cueTimeout    = 4 * time.Second
)

// note is one segment of a synthesized cue. A zero pitch is a rest.
type note struct {
	hz     float64
	length time.Duration
}

// cueSpec pairs a cue with its override file and its synthesized fallback.
type cueSpec struct {
	file  func(config.IndicatorConfig) string
	notes []note
}

// Start rises, stop falls back to the same pitches, and error is a low
// triple pulse that cannot be mistaken for either.
var cueSpecs = map[cueKind]cueSpec{
	cueStart: {
		file:  func(cfg config.IndicatorConfig) string { return cfg.SoundStartFile },
		notes: []note{{hz: 660, length: 60 * time.Millisecond}, {hz: 990, length: 80 * time.Millisecond}},
	},
	cueStop: {
		file:  func(cfg config.IndicatorConfig) string { return cfg.SoundStopFile },
		notes: []note{{hz: 990, length: 60 * time.Millisecond}, {hz: 660, length: 100 * time.Millisecond}},
	},
	cueError: {
		file: func(cfg config.IndicatorConfig) string { return cfg.SoundErrorFile },
		notes: []note{
			{hz: 330, length: 70 * time.Millisecond},
			{hz: 330, length: 70 * time.Millisecond},
			{hz: 247, length: 140 * time.Millisecond},
		},
	},
}

// cuePlayer plays a cue file when one is configured and falls back to a
// synthesized tone on the pulse server.
type cuePlayer struct {
	playFile func(ctx context.Context, path string) error
	playPCM  func(ctx context.Context, pcm []int16) error
}

var defaultPlayer = cuePlayer{playFile: playCueFile, playPCM: playPulse}

func emitCue(kind cueKind, cfg config.IndicatorConfig) error {
	return defaultPlayer.emit(kind, cfg)
}

func (p cuePlayer) emit(kind cueKind, cfg config.IndicatorConfig) error {
	spec, ok := cueSpecs[kind]
	if !ok {
		return fmt.Errorf("unknown cue %d", int(kind))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cueTimeout)
	defer cancel()

	var fileErr error
	if path := expandUserPath(spec.file(cfg)); path != "" {
		if fileErr = p.playFile(ctx, path); fileErr == nil {
			return nil
		}
	}

	pcm := renderNotes(spec.notes, cfg.SoundVolume)
	if len(pcm) == 0 {
		return fileErr
	}
	if err := p.playPCM(ctx, pcm); err != nil {
		return errors.Join(fileErr, fmt.Errorf("play %s cue: %w", kind, err))
	}
	return nil
}

func expandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw != "~" && !strings.HasPrefix(raw, "~/") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, strings.TrimPrefix(raw, "~"))
}

func playCueFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat cue file %q: %w", path, err)
	}
	cmd := exec.CommandContext(ctx, "pw-play", "--media-role", "Notification", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("play cue file %q: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// playPulse streams mono PCM to the pulse server and waits for it to drain.
func playPulse(ctx context.Context, pcm []int16) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("relay"),
		pulse.ClientApplicationIconName("dialog-information"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	remaining := pcm
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		n := copy(buf, remaining)
		remaining = remaining[n:]
		if len(remaining) == 0 {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("relay cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	return stream.Error()
}

// renderNotes synthesizes notes separated by short gaps. Volume is clamped to
// (0, 1]; a non-positive volume yields silence.
func renderNotes(notes []note, volume float64) []int16 {
	if volume <= 0 || len(notes) == 0 {
		return nil
	}
	volume = math.Min(volume, 1)

	gap := sampleCount(cueGap)
	var pcm []int16
	for i, n := range notes {
		if i > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
		pcm = append(pcm, renderNote(n, volume)...)
	}
	return pcm
}

func renderNote(n note, volume float64) []int16 {
	count := sampleCount(n.length)
	out := make([]int16, count)
	if n.hz <= 0 {
		return out
	}

	// 5ms linear fades keep the cue free of clicks.
	ramp := max(1, min(count/10, cueSampleRate/200))
	for i := range out {
		gain := math.Min(1, math.Min(float64(i)/float64(ramp), float64(count-1-i)/float64(ramp)))
		wave := math.Sin(2 * math.Pi * n.hz * float64(i) / cueSampleRate)
		out[i] = int16(math.Round(wave * volume * gain * math.MaxInt16))
	}
	return out
}

func sampleCount(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
