package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rbright/relay/internal/command"
	"github.com/rbright/relay/internal/config"
	"github.com/rbright/relay/internal/hypr"
)

// ScreenSource captures a PNG of the focused monitor with the configured
// command (grim by default). The command receives `-g <region> -` when the
// monitor geometry is known, otherwise just `-`.
type ScreenSource struct {
	argv       []string
	focused    bool
	cropTop    int
	cropBottom int
	logger     *slog.Logger

	queryMonitor func(context.Context) (hypr.Monitor, error)
}

// NewScreenSource builds a screen source from the capture config section.
func NewScreenSource(cfg config.CaptureConfig, logger *slog.Logger) *ScreenSource {
	return &ScreenSource{
		argv:         append([]string(nil), cfg.Cmd.Argv...),
		focused:      cfg.FocusedMonitor,
		cropTop:      cfg.CropTop,
		cropBottom:   cfg.CropBottom,
		logger:       logger,
		queryMonitor: hypr.QueryFocusedMonitor,
	}
}

// CaptureOnce runs the capture command and returns the image bytes.
func (s *ScreenSource) CaptureOnce(ctx context.Context) ([]byte, error) {
	argv := append([]string(nil), s.argv...)

	if s.focused {
		monitor, err := s.queryMonitor(ctx)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("focused monitor lookup failed; capturing all outputs", "error", err.Error())
			}
		} else {
			argv = append(argv, "-g", monitor.Region(s.cropTop, s.cropBottom))
		}
	}
	argv = append(argv, "-")

	image, err := command.Output(ctx, argv, nil)
	if err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%s produced no image data", argv[0])
	}
	return image, nil
}
