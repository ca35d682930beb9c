package hypr

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Monitor is one output as reported by `hyprctl -j monitors`.
// Width and Height are in physical pixels; X and Y are layout coordinates.
type Monitor struct {
	Name      string  `json:"name"`
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Scale     float64 `json:"scale"`
	Transform int     `json:"transform"`
	Focused   bool    `json:"focused"`
}

// LogicalSize returns the monitor size in layout coordinates.
func (m Monitor) LogicalSize() (int, int) {
	scale := m.Scale
	if scale <= 0 {
		scale = 1
	}
	w := int(math.Round(float64(m.Width) / scale))
	h := int(math.Round(float64(m.Height) / scale))
	// odd transforms rotate the output by 90 or 270 degrees
	if m.Transform%2 == 1 {
		w, h = h, w
	}
	return w, h
}

// Region returns a grim geometry ("x,y wxh") covering the monitor with
// top and bottom rows removed. Crops that would consume the whole output
// are ignored.
func (m Monitor) Region(cropTop int, cropBottom int) string {
	w, h := m.LogicalSize()
	if cropTop < 0 {
		cropTop = 0
	}
	if cropBottom < 0 {
		cropBottom = 0
	}
	if cropTop+cropBottom >= h {
		cropTop, cropBottom = 0, 0
	}
	return fmt.Sprintf("%d,%d %dx%d", m.X, m.Y+cropTop, w, h-cropTop-cropBottom)
}

// QueryFocusedMonitor returns the focused monitor (or the first monitor fallback).
func QueryFocusedMonitor(ctx context.Context) (Monitor, error) {
	output, err := runHyprctlOutput(ctx, "-j", "monitors")
	if err != nil {
		return Monitor{}, err
	}

	var monitors []Monitor
	if err := json.Unmarshal(output, &monitors); err != nil {
		return Monitor{}, fmt.Errorf("decode hyprctl monitors json: %w", err)
	}
	if len(monitors) == 0 {
		return Monitor{}, fmt.Errorf("hyprctl monitors returned no outputs")
	}

	selected := monitors[0]
	for _, mon := range monitors {
		if mon.Focused {
			selected = mon
			break
		}
	}
	selected.Name = strings.TrimSpace(selected.Name)
	if selected.Width <= 0 || selected.Height <= 0 {
		return Monitor{}, fmt.Errorf("hyprctl monitor %q has no size", selected.Name)
	}
	return selected, nil
}

// Notify sends a Hyprland notification payload.
func Notify(ctx context.Context, icon int, timeoutMS int, color string, text string) error {
	if strings.TrimSpace(color) == "" {
		color = "rgb(89b4fa)"
	}
	return runHyprctl(
		ctx,
		"--quiet",
		"dispatch",
		"notify",
		strconv.Itoa(icon),
		strconv.Itoa(timeoutMS),
		color,
		text,
	)
}

// DismissNotify dismisses active Hyprland notifications.
func DismissNotify(ctx context.Context) error {
	return runHyprctl(ctx, "--quiet", "dispatch", "dismissnotify")
}
