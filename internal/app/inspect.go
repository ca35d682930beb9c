package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/rbright/relay/internal/bus"
	"github.com/rbright/relay/internal/config"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func (r Runner) commandInspect(ctx context.Context, cfg config.Config, logger *slog.Logger, pattern string, limit int) error {
	client, err := bus.Dial(ctx, bus.OptionsFromConfig(cfg.Bus), logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	keys, err := client.Inspect(ctx, pattern, limit)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Fprintf(r.Stdout, "no keys match %q\n", pattern)
		return nil
	}
	fmt.Fprintln(r.Stdout, renderKeys(keys))
	return nil
}

func renderKeys(keys []bus.KeyInfo) string {
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key.Key, key.Type, formatTTL(key.TTL), formatSize(key)})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("KEY", "TYPE", "TTL", "SIZE").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

// formatTTL renders redis TTL sentinels: -1 no expiry, -2 missing.
func formatTTL(ttl time.Duration) string {
	switch {
	case ttl == -1:
		return "none"
	case ttl < 0:
		return "expired"
	default:
		return ttl.Round(time.Second).String()
	}
}

func formatSize(key bus.KeyInfo) string {
	if key.Type != "string" {
		return "-"
	}
	return strconv.FormatInt(key.Size, 10) + " B"
}
