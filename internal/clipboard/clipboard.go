// Package clipboard reads the desktop clipboard through an external command.
package clipboard

import (
	"context"
	"fmt"

	"github.com/rbright/relay/internal/command"
	"github.com/rbright/relay/internal/config"
)

// Reader returns the current clipboard text.
type Reader struct {
	argv []string
}

// NewReader builds a reader from the clipboard_cmd config entry.
func NewReader(cmd config.CommandConfig) *Reader {
	return &Reader{argv: append([]string(nil), cmd.Argv...)}
}

// Read runs the clipboard command and returns its stdout.
func (r *Reader) Read(ctx context.Context) (string, error) {
	out, err := command.Output(ctx, r.argv, nil)
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return string(out), nil
}
