// Package command runs external helper programs.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const waitDelay = 500 * time.Millisecond

// Output executes argv, optionally writing input to stdin, and returns stdout.
// Failures include the trimmed stderr of the command.
func Output(ctx context.Context, argv []string, input []byte) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = waitDelay
	if len(input) > 0 {
		cmd.Stdin = bytes.NewReader(input)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("run %s: %w", argv[0], ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("run %s: %w (%s)", argv[0], err, msg)
		}
		return nil, fmt.Errorf("run %s: %w", argv[0], err)
	}
	return stdout.Bytes(), nil
}
