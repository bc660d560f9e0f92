// Package publish persists the written feed files to the publish repository
// and waits for the hosted site to rebuild.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Committer runs the external commit step.
type Committer struct {
	command string
	dir     string
	log     *slog.Logger
}

// NewCommitter creates a Committer for command, run from dir. An empty
// command disables the step.
func NewCommitter(command, dir string, log *slog.Logger) *Committer {
	return &Committer{command: command, dir: dir, log: log}
}

// Commit runs the command without arguments. A non-zero exit is an error.
func (c *Committer) Commit(ctx context.Context) error {
	if c.command == "" {
		c.log.Warn("commit step disabled")
		return nil
	}
	c.log.Info("commit", "command", c.command)

	cmd := exec.CommandContext(ctx, c.command) //nolint:gosec // command comes from operator configuration
	cmd.Dir = c.dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if s := strings.TrimSpace(out.String()); s != "" {
		c.log.Debug("commit output", "output", s)
	}
	if err != nil {
		return fmt.Errorf("commit %s: %w", c.command, err)
	}
	return nil
}
