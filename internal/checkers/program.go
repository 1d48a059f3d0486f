package checkers

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"
)

const defaultProgramTimeout = 30 * time.Second

type ProgramSettings struct {
	// Command is split like a shell would, then each word is expanded.
	Command string
	Timeout time.Duration
}

// ProgramChecker maps the exit code of a local command to a status.
type ProgramChecker struct {
	BaseChecker
	args        []string
	markUnknown bool
	logger      *zap.SugaredLogger
}

func NewProgramChecker(s Settings) (*ProgramChecker, error) {
	if s.Program == nil || s.Program.Command == "" {
		return nil, errors.New("program checker needs a command")
	}
	args, err := shellwords.Parse(s.Program.Command)
	if err != nil {
		return nil, fmt.Errorf("program checker: parsing %q: %w", s.Program.Command, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("program checker: empty command %q", s.Program.Command)
	}

	c := &ProgramChecker{
		BaseChecker: NewBaseChecker(TimeoutBounds{Default: defaultProgramTimeout}),
		args:        args,
		markUnknown: s.MarkUnknown,
		logger:      s.Logger,
	}
	if err := c.SetTimeout(s.Program.Timeout); err != nil {
		return nil, fmt.Errorf("program checker: %w", err)
	}
	return c, nil
}

func (c *ProgramChecker) Method() Method {
	return Program
}

func (c *ProgramChecker) Check(ctx context.Context, target Target) CheckResult {
	return c.measure(ctx, func() (Status, error) {
		argv := make([]string, len(c.args))
		for i, a := range c.args {
			argv[i] = target.Tokens.Expand(a, c.markUnknown)
		}

		runCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
		out, err := cmd.CombinedOutput()
		if err == nil {
			return Ok, nil
		}
		if runCtx.Err() != nil {
			return Unknown, fmt.Errorf("command timed out after %s: %w", c.timeout, runCtx.Err())
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			c.logger.Debugw("check command failed",
				"check", target.Name,
				"command", argv[0],
				"exit_code", exitErr.ExitCode(),
				"output", truncate(string(out), 512))
			return Fail, fmt.Errorf("command exited with code %d", exitErr.ExitCode())
		}
		return Unknown, fmt.Errorf("starting command: %w", err)
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	RegisterChecker(Program, func(s Settings) (Checker, error) {
		c, err := NewProgramChecker(s)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
