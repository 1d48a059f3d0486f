package notifications

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"
)

const defaultProgramTimeout = 30 * time.Second

type ProgramOptions struct {
	Command string
	Timeout time.Duration
}

// ProgramNotifier runs a local command; any nonzero exit is a failed
// delivery.
type ProgramNotifier struct {
	logger      *zap.SugaredLogger
	args        []string
	timeout     time.Duration
	markUnknown bool
}

func NewProgramNotifier(logger *zap.SugaredLogger, po ProgramOptions, markUnknown bool) (*ProgramNotifier, error) {
	args, err := shellwords.Parse(po.Command)
	if err != nil {
		return nil, fmt.Errorf("program notifier: parsing %q: %w", po.Command, err)
	}
	if len(args) == 0 {
		return nil, errors.New("program notifier requires a command")
	}
	if po.Timeout <= 0 {
		po.Timeout = defaultProgramTimeout
	}
	return &ProgramNotifier{logger: logger, args: args, timeout: po.Timeout, markUnknown: markUnknown}, nil
}

func (n *ProgramNotifier) SendNotification(ctx context.Context, notification Notification) error {
	argv := make([]string, len(n.args))
	for i, a := range n.args {
		argv[i] = notification.Tokens.Expand(a, n.markUnknown)
	}

	runCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	out, err := exec.CommandContext(runCtx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		n.logger.Warnw("alert command failed",
			"alert", notification.Alert,
			"check", notification.Check,
			"command", argv[0],
			"output", strings.TrimSpace(string(out)),
			"error", err)
		return fmt.Errorf("alert command %s: %w", argv[0], err)
	}
	return nil
}

func (n *ProgramNotifier) Type() NotificationType {
	return ProgramNotification
}

func (n *ProgramNotifier) Initialize(ctx context.Context) error {
	_ = ctx
	if _, err := exec.LookPath(n.args[0]); err != nil {
		return fmt.Errorf("alert command %s: %w", n.args[0], err)
	}
	return nil
}

func (n *ProgramNotifier) Close() error {
	return nil
}
