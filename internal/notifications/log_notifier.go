// Copyright (C) 2025 Jeff Rose
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package notifications

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

const DefaultLogFormat = "%NOW_TIMESTAMP%%TAB%%ALERT_NAME%%TAB%%DISPLAY_NAME%%TAB%%HOST_NAME%%TAB%%STATUS%%TAB%%CONSECUTIVE_NOTOK%%TAB%%ALERT_SEQ%"

type LogOptions struct {
	// File receives one expanded Format line per notification. Empty means
	// the process log only.
	File   string
	Format string
}

type LogNotifier struct {
	logger      *zap.SugaredLogger
	opts        LogOptions
	markUnknown bool

	mu sync.Mutex
}

func NewLogNotifier(logger *zap.SugaredLogger, opts LogOptions, markUnknown bool) *LogNotifier {
	if opts.Format == "" {
		opts.Format = DefaultLogFormat
	}
	return &LogNotifier{
		logger:      logger,
		opts:        opts,
		markUnknown: markUnknown,
	}
}

func (n *LogNotifier) SendNotification(_ context.Context, notification Notification) error {
	logger := n.logger.With(
		"alert", notification.Alert,
		"check", notification.Check,
		"host", notification.Host,
		"status", notification.Status,
		"class", notification.Class,
	)

	message := BuildMessage(notification)
	switch notification.Level {
	case ErrorLevel:
		logger.Error(message)
	case WarningLevel:
		logger.Warn(message)
	default:
		logger.Info(message)
	}

	if n.opts.File == "" {
		return nil
	}
	return n.appendLine(notification.Tokens.Expand(n.opts.Format, n.markUnknown))
}

func (n *LogNotifier) appendLine(line string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	f, err := os.OpenFile(n.opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening alert log: %w", err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("writing alert log: %w", err)
	}
	return f.Close()
}

func (n *LogNotifier) Type() NotificationType {
	return LogNotification
}

// Initialize checks the log file can be opened for appending.
func (n *LogNotifier) Initialize(ctx context.Context) error {
	_ = ctx
	if n.opts.File == "" {
		return nil
	}
	f, err := os.OpenFile(n.opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening alert log: %w", err)
	}
	return f.Close()
}

func (n *LogNotifier) Close() error {
	return nil
}
