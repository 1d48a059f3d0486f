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
	"errors"
	"fmt"
	"time"

	"github.com/whiskeyjimbo/Watchman/internal/subst"
	"go.uber.org/zap"
)

type NotificationType string

const (
	SMTPNotification    NotificationType = "smtp"
	ProgramNotification NotificationType = "program"
	LogNotification     NotificationType = "log"
)

type NotificationLevel string

const (
	InfoLevel    NotificationLevel = "info"
	WarningLevel NotificationLevel = "warning"
	ErrorLevel   NotificationLevel = "error"
)

// Notification is one alert firing for one check.
type Notification struct {
	Alert  string
	Check  string
	Host   string
	Status string
	// Class is the escalation class being delivered: "fail" or "recovery".
	Class  string
	Level  NotificationLevel
	Tokens subst.Values
}

type Notifier interface {
	SendNotification(ctx context.Context, notification Notification) error
	Type() NotificationType
	Initialize(ctx context.Context) error
	Close() error
}

// Options configures NewNotifier. Only the block matching the type is read.
type Options struct {
	Logger         *zap.SugaredLogger
	MarkUnknown    bool
	Hostname       string
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	Trace          bool

	SMTP    *SMTPOptions
	Program *ProgramOptions
	Log     *LogOptions
}

func NewNotifier(notifierType NotificationType, opts Options) (Notifier, error) {
	if opts.Logger == nil {
		return nil, errors.New("notifier requires a logger")
	}

	switch notifierType {
	case LogNotification:
		var lo LogOptions
		if opts.Log != nil {
			lo = *opts.Log
		}
		return NewLogNotifier(opts.Logger, lo, opts.MarkUnknown), nil
	case SMTPNotification:
		if opts.SMTP == nil {
			return nil, errors.New("smtp notifier requires smtp options")
		}
		n, err := NewSMTPNotifier(opts.Logger, *opts.SMTP, opts)
		if err != nil {
			return nil, err
		}
		return n, nil
	case ProgramNotification:
		if opts.Program == nil {
			return nil, errors.New("program notifier requires a command")
		}
		n, err := NewProgramNotifier(opts.Logger, *opts.Program, opts.MarkUnknown)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported notification type: %s", notifierType)
	}
}
