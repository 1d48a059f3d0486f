package config

import (
	"fmt"
	"time"

	"github.com/whiskeyjimbo/Watchman/internal/alerts"
	"github.com/whiskeyjimbo/Watchman/internal/checkers"
	"github.com/whiskeyjimbo/Watchman/internal/monitor"
	"github.com/whiskeyjimbo/Watchman/internal/notifications"
	"github.com/whiskeyjimbo/Watchman/internal/rules"
	"github.com/whiskeyjimbo/Watchman/internal/tags"
	"go.uber.org/zap"
)

// Assembly is the runtime state built from a validated configuration.
type Assembly struct {
	Checks    []*monitor.Check
	Notifiers []notifications.Notifier
	Scheduler monitor.Options
}

// Build creates checkers, notifiers and alert bindings. It expects a
// configuration returned by LoadConfiguration.
func (c *Config) Build(logger *zap.SugaredLogger, loopMetrics checkers.LoopMetrics) (*Assembly, error) {
	d := c.Defaults
	interval, _ := parseDuration(d.Interval, DefaultInterval)
	connectTimeout, _ := parseDuration(d.ConnectTimeout, DefaultConnectTimeout)
	ioTimeout, _ := parseDuration(d.IOTimeout, DefaultIOTimeout)
	changeDisplay, _ := parseDuration(d.ChangeDisplay, DefaultChangeDisplay)

	asm := &Assembly{
		Scheduler: monitor.Options{Interval: interval, ChangeDisplay: changeDisplay},
	}

	byName := make(map[string]*alerts.Alert, len(c.Alerts))
	for _, ac := range c.Alerts {
		alert, err := c.buildAlert(ac, logger, connectTimeout, ioTimeout)
		if err != nil {
			return nil, fmt.Errorf("alert %q: %w", ac.Name, err)
		}
		byName[ac.Name] = alert
		asm.Notifiers = append(asm.Notifiers, alert.Notifier)
	}

	for _, cc := range c.Checks {
		settings := checkers.Settings{
			Logger:         logger.With("check", cc.Name),
			ConnectTimeout: connectTimeout,
			IOTimeout:      ioTimeout,
			Trace:          c.Log.Trace,
			Hostname:       d.Hostname,
			MarkUnknown:    d.MarkUnknownTokens,
			LoopMetrics:    loopMetrics,
		}
		if err := cc.fillSettings(&settings); err != nil {
			return nil, fmt.Errorf("check %q: %w", cc.Name, err)
		}

		checker, err := checkers.NewChecker(checkers.Method(cc.Method), settings)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", cc.Name, err)
		}

		check := monitor.NewCheck(cc.Name, cc.Host, checker, d.History)
		check.Tags = tags.Merge(d.Tags, cc.Tags)

		bound := make(map[string]bool, len(cc.Alerts))
		for _, ref := range cc.Alerts {
			bound[ref.Name] = true
			check.Bindings = append(check.Bindings, &alerts.Binding{
				Alert: byName[ref.Name],
				Overrides: alerts.Overrides{
					Threshold:   ref.Threshold,
					RepeatEvery: ref.RepeatEvery,
					RepeatMax:   ref.RepeatMax,
					Recovery:    ref.Recovery,
				},
			})
		}
		for _, ac := range c.Alerts {
			if len(ac.Tags) == 0 || bound[ac.Name] || !tags.HasMatching(check.Tags, ac.Tags) {
				continue
			}
			check.Bindings = append(check.Bindings, &alerts.Binding{Alert: byName[ac.Name]})
		}
		asm.Checks = append(asm.Checks, check)
	}
	return asm, nil
}

func (cc CheckConfig) fillSettings(s *checkers.Settings) error {
	switch checkers.Method(cc.Method) {
	case checkers.TCP:
		s.TCP = &checkers.TCPSettings{
			Port:   cc.TCP.Port,
			Banner: cc.TCP.Banner,
			Send:   cc.TCP.Send,
			TLS:    cc.TCP.TLS,
		}
	case checkers.Program:
		timeout, err := parseDuration(cc.Program.Timeout, 0)
		if err != nil {
			return err
		}
		s.Program = &checkers.ProgramSettings{Command: cc.Program.Command, Timeout: timeout}
	case checkers.Loop:
		l := cc.Loop
		delay, err := parseDuration(l.FailDelay, checkers.DefaultLoopFailDelay)
		if err != nil {
			return err
		}
		timeout, err := parseDuration(l.FailTimeout, checkers.DefaultLoopFailTimeout)
		if err != nil {
			return err
		}
		sendFail, err := parseStatus(l.SendFailStatus)
		if err != nil {
			return err
		}
		receiveFail, err := parseStatus(l.ReceiveFailStatus)
		if err != nil {
			return err
		}
		s.Loop = &checkers.LoopSettings{
			ID:                l.ID,
			SMTPServers:       l.SMTP,
			SMTPTLS:           l.SMTPTLS,
			From:              l.From,
			To:                l.To,
			POP3Host:          l.POP3Host,
			POP3Port:          l.POP3Port,
			POP3User:          l.POP3User,
			POP3Password:      l.POP3Password,
			POP3TLS:           l.POP3TLS,
			SendEvery:         l.SendEvery,
			FailDelay:         delay,
			FailTimeout:       timeout,
			SendFailStatus:    sendFail,
			ReceiveFailStatus: receiveFail,
		}
	}
	return nil
}

func (c *Config) buildAlert(ac AlertConfig, logger *zap.SugaredLogger, connectTimeout, ioTimeout time.Duration) (*alerts.Alert, error) {
	d := c.Defaults
	alert := &alerts.Alert{
		Name:        ac.Name,
		Method:      notifications.NotificationType(ac.Method),
		Threshold:   intOr(ac.Threshold, d.Threshold),
		RepeatEvery: intOr(ac.RepeatEvery, d.RepeatEvery),
		RepeatMax:   intOr(ac.RepeatMax, *d.RepeatMax),
		Recovery:    d.Recovery,
		Retries:     intOr(ac.Retries, d.Retries),
	}
	if ac.Recovery != nil {
		alert.Recovery = *ac.Recovery
	}

	if ac.Filter != "" {
		filter, err := rules.Compile(ac.Filter)
		if err != nil {
			return nil, err
		}
		alert.Filter = filter
	}

	opts := notifications.Options{
		Logger:         logger.With("alert", ac.Name),
		MarkUnknown:    d.MarkUnknownTokens,
		Hostname:       d.Hostname,
		ConnectTimeout: connectTimeout,
		IOTimeout:      ioTimeout,
		Trace:          c.Log.Trace,
	}
	switch alert.Method {
	case notifications.SMTPNotification:
		opts.SMTP = &notifications.SMTPOptions{
			Servers: ac.SMTP.Servers,
			TLS:     ac.SMTP.TLS,
			From:    ac.SMTP.From,
			To:      ac.SMTP.To,
			Subject: ac.SMTP.Subject,
		}
	case notifications.ProgramNotification:
		timeout, err := parseDuration(ac.Program.Timeout, 0)
		if err != nil {
			return nil, err
		}
		opts.Program = &notifications.ProgramOptions{Command: ac.Program.Command, Timeout: timeout}
	case notifications.LogNotification:
		if ac.Log != nil {
			opts.Log = &notifications.LogOptions{File: ac.Log.File, Format: ac.Log.Format}
		}
	}

	notifier, err := notifications.NewNotifier(alert.Method, opts)
	if err != nil {
		return nil, err
	}
	alert.Notifier = notifier
	return alert, nil
}

func intOr(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}
