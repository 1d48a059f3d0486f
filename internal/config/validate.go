package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/whiskeyjimbo/Watchman/internal/checkers"
	"github.com/whiskeyjimbo/Watchman/internal/mailproto"
	"github.com/whiskeyjimbo/Watchman/internal/netline"
	"github.com/whiskeyjimbo/Watchman/internal/notifications"
	"github.com/whiskeyjimbo/Watchman/internal/rules"
)

func (c *CheckConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("check name cannot be empty")
	}

	method, err := inferMethod(c.Method, map[string]bool{
		string(checkers.TCP):     c.TCP != nil,
		string(checkers.Program): c.Program != nil,
		string(checkers.Loop):    c.Loop != nil,
	})
	if err != nil {
		return err
	}
	c.Method = method

	switch checkers.Method(method) {
	case checkers.TCP:
		if c.TCP == nil {
			return errors.New("tcp block is required")
		}
		if c.Host == "" {
			return errors.New("tcp check needs a host")
		}
		if c.TCP.Port <= 0 || c.TCP.Port > 65535 {
			return fmt.Errorf("%w: %d", mailproto.ErrInvalidPort, c.TCP.Port)
		}
	case checkers.Program:
		if err := c.Program.validate(); err != nil {
			return err
		}
	case checkers.Loop:
		if c.Loop == nil {
			return errors.New("loop block is required")
		}
		if err := c.Loop.validate(); err != nil {
			return err
		}
	}

	for _, ref := range c.Alerts {
		if ref.Name == "" {
			return errors.New("alert reference without a name")
		}
		if err := validateEscalation(ref.Threshold, ref.RepeatEvery, ref.RepeatMax, nil); err != nil {
			return fmt.Errorf("alert %q: %w", ref.Name, err)
		}
	}
	return nil
}

func (p *ProgramConfig) validate() error {
	if p == nil || strings.TrimSpace(p.Command) == "" {
		return errors.New("program needs a command")
	}
	if _, err := parseDuration(p.Timeout, 0); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	return nil
}

func (l *LoopConfig) validate() error {
	if l.ID == "" {
		return errors.New("loop needs an id")
	}
	if strings.ContainsFunc(l.ID, unicode.IsSpace) {
		return fmt.Errorf("loop id %q must not contain whitespace", l.ID)
	}
	if _, err := mailproto.ParseServers(l.SMTP, mailproto.DefaultSMTPPort, netline.Plain); err != nil {
		return fmt.Errorf("smtp: %w", err)
	}
	if len(mailproto.SplitAddresses(l.To)) == 0 {
		return errors.New("loop needs a recipient")
	}
	if l.POP3Host == "" || l.POP3User == "" {
		return errors.New("loop needs pop3_host and pop3_user")
	}
	if l.POP3Port != "" {
		if n, err := strconv.Atoi(l.POP3Port); err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("pop3_port: %w: %q", mailproto.ErrInvalidPort, l.POP3Port)
		}
	}
	if l.SendEvery < 0 {
		return fmt.Errorf("send_every must not be negative, got %d", l.SendEvery)
	}

	delay, err := parseDuration(l.FailDelay, checkers.DefaultLoopFailDelay)
	if err != nil {
		return fmt.Errorf("fail_delay: %w", err)
	}
	timeout, err := parseDuration(l.FailTimeout, checkers.DefaultLoopFailTimeout)
	if err != nil {
		return fmt.Errorf("fail_timeout: %w", err)
	}
	if delay >= timeout {
		return fmt.Errorf("fail_delay %s must be below fail_timeout %s", delay, timeout)
	}

	for field, value := range map[string]string{
		"send_fail_status":    l.SendFailStatus,
		"receive_fail_status": l.ReceiveFailStatus,
	} {
		if _, err := parseStatus(value); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	return nil
}

func (a *AlertConfig) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("alert name cannot be empty")
	}

	method, err := inferMethod(a.Method, map[string]bool{
		string(notifications.SMTPNotification):    a.SMTP != nil,
		string(notifications.ProgramNotification): a.Program != nil,
		string(notifications.LogNotification):     a.Log != nil,
	})
	if err != nil {
		return err
	}
	a.Method = method

	switch notifications.NotificationType(method) {
	case notifications.SMTPNotification:
		if a.SMTP == nil {
			return errors.New("smtp block is required")
		}
		if _, err := mailproto.ParseServers(a.SMTP.Servers, mailproto.DefaultSMTPPort, netline.Plain); err != nil {
			return fmt.Errorf("servers: %w", err)
		}
		if len(mailproto.SplitAddresses(a.SMTP.To)) == 0 {
			return errors.New("smtp alert needs a recipient")
		}
		if a.SMTP.From == "" {
			return errors.New("smtp alert needs a sender")
		}
	case notifications.ProgramNotification:
		if err := a.Program.validate(); err != nil {
			return err
		}
	}

	if err := validateEscalation(a.Threshold, a.RepeatEvery, a.RepeatMax, a.Retries); err != nil {
		return err
	}
	if a.Filter != "" {
		if _, err := rules.Compile(a.Filter); err != nil {
			return fmt.Errorf("filter: %w", err)
		}
	}
	return nil
}

func validateEscalation(threshold, repeatEvery, repeatMax, retries *int) error {
	if threshold != nil && *threshold < 1 {
		return fmt.Errorf("threshold must be at least 1, got %d", *threshold)
	}
	if repeatEvery != nil && *repeatEvery < 0 {
		return fmt.Errorf("repeat_every must not be negative, got %d", *repeatEvery)
	}
	if repeatMax != nil && *repeatMax < -1 {
		return fmt.Errorf("repeat_max must be -1 or more, got %d", *repeatMax)
	}
	if retries != nil && *retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", *retries)
	}
	return nil
}

// parseStatus maps an empty value to Undefined, which checkers read as
// their own default.
func parseStatus(value string) (checkers.Status, error) {
	if strings.TrimSpace(value) == "" {
		return checkers.Undefined, nil
	}
	return checkers.ParseStatus(value)
}
