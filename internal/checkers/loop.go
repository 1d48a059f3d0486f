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

package checkers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/whiskeyjimbo/Watchman/internal/loopprobe"
	"github.com/whiskeyjimbo/Watchman/internal/mailproto"
	"github.com/whiskeyjimbo/Watchman/internal/netline"
	"go.uber.org/zap"
)

const (
	DefaultLoopFailDelay   = 15 * time.Minute
	DefaultLoopFailTimeout = 2 * time.Hour
)

var ErrProbeOverdue = errors.New("loop probe overdue")

// LoopMetrics receives loop probe observations. Implementations must be
// safe to call from the scheduler goroutine.
type LoopMetrics interface {
	ObserveRoundTrip(check string, rtt time.Duration)
	SetOutstanding(check string, n int)
}

type LoopSettings struct {
	ID string

	SMTPServers string
	SMTPTLS     bool
	From        string
	To          string

	POP3Host     string
	POP3Port     string
	POP3User     string
	POP3Password string
	POP3TLS      bool

	// SendEvery is the number of cycles between two probes.
	SendEvery   int
	FailDelay   time.Duration
	FailTimeout time.Duration

	// Undefined selects Unknown.
	SendFailStatus    Status
	ReceiveFailStatus Status
}

// LoopChecker sends tagged mails through SMTP and reads them back over POP3.
// Only the mail round-trip is measured, never the target host itself.
type LoopChecker struct {
	BaseChecker
	settings LoopSettings
	servers  []mailproto.Server
	account  mailproto.Account
	client   *mailproto.Client
	tracker  *loopprobe.Tracker
	helo     string
	metrics  LoopMetrics
	logger   *zap.SugaredLogger

	countdown int
	name      string
	now       func() time.Time
}

func NewLoopChecker(s Settings) (*LoopChecker, error) {
	if s.Loop == nil {
		return nil, errors.New("loop checker needs loop settings")
	}
	ls := *s.Loop
	if ls.ID == "" {
		return nil, errors.New("loop checker needs an id")
	}
	if ls.SendEvery <= 0 {
		ls.SendEvery = 1
	}
	if ls.FailDelay <= 0 {
		ls.FailDelay = DefaultLoopFailDelay
	}
	if ls.FailTimeout <= 0 {
		ls.FailTimeout = DefaultLoopFailTimeout
	}
	if ls.FailDelay >= ls.FailTimeout {
		return nil, fmt.Errorf("loop checker: fail_delay %s must be below fail_timeout %s", ls.FailDelay, ls.FailTimeout)
	}
	if ls.SendFailStatus == Undefined {
		ls.SendFailStatus = Unknown
	}
	if ls.ReceiveFailStatus == Undefined {
		ls.ReceiveFailStatus = Unknown
	}

	smtpMode, smtpPort := netline.Plain, mailproto.DefaultSMTPPort
	if ls.SMTPTLS {
		smtpMode, smtpPort = netline.TLS, mailproto.DefaultSMTPSPort
	}
	servers, err := mailproto.ParseServers(ls.SMTPServers, smtpPort, smtpMode)
	if err != nil {
		return nil, fmt.Errorf("loop checker: %w", err)
	}

	popMode := netline.Plain
	if ls.POP3TLS {
		popMode = netline.TLS
	}

	c := &LoopChecker{
		BaseChecker: NewBaseChecker(TimeoutBounds{Default: netline.DefaultConnectTimeout, Max: 2 * time.Minute}),
		settings:    ls,
		servers:     servers,
		account: mailproto.Account{
			Host:     ls.POP3Host,
			Port:     ls.POP3Port,
			User:     ls.POP3User,
			Password: ls.POP3Password,
			Mode:     popMode,
		},
		tracker: loopprobe.NewTracker(s.Logger),
		helo:    s.Hostname,
		metrics: s.LoopMetrics,
		logger:  s.Logger,
		now:     time.Now,
	}
	if err := c.SetTimeout(s.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("loop checker: %w", err)
	}
	c.client = mailproto.NewClient(netline.Options{
		ConnectTimeout: c.timeout,
		IOTimeout:      s.IOTimeout,
		Trace:          s.Trace,
		Logger:         s.Logger,
	}, s.Logger)
	c.tracker.OnReceived = func(rtt time.Duration) {
		if c.metrics != nil {
			c.metrics.ObserveRoundTrip(c.name, rtt)
		}
	}
	return c, nil
}

func (c *LoopChecker) Method() Method {
	return Loop
}

// Outstanding is the number of probes sent and not yet seen back.
func (c *LoopChecker) Outstanding() int {
	return c.tracker.Outstanding()
}

func (c *LoopChecker) Check(ctx context.Context, target Target) CheckResult {
	c.name = target.Name
	return c.measure(ctx, func() (Status, error) {
		now := c.now()

		var sendErr error
		if c.countdown <= 0 {
			sendErr = c.sendProbe(ctx, now)
			c.countdown = c.settings.SendEvery
		}
		c.countdown--

		pattern := loopprobe.NewReference(c.settings.ID, now)
		result, recvErr := c.client.FetchAndMatch(ctx, c.account, pattern, c.tracker)
		if recvErr == nil && (result.Matched > 0 || result.Orphans > 0) {
			c.logger.Debugw("loop probes read back",
				"check", target.Name,
				"matched", result.Matched,
				"orphans", result.Orphans,
				"deleted", result.Deleted)
		}

		c.tracker.Sweep(now, c.settings.FailTimeout)
		c.tracker.Compact()
		if c.metrics != nil {
			c.metrics.SetOutstanding(target.Name, c.tracker.Outstanding())
		}

		switch {
		case sendErr != nil:
			return c.settings.SendFailStatus, fmt.Errorf("sending probe: %w", sendErr)
		case recvErr != nil:
			return c.settings.ReceiveFailStatus, fmt.Errorf("reading mailbox %s: %w", c.account.Host, recvErr)
		case c.tracker.HasUnresolvedBefore(now, c.settings.FailTimeout, c.settings.FailDelay):
			return Fail, fmt.Errorf("%w: older than %s", ErrProbeOverdue, c.settings.FailDelay)
		}
		return Ok, nil
	})
}

func (c *LoopChecker) sendProbe(ctx context.Context, now time.Time) error {
	reference := loopprobe.NewReference(c.settings.ID, now)
	env := mailproto.Envelope{From: c.settings.From, To: c.settings.To, Helo: c.helo}

	msg, err := mailproto.ProbeMessage(env, reference, now)
	if err != nil {
		return err
	}
	receipt, err := c.client.SendVia(ctx, c.servers, env, msg)
	if err != nil {
		return err
	}

	c.tracker.RecordSent(reference, now)
	c.logger.Debugw("loop probe sent", "check", c.name, "reference", reference,
		"server", receipt.Server, "queue_id", receipt.QueueID)
	return nil
}

func init() {
	RegisterChecker(Loop, func(s Settings) (Checker, error) {
		c, err := NewLoopChecker(s)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
