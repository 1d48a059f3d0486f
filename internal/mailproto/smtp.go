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

// Package mailproto implements the small parts of SMTP and POP3 needed to
// push one message out and to scan a mailbox for loop probes.
package mailproto

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/whiskeyjimbo/Watchman/internal/netline"
	"go.uber.org/zap"
)

const (
	DefaultSMTPPort    = 25
	DefaultSMTPSPort   = 465
	DefaultPOP3Port    = 110
	DefaultPOP3SPort   = 995
	defaultHeloName    = "localhost"
	queuedAsMarker     = "QUEUED AS"
	smtpPositiveFinish = "250 "
)

type Envelope struct {
	From string
	// To is a comma separated recipient list.
	To   string
	Helo string
}

// Message is already split into header lines and body lines, without
// terminators.
type Message struct {
	Headers []string
	Body    []string
}

type Receipt struct {
	Server   string
	QueueID  string
	Accepted []string
	Rejected []string
}

// Client carries the connection options shared by SMTP and POP3 sessions.
type Client struct {
	opts   netline.Options
	logger *zap.SugaredLogger
}

func NewClient(opts netline.Options, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	if opts.Redact == nil {
		opts.Redact = RedactPassword
	}
	return &Client{opts: opts, logger: logger}
}

func (c *Client) dial(ctx context.Context, srv Server) (*netline.Conn, error) {
	opts := c.opts
	opts.Mode = srv.Mode
	conn, err := netline.Dial(ctx, srv.Host, srv.Port, opts)
	if err != nil {
		if errors.Is(err, netline.ErrResolve) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", netline.ErrNetIO, err)
	}
	return conn, nil
}

// SendVia tries each server in order until one complete transaction
// succeeds. The error of the last attempt is returned when all fail.
func (c *Client) SendVia(ctx context.Context, servers []Server, env Envelope, msg Message) (Receipt, error) {
	if len(servers) == 0 {
		return Receipt{}, errors.New("no smtp server configured")
	}
	var lastErr error
	for _, srv := range servers {
		receipt, err := c.Send(ctx, srv, env, msg)
		if err == nil {
			return receipt, nil
		}
		c.logger.Warnw("smtp delivery attempt failed", "server", srv.String(), "error", err)
		lastErr = err
	}
	return Receipt{}, lastErr
}

// Send runs one SMTP transaction against srv.
func (c *Client) Send(ctx context.Context, srv Server, env Envelope, msg Message) (Receipt, error) {
	receipt := Receipt{Server: srv.String()}

	conn, err := c.dial(ctx, srv)
	if err != nil {
		return receipt, err
	}
	defer conn.Close()

	s := &smtpSession{conn: conn}

	greeting, err := s.reply()
	if err != nil {
		return receipt, err
	}
	if !strings.HasPrefix(greeting, "220 ") {
		s.quit()
		return receipt, fmt.Errorf("%w: %q", ErrBadGreeting, greeting)
	}

	helo := env.Helo
	if helo == "" {
		helo = defaultHeloName
	}
	answer, err := s.command("EHLO " + helo)
	if err != nil {
		return receipt, err
	}
	if !strings.HasPrefix(answer, smtpPositiveFinish) {
		s.quit()
		return receipt, fmt.Errorf("%w: %q", ErrBadEhloAnswer, answer)
	}

	answer, err = s.command("MAIL FROM:<" + Address(env.From) + ">")
	if err != nil {
		return receipt, err
	}
	if !strings.HasPrefix(answer, smtpPositiveFinish) {
		s.quit()
		return receipt, fmt.Errorf("%w: %q", ErrSenderRejected, answer)
	}

	for _, rcpt := range SplitAddresses(env.To) {
		answer, err = s.command("RCPT TO:<" + rcpt + ">")
		if err != nil {
			return receipt, err
		}
		if strings.HasPrefix(answer, "250 ") || strings.HasPrefix(answer, "251 ") {
			receipt.Accepted = append(receipt.Accepted, rcpt)
			continue
		}
		c.logger.Warnw("smtp recipient rejected", "server", srv.String(), "recipient", rcpt, "answer", answer)
		receipt.Rejected = append(receipt.Rejected, rcpt)
	}
	if len(receipt.Accepted) == 0 {
		s.quit()
		return receipt, fmt.Errorf("%w: %s", ErrNoRecipientAccepted, env.To)
	}

	answer, err = s.command("DATA")
	if err != nil {
		return receipt, err
	}
	if !strings.HasPrefix(answer, "354 ") {
		s.quit()
		return receipt, fmt.Errorf("%w: %q", ErrDataRejected, answer)
	}

	for _, line := range msg.Headers {
		if err := conn.WriteLine(line); err != nil {
			return receipt, err
		}
	}
	if err := conn.WriteLine(""); err != nil {
		return receipt, err
	}
	for _, line := range msg.Body {
		if strings.HasPrefix(line, ".") {
			line = "." + line
		}
		if err := conn.WriteLine(line); err != nil {
			return receipt, err
		}
	}

	if err := conn.WriteLine("."); err != nil {
		return receipt, err
	}
	answer, err = s.reply()
	if err != nil {
		return receipt, fmt.Errorf("%w: %w", ErrReceptionNotConfirmed, err)
	}
	if !strings.HasPrefix(answer, smtpPositiveFinish) {
		s.quit()
		return receipt, fmt.Errorf("%w: %q", ErrReceptionNotConfirmed, answer)
	}
	receipt.QueueID = queueID(answer)

	s.quit()
	c.logger.Debugw("smtp message accepted", "server", srv.String(), "queue_id", receipt.QueueID,
		"accepted", receipt.Accepted, "rejected", receipt.Rejected)
	return receipt, nil
}

type smtpSession struct {
	conn *netline.Conn
}

func (s *smtpSession) command(line string) (string, error) {
	if err := s.conn.WriteLine(line); err != nil {
		return "", err
	}
	return s.reply()
}

// reply consumes "NNN-" continuation lines and returns the final one.
func (s *smtpSession) reply() (string, error) {
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			if errors.Is(err, netline.ErrClosed) {
				return "", fmt.Errorf("%w: %w", netline.ErrNetIO, err)
			}
			return "", err
		}
		if len(line) >= 4 && line[3] == '-' && isReplyCode(line[:3]) {
			continue
		}
		return line, nil
	}
}

func (s *smtpSession) quit() {
	if err := s.conn.WriteLine("QUIT"); err == nil {
		_, _ = s.conn.ReadLine()
	}
}

func isReplyCode(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// queueID pulls the remote id out of "250 2.0.0 Ok: queued as 4F3A21".
func queueID(answer string) string {
	idx := strings.Index(strings.ToUpper(answer), queuedAsMarker)
	if idx < 0 {
		return ""
	}
	fields := strings.Fields(answer[idx+len(queuedAsMarker):])
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "<>()[],;")
}
