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

package mailproto

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/whiskeyjimbo/Watchman/internal/loopprobe"
	"github.com/whiskeyjimbo/Watchman/internal/netline"
)

const (
	pop3OK         = "+OK"
	referenceField = "subject:"
)

type Account struct {
	Host string
	// Port is kept textual as configured; empty selects the mode default.
	Port     string
	User     string
	Password string
	Mode     netline.Mode
}

// Receiver is told about every reference read back from the mailbox.
type Receiver interface {
	MarkReceived(reference string, at time.Time) bool
}

type FetchResult struct {
	Messages int
	Matched  int
	Orphans  int
	Deleted  int
}

// FetchAndMatch scans every message header in the mailbox. Messages whose
// subject belongs to pattern are reported to rcv and deleted; all other
// messages are left alone.
func (c *Client) FetchAndMatch(ctx context.Context, acct Account, pattern string, rcv Receiver) (FetchResult, error) {
	var result FetchResult

	port, err := accountPort(acct)
	if err != nil {
		return result, err
	}
	srv := Server{Host: acct.Host, Port: port, Mode: acct.Mode}

	conn, err := c.dial(ctx, srv)
	if err != nil {
		return result, err
	}
	defer conn.Close()

	s := &pop3Session{conn: conn}
	err = s.run(acct, pattern, rcv, &result, c)
	if err != nil && !errors.Is(err, netline.ErrNetIO) {
		s.quit()
	}
	return result, err
}

func accountPort(acct Account) (int, error) {
	if strings.TrimSpace(acct.Port) == "" {
		if acct.Mode == netline.TLS {
			return DefaultPOP3SPort, nil
		}
		return DefaultPOP3Port, nil
	}
	return parsePort(acct.Port)
}

type pop3Session struct {
	conn *netline.Conn
}

func (s *pop3Session) run(acct Account, pattern string, rcv Receiver, result *FetchResult, c *Client) error {
	greeting, err := s.readLine()
	if err != nil {
		return err
	}
	if !isPositive(greeting) {
		return fmt.Errorf("%w: %q", ErrBadGreeting, greeting)
	}

	answer, err := s.command("USER " + acct.User)
	if err != nil {
		return err
	}
	if !isPositive(answer) {
		return fmt.Errorf("%w: %q", ErrUserRejected, answer)
	}

	answer, err = s.command("PASS " + acct.Password)
	if err != nil {
		return err
	}
	if !isPositive(answer) {
		return fmt.Errorf("%w: %q", ErrPasswordRejected, answer)
	}

	answer, err = s.command("STAT")
	if err != nil {
		return err
	}
	count, err := parseStat(answer)
	if err != nil {
		return err
	}
	result.Messages = count

	for i := 1; i <= count; i++ {
		subject, ok, err := s.topSubject(i)
		if err != nil {
			return err
		}
		if !ok || !loopprobe.BelongsToMe(pattern, subject) {
			continue
		}

		if rcv.MarkReceived(subject, time.Now()) {
			result.Matched++
		} else {
			result.Orphans++
		}

		answer, err := s.command("DELE " + strconv.Itoa(i))
		if err != nil {
			return err
		}
		if !isPositive(answer) {
			c.logger.Warnw("pop3 delete failed", "server", s.conn.Endpoint(), "message", i, "answer", answer)
			continue
		}
		result.Deleted++
	}

	s.quit()
	return nil
}

// topSubject fetches the headers of message i and returns its subject.
// ok is false when the server refused TOP or no subject was present.
func (s *pop3Session) topSubject(i int) (subject string, ok bool, err error) {
	answer, err := s.command(fmt.Sprintf("TOP %d 0", i))
	if err != nil {
		return "", false, err
	}
	if !isPositive(answer) {
		return "", false, nil
	}

	for {
		line, err := s.readLine()
		if err != nil {
			return "", false, err
		}
		if line == "." {
			return subject, ok, nil
		}
		line = strings.TrimPrefix(line, ".")
		if !ok && len(line) >= len(referenceField) && strings.EqualFold(line[:len(referenceField)], referenceField) {
			subject = strings.TrimSpace(line[len(referenceField):])
			ok = true
		}
	}
}

func (s *pop3Session) command(line string) (string, error) {
	if err := s.conn.WriteLine(line); err != nil {
		return "", err
	}
	return s.readLine()
}

func (s *pop3Session) readLine() (string, error) {
	line, err := s.conn.ReadLine()
	if err != nil {
		if errors.Is(err, netline.ErrClosed) {
			return "", fmt.Errorf("%w: %w", netline.ErrNetIO, err)
		}
		return "", err
	}
	return line, nil
}

func (s *pop3Session) quit() {
	if err := s.conn.WriteLine("QUIT"); err == nil {
		_, _ = s.conn.ReadLine()
	}
}

func isPositive(answer string) bool {
	return answer == pop3OK || strings.HasPrefix(answer, pop3OK+" ")
}

// parseStat reads the message count out of "+OK <count> <octets>".
func parseStat(answer string) (int, error) {
	fields := strings.Fields(answer)
	if len(fields) < 3 || fields[0] != pop3OK {
		return 0, fmt.Errorf("%w: %q", ErrStat, answer)
	}
	count, err := strconv.Atoi(fields[1])
	if err != nil || count < 0 {
		return 0, fmt.Errorf("%w: %q", ErrStat, answer)
	}
	if _, err := strconv.Atoi(fields[2]); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrStat, answer)
	}
	return count, nil
}

// RedactPassword hides the PASS argument in protocol traces.
func RedactPassword(line string) string {
	if len(line) > 5 && strings.EqualFold(line[:5], "PASS ") {
		return line[:5] + "****"
	}
	return line
}
