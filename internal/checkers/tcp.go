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
	"strings"
	"time"

	"github.com/whiskeyjimbo/Watchman/internal/netline"
	"go.uber.org/zap"
)

var ErrBannerMismatch = errors.New("banner mismatch")

type TCPSettings struct {
	Port int
	// Banner must appear in the first line read when set.
	Banner string
	// Send is written once before the banner is read.
	Send string
	TLS  bool
}

type TCPChecker struct {
	BaseChecker
	settings  TCPSettings
	ioTimeout time.Duration
	trace     bool
	logger    *zap.SugaredLogger
}

func NewTCPChecker(s Settings) (*TCPChecker, error) {
	if s.TCP == nil {
		return nil, errors.New("tcp checker needs tcp settings")
	}
	if s.TCP.Port <= 0 || s.TCP.Port > 65535 {
		return nil, fmt.Errorf("tcp checker: invalid port %d", s.TCP.Port)
	}

	c := &TCPChecker{
		BaseChecker: NewBaseChecker(TimeoutBounds{Default: netline.DefaultConnectTimeout, Max: 2 * time.Minute}),
		settings:    *s.TCP,
		ioTimeout:   s.IOTimeout,
		trace:       s.Trace,
		logger:      s.Logger,
	}
	if err := c.SetTimeout(s.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("tcp checker: %w", err)
	}
	return c, nil
}

func (c *TCPChecker) Method() Method {
	return TCP
}

func (c *TCPChecker) Check(ctx context.Context, target Target) CheckResult {
	return c.measure(ctx, func() (Status, error) {
		mode := netline.Plain
		if c.settings.TLS {
			mode = netline.TLS
		}
		conn, err := netline.Dial(ctx, target.Host, c.settings.Port, netline.Options{
			Mode:           mode,
			ConnectTimeout: c.timeout,
			IOTimeout:      c.ioTimeout,
			Trace:          c.trace,
			Logger:         c.logger,
		})
		if err != nil {
			if errors.Is(err, netline.ErrResolve) {
				return Unknown, err
			}
			return Fail, err
		}
		defer conn.Close()

		if c.settings.Send != "" {
			if err := conn.WriteLine(c.settings.Send); err != nil {
				return Fail, err
			}
		}
		if c.settings.Banner == "" {
			return Ok, nil
		}

		line, err := conn.ReadLine()
		if err != nil {
			return Fail, fmt.Errorf("reading banner: %w", err)
		}
		if !strings.Contains(line, c.settings.Banner) {
			return Fail, fmt.Errorf("%w: %q does not contain %q", ErrBannerMismatch, line, c.settings.Banner)
		}
		return Ok, nil
	})
}

func init() {
	RegisterChecker(TCP, func(s Settings) (Checker, error) {
		c, err := NewTCPChecker(s)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}
