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

	"github.com/whiskeyjimbo/Watchman/internal/subst"
)

const (
	GlobalMinTimeout     = 1 * time.Second
	GlobalMaxTimeout     = 10 * time.Minute
	GlobalDefaultTimeout = 10 * time.Second
)

type Status int

const (
	Undefined Status = iota
	Unknown
	Ok
	Fail
)

var statusNames = [...]string{"undefined", "unknown", "ok", "fail"}

func (s Status) String() string {
	if s < Undefined || s > Fail {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Code is the single character used in history strings.
func (s Status) Code() byte {
	switch s {
	case Unknown:
		return '?'
	case Ok:
		return '+'
	case Fail:
		return 'X'
	default:
		return '.'
	}
}

func (s Status) Num() int {
	return int(s)
}

func (s Status) IsOk() bool {
	return s == Ok
}

func ParseStatus(text string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(strings.TrimSpace(text), name) {
			return Status(i), nil
		}
	}
	return Undefined, fmt.Errorf("unknown status %q", text)
}

// Target is what a checker is pointed at for one cycle.
type Target struct {
	Name string
	Host string
	// Tokens carries the substitution table for this check at cycle start.
	Tokens subst.Values
}

type CheckResult struct {
	Error        error
	Metadata     map[string]interface{}
	ResponseTime time.Duration
	Status       Status
}

type Checker interface {
	Method() Method
	Check(ctx context.Context, target Target) CheckResult
	GetTimeout() time.Duration
	SetTimeout(timeout time.Duration) error
}

type TimeoutBounds struct {
	Min     time.Duration
	Max     time.Duration
	Default time.Duration
}

type BaseChecker struct {
	timeout time.Duration
	bounds  TimeoutBounds
}

func NewBaseChecker(bounds TimeoutBounds) BaseChecker {
	if bounds.Min == 0 {
		bounds.Min = GlobalMinTimeout
	}
	if bounds.Max == 0 {
		bounds.Max = GlobalMaxTimeout
	}
	if bounds.Default == 0 {
		bounds.Default = GlobalDefaultTimeout
	}

	return BaseChecker{
		timeout: bounds.Default,
		bounds:  bounds,
	}
}

// measure runs probe and times it. A context that is already done yields
// Unknown without probing.
func (b *BaseChecker) measure(ctx context.Context, probe func() (Status, error)) CheckResult {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return CheckResult{Status: Unknown, Error: err}
	}

	status, err := probe()
	return CheckResult{
		Status:       status,
		Error:        err,
		ResponseTime: time.Since(start),
	}
}

func (b *BaseChecker) GetTimeout() time.Duration {
	return b.timeout
}

func (b *BaseChecker) SetTimeout(timeout time.Duration) error {
	var err error
	b.timeout, err = b.ValidateTimeout(timeout)
	if err != nil {
		return err
	}
	return nil
}

func (b *BaseChecker) ValidateTimeout(timeout time.Duration) (time.Duration, error) {
	if timeout == 0 {
		return b.bounds.Default, nil
	}
	if timeout < b.bounds.Min {
		return b.bounds.Min, errors.New("timeout is less than the minimum allowed")
	}
	if timeout > b.bounds.Max {
		return b.bounds.Max, errors.New("timeout is greater than the maximum allowed")
	}
	return timeout, nil
}
