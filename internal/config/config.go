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

// Package config loads the YAML configuration, fills in defaults and checks
// it for consistency before anything is started.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/drone/envsubst"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"
)

const (
	DefaultListen         = ":9100"
	DefaultInterval       = time.Minute
	DefaultHistory        = 15
	DefaultConnectTimeout = 10 * time.Second
	DefaultIOTimeout      = 30 * time.Second
	DefaultChangeDisplay  = 23 * time.Hour
)

var (
	ErrNoChecks        = errors.New("no checks configured")
	ErrDuplicateName   = errors.New("duplicate name")
	ErrUnknownAlert    = errors.New("unknown alert")
	ErrMethodAmbiguous = errors.New("method cannot be inferred")
	ErrMethodMismatch  = errors.New("method does not match configured block")
	ErrInvalidDuration = errors.New("invalid duration")
)

type Config struct {
	Defaults DefaultsConfig `yaml:"defaults"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Checks   []CheckConfig  `yaml:"checks"`
	Alerts   []AlertConfig  `yaml:"alerts"`
}

type DefaultsConfig struct {
	Interval       string `yaml:"interval"`
	History        int    `yaml:"history"`
	ConnectTimeout string `yaml:"connect_timeout"`
	IOTimeout      string `yaml:"io_timeout"`
	ChangeDisplay  string `yaml:"change_display"`

	Threshold   int  `yaml:"threshold"`
	RepeatEvery int  `yaml:"repeat_every"`
	RepeatMax   *int `yaml:"repeat_max"`
	Recovery    bool `yaml:"recovery"`
	Retries     int  `yaml:"retries"`

	Hostname          string   `yaml:"hostname"`
	MarkUnknownTokens bool     `yaml:"mark_unknown_tokens"`
	Tags              []string `yaml:"tags"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Trace bool   `yaml:"trace"`
}

type CheckConfig struct {
	Name   string   `yaml:"name"`
	Host   string   `yaml:"host"`
	Method string   `yaml:"method"`
	Tags   []string `yaml:"tags"`

	TCP     *TCPConfig     `yaml:"tcp"`
	Program *ProgramConfig `yaml:"program"`
	Loop    *LoopConfig    `yaml:"loop"`

	Alerts []AlertRef `yaml:"alerts"`
}

type TCPConfig struct {
	Port   int    `yaml:"port"`
	Banner string `yaml:"banner"`
	Send   string `yaml:"send"`
	TLS    bool   `yaml:"tls"`
}

type ProgramConfig struct {
	Command string `yaml:"command"`
	Timeout string `yaml:"timeout"`
}

type LoopConfig struct {
	ID string `yaml:"id"`

	SMTP    string `yaml:"smtp"`
	SMTPTLS bool   `yaml:"smtp_tls"`
	From    string `yaml:"from"`
	To      string `yaml:"to"`

	POP3Host     string `yaml:"pop3_host"`
	POP3Port     string `yaml:"pop3_port"`
	POP3User     string `yaml:"pop3_user"`
	POP3Password string `yaml:"pop3_password"`
	POP3TLS      bool   `yaml:"pop3_tls"`

	SendEvery   int    `yaml:"send_every"`
	FailDelay   string `yaml:"fail_delay"`
	FailTimeout string `yaml:"fail_timeout"`

	SendFailStatus    string `yaml:"send_fail_status"`
	ReceiveFailStatus string `yaml:"receive_fail_status"`
}

// AlertRef binds an alert to a check. It is written either as the bare
// alert name or as a mapping carrying per check overrides.
type AlertRef struct {
	Name        string `yaml:"name"`
	Threshold   *int   `yaml:"threshold"`
	RepeatEvery *int   `yaml:"repeat_every"`
	RepeatMax   *int   `yaml:"repeat_max"`
	Recovery    *bool  `yaml:"recovery"`
}

func (r *AlertRef) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		*r = AlertRef{Name: name}
		return nil
	}
	type plain AlertRef
	return unmarshal((*plain)(r))
}

type AlertConfig struct {
	Name   string `yaml:"name"`
	Method string `yaml:"method"`

	Threshold   *int   `yaml:"threshold"`
	RepeatEvery *int   `yaml:"repeat_every"`
	RepeatMax   *int   `yaml:"repeat_max"`
	Recovery    *bool  `yaml:"recovery"`
	Retries     *int   `yaml:"retries"`
	Filter      string `yaml:"filter"`

	// Tags binds the alert to every check carrying one of them, on top of
	// the checks that reference it by name.
	Tags []string `yaml:"tags"`

	SMTP    *SMTPAlertConfig `yaml:"smtp"`
	Program *ProgramConfig   `yaml:"program"`
	Log     *LogAlertConfig  `yaml:"log"`
}

type SMTPAlertConfig struct {
	Servers string `yaml:"servers"`
	TLS     bool   `yaml:"tls"`
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Subject string `yaml:"subject"`
}

type LogAlertConfig struct {
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

func LoadConfiguration(path string) (*Config, error) {
	config, err := loadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	normalizeConfig(config)
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func loadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(filename))
	if err != nil {
		return nil, err
	}
	return parseConfig(string(data))
}

func parseConfig(data string) (*Config, error) {
	// ${VAR} references are resolved before the YAML is parsed
	expanded, err := envsubst.EvalEnv(data)
	if err != nil {
		return nil, fmt.Errorf("failed to substitute environment variables: %w", err)
	}

	var config Config
	if err := yaml.UnmarshalStrict([]byte(expanded), &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func normalizeConfig(c *Config) {
	d := &c.Defaults
	if d.History <= 0 {
		d.History = DefaultHistory
	}
	if d.Threshold <= 0 {
		d.Threshold = 1
	}
	if d.RepeatMax == nil {
		unlimited := -1
		d.RepeatMax = &unlimited
	}
	if d.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			d.Hostname = h
		}
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	for i := range c.Checks {
		c.Checks[i].Method = strings.ToLower(strings.TrimSpace(c.Checks[i].Method))
	}
	for i := range c.Alerts {
		c.Alerts[i].Method = strings.ToLower(strings.TrimSpace(c.Alerts[i].Method))
	}
}

func validateConfig(c *Config) error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	for field, value := range map[string]string{
		"interval":        c.Defaults.Interval,
		"connect_timeout": c.Defaults.ConnectTimeout,
		"io_timeout":      c.Defaults.IOTimeout,
		"change_display":  c.Defaults.ChangeDisplay,
	} {
		if _, err := parseDuration(value, 0); err != nil {
			return fmt.Errorf("defaults.%s: %w", field, err)
		}
	}

	alerts := make(map[string]bool, len(c.Alerts))
	for i := range c.Alerts {
		a := &c.Alerts[i]
		if err := a.Validate(); err != nil {
			return fmt.Errorf("alert %q: %w", a.Name, err)
		}
		if alerts[a.Name] {
			return fmt.Errorf("alert %q: %w", a.Name, ErrDuplicateName)
		}
		alerts[a.Name] = true
	}

	if len(c.Checks) == 0 {
		return ErrNoChecks
	}
	checks := make(map[string]bool, len(c.Checks))
	for i := range c.Checks {
		ch := &c.Checks[i]
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("check %q: %w", ch.Name, err)
		}
		if checks[ch.Name] {
			return fmt.Errorf("check %q: %w", ch.Name, ErrDuplicateName)
		}
		checks[ch.Name] = true

		for _, ref := range ch.Alerts {
			if !alerts[ref.Name] {
				return fmt.Errorf("check %q: %w %q", ch.Name, ErrUnknownAlert, ref.Name)
			}
		}
	}
	return nil
}

// inferMethod settles the method from the populated blocks once parsing is
// done. Exactly one block must be present, and it must agree with an
// explicit method.
func inferMethod(explicit string, blocks map[string]bool) (string, error) {
	var present []string
	for name, set := range blocks {
		if set {
			present = append(present, name)
		}
	}

	switch {
	case len(present) > 1:
		return "", fmt.Errorf("%w: several method blocks set", ErrMethodAmbiguous)
	case len(present) == 0 && explicit == "":
		return "", fmt.Errorf("%w: no method block set", ErrMethodAmbiguous)
	case len(present) == 0:
		if _, known := blocks[explicit]; !known {
			return "", fmt.Errorf("unsupported method %q", explicit)
		}
		return explicit, nil
	case explicit != "" && explicit != present[0]:
		return "", fmt.Errorf("%w: method %q with %s block", ErrMethodMismatch, explicit, present[0])
	}
	return present[0], nil
}

// parseDuration accepts Go durations and bare integers meaning seconds. An
// empty value yields fallback.
func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	if _, err := strconv.Atoi(value); err == nil {
		value += "s"
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}
	return d, nil
}
