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

package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/whiskeyjimbo/Watchman/internal/alerts"
	"github.com/whiskeyjimbo/Watchman/internal/checkers"
	"github.com/whiskeyjimbo/Watchman/internal/metrics"
	"github.com/whiskeyjimbo/Watchman/internal/subst"
	"go.uber.org/zap"
)

const DefaultInterval = time.Minute

type Options struct {
	Interval      time.Duration
	ChangeDisplay time.Duration
}

// Scheduler evaluates every check in order once per interval, then runs
// the alert engine on it, then publishes a snapshot. Cycles never overlap.
type Scheduler struct {
	logger  *zap.SugaredLogger
	checks  []*Check
	engine  *alerts.Engine
	metrics *metrics.PrometheusMetrics
	opts    Options

	snapshot  atomic.Pointer[Snapshot]
	cycle     uint64
	listeners []func(*Snapshot)

	cron    *cron.Cron
	running sync.WaitGroup
	now     func() time.Time
}

func NewScheduler(logger *zap.SugaredLogger, checks []*Check, engine *alerts.Engine, m *metrics.PrometheusMetrics, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ChangeDisplay <= 0 {
		opts.ChangeDisplay = DefaultChangeDisplay
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if engine == nil {
		engine = alerts.NewEngine(logger, nil, false)
	}
	return &Scheduler{
		logger:  logger,
		checks:  checks,
		engine:  engine,
		metrics: m,
		opts:    opts,
		now:     time.Now,
	}
}

// OnCycle registers fn to be called with every published snapshot. It must
// be called before Start.
func (s *Scheduler) OnCycle(fn func(*Snapshot)) {
	s.listeners = append(s.listeners, fn)
}

// Snapshot returns the last published cycle, nil before the first one.
func (s *Scheduler) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

func (s *Scheduler) Start(ctx context.Context) error {
	logger := cronLogger{s.logger}
	s.cron = cron.New(cron.WithLogger(logger))
	job := cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(func() {
		s.RunCycle(ctx)
	}))

	schedule := "@every " + s.opts.Interval.String()
	if _, err := s.cron.AddJob(schedule, job); err != nil {
		return fmt.Errorf("failed to schedule cycle %q: %w", schedule, err)
	}
	s.cron.Start()

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		job.Run()
	}()

	s.logger.Infow("scheduler started", "checks", len(s.checks), "interval", s.opts.Interval)
	return nil
}

// Stop prevents further cycles and waits for the running one to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.running.Wait()
}

// RunCycle evaluates all checks once. A cancelled context abandons the
// cycle without publishing it.
func (s *Scheduler) RunCycle(ctx context.Context) *Snapshot {
	start := s.now()

	for _, c := range s.checks {
		if ctx.Err() != nil {
			s.logger.Infow("cycle interrupted", "cycle", s.cycle+1)
			return s.Snapshot()
		}
		s.runCheck(ctx, c)
	}

	s.cycle++
	end := s.now()
	snap := takeSnapshot(s.cycle, end, s.checks, s.opts.ChangeDisplay)
	s.snapshot.Store(snap)

	if s.metrics != nil {
		s.metrics.ObserveCycle(end.Sub(start))
	}
	for _, fn := range s.listeners {
		fn(snap)
	}
	return snap
}

func (s *Scheduler) runCheck(ctx context.Context, c *Check) {
	now := s.now()
	res := c.Checker.Check(ctx, checkers.Target{
		Name:   c.Name,
		Host:   c.Host,
		Tokens: subst.Tokens(c.view(), nil, now),
	})
	if ctx.Err() != nil {
		return
	}

	c.apply(res.Status, now)
	logCheckResult(s.logger, c, res)

	if s.metrics != nil {
		s.metrics.UpdateCheck(metrics.CheckLabels{
			Name:   c.Name,
			Host:   c.Host,
			Method: string(c.Method),
		}, c.Status, c.Consecutive, res.ResponseTime)
	}

	s.engine.EvaluateAll(ctx, c.subject(), c.Bindings)
}
