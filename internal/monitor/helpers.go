package monitor

import (
	"github.com/whiskeyjimbo/Watchman/internal/checkers"
	"go.uber.org/zap"
)

func logCheckResult(logger *zap.SugaredLogger, c *Check, res checkers.CheckResult) {
	l := logger.With(
		"check", c.Name,
		"host", c.Host,
		"method", c.Method,
		"status", c.Status.String(),
		"consecutive", c.Consecutive,
		"latency_ms", res.ResponseTime.Milliseconds(),
	)

	switch {
	case res.Error != nil && c.Status == checkers.Ok:
		l.Debugw("check passed with warning", "error", res.Error)
	case res.Error != nil:
		l.Warnw("check failed", "error", res.Error)
	case c.Status != checkers.Ok:
		l.Warn("check failed")
	case c.PrevStatus != checkers.Ok:
		l.Info("check ok")
	default:
		l.Debug("check ok")
	}
}

// cronLogger routes robfig/cron messages through zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
