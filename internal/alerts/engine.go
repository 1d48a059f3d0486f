// Package alerts decides, cycle after cycle, when a check's bound alerts
// fire: threshold crossing, repeats, recovery and retry of failed
// deliveries.
package alerts

import (
	"context"
	"time"

	"github.com/whiskeyjimbo/Watchman/internal/checkers"
	"github.com/whiskeyjimbo/Watchman/internal/notifications"
	"github.com/whiskeyjimbo/Watchman/internal/rules"
	"github.com/whiskeyjimbo/Watchman/internal/subst"
	"go.uber.org/zap"
)

// DeliveryMetrics counts alert deliveries by outcome.
type DeliveryMetrics interface {
	AlertDelivered(alert string, ok bool)
}

// Subject is the check state an evaluation looks at.
type Subject struct {
	Name        string
	Host        string
	Status      checkers.Status
	PrevStatus  checkers.Status
	Consecutive int
	AlertSince  time.Time
	LoopCount   int
	Tags        []string
}

func (s Subject) view() subst.CheckView {
	return subst.CheckView{
		DisplayName: s.Name,
		Host:        s.Host,
		Status:      s.Status.String(),
		StatusNum:   s.Status.Num(),
		Consecutive: s.Consecutive,
		AlertSince:  s.AlertSince,
		LoopCount:   s.LoopCount,
	}
}

type Outcome struct {
	Class   Class
	Fired   bool
	Retry   bool
	Skipped bool
	Err     error
}

type Engine struct {
	logger      *zap.SugaredLogger
	metrics     DeliveryMetrics
	markUnknown bool
	now         func() time.Time
}

func NewEngine(logger *zap.SugaredLogger, metrics DeliveryMetrics, markUnknown bool) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{logger: logger, metrics: metrics, markUnknown: markUnknown, now: time.Now}
}

// Classify derives the escalation class of a status transition.
func Classify(status, prev checkers.Status) Class {
	switch {
	case status != checkers.Ok:
		return FailClass
	case prev != checkers.Ok && prev != checkers.Undefined:
		return Recovery
	default:
		return Nothing
	}
}

// EvaluateAll runs Evaluate for every binding in order.
func (e *Engine) EvaluateAll(ctx context.Context, subj Subject, bindings []*Binding) []Outcome {
	outcomes := make([]Outcome, 0, len(bindings))
	for _, b := range bindings {
		outcomes = append(outcomes, e.Evaluate(ctx, subj, b))
	}
	return outcomes
}

// Evaluate advances one binding by one cycle and delivers the alert when
// it fires. Delivery errors are absorbed into the binding's retry state.
func (e *Engine) Evaluate(ctx context.Context, subj Subject, b *Binding) Outcome {
	class := Classify(subj.Status, subj.PrevStatus)
	out := Outcome{Class: class}
	logger := e.logger.With("check", subj.Name, "alert", b.Alert.Name)

	pass, err := b.Alert.Filter.Evaluate(rules.EvaluationParams{
		Name:        subj.Name,
		Host:        subj.Host,
		Status:      subj.Status.String(),
		Consecutive: subj.Consecutive,
		Downtime:    e.streakAge(subj),
		Tags:        subj.Tags,
	})
	if err != nil {
		logger.Warnw("alert filter failed, binding considered", "error", err)
	} else if !pass {
		out.Skipped = true
		return out
	}

	ctl := &b.Control
	fireClass := class

	if ctl.NbFailures > 0 && ctl.NbFailures <= b.Alert.Retries {
		switch {
		case ctl.pending == FailClass && class == FailClass:
			out.Retry = true
		case ctl.pending == Recovery && class != FailClass:
			out.Retry = true
			fireClass = Recovery
		default:
			ctl.NbFailures = 0
			ctl.pending = Nothing
		}
	}

	fire := out.Retry
	if !fire {
		switch class {
		case FailClass:
			fire = e.failTriggered(subj.Consecutive, b)
		case Recovery:
			fire = ctl.Status == FailClass && b.recovery()
		}
		if fire {
			ctl.Sequence++
		}
	}

	if !fire {
		if class != FailClass {
			ctl.reset()
		}
		return out
	}

	out.Fired = true
	out.Class = fireClass
	out.Err = e.deliver(ctx, subj, b, fireClass, logger)
	return out
}

func (e *Engine) failTriggered(consecutive int, b *Binding) bool {
	threshold := b.threshold()
	if consecutive == threshold {
		return true
	}
	every := b.repeatEvery()
	if every <= 0 || consecutive <= threshold || (consecutive-threshold)%every != 0 {
		return false
	}
	limit := b.repeatMax()
	return limit < 0 || b.Control.Sequence <= limit
}

func (e *Engine) deliver(ctx context.Context, subj Subject, b *Binding, class Class, logger *zap.SugaredLogger) error {
	ctl := &b.Control
	now := e.now()

	tokens := subst.Tokens(subj.view(), &subst.AlertView{
		Name:       b.Alert.Name,
		Method:     string(b.Alert.Method),
		Status:     class.String(),
		StatusNum:  class.Num(),
		Seq:        ctl.Sequence,
		NbFailures: ctl.NbFailures,
	}, now)

	err := b.Alert.Notifier.SendNotification(ctx, notifications.Notification{
		Alert:  b.Alert.Name,
		Check:  subj.Name,
		Host:   subj.Host,
		Status: subj.Status.String(),
		Class:  class.String(),
		Level:  notifications.GetLevel(class.String(), subj.Status.String()),
		Tokens: tokens,
	})
	if e.metrics != nil {
		e.metrics.AlertDelivered(b.Alert.Name, err == nil)
	}

	if err != nil {
		ctl.NbFailures++
		ctl.pending = class
		if ctl.NbFailures > b.Alert.Retries {
			logger.Errorw("giving up alert delivery",
				"class", class.String(), "attempts", ctl.NbFailures, "error", err)
			ctl.NbFailures = 0
			ctl.pending = Nothing
			if class == Recovery {
				ctl.Status = Nothing
				ctl.Sequence = 0
			}
			return err
		}
		logger.Warnw("alert delivery failed, will retry",
			"class", class.String(), "attempts", ctl.NbFailures, "retries", b.Alert.Retries, "error", err)
		return err
	}

	logger.Infow("alert fired",
		"class", class.String(), "status", subj.Status.String(),
		"consecutive", subj.Consecutive, "sequence", ctl.Sequence)
	ctl.NbFailures = 0
	ctl.pending = Nothing
	if class == FailClass {
		ctl.Status = FailClass
	} else {
		ctl.Status = Nothing
		ctl.Sequence = 0
	}
	return nil
}

func (e *Engine) streakAge(subj Subject) time.Duration {
	if subj.AlertSince.IsZero() {
		return 0
	}
	return e.now().Sub(subj.AlertSince)
}
