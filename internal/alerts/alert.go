package alerts

import (
	"fmt"

	"github.com/whiskeyjimbo/Watchman/internal/notifications"
	"github.com/whiskeyjimbo/Watchman/internal/rules"
)

// Class is the escalation class of a status transition.
type Class int

const (
	Nothing Class = iota
	FailClass
	Recovery
)

func (c Class) String() string {
	switch c {
	case Nothing:
		return "nothing"
	case FailClass:
		return "fail"
	case Recovery:
		return "recovery"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

func (c Class) Num() int {
	return int(c)
}

// Alert is one notification channel with its escalation policy.
type Alert struct {
	Name   string
	Method notifications.NotificationType

	Threshold   int
	RepeatEvery int
	// RepeatMax caps repeats; -1 means unlimited.
	RepeatMax int
	Recovery  bool
	Retries   int

	Filter   *rules.Filter
	Notifier notifications.Notifier
}

// Overrides are per check settings that win over the alert's own.
type Overrides struct {
	Threshold   *int
	RepeatEvery *int
	RepeatMax   *int
	Recovery    *bool
}

// Control is the mutable escalation record of one (check, alert) pair.
type Control struct {
	Status     Class
	Sequence   int
	NbFailures int
	// pending is the class of the last failed delivery, retried while
	// NbFailures is within the alert's retries.
	pending Class
}

func (c *Control) reset() {
	*c = Control{}
}

type Binding struct {
	Alert     *Alert
	Overrides Overrides
	Control   Control
}

func (b *Binding) threshold() int {
	t := b.Alert.Threshold
	if b.Overrides.Threshold != nil {
		t = *b.Overrides.Threshold
	}
	if t < 1 {
		t = 1
	}
	return t
}

func (b *Binding) repeatEvery() int {
	if b.Overrides.RepeatEvery != nil {
		return *b.Overrides.RepeatEvery
	}
	return b.Alert.RepeatEvery
}

func (b *Binding) repeatMax() int {
	if b.Overrides.RepeatMax != nil {
		return *b.Overrides.RepeatMax
	}
	return b.Alert.RepeatMax
}

func (b *Binding) recovery() bool {
	if b.Overrides.Recovery != nil {
		return *b.Overrides.Recovery
	}
	return b.Alert.Recovery
}
