package monitor

import (
	"strings"
	"time"

	"github.com/whiskeyjimbo/Watchman/internal/alerts"
	"github.com/whiskeyjimbo/Watchman/internal/checkers"
	"github.com/whiskeyjimbo/Watchman/internal/subst"
)

const (
	DefaultHistoryLength = 15
	DefaultChangeDisplay = 23 * time.Hour

	timestampLayout = "2006-01-02 15:04:05"
)

// History keeps the last N statuses, oldest first. Its length never
// changes after creation.
type History struct {
	statuses []checkers.Status
}

func NewHistory(n int) *History {
	if n <= 0 {
		n = DefaultHistoryLength
	}
	return &History{statuses: make([]checkers.Status, n)}
}

// Push drops the oldest status and appends s.
func (h *History) Push(s checkers.Status) {
	copy(h.statuses, h.statuses[1:])
	h.statuses[len(h.statuses)-1] = s
}

func (h *History) Len() int {
	return len(h.statuses)
}

func (h *History) String() string {
	var b strings.Builder
	b.Grow(len(h.statuses))
	for _, s := range h.statuses {
		b.WriteByte(s.Code())
	}
	return b.String()
}

// Check is one monitored target and its live state. Only the scheduler
// goroutine touches it.
type Check struct {
	Name     string
	Host     string
	Method   checkers.Method
	Checker  checkers.Checker
	Bindings []*alerts.Binding
	Tags     []string

	Status      checkers.Status
	PrevStatus  checkers.Status
	Consecutive int
	History     *History
	LastChange  time.Time
	AlertInfo   time.Time

	showChange bool
}

func NewCheck(name, host string, checker checkers.Checker, historyLength int) *Check {
	return &Check{
		Name:    name,
		Host:    host,
		Method:  checker.Method(),
		Checker: checker,
		History: NewHistory(historyLength),
	}
}

// apply folds the status of one cycle into the check.
func (c *Check) apply(status checkers.Status, now time.Time) {
	c.PrevStatus = c.Status
	c.Status = status

	if status != c.PrevStatus && c.PrevStatus != checkers.Undefined {
		c.LastChange = now
		c.showChange = true
	}
	if c.PrevStatus == checkers.Undefined || c.PrevStatus.IsOk() != status.IsOk() {
		c.AlertInfo = now
	}

	c.History.Push(status)
	if status.IsOk() {
		c.Consecutive = 0
	} else {
		c.Consecutive++
	}
}

// lastChangeDisplay returns the formatted last change, or "" once it is
// older than ttl.
func (c *Check) lastChangeDisplay(now time.Time, ttl time.Duration) string {
	if c.showChange && now.Sub(c.LastChange) > ttl {
		c.showChange = false
	}
	if !c.showChange {
		return ""
	}
	return c.LastChange.Format(timestampLayout)
}

func (c *Check) loopCount() int {
	if lc, ok := c.Checker.(interface{ Outstanding() int }); ok {
		return lc.Outstanding()
	}
	return 0
}

func (c *Check) view() subst.CheckView {
	return subst.CheckView{
		DisplayName: c.Name,
		Host:        c.Host,
		Status:      c.Status.String(),
		StatusNum:   c.Status.Num(),
		Consecutive: c.Consecutive,
		AlertSince:  c.AlertInfo,
		LoopCount:   c.loopCount(),
	}
}

func (c *Check) subject() alerts.Subject {
	return alerts.Subject{
		Name:        c.Name,
		Host:        c.Host,
		Status:      c.Status,
		PrevStatus:  c.PrevStatus,
		Consecutive: c.Consecutive,
		AlertSince:  c.AlertInfo,
		LoopCount:   c.loopCount(),
		Tags:        c.Tags,
	}
}
