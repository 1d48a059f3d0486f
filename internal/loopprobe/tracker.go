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

// Package loopprobe keeps the bookkeeping of mail round-trip probes that
// were sent and are waiting to come back.
package loopprobe

import (
	"time"

	"go.uber.org/zap"
)

const (
	growStep       = 60
	compactionHead = 10
)

type State int

const (
	None State = iota
	Sent
	Received
)

func (s State) String() string {
	switch s {
	case Sent:
		return "sent"
	case Received:
		return "received"
	default:
		return "none"
	}
}

type Probe struct {
	Reference string
	SentAt    time.Time
	// ReceivedAt is zero until the probe is matched.
	ReceivedAt time.Time
	State      State
}

// Tracker holds outstanding probes in send order. Live entries are
// entries[head:tail]; the backing array grows in fixed steps and is shifted
// down once enough retired entries accumulate at the head.
//
// Tracker is owned by a single loop check and is not safe for concurrent use.
type Tracker struct {
	entries []Probe
	head    int
	tail    int
	logger  *zap.SugaredLogger

	// OnReceived observes the round-trip time of every matched probe.
	OnReceived func(rtt time.Duration)
}

func NewTracker(logger *zap.SugaredLogger) *Tracker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Tracker{logger: logger}
}

// RecordSent appends a probe. A sent time earlier than the newest entry is
// clamped so entries stay ordered by sent time.
func (t *Tracker) RecordSent(reference string, sentAt time.Time) {
	if t.tail > t.head {
		if last := t.entries[t.tail-1].SentAt; sentAt.Before(last) {
			sentAt = last
		}
	}
	if t.tail == len(t.entries) {
		t.entries = append(t.entries, make([]Probe, growStep)...)
	}
	t.entries[t.tail] = Probe{Reference: reference, SentAt: sentAt, State: Sent}
	t.tail++
}

// MarkReceived flags the most recent Sent probe matching reference. It
// reports false for an orphan confirmation.
func (t *Tracker) MarkReceived(reference string, at time.Time) bool {
	for i := t.tail - 1; i >= t.head; i-- {
		p := &t.entries[i]
		if p.State != Sent || !BelongsToMe(p.Reference, reference) {
			continue
		}
		p.State = Received
		p.ReceivedAt = at
		if t.OnReceived != nil {
			t.OnReceived(at.Sub(p.SentAt))
		}
		t.logger.Debugw("loop probe received", "reference", reference, "sent_at", p.SentAt, "rtt", at.Sub(p.SentAt))
		return true
	}
	t.logger.Infow("orphan loop confirmation", "reference", reference)
	return false
}

// Sweep clears Sent probes older than failTimeout. Entries are ordered by
// send time, so the walk stops at the first Sent probe still in time.
func (t *Tracker) Sweep(now time.Time, failTimeout time.Duration) int {
	cleared := 0
	for i := t.head; i < t.tail; i++ {
		p := &t.entries[i]
		if p.State != Sent {
			continue
		}
		if now.Sub(p.SentAt) < failTimeout {
			break
		}
		t.logger.Debugw("loop probe timed out", "reference", p.Reference, "sent_at", p.SentAt)
		p.State = None
		cleared++
	}
	return cleared
}

// Compact retires resolved probes from the head and shifts the live window
// back to index zero once the head has drifted far enough.
func (t *Tracker) Compact() {
	for t.head < t.tail && t.entries[t.head].State != Sent {
		t.entries[t.head] = Probe{}
		t.head++
	}
	if t.head == t.tail {
		t.head, t.tail = 0, 0
		return
	}
	if t.head > compactionHead {
		n := copy(t.entries, t.entries[t.head:t.tail])
		clear(t.entries[n:t.tail])
		t.head, t.tail = 0, n
	}
}

// HasUnresolvedBefore reports whether some Sent probe is late enough to be a
// failure (age >= failDelay) but not yet aged out (age < failTimeout).
func (t *Tracker) HasUnresolvedBefore(now time.Time, failTimeout, failDelay time.Duration) bool {
	for i := t.head; i < t.tail; i++ {
		p := t.entries[i]
		if p.State != Sent {
			continue
		}
		age := now.Sub(p.SentAt)
		if age >= failDelay && age < failTimeout {
			return true
		}
	}
	return false
}

// Outstanding counts probes still waiting for their confirmation.
func (t *Tracker) Outstanding() int {
	n := 0
	for i := t.head; i < t.tail; i++ {
		if t.entries[i].State == Sent {
			n++
		}
	}
	return n
}

// Len is the size of the live window, resolved entries included.
func (t *Tracker) Len() int {
	return t.tail - t.head
}

// Probes returns a copy of the live window, oldest first.
func (t *Tracker) Probes() []Probe {
	out := make([]Probe, t.tail-t.head)
	copy(out, t.entries[t.head:t.tail])
	return out
}
