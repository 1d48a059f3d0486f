package checkers

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whiskeyjimbo/Watchman/internal/mailproto"
	"github.com/whiskeyjimbo/Watchman/internal/mailproto/mailtest"
	"go.uber.org/zap"
)

type fakeLoopMetrics struct {
	mu          sync.Mutex
	roundTrips  int
	outstanding map[string]int
}

func (f *fakeLoopMetrics) ObserveRoundTrip(string, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roundTrips++
}

func (f *fakeLoopMetrics) SetOutstanding(check string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outstanding == nil {
		f.outstanding = map[string]int{}
	}
	f.outstanding[check] = n
}

type loopFixture struct {
	smtp    *mailtest.SMTP
	pop3    *mailtest.POP3
	checker *LoopChecker
	metrics *fakeLoopMetrics
	clock   time.Time
}

func newLoopFixture(t *testing.T, mutate func(*LoopSettings)) *loopFixture {
	t.Helper()
	f := &loopFixture{
		smtp:    mailtest.NewSMTP(t),
		pop3:    mailtest.NewPOP3(t, "probe", "pw"),
		metrics: &fakeLoopMetrics{},
		clock:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	ls := LoopSettings{
		ID:           "relay1",
		SMTPServers:  f.smtp.Host + ":" + strconv.Itoa(f.smtp.Port),
		From:         "probe@example.com",
		To:           "loop@example.com",
		POP3Host:     f.pop3.Host,
		POP3Port:     strconv.Itoa(f.pop3.Port),
		POP3User:     "probe",
		POP3Password: "pw",
		SendEvery:    10,
		FailDelay:    15 * time.Minute,
		FailTimeout:  time.Hour,
	}
	if mutate != nil {
		mutate(&ls)
	}

	c, err := NewLoopChecker(Settings{
		Logger:         zap.NewNop().Sugar(),
		ConnectTimeout: 2 * time.Second,
		IOTimeout:      2 * time.Second,
		Hostname:       "watchman.test",
		Loop:           &ls,
		LoopMetrics:    f.metrics,
	})
	require.NoError(t, err)
	c.now = func() time.Time { return f.clock }
	f.checker = c
	return f
}

func (f *loopFixture) run() CheckResult {
	return f.checker.Check(context.Background(), Target{Name: "loop", Host: "mail"})
}

// bounce moves every probe accepted by the SMTP fake into the POP3 mailbox.
func (f *loopFixture) bounce(t *testing.T) {
	t.Helper()
	for _, msg := range f.smtp.Messages() {
		for _, line := range msg {
			if strings.HasPrefix(line, "Subject: ") {
				f.pop3.Deliver(strings.TrimPrefix(line, "Subject: "))
			}
		}
	}
}

func TestLoopChecker_RoundTrip(t *testing.T) {
	f := newLoopFixture(t, nil)

	res := f.run()
	require.Equal(t, Ok, res.Status, "error: %v", res.Error)
	require.Len(t, f.smtp.Messages(), 1)
	assert.Equal(t, 1, f.checker.Outstanding())
	assert.Equal(t, 1, f.metrics.outstanding["loop"])

	f.bounce(t)
	f.clock = f.clock.Add(time.Minute)

	res = f.run()
	require.Equal(t, Ok, res.Status, "error: %v", res.Error)
	assert.Len(t, f.smtp.Messages(), 1, "countdown prevents a second probe")
	assert.Equal(t, 0, f.checker.Outstanding())
	assert.Equal(t, 1, f.metrics.roundTrips)
	assert.Empty(t, f.pop3.Remaining())
}

func TestLoopChecker_Overdue(t *testing.T) {
	f := newLoopFixture(t, nil)

	require.Equal(t, Ok, f.run().Status)

	f.clock = f.clock.Add(20 * time.Minute)
	res := f.run()
	assert.Equal(t, Fail, res.Status)
	assert.ErrorIs(t, res.Error, ErrProbeOverdue)

	// aged out past fail_timeout: nothing left to be late
	f.clock = f.clock.Add(time.Hour)
	res = f.run()
	assert.Equal(t, Ok, res.Status, "error: %v", res.Error)
	assert.Equal(t, 0, f.checker.Outstanding())
}

func TestLoopChecker_SendRejected(t *testing.T) {
	f := newLoopFixture(t, nil)
	f.smtp.MailReply = "553 5.7.1 Sender address rejected"

	res := f.run()
	assert.Equal(t, Unknown, res.Status)
	assert.ErrorIs(t, res.Error, mailproto.ErrSenderRejected)
	assert.Equal(t, 0, f.checker.Outstanding())
	assert.Contains(t, f.pop3.Commands(), "STAT", "mailbox is read even when sending fails")
}

func TestLoopChecker_SendRejectedIgnoresLateProbes(t *testing.T) {
	f := newLoopFixture(t, func(ls *LoopSettings) { ls.SendEvery = 1 })

	require.Equal(t, Ok, f.run().Status)
	f.smtp.MailReply = "553 5.7.1 Sender address rejected"
	f.clock = f.clock.Add(20 * time.Minute)

	res := f.run()
	assert.Equal(t, Unknown, res.Status)
	assert.ErrorIs(t, res.Error, mailproto.ErrSenderRejected)
}

func TestLoopChecker_ReceiveFailure(t *testing.T) {
	tests := []struct {
		name       string
		configured Status
		want       Status
	}{
		{name: "default", configured: Undefined, want: Unknown},
		{name: "configured fail", configured: Fail, want: Fail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLoopFixture(t, func(ls *LoopSettings) {
				ls.POP3Password = "wrong"
				ls.ReceiveFailStatus = tt.configured
			})

			res := f.run()
			assert.Equal(t, tt.want, res.Status)
			assert.ErrorIs(t, res.Error, mailproto.ErrPasswordRejected)
		})
	}
}

func TestNewLoopChecker_Invalid(t *testing.T) {
	base := func() LoopSettings {
		return LoopSettings{ID: "x", SMTPServers: "127.0.0.1", POP3Host: "127.0.0.1"}
	}
	tests := []struct {
		name   string
		mutate func(*LoopSettings)
	}{
		{name: "missing id", mutate: func(ls *LoopSettings) { ls.ID = "" }},
		{name: "no smtp server", mutate: func(ls *LoopSettings) { ls.SMTPServers = "" }},
		{name: "delay above timeout", mutate: func(ls *LoopSettings) {
			ls.FailDelay = time.Hour
			ls.FailTimeout = time.Minute
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls := base()
			tt.mutate(&ls)
			_, err := NewLoopChecker(Settings{Logger: zap.NewNop().Sugar(), Loop: &ls})
			assert.Error(t, err)
		})
	}
}
