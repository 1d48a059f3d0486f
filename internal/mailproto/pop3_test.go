package mailproto

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whiskeyjimbo/Watchman/internal/loopprobe"
	"github.com/whiskeyjimbo/Watchman/internal/mailproto/mailtest"
	"github.com/whiskeyjimbo/Watchman/internal/netline"
)

type recordingReceiver struct {
	known    map[string]bool
	received []string
}

func (r *recordingReceiver) MarkReceived(reference string, _ time.Time) bool {
	r.received = append(r.received, reference)
	return r.known[reference]
}

func accountOf(p *mailtest.POP3, password string) Account {
	return Account{Host: p.Host, Port: strconv.Itoa(p.Port), User: p.User, Password: password, Mode: netline.Plain}
}

func TestFetchAndMatch(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sent := loopprobe.NewReference("loop1", now)
	orphan := loopprobe.NewReference("loop1", now.Add(-time.Hour))
	otherLoop := loopprobe.NewReference("other", now)

	fake := mailtest.NewPOP3(t, "probe", "s3cret")
	fake.Deliver("Weekly newsletter")
	fake.Deliver(sent)
	fake.Deliver(otherLoop)
	fake.Deliver(orphan)

	rcv := &recordingReceiver{known: map[string]bool{sent: true}}
	pattern := loopprobe.NewReference("loop1", now.Add(time.Minute))

	result, err := testClient().FetchAndMatch(context.Background(), accountOf(fake, "s3cret"), pattern, rcv)
	require.NoError(t, err)

	assert.Equal(t, FetchResult{Messages: 4, Matched: 1, Orphans: 1, Deleted: 2}, result)
	assert.Equal(t, []string{sent, orphan}, rcv.received)
	assert.Equal(t, []string{"Weekly newsletter", otherLoop}, fake.Remaining())
	assert.Contains(t, fake.Commands(), "TOP 1 0")
	assert.Equal(t, "QUIT", fake.Commands()[len(fake.Commands())-1])
}

func TestFetchAndMatch_EmptyMailbox(t *testing.T) {
	fake := mailtest.NewPOP3(t, "probe", "pw")
	rcv := &recordingReceiver{}

	result, err := testClient().FetchAndMatch(context.Background(), accountOf(fake, "pw"), "WATCHMAN:x:0:WATCHMAN", rcv)
	require.NoError(t, err)
	assert.Equal(t, FetchResult{}, result)
	assert.Empty(t, rcv.received)
}

func TestFetchAndMatch_Failures(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		stat     string
		wantErr  error
	}{
		{name: "user rejected", user: "intruder", password: "pw", wantErr: ErrUserRejected},
		{name: "password rejected", user: "probe", password: "wrong", wantErr: ErrPasswordRejected},
		{name: "malformed stat", user: "probe", password: "pw", stat: "+OK lots", wantErr: ErrStat},
		{name: "negative stat", user: "probe", password: "pw", stat: "-ERR mailbox locked", wantErr: ErrStat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := mailtest.NewPOP3(t, "probe", "pw")
			fake.StatReply = tt.stat
			acct := accountOf(fake, tt.password)
			acct.User = tt.user

			_, err := testClient().FetchAndMatch(context.Background(), acct, "WATCHMAN:x:0:WATCHMAN", &recordingReceiver{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFetchAndMatch_InvalidPort(t *testing.T) {
	acct := Account{Host: "127.0.0.1", Port: "pop", User: "u", Password: "p"}
	_, err := testClient().FetchAndMatch(context.Background(), acct, "x", &recordingReceiver{})
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestAccountPortDefaults(t *testing.T) {
	port, err := accountPort(Account{Mode: netline.Plain})
	require.NoError(t, err)
	assert.Equal(t, DefaultPOP3Port, port)

	port, err = accountPort(Account{Mode: netline.TLS})
	require.NoError(t, err)
	assert.Equal(t, DefaultPOP3SPort, port)
}

func TestParseStat(t *testing.T) {
	n, err := parseStat("+OK 3 4512")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, bad := range []string{"+OK", "+OK x 1", "+OK 1 y", "-ERR 1 2", "+OK -1 0"} {
		_, err := parseStat(bad)
		assert.ErrorIs(t, err, ErrStat, bad)
	}
}

func TestRedactPassword(t *testing.T) {
	assert.Equal(t, "PASS ****", RedactPassword("PASS hunter2"))
	assert.Equal(t, "pass ****", RedactPassword("pass hunter2"))
	assert.Equal(t, "USER probe", RedactPassword("USER probe"))
}
