package mailproto

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whiskeyjimbo/Watchman/internal/mailproto/mailtest"
	"github.com/whiskeyjimbo/Watchman/internal/netline"
	"go.uber.org/zap"
)

func testClient() *Client {
	return NewClient(netline.Options{
		ConnectTimeout: 2 * time.Second,
		IOTimeout:      2 * time.Second,
	}, zap.NewNop().Sugar())
}

func serverOf(s *mailtest.SMTP) Server {
	return Server{Host: s.Host, Port: s.Port, Mode: netline.Plain}
}

func testMessage() Message {
	return Message{
		Headers: []string{"From: probe@example.com", "To: ops@example.com", "Subject: hello"},
		Body:    []string{"first line", ".starts with a dot", "last line"},
	}
}

func TestSend_Success(t *testing.T) {
	fake := mailtest.NewSMTP(t)
	env := Envelope{From: "Probe <probe@example.com>", To: "ops@example.com, dev@example.com", Helo: "watchman.test"}

	receipt, err := testClient().Send(context.Background(), serverOf(fake), env, testMessage())
	require.NoError(t, err)

	assert.Equal(t, "ABC123", receipt.QueueID)
	assert.Equal(t, []string{"ops@example.com", "dev@example.com"}, receipt.Accepted)
	assert.Empty(t, receipt.Rejected)

	cmds := fake.Commands()
	assert.Equal(t, []string{
		"EHLO watchman.test",
		"MAIL FROM:<probe@example.com>",
		"RCPT TO:<ops@example.com>",
		"RCPT TO:<dev@example.com>",
		"DATA",
		"QUIT",
	}, cmds)

	msgs := fake.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{
		"From: probe@example.com",
		"To: ops@example.com",
		"Subject: hello",
		"",
		"first line",
		"..starts with a dot",
		"last line",
	}, msgs[0])
}

func TestSend_PartialRecipients(t *testing.T) {
	fake := mailtest.NewSMTP(t)
	fake.RcptReply = func(addr string) string {
		if strings.HasPrefix(addr, "nobody") {
			return "550 5.1.1 User unknown"
		}
		return "251 2.1.5 Will forward"
	}
	env := Envelope{From: "probe@example.com", To: "nobody@example.com, ops@example.com"}

	receipt, err := testClient().Send(context.Background(), serverOf(fake), env, testMessage())
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@example.com"}, receipt.Accepted)
	assert.Equal(t, []string{"nobody@example.com"}, receipt.Rejected)
	assert.Contains(t, fake.Commands(), "EHLO localhost")
}

func TestSend_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*mailtest.SMTP)
		wantErr error
	}{
		{
			name:    "bad greeting",
			setup:   func(s *mailtest.SMTP) { s.Greeting = "554 go away" },
			wantErr: ErrBadGreeting,
		},
		{
			name:    "sender rejected",
			setup:   func(s *mailtest.SMTP) { s.MailReply = "553 5.7.1 Sender address rejected" },
			wantErr: ErrSenderRejected,
		},
		{
			name: "no recipient",
			setup: func(s *mailtest.SMTP) {
				s.RcptReply = func(string) string { return "550 5.1.1 User unknown" }
			},
			wantErr: ErrNoRecipientAccepted,
		},
		{
			name:    "data rejected",
			setup:   func(s *mailtest.SMTP) { s.DataReply = "554 5.5.1 No valid recipients" },
			wantErr: ErrDataRejected,
		},
		{
			name:    "reception not confirmed",
			setup:   func(s *mailtest.SMTP) { s.EndReply = "451 4.3.0 Try again later" },
			wantErr: ErrReceptionNotConfirmed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := mailtest.NewSMTP(t)
			tt.setup(fake)
			env := Envelope{From: "probe@example.com", To: "ops@example.com"}

			_, err := testClient().Send(context.Background(), serverOf(fake), env, testMessage())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSend_ConnectionRefused(t *testing.T) {
	srv := Server{Host: "127.0.0.1", Port: mailtest.ClosedPort(t), Mode: netline.Plain}
	_, err := testClient().Send(context.Background(), srv, Envelope{From: "a@b", To: "c@d"}, testMessage())
	assert.ErrorIs(t, err, netline.ErrNetIO)
	assert.ErrorIs(t, err, netline.ErrConnect)
}

func TestSendVia_FallsBackToNextServer(t *testing.T) {
	broken := mailtest.NewSMTP(t)
	broken.MailReply = "421 4.3.2 Service shutting down"
	working := mailtest.NewSMTP(t)
	env := Envelope{From: "probe@example.com", To: "ops@example.com"}

	receipt, err := testClient().SendVia(context.Background(),
		[]Server{serverOf(broken), serverOf(working)}, env, testMessage())
	require.NoError(t, err)
	assert.Equal(t, serverOf(working).String(), receipt.Server)
	assert.Empty(t, broken.Messages())
	assert.Len(t, working.Messages(), 1)
}

func TestSendVia_ReturnsLastError(t *testing.T) {
	first := mailtest.NewSMTP(t)
	first.MailReply = "553 rejected"
	second := mailtest.NewSMTP(t)
	second.DataReply = "554 no"
	env := Envelope{From: "probe@example.com", To: "ops@example.com"}

	_, err := testClient().SendVia(context.Background(), []Server{serverOf(first), serverOf(second)}, env, testMessage())
	assert.ErrorIs(t, err, ErrDataRejected)

	_, err = testClient().SendVia(context.Background(), nil, env, testMessage())
	assert.Error(t, err)
}

func TestQueueID(t *testing.T) {
	tests := []struct {
		answer string
		want   string
	}{
		{answer: "250 2.0.0 Ok: queued as 4F3A21", want: "4F3A21"},
		{answer: "250 OK id=1abc Queued As <XYZ>", want: "XYZ"},
		{answer: "250 Ok", want: ""},
		{answer: "250 queued as", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			assert.Equal(t, tt.want, queueID(tt.answer))
		})
	}
}
