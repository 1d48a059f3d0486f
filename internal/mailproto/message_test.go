package mailproto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(m Message, name string) (string, bool) {
	prefix := strings.ToLower(name) + ":"
	for _, h := range m.Headers {
		if strings.HasPrefix(strings.ToLower(h), prefix) {
			return strings.TrimSpace(h[len(prefix):]), true
		}
	}
	return "", false
}

func TestCompose_PlainText(t *testing.T) {
	msg, err := Compose(Content{
		From:    "probe@example.com",
		To:      "ops@example.com",
		Subject: "disk is full",
		Text:    "hello",
	}, "watchman.test")
	require.NoError(t, err)

	subject, ok := header(msg, "Subject")
	require.True(t, ok)
	assert.Equal(t, "disk is full", subject)

	id, ok := header(msg, "Message-ID")
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(id, "@watchman.test>"), id)

	mailer, ok := header(msg, "X-Mailer")
	require.True(t, ok)
	assert.Equal(t, "Watchman", mailer)

	assert.Contains(t, strings.Join(msg.Body, "\n"), "hello")
}

func TestCompose_Alternative(t *testing.T) {
	msg, err := Compose(Content{
		From:    "probe@example.com",
		To:      "ops@example.com",
		Subject: "status",
		Text:    "plain part",
		HTML:    "<p>html part</p>",
	}, "")
	require.NoError(t, err)

	ct, ok := header(msg, "Content-Type")
	require.True(t, ok)
	assert.Contains(t, ct, "multipart/alternative")

	body := strings.Join(msg.Body, "\n")
	assert.Contains(t, body, "plain part")
	assert.Contains(t, body, "<p>html part</p>")

	id, _ := header(msg, "Message-ID")
	assert.True(t, strings.HasSuffix(id, "@localhost>"), id)
}

func TestProbeMessage(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ref := "WATCHMAN:loop1:1709294400-000001-000002:WATCHMAN"

	msg, err := ProbeMessage(Envelope{From: "probe@example.com", To: "loop@example.com"}, ref, now)
	require.NoError(t, err)

	subject, ok := header(msg, "Subject")
	require.True(t, ok)
	assert.Equal(t, ref, subject)
	_, ok = header(msg, "Date")
	assert.True(t, ok)
}

func TestSplitMessage(t *testing.T) {
	msg, err := splitMessage("A: 1\r\nB: 2\r\n\r\nline one\r\nline two\r\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"A: 1", "B: 2"}, msg.Headers)
	assert.Equal(t, []string{"line one", "line two"}, msg.Body)

	_, err = splitMessage("no separator")
	assert.Error(t, err)
}
